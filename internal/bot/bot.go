// Package bot содержит Telegram-фронтенд: polling, разбор команд и маршрутизацию к обработчикам.
package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/bot/middleware"
	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/config"
	"serotonyl.ru/bidpoints/internal/features/admin"
	"serotonyl.ru/bidpoints/internal/features/bidding"
	"serotonyl.ru/bidpoints/internal/features/ledger"
	"serotonyl.ru/bidpoints/internal/features/members"
	"serotonyl.ru/bidpoints/internal/metrics"
)

const helpText = `👋 Привет! Здесь копятся баллы за отзывы и ставятся ставки на вакансии.

/points - баланс и активные ставки
/history - история баллов
/bid <вакансия> <баллы> - поставить баллы на вакансию
/cancel <вакансия> - отменить ставку и вернуть баллы
/bids <вакансия> - очередь ставок по вакансии
/university <название> - указать университет`

// Handlers: обработчики фич, которые подключает бот.
type Handlers struct {
	Members *members.Handler
	Ledger  *ledger.Handler
	Bidding *bidding.Handler
	Admin   *admin.Handler
}

// Bot: главная структура бота, объединяющая все компоненты.
type Bot struct {
	api    *tgbotapi.BotAPI
	sender common.Sender
	cfg    *config.Config

	rateLimiter *middleware.RateLimiter
	members     *members.Service
	handlers    Handlers
	parser      *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт бота поверх готового клиента Telegram API.
func New(api *tgbotapi.BotAPI, cfg *config.Config, membersSvc *members.Service, handlers Handlers) *Bot {
	b := newBot(api, cfg, membersSvc, handlers)
	b.api = api
	return b
}

func newBot(sender common.Sender, cfg *config.Config, membersSvc *members.Service, handlers Handlers) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	return &Bot{
		sender:      sender,
		cfg:         cfg,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		members:     membersSvc,
		handlers:    handlers,
		parser:      NewCommandParser(),
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram. Блокируется до отмены ctx.
func (b *Bot) Start(ctx context.Context) {
	defer b.rateLimiter.Close()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"bot":          b.api.Self.UserName,
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic(update.UpdateID)

	message := update.Message
	if message == nil || message.From == nil || message.Chat == nil || message.Text == "" {
		return
	}

	middleware.LogMessage(message)

	userID := common.TelegramUserID(message.From.ID)
	if !b.rateLimiter.Allow(userID) {
		log.WithField("user_id", userID).Debug("rate limited")
		return
	}

	chatID := message.Chat.ID
	private := message.Chat.IsPrivate()

	profile := members.Profile{
		UserID:   userID,
		Username: message.From.UserName,
		FullName: members.FullNameOf(message.From.FirstName, message.From.LastName),
	}
	if private {
		profile.ChatID = chatID
	}
	if err := b.members.Touch(ctx, profile); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось обновить участника")
	}

	// В личке сначала даём шанс админ-панели
	if private && b.handlers.Admin != nil {
		if b.handlers.Admin.HandleAdminMessage(ctx, chatID, userID, message.Text) {
			metrics.RecordCommand("admin")
			return
		}
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}
	b.routeCommand(ctx, chatID, userID, cmd, args)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID int64, userID, cmd string, args []string) {
	log.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("routing command")

	switch cmd {
	case "start", "help":
		common.SendText(b.sender, chatID, helpText)
	case "points", "баллы":
		b.handlers.Bidding.HandlePoints(ctx, chatID, userID)
		cmd = "points"
	case "history", "история":
		b.handlers.Ledger.HandleHistory(ctx, chatID, userID)
		cmd = "history"
	case "bid", "ставка":
		b.handlers.Bidding.HandleBid(ctx, chatID, userID, args)
		cmd = "bid"
	case "cancel", "отмена":
		b.handlers.Bidding.HandleCancel(ctx, chatID, userID, args)
		cmd = "cancel"
	case "bids", "ставки":
		b.handlers.Bidding.HandleJobBids(ctx, chatID, args)
		cmd = "bids"
	case "university", "вуз":
		b.handlers.Members.HandleUniversity(ctx, chatID, userID, args)
		cmd = "university"
	default:
		cmd = "unknown"
	}
	metrics.RecordCommand(cmd)
}

// CommandParser парсит команды с префиксами /, ! и .
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!", "."},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Суффикс @botname в группах отбрасывается: /bid@points_bot → bid.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command, _, _ := strings.Cut(strings.ToLower(parts[0]), "@")
	if command == "" {
		return "", nil, false
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
