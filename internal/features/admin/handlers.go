package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/features/ledger"
	"serotonyl.ru/bidpoints/internal/features/members"
)

// Handler ведёт админ-диалог в личных сообщениях.
// Поток: пароль → клавиатура → выбор действия → пошаговый ввод.
// Для опытных есть короткие команды /award и /close.
type Handler struct {
	service *Service
	members *members.Service
	bot     common.Sender
}

func NewHandler(service *Service, membersSvc *members.Service, bot common.Sender) *Handler {
	return &Handler{service: service, members: membersSvc, bot: bot}
}

func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func isAdminTrigger(text string) bool {
	switch firstWord(text) {
	case "/admin", "/award", "/close", "админ", "панель":
		return true
	}
	switch text {
	case ButtonAward, ButtonCloseJob, ButtonLogout:
		return true
	}
	return false
}

// HandleAdminMessage обрабатывает сообщение администратора в личке.
// Возвращает false, если сообщение не относится к админке и его нужно обработать дальше.
func (h *Handler) HandleAdminMessage(ctx context.Context, chatID int64, userID, text string) bool {
	if !h.service.IsAdmin(userID) {
		return false
	}
	text = strings.TrimSpace(text)
	state := h.service.GetState(userID)

	if state != nil && state.Name == StateAwaitingPassword {
		h.handlePasswordInput(ctx, chatID, userID, text)
		return true
	}
	if state == nil && !isAdminTrigger(text) {
		return false
	}

	if !h.service.HasActiveSession(ctx, userID) {
		common.SendText(h.bot, chatID, "🔐 Введите пароль для доступа к админ-панели:")
		h.service.SetState(userID, State{Name: StateAwaitingPassword})
		return true
	}

	if state != nil && text != ButtonLogout {
		switch state.Name {
		case StateAwardUser:
			h.handleAwardUser(ctx, chatID, userID, text)
			return true
		case StateAwardAmount:
			h.handleAwardAmount(ctx, chatID, userID, state.TargetUser, text)
			return true
		case StateCloseJob:
			h.handleCloseJobID(chatID, userID, text)
			return true
		case StateCloseWinners:
			h.handleCloseWinners(ctx, chatID, userID, state.JobID, text)
			return true
		}
	}

	fields := strings.Fields(text)
	switch cmd := firstWord(text); {
	case text == ButtonAward:
		common.SendText(h.bot, chatID, "Кому начислить? Отправьте @username или ID пользователя:")
		h.service.SetState(userID, State{Name: StateAwardUser})
	case text == ButtonCloseJob:
		common.SendText(h.bot, chatID, "Отправьте ID вакансии:")
		h.service.SetState(userID, State{Name: StateCloseJob})
	case text == ButtonLogout:
		if err := h.service.Logout(ctx, userID); err != nil {
			log.WithError(err).Error("Ошибка выхода из админ-панели")
		}
		msg := tgbotapi.NewMessage(chatID, "👋 Сессия завершена")
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
		if _, err := h.bot.Send(msg); err != nil {
			log.WithError(err).Error("Ошибка отправки сообщения")
		}
	case cmd == "/award":
		if len(fields) < 3 {
			common.SendText(h.bot, chatID, "❌ Формат: /award <@username|ID> <баллы> [review|job_application] [причина]")
			return true
		}
		target, err := h.members.Resolve(ctx, fields[1])
		if err != nil {
			common.SendText(h.bot, chatID, "❌ Пользователь не найден")
			return true
		}
		h.award(ctx, chatID, userID, target, strings.Join(fields[2:], " "))
	case cmd == "/close":
		if len(fields) < 2 {
			common.SendText(h.bot, chatID, "❌ Формат: /close <вакансия> [победители...]")
			return true
		}
		h.closeJob(ctx, chatID, userID, fields[1], fields[2:])
	default:
		h.showKeyboard(chatID)
	}
	return true
}

func (h *Handler) handlePasswordInput(ctx context.Context, chatID int64, userID, password string) {
	h.service.ClearState(userID)
	if err := h.service.Login(ctx, userID, password); err != nil {
		if common.IsExpected(err) {
			common.SendText(h.bot, chatID, "❌ "+err.Error())
		} else {
			log.WithError(err).Error("Ошибка входа в админ-панель")
			common.SendText(h.bot, chatID, "❌ Ошибка входа, попробуйте позже")
		}
		return
	}
	common.SendText(h.bot, chatID, "✅ Аутентификация успешна!")
	h.showKeyboard(chatID)
}

func (h *Handler) showKeyboard(chatID int64) {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonAward),
			tgbotapi.NewKeyboardButton(ButtonCloseJob),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonLogout),
		),
	)

	msg := tgbotapi.NewMessage(chatID, "✅ Админ-панель открыта")
	msg.ReplyMarkup = keyboard
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки клавиатуры")
	}
}

// --- Начислить баллы (2 шага) ---

func (h *Handler) handleAwardUser(ctx context.Context, chatID int64, userID, text string) {
	target, err := h.members.Resolve(ctx, text)
	if err != nil {
		common.SendText(h.bot, chatID, "❌ Пользователь не найден. Попробуйте ещё раз.")
		return
	}
	common.SendText(h.bot, chatID, fmt.Sprintf("Сколько баллов начислить %s? Можно добавить источник и причину: «100 job_application отклик на вакансию»", target))
	h.service.SetState(userID, State{Name: StateAwardAmount, TargetUser: target})
}

func (h *Handler) handleAwardAmount(ctx context.Context, chatID int64, userID, target, text string) {
	h.award(ctx, chatID, userID, target, text)
}

// award разбирает «<баллы> [источник] [причина]» и начисляет.
func (h *Handler) award(ctx context.Context, chatID int64, adminID, target, text string) {
	amountStr, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	points, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil || points < 1 {
		common.SendText(h.bot, chatID, "❌ Количество баллов должно быть положительным числом")
		return
	}
	source, reason := parseAwardSource(rest)

	rec, err := h.service.Award(ctx, adminID, target, points, source, reason)
	h.service.ClearState(adminID)
	if errors.Is(err, common.ErrInvalidKind) {
		common.SendText(h.bot, chatID, "❌ Источник начисления: review или job_application")
		return
	}
	if err != nil {
		log.WithError(err).WithField("user_id", target).Error("Ошибка начисления баллов")
		common.SendText(h.bot, chatID, "❌ Не удалось начислить баллы")
		return
	}
	common.SendText(h.bot, chatID, fmt.Sprintf("✅ %s начислено %s\nБаланс: %s",
		target, common.FormatPoints(points), common.FormatPoints(rec.Balance)))
}

// parseAwardSource отделяет источник, если причина начинается с известного источника.
func parseAwardSource(text string) (ledger.Source, string) {
	first, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	if src := ledger.Source(strings.ToLower(first)); src.Valid() {
		return src, strings.TrimSpace(rest)
	}
	return "", strings.TrimSpace(text)
}

// --- Закрыть вакансию (2 шага) ---

func (h *Handler) handleCloseJobID(chatID int64, userID, text string) {
	jobID := strings.TrimSpace(text)
	if jobID == "" {
		common.SendText(h.bot, chatID, "❌ Пустой ID вакансии")
		return
	}
	common.SendText(h.bot, chatID, "Отправьте победителей через пробел (@username или ID), либо «-», если победителей нет:")
	h.service.SetState(userID, State{Name: StateCloseWinners, JobID: jobID})
}

func (h *Handler) handleCloseWinners(ctx context.Context, chatID int64, userID, jobID, text string) {
	var refs []string
	if strings.TrimSpace(text) != "-" {
		refs = strings.Fields(text)
	}
	h.closeJob(ctx, chatID, userID, jobID, refs)
}

func (h *Handler) closeJob(ctx context.Context, chatID int64, adminID, jobID string, refs []string) {
	winners := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, err := h.members.Resolve(ctx, ref)
		if err != nil {
			common.SendText(h.bot, chatID, fmt.Sprintf("❌ Пользователь %s не найден", ref))
			return
		}
		winners = append(winners, id)
	}

	res, err := h.service.CloseJob(ctx, adminID, jobID, winners)
	h.service.ClearState(adminID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		common.SendText(h.bot, chatID, "❌ Вакансия не найдена")
	case errors.Is(err, common.ErrBusy):
		common.SendText(h.bot, chatID, "⏳ Вакансия занята, повторите через пару секунд")
	case err != nil:
		log.WithError(err).WithField("job_id", jobID).Error("Ошибка закрытия вакансии")
		common.SendText(h.bot, chatID, "❌ Не удалось закрыть вакансию")
	default:
		common.SendText(h.bot, chatID, fmt.Sprintf("✅ Вакансия %s закрыта\n🏆 Выиграли: %d\n📉 Проиграли: %d",
			jobID, res.Won, res.Lost))
	}
}
