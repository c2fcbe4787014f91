package bidding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/features/ledger"
)

// Handler обрабатывает команды /points, /bid, /cancel, /bids.
type Handler struct {
	service *Service
	bot     common.Sender
	loc     *time.Location
}

func NewHandler(service *Service, bot common.Sender, loc *time.Location) *Handler {
	return &Handler{service: service, bot: bot, loc: loc}
}

// errorText переводит ошибку движка в сообщение для пользователя.
func errorText(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidAmount):
		return "❌ Ставка должна быть не меньше 1 балла"
	case errors.Is(err, common.ErrInsufficientBalance):
		return "❌ Недостаточно баллов на счёте"
	case errors.Is(err, common.ErrDuplicateBid):
		return "❌ У тебя уже есть активная ставка на эту вакансию"
	case errors.Is(err, common.ErrInvalidState):
		return "❌ Ставка уже не активна"
	case errors.Is(err, common.ErrBusy):
		return "⏳ Сейчас много ставок на эту вакансию, попробуй через пару секунд"
	case errors.Is(err, common.ErrNotFound):
		return "❌ Не найдено"
	}
	return "❌ Внутренняя ошибка, попробуй позже"
}

// HandlePoints обрабатывает /points: баланс, последние операции и активные ставки.
//
//	💰 Баланс: 60 баллов
//	📌 Активные ставки: ...
func (h *Handler) HandlePoints(ctx context.Context, chatID int64, userID string) {
	snap, err := h.service.Account(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения счёта")
		common.SendText(h.bot, chatID, "❌ Ошибка получения баланса")
		return
	}
	common.SendText(h.bot, chatID, FormatSnapshot(snap, h.loc))
}

// FormatSnapshot рендерит снимок счёта для чата.
func FormatSnapshot(snap *AccountSnapshot, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 Баланс: %s\n", common.FormatPoints(snap.TotalPoints))

	var active []Bid
	for _, b := range snap.Bids {
		if b.Status == StatusActive {
			active = append(active, b)
		}
	}
	if len(active) > 0 {
		fmt.Fprintf(&sb, "\n📌 Активные ставки (%d):\n", len(active))
		for _, b := range active {
			fmt.Fprintf(&sb, "• %s: %s, место %d\n", b.JobID, common.FormatPoints(b.Points), b.Position)
		}
	}

	if len(snap.History) > 0 {
		sb.WriteString("\n")
		sb.WriteString(ledger.FormatHistory(snap.History, len(snap.History), loc))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// HandleBid обрабатывает /bid <вакансия> <баллы>.
func (h *Handler) HandleBid(ctx context.Context, chatID int64, userID string, args []string) {
	if len(args) < 2 {
		common.SendText(h.bot, chatID, "❌ Формат: /bid <вакансия> <баллы>")
		return
	}
	points, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		common.SendText(h.bot, chatID, "❌ Баллы должны быть целым числом")
		return
	}

	res, err := h.service.PlaceBid(ctx, userID, args[0], points)
	if err != nil {
		common.SendText(h.bot, chatID, errorText(err))
		return
	}
	common.SendText(h.bot, chatID, fmt.Sprintf(
		"✅ Ставка %s на %s принята\n🏁 Место в очереди: %d\n💰 Баланс: %s",
		common.FormatPoints(res.Bid.Points), res.Bid.JobID, res.Bid.Position, common.FormatPoints(res.Balance),
	))
}

// HandleCancel обрабатывает /cancel <вакансия>.
func (h *Handler) HandleCancel(ctx context.Context, chatID int64, userID string, args []string) {
	if len(args) < 1 {
		common.SendText(h.bot, chatID, "❌ Формат: /cancel <вакансия>")
		return
	}
	res, err := h.service.CancelBid(ctx, userID, args[0])
	if errors.Is(err, common.ErrNotFound) {
		common.SendText(h.bot, chatID, "❌ У тебя нет ставки на эту вакансию")
		return
	}
	if err != nil {
		common.SendText(h.bot, chatID, errorText(err))
		return
	}
	common.SendText(h.bot, chatID, fmt.Sprintf(
		"↩️ Ставка отменена, возвращено %s\n💰 Баланс: %s",
		common.FormatPoints(res.Refunded), common.FormatPoints(res.Balance),
	))
}

// HandleJobBids обрабатывает /bids <вакансия>.
func (h *Handler) HandleJobBids(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		common.SendText(h.bot, chatID, "❌ Формат: /bids <вакансия>")
		return
	}
	bids, err := h.service.GetJobBids(ctx, args[0])
	if errors.Is(err, common.ErrNotFound) {
		common.SendText(h.bot, chatID, "❌ Вакансия не найдена")
		return
	}
	if err != nil {
		common.SendText(h.bot, chatID, errorText(err))
		return
	}
	common.SendText(h.bot, chatID, FormatJobBids(args[0], bids))
}

// FormatJobBids рендерит очередь ставок.
func FormatJobBids(jobID string, bids []RankedBid) string {
	if len(bids) == 0 {
		return fmt.Sprintf("📭 На %s пока нет ставок", jobID)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏆 Очередь на %s (%d %s):\n", jobID, len(bids), common.PluralizeBids(len(bids)))
	for _, b := range bids {
		who := b.Name
		if who == "" {
			who = b.UserID
		}
		if b.University != "" {
			who += " (" + b.University + ")"
		}
		fmt.Fprintf(&sb, "%d. %s: %s\n", b.Position, who, common.FormatPoints(b.Points))
	}
	return strings.TrimRight(sb.String(), "\n")
}
