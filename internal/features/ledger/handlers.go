package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/common"
)

// Сколько записей показываем в Telegram, чтобы не упереться в лимит длины сообщения.
const historyMessageLimit = 30

// Handler обрабатывает команду /history.
type Handler struct {
	service *Service
	bot     common.Sender
	loc     *time.Location
}

// NewHandler создаёт обработчик истории баллов.
func NewHandler(service *Service, bot common.Sender, loc *time.Location) *Handler {
	return &Handler{service: service, bot: bot, loc: loc}
}

// HandleHistory показывает историю начислений и списаний.
//
//	📜 История баллов:
//	+100 · отзыв · 01.02.2025 12:00
//	−40 · ставка на «Backend» · 01.02.2025 12:05
func (h *Handler) HandleHistory(ctx context.Context, chatID int64, userID string) {
	entries, err := h.service.History(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		common.SendText(h.bot, chatID, "📜 История пуста: баллов ещё не было")
		return
	}
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения истории")
		common.SendText(h.bot, chatID, "❌ Ошибка получения истории")
		return
	}
	if len(entries) == 0 {
		common.SendText(h.bot, chatID, "📜 История пуста")
		return
	}

	common.SendText(h.bot, chatID, FormatHistory(entries, historyMessageLimit, h.loc))
}

// FormatHistory рендерит последние limit записей для сообщения в чат.
func FormatHistory(entries []Entry, limit int, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString("📜 История баллов:\n")
	if len(entries) > limit {
		fmt.Fprintf(&sb, "(последние %d из %d)\n", limit, len(entries))
		entries = entries[len(entries)-limit:]
	}
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s · %s · %s\n",
			common.FormatPointsAmount(e.Amount), e.Description, common.FormatDateTime(e.CreatedAt, loc))
	}
	return strings.TrimRight(sb.String(), "\n")
}
