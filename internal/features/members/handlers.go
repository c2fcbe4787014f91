package members

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/common"
)

// Handler обрабатывает команды профиля.
type Handler struct {
	service *Service
	bot     common.Sender
}

func NewHandler(service *Service, bot common.Sender) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleUniversity обрабатывает /university <название>.
func (h *Handler) HandleUniversity(ctx context.Context, chatID int64, userID string, args []string) {
	name := strings.Join(args, " ")
	if strings.TrimSpace(name) == "" {
		common.SendText(h.bot, chatID, "❌ Формат: /university Название университета")
		return
	}
	err := h.service.SetUniversity(ctx, userID, name)
	switch {
	case err == nil:
		common.SendText(h.bot, chatID, "🎓 Университет сохранён: "+strings.TrimSpace(name))
	case errors.Is(err, common.ErrInvalidAmount):
		common.SendText(h.bot, chatID, "❌ Слишком длинное название")
	case errors.Is(err, common.ErrNotFound):
		common.SendText(h.bot, chatID, "❌ Сначала напиши боту /start")
	default:
		log.WithError(err).WithField("user_id", userID).Error("Ошибка сохранения университета")
		common.SendText(h.bot, chatID, "❌ Не удалось сохранить университет")
	}
}
