package common

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// Sender: то, что нужно обработчикам от Telegram API. *tgbotapi.BotAPI подходит как есть.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SendText отправляет простое текстовое сообщение и логирует ошибку отправки.
func SendText(bot Sender, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := bot.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// TelegramUserID переводит Telegram ID в идентификатор пользователя ledger.
func TelegramUserID(id int64) string {
	return strconv.FormatInt(id, 10)
}
