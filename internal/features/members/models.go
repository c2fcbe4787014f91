// Package members хранит профили пользователей: имя, @username, университет.
package members

import (
	"strings"
	"time"
)

// Member: профиль пользователя.
type Member struct {
	UserID     string // ID пользователя в маркетплейсе (для Telegram: числовой ID строкой)
	Username   string // @username без @ (может быть пустым)
	FullName   string // Имя и фамилия
	University string // Указывает сам пользователь командой /university
	ChatID     int64  // Личный чат с ботом, 0 если не писал боту
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Profile: данные, которые приходят из Telegram или от шлюза при обращении пользователя.
type Profile struct {
	UserID   string
	Username string
	FullName string
	ChatID   int64
}

// DisplayName возвращает отображаемое имя пользователя.
// Если есть имя: возвращает его, иначе @username, иначе ID.
func (m *Member) DisplayName() string {
	if name := strings.TrimSpace(m.FullName); name != "" {
		return name
	}
	if m.Username != "" {
		return "@" + m.Username
	}
	return m.UserID
}

// FullNameOf склеивает имя и фамилию из Telegram.
func FullNameOf(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
