// Package admin реализует админ-панель в личке бота и проверка пароля для админского HTTP API.
// Админ начисляет баллы за отзывы и закрывает вакансии (ставки становятся won/lost).
package admin

import "time"

// Session: активная сессия администратора.
type Session struct {
	ID              int64
	UserID          string
	SessionToken    string
	AuthenticatedAt time.Time
	ExpiresAt       time.Time
	LastActivity    time.Time
	IsActive        bool
}

// State: состояние пошагового диалога с админом.
// Протухает через stateTTL.
type State struct {
	Name       string
	TargetUser string // выбранный пользователь для начисления
	JobID      string // выбранная вакансия для закрытия
	ExpiresAt  time.Time
}

// Возможные состояния админ-диалога
const (
	StateNone             = ""
	StateAwaitingPassword = "awaiting_password"
	StateAwardUser        = "award_user"   // ждём @username или ID получателя
	StateAwardAmount      = "award_amount" // ждём количество баллов и причину
	StateCloseJob         = "close_job"    // ждём ID вакансии
	StateCloseWinners     = "close_winners"
)

// Кнопки клавиатуры админ-панели
const (
	ButtonAward    = "Начислить баллы"
	ButtonCloseJob = "Закрыть вакансию"
	ButtonLogout   = "Выйти"
)
