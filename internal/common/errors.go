// errors.go определяет ошибки, общие для всех модулей.
// По ним обработчики (бот и HTTP) различают типы проблем и отвечают
// пользователю понятным сообщением. Сравнивать через errors.Is.

package common

import "errors"

// Ошибки леджера и аукциона
var (
	// ErrNotFound: нет счёта, ставки или вакансии
	ErrNotFound = errors.New("не найдено")
	// ErrInsufficientBalance: недостаточно баллов на счёте
	ErrInsufficientBalance = errors.New("недостаточно баллов на счёте")
	// ErrDuplicateBid: у пользователя уже есть активная ставка на эту вакансию
	ErrDuplicateBid = errors.New("активная ставка на эту вакансию уже есть")
	// ErrInvalidAmount: сумма меньше 1
	ErrInvalidAmount = errors.New("сумма должна быть не меньше 1")
	// ErrInvalidKind: недопустимый тип записи для начисления
	ErrInvalidKind = errors.New("недопустимый тип начисления")
	// ErrInvalidState: операция над неактивной ставкой
	ErrInvalidState = errors.New("ставка не активна")
	// ErrBusy: не удалось взять блокировку за отведённое число попыток
	ErrBusy = errors.New("вакансия занята, повторите позже")
)

// Ошибки админки
var (
	// ErrNotAdmin: пользователь не является администратором
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrWrongPassword: неверный пароль
	ErrWrongPassword = errors.New("неверный пароль")
	// ErrTooManyAttempts: слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
	// ErrSessionExpired: сессия истекла
	ErrSessionExpired = errors.New("сессия истекла, авторизуйтесь заново")
)

// IsExpected сообщает, относится ли ошибка к ожидаемым бизнес-ошибкам,
// которые можно показать пользователю как есть.
func IsExpected(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInsufficientBalance, ErrDuplicateBid, ErrInvalidAmount,
		ErrInvalidKind, ErrInvalidState, ErrBusy,
		ErrNotAdmin, ErrWrongPassword, ErrTooManyAttempts, ErrSessionExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
