package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// RecoverFromPanic вызывается через defer в обработчике апдейта:
//
//	defer middleware.RecoverFromPanic(update.UpdateID)
func RecoverFromPanic(updateID int) {
	r := recover()
	if r == nil {
		return
	}
	log.WithFields(log.Fields{
		"component": "panic_recovery",
		"update_id": updateID,
		"panic":     fmt.Sprintf("%v", r),
		"stack":     string(debug.Stack()),
	}).Error("Паника при обработке апдейта, восстановлено")
}
