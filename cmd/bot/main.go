// Package main запускает сервис баллов и ставок.
// Загружает конфигурацию, инициализирует приложение и запускает HTTP API и бота.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/app"
	"serotonyl.ru/bidpoints/internal/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	setupLogging("text", "info")

	log.Info("=== Сервис запускается ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}
	setupLogging(cfg.AppLogFormat, cfg.AppLogLevel)

	// Контекст отменяется по Ctrl+C или docker stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.Close()

	if err := application.Scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("Не удалось запустить планировщик")
	}
	defer application.Scheduler.Stop()

	var wg sync.WaitGroup

	if application.HTTP != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.WithField("addr", application.HTTP.Addr).Info("HTTP API слушает")
			if err := application.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("HTTP сервер упал")
				stop()
			}
		}()
	}

	if application.Bot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			application.Bot.Start(ctx)
		}()
	}

	log.Info("=== Сервис готов к работе ===")

	<-ctx.Done()
	log.Info("Получен сигнал остановки, завершаем работу...")

	if application.HTTP != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := application.HTTP.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP сервер остановлен с ошибкой")
		}
		cancel()
	}
	wg.Wait()

	log.Info("=== Сервис остановлен ===")
}

// setupLogging настраивает формат и уровень логов.
func setupLogging(format, level string) {
	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	log.SetOutput(os.Stdout)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
