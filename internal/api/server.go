// Package api реализует HTTP-фронтенд движка баллов и ставок.
// Личность пользователя приходит от внешнего шлюза в заголовке X-User-ID.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/features/admin"
	"serotonyl.ru/bidpoints/internal/features/bidding"
	"serotonyl.ru/bidpoints/internal/metrics"
)

const (
	headerUserID        = "X-User-ID"
	headerAdminPassword = "X-Admin-Password"
	maxBodyBytes        = 1 << 20
)

// Server: HTTP API сервер.
type Server struct {
	bidding        *bidding.Service
	admin          *admin.Service
	requestTimeout time.Duration
	metricsEnabled bool
}

// NewServer создаёт API сервер. admin может быть nil, тогда админские маршруты не монтируются.
func NewServer(biddingSvc *bidding.Service, adminSvc *admin.Service, requestTimeout time.Duration) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Server{bidding: biddingSvc, admin: adminSvc, requestTimeout: requestTimeout}
}

// EnableMetrics включает эндпоинт /metrics.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler возвращает chi-роутер со всеми маршрутами.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api/points", func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/", s.handleGetPoints)
		r.Get("/history", s.handleHistory)
		r.Post("/bid/{jobID}", s.handlePlaceBid)
		r.Delete("/bid/{jobID}", s.handleCancelBid)
		r.Get("/job/{jobID}/bids", s.handleJobBids)
	})

	if s.admin != nil {
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/points/{userID}/award", s.handleAward)
			r.Post("/jobs/{jobID}/close", s.handleCloseJob)
		})
	}

	return r
}

// requireUser отклоняет запросы без X-User-ID.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserID) == "" {
			writeFail(w, http.StatusUnauthorized, "missing "+headerUserID+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin проверяет X-Admin-Password по хешу Argon2id.
// Неудачные попытки считаются по адресу клиента, после лимита отвечаем 429.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := s.admin.Authorize(r.Context(), adminClient(r), r.Header.Get(headerAdminPassword))
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		log.WithError(err).WithFields(log.Fields{
			"remote":     r.RemoteAddr,
			"request_id": middleware.GetReqID(r.Context()),
		}).Warn("Отклонён запрос к админскому API")
		switch {
		case errors.Is(err, common.ErrTooManyAttempts):
			w.Header().Set("Retry-After", "3600")
			writeFail(w, http.StatusTooManyRequests, "too many failed attempts")
		case errors.Is(err, common.ErrWrongPassword):
			writeFail(w, http.StatusUnauthorized, "invalid admin credentials")
		default:
			writeError(w, r, err)
		}
	})
}

// adminClient: ключ журнала попыток. RemoteAddr уже переписан middleware.RealIP.
func adminClient(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "http:" + host
}

func userID(r *http.Request) string {
	return r.Header.Get(headerUserID)
}

// --- JSON-конверт ---

type envelope struct {
	Status  string `json:"status"` // success, fail, error
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Не удалось записать ответ")
	}
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: data})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Status: "fail", Message: message})
}

// writeError переводит ошибку движка в HTTP-статус.
// Неожиданные ошибки логируются, клиент получает общий текст.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeFail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrInsufficientBalance),
		errors.Is(err, common.ErrInvalidAmount),
		errors.Is(err, common.ErrInvalidKind):
		writeFail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrDuplicateBid), errors.Is(err, common.ErrInvalidState):
		writeFail(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeFail(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.WithError(err).WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("Ошибка обработки запроса")
		writeJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: "internal error"})
	}
}

// decodeBody читает JSON-тело запроса. Пустое тело допустимо.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeFail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
