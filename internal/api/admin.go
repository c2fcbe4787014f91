package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/bidpoints/internal/features/ledger"
)

type awardRequest struct {
	Points int64  `json:"points"`
	Source string `json:"source"` // review (по умолчанию) или job_application
	Reason string `json:"reason"`
}

type closeJobRequest struct {
	Winners []string `json:"winners"`
}

// adminActor: кто выполняет админское действие, для журнала.
func adminActor(r *http.Request) string {
	if id := userID(r); id != "" {
		return id
	}
	return "http"
}

// POST /api/admin/points/{userID}/award
func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.admin.Award(r.Context(), adminActor(r), chi.URLParam(r, "userID"), req.Points, ledger.Source(req.Source), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, rec)
}

// POST /api/admin/jobs/{jobID}/close
func (s *Server) handleCloseJob(w http.ResponseWriter, r *http.Request) {
	var req closeJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.admin.CloseJob(r.Context(), adminActor(r), chi.URLParam(r, "jobID"), req.Winners)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, res)
}
