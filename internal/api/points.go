package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/bidpoints/internal/features/ledger"
)

type placeBidRequest struct {
	Points int64 `json:"points"`
}

// GET /api/points
func (s *Server) handleGetPoints(w http.ResponseWriter, r *http.Request) {
	snap, err := s.bidding.Account(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, snap)
}

// GET /api/points/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.bidding.PointsHistory(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeSuccess(w, entries)
}

// POST /api/points/bid/{jobID}
func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.bidding.PlaceBid(r.Context(), userID(r), chi.URLParam(r, "jobID"), req.Points)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, res)
}

// DELETE /api/points/bid/{jobID}
func (s *Server) handleCancelBid(w http.ResponseWriter, r *http.Request) {
	res, err := s.bidding.CancelBid(r.Context(), userID(r), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, res)
}

// GET /api/points/job/{jobID}/bids
func (s *Server) handleJobBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.bidding.GetJobBids(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, bids)
}
