package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/park285/dicey-decisions/internal/archive"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/results"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
)

var errNotParticipant = fmt.Errorf("%w: not a participant of this room", domain.ErrPermission)

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	rep, err := s.results.Report(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	rep, err := s.results.Finalize(r.Context(), roomID, userFrom(r.Context()).ID)
	s.writeSettled(w, r, roomID, rep, err)
}

func (s *Server) handleTiebreak(w http.ResponseWriter, r *http.Request) {
	var req decisiondto.TiebreakRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	method, err := parseMethod(req.Method)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	roomID := chi.URLParam(r, "id")
	rep, err := s.results.Tiebreak(r.Context(), roomID, userFrom(r.Context()).ID, method)
	s.writeSettled(w, r, roomID, rep, err)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req decisiondto.ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var method *domain.TiebreakMethod
	if req.Method != nil {
		m, err := parseMethod(*req.Method)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		method = &m
	}
	roomID := chi.URLParam(r, "id")
	rep, err := s.results.Resolve(r.Context(), roomID, userFrom(r.Context()).ID, req.OptionID, method)
	s.writeSettled(w, r, roomID, rep, err)
}

func (s *Server) writeSettled(w http.ResponseWriter, r *http.Request, roomID string, rep *results.Report, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	room, err := s.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisiondto.SettleResponse{Room: *room, Report: *rep})
}

// handleOutcomes lists the caller's archived decisions. Without an archive the
// list is empty.
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive number", domain.ErrValidation))
			return
		}
		limit = n
	}
	out := []archive.Outcome{}
	if s.outcomes != nil {
		list, err := s.outcomes.RecentOutcomes(r.Context(), userFrom(r.Context()).ID, limit)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: outcome archive: %w", domain.ErrTransient, err))
			return
		}
		out = append(out, list...)
	}
	writeJSON(w, http.StatusOK, decisiondto.OutcomesResponse{Outcomes: out})
}

func parseMethod(raw string) (domain.TiebreakMethod, error) {
	m, ok := domain.ParseTiebreakMethod(raw)
	if !ok {
		return "", fmt.Errorf("%w: unknown tiebreak method %q", domain.ErrValidation, raw)
	}
	return m, nil
}
