package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/internal/results"
	"github.com/park285/dicey-decisions/internal/roomstore"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rooms.Ping(r.Context()); err != nil {
		obslog.L().Warn("health_redis_error", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, decisiondto.HealthResponse{Status: "degraded", Redis: "down"})
		return
	}
	writeJSON(w, http.StatusOK, decisiondto.HealthResponse{Status: "ok", Redis: "up"})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.RoomsForUser(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisiondto.RoomsResponse{Rooms: rooms})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req decisiondto.CreateRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user := userFrom(r.Context())
	room, err := s.rooms.CreateRoom(r.Context(), roomstore.CreateRoomInput{
		Title:           req.Title,
		Description:     req.Description,
		MaxParticipants: req.MaxParticipants,
		CreatorID:       user.ID,
		CreatorName:     user.Name,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RoomCreated()
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req decisiondto.JoinRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user := userFrom(r.Context())
	name := req.DisplayName
	if name == "" {
		name = user.Name
	}
	res, err := s.rooms.JoinRoom(r.Context(), req.Code, name, user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Joined {
		s.metrics.Joined()
	}
	writeJSON(w, http.StatusOK, decisiondto.JoinResponse{Room: *res.Room, Joined: res.Joined})
}

// handleGetRoom returns the caller's view of the room: vote choices stay
// hidden until the room is resolved.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if err := s.requireParticipant(r, roomID); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.rooms.Snapshot(r.Context(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results.ClientView(snap))
}

func (s *Server) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.CloseRoom(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleAddOption(w http.ResponseWriter, r *http.Request) {
	var req decisiondto.OptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opt, err := s.rooms.AddOption(r.Context(), chi.URLParam(r, "id"), req.Text, userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, opt)
}

func (s *Server) handleEditOption(w http.ResponseWriter, r *http.Request) {
	var req decisiondto.OptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opt, err := s.rooms.EditOption(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "optionID"), req.Text, userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opt)
}

func (s *Server) handleRemoveOption(w http.ResponseWriter, r *http.Request) {
	err := s.rooms.RemoveOption(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "optionID"), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartVoting(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.StartVoting(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleStopVoting(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.StopVoting(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req decisiondto.VoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	vote, err := s.rooms.CastVote(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()).ID, req.OptionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.VoteCast()
	writeJSON(w, http.StatusCreated, vote)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		http.NotFound(w, r)
		return
	}
	if err := s.feed.Serve(w, r, chi.URLParam(r, "id"), userFrom(r.Context()).ID); err != nil {
		s.writeError(w, r, err)
	}
}

func (s *Server) requireParticipant(r *http.Request, roomID string) error {
	ok, err := s.rooms.IsParticipant(r.Context(), roomID, userFrom(r.Context()).ID)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.rooms.GetRoom(r.Context(), roomID); err != nil {
			return err
		}
		return errNotParticipant
	}
	return nil
}
