// Package results turns a room's votes into a decision: it reports the tally
// once results are visible and writes the final option, settling ties with
// the tiebreak resolver.
package results

import (
	"context"
	"fmt"
	"time"

	"github.com/park285/dicey-decisions/internal/archive"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/metrics"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/internal/roomphase"
	"github.com/park285/dicey-decisions/internal/tally"
	"github.com/park285/dicey-decisions/internal/tiebreak"
	"go.uber.org/zap"
)

// Store is the part of the room repository results needs.
type Store interface {
	tiebreak.Store
	Snapshot(ctx context.Context, roomID string) (*domain.RoomSnapshot, error)
}

// Archive receives every resolved outcome.
type Archive interface {
	SaveOutcome(ctx context.Context, o *archive.Outcome) error
}

// Report is what participants see on the results screen.
type Report struct {
	RoomID         string                 `json:"room_id"`
	Phase          roomphase.Phase        `json:"phase"`
	Tally          tally.Result           `json:"tally"`
	Tie            bool                   `json:"tie"`
	Participants   int                    `json:"participants"`
	FinalOptionID  *string                `json:"final_option_id,omitempty"`
	TiebreakerUsed *domain.TiebreakMethod `json:"tiebreaker_used,omitempty"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
}

func NewReport(snap *domain.RoomSnapshot) *Report {
	res := tally.FromSnapshot(snap)
	return &Report{
		RoomID:         snap.Room.ID,
		Phase:          roomphase.Of(snap),
		Tally:          res,
		Tie:            res.IsTie(),
		Participants:   len(snap.Participants),
		FinalOptionID:  snap.Room.FinalOptionID,
		TiebreakerUsed: snap.Room.TiebreakerUsed,
		ResolvedAt:     snap.Room.ResolvedAt,
	}
}

type Service struct {
	store    Store
	resolver *tiebreak.Resolver
	archive  Archive
	metrics  *metrics.Recorder
}

type Option func(*Service)

func WithResolver(r *tiebreak.Resolver) Option {
	return func(s *Service) {
		if r != nil {
			s.resolver = r
		}
	}
}

func WithArchive(a Archive) Option { return func(s *Service) { s.archive = a } }

func WithMetrics(m *metrics.Recorder) Option { return func(s *Service) { s.metrics = m } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = tiebreak.NewResolver(store)
	}
	return s
}

// Report returns the tally of a room. Results stay sealed until the room
// classifies as resolved.
func (s *Service) Report(ctx context.Context, roomID, actorID string) (*Report, error) {
	snap, err := s.participantSnapshot(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if roomphase.Of(snap) != roomphase.Resolved {
		return nil, fmt.Errorf("%w: results are hidden until everyone has voted", domain.ErrState)
	}
	return NewReport(snap), nil
}

// Finalize writes the unique winner. A tie needs Tiebreak instead.
func (s *Service) Finalize(ctx context.Context, roomID, actorID string) (*Report, error) {
	snap, err := s.settleable(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	res := tally.FromSnapshot(snap)
	winner, ok := res.Winner()
	if !ok {
		if len(res.Winners) == 0 {
			return nil, fmt.Errorf("%w: the room has no options", domain.ErrState)
		}
		return nil, fmt.Errorf("%w: the vote is tied, a tiebreaker is needed", domain.ErrState)
	}
	if _, err := s.store.ResolveRoom(ctx, roomID, actorID, winner.ID, nil); err != nil {
		return nil, err
	}
	return s.afterResolve(ctx, roomID, "")
}

// Tiebreak settles a tie by drawing among the tied options.
func (s *Service) Tiebreak(ctx context.Context, roomID, actorID string, method domain.TiebreakMethod) (*Report, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown tiebreaker %q", domain.ErrValidation, method)
	}
	snap, err := s.settleable(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	res := tally.FromSnapshot(snap)
	if !res.IsTie() {
		return nil, fmt.Errorf("%w: there is no tie to break", domain.ErrState)
	}
	if _, err := s.resolver.Resolve(ctx, roomID, actorID, res.Winners, method); err != nil {
		return nil, err
	}
	return s.afterResolve(ctx, roomID, string(method))
}

// Resolve commits a resolution chosen by a client, typically the result of a
// tiebreaker drawn on the client. Without a method the option must be the
// unique winner; with one it must belong to the tied winner set.
func (s *Service) Resolve(ctx context.Context, roomID, actorID, optionID string, method *domain.TiebreakMethod) (*Report, error) {
	if method != nil && !method.Valid() {
		return nil, fmt.Errorf("%w: unknown tiebreaker %q", domain.ErrValidation, *method)
	}
	snap, err := s.settleable(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	res := tally.FromSnapshot(snap)
	if !res.IsWinner(optionID) {
		return nil, fmt.Errorf("%w: that option did not get the most votes", domain.ErrValidation)
	}
	switch {
	case method == nil && res.IsTie():
		return nil, fmt.Errorf("%w: the vote is tied, choose a tiebreaker", domain.ErrValidation)
	case method != nil && !res.IsTie():
		return nil, fmt.Errorf("%w: there is no tie to break", domain.ErrValidation)
	}
	if _, err := s.store.ResolveRoom(ctx, roomID, actorID, optionID, method); err != nil {
		return nil, err
	}
	label := ""
	if method != nil {
		label = string(*method)
	}
	return s.afterResolve(ctx, roomID, label)
}

func (s *Service) participantSnapshot(ctx context.Context, roomID, actorID string) (*domain.RoomSnapshot, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: sign in to see results", domain.ErrAuth)
	}
	snap, err := s.store.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Participant(actorID); !ok {
		return nil, fmt.Errorf("%w: not a participant of this room", domain.ErrPermission)
	}
	return snap, nil
}

// settleable loads the room and checks that actorID may resolve it now: the
// creator once voting is open, everyone else once all votes are in.
func (s *Service) settleable(ctx context.Context, roomID, actorID string) (*domain.RoomSnapshot, error) {
	snap, err := s.participantSnapshot(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if snap.Room.Resolved() {
		return nil, fmt.Errorf("%w: room is already resolved", domain.ErrState)
	}
	switch roomphase.Of(snap) {
	case roomphase.Lobby:
		return nil, fmt.Errorf("%w: voting has not started", domain.ErrState)
	case roomphase.Voting:
		if actorID != snap.Room.CreatorID {
			return nil, fmt.Errorf("%w: only the room creator can end voting early", domain.ErrPermission)
		}
	}
	return snap, nil
}

func (s *Service) afterResolve(ctx context.Context, roomID, method string) (*Report, error) {
	s.metrics.Resolved(method)
	snap, err := s.store.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.archiveOutcome(ctx, snap)
	return NewReport(snap), nil
}

// archiveOutcome is best effort; the room is already resolved in Redis.
func (s *Service) archiveOutcome(ctx context.Context, snap *domain.RoomSnapshot) {
	if s.archive == nil {
		return
	}
	o, err := archive.FromSnapshot(snap)
	if err != nil {
		obslog.L().Warn("outcome_archive_skip", zap.String("room_id", snap.Room.ID), zap.Error(err))
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.archive.SaveOutcome(actx, o); err != nil {
		obslog.L().Error("outcome_archive_error", zap.String("room_id", o.RoomID), zap.Error(err))
		return
	}
	obslog.L().Info("outcome_archived", zap.String("room_id", o.RoomID), zap.String("option_id", o.FinalOptionID))
}

// IsSealed reports whether vote choices must be hidden from clients.
func IsSealed(snap *domain.RoomSnapshot) bool {
	return roomphase.Of(snap) != roomphase.Resolved
}

// ClientView returns the snapshot a participant may see.
func ClientView(snap *domain.RoomSnapshot) domain.RoomSnapshot {
	if snap == nil {
		return domain.RoomSnapshot{}
	}
	if IsSealed(snap) {
		return snap.Sealed()
	}
	return snap.Clone()
}
