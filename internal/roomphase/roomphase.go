// Package roomphase derives the display phase of a room from a snapshot.
//
// The phase is never persisted. It is recomputed from the latest full
// snapshot every time one arrives, so the order in which realtime updates land
// does not matter.
package roomphase

import (
	"time"

	"github.com/park285/dicey-decisions/internal/domain"
)

// Phase is the derived display state of a room.
type Phase string

const (
	Lobby    Phase = "lobby"
	Voting   Phase = "voting"
	Resolved Phase = "resolved"
)

// Input is the subset of a room snapshot the classifier looks at.
type Input struct {
	VotingActive     bool
	ResolvedAt       *time.Time
	VoteCount        int
	ParticipantCount int
}

// Classify maps a snapshot to a phase. Rules are evaluated in order and the
// first match wins:
//
//  1. resolved_at present -> Resolved
//  2. voting active, every participant voted, at least one participant -> Resolved
//  3. voting active -> Voting
//  4. otherwise -> Lobby
//
// Rule 2 only affects what is displayed; it never writes resolved_at.
func Classify(in Input) Phase {
	if in.ResolvedAt != nil {
		return Resolved
	}
	if in.VotingActive && in.ParticipantCount > 0 && in.VoteCount >= in.ParticipantCount {
		return Resolved
	}
	if in.VotingActive {
		return Voting
	}
	return Lobby
}

// FromSnapshot extracts the classifier input. A nil snapshot yields the zero
// Input, which classifies as Lobby.
func FromSnapshot(s *domain.RoomSnapshot) Input {
	if s == nil {
		return Input{}
	}
	return Input{
		VotingActive:     s.Room.VotingActive,
		ResolvedAt:       s.Room.ResolvedAt,
		VoteCount:        len(s.Votes),
		ParticipantCount: len(s.Participants),
	}
}

// Of classifies a snapshot directly.
func Of(s *domain.RoomSnapshot) Phase { return Classify(FromSnapshot(s)) }

// AllVoted reports whether rule 2 holds, independent of resolved_at.
func AllVoted(in Input) bool {
	return in.VotingActive && in.ParticipantCount > 0 && in.VoteCount >= in.ParticipantCount
}
