package domain

import (
	"strings"
	"time"
)

// TiebreakMethod names the presentation used to settle a tie.
type TiebreakMethod string

const (
	TiebreakDice    TiebreakMethod = "dice"
	TiebreakSpinner TiebreakMethod = "spinner"
	TiebreakCoin    TiebreakMethod = "coin"
)

// ParseTiebreakMethod accepts the method names case-insensitively.
func ParseTiebreakMethod(s string) (TiebreakMethod, bool) {
	switch TiebreakMethod(strings.ToLower(strings.TrimSpace(s))) {
	case TiebreakDice:
		return TiebreakDice, true
	case TiebreakSpinner:
		return TiebreakSpinner, true
	case TiebreakCoin:
		return TiebreakCoin, true
	default:
		return "", false
	}
}

// Valid reports whether m is one of the known methods.
func (m TiebreakMethod) Valid() bool {
	switch m {
	case TiebreakDice, TiebreakSpinner, TiebreakCoin:
		return true
	default:
		return false
	}
}

// Room is a decision session. It is stored as JSON under room:<id>.
type Room struct {
	ID              string          `json:"id" msgpack:"id"`
	Code            string          `json:"code" msgpack:"code"`
	Title           string          `json:"title" msgpack:"title"`
	Description     string          `json:"description,omitempty" msgpack:"description"`
	MaxParticipants int             `json:"max_participants,omitempty" msgpack:"max_participants"`
	CreatorID       string          `json:"creator_id" msgpack:"creator_id"`
	VotingActive    bool            `json:"is_voting_active" msgpack:"is_voting_active"`
	FinalOptionID   *string         `json:"final_option_id,omitempty" msgpack:"final_option_id"`
	TiebreakerUsed  *TiebreakMethod `json:"tiebreaker_used,omitempty" msgpack:"tiebreaker_used"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty" msgpack:"resolved_at"`
	CreatedAt       time.Time       `json:"created_at" msgpack:"created_at"`
	Open            bool            `json:"is_open" msgpack:"is_open"`
}

// Resolved reports whether a final option has been persisted.
func (r *Room) Resolved() bool { return r != nil && r.ResolvedAt != nil }

// Participant is a membership record, unique per (room, user).
type Participant struct {
	RoomID      string    `json:"room_id" msgpack:"room_id"`
	UserID      string    `json:"user_id" msgpack:"user_id"`
	DisplayName string    `json:"display_name" msgpack:"display_name"`
	JoinedAt    time.Time `json:"joined_at" msgpack:"joined_at"`
}

// Option is a candidate choice. Seq is assigned per room on creation and
// defines the original option order.
type Option struct {
	ID          string    `json:"id" msgpack:"id"`
	RoomID      string    `json:"room_id" msgpack:"room_id"`
	Text        string    `json:"text" msgpack:"text"`
	SubmittedBy string    `json:"submitted_by" msgpack:"submitted_by"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
	Seq         int64     `json:"seq" msgpack:"seq"`
}

// Vote is one participant's choice, unique per (room, user).
type Vote struct {
	ID        string    `json:"id" msgpack:"id"`
	RoomID    string    `json:"room_id" msgpack:"room_id"`
	UserID    string    `json:"user_id" msgpack:"user_id"`
	OptionID  string    `json:"option_id,omitempty" msgpack:"option_id"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// NormalizeCode upper-cases a user supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
