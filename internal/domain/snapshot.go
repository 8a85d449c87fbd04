package domain

import (
	"sort"
)

// RoomSnapshot is the full state of a room at one point in time. Snapshots are
// values: every consumer derives its own state from them and never edits one
// in place. Rev grows with every committed change; a consumer holding a
// snapshot with a higher Rev can drop an older one.
type RoomSnapshot struct {
	Rev          int64         `json:"rev" msgpack:"rev"`
	Room         Room          `json:"room" msgpack:"room"`
	Participants []Participant `json:"participants" msgpack:"participants"`
	Options      []Option      `json:"options" msgpack:"options"`
	Votes        []Vote        `json:"votes" msgpack:"votes"`
}

// Participant returns the membership of userID, if any.
func (s *RoomSnapshot) Participant(userID string) (Participant, bool) {
	if s == nil {
		return Participant{}, false
	}
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// Option looks an option up by id.
func (s *RoomSnapshot) Option(id string) (Option, bool) {
	if s == nil {
		return Option{}, false
	}
	for _, o := range s.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// HasVoted reports whether userID already cast a vote.
func (s *RoomSnapshot) HasVoted(userID string) bool {
	if s == nil {
		return false
	}
	for _, v := range s.Votes {
		if v.UserID == userID {
			return true
		}
	}
	return false
}

// Sealed returns a copy whose votes no longer say which option they chose.
// Vote presence (who has voted) stays visible.
func (s RoomSnapshot) Sealed() RoomSnapshot {
	out := s.Clone()
	for i := range out.Votes {
		out.Votes[i].OptionID = ""
	}
	return out
}

// Clone deep-copies the slices and pointer fields of the snapshot.
func (s RoomSnapshot) Clone() RoomSnapshot {
	out := s
	out.Room = cloneRoom(s.Room)
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Options = append([]Option(nil), s.Options...)
	out.Votes = append([]Vote(nil), s.Votes...)
	return out
}

// Normalize orders participants by join time, options by Seq and votes by
// cast time so that snapshots assembled from unordered storage compare equal.
func (s *RoomSnapshot) Normalize() {
	sort.SliceStable(s.Participants, func(i, j int) bool {
		a, b := s.Participants[i], s.Participants[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})
	sort.SliceStable(s.Options, func(i, j int) bool { return s.Options[i].Seq < s.Options[j].Seq })
	sort.SliceStable(s.Votes, func(i, j int) bool {
		a, b := s.Votes[i], s.Votes[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.UserID < b.UserID
	})
}

func cloneRoom(r Room) Room {
	out := r
	if r.FinalOptionID != nil {
		v := *r.FinalOptionID
		out.FinalOptionID = &v
	}
	if r.TiebreakerUsed != nil {
		v := *r.TiebreakerUsed
		out.TiebreakerUsed = &v
	}
	if r.ResolvedAt != nil {
		v := *r.ResolvedAt
		out.ResolvedAt = &v
	}
	return out
}
