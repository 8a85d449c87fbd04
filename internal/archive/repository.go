// Package archive keeps resolved decisions in Postgres after the live room
// data in Redis has expired.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/tally"
)

const schema = `CREATE TABLE IF NOT EXISTS decision_outcomes (
    room_id           TEXT PRIMARY KEY,
    code              TEXT NOT NULL,
    title             TEXT NOT NULL,
    creator_id        TEXT NOT NULL,
    final_option_id   TEXT NOT NULL,
    final_option_text TEXT NOT NULL,
    tiebreaker        TEXT NOT NULL DEFAULT '',
    participant_ids   TEXT[] NOT NULL,
    total_votes       INTEGER NOT NULL,
    standings         JSONB NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    resolved_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS decision_outcomes_resolved_at_idx ON decision_outcomes (resolved_at DESC);`

// Standing is one option's final vote count.
type Standing struct {
	OptionID string `json:"option_id"`
	Text     string `json:"text"`
	Votes    int    `json:"votes"`
}

// Outcome is the archived record of a resolved room.
type Outcome struct {
	RoomID          string     `json:"room_id"`
	Code            string     `json:"code"`
	Title           string     `json:"title"`
	CreatorID       string     `json:"creator_id"`
	FinalOptionID   string     `json:"final_option_id"`
	FinalOptionText string     `json:"final_option_text"`
	Tiebreaker      string     `json:"tiebreaker,omitempty"`
	ParticipantIDs  []string   `json:"participant_ids"`
	TotalVotes      int        `json:"total_votes"`
	Standings       []Standing `json:"standings"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      time.Time  `json:"resolved_at"`
}

// FromSnapshot builds the archive record of a resolved room.
func FromSnapshot(snap *domain.RoomSnapshot) (*Outcome, error) {
	if snap == nil || !snap.Room.Resolved() || snap.Room.FinalOptionID == nil {
		return nil, fmt.Errorf("%w: room is not resolved", domain.ErrState)
	}
	final, ok := snap.Option(*snap.Room.FinalOptionID)
	if !ok {
		return nil, fmt.Errorf("final option %s missing from snapshot", *snap.Room.FinalOptionID)
	}
	res := tally.FromSnapshot(snap)
	o := &Outcome{
		RoomID:          snap.Room.ID,
		Code:            snap.Room.Code,
		Title:           snap.Room.Title,
		CreatorID:       snap.Room.CreatorID,
		FinalOptionID:   final.ID,
		FinalOptionText: final.Text,
		TotalVotes:      res.TotalVotes,
		CreatedAt:       snap.Room.CreatedAt,
		ResolvedAt:      *snap.Room.ResolvedAt,
	}
	if snap.Room.TiebreakerUsed != nil {
		o.Tiebreaker = string(*snap.Room.TiebreakerUsed)
	}
	for _, p := range snap.Participants {
		o.ParticipantIDs = append(o.ParticipantIDs, p.UserID)
	}
	for _, st := range res.Standings {
		o.Standings = append(o.Standings, Standing{OptionID: st.Option.ID, Text: st.Option.Text, Votes: st.Count})
	}
	return o, nil
}

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the outcome table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// SaveOutcome upserts o keyed by room id.
func (r *Repository) SaveOutcome(ctx context.Context, o *Outcome) error {
	if r == nil || r.db == nil || o == nil {
		return nil
	}
	standings, err := json.Marshal(o.Standings)
	if err != nil {
		return err
	}
	const q = `INSERT INTO decision_outcomes (
        room_id, code, title, creator_id, final_option_id, final_option_text,
        tiebreaker, participant_ids, total_votes, standings, created_at, resolved_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
      ON CONFLICT (room_id) DO UPDATE SET
        final_option_id=EXCLUDED.final_option_id,
        final_option_text=EXCLUDED.final_option_text,
        tiebreaker=EXCLUDED.tiebreaker,
        participant_ids=EXCLUDED.participant_ids,
        total_votes=EXCLUDED.total_votes,
        standings=EXCLUDED.standings,
        resolved_at=EXCLUDED.resolved_at`
	_, err = r.db.ExecContext(ctx, q,
		o.RoomID, o.Code, o.Title, o.CreatorID, o.FinalOptionID, o.FinalOptionText,
		o.Tiebreaker, pq.Array(o.ParticipantIDs), o.TotalVotes, string(standings),
		o.CreatedAt, o.ResolvedAt,
	)
	return err
}

// RecentOutcomes lists the newest outcomes userID took part in.
func (r *Repository) RecentOutcomes(ctx context.Context, userID string, limit int) ([]Outcome, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const q = `SELECT room_id, code, title, creator_id, final_option_id, final_option_text,
        tiebreaker, participant_ids, total_votes, standings, created_at, resolved_at
      FROM decision_outcomes
      WHERE $1 = ANY(participant_ids)
      ORDER BY resolved_at DESC
      LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var standings []byte
		if err := rows.Scan(
			&o.RoomID, &o.Code, &o.Title, &o.CreatorID, &o.FinalOptionID, &o.FinalOptionText,
			&o.Tiebreaker, pq.Array(&o.ParticipantIDs), &o.TotalVotes, &standings,
			&o.CreatedAt, &o.ResolvedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(standings, &o.Standings); err != nil {
			return nil, fmt.Errorf("decode standings of %s: %w", o.RoomID, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
