// Package tiebreak settles ties among the top options of a room.
//
// Selection is a single uniform draw over the tied options. The method (dice,
// spinner, coin) is cosmetic and never changes the draw.
package tiebreak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/obslog"
	"go.uber.org/zap"
)

// Store is the part of the room repository the resolver writes through.
type Store interface {
	ResolveRoom(ctx context.Context, roomID, actorID, finalOptionID string, method *domain.TiebreakMethod) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
}

// Outcome is a committed tiebreak.
type Outcome struct {
	Choice domain.Option
	Method domain.TiebreakMethod
	Room   *domain.Room
}

type Resolver struct {
	store    Store
	rnd      Source
	attempts int
	backoff  func(attempt int) time.Duration
}

type Option func(*Resolver)

// WithSource replaces the random source.
func WithSource(s Source) Option {
	return func(r *Resolver) {
		if s != nil {
			r.rnd = s
		}
	}
}

// WithRetry bounds commit attempts and sets the base delay between them.
func WithRetry(attempts int, base time.Duration) Option {
	return func(r *Resolver) {
		if attempts > 0 {
			r.attempts = attempts
		}
		r.backoff = func(attempt int) time.Duration { return backoffDuration(base, attempt) }
	}
}

func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		rnd:      CryptoSource{},
		attempts: 3,
		backoff:  func(attempt int) time.Duration { return backoffDuration(100*time.Millisecond, attempt) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pick draws one of winners uniformly at random.
func (r *Resolver) Pick(winners []domain.Option, method domain.TiebreakMethod) (domain.Option, error) {
	if !method.Valid() {
		return domain.Option{}, fmt.Errorf("%w: unknown tiebreaker %q", domain.ErrValidation, method)
	}
	if len(winners) < 2 {
		return domain.Option{}, fmt.Errorf("%w: a tiebreaker needs at least two tied options", domain.ErrValidation)
	}
	i, err := r.rnd.Intn(len(winners))
	if err != nil {
		return domain.Option{}, fmt.Errorf("draw: %w", err)
	}
	if i < 0 || i >= len(winners) {
		return domain.Option{}, fmt.Errorf("draw out of range: %d", i)
	}
	return winners[i], nil
}

// Commit writes choice, method and the resolution time as one update.
// Transient failures are retried; a retry that finds the room already resolved
// with this very choice counts as success because the earlier write landed.
func (r *Resolver) Commit(ctx context.Context, roomID, actorID string, choice domain.Option, method domain.TiebreakMethod) (*domain.Room, error) {
	if r.store == nil {
		return nil, errors.New("tiebreak resolver has no store")
	}
	m := method
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		room, err := r.store.ResolveRoom(ctx, roomID, actorID, choice.ID, &m)
		if err == nil {
			return room, nil
		}
		if attempt > 1 && errors.Is(err, domain.ErrState) {
			if cur, gerr := r.store.GetRoom(ctx, roomID); gerr == nil && landed(cur, choice.ID, m) {
				return cur, nil
			}
			return nil, err
		}
		if !domain.Retryable(err) {
			return nil, err
		}
		lastErr = err
		obslog.L().Warn("tiebreak_commit_retry",
			zap.String("room_id", roomID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == r.attempts {
			break
		}
		if serr := sleepWithContext(ctx, r.backoff(attempt)); serr != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrTransient, serr)
		}
	}
	return nil, fmt.Errorf("tiebreak not saved after %d attempts: %w", r.attempts, lastErr)
}

// Resolve picks among winners and commits the pick.
func (r *Resolver) Resolve(ctx context.Context, roomID, actorID string, winners []domain.Option, method domain.TiebreakMethod) (*Outcome, error) {
	choice, err := r.Pick(winners, method)
	if err != nil {
		return nil, err
	}
	room, err := r.Commit(ctx, roomID, actorID, choice, method)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("tiebreak_resolved",
		zap.String("room_id", roomID),
		zap.String("method", string(method)),
		zap.String("option_id", choice.ID),
		zap.Int("tied", len(winners)),
	)
	return &Outcome{Choice: choice, Method: method, Room: room}, nil
}

func landed(room *domain.Room, optionID string, method domain.TiebreakMethod) bool {
	if room == nil || room.FinalOptionID == nil || room.TiebreakerUsed == nil {
		return false
	}
	return *room.FinalOptionID == optionID && *room.TiebreakerUsed == method
}

func backoffDuration(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * base
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
