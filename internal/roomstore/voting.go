package roomstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/internal/tally"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartVoting opens voting. Creator only, at least two options, never after
// the room was resolved.
func (s *Store) StartVoting(ctx context.Context, roomID, actorID string) (*domain.Room, error) {
	room, err := s.update(ctx, "start voting", roomID, func(tx *redis.Tx, room *domain.Room) (func(redis.Pipeliner), error) {
		if err := requireCreator(room, actorID, "start voting"); err != nil {
			return nil, err
		}
		if room.Resolved() {
			return nil, fmt.Errorf("%w: room is already resolved", domain.ErrState)
		}
		if room.VotingActive {
			return nil, fmt.Errorf("%w: voting already started", domain.ErrState)
		}
		n, err := tx.HLen(ctx, keyOptions(roomID)).Result()
		if err != nil {
			return nil, err
		}
		if n < 2 {
			return nil, fmt.Errorf("%w: at least two options are needed to start voting", domain.ErrValidation)
		}
		room.VotingActive = true
		return nil, nil
	}, keyOptions(roomID))
	if err != nil {
		return nil, err
	}
	obslog.L().Info("voting_started", zap.String("room_id", roomID))
	return room, nil
}

// StopVoting sends the room back to the lobby and discards the votes cast so
// far. Creator only, and only while unresolved.
func (s *Store) StopVoting(ctx context.Context, roomID, actorID string) (*domain.Room, error) {
	room, err := s.update(ctx, "stop voting", roomID, func(tx *redis.Tx, room *domain.Room) (func(redis.Pipeliner), error) {
		if err := requireCreator(room, actorID, "stop voting"); err != nil {
			return nil, err
		}
		if room.Resolved() {
			return nil, fmt.Errorf("%w: room is already resolved", domain.ErrState)
		}
		if !room.VotingActive {
			return nil, fmt.Errorf("%w: voting is not open", domain.ErrState)
		}
		room.VotingActive = false
		return func(pipe redis.Pipeliner) { pipe.Del(ctx, keyVotes(roomID)) }, nil
	}, keyVotes(roomID))
	if err != nil {
		return nil, err
	}
	obslog.L().Info("voting_stopped", zap.String("room_id", roomID))
	return room, nil
}

// CastVote records userID's single vote. A second vote fails with
// domain.ErrDuplicateVote and leaves the first one untouched.
func (s *Store) CastVote(ctx context.Context, roomID, userID, optionID string) (*domain.Vote, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: sign in to vote", domain.ErrAuth)
	}
	var vote domain.Vote
	_, err := s.update(ctx, "cast vote", roomID, func(tx *redis.Tx, room *domain.Room) (func(redis.Pipeliner), error) {
		if err := requireParticipant(ctx, tx, roomID, userID); err != nil {
			return nil, err
		}
		if room.Resolved() {
			return nil, fmt.Errorf("%w: room is already resolved", domain.ErrState)
		}
		if !room.VotingActive {
			return nil, fmt.Errorf("%w: voting is not open", domain.ErrState)
		}
		ok, err := tx.HExists(ctx, keyOptions(roomID), optionID).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown option", domain.ErrValidation)
		}
		voted, err := tx.HExists(ctx, keyVotes(roomID), userID).Result()
		if err != nil {
			return nil, err
		}
		if voted {
			return nil, domain.ErrDuplicateVote
		}
		vote = domain.Vote{ID: newID(), RoomID: roomID, UserID: userID, OptionID: optionID, CreatedAt: s.now()}
		raw := mustJSON(vote)
		return func(pipe redis.Pipeliner) { pipe.HSet(ctx, keyVotes(roomID), userID, raw) }, nil
	}, keyVotes(roomID), keyOptions(roomID))
	if err != nil {
		return nil, err
	}
	obslog.L().Info("vote_cast", zap.String("room_id", roomID), zap.String("user_id", userID))
	return &vote, nil
}

// ResolveRoom writes the final option, the tiebreak method (nil for a clean
// winner) and the resolution time in one update. It closes voting and the
// room. A resolved room cannot be resolved again. The stored votes must back
// the resolution: a clean winner leads alone, a tiebreak pick is among the
// tied options.
func (s *Store) ResolveRoom(ctx context.Context, roomID, actorID, finalOptionID string, method *domain.TiebreakMethod) (*domain.Room, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, fmt.Errorf("%w: sign in to resolve a room", domain.ErrAuth)
	}
	if method != nil && !method.Valid() {
		return nil, fmt.Errorf("%w: unknown tiebreaker %q", domain.ErrValidation, *method)
	}
	room, err := s.update(ctx, "resolve room", roomID, func(tx *redis.Tx, room *domain.Room) (func(redis.Pipeliner), error) {
		if err := requireParticipant(ctx, tx, roomID, actorID); err != nil {
			return nil, err
		}
		if room.Resolved() {
			return nil, fmt.Errorf("%w: room is already resolved", domain.ErrState)
		}
		ok, err := tx.HExists(ctx, keyOptions(roomID), finalOptionID).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown option", domain.ErrValidation)
		}
		if err := checkOutcome(ctx, tx, roomID, finalOptionID, method); err != nil {
			return nil, err
		}
		release, err := ownsCode(ctx, tx, room)
		if err != nil {
			return nil, err
		}
		now := s.now()
		final := finalOptionID
		room.FinalOptionID = &final
		room.ResolvedAt = &now
		room.TiebreakerUsed = nil
		if method != nil {
			m := *method
			room.TiebreakerUsed = &m
		}
		room.VotingActive = false
		room.Open = false
		return func(pipe redis.Pipeliner) {
			if release {
				pipe.Del(ctx, keyCode(room.Code))
			}
		}, nil
	}, keyOptions(roomID), keyVotes(roomID))
	if err != nil {
		return nil, err
	}
	fields := []zap.Field{zap.String("room_id", roomID), zap.String("option_id", finalOptionID), zap.String("user_id", actorID)}
	if method != nil {
		fields = append(fields, zap.String("method", string(*method)))
	}
	obslog.L().Info("room_resolved", fields...)
	return room, nil
}

// checkOutcome re-tallies the votes as stored inside the transaction.
func checkOutcome(ctx context.Context, tx *redis.Tx, roomID, optionID string, method *domain.TiebreakMethod) error {
	rawOpts, err := tx.HGetAll(ctx, keyOptions(roomID)).Result()
	if err != nil {
		return err
	}
	rawVotes, err := tx.HGetAll(ctx, keyVotes(roomID)).Result()
	if err != nil {
		return err
	}
	options, err := decodeHash[domain.Option](rawOpts)
	if err != nil {
		return err
	}
	votes, err := decodeHash[domain.Vote](rawVotes)
	if err != nil {
		return err
	}
	res := tally.Compute(options, votes)
	switch {
	case !res.IsWinner(optionID):
		return fmt.Errorf("%w: the votes changed, that option no longer leads", domain.ErrState)
	case method == nil && res.IsTie():
		return fmt.Errorf("%w: the vote is tied, a tiebreaker is needed", domain.ErrState)
	case method != nil && !res.IsTie():
		return fmt.Errorf("%w: there is no tie to break", domain.ErrState)
	}
	return nil
}
