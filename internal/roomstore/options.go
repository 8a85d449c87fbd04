package roomstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AddOption proposes a new option. Any participant may add options while
// voting is closed.
func (s *Store) AddOption(ctx context.Context, roomID, text, actorID string) (*domain.Option, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, fmt.Errorf("%w: sign in to add options", domain.ErrAuth)
	}
	text = strings.TrimSpace(text)
	if err := requireText("option", text, MaxOptionLen); err != nil {
		return nil, err
	}
	var opt domain.Option
	_, err := s.update(ctx, "add option", roomID, func(tx *redis.Tx, room *domain.Room) (func(redis.Pipeliner), error) {
		if err := requireParticipant(ctx, tx, roomID, actorID); err != nil {
			return nil, err
		}
		if err := optionsMutable(room); err != nil {
			return nil, err
		}
		if err := uniqueOption(ctx, tx, roomID, "", text); err != nil {
			return nil, err
		}
		seq, err := tx.Incr(ctx, keyOptSeq(roomID)).Result()
		if err != nil {
			return nil, err
		}
		opt = domain.Option{ID: newID(), RoomID: roomID, Text: text, SubmittedBy: actorID, CreatedAt: s.now(), Seq: seq}
		raw := mustJSON(opt)
		return func(pipe redis.Pipeliner) { pipe.HSet(ctx, keyOptions(roomID), opt.ID, raw) }, nil
	}, keyOptions(roomID))
	if err != nil {
		return nil, err
	}
	obslog.L().Info("option_added", zap.String("room_id", roomID), zap.String("option_id", opt.ID), zap.String("user_id", actorID))
	return &opt, nil
}

// EditOption changes the text of an option. Only its submitter or the room
// creator may edit it.
func (s *Store) EditOption(ctx context.Context, roomID, optionID, text, actorID string) (*domain.Option, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, fmt.Errorf("%w: sign in to edit options", domain.ErrAuth)
	}
	text = strings.TrimSpace(text)
	if err := requireText("option", text, MaxOptionLen); err != nil {
		return nil, err
	}
	var opt *domain.Option
	_, err := s.update(ctx, "edit option", roomID, func(tx *redis.Tx, room *domain.Room) (func(redis.Pipeliner), error) {
		o, err := ownedOption(ctx, tx, room, optionID, actorID, "edit")
		if err != nil {
			return nil, err
		}
		if o.Text == text {
			opt = o
			return nil, errNoChange
		}
		if err := uniqueOption(ctx, tx, roomID, o.ID, text); err != nil {
			return nil, err
		}
		o.Text = text
		opt = o
		raw := mustJSON(o)
		return func(pipe redis.Pipeliner) { pipe.HSet(ctx, keyOptions(roomID), o.ID, raw) }, nil
	}, keyOptions(roomID))
	if err != nil {
		return nil, err
	}
	return opt, nil
}

// RemoveOption deletes an option. Only its submitter or the room creator may
// remove it.
func (s *Store) RemoveOption(ctx context.Context, roomID, optionID, actorID string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return fmt.Errorf("%w: sign in to remove options", domain.ErrAuth)
	}
	_, err := s.update(ctx, "remove option", roomID, func(tx *redis.Tx, room *domain.Room) (func(redis.Pipeliner), error) {
		o, err := ownedOption(ctx, tx, room, optionID, actorID, "remove")
		if err != nil {
			return nil, err
		}
		return func(pipe redis.Pipeliner) { pipe.HDel(ctx, keyOptions(roomID), o.ID) }, nil
	}, keyOptions(roomID))
	if err != nil {
		return err
	}
	obslog.L().Info("option_removed", zap.String("room_id", roomID), zap.String("option_id", optionID), zap.String("user_id", actorID))
	return nil
}

func optionsMutable(room *domain.Room) error {
	if room.Resolved() {
		return fmt.Errorf("%w: room is already resolved", domain.ErrState)
	}
	if room.VotingActive {
		return fmt.Errorf("%w: options are locked while voting is open", domain.ErrState)
	}
	return nil
}

func ownedOption(ctx context.Context, tx *redis.Tx, room *domain.Room, optionID, actorID, action string) (*domain.Option, error) {
	if err := requireParticipant(ctx, tx, room.ID, actorID); err != nil {
		return nil, err
	}
	if err := optionsMutable(room); err != nil {
		return nil, err
	}
	o, err := loadOption(ctx, tx, room.ID, optionID)
	if err != nil {
		return nil, err
	}
	if o.SubmittedBy != actorID && room.CreatorID != actorID {
		return nil, fmt.Errorf("%w: only the submitter or the room creator can %s this option", domain.ErrPermission, action)
	}
	return o, nil
}

// uniqueOption rejects text that matches another option, ignoring case.
func uniqueOption(ctx context.Context, tx *redis.Tx, roomID, selfID, text string) error {
	all, err := tx.HGetAll(ctx, keyOptions(roomID)).Result()
	if err != nil {
		return err
	}
	opts, err := decodeHash[domain.Option](all)
	if err != nil {
		return err
	}
	for _, o := range opts {
		if o.ID != selfID && strings.EqualFold(o.Text, text) {
			return fmt.Errorf("%w: %q is already an option", domain.ErrValidation, text)
		}
	}
	return nil
}
