package roomstore

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/redis/go-redis/v9"
)

func loadRoom(ctx context.Context, c redis.Cmdable, id string) (*domain.Room, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: room", domain.ErrNotFound)
	}
	raw, err := c.Get(ctx, keyRoom(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRoom(raw)
}

func decodeRoom(raw []byte) (*domain.Room, error) {
	var r domain.Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	return &r, nil
}

func loadOption(ctx context.Context, c redis.Cmdable, roomID, optionID string) (*domain.Option, error) {
	raw, err := c.HGet(ctx, keyOptions(roomID), optionID).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: option %s", domain.ErrNotFound, optionID)
	}
	if err != nil {
		return nil, err
	}
	var o domain.Option
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	return &o, nil
}

func requireParticipant(ctx context.Context, c redis.Cmdable, roomID, userID string) error {
	ok, err := c.HExists(ctx, keyParticipants(roomID), userID).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not a participant of this room", domain.ErrPermission)
	}
	return nil
}

func decodeHash[T any](m map[string]string) ([]T, error) {
	out := make([]T, 0, len(m))
	for _, raw := range m {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("%w: %w", errCorrupt, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// only plain structs go through here
		panic(err)
	}
	return b
}

func requireText(field, v string, max int) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}
	if utf8.RuneCountInString(v) > max {
		return fmt.Errorf("%w: %s is longer than %d characters", domain.ErrValidation, field, max)
	}
	return nil
}
