package roomstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type CreateRoomInput struct {
	Title           string
	Description     string
	MaxParticipants int
	CreatorID       string
	CreatorName     string
}

type JoinResult struct {
	Room *domain.Room
	// Joined is false when the user already was a participant.
	Joined bool
}

// errNoChange aborts an update without writing anything.
var errNoChange = errors.New("no change")

// CreateRoom stores a new open room with a fresh code. The creator becomes the
// first participant.
func (s *Store) CreateRoom(ctx context.Context, in CreateRoomInput) (*domain.Room, error) {
	creator := strings.TrimSpace(in.CreatorID)
	if creator == "" {
		return nil, fmt.Errorf("%w: a creator is required", domain.ErrAuth)
	}
	title := strings.TrimSpace(in.Title)
	if err := requireText("title", title, MaxTitleLen); err != nil {
		return nil, err
	}
	desc := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(desc) > MaxDescriptionLen {
		return nil, fmt.Errorf("%w: description is longer than %d characters", domain.ErrValidation, MaxDescriptionLen)
	}
	if in.MaxParticipants < 0 {
		return nil, fmt.Errorf("%w: max participants cannot be negative", domain.ErrValidation)
	}
	name, err := cleanName(in.CreatorName, creator)
	if err != nil {
		return nil, err
	}

	now := s.now()
	room := &domain.Room{
		ID:              newID(),
		Title:           title,
		Description:     desc,
		MaxParticipants: in.MaxParticipants,
		CreatorID:       creator,
		CreatedAt:       now,
		Open:            true,
	}
	for i := 0; i < codeAttempts && room.Code == ""; i++ {
		code, err := codeGen()
		if err != nil {
			return nil, err
		}
		ok, err := s.rdb.SetNX(ctx, keyCode(code), room.ID, s.ttl).Result()
		if err != nil {
			return nil, storeErr("allocate code", err)
		}
		if ok {
			room.Code = code
		}
	}
	if room.Code == "" {
		return nil, fmt.Errorf("%w: could not allocate a room code", domain.ErrTransient)
	}

	p := domain.Participant{RoomID: room.ID, UserID: creator, DisplayName: name, JoinedAt: now}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyRoom(room.ID), mustJSON(room), s.ttl)
		pipe.HSet(ctx, keyParticipants(room.ID), creator, mustJSON(p))
		s.indexUser(ctx, pipe, creator, room.ID)
		s.touch(ctx, pipe, room)
		return nil
	})
	if err != nil {
		_ = s.rdb.Del(ctx, keyCode(room.Code)).Err()
		return nil, storeErr("create room", err)
	}
	obslog.L().Info("room_created",
		zap.String("room_id", room.ID),
		zap.String("code", room.Code),
		zap.String("creator_id", creator),
		zap.Int("max_participants", room.MaxParticipants),
	)
	s.publish(ctx, room.ID)
	return room, nil
}

// JoinRoom adds userID to the open room with the given code. Joining a room
// the user already belongs to succeeds without changing anything.
func (s *Store) JoinRoom(ctx context.Context, code, displayName, userID string) (*JoinResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: sign in to join a room", domain.ErrAuth)
	}
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: room code is required", domain.ErrValidation)
	}
	name, err := cleanName(displayName, userID)
	if err != nil {
		return nil, err
	}
	id, err := s.rdb.Get(ctx, keyCode(code)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: no open room with code %s", domain.ErrNotFound, code)
	}
	if err != nil {
		return nil, storeErr("join room", err)
	}

	partKey := keyParticipants(id)
	var res JoinResult
	err = s.watch(ctx, "join room", func(tx *redis.Tx) error {
		res = JoinResult{}
		room, err := loadRoom(ctx, tx, id)
		if err != nil {
			return err
		}
		if !room.Open {
			return fmt.Errorf("%w: no open room with code %s", domain.ErrNotFound, code)
		}
		res.Room = room
		member, err := tx.HExists(ctx, partKey, userID).Result()
		if err != nil {
			return err
		}
		if member {
			return nil
		}
		n, err := tx.HLen(ctx, partKey).Result()
		if err != nil {
			return err
		}
		if room.MaxParticipants > 0 && n >= int64(room.MaxParticipants) {
			return fmt.Errorf("%w: %d of %d seats taken", domain.ErrCapacity, n, room.MaxParticipants)
		}
		p := domain.Participant{RoomID: id, UserID: userID, DisplayName: name, JoinedAt: s.now()}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, partKey, userID, mustJSON(p))
			s.indexUser(ctx, pipe, userID, id)
			s.touch(ctx, pipe, room)
			return nil
		})
		if err != nil {
			return err
		}
		res.Joined = true
		return nil
	}, keyRoom(id), partKey)
	if err != nil {
		obslog.L().Warn("room_join_error", zap.String("code", code), zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if res.Joined {
		obslog.L().Info("room_joined", zap.String("room_id", id), zap.String("user_id", userID))
		s.publish(ctx, id)
	}
	return &res, nil
}

// CloseRoom stops accepting joins and frees the code. Only the creator may
// close a room; closing a closed room is a no-op.
func (s *Store) CloseRoom(ctx context.Context, roomID, actorID string) (*domain.Room, error) {
	return s.update(ctx, "close room", roomID, func(tx *redis.Tx, room *domain.Room) (func(redis.Pipeliner), error) {
		if err := requireCreator(room, actorID, "close the room"); err != nil {
			return nil, err
		}
		if !room.Open {
			return nil, errNoChange
		}
		room.Open = false
		release, err := ownsCode(ctx, tx, room)
		if err != nil {
			return nil, err
		}
		return func(pipe redis.Pipeliner) {
			if release {
				pipe.Del(ctx, keyCode(room.Code))
			}
		}, nil
	})
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := loadRoom(ctx, s.rdb, roomID)
	if err != nil {
		return nil, storeErr("get room", err)
	}
	return room, nil
}

func (s *Store) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	ok, err := s.rdb.HExists(ctx, keyParticipants(roomID), userID).Result()
	if err != nil {
		return false, storeErr("is participant", err)
	}
	return ok, nil
}

// RoomsForUser lists the rooms userID belongs to, newest first. Expired rooms
// are dropped from the index.
func (s *Store) RoomsForUser(ctx context.Context, userID string) ([]domain.Room, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: sign in to list rooms", domain.ErrAuth)
	}
	ids, err := s.rdb.SMembers(ctx, keyUserRooms(userID)).Result()
	if err != nil {
		return nil, storeErr("rooms for user", err)
	}
	out := make([]domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := loadRoom(ctx, s.rdb, id)
		if errors.Is(err, domain.ErrNotFound) {
			_ = s.rdb.SRem(ctx, keyUserRooms(userID), id).Err()
			continue
		}
		if err != nil {
			return nil, storeErr("rooms for user", err)
		}
		out = append(out, *room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// update loads the room in a WATCH transaction, lets apply validate and modify
// it, then writes it back along with whatever apply queued. Every successful
// update publishes a snapshot.
func (s *Store) update(ctx context.Context, op, roomID string, apply func(tx *redis.Tx, room *domain.Room) (func(redis.Pipeliner), error), extraKeys ...string) (*domain.Room, error) {
	var out *domain.Room
	changed := false
	keys := append([]string{keyRoom(roomID)}, extraKeys...)
	err := s.watch(ctx, op, func(tx *redis.Tx) error {
		changed = false
		room, err := loadRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		queue, err := apply(tx, room)
		if errors.Is(err, errNoChange) {
			out = room
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyRoom(roomID), mustJSON(room), s.ttl)
			if queue != nil {
				queue(pipe)
			}
			s.touch(ctx, pipe, room)
			return nil
		})
		if err != nil {
			return err
		}
		out = room
		changed = true
		return nil
	}, keys...)
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(ctx, roomID)
	}
	return out, nil
}

func (s *Store) indexUser(ctx context.Context, pipe redis.Pipeliner, userID, roomID string) {
	pipe.SAdd(ctx, keyUserRooms(userID), roomID)
	if s.ttl > 0 {
		pipe.Expire(ctx, keyUserRooms(userID), s.ttl)
	}
}

// ownsCode reports whether the code key still points at room.
func ownsCode(ctx context.Context, tx *redis.Tx, room *domain.Room) (bool, error) {
	cur, err := tx.Get(ctx, keyCode(room.Code)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cur == room.ID, nil
}

func requireCreator(room *domain.Room, actorID, action string) error {
	if strings.TrimSpace(actorID) == "" {
		return fmt.Errorf("%w: sign in to %s", domain.ErrAuth, action)
	}
	if room.CreatorID != actorID {
		return fmt.Errorf("%w: only the room creator can %s", domain.ErrPermission, action)
	}
	return nil
}

func cleanName(name, userID string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = userID
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		return "", fmt.Errorf("%w: display name is longer than %d characters", domain.ErrValidation, MaxNameLen)
	}
	return name, nil
}
