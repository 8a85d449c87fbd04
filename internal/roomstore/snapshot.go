package roomstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Snapshot reads the room and all of its records in one MULTI block.
func (s *Store) Snapshot(ctx context.Context, roomID string) (*domain.RoomSnapshot, error) {
	var (
		roomCmd *redis.StringCmd
		revCmd  *redis.StringCmd
		parts   *redis.MapStringStringCmd
		opts    *redis.MapStringStringCmd
		votes   *redis.MapStringStringCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		roomCmd = pipe.Get(ctx, keyRoom(roomID))
		revCmd = pipe.Get(ctx, keyRev(roomID))
		parts = pipe.HGetAll(ctx, keyParticipants(roomID))
		opts = pipe.HGetAll(ctx, keyOptions(roomID))
		votes = pipe.HGetAll(ctx, keyVotes(roomID))
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, storeErr("snapshot", err)
	}
	raw, err := roomCmd.Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID)
	}
	if err != nil {
		return nil, storeErr("snapshot", err)
	}
	room, err := decodeRoom(raw)
	if err != nil {
		return nil, err
	}
	snap := &domain.RoomSnapshot{Room: *room}
	if rev, err := revCmd.Int64(); err == nil {
		snap.Rev = rev
	}
	if snap.Participants, err = decodeHash[domain.Participant](parts.Val()); err != nil {
		return nil, err
	}
	if snap.Options, err = decodeHash[domain.Option](opts.Val()); err != nil {
		return nil, err
	}
	if snap.Votes, err = decodeHash[domain.Vote](votes.Val()); err != nil {
		return nil, err
	}
	snap.Normalize()
	return snap, nil
}

// publish pushes the current snapshot to subscribers. The change is already
// committed, so failures are only logged.
func (s *Store) publish(ctx context.Context, roomID string) {
	snap, err := s.Snapshot(ctx, roomID)
	if err != nil {
		obslog.L().Warn("snapshot_publish_error", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		obslog.L().Error("snapshot_encode_error", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	if err := s.rdb.Publish(ctx, channelEvents(roomID), payload).Err(); err != nil {
		obslog.L().Warn("snapshot_publish_error", zap.String("room_id", roomID), zap.Error(err))
	}
}

// Subscription is a live snapshot feed for one room.
type Subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops delivery and waits for the delivery goroutine to finish. It is
// safe to call more than once, but not from inside the onChange callback.
func (sub *Subscription) Close() error {
	var err error
	sub.once.Do(func() {
		sub.cancel()
		err = sub.ps.Close()
		<-sub.done
	})
	return err
}

// Done is closed once delivery has stopped.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// SubscribeRoom delivers the current snapshot of roomID and then every later
// one to onChange, from a single goroutine and in revision order. Delivery
// runs until the subscription is closed or ctx ends.
func (s *Store) SubscribeRoom(ctx context.Context, roomID string, onChange func(domain.RoomSnapshot)) (*Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channelEvents(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, storeErr("subscribe", err)
	}
	initial, err := s.Snapshot(ctx, roomID)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{ps: ps, cancel: cancel, done: make(chan struct{})}
	ch := ps.Channel()
	go func() {
		defer close(sub.done)
		last := initial.Rev
		onChange(*initial)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var snap domain.RoomSnapshot
				if err := msgpack.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					obslog.L().Warn("snapshot_decode_error", zap.String("room_id", roomID), zap.Error(err))
					continue
				}
				if snap.Rev <= last {
					continue
				}
				last = snap.Rev
				onChange(snap)
			}
		}
	}()
	return sub, nil
}
