// Package roomstore keeps rooms, participants, options and votes in Redis and
// pushes a full snapshot of a room on every change.
//
// Layout (all keys share the room TTL when one is configured):
//
//	room:<id>               JSON domain.Room
//	room:<id>:participants  HASH user id -> JSON domain.Participant
//	room:<id>:options       HASH option id -> JSON domain.Option
//	room:<id>:votes         HASH user id -> JSON domain.Vote
//	room:<id>:optseq        option sequence counter
//	room:<id>:rev           snapshot revision counter
//	room:<id>:events        pub/sub channel carrying msgpack snapshots
//	code:<CODE>             room id, only while the room is open
//	user:<uid>:rooms        SET of room ids the user belongs to
package roomstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength    = 6
	codeAttempts  = 8
	maxTxAttempts = 10

	MaxTitleLen       = 120
	MaxDescriptionLen = 500
	MaxOptionLen      = 200
	MaxNameLen        = 50
)

var errCorrupt = errors.New("corrupt room record")

type Store struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

type Option func(*Store)

// WithTTL expires every key of a room after d of inactivity. Zero keeps rooms forever.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to redisURL (redis:// or rediss://) and checks the connection.
func Open(ctx context.Context, redisURL string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for room store")
	}
	ropts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, opts...), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Client exposes the underlying connection for components sharing it.
func (s *Store) Client() *redis.Client { return s.rdb }

// ParseRedisURL turns redis://[:pass@]host:port/db into client options.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}

func keyRoom(id string) string         { return "room:" + id }
func keyParticipants(id string) string { return keyRoom(id) + ":participants" }
func keyOptions(id string) string      { return keyRoom(id) + ":options" }
func keyVotes(id string) string        { return keyRoom(id) + ":votes" }
func keyOptSeq(id string) string       { return keyRoom(id) + ":optseq" }
func keyRev(id string) string          { return keyRoom(id) + ":rev" }
func channelEvents(id string) string   { return keyRoom(id) + ":events" }
func keyCode(code string) string       { return "code:" + code }
func keyUserRooms(uid string) string   { return "user:" + uid + ":rooms" }

func roomKeys(id string) []string {
	return []string{keyRoom(id), keyParticipants(id), keyOptions(id), keyVotes(id), keyOptSeq(id), keyRev(id)}
}

// watch runs fn in a WATCH transaction over keys, retrying when a concurrent
// writer touched one of them.
func (s *Store) watch(ctx context.Context, op string, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return storeErr(op, err)
	}
	return fmt.Errorf("%w: %s: too many concurrent updates", domain.ErrTransient, op)
}

// touch bumps the revision and refreshes TTLs inside a transaction. The join
// code of an open room lives as long as the room.
func (s *Store) touch(ctx context.Context, pipe redis.Pipeliner, room *domain.Room) {
	pipe.Incr(ctx, keyRev(room.ID))
	if s.ttl <= 0 {
		return
	}
	for _, k := range roomKeys(room.ID) {
		pipe.Expire(ctx, k, s.ttl)
	}
	if room.Open && room.Code != "" {
		pipe.Expire(ctx, keyCode(room.Code), s.ttl)
	}
}

// storeErr passes domain errors through and marks everything else coming
// from Redis as transient.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindInternal || errors.Is(err, errCorrupt) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrTransient, op, err)
}

var codeAlphabetSize = big.NewInt(int64(len(codeAlphabet)))

func codeGen() (string, error) {
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, codeAlphabetSize)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

func newID() string { return uuid.NewString() }
