package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/metrics"
	"github.com/park285/dicey-decisions/internal/roomstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

type feedServer struct {
	store   *roomstore.Store
	handler *Handler
	metrics *metrics.Recorder
	wsURL   string
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := roomstore.New(rdb)
	rec := metrics.New(prometheus.NewRegistry())
	h := NewHandler(store, WithMetrics(rec))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimPrefix(r.URL.Path, "/ws/rooms/")
		if err := h.Serve(w, r, roomID, r.Header.Get("X-User-Id")); err != nil {
			http.Error(w, err.Error(), statusFor(err))
		}
	}))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return &feedServer{
		store:   store,
		handler: h,
		metrics: rec,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindPermission:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (fs *feedServer) votingRoom(t *testing.T) (*domain.Room, []*domain.Option) {
	t.Helper()
	ctx := context.Background()
	room, err := fs.store.CreateRoom(ctx, roomstore.CreateRoomInput{Title: "Lunch", CreatorID: "alice", CreatorName: "Alice"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := fs.store.JoinRoom(ctx, room.Code, "Bob", "bob"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	var opts []*domain.Option
	for _, text := range []string{"Tacos", "Ramen"} {
		o, err := fs.store.AddOption(ctx, room.ID, text, "alice")
		if err != nil {
			t.Fatalf("AddOption: %v", err)
		}
		opts = append(opts, o)
	}
	if _, err := fs.store.StartVoting(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("StartVoting: %v", err)
	}
	return room, opts
}

func asUser(id string) ClientOption {
	return WithHeaderProvider(func() map[string]string { return map[string]string{"X-User-Id": id} })
}

type stateLog struct {
	mu     sync.Mutex
	states []State
	seen   chan State
}

func newStateLog(c *Client) *stateLog {
	l := &stateLog{seen: make(chan State, 32)}
	c.OnStateChange(func(_ string, s State) {
		l.mu.Lock()
		l.states = append(l.states, s)
		l.mu.Unlock()
		l.seen <- s
	})
	return l
}

func (l *stateLog) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-l.seen:
			if s == want {
				return
			}
		case <-deadline:
			l.mu.Lock()
			defer l.mu.Unlock()
			t.Fatalf("state %s not reached; saw %v", want, l.states)
		}
	}
}

func nextSnapshot(t *testing.T, ch <-chan domain.RoomSnapshot) domain.RoomSnapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatalf("no snapshot delivered")
		return domain.RoomSnapshot{}
	}
}

func TestWatchDeliversSealedSnapshots(t *testing.T) {
	fs := newFeedServer(t)
	room, opts := fs.votingRoom(t)

	c := NewClient(fs.wsURL, asUser("bob"))
	defer c.Close()
	ch := make(chan domain.RoomSnapshot, 8)
	w, err := c.Watch(context.Background(), room.ID, func(s domain.RoomSnapshot) { ch <- s })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if w.State() != StateConnected {
		t.Fatalf("state = %s", w.State())
	}

	initial := nextSnapshot(t, ch)
	if initial.Room.ID != room.ID || len(initial.Options) != 2 || len(initial.Votes) != 0 {
		t.Fatalf("initial snapshot = %+v", initial)
	}

	if _, err := fs.store.CastVote(context.Background(), room.ID, "alice", opts[1].ID); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	next := nextSnapshot(t, ch)
	if next.Rev <= initial.Rev {
		t.Fatalf("rev did not advance: %d -> %d", initial.Rev, next.Rev)
	}
	if len(next.Votes) != 1 || next.Votes[0].UserID != "alice" {
		t.Fatalf("votes = %+v", next.Votes)
	}
	if next.Votes[0].OptionID != "" {
		t.Fatalf("vote choice leaked while voting: %+v", next.Votes[0])
	}
	if got := testutil.ToFloat64(fs.metrics.Realtime); got != 1 {
		t.Fatalf("open feeds = %v, want 1", got)
	}
}

func TestWatchRefusesSecondSubscription(t *testing.T) {
	fs := newFeedServer(t)
	room, _ := fs.votingRoom(t)
	c := NewClient(fs.wsURL, asUser("bob"))
	defer c.Close()

	w, err := c.Watch(context.Background(), room.ID, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := c.Watch(context.Background(), room.ID, nil); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("second Watch err = %v", err)
	}

	w.Close()
	w2, err := c.Watch(context.Background(), room.ID, nil)
	if err != nil {
		t.Fatalf("Watch after Close: %v", err)
	}
	w2.Close()
}

func TestWatchRejectedHandshake(t *testing.T) {
	fs := newFeedServer(t)
	room, _ := fs.votingRoom(t)

	c := NewClient(fs.wsURL, asUser("mallory"))
	if _, err := c.Watch(context.Background(), room.ID, nil); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("non-participant err = %v", err)
	}
	if _, err := c.Watch(context.Background(), "missing", nil); !errors.Is(err, domain.ErrPermission) && !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown room err = %v", err)
	}
	// a refused first dial does not hold the room slot
	if _, err := c.Watch(context.Background(), room.ID, nil); errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("slot leaked: %v", err)
	}
}

func TestWatchFailsAfterBoundedReconnects(t *testing.T) {
	fs := newFeedServer(t)
	room, _ := fs.votingRoom(t)

	c := NewClient(fs.wsURL, asUser("bob"), WithReconnect(2, 10*time.Millisecond))
	states := newStateLog(c)
	w, err := c.Watch(context.Background(), room.ID, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// closing the handler drops live feeds and refuses new ones with 503
	fs.handler.Close()
	states.waitFor(t, StateReconnecting)
	states.waitFor(t, StateFailed)

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not finish after failing")
	}
	if w.State() != StateFailed {
		t.Fatalf("final state = %s", w.State())
	}
}

func TestWatchCloseEndsDisconnected(t *testing.T) {
	fs := newFeedServer(t)
	room, _ := fs.votingRoom(t)
	c := NewClient(fs.wsURL, asUser("alice"))
	w, err := c.Watch(context.Background(), room.ID, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	c.Close()
	if w.State() != StateDisconnected {
		t.Fatalf("state after Close = %s", w.State())
	}
}

func TestBackoffDuration(t *testing.T) {
	base := 100 * time.Millisecond
	cases := map[int]time.Duration{
		0:  100 * time.Millisecond,
		1:  100 * time.Millisecond,
		3:  400 * time.Millisecond,
		6:  3200 * time.Millisecond,
		10: 3200 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := backoffDuration(base, attempt); got != want {
			t.Fatalf("backoffDuration(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestLatestKeepsNewest(t *testing.T) {
	l := NewLatest()
	for rev := int64(1); rev <= 3; rev++ {
		l.Put(domain.RoomSnapshot{Rev: rev})
	}
	if got := (<-l.C()).Rev; got != 3 {
		t.Fatalf("rev = %d, want 3", got)
	}
	select {
	case s := <-l.C():
		t.Fatalf("unexpected second snapshot %d", s.Rev)
	default:
	}
}
