package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// HeaderProvider returns headers injected into every handshake.
type HeaderProvider func() map[string]string

type StateCallback func(roomID string, state State)

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Client opens snapshot feeds against a dicey server. It keeps at most one
// live watch per room.
type Client struct {
	baseURL        string
	headerProvider HeaderProvider
	maxReconnect   int
	reconnectDelay time.Duration
	pingInterval   time.Duration
	dialTimeout    time.Duration
	readLimit      int64

	mu      sync.Mutex
	watches map[string]*Watch

	cbM      sync.RWMutex
	stateCbs []stateCallbackEntry
	nextCbID int
}

type ClientOption func(*Client)

func WithHeaderProvider(h HeaderProvider) ClientOption {
	return func(c *Client) { c.headerProvider = h }
}

// WithReconnect bounds reconnection: attempts tries, the first after delay,
// doubling up to 32x. Zero attempts fails on the first drop.
func WithReconnect(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxReconnect = attempts
		if delay > 0 {
			c.reconnectDelay = delay
		}
	}
}

func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// NewClient takes the ws:// or wss:// base of the server.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		maxReconnect:   5,
		reconnectDelay: 250 * time.Millisecond,
		pingInterval:   30 * time.Second,
		dialTimeout:    10 * time.Second,
		readLimit:      1 << 20,
		watches:        make(map[string]*Watch),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: c.nextCbID, callback: cb})
	return c.nextCbID
}

func (c *Client) RemoveStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

// Watch dials the room feed and delivers each snapshot to onSnapshot from a
// single goroutine. The first dial is synchronous; its failure is returned.
func (c *Client) Watch(ctx context.Context, roomID string, onSnapshot func(domain.RoomSnapshot)) (*Watch, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("%w: room id is required", domain.ErrValidation)
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &Watch{
		client:     c,
		roomID:     roomID,
		onSnapshot: onSnapshot,
		ctx:        wctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	c.mu.Lock()
	if _, busy := c.watches[roomID]; busy {
		c.mu.Unlock()
		cancel()
		return nil, ErrAlreadySubscribed
	}
	c.watches[roomID] = w
	c.mu.Unlock()

	w.setState(StateConnecting)
	conn, err := c.dial(ctx, roomID)
	if err != nil {
		c.release(roomID, w)
		cancel()
		w.setState(StateFailed)
		return nil, err
	}
	w.setState(StateConnected)
	go w.run(conn)
	return w, nil
}

func (c *Client) release(roomID string, w *Watch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watches[roomID] == w {
		delete(c.watches, roomID)
	}
}

// Close ends every live watch.
func (c *Client) Close() {
	c.mu.Lock()
	live := make([]*Watch, 0, len(c.watches))
	for _, w := range c.watches {
		live = append(live, w)
	}
	c.mu.Unlock()
	for _, w := range live {
		w.Close()
	}
}

func (c *Client) dial(ctx context.Context, roomID string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, c.roomURL(roomID), &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: handshake status %d", errorForStatus(resp.StatusCode), resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial: %w", domain.ErrTransient, err)
	}
	conn.SetReadLimit(c.readLimit)
	return conn, nil
}

func (c *Client) roomURL(roomID string) string {
	return c.baseURL + "/ws/rooms/" + url.PathEscape(roomID)
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headerProvider == nil {
		return hdr
	}
	for k, v := range c.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

func (c *Client) notify(roomID string, state State) {
	c.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(roomID, state)
		}
	}
}

// backoffDuration doubles base per attempt, capped at the sixth.
func backoffDuration(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * base
}

// Watch is one live room feed.
type Watch struct {
	client     *Client
	roomID     string
	onSnapshot func(domain.RoomSnapshot)

	stateM sync.RWMutex
	state  State

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (w *Watch) RoomID() string { return w.roomID }

func (w *Watch) State() State {
	w.stateM.RLock()
	defer w.stateM.RUnlock()
	return w.state
}

// Done is closed once the watch has stopped for good, either through Close
// or after reconnection gave up.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Close stops the watch and waits for its goroutines.
func (w *Watch) Close() {
	w.closeOnce.Do(w.cancel)
	<-w.done
}

func (w *Watch) setState(s State) {
	w.stateM.Lock()
	if w.state == s {
		w.stateM.Unlock()
		return
	}
	w.state = s
	w.stateM.Unlock()
	w.client.notify(w.roomID, s)
}

func (w *Watch) run(conn *websocket.Conn) {
	defer close(w.done)
	defer w.client.release(w.roomID, w)
	for conn != nil {
		w.serve(conn)
		if w.ctx.Err() != nil {
			w.setState(StateDisconnected)
			return
		}
		conn = w.reconnect()
	}
}

// serve reads frames until the connection drops or the watch is closed.
func (w *Watch) serve(conn *websocket.Conn) {
	pingCtx, stopPing := context.WithCancel(w.ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.pingLoop(pingCtx, conn)
	}()
	defer func() {
		stopPing()
		wg.Wait()
	}()

	for {
		var f Frame
		if err := wsjson.Read(w.ctx, conn, &f); err != nil {
			if w.ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			obslog.L().Warn("realtime_read_error", zap.String("room_id", w.roomID), zap.Error(err))
			_ = conn.Close(websocket.StatusGoingAway, "reconnect")
			return
		}
		if f.Type == FrameSnapshot && f.Snapshot != nil && w.onSnapshot != nil {
			w.onSnapshot(*f.Snapshot)
		}
	}
}

func (w *Watch) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(w.client.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= 2 {
				obslog.L().Warn("realtime_ping_failed", zap.String("room_id", w.roomID), zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// reconnect returns a fresh connection, or nil once attempts are exhausted,
// a permanent refusal comes back, or the watch is closed.
func (w *Watch) reconnect() *websocket.Conn {
	w.setState(StateReconnecting)
	for attempt := 1; attempt <= w.client.maxReconnect; attempt++ {
		select {
		case <-w.ctx.Done():
			w.setState(StateDisconnected)
			return nil
		case <-time.After(backoffDuration(w.client.reconnectDelay, attempt)):
		}

		conn, err := w.client.dial(w.ctx, w.roomID)
		if err == nil {
			obslog.L().Info("realtime_reconnected", zap.String("room_id", w.roomID), zap.Int("attempt", attempt))
			w.setState(StateConnected)
			return conn
		}
		if w.ctx.Err() != nil {
			w.setState(StateDisconnected)
			return nil
		}
		obslog.L().Warn("realtime_reconnect_failed",
			zap.String("room_id", w.roomID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !domain.Retryable(err) {
			break
		}
	}
	obslog.L().Error("realtime_failed", zap.String("room_id", w.roomID))
	w.setState(StateFailed)
	return nil
}
