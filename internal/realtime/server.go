package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/metrics"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/internal/results"
	"github.com/park285/dicey-decisions/internal/roomstore"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Feed is the room store side of the realtime handler.
type Feed interface {
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	SubscribeRoom(ctx context.Context, roomID string, onChange func(domain.RoomSnapshot)) (*roomstore.Subscription, error)
}

type Handler struct {
	feed         Feed
	metrics      *metrics.Recorder
	origins      []string
	writeTimeout time.Duration

	base     context.Context
	shutdown context.CancelFunc
	closed   sync.Once
}

type HandlerOption func(*Handler)

// WithOrigins sets the browser origins allowed to open a feed.
func WithOrigins(patterns []string) HandlerOption {
	return func(h *Handler) { h.origins = patterns }
}

func WithMetrics(m *metrics.Recorder) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func WithWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

func NewHandler(feed Feed, opts ...HandlerOption) *Handler {
	h := &Handler{feed: feed, writeTimeout: 5 * time.Second}
	h.base, h.shutdown = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close ends every open feed and refuses new ones. http.Server.Shutdown does
// not track hijacked connections, so servers call this on the way down.
func (h *Handler) Close() {
	h.closed.Do(h.shutdown)
}

// Serve upgrades the request and streams snapshots of roomID to userID. An
// error is returned only when the request was refused before the upgrade; the
// caller renders it.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, roomID, userID string) error {
	if h.base.Err() != nil {
		return fmt.Errorf("%w: server is shutting down", domain.ErrTransient)
	}
	ok, err := h.feed.IsParticipant(r.Context(), roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not a participant of this room", domain.ErrPermission)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		// Accept already wrote the response
		obslog.L().Warn("realtime_accept_error", zap.String("room_id", roomID), zap.Error(err))
		return nil
	}
	defer h.metrics.FeedOpened()()

	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	latest := NewLatest()
	sub, err := h.feed.SubscribeRoom(ctx, roomID, latest.Put)
	if err != nil {
		obslog.L().Warn("realtime_subscribe_error", zap.String("room_id", roomID), zap.Error(err))
		_ = conn.Close(websocket.StatusTryAgainLater, "subscription failed")
		return nil
	}
	defer sub.Close()
	obslog.L().Info("realtime_open", zap.String("room_id", roomID), zap.String("user_id", userID))

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "bye")
			obslog.L().Info("realtime_close", zap.String("room_id", roomID), zap.String("user_id", userID))
			return nil
		case <-sub.Done():
			_ = conn.Close(websocket.StatusTryAgainLater, "feed ended")
			return nil
		case snap := <-latest.C():
			view := results.ClientView(&snap)
			wctx, wcancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, conn, Frame{Type: FrameSnapshot, Snapshot: &view})
			wcancel()
			if err != nil {
				obslog.L().Warn("realtime_write_error", zap.String("room_id", roomID), zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "write failed")
				return nil
			}
		}
	}
}
