package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/park285/dicey-decisions/internal/apiclient"
	"github.com/park285/dicey-decisions/internal/config"
	"github.com/park285/dicey-decisions/internal/msgcat"
	"github.com/park285/dicey-decisions/internal/navigation"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/internal/realtime"
	"github.com/park285/dicey-decisions/internal/roomstore"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const navigationTTL = 30 * 24 * time.Hour

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg)
	stop()
	_ = obslog.L().Sync()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.ClientConfig) int {
	logger := obslog.L()
	msgs := msgcat.MustDefault()

	persist, closePersist, err := navigationStore(cfg.NavigationRedisURL)
	if err != nil {
		logger.Error("navigation_store_error", zap.Error(err))
		return 1
	}
	defer closePersist()
	nav := navigation.New(navigation.WithPersistence(persist, "dicey:navigation:"+cfg.UserID))
	restored, err := nav.Restore(ctx)
	if err != nil {
		logger.Warn("navigation_restore_error", zap.Error(err))
	}

	client := apiclient.NewClient(cfg.APIURL, cfg.UserID, apiclient.WithUserName(cfg.UserName))
	w := newWatcher(cfg.UserID, cfg.UserName, cfg.TiebreakMethod, cfg.RevealDelay, client, nav, msgs, os.Stdout)

	roomID, err := w.pickRoom(ctx, cfg.JoinURL, cfg.RoomID, restored)
	if err != nil {
		if errors.Is(err, errNoRoom) {
			w.print("no_room", nil)
		} else {
			w.printErr(err)
		}
		return 1
	}
	if err := w.follow(ctx, roomID); err != nil {
		w.printErr(err)
		return 1
	}

	headers := func() map[string]string {
		return map[string]string{
			decisiondto.HeaderUserID:   cfg.UserID,
			decisiondto.HeaderUserName: cfg.UserName,
		}
	}
	rt := realtime.NewClient(cfg.WSURL,
		realtime.WithHeaderProvider(headers),
		realtime.WithReconnect(cfg.WSMaxReconnect, cfg.WSReconnectDelay),
	)
	defer rt.Close()

	var failedOnce sync.Once
	failed := make(chan struct{})
	rt.OnStateChange(func(_ string, st realtime.State) {
		w.print("connection", map[string]any{"State": st})
		if st == realtime.StateFailed {
			failedOnce.Do(func() { close(failed) })
		}
	})

	latest := realtime.NewLatest()
	watch, err := rt.Watch(ctx, roomID, latest.Put)
	if err != nil {
		w.printErr(err)
		return 1
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-watch.Done():
				return
			case snap := <-latest.C():
				w.handle(ctx, snap)
			}
		}
	}()

	select {
	case <-ctx.Done():
		watch.Close()
		<-done
		return 0
	case <-failed:
	case <-watch.Done():
	}
	<-done
	w.print("failed", nil)
	return 1
}

// navigationStore keeps navigation in Redis when a URL is set, in memory
// otherwise.
func navigationStore(redisURL string) (navigation.Persistence, func(), error) {
	if redisURL == "" {
		return navigation.NewMemory(), func() {}, nil
	}
	opts, err := roomstore.ParseRedisURL(redisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opts)
	return navigation.NewRedis(rdb, navigationTTL), func() { _ = rdb.Close() }, nil
}

var _ roomAPI = (*apiclient.Client)(nil)
