package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/park285/dicey-decisions/internal/apiclient"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/msgcat"
	"github.com/park285/dicey-decisions/internal/navigation"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/internal/tally"
	"github.com/park285/dicey-decisions/internal/tiebreak"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
	"go.uber.org/zap"
)

// roomAPI is the part of the HTTP client the watcher drives.
type roomAPI interface {
	tiebreak.Store
	JoinRoom(ctx context.Context, code, displayName string) (*decisiondto.JoinResponse, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	Snapshot(ctx context.Context, roomID string) (*domain.RoomSnapshot, error)
	Finalize(ctx context.Context, roomID string) (*decisiondto.SettleResponse, error)
}

type watcher struct {
	userID   string
	userName string
	method   domain.TiebreakMethod
	reveal   time.Duration

	api      roomAPI
	nav      *navigation.Controller
	msgs     *msgcat.Catalog
	resolver *tiebreak.Resolver
	out      io.Writer

	mu       sync.Mutex
	title    string
	settling map[string]bool
}

func newWatcher(userID, userName string, method domain.TiebreakMethod, reveal time.Duration, api roomAPI, nav *navigation.Controller, msgs *msgcat.Catalog, out io.Writer) *watcher {
	w := &watcher{
		userID:   userID,
		userName: userName,
		method:   method,
		reveal:   reveal,
		api:      api,
		nav:      nav,
		msgs:     msgs,
		resolver: tiebreak.NewResolver(api),
		out:      out,
		settling: make(map[string]bool),
	}
	nav.OnChange(func(st navigation.State) {
		w.print("screen", map[string]any{"Screen": st.Screen, "Title": w.roomTitle()})
	})
	return w
}

func (w *watcher) print(key string, data any) {
	_, _ = fmt.Fprintln(w.out, w.msgs.Text("watch."+key, data, key))
}

func (w *watcher) printErr(err error) {
	msg := err.Error()
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	} else {
		msg = w.msgs.Text("errors."+string(domain.KindOf(err)), map[string]any{"Detail": domain.Detail(err)}, msg)
	}
	w.print("error", map[string]any{"Message": msg})
}

func (w *watcher) roomTitle() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.title
}

func (w *watcher) setTitle(t string) {
	w.mu.Lock()
	w.title = t
	w.mu.Unlock()
}

// pickRoom decides which room to follow: a join link first, then an explicit
// room id, then the room restored from the last run. With none of them it
// lists the user's rooms and fails.
func (w *watcher) pickRoom(ctx context.Context, joinURL, roomID string, restored navigation.State) (string, error) {
	if code, cleaned, ok := navigation.CaptureRoomParam(joinURL); ok {
		obslog.L().Debug("join_link_captured", zap.String("code", code), zap.String("url", cleaned))
		res, err := w.api.JoinRoom(ctx, code, w.userName)
		if err != nil {
			return "", err
		}
		w.print("joined", map[string]any{"Title": res.Room.Title, "Name": w.userName, "Code": res.Room.Code})
		return res.Room.ID, nil
	}
	if roomID != "" {
		return roomID, nil
	}
	if restored.RoomID != "" {
		return restored.RoomID, nil
	}

	rooms, err := w.api.ListRooms(ctx)
	if err != nil {
		return "", err
	}
	if len(rooms) > 0 {
		w.print("rooms_header", nil)
		for _, r := range rooms {
			w.print("room_line", map[string]any{"Code": r.Code, "Title": r.Title, "Resolved": r.Resolved()})
		}
	}
	return "", errNoRoom
}

var errNoRoom = errors.New("no room selected")

// follow points navigation at roomID, starting from its current snapshot.
func (w *watcher) follow(ctx context.Context, roomID string) error {
	snap, err := w.api.Snapshot(ctx, roomID)
	if err != nil {
		return err
	}
	w.setTitle(snap.Room.Title)
	w.nav.SelectRoom(roomID, map[string]*domain.RoomSnapshot{roomID: snap})
	w.handle(ctx, *snap)
	return nil
}

// handle applies one snapshot: navigation first, then whatever the current
// screen shows.
func (w *watcher) handle(ctx context.Context, snap domain.RoomSnapshot) {
	w.setTitle(snap.Room.Title)
	w.nav.OnSnapshot(&snap)
	st := w.nav.State()
	if st.RoomID != snap.Room.ID {
		return
	}
	switch st.Screen {
	case navigation.RoomLobby:
		w.print("lobby", map[string]any{"Participants": len(snap.Participants), "Options": len(snap.Options)})
	case navigation.Voting:
		w.print("voting", map[string]any{"Votes": len(snap.Votes), "Participants": len(snap.Participants)})
	case navigation.Results:
		w.showResults(ctx, &snap)
	}
}

func (w *watcher) showResults(ctx context.Context, snap *domain.RoomSnapshot) {
	res := tally.FromSnapshot(snap)
	for i, s := range res.Standings {
		w.print("standing", map[string]any{"Rank": i + 1, "Text": s.Option.Text, "Count": s.Count})
	}
	if snap.Room.Resolved() && snap.Room.FinalOptionID != nil {
		if opt, ok := snap.Option(*snap.Room.FinalOptionID); ok {
			w.print("winner", map[string]any{"Text": opt.Text})
		}
		return
	}
	if !w.claim(snap.Room.ID) {
		return
	}
	if _, ok := res.Winner(); ok {
		if _, err := w.api.Finalize(ctx, snap.Room.ID); err != nil {
			w.settleFailed(snap.Room.ID, err)
		}
		return
	}
	w.runTiebreak(ctx, snap.Room.ID, res.Winners)
}

// claim marks roomID as being settled by this watcher.
func (w *watcher) claim(roomID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settling[roomID] {
		return false
	}
	w.settling[roomID] = true
	return true
}

// settleFailed reports a failed write. Another participant winning the race
// shows up as a state error and is not worth a message; anything else frees
// the room for another try on the next snapshot.
func (w *watcher) settleFailed(roomID string, err error) {
	if errors.Is(err, domain.ErrState) {
		obslog.L().Info("settle_skipped", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	w.mu.Lock()
	delete(w.settling, roomID)
	w.mu.Unlock()
	obslog.L().Warn("settle_failed", zap.String("room_id", roomID), zap.Error(err))
	w.printErr(err)
}

func (w *watcher) runTiebreak(ctx context.Context, roomID string, winners []domain.Option) {
	flow := tiebreak.NewFlow(w.resolver, roomID, w.userID, winners, w.reveal)
	flow.OnStateChange(func(st tiebreak.FlowState) {
		obslog.L().Debug("tiebreak_flow", zap.String("room_id", roomID), zap.String("state", string(st)))
	})
	w.print("tie", map[string]any{"Count": len(winners), "Method": w.method})
	if err := flow.Start(w.method); err != nil {
		w.settleFailed(roomID, err)
		return
	}
	select {
	case <-flow.Revealed():
		if choice, method, ok := flow.Result(); ok {
			w.print("tiebreak_result", map[string]any{"Method": method, "Text": choice.Text})
		}
	case <-ctx.Done():
	}
	// leaving the flow writes the result, also when interrupted mid-animation
	if _, err := flow.Exit(context.WithoutCancel(ctx)); err != nil {
		w.settleFailed(roomID, err)
	}
}
