// Package navigation decides which screen a client shows for the room it
// follows. Screens advance automatically as room snapshots arrive until the
// user navigates by hand.
package navigation

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/internal/roomphase"
	"go.uber.org/zap"
)

type Screen string

const (
	Dashboard  Screen = "dashboard"
	CreateRoom Screen = "create-room"
	JoinRoom   Screen = "join-room"
	RoomLobby  Screen = "room-lobby"
	Voting     Screen = "voting"
	Results    Screen = "results"
)

// State is what the controller persists.
type State struct {
	Screen         Screen `json:"screen"`
	RoomID         string `json:"room_id,omitempty"`
	AutoNavigation bool   `json:"auto_navigation"`
}

const defaultKey = "dicey:navigation"

type Controller struct {
	mu        sync.Mutex
	state     State
	listeners []func(State)

	persist Persistence
	key     string
}

type Option func(*Controller)

// WithPersistence saves every state change under key and lets Restore read it back.
func WithPersistence(p Persistence, key string) Option {
	return func(c *Controller) {
		c.persist = p
		if key != "" {
			c.key = key
		}
	}
}

func New(opts ...Option) *Controller {
	c := &Controller{state: State{Screen: Dashboard}, key: defaultKey}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore loads the persisted state, if any. Unknown screens fall back to
// the dashboard.
func (c *Controller) Restore(ctx context.Context) (State, error) {
	if c.persist == nil {
		return c.State(), nil
	}
	raw, err := c.persist.Load(ctx, c.key)
	if err != nil || raw == nil {
		return c.State(), err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil || !st.Screen.valid() {
		obslog.L().Warn("navigation_restore_invalid", zap.ByteString("raw", raw))
		return c.State(), nil
	}
	c.apply(st, false)
	return st, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChange registers a listener called with every new state.
func (c *Controller) OnChange(cb func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, cb)
	c.mu.Unlock()
}

// OnSnapshot reacts to a realtime snapshot. Snapshots of other rooms and
// anything arriving while auto-navigation is off are ignored. The controller
// moves forward into voting or results whenever the phase asks for it, and
// back to the lobby only from voting or results. It reports whether the
// screen changed.
func (c *Controller) OnSnapshot(snap *domain.RoomSnapshot) bool {
	if snap == nil {
		return false
	}
	target := ScreenFor(roomphase.Of(snap))
	return c.transition(func(cur State) (State, bool) {
		if !cur.AutoNavigation || cur.RoomID == "" || snap.Room.ID != cur.RoomID {
			return cur, false
		}
		switch target {
		case Voting, Results:
			if cur.Screen == target {
				return cur, false
			}
		case RoomLobby:
			if cur.Screen != Voting && cur.Screen != Results {
				return cur, false
			}
		}
		cur.Screen = target
		return cur, true
	}, true)
}

// Navigate is a manual screen change. It turns auto-navigation off and
// forgets the followed room.
func (c *Controller) Navigate(screen Screen) {
	c.apply(State{Screen: screen}, true)
}

// SelectRoom follows roomID with auto-navigation on. The starting screen comes
// from the room's known snapshot; an unknown room starts in the lobby until
// its first snapshot arrives.
func (c *Controller) SelectRoom(roomID string, known map[string]*domain.RoomSnapshot) {
	screen := RoomLobby
	if snap, ok := known[roomID]; ok && snap != nil {
		screen = ScreenFor(roomphase.Of(snap))
	}
	c.apply(State{Screen: screen, RoomID: roomID, AutoNavigation: true}, true)
}

// ScreenFor maps a room phase to its screen.
func ScreenFor(p roomphase.Phase) Screen {
	switch p {
	case roomphase.Voting:
		return Voting
	case roomphase.Resolved:
		return Results
	default:
		return RoomLobby
	}
}

func (c *Controller) apply(next State, save bool) bool {
	return c.transition(func(State) (State, bool) { return next, true }, save)
}

// transition runs decide under the lock and, when it yields a different
// state, stores it and notifies listeners outside the lock.
func (c *Controller) transition(decide func(cur State) (State, bool), save bool) bool {
	c.mu.Lock()
	next, ok := decide(c.state)
	if !ok || next == c.state {
		c.mu.Unlock()
		return false
	}
	c.state = next
	cbs := slices.Clone(c.listeners)
	c.mu.Unlock()

	if save {
		c.save(next)
	}
	for _, cb := range cbs {
		if cb != nil {
			cb(next)
		}
	}
	return true
}

func (c *Controller) save(st State) {
	if c.persist == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.persist.Save(ctx, c.key, raw); err != nil {
		obslog.L().Warn("navigation_save_error", zap.String("key", c.key), zap.Error(err))
	}
}

func (s Screen) valid() bool {
	switch s {
	case Dashboard, CreateRoom, JoinRoom, RoomLobby, Voting, Results:
		return true
	default:
		return false
	}
}
