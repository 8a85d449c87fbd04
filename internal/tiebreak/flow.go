package tiebreak

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/park285/dicey-decisions/internal/domain"
)

// FlowState is the presentation state of one tiebreaker run.
type FlowState string

const (
	FlowIdle        FlowState = "idle"
	FlowAnimating   FlowState = "animating"
	FlowResultShown FlowState = "result_shown"
)

// Flow drives Idle -> Animating -> ResultShown. The draw happens when the
// method is chosen; only the reveal waits for the presentation delay.
// ResultShown is terminal. Leaving the flow commits the room resolution if
// that has not happened yet.
type Flow struct {
	resolver *Resolver
	roomID   string
	actorID  string
	winners  []domain.Option
	delay    time.Duration

	mu       sync.Mutex
	state    FlowState
	method   domain.TiebreakMethod
	choice   domain.Option
	timer    *time.Timer
	revealed chan struct{}
	stateCbs []func(FlowState)

	commitM   sync.Mutex
	committed bool
	room      *domain.Room
}

func NewFlow(resolver *Resolver, roomID, actorID string, winners []domain.Option, delay time.Duration) *Flow {
	return &Flow{
		resolver: resolver,
		roomID:   roomID,
		actorID:  actorID,
		winners:  append([]domain.Option(nil), winners...),
		delay:    delay,
		state:    FlowIdle,
		revealed: make(chan struct{}),
	}
}

// OnStateChange registers a callback run after every transition.
func (f *Flow) OnStateChange(cb func(FlowState)) {
	f.mu.Lock()
	f.stateCbs = append(f.stateCbs, cb)
	f.mu.Unlock()
}

func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start selects the method, draws the winner and begins the animation.
func (f *Flow) Start(method domain.TiebreakMethod) error {
	f.mu.Lock()
	if f.state != FlowIdle {
		f.mu.Unlock()
		return fmt.Errorf("%w: tiebreaker already started", domain.ErrState)
	}
	choice, err := f.resolver.Pick(f.winners, method)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.method = method
	f.choice = choice
	f.state = FlowAnimating
	f.mu.Unlock()

	f.notify(FlowAnimating)
	if f.delay <= 0 {
		f.reveal()
		return nil
	}
	f.mu.Lock()
	if f.state == FlowAnimating {
		f.timer = time.AfterFunc(f.delay, f.reveal)
	}
	f.mu.Unlock()
	return nil
}

// Revealed is closed once the result is shown.
func (f *Flow) Revealed() <-chan struct{} { return f.revealed }

// Result returns the drawn option and method once the result is shown.
func (f *Flow) Result() (domain.Option, domain.TiebreakMethod, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FlowResultShown {
		return domain.Option{}, "", false
	}
	return f.choice, f.method, true
}

// Exit leaves the flow. Leaving an idle flow changes nothing. Leaving while
// animating shows the result right away. A failed commit is returned and Exit
// may be called again to retry it.
func (f *Flow) Exit(ctx context.Context) (*domain.Room, error) {
	f.mu.Lock()
	st := f.state
	if st == FlowAnimating && f.timer != nil {
		f.timer.Stop()
	}
	f.mu.Unlock()

	switch st {
	case FlowIdle:
		return nil, nil
	case FlowAnimating:
		f.reveal()
	}

	f.commitM.Lock()
	defer f.commitM.Unlock()
	if f.committed {
		return f.room, nil
	}
	f.mu.Lock()
	choice, method := f.choice, f.method
	f.mu.Unlock()

	room, err := f.resolver.Commit(ctx, f.roomID, f.actorID, choice, method)
	if err != nil {
		return nil, err
	}
	f.committed = true
	f.room = room
	return room, nil
}

// Committed reports whether the resolution was written.
func (f *Flow) Committed() bool {
	f.commitM.Lock()
	defer f.commitM.Unlock()
	return f.committed
}

func (f *Flow) reveal() {
	f.mu.Lock()
	if f.state != FlowAnimating {
		f.mu.Unlock()
		return
	}
	f.state = FlowResultShown
	close(f.revealed)
	f.mu.Unlock()
	f.notify(FlowResultShown)
}

func (f *Flow) notify(st FlowState) {
	f.mu.Lock()
	cbs := slices.Clone(f.stateCbs)
	f.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(st)
		}
	}
}
