package realtime

import "github.com/park285/dicey-decisions/internal/domain"

// Latest is a one-slot mailbox keeping only the newest snapshot. Snapshots
// are complete, so dropping an unread older one loses nothing. Put must be
// called from a single goroutine.
type Latest struct {
	ch chan domain.RoomSnapshot
}

func NewLatest() *Latest {
	return &Latest{ch: make(chan domain.RoomSnapshot, 1)}
}

func (l *Latest) Put(s domain.RoomSnapshot) {
	select {
	case l.ch <- s:
		return
	default:
	}
	select {
	case <-l.ch:
	default:
	}
	l.ch <- s
}

func (l *Latest) C() <-chan domain.RoomSnapshot { return l.ch }
