// Package realtime carries full room snapshots to clients over WebSocket.
package realtime

import (
	"net/http"

	"github.com/park285/dicey-decisions/internal/domain"
)

type FrameType string

const (
	FrameSnapshot FrameType = "snapshot"
)

// Frame is one server-to-client message. Every snapshot frame replaces the
// client's previous view of the room.
type Frame struct {
	Type     FrameType            `json:"type"`
	Snapshot *domain.RoomSnapshot `json:"snapshot,omitempty"`
}

// State is the connection state of a watch.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// ErrAlreadySubscribed is returned when a room already has a live watch.
var ErrAlreadySubscribed = errf("room already has a live subscription")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error          { return staticErr(s) }

// errorForStatus maps a refused handshake back to a domain error.
func errorForStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusUnauthorized:
		return domain.ErrAuth
	case http.StatusForbidden:
		return domain.ErrPermission
	case http.StatusNotFound:
		return domain.ErrNotFound
	default:
		return domain.ErrTransient
	}
}
