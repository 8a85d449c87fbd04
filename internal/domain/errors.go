package domain

import (
	"errors"
	"strings"
)

// Kind classifies a failure for the user-facing layer.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuth          Kind = "auth"
	KindPermission    Kind = "permission"
	KindNotFound      Kind = "not_found"
	KindCapacity      Kind = "capacity"
	KindDuplicateVote Kind = "duplicate_vote"
	KindState         Kind = "state"
	KindTransient     Kind = "transient"
	KindInternal      Kind = "internal"
)

// Errors. Wrap them with fmt.Errorf("%w: detail", ErrX) to add context.
var (
	ErrValidation    = errf("invalid input")
	ErrAuth          = errf("not signed in")
	ErrPermission    = errf("not allowed")
	ErrNotFound      = errf("not found")
	ErrCapacity      = errf("room is full")
	ErrDuplicateVote = errf("already voted in this room")
	ErrState         = errf("not allowed in the current room state")
	ErrTransient     = errf("temporarily unavailable")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error          { return staticErr(s) }

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrAuth, KindAuth},
	{ErrPermission, KindPermission},
	{ErrNotFound, KindNotFound},
	{ErrCapacity, KindCapacity},
	{ErrDuplicateVote, KindDuplicateVote},
	{ErrState, KindState},
	{ErrTransient, KindTransient},
}

// KindOf maps err to its kind; unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// SentinelFor returns the sentinel error of a kind, or nil for internal/unknown.
func SentinelFor(kind Kind) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}

// Retryable reports whether err is worth retrying automatically.
func Retryable(err error) bool { return KindOf(err) == KindTransient }

// Detail strips the sentinel prefix from a wrapped error message, leaving the
// context added by the caller ("title is required").
func Detail(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			prefix := k.err.Error() + ": "
			if strings.HasPrefix(msg, prefix) {
				return strings.TrimPrefix(msg, prefix)
			}
			if msg == k.err.Error() {
				return ""
			}
		}
	}
	return msg
}
