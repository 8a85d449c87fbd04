package apiclient

import (
	"encoding/json"
	"fmt"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
)

// APIError is a non-2xx answer. It unwraps to the domain sentinel of its
// kind, so errors.Is(err, domain.ErrCapacity) works across the wire.
type APIError struct {
	Status  int
	Kind    domain.Kind
	Message string
	Detail  string
	err     error
}

func (e *APIError) Error() string {
	head := e.Message
	if e.err != nil {
		head = e.err.Error()
	}
	if e.Detail != "" {
		return head + ": " + e.Detail
	}
	return head
}

func (e *APIError) Unwrap() error { return e.err }

func decodeError(status int, body []byte) error {
	var r decisiondto.ErrorResponse
	if err := json.Unmarshal(body, &r); err != nil || r.Error.Kind == "" {
		e := &APIError{Status: status, Kind: domain.KindInternal, Message: fmt.Sprintf("dicey api error: status=%d body=%s", status, truncate(string(body), 512))}
		if status >= 500 {
			e.Kind, e.err = domain.KindTransient, domain.ErrTransient
		}
		return e
	}
	e := &APIError{
		Status:  status,
		Kind:    domain.Kind(r.Error.Kind),
		Message: r.Error.Message,
		Detail:  r.Error.Detail,
		err:     domain.SentinelFor(domain.Kind(r.Error.Kind)),
	}
	if e.err == nil && r.Error.Retryable {
		// rate limiting has no domain kind of its own
		e.err = domain.ErrTransient
	}
	return e
}
