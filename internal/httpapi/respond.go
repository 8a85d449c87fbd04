package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("http_encode_error", zap.Error(err))
	}
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: request body is not valid JSON", domain.ErrValidation)
	}
	return nil
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindPermission:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindCapacity, domain.KindDuplicateVote, domain.KindState:
		return http.StatusConflict
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the catalog message of its kind. Details of
// transient and internal failures stay in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	detail := domain.Detail(err)
	switch kind {
	case domain.KindInternal:
		obslog.L().Error("http_internal_error", zap.String("path", r.URL.Path), zap.Error(err))
		detail = ""
	case domain.KindTransient:
		obslog.L().Warn("http_transient_error", zap.String("path", r.URL.Path), zap.Error(err))
		detail = ""
	}
	s.metrics.Error(string(kind))

	msg := s.messages.Text("errors."+string(kind), map[string]any{"Detail": detail}, http.StatusText(status))
	writeJSON(w, status, decisiondto.ErrorResponse{Error: decisiondto.ErrorBody{
		Kind:      string(kind),
		Message:   msg,
		Detail:    detail,
		Retryable: domain.Retryable(err),
	}})
}
