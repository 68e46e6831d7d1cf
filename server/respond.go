package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/security"
	"github.com/jdziat/crewrun/pkg/worker"
)

// maxBodyBytes bounds request bodies. Goals are limited separately.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error *core.ErrorInfo `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with its kind and an HTTP status derived from it.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	info := security.SanitizeErrorInfo(core.NewErrorInfo(err))
	status := statusFor(err, info.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: info})
}

func statusFor(err error, kind core.ErrorKind) int {
	switch {
	case errors.Is(err, core.ErrNoAgent):
		return http.StatusNotImplemented
	case errors.Is(err, worker.ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindInvalidRequest, core.KindConfiguration:
		return http.StatusBadRequest
	case core.KindConflict:
		return http.StatusConflict
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindConnectivity, core.KindTransient:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", core.ErrMalformedRequest, err)
	}
	return nil
}
