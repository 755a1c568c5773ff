package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/joseph-ayodele/essay-grader/internal/common"
)

const kindRateLimited = "rate_limited"

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			s.writeError(w, r, err)
		}
	}
}

// writeError answers with the status and kind of err. Internal failures get a
// generic message; their detail only goes to the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	kind := common.Kind(err)
	log := common.LoggerWithRequest(r.Context(), s.logger)

	msg := err.Error()
	var appErr *common.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		msg = appErr.Message
	}

	switch {
	case kind == common.KindInternal:
		log.Error("http.internal_error", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	case status >= 500:
		log.Warn("http.upstream_error", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	if kind == common.KindAlreadyProcessing {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(s.cfg.RetryAfter.Seconds()))))
	}
	writeJSON(w, status, errorBody{Error: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
