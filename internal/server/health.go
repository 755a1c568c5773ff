package server

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks"`
}

// handleHealth pings every dependency in parallel and answers 503 if any fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]checkResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.checks[name].Ping(ctx); err != nil {
				results[i] = checkResult{Status: "unhealthy", Message: err.Error()}
				return
			}
			results[i] = checkResult{Status: "healthy"}
		}()
	}
	wg.Wait()

	resp := healthResponse{Status: "healthy", Timestamp: time.Now().UTC(), Checks: make(map[string]checkResult, len(names))}
	status := http.StatusOK
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i].Status != "healthy" {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
