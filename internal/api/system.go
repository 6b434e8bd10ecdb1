package api

import (
	"context"
	"net/http"
	"time"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Reachable *bool  `json:"reachable,omitempty"`
	Devices   int    `json:"devices"`
	Sensors   int    `json:"sensors"`
}

// healthProbeTimeout bounds the reachability dial made by a health request.
const healthProbeTimeout = 2 * time.Second

// handleHealth returns the server health status.
//
// The status is "ok" when the reference host answers (or no probe is wired)
// and "degraded" otherwise. Both answer 200; the process itself is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		Devices: s.registry.Count(),
		Sensors: len(s.registry.Sensors()),
	}

	if s.reachability != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()
		reachable := s.reachability.IsReachable(ctx)
		resp.Reachable = &reachable
		if !reachable {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
