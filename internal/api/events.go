package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/tempmon-core/internal/audit"
)

// handleListEvents returns paginated device events, newest first.
//
// Query parameters:
//   - action: filter by action (added, relocated, removed, reset)
//   - address: filter by device address
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "device event trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Address: q.Get("address"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list device events", "error", err)
		writeInternalError(w, "failed to list device events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
