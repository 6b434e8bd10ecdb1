package api

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tempmon-core/internal/reading"
)

// sensorView merges registry bookkeeping with the stored series of one sensor.
// A sensor can be registered without rows, or have rows after its node left.
type sensorView struct {
	ID              int        `json:"id"`
	Address         string     `json:"address,omitempty"`
	Registered      bool       `json:"registered"`
	LastRequestTime *time.Time `json:"last_request_time,omitempty"`
	Records         int64      `json:"records"`
	LastTemperature *float64   `json:"last_temperature,omitempty"`
	LastTime        *time.Time `json:"last_time,omitempty"`
}

// handleListSensors returns every sensor known to the registry or the store.
func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	stored, err := s.readings.ListSensors(r.Context())
	if err != nil {
		s.logger.Error("failed to list sensors", "error", err)
		writeInternalError(w, "failed to list sensors")
		return
	}

	views := make(map[int]*sensorView)
	for _, sensor := range s.registry.Sensors() {
		v := &sensorView{ID: sensor.ID, Address: sensor.Address, Registered: true}
		if !sensor.LastRequestTime.IsZero() {
			t := sensor.LastRequestTime
			v.LastRequestTime = &t
		}
		views[sensor.ID] = v
	}
	for _, summary := range stored {
		v, ok := views[summary.SensorID]
		if !ok {
			v = &sensorView{ID: summary.SensorID}
			views[summary.SensorID] = v
		}
		temp, at := summary.LastTemp, summary.LastTime
		v.Records = summary.Records
		v.LastTemperature = &temp
		v.LastTime = &at
	}

	out := make([]sensorView, 0, len(views))
	for _, v := range views {
		out = append(out, *v)
	}
	slices.SortFunc(out, func(a, b sensorView) int { return a.ID - b.ID })

	writeJSON(w, http.StatusOK, map[string]any{"sensors": out, "count": len(out)})
}

// handleListReadings returns the newest stored rows of one sensor, newest first.
//
// Query parameters:
//   - limit: max rows (default 50, max 1000)
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeBadRequest(w, "sensor id must be a positive integer")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.readings.ListRecent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list readings", "sensor_id", id, "error", err)
		writeInternalError(w, "failed to list readings")
		return
	}
	if records == nil {
		records = []reading.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sensor_id": id,
		"readings":  records,
		"count":     len(records),
	})
}
