package api

import (
	"net/http"
	"runtime"
	"time"
)

// staleSensorAge is how long a sensor may go without a stored reading before
// the metrics count it as stale.
const staleSensorAge = time.Hour

const mib = 1 << 20

// SystemMetrics is the /metrics body.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          *MQTTMetrics    `json:"mqtt,omitempty"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics are Go runtime figures at the time of the request.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics counts attached stream subscribers.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics reports the bridge connection.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics summarises the registry. NeverPolled sensors have no stored
// reading yet; SensorsStale have none newer than an hour.
type DeviceMetrics struct {
	Total        int `json:"total"`
	Sensors      int `json:"sensors"`
	NeverPolled  int `json:"never_polled"`
	SensorsStale int `json:"sensors_stale"`
}

// DatabaseMetrics mirrors the sql.DB pool counters.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func runtimeMetrics() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(ms.Alloc) / mib,
		MemoryTotalMB: float64(ms.TotalAlloc) / mib,
		NumGC:         ms.NumGC,
	}
}

func (s *Server) deviceMetrics(now time.Time) DeviceMetrics {
	sensors := s.registry.Sensors()
	m := DeviceMetrics{Total: s.registry.Count(), Sensors: len(sensors)}
	for _, sn := range sensors {
		if sn.LastRequestTime.IsZero() {
			m.NeverPolled++
		} else if now.Sub(sn.LastRequestTime) > staleSensorAge {
			m.SensorsStale++
		}
	}
	return m
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	out := SystemMetrics{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.startTime) / time.Second),
		Runtime:       runtimeMetrics(),
		Devices:       s.deviceMetrics(now),
	}

	if s.hub != nil {
		out.WebSocket.ConnectedClients = s.hub.Subscribers()
	}
	if s.mqtt != nil {
		out.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.db != nil {
		st := s.db.Stats()
		out.Database = DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, out)
}
