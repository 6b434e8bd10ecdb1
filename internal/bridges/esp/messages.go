package esp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DiscoverToken is broadcast to ask nodes to announce themselves.
const DiscoverToken = "DISCOVER"

// announcementMarker must appear in every node reply.
const announcementMarker = "DEVICE"

// announcementPattern matches replies such as: 'DEVICE' ,2, [1, 2]
var announcementPattern = regexp.MustCompile(`^\s*'?DEVICE'?\s*,\s*(\d+)\s*,\s*\[([^\[\]]*)\]\s*$`)

// TempRecord is one buffered sample as reported by a node.
type TempRecord struct {
	// SensorID is the probe identifier.
	SensorID int `json:"id"`

	// Temperature is in degrees Celsius; -127 marks a failed read.
	Temperature float64 `json:"t"`

	// AgeMS is how long ago, in milliseconds, the node took the sample.
	AgeMS int64 `json:"ti"`
}

// Age returns the record age as a Duration.
func (r TempRecord) Age() time.Duration {
	return time.Duration(r.AgeMS) * time.Millisecond
}

// TempPage is one /temp response.
type TempPage struct {
	// Remain is how many older records are still buffered on the node.
	Remain int `json:"remain"`

	// Records are ordered as the node sent them.
	Records []TempRecord `json:"temperature_data"`

	// NoContent is set when the node answered 204 or with an empty body.
	NoContent bool `json:"-"`
}

// TempQuery selects a /temp page.
type TempQuery struct {
	// Limit is the page size; nodes clamp it to 1..100.
	Limit int

	// Cursor is a minimum record age, sent as "time" in milliseconds. Nodes
	// return only records at least this old. Zero omits it and the node
	// returns its whole buffer.
	Cursor time.Duration
}

// Announcement is a node's reply to DISCOVER.
type Announcement struct {
	// Address is the IPv4 address the reply came from.
	Address string `json:"address"`

	// SensorIDs are the probes attached to the node.
	SensorIDs []int `json:"sensor_ids"`
}

// ParseAnnouncement extracts sensor ids from a discovery reply.
//
// The payload must be the DEVICE marker, a count, and a bracketed list of
// comma-separated integers. Anything else is rejected with
// ErrMalformedAnnouncement; the payload is never evaluated.
//
// Parameters:
//   - payload: Raw UDP datagram
//
// Returns:
//   - []int: Sensor ids in announced order, duplicates removed
//   - error: ErrMalformedAnnouncement if the payload does not match
func ParseAnnouncement(payload []byte) ([]int, error) {
	s := string(payload)
	if !strings.Contains(s, announcementMarker) {
		return nil, fmt.Errorf("%w: missing %s marker", ErrMalformedAnnouncement, announcementMarker)
	}

	m := announcementPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAnnouncement, s)
	}

	body := strings.TrimSpace(m[2])
	if body == "" {
		return []int{}, nil
	}

	fields := strings.Split(body, ",")
	ids := make([]int, 0, len(fields))
	seen := make(map[int]bool, len(fields))

	for _, f := range fields {
		f = strings.TrimSpace(f)
		id, err := strconv.Atoi(f)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: bad sensor id %q", ErrMalformedAnnouncement, f)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	return ids, nil
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the node bridge's operational status.
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// BridgeStatistics contains node traffic counters.
type BridgeStatistics struct {
	Requests    uint64     `json:"requests"`
	Failures    uint64     `json:"failures"`
	Records     uint64     `json:"records"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats ClientStats, deviceCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
		Statistics: &BridgeStatistics{
			Requests: stats.Requests,
			Failures: stats.Failures,
			Records:  stats.Records,
		},
	}

	if !stats.LastSuccess.IsZero() {
		last := stats.LastSuccess.UTC()
		msg.Statistics.LastSuccess = &last
	}

	return msg
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
