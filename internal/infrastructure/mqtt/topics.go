package mqtt

import "strconv"

// DefaultTopicPrefix roots every tempmon topic.
const DefaultTopicPrefix = "tempmon"

// Topics builds tempmon topic names under Prefix.
//
//	t := mqtt.Topics{Prefix: "tempmon"}
//	t.Reading(3)                   // tempmon/reading/3
//	t.DeviceStatus("192.168.0.21") // tempmon/device/192.168.0.21/status
type Topics struct {
	// Prefix defaults to DefaultTopicPrefix when empty.
	Prefix string
}

func (t Topics) join(parts ...string) string {
	s := t.Prefix
	if s == "" {
		s = DefaultTopicPrefix
	}
	for _, p := range parts {
		s += "/" + p
	}
	return s
}

// Reading is where processed readings of one sensor are published.
func (t Topics) Reading(sensorID int) string { return t.join("reading", strconv.Itoa(sensorID)) }

// DeviceStatus is the retained status of one node.
func (t Topics) DeviceStatus(address string) string { return t.join("device", address, "status") }

// BridgeHealth carries the retained health reports of the node transport.
func (t Topics) BridgeHealth() string { return t.join("health", "esp") }

// SystemStatus carries online/offline and the Last Will.
func (t Topics) SystemStatus() string { return t.join("system", "status") }

// CommandDiscover triggers an immediate discovery refresh.
func (t Topics) CommandDiscover() string { return t.join("command", "discover") }

// AllReadings matches every sensor's readings.
func (t Topics) AllReadings() string { return t.join("reading", "+") }

// AllDeviceStatus matches every node's status.
func (t Topics) AllDeviceStatus() string { return t.join("device", "+", "status") }
