package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tempmon-core/internal/device"
)

// deviceDetail is a device with the bookkeeping of its sensors.
type deviceDetail struct {
	device.Device
	Sensors []device.Sensor `json:"sensors"`
}

// handleListDevices returns all registered devices ordered by address.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device and its sensors.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	dev, err := s.registry.Device(address)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to get device", "address", address, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	detail := deviceDetail{Device: dev, Sensors: []device.Sensor{}}
	for _, sensor := range s.registry.Sensors() {
		if sensor.Address == address {
			detail.Sensors = append(detail.Sensors, sensor)
		}
	}

	writeJSON(w, http.StatusOK, detail)
}
