package monitor

import (
	"time"

	"github.com/nerrad567/tempmon-core/internal/device"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
	"github.com/nerrad567/tempmon-core/internal/reading"
	"github.com/nerrad567/tempmon-core/internal/retrieval"
)

// Thresholds maps the monitor section to engine thresholds.
func Thresholds(m config.MonitorConfig) reading.Thresholds {
	return reading.Thresholds{
		MaxTempDifference: m.MaxTempDifference,
		MaxTimeDifference: m.TimeHorizon(),
	}
}

// Parameters maps the monitor section to the settings pushed to nodes.
func Parameters(m config.MonitorConfig) device.Parameters {
	return device.Parameters{
		MeasurementInterval: time.Duration(m.MeasurementIntervalMS) * time.Millisecond,
		TempDifference:      m.DeviceTempDifference,
	}
}

// PipelineConfig maps the monitor section to retrieval settings.
func PipelineConfig(m config.MonitorConfig) retrieval.Config {
	return retrieval.Config{
		Limit:        m.Fetch.Limit,
		MaxAttempts:  m.Fetch.MaxAttempts,
		RetryBackoff: m.Fetch.RetryBackoff,
		Slack:        m.Fetch.Slack,
		MaxPages:     m.Fetch.MaxPages,
		Workers:      m.Workers,
	}
}
