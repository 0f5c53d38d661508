package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"iotsentry/internal/model"
)

func TestFormatAlertSummary(t *testing.T) {
	alerts := []*model.Alert{
		{
			DeviceID:  1,
			AlertType: model.AlertTorConnection,
			Severity:  model.SeverityHigh,
			Message:   "Device connecting to Tor exit node (185.220.101.9)",
			Timestamp: time.Date(2026, 3, 1, 3, 15, 0, 0, time.UTC),
		},
		{
			DeviceID:  2,
			AlertType: model.AlertUnusualTime,
			Severity:  model.SeverityMedium,
			Message:   "Connection to 93.184.216.34 (United States) during unusual hours (03:15)",
			Timestamp: time.Date(2026, 3, 1, 3, 15, 0, 0, time.UTC),
		},
	}

	subject, body := FormatAlertSummary(alerts)

	assert.Equal(t, "IoT Sentry Alert Summary (2 Triggered)", subject)
	assert.Contains(t, body, "tor_connection (high)")
	assert.Contains(t, body, "Device 1:")
	assert.Contains(t, body, "unusual_time (medium)")
	assert.Contains(t, body, "2026-03-01 03:15:00")
}
