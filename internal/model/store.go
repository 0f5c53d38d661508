package model

import (
	"context"
	"time"
)

// Store is the query interface over the relational flow/alert/device store.
// Flow and alert writes are append-only; retrying a failed flush may insert
// duplicate flow rows, which downstream rollups accept.
type Store interface {
	// Devices. The discovery subsystem writes these; the pipeline reads
	// them to attribute flows and to feed detector context.
	UpsertDevice(ctx context.Context, d *Device) error
	DeviceByID(ctx context.Context, id int64) (*Device, error)
	DeviceByIP(ctx context.Context, ip string) (*Device, error)
	DeviceByMAC(ctx context.Context, mac string) (*Device, error)
	Devices(ctx context.Context) ([]*Device, error)
	// DevicesSharingIP returns devices holding the given address under a
	// different MAC, for address-takeover detection.
	DevicesSharingIP(ctx context.Context, ip, excludeMAC string) ([]*Device, error)

	// Flows.
	AppendFlows(ctx context.Context, flows []*Flow) error
	FlowsByDevice(ctx context.Context, deviceID int64, limit int) ([]*Flow, error)
	// FlowStats aggregates avg/max bytes-sent and flow count over all
	// historical flows of a device. ok is false when the device has none.
	FlowStats(ctx context.Context, deviceID int64) (stats Baseline, ok bool, err error)
	// DailyByteAverage averages per-day byte totals over [from, to).
	// Days without traffic do not contribute zero-days to the average.
	DailyByteAverage(ctx context.Context, deviceID int64, from, to time.Time) (float64, error)
	BytesSince(ctx context.Context, deviceID int64, since time.Time) (uint64, error)
	CountFlowsTo(ctx context.Context, deviceID int64, destIP string, since time.Time) (uint64, error)
	// DistinctCountries lists distinct destination countries since the
	// given time, excluding "Local Network", "Unknown" and empty values.
	DistinctCountries(ctx context.Context, deviceID int64, since time.Time) ([]string, error)

	// Rollups for the bandwidth reporter. deviceID 0 means all devices.
	UsageByDevice(ctx context.Context, since time.Time) ([]DeviceUsage, error)
	Timeline(ctx context.Context, deviceID int64, since time.Time) ([]TimelineBucket, error)
	TopDestinations(ctx context.Context, deviceID int64, limit int) ([]Destination, error)

	// Alerts.
	AppendAlerts(ctx context.Context, alerts []*Alert) error
	RecentAlerts(ctx context.Context, limit int) ([]*Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) error

	Totals(ctx context.Context) (Totals, error)
	Close() error
}
