package bandwidth

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"iotsentry/internal/model"
)

// DefaultHogThresholdPct is the minimum share of total traffic for a device
// to count as a bandwidth hog.
const DefaultHogThresholdPct = 20.0

const (
	// Devices below this byte count never classify as hogs, whatever
	// their share.
	hogDeviceFloorBytes = 10000
	// Below this much total traffic the window has insufficient data and
	// the hog list is empty, not "no issue".
	hogTotalFloorBytes = 1000
)

// Hog severity classifications. These grade consumption share, not alert
// severity, so "critical" exists here.
const (
	HogMedium   = "medium"
	HogHigh     = "high"
	HogCritical = "critical"
)

// Reporter produces rollup reports over persisted flows: per-device
// consumption, hog detection, hourly timelines, and top destinations.
type Reporter struct {
	store model.Store
	log   zerolog.Logger

	now func() time.Time
}

// New creates a Reporter over the given store.
func New(store model.Store, log zerolog.Logger) *Reporter {
	return &Reporter{
		store: store,
		log:   log.With().Str("component", "bandwidth").Logger(),
		now:   time.Now,
	}
}

// ByDevice sums bytes and flow counts per device over the trailing window
// and derives each device's share of total bytes and average-Mbps estimate.
// Ordered descending by bytes.
func (r *Reporter) ByDevice(ctx context.Context, windowHours int) ([]model.DeviceUsage, error) {
	if windowHours < 1 {
		windowHours = 1
	}
	since := r.now().Add(-time.Duration(windowHours) * time.Hour)
	usage, err := r.store.UsageByDevice(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query per-device usage: %w", err)
	}

	var total uint64
	for _, u := range usage {
		total += u.BytesSent
	}

	for i := range usage {
		usage[i].AvgMbps = float64(usage[i].BytesSent) * 8 / (float64(windowHours) * 3600 * 1e6)
		if total > 0 {
			usage[i].Percentage = float64(usage[i].BytesSent) / float64(total) * 100
		}
	}

	sort.SliceStable(usage, func(i, j int) bool {
		return usage[i].BytesSent > usage[j].BytesSent
	})
	return usage, nil
}

// DetectHogs returns the devices whose traffic share meets the threshold,
// graded critical (>=50%), high (>=30%) or medium. Windows with less than
// 1 KB of total traffic yield an empty list.
func (r *Reporter) DetectHogs(ctx context.Context, windowHours int, thresholdPct float64) ([]model.DeviceUsage, error) {
	usage, err := r.ByDevice(ctx, windowHours)
	if err != nil {
		return nil, err
	}

	var total uint64
	for _, u := range usage {
		total += u.BytesSent
	}
	if total < hogTotalFloorBytes {
		return nil, nil
	}

	var hogs []model.DeviceUsage
	for _, u := range usage {
		if u.BytesSent < hogDeviceFloorBytes || u.Percentage < thresholdPct {
			continue
		}
		switch {
		case u.Percentage >= 50:
			u.Severity = HogCritical
		case u.Percentage >= 30:
			u.Severity = HogHigh
		default:
			u.Severity = HogMedium
		}
		hogs = append(hogs, u)
	}
	return hogs, nil
}

// Timeline buckets bytes by hour for charting. deviceID 0 covers all
// devices.
func (r *Reporter) Timeline(ctx context.Context, deviceID int64, windowHours int) ([]model.TimelineBucket, error) {
	since := r.now().Add(-time.Duration(windowHours) * time.Hour)
	buckets, err := r.store.Timeline(ctx, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	return buckets, nil
}

// TopDestinations groups flows by destination address/country/city, ordered
// by bytes descending. deviceID 0 covers all devices.
func (r *Reporter) TopDestinations(ctx context.Context, deviceID int64, limit int) ([]model.Destination, error) {
	dests, err := r.store.TopDestinations(ctx, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top destinations: %w", err)
	}
	return dests, nil
}
