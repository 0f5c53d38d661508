package bandwidth

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iotsentry/internal/model"
	"iotsentry/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestReporter(t *testing.T) (*Reporter, *memory.Store) {
	t.Helper()
	store := memory.New()
	r := New(store, zerolog.Nop())
	r.now = func() time.Time { return testNow }
	return r, store
}

// seedUsage creates a device and one flow carrying the given byte count
// inside the reporting window.
func seedUsage(t *testing.T, store *memory.Store, mac, hostname string, bytes uint64) int64 {
	t.Helper()
	ctx := context.Background()
	d := &model.Device{
		MACAddress: mac,
		IPAddress:  "192.168.1." + mac[len(mac)-2:],
		Hostname:   hostname,
		LastSeen:   testNow,
	}
	require.NoError(t, store.UpsertDevice(ctx, d))
	require.NoError(t, store.AppendFlows(ctx, []*model.Flow{{
		ID:        fmt.Sprintf("flow-%s", mac),
		DeviceID:  d.ID,
		DestIP:    "93.184.216.34",
		DestPort:  443,
		Protocol:  "TCP",
		BytesSent: bytes,
		Timestamp: testNow.Add(-time.Hour),
	}}))
	return d.ID
}

func TestByDevice_SharesAndOrdering(t *testing.T) {
	r, store := newTestReporter(t)

	seedUsage(t, store, "aa:bb:cc:dd:ee:01", "camera", 750000)
	seedUsage(t, store, "aa:bb:cc:dd:ee:02", "speaker", 250000)

	usage, err := r.ByDevice(context.Background(), 24)
	require.NoError(t, err)
	require.Len(t, usage, 2)

	assert.Equal(t, "camera", usage[0].Hostname)
	assert.InDelta(t, 75.0, usage[0].Percentage, 0.01)
	assert.InDelta(t, 25.0, usage[1].Percentage, 0.01)

	// 750000 bytes over 24h: 750000*8 / (24*3600*1e6) Mbps.
	assert.InDelta(t, 750000*8.0/(24*3600*1e6), usage[0].AvgMbps, 1e-12)
}

func TestByDevice_ZeroWindowFloored(t *testing.T) {
	r, store := newTestReporter(t)

	// seedUsage places the flow one hour back, inside the floored window.
	seedUsage(t, store, "aa:bb:cc:dd:ee:01", "camera", 750000)

	usage, err := r.ByDevice(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, usage, 1)

	// A zero-hour window must not divide the rate by zero; it is treated
	// as a one-hour window.
	assert.False(t, math.IsInf(usage[0].AvgMbps, 1))
	assert.InDelta(t, 750000*8.0/(3600*1e6), usage[0].AvgMbps, 1e-12)
}

func TestDetectHogs_Grades(t *testing.T) {
	r, store := newTestReporter(t)

	seedUsage(t, store, "aa:bb:cc:dd:ee:01", "nas", 600000)     // 60% -> critical
	seedUsage(t, store, "aa:bb:cc:dd:ee:02", "tv", 350000)      // 35% -> high
	seedUsage(t, store, "aa:bb:cc:dd:ee:03", "printer", 50000)  // 5%  -> not a hog

	hogs, err := r.DetectHogs(context.Background(), 24, DefaultHogThresholdPct)
	require.NoError(t, err)
	require.Len(t, hogs, 2)

	assert.Equal(t, "nas", hogs[0].Hostname)
	assert.Equal(t, HogCritical, hogs[0].Severity)
	assert.Equal(t, "tv", hogs[1].Hostname)
	assert.Equal(t, HogHigh, hogs[1].Severity)
}

func TestDetectHogs_MediumGrade(t *testing.T) {
	r, store := newTestReporter(t)

	seedUsage(t, store, "aa:bb:cc:dd:ee:01", "nas", 25000)
	seedUsage(t, store, "aa:bb:cc:dd:ee:02", "tv", 25000)
	seedUsage(t, store, "aa:bb:cc:dd:ee:03", "hub", 25000)
	seedUsage(t, store, "aa:bb:cc:dd:ee:04", "cam", 25000)

	// Four-way even split: every device sits at 25%, below high.
	hogs, err := r.DetectHogs(context.Background(), 24, DefaultHogThresholdPct)
	require.NoError(t, err)
	require.Len(t, hogs, 4)
	for _, h := range hogs {
		assert.Equal(t, HogMedium, h.Severity)
	}
}

func TestDetectHogs_InsufficientTotalTraffic(t *testing.T) {
	r, store := newTestReporter(t)

	// 999 bytes total: below the data floor, no classification at all.
	seedUsage(t, store, "aa:bb:cc:dd:ee:01", "cam", 999)

	hogs, err := r.DetectHogs(context.Background(), 24, DefaultHogThresholdPct)
	require.NoError(t, err)
	assert.Empty(t, hogs)
}

func TestDetectHogs_SmallDeviceNeverFlags(t *testing.T) {
	r, store := newTestReporter(t)

	// 100% share but under the per-device floor.
	seedUsage(t, store, "aa:bb:cc:dd:ee:01", "sensor", 5000)

	hogs, err := r.DetectHogs(context.Background(), 24, DefaultHogThresholdPct)
	require.NoError(t, err)
	assert.Empty(t, hogs)
}

func TestTimeline_Buckets(t *testing.T) {
	r, store := newTestReporter(t)
	ctx := context.Background()

	id := seedUsage(t, store, "aa:bb:cc:dd:ee:01", "cam", 1000)
	require.NoError(t, store.AppendFlows(ctx, []*model.Flow{{
		ID: "flow-2", DeviceID: id, DestIP: "1.2.3.4", DestPort: 443, Protocol: "TCP",
		BytesSent: 2000, Timestamp: testNow.Add(-time.Hour).Add(10 * time.Minute),
	}}))

	buckets, err := r.Timeline(ctx, id, 24)
	require.NoError(t, err)
	require.Len(t, buckets, 1, "flows in the same hour share a bucket")
	assert.Equal(t, uint64(3000), buckets[0].BytesSent)
	assert.Equal(t, uint64(2), buckets[0].FlowCount)
}

func TestReport_Rendering(t *testing.T) {
	r, store := newTestReporter(t)

	seedUsage(t, store, "aa:bb:cc:dd:ee:01", "media-server", 800000)
	seedUsage(t, store, "aa:bb:cc:dd:ee:02", "thermostat", 200000)

	report, err := r.Report(context.Background(), 24)
	require.NoError(t, err)

	assert.Contains(t, report, "BANDWIDTH REPORT (last 24h)")
	assert.Contains(t, report, "media-server")
	assert.Contains(t, report, "BANDWIDTH HOGS DETECTED")
	assert.Contains(t, report, "[critical] media-server")
}

func TestReport_Empty(t *testing.T) {
	r, _ := newTestReporter(t)

	report, err := r.Report(context.Background(), 24)
	require.NoError(t, err)
	assert.Contains(t, report, "No traffic data available")
}
