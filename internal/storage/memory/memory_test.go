package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iotsentry/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestUpsertDevice(t *testing.T) {
	s := New()
	ctx := context.Background()

	d := &model.Device{MACAddress: "aa:bb:cc:dd:ee:01", IPAddress: "192.168.1.10", Hostname: "cam"}
	require.NoError(t, s.UpsertDevice(ctx, d))
	assert.Equal(t, int64(1), d.ID)

	// Same MAC updates in place and keeps the ID.
	d2 := &model.Device{MACAddress: "aa:bb:cc:dd:ee:01", IPAddress: "192.168.1.20", Hostname: "cam-renamed"}
	require.NoError(t, s.UpsertDevice(ctx, d2))
	assert.Equal(t, int64(1), d2.ID)

	got, err := s.DeviceByMAC(ctx, "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "192.168.1.20", got.IPAddress)
	assert.Equal(t, "cam-renamed", got.Hostname)

	// The old address no longer resolves.
	byIP, err := s.DeviceByIP(ctx, "192.168.1.10")
	require.NoError(t, err)
	assert.Nil(t, byIP)

	byID, err := s.DeviceByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "cam-renamed", byID.Hostname)
}

func TestDeviceLookupMisses(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Misses are nil without error, not an error condition.
	d, err := s.DeviceByIP(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = s.DeviceByMAC(ctx, "ff:ff:ff:ff:ff:ff")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = s.DeviceByID(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestDevicesSharingIP(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertDevice(ctx, &model.Device{MACAddress: "aa:aa:aa:aa:aa:01", IPAddress: "192.168.1.10"}))
	require.NoError(t, s.UpsertDevice(ctx, &model.Device{MACAddress: "aa:aa:aa:aa:aa:02", IPAddress: "192.168.1.10"}))
	require.NoError(t, s.UpsertDevice(ctx, &model.Device{MACAddress: "aa:aa:aa:aa:aa:03", IPAddress: "192.168.1.11"}))

	shared, err := s.DevicesSharingIP(ctx, "192.168.1.10", "aa:aa:aa:aa:aa:02")
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "aa:aa:aa:aa:aa:01", shared[0].MACAddress)
}

func seedFlows(t *testing.T, s *Store, deviceID int64, flows ...*model.Flow) {
	t.Helper()
	for i, f := range flows {
		f.DeviceID = deviceID
		if f.ID == "" {
			f.ID = fmt.Sprintf("flow-%d-%d", deviceID, i)
		}
	}
	require.NoError(t, s.AppendFlows(context.Background(), flows))
}

func TestFlowsByDevice_NewestFirstWithLimit(t *testing.T) {
	s := New()
	seedFlows(t, s, 1,
		&model.Flow{DestIP: "1.1.1.1", Timestamp: testNow.Add(-3 * time.Hour)},
		&model.Flow{DestIP: "2.2.2.2", Timestamp: testNow.Add(-time.Hour)},
		&model.Flow{DestIP: "3.3.3.3", Timestamp: testNow.Add(-2 * time.Hour)},
	)
	seedFlows(t, s, 2, &model.Flow{DestIP: "9.9.9.9", Timestamp: testNow})

	flows, err := s.FlowsByDevice(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "2.2.2.2", flows[0].DestIP)
	assert.Equal(t, "3.3.3.3", flows[1].DestIP)
}

func TestFlowStats(t *testing.T) {
	s := New()

	_, ok, err := s.FlowStats(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	seedFlows(t, s, 1,
		&model.Flow{BytesSent: 100, Timestamp: testNow},
		&model.Flow{BytesSent: 300, Timestamp: testNow},
	)

	b, ok, err := s.FlowStats(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 200.0, b.AvgBytes)
	assert.Equal(t, uint64(300), b.MaxBytes)
	assert.Equal(t, uint64(2), b.TotalFlows)
}

func TestDailyByteAverage_SkipsEmptyDays(t *testing.T) {
	s := New()

	// Two active days a week apart; the empty days between them must not
	// pull the average down.
	seedFlows(t, s, 1,
		&model.Flow{BytesSent: 1000, Timestamp: testNow.AddDate(0, 0, -8)},
		&model.Flow{BytesSent: 2000, Timestamp: testNow.AddDate(0, 0, -8).Add(time.Hour)},
		&model.Flow{BytesSent: 5000, Timestamp: testNow.AddDate(0, 0, -1)},
	)

	avg, err := s.DailyByteAverage(context.Background(), 1, testNow.AddDate(0, 0, -30), testNow)
	require.NoError(t, err)
	assert.Equal(t, 4000.0, avg) // (3000 + 5000) / 2 days
}

func TestDistinctCountries_ExcludesSentinels(t *testing.T) {
	s := New()
	seedFlows(t, s, 1,
		&model.Flow{DestCountry: "China", Timestamp: testNow},
		&model.Flow{DestCountry: "China", Timestamp: testNow},
		&model.Flow{DestCountry: "Brazil", Timestamp: testNow},
		&model.Flow{DestCountry: model.CountryLocal, Timestamp: testNow},
		&model.Flow{DestCountry: model.CountryUnknown, Timestamp: testNow},
		&model.Flow{DestCountry: "", Timestamp: testNow},
	)

	countries, err := s.DistinctCountries(context.Background(), 1, testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"China", "Brazil"}, countries)
}

func TestCountFlowsTo_RespectsWindow(t *testing.T) {
	s := New()
	seedFlows(t, s, 1,
		&model.Flow{DestIP: "1.2.3.4", Timestamp: testNow.Add(-30 * time.Minute)},
		&model.Flow{DestIP: "1.2.3.4", Timestamp: testNow.Add(-2 * time.Hour)}, // outside
		&model.Flow{DestIP: "5.6.7.8", Timestamp: testNow.Add(-30 * time.Minute)},
	)

	n, err := s.CountFlowsTo(context.Background(), 1, "1.2.3.4", testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestTopDestinations_GroupsAndOrders(t *testing.T) {
	s := New()
	seedFlows(t, s, 1,
		&model.Flow{DestIP: "1.1.1.1", DestCountry: "United States", BytesSent: 100, Timestamp: testNow},
		&model.Flow{DestIP: "1.1.1.1", DestCountry: "United States", BytesSent: 200, Timestamp: testNow},
		&model.Flow{DestIP: "2.2.2.2", DestCountry: "Germany", BytesSent: 5000, Timestamp: testNow},
	)

	dests, err := s.TopDestinations(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, dests, 2)
	assert.Equal(t, "2.2.2.2", dests[0].DestIP)
	assert.Equal(t, uint64(300), dests[1].BytesSent)
	assert.Equal(t, uint64(2), dests[1].FlowCount)
}

func TestAlertsLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AppendAlerts(ctx, []*model.Alert{
		{ID: "a1", AlertType: model.AlertTorConnection, Severity: model.SeverityHigh, Timestamp: testNow.Add(-time.Hour)},
		{ID: "a2", AlertType: model.AlertUnusualTime, Severity: model.SeverityMedium, Timestamp: testNow},
	}))

	alerts, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a2", alerts[0].ID, "newest first")

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), totals.OpenAlerts)

	require.NoError(t, s.AcknowledgeAlert(ctx, "a1"))
	totals, err = s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), totals.OpenAlerts)

	err = s.AcknowledgeAlert(ctx, "missing")
	assert.EqualError(t, err, "alert missing not found")
}
