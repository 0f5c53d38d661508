package baseline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iotsentry/internal/model"
	"iotsentry/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)

func seedFlow(t *testing.T, store *memory.Store, id string, bytes uint64, ts time.Time) {
	t.Helper()
	require.NoError(t, store.AppendFlows(context.Background(), []*model.Flow{{
		ID:        id,
		DeviceID:  1,
		DestIP:    "93.184.216.34",
		DestPort:  443,
		Protocol:  "TCP",
		BytesSent: bytes,
		Timestamp: ts,
	}}))
}

func TestComputeBaseline(t *testing.T) {
	store := memory.New()
	s := New(store, zerolog.Nop())
	ctx := context.Background()

	// No flows: no baseline, no error.
	_, ok, err := s.ComputeBaseline(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = s.Cached(1)
	assert.False(t, ok)

	seedFlow(t, store, "f1", 1000, testNow.Add(-2*time.Hour))
	seedFlow(t, store, "f2", 3000, testNow.Add(-time.Hour))

	b, ok, err := s.ComputeBaseline(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2000.0, b.AvgBytes)
	assert.Equal(t, uint64(3000), b.MaxBytes)
	assert.Equal(t, uint64(2), b.TotalFlows)

	cached, ok := s.Cached(1)
	require.True(t, ok)
	assert.Equal(t, b, cached)
}

func TestBehaviorChange_Spike(t *testing.T) {
	store := memory.New()
	s := New(store, zerolog.Nop())
	ctx := context.Background()

	// Ten prior days at 10 KB each, then a 150 KB burst today.
	for i := 1; i <= 10; i++ {
		seedFlow(t, store, fmt.Sprintf("hist-%d", i), 10000, testNow.AddDate(0, 0, -i))
	}
	seedFlow(t, store, "today", 150000, testNow.Add(-time.Hour))

	a, err := s.ComputeBehaviorChange(ctx, 1, testNow)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, model.AlertBehaviorChange, a.AlertType)
	assert.Equal(t, model.SeverityMedium, a.Severity)
	assert.Equal(t, 10000.0, a.Metadata["baseline_bytes"])
	assert.Equal(t, uint64(150000), a.Metadata["today_bytes"])
	assert.InDelta(t, 1400.0, a.Metadata["increment_percent"].(float64), 0.01)
}

func TestBehaviorChange_WithinNormalRange(t *testing.T) {
	store := memory.New()
	s := New(store, zerolog.Nop())
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		seedFlow(t, store, fmt.Sprintf("hist-%d", i), 10000, testNow.AddDate(0, 0, -i))
	}
	// Exactly 10x the baseline is not "over 10x".
	seedFlow(t, store, "today", 100000, testNow.Add(-time.Hour))

	a, err := s.ComputeBehaviorChange(ctx, 1, testNow)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestBehaviorChange_LowBaselineSuppressed(t *testing.T) {
	store := memory.New()
	s := New(store, zerolog.Nop())
	ctx := context.Background()

	// A barely-chatty device: the baseline floor suppresses the check
	// even through a huge relative spike.
	for i := 1; i <= 10; i++ {
		seedFlow(t, store, fmt.Sprintf("hist-%d", i), 500, testNow.AddDate(0, 0, -i))
	}
	seedFlow(t, store, "today", 1000000, testNow.Add(-time.Hour))

	a, err := s.ComputeBehaviorChange(ctx, 1, testNow)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestBehaviorChange_NoHistory(t *testing.T) {
	store := memory.New()
	s := New(store, zerolog.Nop())

	// Traffic today only: no prior days, no baseline, no alert.
	seedFlow(t, store, "today", 500000, testNow.Add(-time.Hour))

	a, err := s.ComputeBehaviorChange(context.Background(), 1, testNow)
	require.NoError(t, err)
	assert.Nil(t, a)
}
