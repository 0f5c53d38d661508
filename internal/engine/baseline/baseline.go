package baseline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"iotsentry/internal/model"
)

// Thresholds for the behavior-change check. A baseline below the floor is
// treated as insufficient data and suppresses the check entirely.
const (
	behaviorChangeFactor = 10.0
	baselineFloorBytes   = 1000.0
	baselineWindowDays   = 30
)

// Store derives and caches rolling per-device statistics from historical
// flows. There is no background invalidation: callers needing freshness
// recompute explicitly.
type Store struct {
	store model.Store
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[int64]model.Baseline
}

// New creates a baseline store over the given flow store.
func New(store model.Store, log zerolog.Logger) *Store {
	return &Store{
		store: store,
		log:   log.With().Str("component", "baseline").Logger(),
		cache: make(map[int64]model.Baseline),
	}
}

// ComputeBaseline aggregates all historical flows for a device and caches
// the result. ok is false when the device has zero flows, so downstream
// consumers never divide by a zero flow count.
func (s *Store) ComputeBaseline(ctx context.Context, deviceID int64) (model.Baseline, bool, error) {
	b, ok, err := s.store.FlowStats(ctx, deviceID)
	if err != nil {
		return model.Baseline{}, false, fmt.Errorf("failed to compute baseline for device %d: %w", deviceID, err)
	}
	if !ok {
		return model.Baseline{}, false, nil
	}

	s.mu.Lock()
	s.cache[deviceID] = b
	s.mu.Unlock()

	return b, true, nil
}

// Cached returns the most recently computed baseline for a device.
func (s *Store) Cached(deviceID int64) (model.Baseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.cache[deviceID]
	return b, ok
}

// ComputeBehaviorChange compares a 30-day rolling average of daily byte
// totals, excluding the current day, against today's cumulative total. A
// drastic spike (over 10x a baseline of at least 1000 bytes) emits a
// behavior_change alert; insufficient history suppresses the check rather
// than signaling a false spike.
func (s *Store) ComputeBehaviorChange(ctx context.Context, deviceID int64, now time.Time) (*model.Alert, error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -baselineWindowDays)

	avg, err := s.store.DailyByteAverage(ctx, deviceID, from, today)
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily average for device %d: %w", deviceID, err)
	}
	if avg < baselineFloorBytes {
		return nil, nil
	}

	todayBytes, err := s.store.BytesSince(ctx, deviceID, today)
	if err != nil {
		return nil, fmt.Errorf("failed to sum today's bytes for device %d: %w", deviceID, err)
	}

	if float64(todayBytes) <= avg*behaviorChangeFactor {
		return nil, nil
	}

	incrementPct := (float64(todayBytes) - avg) / avg * 100
	return &model.Alert{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		AlertType: model.AlertBehaviorChange,
		Severity:  model.SeverityMedium,
		Message:   fmt.Sprintf("Drastic behavior change detected (%.0f%% increase over daily baseline)", incrementPct),
		Metadata: map[string]any{
			"baseline_bytes":    avg,
			"today_bytes":       todayBytes,
			"increment_percent": incrementPct,
		},
		Timestamp: now,
	}, nil
}
