package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"iotsentry/internal/model"
)

// accumulator is the transient running total for one not-yet-flushed flow.
// It is owned exclusively by the Aggregator while live.
type accumulator struct {
	bytes     uint64
	packets   uint64
	firstSeen time.Time
	lastSeen  time.Time
}

// Stats is a point-in-time view over the live accumulators, taken under the
// same lock that serializes ingestion.
type Stats struct {
	ActiveFlows  int
	TotalBytes   uint64
	TotalPackets uint64
}

// Aggregator merges packet events into per-connection accumulators and
// periodically flushes them as persisted flows. Observe is safe for
// concurrent callers; a single mutex over the whole key-space keeps the
// flush scan consistent. Persistence runs outside the lock so slow storage
// never blocks ingestion.
//
// Flush is a snapshot, not a delta: a still-active accumulator re-persists
// its full running total every cycle. Rollups downstream accept the
// resulting duplication for long-lived connections.
type Aggregator struct {
	store model.Store
	geo   model.Geolocator
	log   zerolog.Logger

	flushInterval time.Duration
	staleWindow   time.Duration

	mu    sync.Mutex
	flows map[model.FlowKey]*accumulator

	out  chan []*model.Flow
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates an Aggregator. Flows whose source address resolves to no
// known device are dropped at flush time, never persisted.
func New(store model.Store, geo model.Geolocator, log zerolog.Logger, flushInterval, staleWindow time.Duration) *Aggregator {
	return &Aggregator{
		store:         store,
		geo:           geo,
		log:           log.With().Str("component", "aggregator").Logger(),
		flushInterval: flushInterval,
		staleWindow:   staleWindow,
		flows:         make(map[model.FlowKey]*accumulator),
		out:           make(chan []*model.Flow, 100),
		done:          make(chan struct{}),
	}
}

// Observe records one packet event. Packets for the same FlowKey are
// applied in arrival order; the lock is held only for the map operation.
// Events with a non-positive size come from a malformed wire payload and
// are discarded before they can wrap the unsigned byte totals.
func (a *Aggregator) Observe(ev model.PacketEvent) {
	if ev.Size <= 0 {
		return
	}

	key := model.FlowKey{SrcIP: ev.SrcIP, DstIP: ev.DstIP, DstPort: ev.DstPort, Protocol: ev.Protocol}

	a.mu.Lock()
	defer a.mu.Unlock()

	if acc, ok := a.flows[key]; ok {
		acc.bytes += uint64(ev.Size)
		acc.packets++
		acc.lastSeen = ev.Timestamp
	} else {
		a.flows[key] = &accumulator{
			bytes:     uint64(ev.Size),
			packets:   1,
			firstSeen: ev.Timestamp,
			lastSeen:  ev.Timestamp,
		}
	}
}

// Stats returns the totals over currently-live accumulators.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{ActiveFlows: len(a.flows)}
	for _, acc := range a.flows {
		s.TotalBytes += acc.bytes
		s.TotalPackets += acc.packets
	}
	return s
}

// Out returns the channel carrying each flush cycle's persisted flows, for
// downstream detection. It is closed after the final flush.
func (a *Aggregator) Out() <-chan []*model.Flow {
	return a.out
}

// Start launches the periodic flush loop.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.flusher()
	a.log.Info().Dur("flush_interval", a.flushInterval).Dur("stale_window", a.staleWindow).Msg("aggregator started")
}

// Stop performs one final flush and closes the output channel. After Stop
// returns no further flows are emitted.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.Flush(context.Background(), time.Now())
	close(a.out)
	a.log.Info().Msg("aggregator stopped")
}

func (a *Aggregator) flusher() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Flush(context.Background(), time.Now())
		case <-a.done:
			return
		}
	}
}

// Flush snapshots the live accumulators, resolves each to a device, and
// persists the resolved flows in one batch. Accumulators are never cleared
// here: on storage failure the same totals are retried next cycle, and on
// success only the ones inactive past the stale window are evicted.
func (a *Aggregator) Flush(ctx context.Context, now time.Time) {
	type entry struct {
		key model.FlowKey
		acc accumulator
	}

	a.mu.Lock()
	entries := make([]entry, 0, len(a.flows))
	for k, acc := range a.flows {
		entries = append(entries, entry{key: k, acc: *acc})
	}
	a.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	flows := make([]*model.Flow, 0, len(entries))
	for _, e := range entries {
		device, err := a.store.DeviceByIP(ctx, e.key.SrcIP)
		if err != nil {
			a.log.Warn().Err(err).Str("src_ip", e.key.SrcIP).Msg("device lookup failed, retrying next flush")
			continue
		}
		if device == nil {
			// Expected during warm-up: flows cannot exist without an
			// attributable device.
			a.log.Debug().Str("src_ip", e.key.SrcIP).Msg("dropping flow for unknown device")
			continue
		}

		loc := a.geo.Lookup(e.key.DstIP)
		flows = append(flows, &model.Flow{
			ID:            uuid.NewString(),
			DeviceID:      device.ID,
			DestIP:        e.key.DstIP,
			DestPort:      e.key.DstPort,
			Protocol:      e.key.Protocol,
			DestCountry:   loc.Country,
			DestCity:      loc.City,
			DestLatitude:  loc.Latitude,
			DestLongitude: loc.Longitude,
			BytesSent:     e.acc.bytes,
			PacketsSent:   e.acc.packets,
			Timestamp:     e.acc.firstSeen,
		})
	}

	if len(flows) > 0 {
		if err := a.store.AppendFlows(ctx, flows); err != nil {
			a.log.Error().Err(err).Int("flows", len(flows)).Msg("flush persist failed, accumulators retained")
			return
		}
		a.log.Debug().Int("flows", len(flows)).Msg("flushed flows")
		a.out <- flows
	}

	a.mu.Lock()
	for k, acc := range a.flows {
		if now.Sub(acc.lastSeen) > a.staleWindow {
			delete(a.flows, k)
		}
	}
	a.mu.Unlock()
}
