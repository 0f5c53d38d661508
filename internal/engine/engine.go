package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"iotsentry/internal/config"
	"iotsentry/internal/engine/aggregator"
	"iotsentry/internal/engine/bandwidth"
	"iotsentry/internal/engine/baseline"
	"iotsentry/internal/engine/detector"
	"iotsentry/internal/model"
	"iotsentry/internal/notification"
)

// AlertCallback receives every alert the pipeline emits, after it has been
// persisted. Notification UIs hang off this.
type AlertCallback func(*model.Alert)

// Stats is a coarse snapshot of the running pipeline.
type Stats struct {
	TotalDevices uint64
	TotalFlows   uint64
	OpenAlerts   uint64
	ActiveFlows  int
	TotalBytes   uint64
	TotalPackets uint64
}

// Engine wires packet intake, flow aggregation, anomaly detection, and the
// periodic baseline refresh into one lifecycle. Each background loop owns
// its goroutine; Stop joins them with a bounded timeout.
type Engine struct {
	store     model.Store
	geo       model.Geolocator
	agg       *aggregator.Aggregator
	det       *detector.Detector
	baselines *baseline.Store
	reporter  *bandwidth.Reporter
	notifier  model.Notifier
	log       zerolog.Logger

	packetCh   chan model.PacketEvent
	numWorkers int

	// intakeMu serializes HandlePacket against Stop closing the intake
	// channel: senders hold the read side, Stop the write side.
	intakeMu sync.RWMutex
	closed   bool

	scanInterval    time.Duration
	shutdownTimeout time.Duration

	done     chan struct{}
	workerWg sync.WaitGroup
	loopWg   sync.WaitGroup

	mu      sync.Mutex
	onAlert AlertCallback
}

// New builds the pipeline from configuration. notifier may be nil when no
// email transport is configured.
func New(cfg *config.Config, store model.Store, geo model.Geolocator, notifier model.Notifier, log zerolog.Logger) (*Engine, error) {
	flushInterval, err := cfg.Aggregator.FlushIntervalDuration()
	if err != nil {
		return nil, err
	}
	staleWindow, err := cfg.Aggregator.StaleWindowDuration()
	if err != nil {
		return nil, err
	}
	scanInterval, err := cfg.Engine.ScanIntervalDuration()
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := cfg.Engine.ShutdownTimeoutDuration()
	if err != nil {
		return nil, err
	}

	numWorkers := cfg.Aggregator.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	chanSize := cfg.Aggregator.SizeOfPacketChannel
	if chanSize <= 0 {
		chanSize = 1000
	}

	baselines := baseline.New(store, log)
	return &Engine{
		store:           store,
		geo:             geo,
		agg:             aggregator.New(store, geo, log, flushInterval, staleWindow),
		det:             detector.New(store, baselines, log),
		baselines:       baselines,
		reporter:        bandwidth.New(store, log),
		notifier:        notifier,
		log:             log.With().Str("component", "engine").Logger(),
		packetCh:        make(chan model.PacketEvent, chanSize),
		numWorkers:      numWorkers,
		scanInterval:    scanInterval,
		shutdownTimeout: shutdownTimeout,
		done:            make(chan struct{}),
	}, nil
}

// OnAlert registers the alert-emitted callback.
func (e *Engine) OnAlert(cb AlertCallback) {
	e.mu.Lock()
	e.onAlert = cb
	e.mu.Unlock()
}

// Reporter exposes the bandwidth reporter for read-side consumers.
func (e *Engine) Reporter() *bandwidth.Reporter {
	return e.reporter
}

// Baselines exposes the baseline store for read-side consumers.
func (e *Engine) Baselines() *baseline.Store {
	return e.baselines
}

// HandlePacket is the intake for packet events; the probe subscriber calls
// it from the transport callback. After Stop it drops events, and it never
// blocks the caller: a full channel sheds load instead.
func (e *Engine) HandlePacket(ev model.PacketEvent) {
	e.intakeMu.RLock()
	defer e.intakeMu.RUnlock()

	if e.closed {
		return
	}
	select {
	case e.packetCh <- ev:
	default:
		e.log.Warn().Msg("packet channel full, dropping event")
	}
}

// Start launches the worker pool, the detection loop, and the scan loop.
func (e *Engine) Start() {
	e.agg.Start()

	e.workerWg.Add(e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		go e.worker()
	}

	e.loopWg.Add(2)
	go e.detectLoop()
	go e.scanLoop()

	e.log.Info().Int("workers", e.numWorkers).Msg("engine started")
}

// Stop shuts the pipeline down: intake first, then one final flush, then a
// bounded join on the background loops, then the storage and geo handles.
func (e *Engine) Stop() {
	e.log.Info().Msg("engine stopping")

	// Taking the write lock waits out any sender inside HandlePacket, so
	// nothing can race the close below.
	e.intakeMu.Lock()
	e.closed = true
	close(e.packetCh)
	e.intakeMu.Unlock()
	e.workerWg.Wait()

	// Final flush; closing the aggregator output ends the detect loop.
	e.agg.Stop()
	close(e.done)

	if !waitTimeout(&e.loopWg, e.shutdownTimeout) {
		e.log.Warn().Dur("timeout", e.shutdownTimeout).Msg("background loops did not stop in time")
	}

	if err := e.store.Close(); err != nil {
		e.log.Error().Err(err).Msg("failed to close store")
	}
	if err := e.geo.Close(); err != nil {
		e.log.Error().Err(err).Msg("failed to close geolocator")
	}
	e.log.Info().Msg("engine stopped")
}

// Stats returns a point-in-time snapshot of the pipeline.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	totals, err := e.store.Totals(ctx)
	if err != nil {
		return Stats{}, err
	}
	agg := e.agg.Stats()
	return Stats{
		TotalDevices: totals.Devices,
		TotalFlows:   totals.Flows,
		OpenAlerts:   totals.OpenAlerts,
		ActiveFlows:  agg.ActiveFlows,
		TotalBytes:   agg.TotalBytes,
		TotalPackets: agg.TotalPackets,
	}, nil
}

func (e *Engine) worker() {
	defer e.workerWg.Done()
	for ev := range e.packetCh {
		e.agg.Observe(ev)
	}
}

// detectLoop consumes each flush cycle's flows and runs the full rule
// battery over them. It exits when the aggregator output closes after the
// final flush.
func (e *Engine) detectLoop() {
	defer e.loopWg.Done()
	ctx := context.Background()

	for flows := range e.agg.Out() {
		var alerts []*model.Alert
		for _, f := range flows {
			dev, err := e.store.DeviceByID(ctx, f.DeviceID)
			if err != nil {
				e.log.Warn().Err(err).Int64("device_id", f.DeviceID).Msg("device lookup failed, skipping detection")
				continue
			}
			if dev == nil {
				continue
			}
			alerts = append(alerts, e.det.EvaluateAll(ctx, f, dev)...)
		}
		if len(alerts) == 0 {
			continue
		}

		if err := e.store.AppendAlerts(ctx, alerts); err != nil {
			e.log.Error().Err(err).Int("alerts", len(alerts)).Msg("failed to persist alerts")
		}

		e.mu.Lock()
		cb := e.onAlert
		e.mu.Unlock()
		if cb != nil {
			for _, a := range alerts {
				cb(a)
			}
		}

		if e.notifier != nil {
			subject, body := notification.FormatAlertSummary(alerts)
			if err := e.notifier.Send(subject, body); err != nil {
				e.log.Error().Err(err).Msg("failed to send alert notification")
			}
		}
		e.log.Info().Int("alerts", len(alerts)).Msg("alerts emitted")
	}
}

// scanLoop periodically refreshes per-device baselines. Device discovery
// itself lives outside this module; the loop reads whatever the directory
// currently knows.
func (e *Engine) scanLoop() {
	defer e.loopWg.Done()
	ticker := time.NewTicker(e.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.refreshBaselines()
		case <-e.done:
			return
		}
	}
}

func (e *Engine) refreshBaselines() {
	ctx := context.Background()
	devices, err := e.store.Devices(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to enumerate devices for baseline refresh")
		return
	}
	for _, d := range devices {
		if _, _, err := e.baselines.ComputeBaseline(ctx, d.ID); err != nil {
			e.log.Warn().Err(err).Int64("device_id", d.ID).Msg("baseline refresh failed")
		}
	}
	e.log.Debug().Int("devices", len(devices)).Msg("baselines refreshed")
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
