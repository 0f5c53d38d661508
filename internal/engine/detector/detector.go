package detector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"iotsentry/internal/engine/baseline"
	"iotsentry/internal/model"
)

// rule is one independent evaluator. Given a flow and its device context it
// returns zero or one alert. Rules are side-effect-free given their inputs;
// the historical ones read the store but never write it.
type rule struct {
	name string
	eval func(ctx context.Context, f *model.Flow, d *model.Device) (*model.Alert, error)
}

// Detector runs a fixed battery of behavioral rules against each persisted
// flow. A failure in one rule is logged and treated as "no alert" for that
// rule only; sibling rules always run.
type Detector struct {
	store     model.Store
	baselines *baseline.Store
	log       zerolog.Logger
	rules     []rule

	now func() time.Time
}

// New creates a Detector with the full rule battery in its fixed
// declaration order, which doubles as the tie-break order for Evaluate.
func New(store model.Store, baselines *baseline.Store, log zerolog.Logger) *Detector {
	d := &Detector{
		store:     store,
		baselines: baselines,
		log:       log.With().Str("component", "detector").Logger(),
		now:       time.Now,
	}
	d.rules = []rule{
		{model.AlertUnusualTime, d.checkUnusualTime},
		{model.AlertHighVolume, d.checkHighVolume},
		{model.AlertSuspiciousDestination, d.checkSuspiciousDestination},
		{model.AlertExcessiveConnections, d.checkExcessiveConnections},
		{model.AlertCountryHopping, d.checkCountryHopping},
		{model.AlertUnusualPort, d.checkUnusualPort},
		{model.AlertTorConnection, d.checkTorConnection},
		{model.AlertExcessiveUpload, d.checkUploadRatio},
		{model.AlertBlacklistedCountry, d.checkBlacklistedCountry},
		{model.AlertNewDevice, d.checkNewDevice},
		{model.AlertBehaviorChange, d.checkBehaviorChange},
		{model.AlertMACSpoofing, d.checkMACSpoofing},
	}
	return d
}

// EvaluateAll runs every rule against the flow and returns all matches.
func (d *Detector) EvaluateAll(ctx context.Context, f *model.Flow, dev *model.Device) []*model.Alert {
	if f == nil || dev == nil {
		return nil
	}

	var alerts []*model.Alert
	for _, r := range d.rules {
		if a := d.run(ctx, r, f, dev); a != nil {
			alerts = append(alerts, a)
		}
	}
	return alerts
}

// Evaluate runs the same battery but returns only the single
// highest-severity match, tie-broken by rule declaration order.
func (d *Detector) Evaluate(ctx context.Context, f *model.Flow, dev *model.Device) *model.Alert {
	var best *model.Alert
	for _, a := range d.EvaluateAll(ctx, f, dev) {
		if best == nil || a.Severity.Rank() > best.Severity.Rank() {
			best = a
		}
	}
	return best
}

// run isolates a single rule: a panic or error inside it never aborts the
// evaluation of its siblings.
func (d *Detector) run(ctx context.Context, r rule, f *model.Flow, dev *model.Device) (alert *model.Alert) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().Str("rule", r.name).Any("panic", rec).Msg("rule panicked, treated as no alert")
			alert = nil
		}
	}()

	a, err := r.eval(ctx, f, dev)
	if err != nil {
		d.log.Warn().Err(err).Str("rule", r.name).Int64("device_id", dev.ID).Msg("rule evaluation failed")
		return nil
	}
	return a
}
