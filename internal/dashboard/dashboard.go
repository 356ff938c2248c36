// Package dashboard is the headless consumer of the proxy: it keeps the housing
// records fresh, submits price predictions and logs a scheduled market report.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"market-dashboard/internal/action"
	"market-dashboard/internal/apiclient"
	"market-dashboard/internal/config"
	"market-dashboard/internal/market"
	"market-dashboard/internal/observability/metrics"
	"market-dashboard/internal/observability/slo"
	"market-dashboard/internal/polling"
)

// SourceName labels the housing feed in metrics and SLO gauges.
const SourceName = "housing"

// SessionHeader carries the dashboard session id on every upstream call.
const SessionHeader = "X-Dashboard-Session"

// Deps are the collaborators shared by the dashboard's clients.
type Deps struct {
	// Doer is the transport. Nil means apiclient's tuned *http.Client.
	Doer    apiclient.Doer
	Logger  *slog.Logger
	Metrics apiclient.MetricsRecorder
}

// Report is the scheduled market summary.
type Report struct {
	GeneratedAt   time.Time         `json:"generatedAt"`
	Session       string            `json:"session"`
	Records       int               `json:"records"`
	UsingFallback bool              `json:"usingFallback"`
	LastUpdatedAt time.Time         `json:"lastUpdatedAt"`
	Error         string            `json:"error,omitempty"`
	Stats         market.Stats      `json:"stats"`
	ByBedrooms    []market.Segment  `json:"byBedrooms"`
	ByPriceRange  []market.Segment  `json:"byPriceRange"`
	Ranges        market.DataRanges `json:"ranges"`
	SLO           slo.Report        `json:"slo"`
}

// Dashboard composes the housing source, the prediction client and the report job.
type Dashboard struct {
	cfg     Config
	logger  *slog.Logger
	session string
	now     func() time.Time

	housing   *polling.Source[market.Property]
	predictor *action.Client
	tracker   *slo.Tracker
	scheduler *cron.Cron

	mu         sync.Mutex
	lastReport *Report
	started    bool
}

// New wires a Dashboard from cfg. Nothing is fetched until Start.
func New(cfg Config, deps Deps) (*Dashboard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dashboard{
		cfg:     cfg,
		session: uuid.NewString(),
		now:     time.Now,
		tracker: slo.NewTracker(SourceName),
	}
	d.logger = logger.With(slog.String("component", "dashboard"), slog.String("session", d.session))

	header := http.Header{SessionHeader: []string{d.session}}
	clientOpts := func(name string) []apiclient.Option {
		opts := []apiclient.Option{apiclient.WithName(name), apiclient.WithLogger(logger)}
		if deps.Doer != nil {
			opts = append(opts, apiclient.WithDoer(deps.Doer))
		}
		if deps.Metrics != nil {
			opts = append(opts, apiclient.WithMetrics(deps.Metrics))
		}
		return opts
	}

	housingTarget := apiclient.Get(cfg.housingURL())
	housingTarget.Header = header.Clone()
	opts := polling.DefaultOptions[market.Property]()
	opts.Interval = cfg.RevalidateInterval
	opts.Logger = logger
	opts.Prepare = market.AssignIDs
	opts.OnChange = d.observe
	d.housing = polling.New(apiclient.New(cfg.Client, clientOpts("dashboard-housing")...), housingTarget, opts)

	d.predictor = action.New(
		apiclient.New(cfg.Client, clientOpts("dashboard-predict")...),
		apiclient.Target{URL: cfg.predictURL(), Header: header.Clone()},
		action.WithLogger(logger),
	)

	d.scheduler = cron.New(
		cron.WithParser(config.CronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := d.scheduler.AddFunc(cfg.ReportSchedule, d.runReport); err != nil {
		return nil, fmt.Errorf("schedule report: %w", err)
	}
	return d, nil
}

// Session returns the id sent in SessionHeader.
func (d *Dashboard) Session() string {
	return d.session
}

// Start begins polling and the report schedule. Both stop on ctx or Stop.
func (d *Dashboard) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.housing.Start(ctx)
	d.scheduler.Start()
	d.logger.Info("dashboard started",
		slog.String("base_url", d.cfg.BaseURL),
		slog.Duration("revalidate_interval", d.cfg.RevalidateInterval),
		slog.String("report_schedule", d.cfg.ReportSchedule))
}

// Stop closes the housing source, cancels any prediction and waits for a
// running report job until ctx ends.
func (d *Dashboard) Stop(ctx context.Context) error {
	d.housing.Close()
	d.predictor.Cancel()

	select {
	case <-d.scheduler.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("report job still running: %w", ctx.Err())
	}
}

// Housing returns the current housing state.
func (d *Dashboard) Housing() polling.State[market.Property] {
	return d.housing.Snapshot()
}

// Refresh forces a housing refetch.
func (d *Dashboard) Refresh(ctx context.Context) apiclient.Outcome[[]market.Property] {
	return d.housing.Refetch(ctx)
}

// Predict submits inputs, superseding any prediction still in flight.
func (d *Dashboard) Predict(ctx context.Context, inputs []market.PredictionInput) ([]float64, error) {
	values, err := d.predictor.Act(ctx, inputs)
	switch {
	case err == nil:
		metrics.RecordPrediction("success")
	case apiclient.KindOf(err) == apiclient.KindCanceled:
		metrics.RecordPrediction("canceled")
	default:
		metrics.RecordPrediction("failure")
	}
	return values, err
}

// PredictMatching predicts prices for the housing records that match f.
// It fails with market.ErrInvalidInput when nothing matches.
func (d *Dashboard) PredictMatching(ctx context.Context, f market.Filters) ([]float64, error) {
	matched := market.Filter(d.housing.Snapshot().Data, f)
	inputs := make([]market.PredictionInput, len(matched))
	for i, p := range matched {
		inputs[i] = market.InputFromProperty(p)
	}
	return d.Predict(ctx, inputs)
}

// Prediction returns the prediction client's state.
func (d *Dashboard) Prediction() action.State {
	return d.predictor.State()
}

// Report summarizes the current housing records without closing the SLO window.
func (d *Dashboard) Report() Report {
	state := d.housing.Snapshot()
	return Report{
		GeneratedAt:   d.now(),
		Session:       d.session,
		Records:       len(state.Data),
		UsingFallback: state.UsingFallback,
		LastUpdatedAt: state.LastUpdatedAt,
		Error:         state.Error,
		Stats:         market.CalculateStats(state.Data),
		ByBedrooms:    market.SegmentsByBedrooms(state.Data),
		ByPriceRange:  market.SegmentsByPriceRange(state.Data),
		Ranges:        market.CalculateDataRanges(state.Data),
		SLO:           d.tracker.Report(),
	}
}

// LastReport returns the report produced by the latest scheduled run.
func (d *Dashboard) LastReport() (Report, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastReport == nil {
		return Report{}, false
	}
	return *d.lastReport, true
}

func (d *Dashboard) runReport() {
	r := d.Report()
	r.SLO = d.tracker.Publish()

	d.mu.Lock()
	d.lastReport = &r
	d.mu.Unlock()

	level := slog.LevelInfo
	if !r.SLO.MeetsTargets() {
		level = slog.LevelWarn
	}
	d.logger.Log(context.Background(), level, "market report",
		slog.Int("records", r.Records),
		slog.Bool("using_fallback", r.UsingFallback),
		slog.Float64("average_price", r.Stats.AveragePrice),
		slog.Float64("median_price", r.Stats.MedianPrice),
		slog.Float64("price_per_sqft", r.Stats.PricePerSqFt),
		slog.Int("slo_requests", r.SLO.Requests),
		slog.Float64("slo_availability", r.SLO.Availability),
		slog.Float64("slo_fallback_ratio", r.SLO.FallbackRatio))
}

// observe mirrors committed housing states into metrics and the SLO window.
func (d *Dashboard) observe(s polling.State[market.Property]) {
	if s.Loading {
		return
	}
	metrics.SetDashboardState(SourceName, len(s.Data), s.UsingFallback, s.LastUpdatedAt)
	if s.Error == apiclient.MsgCanceled {
		return
	}
	d.tracker.Observe(s.Error == "", s.UsingFallback)
}
