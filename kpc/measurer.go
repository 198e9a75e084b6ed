package kpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/catalog"
	"github.com/wesleyorama2/kpcbench/internal/counter"
	"github.com/wesleyorama2/kpcbench/internal/logging"
	"github.com/wesleyorama2/kpcbench/internal/session"
	"github.com/wesleyorama2/kpcbench/internal/stats"
	"github.com/wesleyorama2/kpcbench/internal/telemetry"
)

// Result is one finished measurement.
type Result struct {
	ID            uuid.UUID     `json:"id" yaml:"id"`
	Started       time.Time     `json:"started" yaml:"started"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
	Database      string        `json:"database" yaml:"database"`
	UserSpaceOnly bool          `json:"userSpaceOnly" yaml:"userSpaceOnly"`
	Deltas        []Delta       `json:"deltas" yaml:"deltas"`
}

// Summary is the outcome of repeated measurements.
type Summary struct {
	ID      uuid.UUID    `json:"id" yaml:"id"`
	Runs    int          `json:"runs" yaml:"runs"`
	Results []*Result    `json:"results" yaml:"results"`
	Stats   []EventStats `json:"stats" yaml:"stats"`
}

// Last returns the final measurement, or nil when there is none.
func (s *Summary) Last() *Result {
	if len(s.Results) == 0 {
		return nil
	}
	return s.Results[len(s.Results)-1]
}

// Option configures a Measurer.
type Option func(*Measurer)

// WithResolver uses r instead of the process-wide resolver.
func WithResolver(r *Resolver) Option {
	return func(m *Measurer) {
		m.resolver = r
	}
}

// WithModel selects the event database by name instead of the running CPU.
func WithModel(model string) Option {
	return func(m *Measurer) {
		m.model = model
	}
}

// WithUserSpaceOnly excludes kernel-mode activity from the counts.
func WithUserSpaceOnly(userOnly bool) Option {
	return func(m *Measurer) {
		m.userOnly = userOnly
	}
}

// WithLogger sets the logger. Defaults to the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Measurer) {
		m.logger = l
	}
}

// WithMeterProvider exports measurements through mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Measurer) {
		m.recorder = telemetry.NewRecorder(mp)
	}
}

// Measurer runs measurements. It holds no hardware state between
// measurements and may be reused; each measurement must be started and
// finished on the same goroutine.
type Measurer struct {
	resolver *Resolver
	model    string
	userOnly bool
	logger   *zap.Logger
	recorder *telemetry.Recorder
}

// New creates a Measurer.
func New(opts ...Option) *Measurer {
	m := &Measurer{}
	for _, opt := range opts {
		opt(m)
	}
	if m.resolver == nil {
		m.resolver = capability.Default()
	}
	if m.logger == nil {
		m.logger = logging.Logger()
	}
	if m.recorder == nil {
		m.recorder = telemetry.NewRecorder(nil)
	}
	return m
}

// Measurement is an armed measurement window.
type Measurement struct {
	m        *Measurer
	session  *session.Session
	database string
	started  time.Time
}

// Start resolves the capability modules, checks permission, builds the
// counter configuration for reqs and arms the counters. The caller must
// call Finish on the same goroutine.
func (m *Measurer) Start(reqs []EventRequest) (*Measurement, error) {
	table, err := m.resolver.Resolve()
	if err != nil {
		return nil, err
	}
	if err := session.CheckPermission(&table.Kperf); err != nil {
		return nil, err
	}

	cat, err := catalog.Open(&table.Kperfdata, m.model)
	if err != nil {
		return nil, err
	}
	database := cat.Name()

	cfg, err := counter.Build(&table.Kperfdata, cat, reqs, counter.Options{UserSpaceOnly: m.userOnly})
	if err != nil {
		m.logger.Debug("counter config failed", zap.String("database", database), zap.Error(err))
		return nil, err
	}

	s := session.New(&table.Kperf, cfg, reqs)
	started := time.Now()
	if err := s.Arm(); err != nil {
		return nil, err
	}
	return &Measurement{m: m, session: s, database: database, started: started}, nil
}

// Run executes work inside the measurement window.
func (ms *Measurement) Run(work func()) error {
	return ms.session.Run(work)
}

// Finish reads the counters, releases them and returns the result.
func (ms *Measurement) Finish() (*Result, error) {
	deltas, err := ms.session.Finish()
	elapsed := time.Since(ms.started)
	ms.m.recorder.Record(context.Background(), deltas, err)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:            uuid.New(),
		Started:       ms.started,
		Duration:      elapsed,
		Database:      ms.database,
		UserSpaceOnly: ms.m.userOnly,
		Deltas:        deltas,
	}
	ms.m.logger.Debug("measurement finished",
		zap.String("id", res.ID.String()),
		zap.Int("events", len(deltas)),
		zap.Duration("duration", elapsed))
	return res, nil
}

// Measure runs work between Start and Finish. The counters are released even
// if work panics; the panic is then propagated.
func (m *Measurer) Measure(reqs []EventRequest, work func()) (*Result, error) {
	ms, err := m.Start(reqs)
	if err != nil {
		return nil, err
	}

	finished := false
	defer func() {
		if !finished {
			if _, err := ms.Finish(); err != nil {
				m.logger.Warn("releasing counters after panic", zap.Error(err))
			}
		}
	}()

	if err := ms.Run(work); err != nil {
		return nil, err
	}
	finished = true
	return ms.Finish()
}

// Repeat measures work n times and summarises the deltas.
func (m *Measurer) Repeat(reqs []EventRequest, n int, work func()) (*Summary, error) {
	if n < 1 {
		n = 1
	}
	agg := stats.NewAggregator()
	sum := &Summary{ID: uuid.New(), Results: make([]*Result, 0, n)}

	for i := 0; i < n; i++ {
		res, err := m.Measure(reqs, work)
		if err != nil {
			return nil, err
		}
		agg.Record(res.Deltas)
		sum.Results = append(sum.Results, res)
	}

	sum.Runs = len(sum.Results)
	sum.Stats = agg.Stats()
	return sum, nil
}

// ListEvents returns the name of the event database and every event in it.
func (m *Measurer) ListEvents() (string, []EventInfo, error) {
	table, err := m.resolver.Resolve()
	if err != nil {
		return "", nil, err
	}
	cat, err := catalog.Open(&table.Kperfdata, m.model)
	if err != nil {
		return "", nil, err
	}
	defer func() {
		_ = cat.Close()
	}()

	events, err := cat.Events()
	if err != nil {
		return "", nil, err
	}
	return cat.Name(), events, nil
}
