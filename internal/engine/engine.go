// Package engine drives the trading session lifecycle: resolve the
// symbol universe, connect the feed, bootstrap bar history, verify
// readiness, then run the scan/resample/close-out loops until stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pattern-trader/internal/broker"
	"pattern-trader/internal/config"
	"pattern-trader/internal/domain"
	"pattern-trader/internal/feed"
	"pattern-trader/internal/market"
	"pattern-trader/internal/observability"
	"pattern-trader/internal/orders"
	"pattern-trader/internal/pattern"
	"pattern-trader/internal/pipeline"
	"pattern-trader/internal/risk"
	"pattern-trader/internal/storage"
)

// ErrStartupFailed wraps any fatal startup error; the engine lands in
// FAILED and Run returns.
var ErrStartupFailed = errors.New("engine startup failed")

// Options wires an Engine.
type Options struct {
	Config  *config.Config
	Runtime domain.RuntimeConfig
	Session *domain.SessionCalendar

	Feed    feed.TickFeed
	Market  *market.Store
	Broker  broker.Broker
	Orders  *orders.Manager
	Monitor *orders.Monitor
	Archive storage.BarArchiveStore
	Audit   storage.AuditEventStore

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Engine is the session orchestrator. One engine runs one session.
type Engine struct {
	cfg     *config.Config
	session *domain.SessionCalendar

	feed    feed.TickFeed
	market  *market.Store
	broker  broker.Broker
	orders  *orders.Manager
	monitor *orders.Monitor
	archive storage.BarArchiveStore
	audit   storage.AuditEventStore

	pipeline *pipeline.Pipeline
	sizer    *risk.Sizer
	gate     *Gate

	log     zerolog.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	state      State
	runtime    domain.RuntimeConfig
	resolved   map[string]string // symbol -> instrument token
	lastScanAt time.Time
	lastEOD    time.Time // session date of the last close-out sweep
}

// Status is the operator-facing view of the engine.
type Status struct {
	State         State                        `json:"state"`
	Mode          domain.TradingMode           `json:"mode"`
	Universe      []string                     `json:"universe"`
	Resolved      int                          `json:"resolved"`
	OpenPositions []domain.Position            `json:"open_positions"`
	LastScanAt    time.Time                    `json:"last_scan_at"`
	Screening     map[string][]ScreeningStatus `json:"screening,omitempty"`
}

// ScreeningStatus is one level's verdict from a symbol's most recent
// screening pass.
type ScreeningStatus struct {
	Level  string `json:"level"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// New builds an Engine. The screening pipeline and detector come from
// the runtime config so a saved config change takes effect on restart.
func New(opts Options) (*Engine, error) {
	det, err := pattern.FromKind(opts.Config.Engine.PatternKind)
	if err != nil {
		return nil, err
	}
	checks, err := pipeline.NewChecks(opts.Runtime.Screening.Levels)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      opts.Config,
		session:  opts.Session,
		feed:     opts.Feed,
		market:   opts.Market,
		broker:   opts.Broker,
		orders:   opts.Orders,
		monitor:  opts.Monitor,
		archive:  opts.Archive,
		audit:    opts.Audit,
		sizer:    risk.NewSizer(),
		log:      opts.Logger.With().Str("component", "engine").Logger(),
		metrics:  opts.Metrics,
		state:    StateInit,
		runtime:  opts.Runtime,
		resolved: make(map[string]string),
	}
	e.pipeline = pipeline.New(pipeline.Options{
		Detector: det,
		Checks:   checks,
		Mode:     opts.Runtime.Screening.Mode,
		MinBars:  opts.Config.Aggregation.MinBarsForSignal,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	e.gate = &Gate{
		Feed:        opts.Feed,
		Market:      opts.Market,
		Metrics:     opts.Metrics,
		MinBars:     opts.Config.Aggregation.MinBarsForSignal,
		Majority:    opts.Config.Engine.ReadyMajority,
		LiveWindow:  2 * opts.Config.Aggregation.BarInterval.Std(),
		RequireFeed: e.live() || !opts.Config.Engine.OfflineScan,
		Resolved:    e.resolvedCount,
	}
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Gate exposes the readiness gate for the operator endpoint.
func (e *Engine) Gate() *Gate { return e.gate }

// Status snapshots the engine for the operator endpoint.
func (e *Engine) Status() Status {
	screening := make(map[string][]ScreeningStatus)
	for _, sym := range e.market.Universe() {
		results := e.market.LastScreening(sym)
		if len(results) == 0 {
			continue
		}
		views := make([]ScreeningStatus, 0, len(results))
		for _, r := range results {
			v := ScreeningStatus{Level: r.Level, Passed: r.Passed, Reason: r.Reason}
			if r.Err != nil {
				v.Error = r.Err.Error()
			}
			views = append(views, v)
		}
		screening[sym] = views
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:         e.state,
		Mode:          e.runtime.Mode,
		Universe:      append([]string(nil), e.runtime.Universe...),
		Resolved:      len(e.resolved),
		OpenPositions: e.orders.Positions(),
		LastScanAt:    e.lastScanAt,
		Screening:     screening,
	}
}

// Run drives the lifecycle until ctx is canceled or a fatal error lands
// the engine in FAILED.
func (e *Engine) Run(ctx context.Context) error {
	e.market.Track(e.runtime.Universe...)

	// Every tick feeds both the aggregator and the exit monitor.
	e.feed.OnTick(e.market.Append)
	if e.monitor != nil {
		e.feed.OnTick(e.monitor.OnTick)
	}

	if err := e.broker.Authenticate(ctx); err != nil {
		return e.fail(ctx, fmt.Errorf("authenticate broker: %w", err))
	}

	e.setState(ctx, StateResolvingSymbols)
	if err := e.resolveSymbols(ctx); err != nil {
		return e.fail(ctx, err)
	}

	e.setState(ctx, StateConnectingFeed)
	if err := e.connectFeed(ctx); err != nil {
		// A dead feed is fatal only when orders would route to a live
		// broker; an offline paper session keeps going on history.
		if e.live() || !e.cfg.Engine.OfflineScan {
			return e.fail(ctx, err)
		}
		e.log.Warn().Err(err).Msg("feed unavailable, continuing offline paper session")
	}

	e.setState(ctx, StateBootstrappingHistory)
	if err := e.bootstrapHistory(ctx); err != nil {
		return e.fail(ctx, err)
	}

	e.setState(ctx, StateVerifyingReady)
	if err := e.verifyReady(ctx); err != nil {
		return e.fail(ctx, err)
	}

	e.setState(ctx, StateTrading)
	if err := e.tradeLoop(ctx); err != nil {
		return e.fail(ctx, err)
	}

	e.setState(ctx, StateStopping)
	e.shutdown()
	e.setState(ctx, StateStopped)
	return nil
}

// resolveSymbols maps the universe to instrument tokens. Individual
// failures drop the symbol; only an empty result is fatal.
func (e *Engine) resolveSymbols(ctx context.Context) error {
	for _, sym := range e.runtime.Universe {
		token, err := e.broker.ResolveInstrument(ctx, sym)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", sym).Msg("symbol resolution failed, dropping from session")
			continue
		}
		e.mu.Lock()
		e.resolved[sym] = token
		e.mu.Unlock()
	}

	resolved, total := e.resolvedCount()
	e.log.Info().Int("resolved", resolved).Int("universe", total).Msg("symbol resolution complete")
	if resolved == 0 {
		return fmt.Errorf("%w: no symbol in the universe resolved", ErrStartupFailed)
	}
	return nil
}

func (e *Engine) connectFeed(ctx context.Context) error {
	if err := e.feed.Connect(ctx); err != nil {
		return fmt.Errorf("%w: connect feed: %v", ErrStartupFailed, err)
	}
	if err := e.feed.Subscribe(e.resolvedSymbols()); err != nil {
		return fmt.Errorf("%w: subscribe: %v", ErrStartupFailed, err)
	}
	return nil
}

// bootstrapHistory seeds each symbol's bars from the archive, falling
// back to the broker's historical API. Fatal only when the whole
// universe comes up empty.
func (e *Engine) bootstrapHistory(ctx context.Context) error {
	interval := e.cfg.Aggregation.BarInterval.Std()
	need := e.cfg.Aggregation.MinBarsForSignal
	from := time.Now().AddDate(0, 0, -e.cfg.Engine.BootstrapDays)

	seeded := 0
	for _, sym := range e.resolvedSymbols() {
		bars := e.archivedBars(ctx, sym, need)
		if len(bars) == 0 {
			hist, err := e.broker.HistoricalBars(ctx, sym, from, time.Now(), interval)
			if err != nil {
				e.log.Warn().Err(err).Str("symbol", sym).Msg("historical bars unavailable")
				continue
			}
			bars = hist
		}
		if len(bars) == 0 {
			continue
		}
		e.market.SeedHistory(sym, bars)
		seeded++
		e.log.Debug().Str("symbol", sym).Int("bars", len(bars)).Msg("history seeded")
	}

	if seeded == 0 {
		return fmt.Errorf("%w: no bar history for any symbol", ErrStartupFailed)
	}
	e.log.Info().Int("seeded", seeded).Msg("history bootstrap complete")
	return nil
}

func (e *Engine) archivedBars(ctx context.Context, symbol string, limit int) []domain.Bar {
	if e.archive == nil {
		return nil
	}
	rows, err := e.archive.GetLatest(ctx, symbol, limit)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("bar archive read failed")
		return nil
	}
	bars := make([]domain.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, *r)
	}
	return bars
}

// verifyReady polls the gate briefly: live prices need a few seconds of
// ticks to accumulate after subscription.
func (e *Engine) verifyReady(ctx context.Context) error {
	deadline := time.Now().Add(e.cfg.Feed.ConnectTimeout.Std())
	for {
		report := e.gate.Evaluate(time.Now())
		if report.Ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: readiness gate failed: %v", ErrStartupFailed, report.Checks)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrStartupFailed, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// tradeLoop runs resample, scan and close-out on their own cadences.
// It returns nil on cancellation and an error when the feed dies in
// live mode, which is fatal.
func (e *Engine) tradeLoop(ctx context.Context) error {
	resample := time.NewTicker(e.cfg.Aggregation.ResamplePeriod.Std())
	scan := time.NewTicker(e.cfg.Engine.ScanInterval.Std())
	eod := time.NewTicker(e.cfg.Engine.EODInterval.Std())
	defer resample.Stop()
	defer scan.Stop()
	defer eod.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-e.feed.Failed():
			if e.live() {
				e.closeAll(domain.ExitReasonOperator)
				return fmt.Errorf("feed reconnect budget exhausted: %w", err)
			}
			e.log.Warn().Err(err).Msg("feed reconnect budget exhausted, paper session continues on history")
		case now := <-resample.C:
			e.resampleAndArchive(ctx, now)
		case now := <-scan.C:
			if e.shouldScan(now) {
				e.scanUniverse(ctx, now)
			}
		case now := <-eod.C:
			e.checkEndOfDay(ctx, now)
		}
	}
}

// shouldScan gates entries on session hours: never inside the close-out
// window, and outside the session only for offline paper runs.
func (e *Engine) shouldScan(now time.Time) bool {
	if e.session.InCloseoutWindow(now) {
		return false
	}
	if e.session.IsOpen(now) {
		return true
	}
	return !e.live() && e.cfg.Engine.OfflineScan
}

func (e *Engine) resampleAndArchive(ctx context.Context, now time.Time) {
	finalized := e.market.Resample(now)
	if len(finalized) == 0 || e.archive == nil {
		return
	}
	rows := make([]*domain.Bar, len(finalized))
	for i := range finalized {
		rows[i] = &finalized[i]
	}
	err := e.archive.InsertBulk(ctx, rows)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		e.log.Warn().Err(err).Int("bars", len(rows)).Msg("bar archive write failed")
	}
}

// scanUniverse evaluates every resolved symbol and routes surviving
// signals through sizing into the order manager.
func (e *Engine) scanUniverse(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ScanDuration.Observe(time.Since(start).Seconds())
		}
		e.mu.Lock()
		e.lastScanAt = now
		e.mu.Unlock()
	}()

	limits := e.runtime.Risk
	for _, sym := range e.resolvedSymbols() {
		snap, ok := e.market.Snapshot(sym)
		if !ok {
			continue
		}

		portfolio := e.orders.Portfolio(e.capital())
		out := e.pipeline.Evaluate(snap, portfolio, limits, now)
		e.market.SetScreening(sym, out.Results)
		if len(out.Results) > 0 {
			e.record(ctx, domain.NewAuditEvent(domain.AuditScreeningResult, sym, out.RejectReason).
				With("passed", strconv.FormatBool(out.Signal != nil)).
				With("levels", screeningSummary(out.Results)))
		}

		if out.Signal == nil {
			continue
		}
		sig := *out.Signal

		e.record(ctx, domain.NewAuditEvent(domain.AuditSignalEmitted, sym, sig.PatternKind).
			With("direction", string(sig.Direction)).
			With("confidence", strconv.FormatFloat(sig.Confidence, 'f', 2, 64)))

		qty, err := e.sizer.Size(sig, portfolio, limits)
		if err != nil {
			e.record(ctx, domain.NewAuditEvent(domain.AuditSignalRejected, sym, err.Error()).
				With("direction", string(sig.Direction)))
			e.log.Debug().Err(err).Str("symbol", sym).Msg("signal rejected by risk sizing")
			continue
		}

		if err := e.orders.OpenPosition(ctx, sig, qty, limits); err != nil {
			e.log.Warn().Err(err).Str("symbol", sym).Msg("entry failed")
			// An unconfirmed outcome may have filled broker-side; take the
			// broker's word before the next scan can re-enter the symbol.
			if errors.Is(err, orders.ErrOrderUnresolved) {
				if rerr := e.orders.Reconcile(ctx); rerr != nil {
					e.log.Warn().Err(rerr).Msg("position reconciliation failed")
				}
			}
		}
	}
}

// screeningSummary flattens level outcomes into one audit detail field.
func screeningSummary(results []domain.ScreeningResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		switch {
		case r.Err != nil:
			parts = append(parts, r.Level+":error")
		case r.Passed:
			parts = append(parts, r.Level+":pass")
		default:
			parts = append(parts, r.Level+":"+r.Reason)
		}
	}
	return strings.Join(parts, ",")
}

// checkEndOfDay force-closes everything once the close-out window opens,
// one sweep per session date.
func (e *Engine) checkEndOfDay(ctx context.Context, now time.Time) {
	if !e.session.InCloseoutWindow(now) {
		return
	}
	date := e.session.SessionDate(now)
	e.mu.Lock()
	done := e.lastEOD.Equal(date)
	if !done {
		e.lastEOD = date
	}
	e.mu.Unlock()
	if done {
		return
	}

	e.log.Info().Time("session_date", date).Msg("close-out window reached, flattening positions")
	e.closeAll(domain.ExitReasonEndOfDay)
}

func (e *Engine) closeAll(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Engine.ShutdownGrace.Std())
	defer cancel()
	if err := e.orders.CloseAll(ctx, reason); err != nil {
		e.log.Error().Err(err).Str("reason", reason).Msg("close-out incomplete")
	}
}

// shutdown flattens the book and drops the feed. An intraday engine
// never carries positions past its own stop.
func (e *Engine) shutdown() {
	e.closeAll(domain.ExitReasonOperator)
	if err := e.feed.Close(); err != nil {
		e.log.Warn().Err(err).Msg("feed close failed")
	}
}

func (e *Engine) fail(ctx context.Context, err error) error {
	e.log.Error().Err(err).Msg("engine failed")
	e.setState(ctx, StateFailed)
	return err
}

func (e *Engine) setState(ctx context.Context, next State) {
	e.mu.Lock()
	prev := e.state
	e.state = next
	e.mu.Unlock()
	if prev == next {
		return
	}

	if e.metrics != nil {
		e.metrics.EngineState.Set(float64(next.Ordinal()))
	}
	e.record(ctx, domain.NewAuditEvent(domain.AuditEngineStateChanged, "", string(next)).
		With("from", string(prev)))
	e.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("engine state changed")
}

func (e *Engine) live() bool {
	return e.runtime.Mode == domain.ModeLive
}

// capital returns account equity: the paper broker's simulated balance
// when available, otherwise the configured paper capital.
func (e *Engine) capital() float64 {
	if pb, ok := e.broker.(interface{ Capital() float64 }); ok {
		return pb.Capital()
	}
	return e.cfg.Broker.PaperCapital
}

func (e *Engine) resolvedCount() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resolved), len(e.runtime.Universe)
}

func (e *Engine) resolvedSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.resolved))
	for sym := range e.resolved {
		out = append(out, sym)
	}
	return out
}

func (e *Engine) record(ctx context.Context, ev *domain.AuditEvent) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Insert(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("audit insert failed")
	}
}
