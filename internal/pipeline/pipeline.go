package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/market"
	"pattern-trader/internal/observability"
	"pattern-trader/internal/pattern"
)

// Pipeline-level rejection reason codes.
const (
	ReasonInsufficientData = "INSUFFICIENT_DATA"
	ReasonNoPattern        = "NO_PATTERN"
)

// Outcome is the result of evaluating one symbol. Signal is nil unless
// the candidate survived screening; RejectReason carries the structured
// reason otherwise.
type Outcome struct {
	Signal       *domain.Signal
	Results      []domain.ScreeningResult
	RejectReason string
}

// Options configures a Pipeline.
type Options struct {
	Detector pattern.Detector
	Checks   []Check
	Mode     domain.ScreeningMode
	MinBars  int
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
}

// Pipeline runs detection, screening and scoring for one symbol snapshot.
type Pipeline struct {
	detector pattern.Detector
	checks   []Check
	mode     domain.ScreeningMode
	minBars  int
	log      zerolog.Logger
	metrics  *observability.Metrics
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	if opts.MinBars <= 0 {
		opts.MinBars = 30
	}
	if opts.Mode == "" {
		opts.Mode = domain.ScreeningFailSafe
	}
	return &Pipeline{
		detector: opts.Detector,
		checks:   opts.Checks,
		mode:     opts.Mode,
		minBars:  opts.MinBars,
		log:      opts.Logger.With().Str("component", "pipeline").Logger(),
		metrics:  opts.Metrics,
	}
}

// Evaluate runs the full pipeline over one snapshot. A short series yields
// an insufficient-data outcome, never an error.
func (p *Pipeline) Evaluate(snap market.Snapshot, portfolio domain.PortfolioState, limits domain.RiskLimits, now time.Time) Outcome {
	if len(snap.Bars) < p.minBars {
		if p.metrics != nil {
			p.metrics.InsufficientData.WithLabelValues(snap.Symbol).Inc()
		}
		return Outcome{RejectReason: ReasonInsufficientData}
	}

	cand := p.detector.Detect(snap.Bars)
	if cand == nil {
		return Outcome{RejectReason: ReasonNoPattern}
	}

	in := Input{
		Snapshot:  snap,
		Candidate: *cand,
		Portfolio: portfolio,
		Limits:    limits,
	}

	results := make([]domain.ScreeningResult, 0, len(p.checks))
	for _, check := range p.checks {
		res := check.Run(in)
		results = append(results, res)
		if res.Err != nil && p.mode == domain.ScreeningFailSafe {
			p.log.Warn().
				Str("symbol", snap.Symbol).
				Str("level", res.Level).
				Err(res.Err).
				Msg("screening level errored, treated as pass under fail-safe policy")
		}
		if !res.Passed && p.metrics != nil {
			p.metrics.ScreeningFailed.WithLabelValues(res.Level).Inc()
		}
	}

	if reason, blocked := p.blockedBy(results); blocked {
		if p.metrics != nil {
			p.metrics.SignalsRejected.WithLabelValues(reason).Inc()
		}
		p.log.Debug().
			Str("symbol", snap.Symbol).
			Str("reason", reason).
			Msg("signal blocked by screening")
		return Outcome{Results: results, RejectReason: reason}
	}

	sig := &domain.Signal{
		Symbol:       snap.Symbol,
		Direction:    cand.Direction,
		EntryPrice:   cand.BreakoutPrice,
		StopLoss:     cand.InitialStop,
		Target:       cand.Target,
		PatternKind:  cand.Kind,
		PatternScore: cand.PatternScore,
		Confidence:   confidence(snap, *cand),
		Screening:    results,
		DetectedAt:   now,
	}

	if p.metrics != nil {
		p.metrics.SignalsEmitted.WithLabelValues(string(sig.Direction)).Inc()
	}
	return Outcome{Signal: sig, Results: results}
}

// blockedBy applies the pass policy: strict blocks on any failure or
// internal error; fail-safe lets internal errors through but an explicit
// business-rule failure still blocks.
func (p *Pipeline) blockedBy(results []domain.ScreeningResult) (string, bool) {
	for _, r := range results {
		if r.Err != nil {
			if p.mode == domain.ScreeningStrict {
				return r.Level + "_ERROR", true
			}
			continue
		}
		if !r.Passed {
			return r.Reason, true
		}
	}
	return "", false
}
