package domain

import "time"

// Direction of a trade signal.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the mirrored direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// PatternCandidate is the structured output of a pattern detector.
// PatternScore is nil when the detector could not measure pattern quality;
// the pipeline must degrade confidence in that case rather than assume a
// mid-range default.
type PatternCandidate struct {
	Kind          string // detector identifier, e.g. "RANGE_BREAKOUT"
	Direction     Direction
	BreakoutPrice float64
	InitialStop   float64
	Target        float64
	PatternScore  *float64 // quality measurement in [0,1], nil when unmeasured
}

// ScreeningResult is the outcome of one screening level.
// Err is set when the level itself failed internally, as opposed to the
// business rule failing; the pass policy decides how to treat it.
type ScreeningResult struct {
	Level  string
	Passed bool
	Reason string
	Err    error
}

// ScreeningMode controls how level outcomes combine into a verdict.
type ScreeningMode string

const (
	// ScreeningStrict blocks the signal on any failure, internal or business.
	ScreeningStrict ScreeningMode = "STRICT"
	// ScreeningFailSafe treats a level's internal error as a pass (logged),
	// but an explicit business-rule failure still blocks.
	ScreeningFailSafe ScreeningMode = "FAILSAFE"
)

// Signal is a fully screened, scored trade candidate.
// Invariants: StopLoss != EntryPrice and Confidence is in [0,100].
type Signal struct {
	Symbol       string
	Direction    Direction
	EntryPrice   float64
	StopLoss     float64
	Target       float64
	PatternKind  string
	PatternScore *float64
	Confidence   float64
	Screening    []ScreeningResult
	DetectedAt   time.Time
}

// PerShareRisk is the absolute distance between entry and stop.
func (s Signal) PerShareRisk() float64 {
	d := s.EntryPrice - s.StopLoss
	if d < 0 {
		return -d
	}
	return d
}

// RewardRisk returns the reward:risk ratio, or zero when risk is zero.
func (s Signal) RewardRisk() float64 {
	risk := s.PerShareRisk()
	if risk == 0 {
		return 0
	}
	reward := s.Target - s.EntryPrice
	if s.Direction == DirectionShort {
		reward = s.EntryPrice - s.Target
	}
	return reward / risk
}
