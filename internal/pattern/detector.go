// Package pattern holds the pluggable chart-pattern detectors. A detector
// examines a bar series and yields zero or one structured candidates;
// pattern quality scoring is the detector's responsibility and is a real
// measurement or omitted, never a constant.
package pattern

import (
	"errors"

	"pattern-trader/internal/domain"
)

// Detector kinds selectable from configuration.
const (
	KindRangeBreakout = "range_breakout"
	KindDoubleExtreme = "double_extreme"
)

// Factory errors
var (
	ErrUnknownDetectorKind = errors.New("unknown pattern detector kind")
)

// Detector is the capability interface for pattern detection. Detect
// returns nil when no pattern is present.
type Detector interface {
	Kind() string
	Detect(series domain.BarSeries) *domain.PatternCandidate
}

// FromKind creates a Detector by configuration name.
func FromKind(kind string) (Detector, error) {
	switch kind {
	case KindRangeBreakout:
		return NewRangeBreakout(DefaultRangeBreakoutParams()), nil
	case KindDoubleExtreme:
		return NewDoubleExtreme(DefaultDoubleExtremeParams()), nil
	default:
		return nil, ErrUnknownDetectorKind
	}
}

func scorePtr(v float64) *float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v
}
