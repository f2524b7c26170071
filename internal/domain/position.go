package domain

import "time"

// PositionState tracks the per-symbol order/position lifecycle:
// NONE → PENDING_ENTRY → OPEN → EXIT_REQUESTED → NONE, with the fail path
// PENDING_ENTRY → REJECTED → NONE on broker rejection.
type PositionState string

const (
	PositionStateNone          PositionState = "NONE"
	PositionStatePendingEntry  PositionState = "PENDING_ENTRY"
	PositionStateOpen          PositionState = "OPEN"
	PositionStateExitRequested PositionState = "EXIT_REQUESTED"
	PositionStateRejected      PositionState = "REJECTED"
)

// Position is an open holding created on a confirmed entry fill.
// It is created only by the order manager, mutated only by the position
// monitor (trailing stop updates) and closed only on a confirmed exit fill.
type Position struct {
	Symbol     string
	Side       Direction
	Quantity   int64
	EntryPrice float64
	StopLoss   float64
	Target     float64
	EntryTime  time.Time
	OrderID    string
}

// RiskAmount is the capital at risk if the stop is hit at its placed price.
func (p Position) RiskAmount() float64 {
	d := p.EntryPrice - p.StopLoss
	if d < 0 {
		d = -d
	}
	return d * float64(p.Quantity)
}

// StopBreached reports whether price has touched or crossed the stop.
// A position without a placed stop, such as one adopted from a broker
// snapshot, never triggers.
func (p Position) StopBreached(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == DirectionLong {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// TargetReached reports whether price has touched or crossed the target.
// A position without a placed target never triggers.
func (p Position) TargetReached(price float64) bool {
	if p.Target <= 0 {
		return false
	}
	if p.Side == DirectionLong {
		return price >= p.Target
	}
	return price <= p.Target
}

// OrderKind distinguishes entries from exits on the broker path.
type OrderKind string

const (
	OrderKindEntry OrderKind = "ENTRY"
	OrderKindExit  OrderKind = "EXIT"
)

// OrderIntent is a sized, risk-checked order request handed to the broker.
// LimitPrice carries the slippage-bounded acceptable price rather than an
// unconstrained market order, so execution slippage alone cannot put the
// fill beyond the stop distance.
type OrderIntent struct {
	ClientOrderID string
	Symbol        string
	Side          Direction
	Kind          OrderKind
	Quantity      int64
	LimitPrice    float64
	Reason        string // entry pattern kind or exit reason code
}

// Exit reason codes recorded on exit intents and audit events.
const (
	ExitReasonStopLoss = "STOP_LOSS"
	ExitReasonTarget   = "TARGET"
	ExitReasonEndOfDay = "END_OF_DAY"
	ExitReasonOperator = "OPERATOR_STOP"
)
