package domain

import "time"

// AuditEventType enumerates the state transitions the engine is obligated
// to record, one event per transition.
type AuditEventType string

const (
	AuditEngineStateChanged AuditEventType = "ENGINE_STATE_CHANGED"
	AuditSignalEmitted      AuditEventType = "SIGNAL_EMITTED"
	AuditSignalRejected     AuditEventType = "SIGNAL_REJECTED"
	AuditScreeningResult    AuditEventType = "SCREENING_RESULT"
	AuditOrderSubmitted     AuditEventType = "ORDER_SUBMITTED"
	AuditOrderFilled        AuditEventType = "ORDER_FILLED"
	AuditOrderRejected      AuditEventType = "ORDER_REJECTED"
	AuditPositionOpened     AuditEventType = "POSITION_OPENED"
	AuditPositionClosed     AuditEventType = "POSITION_CLOSED"
	AuditStopAdjusted       AuditEventType = "STOP_ADJUSTED"
)

// AuditEvent is one structured audit record. Detail carries event-specific
// fields; the schema of the payload is the persistence layer's concern.
type AuditEvent struct {
	Type      AuditEventType
	Symbol    string // empty for engine-wide events
	Reason    string
	Detail    map[string]string
	CreatedAt time.Time
}

// NewAuditEvent constructs an event stamped with the current UTC time.
func NewAuditEvent(t AuditEventType, symbol, reason string) *AuditEvent {
	return &AuditEvent{
		Type:      t,
		Symbol:    symbol,
		Reason:    reason,
		Detail:    make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
}

// With adds a detail field and returns the event for chaining.
func (e *AuditEvent) With(key, value string) *AuditEvent {
	if e.Detail == nil {
		e.Detail = make(map[string]string)
	}
	e.Detail[key] = value
	return e
}
