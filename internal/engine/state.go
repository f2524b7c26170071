package engine

// State is the engine lifecycle. The happy path runs INIT through
// TRADING to STOPPED; FAILED is terminal and reached from any startup
// stage or a dead feed in live mode.
type State string

const (
	StateInit                 State = "INIT"
	StateResolvingSymbols     State = "RESOLVING_SYMBOLS"
	StateConnectingFeed       State = "CONNECTING_FEED"
	StateBootstrappingHistory State = "BOOTSTRAPPING_HISTORY"
	StateVerifyingReady       State = "VERIFYING_READY"
	StateTrading              State = "TRADING"
	StateStopping             State = "STOPPING"
	StateStopped              State = "STOPPED"
	StateFailed               State = "FAILED"
)

// Ordinal maps the state to a stable number for the state gauge.
func (s State) Ordinal() int {
	switch s {
	case StateInit:
		return 0
	case StateResolvingSymbols:
		return 1
	case StateConnectingFeed:
		return 2
	case StateBootstrappingHistory:
		return 3
	case StateVerifyingReady:
		return 4
	case StateTrading:
		return 5
	case StateStopping:
		return 6
	case StateStopped:
		return 7
	case StateFailed:
		return 8
	}
	return -1
}
