package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/observability"
	"pattern-trader/internal/retry"
)

// WSFeedConfig configures websocket feed behavior.
type WSFeedConfig struct {
	// APIKey is sent as a bearer token on the handshake.
	APIKey string
	// HandshakeTimeout bounds the initial dial.
	HandshakeTimeout time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
	// Reconnect bounds the reconnect budget.
	Reconnect retry.Policy
}

// DefaultWSFeedConfig returns default websocket feed configuration.
func DefaultWSFeedConfig() WSFeedConfig {
	return WSFeedConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		Reconnect:        retry.DefaultPolicy(),
	}
}

// WSFeed implements TickFeed over gorilla/websocket.
type WSFeed struct {
	endpoint string
	config   WSFeedConfig
	log      zerolog.Logger
	metrics  *observability.Metrics

	conn      *websocket.Conn
	connMu    sync.Mutex
	connected atomic.Bool
	closed    atomic.Bool

	handlers   []TickHandler
	handlersMu sync.RWMutex

	// symbols holds the active subscription for resubscribe after reconnect
	symbols   []string
	symbolsMu sync.RWMutex

	failed chan error
	done   chan struct{}
	wg     sync.WaitGroup

	reconnecting atomic.Bool
}

// NewWSFeed creates a websocket feed. Connect must be called before
// Subscribe.
func NewWSFeed(endpoint string, config *WSFeedConfig, log zerolog.Logger, metrics *observability.Metrics) *WSFeed {
	cfg := DefaultWSFeedConfig()
	if config != nil {
		cfg = *config
	}

	return &WSFeed{
		endpoint: endpoint,
		config:   cfg,
		log:      log.With().Str("component", "feed").Logger(),
		metrics:  metrics,
		failed:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Compile-time interface check.
var _ TickFeed = (*WSFeed)(nil)

// Connect dials the endpoint and starts the read and ping loops.
func (f *WSFeed) Connect(ctx context.Context) error {
	if f.closed.Load() {
		return fmt.Errorf("feed closed")
	}

	if err := f.dial(ctx); err != nil {
		return err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return nil
}

func (f *WSFeed) dial(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: f.config.HandshakeTimeout,
	}

	var header http.Header
	if f.config.APIKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + f.config.APIKey}}
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.conn = conn
	f.connected.Store(true)
	if f.metrics != nil {
		f.metrics.FeedConnected.Set(1)
	}
	return nil
}

// Subscribe sends a subscription request for the given symbols and stores
// them for resubscription after reconnect.
func (f *WSFeed) Subscribe(symbols []string) error {
	if f.closed.Load() {
		return fmt.Errorf("feed closed")
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}

	f.symbolsMu.Lock()
	f.symbols = append([]string(nil), symbols...)
	f.symbolsMu.Unlock()

	return f.writeSubscribe(symbols)
}

func (f *WSFeed) writeSubscribe(symbols []string) error {
	req := wsSubscribeRequest{Action: "subscribe", Symbols: symbols}

	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("not connected")
	}

	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// OnTick registers a handler for every delivered tick.
func (f *WSFeed) OnTick(h TickHandler) {
	f.handlersMu.Lock()
	f.handlers = append(f.handlers, h)
	f.handlersMu.Unlock()
}

// Connected reports whether the socket is currently up.
func (f *WSFeed) Connected() bool {
	return f.connected.Load()
}

// Failed yields ErrFeedUnavailable once the reconnect budget is spent.
func (f *WSFeed) Failed() <-chan error {
	return f.failed
}

// Close closes the connection and stops the background loops.
func (f *WSFeed) Close() error {
	if f.closed.Swap(true) {
		return nil // already closed
	}

	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.connected.Store(false)
	if f.metrics != nil {
		f.metrics.FeedConnected.Set(0)
	}

	f.wg.Wait()
	return nil
}

// readLoop reads messages and dispatches ticks until shutdown.
func (f *WSFeed) readLoop() {
	defer f.wg.Done()

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}

			f.connected.Store(false)
			if f.metrics != nil {
				f.metrics.FeedConnected.Set(0)
			}

			if !f.reconnecting.Swap(true) {
				go f.reconnect()
			}

			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		f.handleMessage(message)
	}
}

// reconnect redials within the retry budget and resubscribes. Exhausting
// the budget surfaces ErrFeedUnavailable to the orchestrator.
func (f *WSFeed) reconnect() {
	defer f.reconnecting.Store(false)

	if f.closed.Load() {
		return
	}

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-f.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := f.config.Reconnect.Do(ctx, func(ctx context.Context) error {
		if f.metrics != nil {
			f.metrics.FeedReconnects.Inc()
		}
		dialCtx, dialCancel := context.WithTimeout(ctx, f.config.HandshakeTimeout)
		defer dialCancel()
		return f.dial(dialCtx)
	})
	if err != nil {
		if f.closed.Load() {
			return
		}
		f.log.Error().Err(err).Msg("reconnect budget exhausted")
		select {
		case f.failed <- fmt.Errorf("%w: %v", ErrFeedUnavailable, err):
		default:
		}
		return
	}

	f.log.Info().Msg("feed reconnected")

	f.symbolsMu.RLock()
	symbols := append([]string(nil), f.symbols...)
	f.symbolsMu.RUnlock()

	if len(symbols) > 0 {
		if err := f.writeSubscribe(symbols); err != nil {
			f.log.Error().Err(err).Msg("resubscribe failed")
		}
	}
}

// handleMessage parses one wire message and dispatches the tick.
func (f *WSFeed) handleMessage(message []byte) {
	var msg wsTickMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		f.log.Warn().Err(err).Msg("unparseable feed message")
		return
	}
	if msg.Type != "tick" {
		return
	}

	tick := domain.Tick{
		Symbol:       msg.Symbol,
		LastPrice:    msg.LastPrice,
		Volume:       msg.Volume,
		ExchangeTime: msg.ExchangeTime,
	}
	if !tick.Valid() {
		return
	}

	if f.metrics != nil {
		f.metrics.TicksReceived.WithLabelValues(tick.Symbol).Inc()
	}

	f.handlersMu.RLock()
	handlers := f.handlers
	f.handlersMu.RUnlock()

	for _, h := range handlers {
		h(tick)
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (f *WSFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			f.connMu.Unlock()
		}
	}
}

// Wire message types

type wsSubscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type wsTickMessage struct {
	Type         string    `json:"type"`
	Symbol       string    `json:"symbol"`
	LastPrice    float64   `json:"last_price"`
	Volume       int64     `json:"volume"`
	ExchangeTime time.Time `json:"exchange_time"`
}
