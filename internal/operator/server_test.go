package operator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pattern-trader/internal/broker"
	"pattern-trader/internal/config"
	"pattern-trader/internal/domain"
	"pattern-trader/internal/engine"
	"pattern-trader/internal/feed"
	"pattern-trader/internal/market"
	"pattern-trader/internal/orders"
	"pattern-trader/internal/storage/memory"
)

func newTestServer(t *testing.T, offline bool, stop func()) (*Server, *market.Store) {
	t.Helper()

	cfg := config.Default()
	cfg.Engine.OfflineScan = offline
	session := cfg.Session
	require.NoError(t, session.Resolve())

	store := market.NewStore(market.DefaultStoreConfig(), zerolog.Nop(), nil)
	pb := broker.NewPaperBroker(broker.DefaultPaperOptions(), store, zerolog.Nop())
	mgr := orders.NewManager(orders.Options{
		Broker: pb,
		Prices: store,
		Logger: zerolog.Nop(),
	})

	rt := domain.RuntimeConfig{
		Universe:  []string{"RELIANCE"},
		Mode:      domain.ModePaper,
		Screening: domain.DefaultScreeningConfig(),
		Risk:      domain.DefaultRiskLimits(),
	}
	eng, err := engine.New(engine.Options{
		Config:  cfg,
		Runtime: rt,
		Session: &session,
		Feed:    feed.NewStubFeed(),
		Market:  store,
		Broker:  pb,
		Orders:  mgr,
		Archive: memory.NewBarArchiveStore(),
		Audit:   memory.NewAuditEventStore(),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	return NewServer(Options{
		Addr:   ":0",
		Engine: eng,
		Stop:   stop,
		Logger: zerolog.Nop(),
	}), store
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, false, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz_NotReadyBeforeStartup(t *testing.T) {
	srv, _ := newTestServer(t, false, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report engine.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Ready)
	assert.False(t, report.Checks[engine.CheckFeedConnected])
}

func TestReadyz_ReEvaluatesOnEachProbe(t *testing.T) {
	// Offline paper: the gate needs only resolution and history, both of
	// which this test can satisfy without running the engine.
	srv, store := newTestServer(t, true, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no history yet")

	store.Track("RELIANCE")
	start := time.Now().Add(-time.Hour)
	var bars []domain.Bar
	for i := 0; i < 40; i++ {
		bars = append(bars, domain.Bar{
			Symbol: "RELIANCE", Open: 100, High: 101, Low: 99, Close: 100,
			Volume: 1000, StartTime: start.Add(time.Duration(i) * time.Minute),
		})
	}
	store.SeedHistory("RELIANCE", bars)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "symbols still unresolved")
}

func TestStatus(t *testing.T) {
	srv, store := newTestServer(t, false, nil)

	store.Track("RELIANCE")
	store.SetScreening("RELIANCE", []domain.ScreeningResult{
		{Level: "trend_regime", Passed: true},
		{Level: "volume_confirmation", Passed: false, Reason: "VOLUME_WEAK"},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var status engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, engine.StateInit, status.State)
	assert.Equal(t, []string{"RELIANCE"}, status.Universe)

	// The last screening outcome per symbol rides along on status.
	require.Contains(t, status.Screening, "RELIANCE")
	require.Len(t, status.Screening["RELIANCE"], 2)
	assert.Equal(t, "trend_regime", status.Screening["RELIANCE"][0].Level)
	assert.Equal(t, "VOLUME_WEAK", status.Screening["RELIANCE"][1].Reason)
}

func TestStop(t *testing.T) {
	stopped := false
	srv, _ := newTestServer(t, false, func() { stopped = true })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, stopped)

	// Stop is POST-only.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stop", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
