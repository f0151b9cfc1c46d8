//go:build integration

// Package integration contains integration tests for the bot execution engine.
//
// These tests verify the correct interaction between components:
// - full trading cycle: market event -> strategy -> order -> fill -> position
// - risk accounting across instances, drawdown breach handling
// - operator API: full HTTP request cycle against a live engine
//
// Integration tests use build tag "integration" to separate from unit tests.
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"xbot/internal/api"
	"xbot/internal/bot"
	"xbot/internal/bus"
	"xbot/internal/exchange"
	"xbot/internal/models"
	"xbot/internal/strategy"
)

// TestEngine encapsulates all components needed for integration testing
type TestEngine struct {
	Bus       *bus.Bus
	Transport *exchange.PaperTransport
	Risk      *bot.Accountant
	Orders    *bot.OrderManager
	Scheduler *bot.Scheduler
	Server    *httptest.Server
	Cleanup   func()
}

// newTestEngine builds a complete in-process engine with a paper transport
func newTestEngine(t *testing.T, riskCfg bot.RiskConfig) *TestEngine {
	t.Helper()

	transport := exchange.NewPaperTransport("paper", true, 5*time.Millisecond)
	risk := bot.NewAccountant(riskCfg)
	om := bot.NewOrderManager(transport, risk, nil)
	sched := bot.NewScheduler(bot.SchedulerConfig{MaxRestarts: 1, Workers: 2}, om, risk)
	marketBus := bus.New(64)

	if err := transport.SubscribeUpdates(func(update *models.OrderUpdate) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = om.OnExternalUpdate(ctx, update)
	}); err != nil {
		t.Fatalf("subscribe updates: %v", err)
	}

	router := api.SetupRoutes(&api.Dependencies{
		Scheduler: sched,
		Risk:      risk,
		Orders:    om,
	})
	server := httptest.NewServer(router)

	return &TestEngine{
		Bus:       marketBus,
		Transport: transport,
		Risk:      risk,
		Orders:    om,
		Scheduler: sched,
		Server:    server,
		Cleanup: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sched.StopAll(ctx)
			server.Close()
			marketBus.Close()
			_ = transport.Close()
		},
	}
}

// addBot registers and starts a threshold instance
func (e *TestEngine) addBot(t *testing.T, id, symbol string, lower, upper, notional float64) *bot.Instance {
	t.Helper()

	strat := strategy.NewThreshold(lower, upper)
	inst, err := bot.NewInstance(bot.InstanceConfig{
		ID:            id,
		Symbol:        symbol,
		Timeframe:     "1m",
		HistorySize:   10,
		OrderNotional: notional,
	}, strat, e.Bus, e.Orders, e.Risk)
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	if err := e.Scheduler.Register(inst); err != nil {
		t.Fatalf("register instance: %v", err)
	}
	if err := e.Scheduler.Start(id); err != nil {
		t.Fatalf("start instance: %v", err)
	}
	return inst
}

// publishCandle publishes a closed 1m candle to the market bus
func (e *TestEngine) publishCandle(t *testing.T, symbol string, close float64, at time.Time) {
	t.Helper()

	candle := &models.Candle{
		Symbol:    symbol,
		Timeframe: "1m",
		OpenTime:  at.Add(-time.Minute),
		CloseTime: at,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    1,
		Closed:    true,
	}
	e.Transport.SetMarkPrice(symbol, close)
	if err := e.Bus.PublishMarket(models.CandleEvent(candle)); err != nil {
		t.Fatalf("publish candle: %v", err)
	}
}

// waitFor polls cond until it returns true or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
