package trading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"agent-follower/internal/broker"
	"agent-follower/internal/models"
	"agent-follower/internal/resilience"
	"agent-follower/pkg/utils"
)

// flakyBroker fails the first n position reads.
type flakyBroker struct {
	*broker.PaperBroker
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyBroker) GetPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("venue timeout")
	}
	return f.PaperBroker.GetPositions(ctx)
}

type memLedger struct {
	records []models.OrderRecord
	err     error
}

func (m *memLedger) SaveProcessedOrder(ctx context.Context, rec *models.OrderRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, *rec)
	return nil
}

type orderAudit struct {
	orders []string
	errs   int
}

func (a *orderAudit) OrderPlaced(ctx context.Context, plan models.FollowPlan, orderID string, err error) {
	a.orders = append(a.orders, plan.Symbol)
	if err != nil {
		a.errs++
	}
}

var fastRetry = utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}

func newPaper(t *testing.T) *broker.PaperBroker {
	t.Helper()
	b := broker.NewPaperBroker(broker.PaperBrokerConfig{InitialBalance: 10000})
	b.UpdatePrice("BTC", 50000)
	b.UpdatePrice("ETH", 3000)
	return b
}

func openPosition(t *testing.T, b *broker.PaperBroker, symbol string, side models.OrderSide, qty float64) {
	t.Helper()
	_, err := b.PlaceOrder(context.Background(), &models.Order{
		Symbol: symbol, Side: side, Type: models.OrderTypeMarket, Quantity: qty, Leverage: 10,
	})
	if err != nil {
		t.Fatalf("Failed to open %s position: %v", symbol, err)
	}
}

func findLive(t *testing.T, pm *PositionManager, symbol string) (models.BrokerPosition, bool) {
	t.Helper()
	live, ok, err := pm.FindLivePosition(context.Background(), symbol)
	if err != nil {
		t.Fatalf("FindLivePosition(%s) error = %v", symbol, err)
	}
	return live, ok
}

func execute(t *testing.T, x *PlanExecutor, ctx context.Context, plans []models.FollowPlan) []ExecutionResult {
	t.Helper()
	results := x.Execute(ctx, plans)
	if len(results) != len(plans) {
		t.Fatalf("got %d results for %d plans", len(results), len(plans))
	}
	return results
}

func TestPositionManager_FindLivePosition(t *testing.T) {
	b := newPaper(t)
	openPosition(t, b, "BTC", models.OrderSideBuy, 0.1)
	pm := NewPositionManager(b, zerolog.Nop())

	live, ok := findLive(t, pm, "BTC")
	if !ok {
		t.Fatal("BTC position not found")
	}
	if live.Symbol != "BTCUSDT" || live.PositionAmt != 0.1 {
		t.Errorf("live = %s %f, want BTCUSDT 0.1", live.Symbol, live.PositionAmt)
	}

	if _, ok := findLive(t, pm, "ETH"); ok {
		t.Error("ETH should have no live position")
	}

	if got := pm.ConvertSymbol("ETH"); got != "ETHUSDT" {
		t.Errorf("ConvertSymbol(ETH) = %s, want ETHUSDT", got)
	}
}

func TestPositionManager_RetriesPositionReads(t *testing.T) {
	ctx := context.Background()
	paper := newPaper(t)
	openPosition(t, paper, "BTC", models.OrderSideBuy, 0.1)

	fb := &flakyBroker{PaperBroker: paper, failures: 2}
	pm := NewPositionManager(fb, zerolog.Nop()).WithRetry(fastRetry)

	if _, ok := findLive(t, pm, "BTC"); !ok {
		t.Error("BTC position not found after retries")
	}
	if fb.calls != 3 {
		t.Errorf("calls = %d, want 3", fb.calls)
	}

	fb = &flakyBroker{PaperBroker: paper, failures: 5}
	pm = NewPositionManager(fb, zerolog.Nop()).WithRetry(fastRetry)
	if _, _, err := pm.FindLivePosition(ctx, "BTC"); err == nil || !strings.Contains(err.Error(), "venue timeout") {
		t.Errorf("FindLivePosition() error = %v, want venue timeout", err)
	}
}

func TestPositionManager_ClosePosition(t *testing.T) {
	ctx := context.Background()
	b := newPaper(t)
	openPosition(t, b, "ETH", models.OrderSideSell, 1)
	pm := NewPositionManager(b, zerolog.Nop())

	if err := pm.ClosePosition(ctx, "ETH", "source entry changed"); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	if _, ok := findLive(t, pm, "ETH"); ok {
		t.Error("ETH still open after close")
	}

	// A flat symbol is not an error.
	if err := pm.ClosePosition(ctx, "ETH", "again"); err != nil {
		t.Errorf("ClosePosition() on flat symbol error = %v", err)
	}
}

func TestPositionManager_CleanOrphanedOrders(t *testing.T) {
	ctx := context.Background()
	b := newPaper(t)
	openPosition(t, b, "BTC", models.OrderSideBuy, 0.1)
	openPosition(t, b, "ETH", models.OrderSideBuy, 1)

	for _, o := range []models.Order{
		{Symbol: "BTC", Side: models.OrderSideSell, Type: models.OrderTypeStop, Quantity: 0.1, StopPrice: 48000, ReduceOnly: true},
		{Symbol: "ETH", Side: models.OrderSideSell, Type: models.OrderTypeStop, Quantity: 1, StopPrice: 2800, ReduceOnly: true},
		{Symbol: "ETH", Side: models.OrderSideSell, Type: models.OrderTypeTakeProfit, Quantity: 1, StopPrice: 3500, ReduceOnly: true},
	} {
		o := o
		if _, err := b.PlaceOrder(ctx, &o); err != nil {
			t.Fatalf("Failed to place %s %s: %v", o.Symbol, o.Type, err)
		}
	}

	b.RemovePosition("ETH")

	pm := NewPositionManager(b, zerolog.Nop())
	if err := pm.CleanOrphanedOrders(ctx); err != nil {
		t.Fatalf("CleanOrphanedOrders() error = %v", err)
	}

	remaining, err := b.GetOpenOrders(ctx, "")
	if err != nil {
		t.Fatalf("GetOpenOrders() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].Symbol != "BTCUSDT" {
		t.Errorf("remaining orders = %+v, want only the BTCUSDT stop", remaining)
	}
}

func TestExitTrigger(t *testing.T) {
	plan := &models.ExitPlan{ProfitTarget: 55000, StopLoss: 48000}
	short := &models.ExitPlan{ProfitTarget: 45000, StopLoss: 52000}

	tests := []struct {
		name   string
		pos    models.Position
		exit   bool
		reason string
	}{
		{"long between levels", models.Position{Quantity: 1, CurrentPrice: 50000, ExitPlan: plan}, false, ""},
		{"long at stop", models.Position{Quantity: 1, CurrentPrice: 48000, ExitPlan: plan}, true, "stop loss"},
		{"long above target", models.Position{Quantity: 1, CurrentPrice: 56000, ExitPlan: plan}, true, "profit target"},
		{"short above stop", models.Position{Quantity: -1, CurrentPrice: 52500, ExitPlan: short}, true, "stop loss"},
		{"short at target", models.Position{Quantity: -1, CurrentPrice: 45000, ExitPlan: short}, true, "profit target"},
		{"short between levels", models.Position{Quantity: -1, CurrentPrice: 50000, ExitPlan: short}, false, ""},
		{"no plan", models.Position{Quantity: 1, CurrentPrice: 1}, false, ""},
		{"no price", models.Position{Quantity: 1, ExitPlan: plan}, false, ""},
		{"flat", models.Position{CurrentPrice: 40000, ExitPlan: plan}, false, ""},
		{"unset levels", models.Position{Quantity: 1, CurrentPrice: 40000, ExitPlan: &models.ExitPlan{}}, false, ""},
	}

	pm := NewPositionManager(newPaper(t), zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pm.ShouldExitPosition(tt.pos); got != tt.exit {
				t.Errorf("ShouldExitPosition() = %v, want %v", got, tt.exit)
			}
			reason := pm.GetExitReason(tt.pos)
			if tt.exit && !strings.Contains(reason, tt.reason) {
				t.Errorf("GetExitReason() = %q, want it to mention %q", reason, tt.reason)
			}
			if !tt.exit && reason != "" {
				t.Errorf("GetExitReason() = %q, want empty", reason)
			}
		})
	}
}

func TestPlanExecutor_ExitsBeforeEntries(t *testing.T) {
	ctx := context.Background()
	b := newPaper(t)
	openPosition(t, b, "ETH", models.OrderSideBuy, 1)

	ledger := &memLedger{}
	audit := &orderAudit{}
	x := NewPlanExecutor(b, ledger, audit, models.MarginCrossed, zerolog.Nop())

	results := execute(t, x, ctx, []models.FollowPlan{
		{AgentID: "gpt-5", Action: models.PlanEnter, Symbol: "BTC", Side: models.OrderSideBuy, Quantity: 0.05, Leverage: 10, EntryPrice: 50000, EntryOID: 11, SourceQuantity: 0.2},
		{AgentID: "gpt-5", Action: models.PlanExit, Symbol: "ETH", Side: models.OrderSideSell, Quantity: 1, Leverage: 10, EntryPrice: 3000, ExitPrice: 3100, EntryOID: 7},
	})
	if results[0].Plan.Symbol != "ETH" || results[1].Plan.Symbol != "BTC" {
		t.Errorf("execution order = %s, %s, want ETH exit first", results[0].Plan.Symbol, results[1].Plan.Symbol)
	}
	for _, r := range results {
		if r.Error != "" || r.OrderID == "" {
			t.Errorf("%s result = %+v, want a clean fill", r.Plan.Symbol, r)
		}
	}

	if executed, skipped, failed := Summary(results); executed != 2 || skipped != 0 || failed != 0 {
		t.Errorf("Summary() = %d/%d/%d, want 2/0/0", executed, skipped, failed)
	}

	if len(ledger.records) != 2 {
		t.Fatalf("ledger has %d records, want 2", len(ledger.records))
	}
	// Exits record the side of the position they closed.
	exit := ledger.records[0]
	if exit.Action != models.PlanExit || exit.Side != models.OrderSideBuy || exit.Price != 3100 || exit.EntryOID != 7 {
		t.Errorf("exit record = %+v", exit)
	}

	// The ledger holds the source quantity.
	enter := ledger.records[1]
	if enter.Action != models.PlanEnter || enter.Quantity != 0.2 || enter.Price != 50000 || enter.AgentID != "gpt-5" {
		t.Errorf("enter record = %+v", enter)
	}

	if len(audit.orders) != 2 || audit.orders[0] != "ETH" || audit.orders[1] != "BTC" {
		t.Errorf("audited orders = %v, want [ETH BTC]", audit.orders)
	}

	positions, _ := b.GetPositions(ctx)
	if len(positions) != 1 || positions[0].Symbol != "BTCUSDT" || positions[0].PositionAmt != 0.05 {
		t.Errorf("positions = %+v, want BTCUSDT 0.05 only", positions)
	}
}

func TestPlanExecutor_FlatExitIsSkippedButRecorded(t *testing.T) {
	ledger := &memLedger{}
	x := NewPlanExecutor(newPaper(t), ledger, nil, models.MarginCrossed, zerolog.Nop())

	results := execute(t, x, context.Background(), []models.FollowPlan{
		{AgentID: "gpt-5", Action: models.PlanExit, Symbol: "SOL", Side: models.OrderSideSell, Quantity: 3, EntryOID: 4},
	})
	if !results[0].Skipped || results[0].Error != "" {
		t.Errorf("result = %+v, want skipped without error", results[0])
	}
	if len(ledger.records) != 1 || ledger.records[0].Quantity != 3 {
		t.Errorf("ledger = %+v, want one record of quantity 3", ledger.records)
	}
}

func TestPlanExecutor_FailuresAreNotRecorded(t *testing.T) {
	ledger := &memLedger{}
	audit := &orderAudit{}
	x := NewPlanExecutor(newPaper(t), ledger, audit, models.MarginCrossed, zerolog.Nop())

	results := execute(t, x, context.Background(), []models.FollowPlan{
		{AgentID: "gpt-5", Action: models.PlanEnter, Symbol: "BTC", Side: models.OrderSideBuy, Quantity: 10, Leverage: 1, EntryOID: 1},
		{AgentID: "gpt-5", Action: models.PlanEnter, Symbol: "ETH", Side: models.OrderSideBuy, Quantity: 0.5, Leverage: 5, EntryOID: 2},
	})
	if !strings.Contains(results[0].Error, "insufficient funds") {
		t.Errorf("BTC error = %q, want insufficient funds", results[0].Error)
	}
	if results[1].Error != "" {
		t.Errorf("ETH error = %q, want none", results[1].Error)
	}

	if _, _, failed := Summary(results); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if len(ledger.records) != 1 || ledger.records[0].Symbol != "ETH" {
		t.Errorf("ledger = %+v, want only ETH", ledger.records)
	}
	if audit.errs != 1 {
		t.Errorf("audited errors = %d, want 1", audit.errs)
	}
}

func TestPlanExecutor_LedgerFailureReported(t *testing.T) {
	ledger := &memLedger{err: errors.New("disk full")}
	x := NewPlanExecutor(newPaper(t), ledger, nil, models.MarginCrossed, zerolog.Nop())

	results := execute(t, x, context.Background(), []models.FollowPlan{
		{AgentID: "gpt-5", Action: models.PlanEnter, Symbol: "ETH", Side: models.OrderSideBuy, Quantity: 0.5, Leverage: 5, EntryOID: 2},
	})
	if results[0].OrderID == "" || results[0].Error != "disk full" {
		t.Errorf("result = %+v, want a placed order with the ledger error", results[0])
	}
}

func TestPlanExecutor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ledger := &memLedger{}
	x := NewPlanExecutor(newPaper(t), ledger, nil, models.MarginCrossed, zerolog.Nop())

	results := execute(t, x, ctx, []models.FollowPlan{{Action: models.PlanEnter, Symbol: "ETH", Side: models.OrderSideBuy, Quantity: 1}})
	if results[0].Error == "" {
		t.Error("cancelled pass should report an error")
	}
	if len(ledger.records) != 0 {
		t.Errorf("ledger = %+v, want empty", ledger.records)
	}
}

// downBroker rejects every order as if the venue were unreachable.
type downBroker struct {
	*broker.PaperBroker
	orders int
}

func (d *downBroker) PlaceOrder(ctx context.Context, order *models.Order) (*broker.OrderResult, error) {
	d.orders++
	return nil, errors.New("venue unavailable")
}

func TestPlanExecutor_BreakerStopsSubmission(t *testing.T) {
	venue := &downBroker{PaperBroker: newPaper(t)}
	ledger := &memLedger{}
	cb := resilience.NewCircuitBreaker("paper", resilience.CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	x := NewPlanExecutor(venue, ledger, nil, models.MarginCrossed, zerolog.Nop()).WithBreaker(cb)

	results := execute(t, x, context.Background(), []models.FollowPlan{
		{AgentID: "gpt-5", Action: models.PlanEnter, Symbol: "BTC", Side: models.OrderSideBuy, Quantity: 0.01, Leverage: 10, EntryOID: 1},
		{AgentID: "gpt-5", Action: models.PlanEnter, Symbol: "ETH", Side: models.OrderSideBuy, Quantity: 0.5, Leverage: 5, EntryOID: 2},
	})
	if results[0].Error != "venue unavailable" {
		t.Errorf("first error = %q, want venue unavailable", results[0].Error)
	}
	if !strings.Contains(results[1].Error, "circuit breaker is open") {
		t.Errorf("second error = %q, want open breaker", results[1].Error)
	}
	if venue.orders != 1 {
		t.Errorf("venue saw %d orders, want 1", venue.orders)
	}
	if cb.State() != resilience.CircuitOpen {
		t.Errorf("breaker state = %s, want OPEN", cb.State())
	}
	if len(ledger.records) != 0 {
		t.Errorf("ledger = %+v, want empty", ledger.records)
	}
}
