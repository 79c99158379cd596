package follow

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"agent-follower/internal/allocation"
	"agent-follower/internal/config"
	"agent-follower/internal/confirm"
	"agent-follower/internal/models"
	"agent-follower/internal/risk"
)

type stubExecutor struct {
	mu   sync.Mutex
	info models.AccountInfo
	err  error
}

func (s *stubExecutor) GetAccountInfo(ctx context.Context) (models.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.err
}

func (s *stubExecutor) GetPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	return nil, nil
}

func (s *stubExecutor) credit(amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.AvailableBalance += amount
}

type stubPositions struct {
	mu        sync.Mutex
	live      map[string]models.BrokerPosition
	exits     map[string]string
	closeErr  error
	closed    []string
	cleaned   int
	executor  *stubExecutor
	lookupErr error
}

func newStubPositions(exec *stubExecutor) *stubPositions {
	return &stubPositions{
		live:     make(map[string]models.BrokerPosition),
		exits:    make(map[string]string),
		executor: exec,
	}
}

func (s *stubPositions) CleanOrphanedOrders(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned++
	return nil
}

func (s *stubPositions) ClosePosition(ctx context.Context, symbol, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, symbol)
	if s.closeErr != nil {
		return s.closeErr
	}
	if live, ok := s.live[symbol]; ok {
		delete(s.live, symbol)
		if s.executor != nil {
			s.executor.credit(live.Margin(models.MarginCrossed) + live.UnrealizedPnL)
		}
	}
	return nil
}

func (s *stubPositions) ShouldExitPosition(p models.Position) bool {
	_, ok := s.exits[p.Symbol]
	return ok
}

func (s *stubPositions) GetExitReason(p models.Position) string {
	return s.exits[p.Symbol]
}

func (s *stubPositions) FindLivePosition(ctx context.Context, symbol string) (models.BrokerPosition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return models.BrokerPosition{}, false, s.lookupErr
	}
	p, ok := s.live[symbol]
	return p, ok, nil
}

func (s *stubPositions) ConvertSymbol(symbol string) string {
	return symbol + "USDT"
}

func (s *stubPositions) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closed)
}

type resetCall struct {
	symbol   string
	entryOID int64
}

type stubHistory struct {
	mu          sync.Mutex
	records     []models.OrderRecord
	getErr      error
	reloadErr   error
	reloads     int
	profitExits []models.ProfitExitRecord
	resets      []resetCall
}

func (s *stubHistory) IsOrderProcessed(ctx context.Context, entryOID int64, symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.EntryOID == entryOID && r.Symbol == symbol && r.Status == models.OrderStatusProcessed {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubHistory) GetProcessedOrdersByAgent(ctx context.Context, agentID string) ([]models.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	out := make([]models.OrderRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *stubHistory) ReloadHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	return s.reloadErr
}

func (s *stubHistory) AddProfitExitRecord(ctx context.Context, r models.ProfitExitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profitExits = append(s.profitExits, r)
	return nil
}

func (s *stubHistory) ResetSymbolOrderStatus(ctx context.Context, symbol string, entryOID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, resetCall{symbol, entryOID})
	return nil
}

type recordingAuditor struct {
	mu       sync.Mutex
	events   []string
	profit   []models.ProfitExitRecord
	aborted  []string
	planSets int
}

func (a *recordingAuditor) ProfitExit(ctx context.Context, r models.ProfitExitRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, "profit_exit")
	a.profit = append(a.profit, r)
}

func (a *recordingAuditor) ConfirmationSet(ctx context.Context, agentID string, action models.ConfirmationAction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, "confirmation_set")
}

func (a *recordingAuditor) ConfirmationConsumed(ctx context.Context, agentID string, action models.ConfirmationAction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, "confirmation_consumed")
}

func (a *recordingAuditor) PassAborted(ctx context.Context, agentID, stage string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, "pass_aborted")
	a.aborted = append(a.aborted, stage)
}

func (a *recordingAuditor) PlansGenerated(ctx context.Context, agentID string, plans []models.FollowPlan) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, "plans_generated")
	a.planSets++
}

type harness struct {
	engine    *Engine
	positions *stubPositions
	history   *stubHistory
	executor  *stubExecutor
	confirms  *confirm.MemoryStore
	auditor   *recordingAuditor
}

func newHarness(riskCfg ...config.RiskConfig) *harness {
	rc := config.RiskConfig{
		DefaultPriceTolerance: 1.0,
		ReferenceAccountSize:  10000,
		MaxRiskScore:          100,
	}
	if len(riskCfg) > 0 {
		rc = riskCfg[0]
	}

	exec := &stubExecutor{info: models.AccountInfo{AvailableBalance: 10000, TotalWalletBalance: 10000}}
	h := &harness{
		positions: newStubPositions(exec),
		history:   &stubHistory{},
		executor:  exec,
		confirms:  confirm.NewMemoryStore(confirm.DefaultTTL),
		auditor:   &recordingAuditor{},
	}
	h.engine = NewEngine(Deps{
		Positions:     h.positions,
		History:       h.history,
		Executor:      exec,
		Risk:          risk.NewManager(rc, zerolog.Nop()),
		Capital:       allocation.NewCapitalManager(config.AllocationConfig{}, zerolog.Nop()),
		Confirmations: h.confirms,
		Auditor:       h.auditor,
	}, Settings{}, zerolog.Nop())
	return h
}

func ledgerEntry(symbol string, oid int64, side models.OrderSide, qty, price float64) models.OrderRecord {
	return models.OrderRecord{
		ID:        symbol,
		AgentID:   "agent",
		Symbol:    symbol,
		EntryOID:  oid,
		Action:    models.PlanEnter,
		Side:      side,
		Quantity:  qty,
		Price:     price,
		Leverage:  10,
		Status:    models.OrderStatusProcessed,
		Timestamp: testTime,
	}
}
