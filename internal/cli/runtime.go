package cli

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"agent-follower/internal/allocation"
	"agent-follower/internal/audit"
	"agent-follower/internal/broker"
	"agent-follower/internal/config"
	"agent-follower/internal/confirm"
	"agent-follower/internal/errors"
	"agent-follower/internal/follow"
	"agent-follower/internal/models"
	"agent-follower/internal/resilience"
	"agent-follower/internal/risk"
	"agent-follower/internal/store"
	"agent-follower/internal/trading"
)

// runtime is the set of collaborators one command invocation works with.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger

	broker        *broker.PaperBroker
	history       *store.SQLiteHistory
	confirmations confirm.Store
	bolt          *confirm.BoltStore
	audit         *audit.Logger
	positions     *trading.PositionManager
	risk          *risk.Manager
	capital       *allocation.CapitalManager
	breaker       *resilience.CircuitBreaker

	registry *prometheus.Registry
	metrics  *follow.Metrics
}

// openRuntime builds the paper venue, ledger, confirmation store and audit
// trail from configuration. Close must be called to persist venue state.
func (a *App) openRuntime() (*runtime, error) {
	cfg := a.Config
	rt := &runtime{
		cfg:      cfg,
		logger:   a.Logger,
		risk:     risk.NewManager(cfg.Risk, a.Logger),
		capital:  allocation.NewCapitalManager(cfg.Allocation, a.Logger),
		registry: prometheus.NewRegistry(),
	}
	rt.metrics = follow.NewMetrics(rt.registry)
	rt.breaker = resilience.NewCircuitBreaker("paper", resilience.DefaultCircuitBreakerConfig()).
		OnTransition(func(from, to resilience.CircuitState) {
			a.Logger.Warn().Str("from", string(from)).Str("to", string(to)).Msg("Venue circuit breaker changed state")
		})

	b, err := broker.LoadPaperBroker(cfg.Paper.StatePath, broker.PaperBrokerConfig{
		InitialBalance: cfg.Paper.InitialBalance,
		MarginType:     marginType(cfg.Paper.MarginType),
	})
	if err != nil {
		return nil, err
	}
	rt.broker = b
	rt.positions = trading.NewPositionManager(b, a.Logger)

	rt.history, err = store.NewSQLiteHistory(cfg.Store.DBPath, a.Logger)
	if err != nil {
		return nil, err
	}

	switch cfg.Confirmation.Backend {
	case "memory":
		rt.confirmations = confirm.NewMemoryStore(cfg.Confirmation.TTL)
	default:
		rt.bolt, err = confirm.OpenBoltStore(cfg.Confirmation.Path, cfg.Confirmation.TTL)
		if err != nil {
			rt.history.Close()
			return nil, err
		}
		rt.confirmations = rt.bolt
	}

	if cfg.Audit.Enabled {
		rt.audit, err = audit.New(audit.DefaultConfig(cfg.Audit.Dir), a.Logger)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Audit trail unavailable")
		}
	}

	return rt, nil
}

// engine builds a follow engine scoped to agentID's ledger.
func (rt *runtime) engine(agentID string) *follow.Engine {
	deps := follow.Deps{
		Positions:     rt.positions,
		History:       rt.history.ForAgent(agentID),
		Executor:      rt.broker,
		Risk:          rt.risk,
		Capital:       rt.capital,
		Confirmations: rt.confirmations,
		Metrics:       rt.metrics,
	}
	if rt.audit != nil {
		deps.Auditor = rt.audit
	}
	return follow.NewEngine(deps, rt.settings(), rt.logger)
}

// executor builds the plan executor for agentID.
func (rt *runtime) executor(agentID string) *trading.PlanExecutor {
	var orderAudit trading.OrderAuditor
	if rt.audit != nil {
		orderAudit = rt.audit
	}
	return trading.NewPlanExecutor(rt.broker, rt.history.ForAgent(agentID), orderAudit, marginType(rt.cfg.Follow.MarginType), rt.logger).
		WithBreaker(rt.breaker)
}

func (rt *runtime) settings() follow.Settings {
	f := rt.cfg.Follow
	return follow.Settings{
		SettleDelay:  f.SettleDelay,
		PollClose:    f.PollClose,
		PollAttempts: f.PollAttempts,
		PollInterval: f.PollInterval,
	}
}

// markPrices feeds the snapshot's current prices to the paper venue.
func (rt *runtime) markPrices(positions []models.Position) {
	for _, p := range positions {
		if p.CurrentPrice > 0 {
			rt.broker.UpdatePrice(p.Symbol, p.CurrentPrice)
		}
	}
}

// Close persists venue state and releases stores.
func (rt *runtime) Close() error {
	var errs []error
	if err := rt.broker.SaveState(rt.cfg.Paper.StatePath); err != nil {
		errs = append(errs, err)
	}
	if err := rt.history.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.bolt.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.audit.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func marginType(s string) models.MarginType {
	if strings.EqualFold(s, string(models.MarginIsolated)) {
		return models.MarginIsolated
	}
	return models.MarginCrossed
}
