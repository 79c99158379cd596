// Package follow reconciles a source trader's positions with the follower
// account and turns the differences into follow plans.
//
// The engine is stateless between passes. Callers serialize passes per agent
// (see Guard); distinct agents may be processed concurrently.
package follow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-follower/internal/allocation"
	"agent-follower/internal/confirm"
	"agent-follower/internal/consistency"
	"agent-follower/internal/errors"
	"agent-follower/internal/logging"
	"agent-follower/internal/models"
	"agent-follower/internal/risk"
)

// Failure stages reported in FollowError.
const (
	StageReload   = "reload"
	StageValidate = "validate"
	StageConfirm  = "confirm"
)

// PositionManager is the follower-side position collaborator.
type PositionManager interface {
	CleanOrphanedOrders(ctx context.Context) error
	ClosePosition(ctx context.Context, symbol, reason string) error
	ShouldExitPosition(position models.Position) bool
	GetExitReason(position models.Position) string
	// FindLivePosition looks up the follower's position for a source symbol.
	FindLivePosition(ctx context.Context, symbol string) (models.BrokerPosition, bool, error)
	ConvertSymbol(symbol string) string
}

// OrderHistory is the idempotency ledger.
type OrderHistory interface {
	IsOrderProcessed(ctx context.Context, entryOID int64, symbol string) (bool, error)
	GetProcessedOrdersByAgent(ctx context.Context, agentID string) ([]models.OrderRecord, error)
	ReloadHistory(ctx context.Context) error
	AddProfitExitRecord(ctx context.Context, record models.ProfitExitRecord) error
	ResetSymbolOrderStatus(ctx context.Context, symbol string, entryOID int64) error
}

// TradingExecutor exposes the follower account.
type TradingExecutor interface {
	GetAccountInfo(ctx context.Context) (models.AccountInfo, error)
	GetPositions(ctx context.Context) ([]models.BrokerPosition, error)
}

// Auditor records notable engine events. A nil Auditor is allowed.
type Auditor interface {
	ProfitExit(ctx context.Context, record models.ProfitExitRecord)
	ConfirmationSet(ctx context.Context, agentID string, action models.ConfirmationAction)
	ConfirmationConsumed(ctx context.Context, agentID string, action models.ConfirmationAction)
	PassAborted(ctx context.Context, agentID, stage string, err error)
	PlansGenerated(ctx context.Context, agentID string, plans []models.FollowPlan)
}

// Deps are the engine's collaborators.
type Deps struct {
	Positions     PositionManager
	History       OrderHistory
	Executor      TradingExecutor
	Risk          *risk.Manager
	Capital       *allocation.CapitalManager
	Confirmations confirm.Store
	Auditor       Auditor
	Metrics       *Metrics
}

// Settings tune settlement waiting after a close.
type Settings struct {
	SettleDelay  time.Duration
	PollClose    bool
	PollAttempts int
	PollInterval time.Duration
}

// DefaultSettings returns the settlement defaults.
func DefaultSettings() Settings {
	return Settings{
		SettleDelay:  1500 * time.Millisecond,
		PollAttempts: 10,
		PollInterval: 300 * time.Millisecond,
	}
}

// Engine runs reconciliation passes.
type Engine struct {
	deps      Deps
	settings  Settings
	validator *consistency.Validator
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine creates a follow engine.
func NewEngine(deps Deps, settings Settings, logger zerolog.Logger) *Engine {
	return &Engine{
		deps:      deps,
		settings:  settings,
		validator: consistency.NewValidator(deps.History, logger),
		logger:    logging.WithOperation(logger, "follow"),
		now:       time.Now,
	}
}

// WithClock replaces the time source used for plan timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// pass carries the per-invocation state of one FollowAgent call.
type pass struct {
	agentID  string
	opts     models.FollowOptions
	mode     detectMode
	current  []models.Position
	previous map[string]models.Position
	share    float64
	logger   zerolog.Logger

	// symbols closed by the profit-target handler this pass
	profitClosed map[string]bool
}

// FollowAgent runs one reconciliation pass for agentID and returns the plans
// to execute. Errors that abort the pass are *errors.FollowError.
func (e *Engine) FollowAgent(ctx context.Context, agentID string, current []models.Position, opts *models.FollowOptions) ([]models.FollowPlan, error) {
	start := time.Now()
	logger := logging.WithAgent(e.logger, agentID)

	p := &pass{
		agentID:      agentID,
		opts:         e.normalizeOptions(logger, opts),
		current:      current,
		logger:       logger,
		profitClosed: make(map[string]bool),
	}

	plans, stage, err := e.run(ctx, p)
	if err != nil {
		ferr := errors.NewFollowError(agentID, stage, err)
		logger.Error().Err(err).Str("stage", stage).Msg("Follow pass aborted")
		e.deps.Metrics.observePass(passAborted, time.Since(start))
		if e.deps.Auditor != nil {
			e.deps.Auditor.PassAborted(ctx, agentID, stage, err)
		}
		return nil, ferr
	}

	e.deps.Metrics.observePass(passOK, time.Since(start))
	if e.deps.Auditor != nil && len(plans) > 0 {
		e.deps.Auditor.PlansGenerated(ctx, agentID, plans)
	}
	logger.Info().Int("plans", len(plans)).Str("mode", string(p.mode)).Msg("Follow pass complete")
	return plans, nil
}

func (e *Engine) run(ctx context.Context, p *pass) ([]models.FollowPlan, string, error) {
	if err := e.deps.Positions.CleanOrphanedOrders(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to clean orphaned orders")
	}

	if err := e.deps.History.ReloadHistory(ctx); err != nil {
		return nil, StageReload, errors.Wrap(err, "reload order history")
	}

	report := e.validator.Check(ctx, p.agentID, p.current)
	e.deps.Metrics.observeDiscrepancies(report.Result.Discrepancies)
	if !report.Result.IsValid {
		return nil, StageValidate, errors.Wrap(errors.ErrValidationFailed, report.Result.SuggestedAction)
	}
	p.previous = report.Previous

	policy, err := e.resolvePolicy(ctx, p.agentID, report.Result, p.logger)
	if err != nil {
		return nil, StageConfirm, err
	}
	p.mode = modeFor(policy)
	p.share = marginShare(p.current, p.opts.TotalMargin)

	var plans []models.FollowPlan
	for _, change := range e.detectChanges(ctx, p) {
		logging.LogChange(p.logger, change)
		e.deps.Metrics.observeChange(change.Type)
		if plan := e.handleChange(ctx, p, change); plan != nil {
			plans = append(plans, *plan)
		}
	}

	plans = e.checkExitConditions(p, plans)

	if p.opts.TotalMargin > 0 {
		plans, _ = e.deps.Capital.ApplyToPlans(ctx, plans, p.current, p.opts.TotalMargin, p.opts.MaxLeverage, e.deps.Executor)
	}

	return e.finalizePlans(p, plans), "", nil
}

// resolvePolicy applies a pending operator confirmation when the validator
// asks for one. Without a confirmation the pass falls back to trust_actual.
func (e *Engine) resolvePolicy(ctx context.Context, agentID string, result models.ValidationResult, logger zerolog.Logger) (models.ValidationAction, error) {
	if result.ActionRequired != models.ActionUserConfirmation {
		return result.ActionRequired, nil
	}
	if e.deps.Confirmations == nil {
		logger.Warn().Msg("Confirmation required but no store configured, trusting live positions")
		return models.ActionTrustActual, nil
	}

	rec, err := e.deps.Confirmations.Get(ctx, agentID)
	if errors.Is(err, errors.ErrConfirmationNotFound) {
		logger.Warn().
			Int("discrepancies", len(result.Discrepancies)).
			Msg("Confirmation required but none given, trusting live positions")
		return models.ActionTrustActual, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "read confirmation")
	}

	if err := e.deps.Confirmations.Clear(ctx, agentID); err != nil {
		logger.Warn().Err(err).Msg("Failed to clear consumed confirmation")
	}
	if e.deps.Auditor != nil {
		e.deps.Auditor.ConfirmationConsumed(ctx, agentID, rec.Action)
	}
	logger.Info().Str("action", string(rec.Action)).Msg("Applying operator confirmation")

	switch rec.Action {
	case models.ConfirmAbort:
		return "", errors.ErrFollowAborted
	case models.ConfirmRebuildHistory:
		return models.ActionRebuildHistory, nil
	default:
		return models.ActionTrustActual, nil
	}
}

func (e *Engine) finalizePlans(p *pass, plans []models.FollowPlan) []models.FollowPlan {
	out := make([]models.FollowPlan, 0, len(plans))
	now := e.now()
	for _, plan := range plans {
		if plan.Action == models.PlanEnter {
			price := plan.EntryPrice
			if plan.PriceTolerance != nil && plan.PriceTolerance.CurrentPrice > 0 {
				price = plan.PriceTolerance.CurrentPrice
			}
			assessment := e.deps.Risk.AssessRisk(plan.Symbol, plan.Quantity, price, plan.Leverage)
			plan.Risk = &assessment
			if !assessment.IsValid {
				p.logger.Warn().
					Str("symbol", plan.Symbol).
					Float64("risk_score", assessment.RiskScore).
					Strs("warnings", assessment.Warnings).
					Msg("Plan rejected by risk check")
				e.deps.Metrics.observeRejected("risk")
				continue
			}
		}

		plan.ID = uuid.NewString()
		plan.AgentID = p.agentID
		plan.Timestamp = now
		logging.LogPlan(p.logger, plan)
		e.deps.Metrics.observePlan(plan.Action)
		out = append(out, plan)
	}
	return out
}

// ValidatePositionConsistency checks current positions against the ledger.
func (e *Engine) ValidatePositionConsistency(ctx context.Context, agentID string, current []models.Position) models.ValidationResult {
	return e.validator.Validate(ctx, agentID, current)
}

// NeedsUserConfirmation reports whether the validator asks for a decision
// that has not been given yet.
func (e *Engine) NeedsUserConfirmation(ctx context.Context, agentID string, current []models.Position) (bool, error) {
	result := e.ValidatePositionConsistency(ctx, agentID, current)
	if result.ActionRequired != models.ActionUserConfirmation {
		return false, nil
	}
	if e.deps.Confirmations == nil {
		return true, nil
	}
	recent, err := e.deps.Confirmations.HasRecent(ctx, agentID)
	if err != nil {
		return false, err
	}
	return !recent, nil
}

// ConfirmationInfo describes a pending confirmation for display.
type ConfirmationInfo struct {
	AgentID         string                      `json:"agent_id"`
	Required        bool                        `json:"required"`
	HasConfirmation bool                        `json:"has_confirmation"`
	Validation      models.ValidationResult     `json:"validation"`
	Options         []models.ConfirmationAction `json:"options"`
	Message         string                      `json:"message"`
}

// GetConfirmationRequiredInfo returns what the operator needs to decide.
func (e *Engine) GetConfirmationRequiredInfo(ctx context.Context, agentID string, current []models.Position) (ConfirmationInfo, error) {
	result := e.ValidatePositionConsistency(ctx, agentID, current)
	info := ConfirmationInfo{
		AgentID:    agentID,
		Required:   result.ActionRequired == models.ActionUserConfirmation,
		Validation: result,
		Options: []models.ConfirmationAction{
			models.ConfirmTrustActual,
			models.ConfirmRebuildHistory,
			models.ConfirmAbort,
		},
		Message: result.SuggestedAction,
	}
	if e.deps.Confirmations != nil {
		recent, err := e.deps.Confirmations.HasRecent(ctx, agentID)
		if err != nil {
			return info, err
		}
		info.HasConfirmation = recent
	}
	return info, nil
}

// HandleUserConfirmation records the operator's decision for agentID. It is
// consumed by the next pass that asks for confirmation.
func (e *Engine) HandleUserConfirmation(ctx context.Context, agentID string, action models.ConfirmationAction) error {
	if _, err := confirm.ParseAction(string(action)); err != nil {
		return err
	}
	if e.deps.Confirmations == nil {
		return errors.New("no confirmation store configured")
	}
	if err := e.deps.Confirmations.Set(ctx, agentID, action); err != nil {
		return errors.Wrap(err, "store confirmation")
	}
	if e.deps.Auditor != nil {
		e.deps.Auditor.ConfirmationSet(ctx, agentID, action)
	}
	logger := logging.WithAgent(e.logger, agentID)
	logger.Info().Str("action", string(action)).Msg("Confirmation recorded")
	return nil
}
