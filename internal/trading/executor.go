package trading

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"agent-follower/internal/broker"
	"agent-follower/internal/errors"
	"agent-follower/internal/logging"
	"agent-follower/internal/models"
)

// Ledger records what the executor submitted.
type Ledger interface {
	SaveProcessedOrder(ctx context.Context, rec *models.OrderRecord) error
}

// OrderAuditor receives the venue outcome of every plan.
type OrderAuditor interface {
	OrderPlaced(ctx context.Context, plan models.FollowPlan, orderID string, err error)
}

// Breaker gates venue calls.
type Breaker interface {
	Execute(fn func() error) error
}

// ExecutionResult is the outcome of one plan.
type ExecutionResult struct {
	Plan      models.FollowPlan `json:"plan"`
	OrderID   string            `json:"order_id,omitempty"`
	FillPrice float64           `json:"fill_price,omitempty"`
	Skipped   bool              `json:"skipped"`
	Error     string            `json:"error,omitempty"`
}

// PlanExecutor submits follow plans to the venue.
type PlanExecutor struct {
	broker     broker.Broker
	ledger     Ledger
	audit      OrderAuditor
	marginType models.MarginType
	breaker    Breaker
	logger     zerolog.Logger
}

// NewPlanExecutor creates an executor. audit may be nil.
func NewPlanExecutor(b broker.Broker, ledger Ledger, audit OrderAuditor, marginType models.MarginType, logger zerolog.Logger) *PlanExecutor {
	return &PlanExecutor{
		broker:     b,
		ledger:     ledger,
		audit:      audit,
		marginType: marginType,
		logger:     logging.WithOperation(logger, "execute"),
	}
}

// WithBreaker routes every venue call through b.
func (x *PlanExecutor) WithBreaker(b Breaker) *PlanExecutor {
	x.breaker = b
	return x
}

// guarded runs a venue call through the breaker, if any.
func (x *PlanExecutor) guarded(fn func() error) error {
	if x.breaker == nil {
		return fn()
	}
	return x.breaker.Execute(fn)
}

// Execute submits plans with every EXIT ahead of every ENTER so that freed
// margin is available to new entries. A failed plan does not stop the rest;
// its ledger entry is not written so a later pass can retry it.
func (x *PlanExecutor) Execute(ctx context.Context, plans []models.FollowPlan) []ExecutionResult {
	ordered := make([]models.FollowPlan, len(plans))
	copy(ordered, plans)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Action == models.PlanExit && ordered[j].Action != models.PlanExit
	})

	results := make([]ExecutionResult, 0, len(ordered))
	for _, plan := range ordered {
		if err := ctx.Err(); err != nil {
			results = append(results, ExecutionResult{Plan: plan, Error: err.Error()})
			continue
		}
		results = append(results, x.executeOne(ctx, plan))
	}
	return results
}

func (x *PlanExecutor) executeOne(ctx context.Context, plan models.FollowPlan) ExecutionResult {
	logger := logging.WithSymbol(logging.WithAgent(x.logger, plan.AgentID), plan.Symbol)
	result := ExecutionResult{Plan: plan}

	var res *broker.OrderResult
	var err error
	start := time.Now()
	switch plan.Action {
	case models.PlanExit:
		err = x.guarded(func() (cerr error) {
			res, cerr = x.broker.ClosePosition(ctx, x.broker.ConvertSymbol(plan.Symbol))
			return cerr
		})
		logging.LogAPICall(logger, "ClosePosition", plan.Symbol, time.Since(start), err)
		if errors.Is(err, errors.ErrPositionNotFound) {
			logger.Info().Msg("Follower already flat, recording exit")
			result.Skipped = true
			err = nil
		}
	case models.PlanEnter:
		order := &models.Order{
			Symbol:     x.broker.ConvertSymbol(plan.Symbol),
			Side:       plan.Side,
			Type:       models.OrderTypeMarket,
			Quantity:   plan.Quantity,
			Price:      plan.EntryPrice,
			Leverage:   plan.Leverage,
			MarginType: x.marginType,
		}
		err = x.guarded(func() (perr error) {
			res, perr = x.broker.PlaceOrder(ctx, order)
			return perr
		})
		logging.LogAPICall(logger, "PlaceOrder", plan.Symbol, time.Since(start), err)
	default:
		err = errors.Wrapf(errors.ErrInvalidOrder, "unknown plan action %q", plan.Action)
	}

	if res != nil {
		result.OrderID = res.OrderID
		result.FillPrice = res.Price
	}
	if x.audit != nil {
		x.audit.OrderPlaced(ctx, plan, result.OrderID, err)
	}
	if err != nil {
		logger.Error().Err(err).Str("action", string(plan.Action)).Msg("Plan execution failed")
		result.Error = err.Error()
		return result
	}

	if err := x.ledger.SaveProcessedOrder(ctx, ledgerRecord(plan, result.OrderID)); err != nil {
		logger.Error().Err(err).Msg("Order placed but ledger write failed")
		result.Error = err.Error()
		return result
	}

	logger.Info().
		Str("action", string(plan.Action)).
		Str("side", string(plan.Side)).
		Float64("quantity", plan.Quantity).
		Float64("fill_price", result.FillPrice).
		Str("order_id", result.OrderID).
		Msg("Plan executed")
	return result
}

// ledgerRecord describes the source position the plan followed, so later
// passes can compare history with the source's snapshots.
func ledgerRecord(plan models.FollowPlan, orderID string) *models.OrderRecord {
	qty := plan.SourceQuantity
	if qty <= 0 {
		qty = plan.Quantity
	}
	side := plan.Side
	price := plan.EntryPrice
	if plan.Action == models.PlanExit {
		side = plan.Side.Opposite()
		if plan.ExitPrice > 0 {
			price = plan.ExitPrice
		}
	}
	return &models.OrderRecord{
		AgentID:  plan.AgentID,
		Symbol:   plan.Symbol,
		EntryOID: plan.EntryOID,
		Action:   plan.Action,
		Side:     side,
		Quantity: qty,
		Price:    price,
		Leverage: plan.Leverage,
		OrderID:  orderID,
		Status:   models.OrderStatusProcessed,
	}
}

// Summary counts results by outcome.
func Summary(results []ExecutionResult) (executed, skipped, failed int) {
	for _, r := range results {
		switch {
		case r.Error != "":
			failed++
		case r.Skipped:
			skipped++
		default:
			executed++
		}
	}
	return executed, skipped, failed
}
