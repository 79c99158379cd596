// Package allocation sizes follow plans against the follower's own capital.
package allocation

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"agent-follower/internal/config"
	"agent-follower/internal/logging"
	"agent-follower/internal/models"
)

// BalanceSource reports the follower account's balances.
type BalanceSource interface {
	GetAccountInfo(ctx context.Context) (models.AccountInfo, error)
}

// CapitalManager distributes a margin budget across mirrored positions in
// proportion to the source trader's own margins.
type CapitalManager struct {
	precision map[string]int
	logger    zerolog.Logger
}

// NewCapitalManager creates a capital manager. Precision overrides from cfg
// take priority over the built-in table.
func NewCapitalManager(cfg config.AllocationConfig, logger zerolog.Logger) *CapitalManager {
	p := make(map[string]int, len(quantityPrecision)+len(cfg.QuantityPrecision))
	for k, v := range quantityPrecision {
		p[k] = v
	}
	for k, v := range cfg.QuantityPrecision {
		p[venueSymbol(k)] = v
	}
	return &CapitalManager{
		precision: p,
		logger:    logging.WithOperation(logger, "allocation"),
	}
}

// Precision returns the quantity decimals for a source or venue symbol.
func (c *CapitalManager) Precision(symbol string) int {
	if p, ok := c.precision[venueSymbol(symbol)]; ok {
		return p
	}
	return DefaultQuantityPrecision
}

// RoundQuantity floors qty to the symbol's precision.
func (c *CapitalManager) RoundQuantity(symbol string, qty float64) float64 {
	return RoundDownQuantity(qty, c.Precision(symbol))
}

// AllocateMargin splits totalMargin across the open positions with a
// positive margin basis. maxLeverage caps each position's leverage when set.
func (c *CapitalManager) AllocateMargin(positions []models.Position, totalMargin, maxLeverage float64) models.AllocationResult {
	result := models.AllocationResult{Allocations: []models.CapitalAllocation{}}

	eligible := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsOpen() && p.MarginBasis() > 0 && p.ReferencePrice() > 0 {
			eligible = append(eligible, p)
			result.TotalOriginalMargin += p.MarginBasis()
		}
	}
	if result.TotalOriginalMargin <= 0 || totalMargin <= 0 {
		return result
	}

	for _, p := range eligible {
		lev := CapLeverage(p.EffectiveLeverage(), maxLeverage)
		ratio := p.MarginBasis() / result.TotalOriginalMargin
		allocated := totalMargin * ratio
		notional := allocated * lev
		raw := notional / p.ReferencePrice()

		a := models.CapitalAllocation{
			Symbol:           p.Symbol,
			OriginalMargin:   p.MarginBasis(),
			AllocatedMargin:  allocated,
			NotionalValue:    notional,
			RawQuantity:      raw,
			AdjustedQuantity: c.RoundQuantity(p.Symbol, raw),
			AllocationRatio:  ratio,
			Leverage:         lev,
			Side:             p.Side(),
		}
		result.Allocations = append(result.Allocations, a)
		result.TotalAllocatedMargin += allocated
		result.TotalNotionalValue += notional
	}
	return result
}

// ApplyToPlans resizes ENTER plans to the follower's budget.
//
// The budget is clamped to the account's net worth (or available balance)
// when the balance lookup succeeds. If the direct top-ups plus the budget
// still exceed that ceiling, both shrink by the same factor. Direct top-up
// plans keep their quantity and only receive allocation metadata. Plans
// that round down to zero are dropped.
func (c *CapitalManager) ApplyToPlans(
	ctx context.Context,
	plans []models.FollowPlan,
	sources []models.Position,
	totalMargin, maxLeverage float64,
	balance BalanceSource,
) ([]models.FollowPlan, models.AllocationResult) {
	if totalMargin <= 0 {
		return plans, models.AllocationResult{Allocations: []models.CapitalAllocation{}}
	}

	ceiling := c.ceiling(ctx, balance)
	if ceiling > 0 && totalMargin > ceiling {
		c.logger.Warn().
			Float64("total_margin", totalMargin).
			Float64("ceiling", ceiling).
			Msg("Total margin exceeds account value, clamping")
		totalMargin = ceiling
	}

	var directRequired float64
	for _, p := range plans {
		if p.Action == models.PlanEnter && p.IsDirectStrategyAdjustment {
			directRequired += requiredMargin(p)
		}
	}
	if totalRequired := directRequired + totalMargin; ceiling > 0 && totalRequired > ceiling {
		scale := ceiling / totalRequired
		c.logger.Warn().
			Float64("required", totalRequired).
			Float64("ceiling", ceiling).
			Float64("scale", scale).
			Msg("Required margin exceeds account value, shrinking plans")
		for i := range plans {
			if plans[i].Action == models.PlanEnter && plans[i].IsDirectStrategyAdjustment {
				plans[i].Quantity = c.RoundQuantity(plans[i].Symbol, plans[i].Quantity*scale)
			}
		}
		totalMargin *= scale
	}

	bySymbol := make(map[string]models.Position, len(sources))
	for _, s := range sources {
		bySymbol[s.Symbol] = s
	}
	var entering []models.Position
	for _, p := range plans {
		if p.Action != models.PlanEnter {
			continue
		}
		if s, ok := bySymbol[p.Symbol]; ok {
			entering = append(entering, s)
		}
	}

	result := c.AllocateMargin(entering, totalMargin, maxLeverage)
	allocs := make(map[string]models.CapitalAllocation, len(result.Allocations))
	for _, a := range result.Allocations {
		allocs[a.Symbol] = a
	}

	out := make([]models.FollowPlan, 0, len(plans))
	for _, p := range plans {
		if p.Action != models.PlanEnter {
			out = append(out, p)
			continue
		}

		a, ok := allocs[p.Symbol]
		if !ok {
			c.logger.Warn().Str("symbol", p.Symbol).Msg("No margin basis for plan, keeping source quantity")
			out = append(out, p)
			continue
		}

		p.OriginalMargin = a.OriginalMargin
		p.AllocatedMargin = a.AllocatedMargin
		p.NotionalValue = a.NotionalValue
		p.AdjustedQuantity = a.AdjustedQuantity
		p.AllocationRatio = a.AllocationRatio

		if !p.IsDirectStrategyAdjustment {
			p.Quantity = a.AdjustedQuantity
			p.Leverage = a.Leverage
		}

		if p.Quantity <= 0 {
			c.logger.Warn().
				Str("symbol", p.Symbol).
				Float64("allocated_margin", a.AllocatedMargin).
				Float64("raw_quantity", a.RawQuantity).
				Msg("Allocated quantity below minimum lot, dropping plan")
			continue
		}
		out = append(out, p)
	}
	return out, result
}

func (c *CapitalManager) ceiling(ctx context.Context, balance BalanceSource) float64 {
	if balance == nil {
		return 0
	}
	info, err := balance.GetAccountInfo(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Balance lookup failed, allocating without ceiling")
		return 0
	}
	if nw := info.NetWorth(); nw > 0 {
		return nw
	}
	return info.AvailableBalance
}

func requiredMargin(p models.FollowPlan) float64 {
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return math.Abs(p.Quantity*p.EntryPrice) / lev
}

// CapLeverage limits lev to limit when limit is positive.
func CapLeverage(lev, limit float64) float64 {
	if limit > 0 && lev > limit {
		return limit
	}
	return lev
}
