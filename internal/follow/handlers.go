package follow

import (
	"context"
	"fmt"

	"agent-follower/internal/allocation"
	"agent-follower/internal/logging"
	"agent-follower/internal/models"
)

func (e *Engine) handleChange(ctx context.Context, p *pass, change models.PositionChange) *models.FollowPlan {
	switch change.Type {
	case models.ChangeEntryChanged:
		return e.handleEntryChanged(ctx, p, change)
	case models.ChangeNewPosition:
		return e.handleNewPosition(ctx, p, change)
	case models.ChangePositionClosed:
		return e.handlePositionClosed(p, change)
	}
	// profit_target_reached was acted on during detection; no_change needs nothing
	return nil
}

// handleEntryChanged replaces the live position after the source trader
// closed and reopened the symbol.
func (e *Engine) handleEntryChanged(ctx context.Context, p *pass, change models.PositionChange) *models.FollowPlan {
	pos := *change.CurrentPosition
	logger := logging.WithSymbol(p.logger, pos.Symbol)

	processed, err := e.deps.History.IsOrderProcessed(ctx, pos.EntryOID, pos.Symbol)
	if err != nil {
		logger.Warn().Err(err).Msg("Ledger lookup failed, skipping entry change")
		return nil
	}
	if processed {
		logger.Debug().Int64("entry_oid", pos.EntryOID).Msg("New entry already processed")
		return nil
	}

	released, err := e.closeWithRelease(ctx, p, pos.Symbol, "source entry changed")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to close position for entry change")
		return nil
	}

	plan := e.gatedEnter(p, pos, fmt.Sprintf("entry changed to %d", pos.EntryOID))
	if plan != nil {
		plan.ReleasedMargin = released
	}
	return plan
}

// handleNewPosition opens a position the follower does not hold yet. In
// trust mode an existing same-direction position is topped up rather than
// replaced.
func (e *Engine) handleNewPosition(ctx context.Context, p *pass, change models.PositionChange) *models.FollowPlan {
	pos := *change.CurrentPosition
	logger := logging.WithSymbol(p.logger, pos.Symbol)

	if p.mode == modeTrust {
		live, ok, err := e.deps.Positions.FindLivePosition(ctx, pos.Symbol)
		if err != nil {
			logger.Warn().Err(err).Msg("Live position lookup failed, skipping new position")
			return nil
		}
		if ok && live.IsOpen() && live.Side() == pos.Side() {
			return e.topUp(p, pos, live)
		}
	}

	released, err := e.closeWithRelease(ctx, p, pos.Symbol, "replacing with source position")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to close conflicting position")
		return nil
	}

	plan := e.gatedEnter(p, pos, "new source position")
	if plan != nil {
		plan.ReleasedMargin = released
	}
	return plan
}

// topUp sizes an ENTER plan to the missing margin of a same-direction live
// position. Positions that are mirrored or oversized are left alone.
func (e *Engine) topUp(p *pass, pos models.Position, live models.BrokerPosition) *models.FollowPlan {
	logger := logging.WithSymbol(p.logger, pos.Symbol)
	target := pos.MarginBasis() * p.share

	if isMirrored(live, pos, target, p.opts.MarginType) {
		logger.Debug().Msg("Position already mirrored")
		return nil
	}

	liveMargin := live.Margin(p.opts.MarginType)
	shortfall := target - liveMargin
	if shortfall <= marginThreshold*target {
		logger.Debug().
			Float64("live_margin", liveMargin).
			Float64("target_margin", target).
			Msg("Live margin sufficient, not adjusting")
		return nil
	}

	price := pos.ReferencePrice()
	if price <= 0 {
		return nil
	}
	lev := allocation.CapLeverage(pos.EffectiveLeverage(), p.opts.MaxLeverage)
	qty := e.deps.Capital.RoundQuantity(pos.Symbol, shortfall*lev/price)
	if qty <= 0 {
		logger.Debug().Float64("shortfall", shortfall).Msg("Top-up below minimum lot")
		return nil
	}

	plan := e.gatedEnter(p, pos, fmt.Sprintf("top up %.2f margin", shortfall))
	if plan == nil {
		return nil
	}
	plan.Quantity = qty
	plan.IsDirectStrategyAdjustment = true
	return plan
}

// gatedEnter builds an ENTER plan if the market is still near the source
// entry price.
func (e *Engine) gatedEnter(p *pass, pos models.Position, reason string) *models.FollowPlan {
	tol := e.deps.Risk.CheckPriceTolerance(pos.EntryPrice, pos.CurrentPrice, pos.Symbol)
	if !tol.ShouldExecute {
		logger := logging.WithSymbol(p.logger, pos.Symbol)
		logger.Info().
			Float64("price_difference", tol.PriceDifference).
			Float64("tolerance", tol.Tolerance).
			Msg("Skipping entry outside price tolerance")
		e.deps.Metrics.observeRejected("price_tolerance")
		return nil
	}

	return &models.FollowPlan{
		Action:         models.PlanEnter,
		Symbol:         pos.Symbol,
		Side:           pos.Side(),
		Quantity:       pos.AbsQuantity(),
		Leverage:       allocation.CapLeverage(pos.EffectiveLeverage(), p.opts.MaxLeverage),
		EntryPrice:     pos.EntryPrice,
		EntryOID:       pos.EntryOID,
		Reason:         reason,
		SourceQuantity: pos.AbsQuantity(),
		PriceTolerance: &tol,
	}
}

// handlePositionClosed exits what the ledger says the follower holds.
func (e *Engine) handlePositionClosed(p *pass, change models.PositionChange) *models.FollowPlan {
	if change.PreviousPosition == nil || !change.PreviousPosition.IsOpen() {
		return nil
	}
	prev := *change.PreviousPosition

	plan := &models.FollowPlan{
		Action:     models.PlanExit,
		Symbol:     change.Symbol,
		Side:       prev.Side().Opposite(),
		Quantity:   prev.AbsQuantity(),
		Leverage:   prev.Leverage,
		EntryPrice: prev.EntryPrice,
		EntryOID:   prev.EntryOID,
		Reason:     "source position closed",

		SourceQuantity: prev.AbsQuantity(),
	}
	if change.CurrentPosition != nil {
		plan.ExitPrice = change.CurrentPosition.CurrentPrice
	}
	return plan
}
