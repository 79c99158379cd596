package follow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-follower/internal/logging"
	"agent-follower/internal/models"
)

// MaxProfitTarget is the largest accepted profit target, in percent.
const MaxProfitTarget = 1000.0

// normalizeOptions copies opts, dropping an out of range profit target.
func (e *Engine) normalizeOptions(logger zerolog.Logger, opts *models.FollowOptions) models.FollowOptions {
	var o models.FollowOptions
	if opts != nil {
		o = *opts
	}
	if o.ProfitTarget != 0 && (o.ProfitTarget < 0 || o.ProfitTarget > MaxProfitTarget) {
		logger.Warn().
			Float64("profit_target", o.ProfitTarget).
			Msg("Profit target outside (0, 1000], disabling profit-target checks")
		o.ProfitTarget = 0
	}
	if o.MarginType == "" {
		o.MarginType = models.MarginCrossed
	}
	if o.MaxLeverage < 0 {
		o.MaxLeverage = 0
	}
	if o.TotalMargin < 0 {
		o.TotalMargin = 0
	}
	return o
}

// ProfitPercentage returns the live position's unrealized PnL as a percent
// of its margin. Isolated positions use the venue's isolated margin; cross
// positions use |quantity x entry| / leverage.
func ProfitPercentage(live models.BrokerPosition, marginType models.MarginType) (float64, bool) {
	margin := live.Margin(marginType)
	if margin <= 0 {
		return 0, false
	}
	return live.UnrealizedPnL / margin * 100, true
}

// checkProfitTarget closes the follower's position once it reaches the
// configured profit target. handled is true when the symbol must not be
// processed further this pass.
func (e *Engine) checkProfitTarget(ctx context.Context, p *pass, pos models.Position) (change *models.PositionChange, handled bool) {
	if p.opts.ProfitTarget <= 0 || p.profitClosed[pos.Symbol] {
		return nil, p.profitClosed[pos.Symbol]
	}
	logger := logging.WithSymbol(p.logger, pos.Symbol)

	live, ok, err := e.deps.Positions.FindLivePosition(ctx, pos.Symbol)
	if err != nil {
		logger.Warn().Err(err).Msg("Live position lookup failed, skipping profit check")
		return nil, false
	}
	if !ok || !live.IsOpen() {
		return nil, false
	}

	pct, ok := ProfitPercentage(live, p.opts.MarginType)
	if !ok || pct < p.opts.ProfitTarget {
		return nil, false
	}

	logger.Info().
		Float64("profit_pct", pct).
		Float64("target", p.opts.ProfitTarget).
		Msg("Profit target reached, closing position")

	reason := fmt.Sprintf("profit target %.2f%% reached (%.2f%%)", p.opts.ProfitTarget, pct)
	if err := e.deps.Positions.ClosePosition(ctx, pos.Symbol, reason); err != nil {
		logger.Error().Err(err).Msg("Failed to close position at profit target")
		return nil, true
	}
	p.profitClosed[pos.Symbol] = true

	record := models.ProfitExitRecord{
		ID:               uuid.NewString(),
		AgentID:          p.agentID,
		Symbol:           pos.Symbol,
		EntryOID:         pos.EntryOID,
		Side:             live.Side(),
		Quantity:         live.AbsQuantity(),
		EntryPrice:       live.EntryPrice,
		ExitPrice:        live.MarkPrice,
		ProfitPercentage: pct,
		ProfitTarget:     p.opts.ProfitTarget,
		AutoRefollow:     p.opts.AutoRefollow,
		Timestamp:        e.now(),
	}
	if err := e.deps.History.AddProfitExitRecord(ctx, record); err != nil {
		logger.Warn().Err(err).Msg("Failed to record profit exit")
	}
	if p.opts.AutoRefollow {
		if err := e.deps.History.ResetSymbolOrderStatus(ctx, pos.Symbol, pos.EntryOID); err != nil {
			logger.Warn().Err(err).Msg("Failed to reset order status for refollow")
		}
	}
	if e.deps.Auditor != nil {
		e.deps.Auditor.ProfitExit(ctx, record)
	}
	e.deps.Metrics.observeProfitExit()

	return &models.PositionChange{
		Symbol:           pos.Symbol,
		Type:             models.ChangeProfitTargetReached,
		CurrentPosition:  &pos,
		ProfitPercentage: &pct,
	}, true
}
