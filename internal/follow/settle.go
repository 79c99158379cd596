package follow

import (
	"context"
	"time"

	"agent-follower/internal/errors"
	"agent-follower/internal/logging"
	"agent-follower/pkg/utils"
)

// closeWithRelease closes the follower's live position for symbol, if any,
// and measures the margin it freed from balance snapshots taken around the
// close. The release is nil when nothing was closed, a snapshot failed, or
// the difference was not positive.
func (e *Engine) closeWithRelease(ctx context.Context, p *pass, symbol, reason string) (*float64, error) {
	live, ok, err := e.deps.Positions.FindLivePosition(ctx, symbol)
	if err != nil {
		return nil, errors.Wrap(err, "find live position")
	}
	if !ok || !live.IsOpen() {
		return nil, nil
	}

	logger := logging.WithSymbol(p.logger, symbol).With().
		Str("venue_symbol", e.deps.Positions.ConvertSymbol(symbol)).
		Logger()

	before, beforeErr := e.deps.Executor.GetAccountInfo(ctx)
	if beforeErr != nil {
		logger.Warn().Err(beforeErr).Msg("Balance snapshot before close failed")
	}

	if err := e.deps.Positions.ClosePosition(ctx, symbol, reason); err != nil {
		return nil, errors.Wrap(err, "close position")
	}
	e.deps.Metrics.observeClose()
	logger.Info().Str("reason", reason).Float64("quantity", live.PositionAmt).Msg("Closed live position")

	if err := e.waitForSettlement(ctx, symbol); err != nil {
		logger.Warn().Err(err).Msg("Close not confirmed before second snapshot")
	}

	if beforeErr != nil {
		return nil, nil
	}
	after, err := e.deps.Executor.GetAccountInfo(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Balance snapshot after close failed")
		return nil, nil
	}

	released := after.AvailableBalance - before.AvailableBalance
	if released <= 0 {
		logger.Debug().Float64("released", released).Msg("No reusable margin released")
		return nil, nil
	}
	logger.Info().Float64("released_margin", released).Msg("Margin released")
	return &released, nil
}

// waitForSettlement waits for the venue to reflect a close, either by
// polling until the symbol is flat or by sleeping the settle delay.
func (e *Engine) waitForSettlement(ctx context.Context, symbol string) error {
	if e.settings.PollClose {
		attempts := e.settings.PollAttempts
		if attempts <= 0 {
			attempts = 1
		}
		cfg := utils.RetryConfig{
			MaxAttempts:   attempts,
			InitialDelay:  e.settings.PollInterval,
			MaxDelay:      e.settings.PollInterval,
			BackoffFactor: 1,
		}
		return utils.Retry(ctx, cfg, func() error {
			live, ok, err := e.deps.Positions.FindLivePosition(ctx, symbol)
			if err != nil {
				return err
			}
			if ok && live.IsOpen() {
				return errors.ErrSettlementTimeout
			}
			return nil
		})
	}

	if e.settings.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(e.settings.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
