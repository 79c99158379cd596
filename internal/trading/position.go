// Package trading adapts a venue Broker to the follow engine and executes
// the plans it produces.
package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"agent-follower/internal/broker"
	"agent-follower/internal/errors"
	"agent-follower/internal/logging"
	"agent-follower/internal/models"
	"agent-follower/pkg/utils"
)

// PositionManager implements the engine's position contract over a Broker.
type PositionManager struct {
	broker broker.Broker
	retry  utils.RetryConfig
	logger zerolog.Logger
}

// NewPositionManager creates a new position manager.
func NewPositionManager(b broker.Broker, logger zerolog.Logger) *PositionManager {
	return &PositionManager{
		broker: b,
		retry: utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2,
		},
		logger: logging.WithOperation(logger, "positions"),
	}
}

// WithRetry replaces the retry policy used for venue reads.
func (pm *PositionManager) WithRetry(cfg utils.RetryConfig) *PositionManager {
	pm.retry = cfg
	return pm
}

// ConvertSymbol maps a source symbol to the venue symbol.
func (pm *PositionManager) ConvertSymbol(symbol string) string {
	return pm.broker.ConvertSymbol(symbol)
}

// positions fetches live positions, retrying transient failures.
func (pm *PositionManager) positions(ctx context.Context) ([]models.BrokerPosition, error) {
	positions, err := utils.RetryWithResult(ctx, pm.retry, func() ([]models.BrokerPosition, error) {
		return pm.broker.GetPositions(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching positions from broker: %w", err)
	}
	return positions, nil
}

// FindLivePosition looks up the follower's position for a source symbol.
func (pm *PositionManager) FindLivePosition(ctx context.Context, symbol string) (models.BrokerPosition, bool, error) {
	positions, err := pm.positions(ctx)
	if err != nil {
		return models.BrokerPosition{}, false, err
	}

	venue := pm.ConvertSymbol(symbol)
	for _, p := range positions {
		if p.Symbol == venue && p.IsOpen() {
			return p, true, nil
		}
	}
	return models.BrokerPosition{}, false, nil
}

// ClosePosition closes the follower's whole position for a source symbol.
// A symbol that is already flat is not an error.
func (pm *PositionManager) ClosePosition(ctx context.Context, symbol, reason string) error {
	venue := pm.ConvertSymbol(symbol)
	logger := logging.WithSymbol(pm.logger, venue)

	res, err := pm.broker.ClosePosition(ctx, venue)
	if errors.Is(err, errors.ErrPositionNotFound) {
		logger.Debug().Str("reason", reason).Msg("Nothing to close")
		return nil
	}
	if err != nil {
		return fmt.Errorf("closing %s: %w", venue, err)
	}

	logger.Info().
		Str("reason", reason).
		Str("order_id", res.OrderID).
		Float64("quantity", res.Quantity).
		Float64("price", res.Price).
		Msg("Position closed")
	return nil
}

// CleanOrphanedOrders cancels resting protective orders whose symbol has no
// open position. Individual cancel failures are collected and returned
// together after every order has been tried.
func (pm *PositionManager) CleanOrphanedOrders(ctx context.Context) error {
	positions, err := pm.positions(ctx)
	if err != nil {
		return err
	}
	open := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.IsOpen() {
			open[p.Symbol] = true
		}
	}

	orders, err := pm.broker.GetOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("fetching open orders: %w", err)
	}

	var errs []error
	cancelled := 0
	for _, o := range orders {
		if open[o.Symbol] {
			continue
		}
		if err := pm.broker.CancelOrder(ctx, o.ID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s %s: %w", o.Symbol, o.ID, err))
			continue
		}
		cancelled++
		pm.logger.Info().
			Str("symbol", o.Symbol).
			Str("order_id", o.ID).
			Str("type", string(o.Type)).
			Msg("Cancelled orphaned order")
	}

	if cancelled > 0 {
		pm.logger.Info().Int("cancelled", cancelled).Msg("Orphaned orders cleaned")
	}
	return errors.Join(errs...)
}

// ShouldExitPosition reports whether the source position's own exit plan has
// triggered at its current price.
func (pm *PositionManager) ShouldExitPosition(position models.Position) bool {
	return exitTrigger(position) != ""
}

// GetExitReason describes the triggered exit, or returns "".
func (pm *PositionManager) GetExitReason(position models.Position) string {
	return exitTrigger(position)
}
