package follow

import (
	"context"
	"math"
	"sort"

	"agent-follower/internal/logging"
	"agent-follower/internal/models"
)

type detectMode string

const (
	modeTrust   detectMode = "trust"
	modeCompare detectMode = "compare"
)

// Duplicate-protection thresholds for an already mirrored position.
const (
	marginThreshold = 0.10 // of target margin
	priceThreshold  = 0.05 // of source entry price
)

func modeFor(policy models.ValidationAction) detectMode {
	if policy == models.ActionTrustActual {
		return modeTrust
	}
	return modeCompare
}

// marginShare is the fraction of each source margin the follower mirrors:
// the configured total over the sum of source margins, or 1 when no total
// is configured.
func marginShare(positions []models.Position, totalMargin float64) float64 {
	if totalMargin <= 0 {
		return 1
	}
	var sum float64
	for _, p := range positions {
		if p.IsOpen() {
			sum += p.MarginBasis()
		}
	}
	if sum <= 0 {
		return 1
	}
	return totalMargin / sum
}

// isMirrored reports whether a live position already matches the desired
// one closely enough that reopening would only churn.
func isMirrored(live models.BrokerPosition, source models.Position, targetMargin float64, marginType models.MarginType) bool {
	if !live.IsOpen() || live.Side() != source.Side() {
		return false
	}
	marginDiff := math.Abs(live.Margin(marginType) - targetMargin)
	priceDiff := math.Abs(live.EntryPrice - source.EntryPrice)
	return marginDiff < marginThreshold*targetMargin && priceDiff < priceThreshold*source.EntryPrice
}

func (e *Engine) detectChanges(ctx context.Context, p *pass) []models.PositionChange {
	if p.mode == modeTrust {
		return e.detectTrust(ctx, p)
	}
	return e.detectCompare(ctx, p)
}

// detectTrust treats the source positions as the truth and only looks at the
// follower's live account to avoid duplicating what is already mirrored.
func (e *Engine) detectTrust(ctx context.Context, p *pass) []models.PositionChange {
	var changes []models.PositionChange
	for i := range p.current {
		pos := p.current[i]
		if !pos.IsOpen() {
			continue
		}
		logger := logging.WithSymbol(p.logger, pos.Symbol)

		if change, handled := e.checkProfitTarget(ctx, p, pos); handled {
			if change != nil {
				changes = append(changes, *change)
			}
			continue
		}

		live, ok, err := e.deps.Positions.FindLivePosition(ctx, pos.Symbol)
		if err != nil {
			logger.Warn().Err(err).Msg("Live position lookup failed, skipping symbol")
			continue
		}

		if ok && live.IsOpen() {
			target := pos.MarginBasis() * p.share
			if isMirrored(live, pos, target, p.opts.MarginType) {
				logger.Debug().Msg("Position already mirrored")
				continue
			}
		} else {
			processed, err := e.deps.History.IsOrderProcessed(ctx, pos.EntryOID, pos.Symbol)
			if err != nil {
				logger.Warn().Err(err).Msg("Ledger lookup failed, skipping symbol")
				continue
			}
			if processed {
				logger.Debug().Int64("entry_oid", pos.EntryOID).Msg("Entry already processed")
				continue
			}
		}

		changes = append(changes, models.PositionChange{
			Symbol:          pos.Symbol,
			Type:            models.ChangeNewPosition,
			CurrentPosition: &pos,
		})
	}
	return changes
}

// detectCompare diffs the source positions against the positions rebuilt
// from the ledger.
func (e *Engine) detectCompare(ctx context.Context, p *pass) []models.PositionChange {
	var changes []models.PositionChange
	seen := make(map[string]bool, len(p.current))

	for i := range p.current {
		pos := p.current[i]
		seen[pos.Symbol] = true

		if pos.IsOpen() {
			if change, handled := e.checkProfitTarget(ctx, p, pos); handled {
				if change != nil {
					changes = append(changes, *change)
				}
				continue
			}
		}

		change := models.PositionChange{Symbol: pos.Symbol, CurrentPosition: &pos}
		prev, hasPrev := p.previous[pos.Symbol]
		if hasPrev {
			prevCopy := prev
			change.PreviousPosition = &prevCopy
		}

		switch {
		case pos.IsOpen() && !hasPrev:
			change.Type = models.ChangeNewPosition
		case pos.IsOpen() && !prev.IsOpen():
			processed, err := e.deps.History.IsOrderProcessed(ctx, pos.EntryOID, pos.Symbol)
			if err != nil {
				logger := logging.WithSymbol(p.logger, pos.Symbol)
				logger.Warn().Err(err).Msg("Ledger lookup failed, skipping symbol")
				continue
			}
			if processed {
				change.Type = models.ChangeNoChange
			} else {
				change.Type = models.ChangeNewPosition
			}
		case pos.IsOpen() && prev.EntryOID != pos.EntryOID:
			change.Type = models.ChangeEntryChanged
		case hasPrev && prev.IsOpen() && !pos.IsOpen():
			change.Type = models.ChangePositionClosed
		default:
			change.Type = models.ChangeNoChange
		}
		changes = append(changes, change)
	}

	var gone []string
	for symbol, prev := range p.previous {
		if !seen[symbol] && prev.IsOpen() {
			gone = append(gone, symbol)
		}
	}
	sort.Strings(gone)
	for _, symbol := range gone {
		prev := p.previous[symbol]
		changes = append(changes, models.PositionChange{
			Symbol:           symbol,
			Type:             models.ChangePositionClosed,
			CurrentPosition:  &models.Position{Symbol: symbol},
			PreviousPosition: &prev,
		})
	}
	return changes
}
