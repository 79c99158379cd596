// Package consistency compares the source agent's live positions with the
// positions implied by the follower's own order ledger and chooses how the
// follow engine should treat any disagreement.
package consistency

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"agent-follower/internal/logging"
	"agent-follower/internal/models"
)

// Thresholds used when diffing live and recorded positions.
const (
	QuantityEpsilon      = 1e-6
	PriceEpsilon         = 0.01
	CriticalQuantityFrac = 0.10
	HighPriceFrac        = 0.05
)

// HistoryReader exposes the processed orders of an agent.
type HistoryReader interface {
	GetProcessedOrdersByAgent(ctx context.Context, agentID string) ([]models.OrderRecord, error)
}

// Report bundles a validation result with the positions rebuilt from history.
type Report struct {
	Result   models.ValidationResult
	Previous map[string]models.Position
}

// Validator checks live positions against the ledger.
type Validator struct {
	history HistoryReader
	logger  zerolog.Logger
}

// NewValidator creates a validator reading from history.
func NewValidator(history HistoryReader, logger zerolog.Logger) *Validator {
	return &Validator{
		history: history,
		logger:  logging.WithOperation(logger, "consistency"),
	}
}

// RebuildPositions reconstructs the last known position per symbol from the
// ledger: the most recent processed record for each symbol wins.
func (v *Validator) RebuildPositions(ctx context.Context, agentID string) (map[string]models.Position, error) {
	records, err := v.history.GetProcessedOrdersByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("reading processed orders: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	positions := make(map[string]models.Position, len(records))
	for _, r := range records {
		if r.Status == models.OrderStatusReset {
			continue
		}
		positions[r.Symbol] = models.Position{
			Symbol:     r.Symbol,
			Quantity:   r.SignedQuantity(),
			EntryPrice: r.Price,
			Leverage:   r.Leverage,
			EntryOID:   r.EntryOID,
		}
	}
	return positions, nil
}

// Check validates current against the rebuilt history and returns both.
func (v *Validator) Check(ctx context.Context, agentID string, current []models.Position) Report {
	logger := logging.WithAgent(v.logger, agentID)

	previous, err := v.RebuildPositions(ctx, agentID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to rebuild positions from history")
		return Report{
			Result: models.ValidationResult{
				IsValid:         false,
				IsConsistent:    false,
				Discrepancies:   []models.PositionDiscrepancy{},
				ActionRequired:  models.ActionUserConfirmation,
				SuggestedAction: fmt.Sprintf("history could not be rebuilt (%v); manual review required", err),
			},
		}
	}

	discrepancies := FindDiscrepancies(current, previous)
	for _, d := range discrepancies {
		logging.LogDiscrepancy(logger, d)
	}

	result := DetermineAction(discrepancies, countOpen(current), countOpenMap(previous))
	logger.Debug().
		Str("action", string(result.ActionRequired)).
		Bool("consistent", result.IsConsistent).
		Int("discrepancies", len(discrepancies)).
		Msg("Consistency check complete")

	return Report{Result: result, Previous: previous}
}

// Validate returns only the validation result.
func (v *Validator) Validate(ctx context.Context, agentID string, current []models.Position) models.ValidationResult {
	return v.Check(ctx, agentID, current).Result
}

// FindDiscrepancies diffs live positions against rebuilt ones. Flat
// positions on either side count as absent.
func FindDiscrepancies(current []models.Position, previous map[string]models.Position) []models.PositionDiscrepancy {
	out := []models.PositionDiscrepancy{}
	seen := make(map[string]bool, len(current))

	for _, cur := range current {
		seen[cur.Symbol] = true
		prev, hasPrev := previous[cur.Symbol]
		hasPrev = hasPrev && prev.IsOpen()

		switch {
		case !cur.IsOpen() && !hasPrev:
			continue
		case cur.IsOpen() && !hasPrev:
			out = append(out, models.PositionDiscrepancy{
				Symbol:   cur.Symbol,
				Type:     models.DiscrepancyMissingInHistory,
				Severity: models.SeverityHigh,
			})
			continue
		case !cur.IsOpen() && hasPrev:
			out = append(out, models.PositionDiscrepancy{
				Symbol:   cur.Symbol,
				Type:     models.DiscrepancyExtraInHistory,
				Severity: models.SeverityMedium,
			})
			continue
		}

		qtyDiff := math.Abs(cur.Quantity - prev.Quantity)
		if qtyDiff > QuantityEpsilon {
			severity := models.SeverityMedium
			if qtyDiff > CriticalQuantityFrac*math.Abs(cur.Quantity) {
				severity = models.SeverityCritical
			}
			diff := qtyDiff
			out = append(out, models.PositionDiscrepancy{
				Symbol:       cur.Symbol,
				Type:         models.DiscrepancyQuantityMismatch,
				Severity:     severity,
				QuantityDiff: &diff,
			})
		}

		priceDiff := math.Abs(cur.EntryPrice - prev.EntryPrice)
		if priceDiff > PriceEpsilon {
			severity := models.SeverityLow
			if priceDiff > HighPriceFrac*cur.EntryPrice {
				severity = models.SeverityHigh
			}
			diff := priceDiff
			out = append(out, models.PositionDiscrepancy{
				Symbol:    cur.Symbol,
				Type:      models.DiscrepancyPriceMismatch,
				Severity:  severity,
				PriceDiff: &diff,
			})
		}
	}

	var extras []string
	for symbol, prev := range previous {
		if !seen[symbol] && prev.IsOpen() {
			extras = append(extras, symbol)
		}
	}
	sort.Strings(extras)
	for _, symbol := range extras {
		out = append(out, models.PositionDiscrepancy{
			Symbol:   symbol,
			Type:     models.DiscrepancyExtraInHistory,
			Severity: models.SeverityMedium,
		})
	}

	return out
}

// DetermineAction picks the recovery policy for a set of discrepancies.
//
// Critical discrepancies ask for operator confirmation but still report the
// result as valid; the engine then falls back to trust_actual when no
// confirmation is on record. extra_in_history entries favour rebuilding only
// when they outnumber the other medium-severity mismatches.
func DetermineAction(discrepancies []models.PositionDiscrepancy, currentOpen, previousOpen int) models.ValidationResult {
	result := models.ValidationResult{
		IsValid:       true,
		Discrepancies: discrepancies,
	}

	if len(discrepancies) == 0 {
		result.IsConsistent = true
		result.ActionRequired = models.ActionNone
		result.SuggestedAction = "history matches live positions"
		return result
	}

	var critical, extra, medium int
	for _, d := range discrepancies {
		if d.Severity == models.SeverityCritical {
			critical++
		}
		if d.Type == models.DiscrepancyExtraInHistory {
			extra++
			continue
		}
		if d.Severity == models.SeverityMedium {
			medium++
		}
	}

	switch {
	case critical > 0:
		result.ActionRequired = models.ActionUserConfirmation
		result.SuggestedAction = fmt.Sprintf("%d critical discrepancies; confirm trust_actual, rebuild_history or abort", critical)
	case currentOpen > 0 && previousOpen == 0:
		result.ActionRequired = models.ActionTrustActual
		result.SuggestedAction = "no usable history; trusting live positions"
	case extra > medium:
		result.ActionRequired = models.ActionRebuildHistory
		result.SuggestedAction = fmt.Sprintf("%d symbols recorded but no longer held; rebuilding from history diff", extra)
	default:
		result.ActionRequired = models.ActionTrustActual
		result.SuggestedAction = "trusting live positions"
	}
	return result
}

func countOpen(positions []models.Position) int {
	n := 0
	for _, p := range positions {
		if p.IsOpen() {
			n++
		}
	}
	return n
}

func countOpenMap(positions map[string]models.Position) int {
	n := 0
	for _, p := range positions {
		if p.IsOpen() {
			n++
		}
	}
	return n
}
