// Package risk gates follow plans on price drift and scores their exposure.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"agent-follower/internal/config"
	"agent-follower/internal/logging"
	"agent-follower/internal/models"
)

// Score bounds and warning thresholds.
const (
	MinRiskScore = 20.0
	MaxRiskScore = 100.0

	leverageWeight    = 2.5
	leverageCap       = 50.0
	sizeWeight        = 30.0
	sizeCap           = 30.0
	interactionCap    = 20.0
	highLeverage      = 20.0
	mediumLeverage    = 10.0
	highMarginPct     = 50.0
	mediumMarginPct   = 20.0
	largeNotional     = 50000.0
	defaultTolerance  = 1.0
	defaultRefAccount = 10000.0
)

// Manager implements price tolerance checks and risk scoring.
type Manager struct {
	defaultTolerance float64
	tolerances       map[string]float64
	referenceAccount float64
	maxScore         float64
	contractSizes    map[string]float64
	logger           zerolog.Logger
}

// NewManager creates a risk manager from configuration. Symbol keys are
// matched case-insensitively.
func NewManager(cfg config.RiskConfig, logger zerolog.Logger) *Manager {
	m := &Manager{
		defaultTolerance: cfg.DefaultPriceTolerance,
		tolerances:       normalizeKeys(cfg.SymbolTolerances),
		referenceAccount: cfg.ReferenceAccountSize,
		maxScore:         cfg.MaxRiskScore,
		contractSizes:    normalizeKeys(cfg.ContractSizes),
		logger:           logging.WithOperation(logger, "risk"),
	}
	if m.defaultTolerance <= 0 {
		m.defaultTolerance = defaultTolerance
	}
	if m.referenceAccount <= 0 {
		m.referenceAccount = defaultRefAccount
	}
	if m.maxScore <= 0 {
		m.maxScore = MaxRiskScore
	}
	return m
}

// ToleranceFor returns the allowed price deviation, in percent, for symbol.
func (m *Manager) ToleranceFor(symbol string) float64 {
	if t, ok := lookup(m.tolerances, symbol); ok && t > 0 {
		return t
	}
	return m.defaultTolerance
}

// CheckPriceTolerance compares the source entry price with the current
// market price. A missing current price cannot be checked and is allowed.
func (m *Manager) CheckPriceTolerance(entryPrice, currentPrice float64, symbol string) models.PriceToleranceResult {
	tolerance := m.ToleranceFor(symbol)
	result := models.PriceToleranceResult{
		EntryPrice:   entryPrice,
		CurrentPrice: currentPrice,
		Tolerance:    tolerance,
	}

	switch {
	case entryPrice <= 0:
		result.Reason = "invalid entry price"
		return result
	case currentPrice <= 0:
		result.ShouldExecute = true
		result.Reason = "current price unavailable, tolerance not checked"
		return result
	}

	diff := math.Abs(currentPrice-entryPrice) / entryPrice * 100
	result.PriceDifference = diff
	result.ShouldExecute = diff <= tolerance
	if result.ShouldExecute {
		result.Reason = fmt.Sprintf("price within tolerance: %.2f%% <= %.2f%%", diff, tolerance)
	} else {
		result.Reason = fmt.Sprintf("price moved %.2f%% from entry, exceeds %.2f%% tolerance", diff, tolerance)
	}
	return result
}

// AssessRisk scores a prospective position on leverage and size relative to
// the reference account.
func (m *Manager) AssessRisk(symbol string, quantity, price, leverage float64) models.RiskAssessment {
	if leverage <= 0 {
		leverage = 1
	}
	notional := math.Abs(quantity * price)
	margin := notional / leverage

	score := MinRiskScore
	score += math.Min(leverage*leverageWeight, leverageCap)
	score += math.Min(margin/m.referenceAccount*sizeWeight, sizeCap)
	score += math.Min(leverage*margin/(m.referenceAccount*10), interactionCap)
	score = math.Max(MinRiskScore, math.Min(score, MaxRiskScore))

	warnings := []string{}
	switch {
	case leverage > highLeverage:
		warnings = append(warnings, fmt.Sprintf("high leverage %.0fx", leverage))
	case leverage > mediumLeverage:
		warnings = append(warnings, fmt.Sprintf("medium leverage %.0fx", leverage))
	}

	marginPct := margin / m.referenceAccount * 100
	switch {
	case marginPct > highMarginPct:
		warnings = append(warnings, fmt.Sprintf("margin is %.1f%% of reference account (high)", marginPct))
	case marginPct > mediumMarginPct:
		warnings = append(warnings, fmt.Sprintf("margin is %.1f%% of reference account (medium)", marginPct))
	}

	if notional > largeNotional {
		warnings = append(warnings, fmt.Sprintf("large notional value %.2f", notional))
	}

	assessment := models.RiskAssessment{
		RiskScore: score,
		MaxLoss:   m.CalculateMaxLoss(symbol, quantity, price),
		Warnings:  warnings,
		IsValid:   score <= m.maxScore,
	}

	if !assessment.IsValid {
		m.logger.Warn().
			Str("symbol", symbol).
			Float64("score", score).
			Float64("max_score", m.maxScore).
			Msg("Risk score above limit")
	}
	return assessment
}

// CalculateMaxLoss estimates the loss if the position went to zero:
// |quantity| x contract size. Without a configured contract size the entry
// price is used, i.e. the full notional value.
func (m *Manager) CalculateMaxLoss(symbol string, quantity, entryPrice float64) float64 {
	size, ok := lookup(m.contractSizes, symbol)
	if !ok || size <= 0 {
		size = entryPrice
	}
	return math.Abs(quantity) * size
}

func normalizeKeys[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// lookup tries the symbol as given, then without a USDT quote suffix, so
// a venue symbol finds settings keyed by the source symbol.
func lookup(m map[string]float64, symbol string) (float64, bool) {
	s := strings.ToUpper(symbol)
	if v, ok := m[s]; ok {
		return v, true
	}
	if base := strings.TrimSuffix(s, "USDT"); base != s {
		v, ok := m[base]
		return v, ok
	}
	return 0, false
}
