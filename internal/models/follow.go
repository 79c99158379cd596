package models

import "time"

// ChangeType classifies how a source position moved since the last pass.
type ChangeType string

const (
	ChangeEntryChanged        ChangeType = "entry_changed"
	ChangeNewPosition         ChangeType = "new_position"
	ChangePositionClosed      ChangeType = "position_closed"
	ChangeProfitTargetReached ChangeType = "profit_target_reached"
	ChangeNoChange            ChangeType = "no_change"
)

// PositionChange is one detected change for a symbol.
type PositionChange struct {
	Symbol           string     `json:"symbol"`
	Type             ChangeType `json:"type"`
	CurrentPosition  *Position  `json:"current_position,omitempty"`
	PreviousPosition *Position  `json:"previous_position,omitempty"`
	ProfitPercentage *float64   `json:"profit_percentage,omitempty"`
}

// DiscrepancyType classifies a mismatch between live and recorded state.
type DiscrepancyType string

const (
	DiscrepancyMissingInHistory DiscrepancyType = "missing_in_history"
	DiscrepancyExtraInHistory   DiscrepancyType = "extra_in_history"
	DiscrepancyQuantityMismatch DiscrepancyType = "quantity_mismatch"
	DiscrepancyPriceMismatch    DiscrepancyType = "price_mismatch"
)

// Severity grades a discrepancy.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PositionDiscrepancy is one mismatch found by the consistency validator.
type PositionDiscrepancy struct {
	Symbol       string          `json:"symbol"`
	Type         DiscrepancyType `json:"type"`
	Severity     Severity        `json:"severity"`
	QuantityDiff *float64        `json:"quantity_diff,omitempty"`
	PriceDiff    *float64        `json:"price_diff,omitempty"`
}

// ValidationAction is the recovery policy chosen by the validator.
type ValidationAction string

const (
	ActionNone             ValidationAction = "none"
	ActionTrustActual      ValidationAction = "trust_actual"
	ActionRebuildHistory   ValidationAction = "rebuild_history"
	ActionUserConfirmation ValidationAction = "user_confirmation"
)

// ValidationResult is the outcome of a consistency check.
type ValidationResult struct {
	IsValid         bool                  `json:"is_valid"`
	IsConsistent    bool                  `json:"is_consistent"`
	Discrepancies   []PositionDiscrepancy `json:"discrepancies"`
	ActionRequired  ValidationAction      `json:"action_required"`
	SuggestedAction string                `json:"suggested_action"`
}

// ConfirmationAction is an operator decision for an agent.
type ConfirmationAction string

const (
	ConfirmTrustActual    ConfirmationAction = "trust_actual"
	ConfirmRebuildHistory ConfirmationAction = "rebuild_history"
	ConfirmAbort          ConfirmationAction = "abort"
)

// ConfirmationRecord holds the operator decision recorded for an agent.
type ConfirmationRecord struct {
	AgentID   string             `json:"agent_id"`
	Action    ConfirmationAction `json:"action"`
	Timestamp time.Time          `json:"timestamp"`
}

// PlanAction is the kind of trade a plan asks for.
type PlanAction string

const (
	PlanEnter PlanAction = "ENTER"
	PlanExit  PlanAction = "EXIT"
)

// PriceToleranceResult is the outcome of a price drift check.
type PriceToleranceResult struct {
	EntryPrice      float64 `json:"entry_price"`
	CurrentPrice    float64 `json:"current_price"`
	PriceDifference float64 `json:"price_difference"` // percent
	Tolerance       float64 `json:"tolerance"`        // percent
	ShouldExecute   bool    `json:"should_execute"`
	Reason          string  `json:"reason"`
}

// RiskAssessment is the bounded risk score attached to a plan.
type RiskAssessment struct {
	RiskScore float64  `json:"risk_score"`
	MaxLoss   float64  `json:"max_loss"`
	Warnings  []string `json:"warnings"`
	IsValid   bool     `json:"is_valid"`
}

// FollowPlan is one proposed trade handed to the executor.
type FollowPlan struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agent_id"`
	Action     PlanAction `json:"action"`
	Symbol     string     `json:"symbol"`
	Side       OrderSide  `json:"side"`
	Quantity   float64    `json:"quantity"`
	Leverage   float64    `json:"leverage"`
	EntryPrice float64    `json:"entry_price,omitempty"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	EntryOID   int64      `json:"entry_oid"`
	Reason     string     `json:"reason"`

	// SourceQuantity is the source agent's unsigned quantity; the ledger
	// records it so history can be compared with later snapshots.
	SourceQuantity float64 `json:"source_quantity"`

	PriceTolerance *PriceToleranceResult `json:"price_tolerance,omitempty"`
	ReleasedMargin *float64              `json:"released_margin,omitempty"`

	OriginalMargin   float64 `json:"original_margin,omitempty"`
	AllocatedMargin  float64 `json:"allocated_margin,omitempty"`
	NotionalValue    float64 `json:"notional_value,omitempty"`
	AdjustedQuantity float64 `json:"adjusted_quantity,omitempty"`
	AllocationRatio  float64 `json:"allocation_ratio,omitempty"`

	IsDirectStrategyAdjustment bool `json:"is_direct_strategy_adjustment"`

	Risk      *RiskAssessment `json:"risk,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FollowOptions tunes one follow pass.
type FollowOptions struct {
	TotalMargin  float64    `json:"total_margin,omitempty"`
	ProfitTarget float64    `json:"profit_target,omitempty"` // percent; 0 disables
	AutoRefollow bool       `json:"auto_refollow"`
	MarginType   MarginType `json:"margin_type,omitempty"`
	MaxLeverage  float64    `json:"max_leverage,omitempty"`
}

// CapitalAllocation is the allocation for one symbol.
type CapitalAllocation struct {
	Symbol           string    `json:"symbol"`
	OriginalMargin   float64   `json:"original_margin"`
	AllocatedMargin  float64   `json:"allocated_margin"`
	NotionalValue    float64   `json:"notional_value"`
	AdjustedQuantity float64   `json:"adjusted_quantity"`
	RawQuantity      float64   `json:"raw_quantity"`
	AllocationRatio  float64   `json:"allocation_ratio"`
	Leverage         float64   `json:"leverage"`
	Side             OrderSide `json:"side"`
}

// AllocationResult aggregates a full allocation pass.
type AllocationResult struct {
	TotalOriginalMargin  float64             `json:"total_original_margin"`
	TotalAllocatedMargin float64             `json:"total_allocated_margin"`
	TotalNotionalValue   float64             `json:"total_notional_value"`
	Allocations          []CapitalAllocation `json:"allocations"`
}
