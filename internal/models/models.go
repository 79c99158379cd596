// Package models provides domain models for the follower.
package models

import (
	"math"
)

// OrderSide represents the side of an order or position.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the closing side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// MarginType represents the venue margin accounting mode.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// ExitPlan holds the source agent's own exit levels for a position.
type ExitPlan struct {
	ProfitTarget          float64 `json:"profit_target" yaml:"profit_target"`
	StopLoss              float64 `json:"stop_loss" yaml:"stop_loss"`
	InvalidationCondition string  `json:"invalidation_condition,omitempty" yaml:"invalidation_condition,omitempty"`
}

// Position is a snapshot of one position held by the source agent.
// A zero quantity means the agent holds nothing for the symbol.
type Position struct {
	Symbol        string    `json:"symbol" yaml:"symbol"`
	Quantity      float64   `json:"quantity" yaml:"quantity"` // signed, negative = short
	EntryPrice    float64   `json:"entry_price" yaml:"entry_price"`
	CurrentPrice  float64   `json:"current_price" yaml:"current_price"`
	Leverage      float64   `json:"leverage" yaml:"leverage"`
	Margin        float64   `json:"margin" yaml:"margin"`
	EntryOID      int64     `json:"entry_oid" yaml:"entry_oid"`
	Confidence    float64   `json:"confidence" yaml:"confidence"`
	UnrealizedPnL float64   `json:"unrealized_pnl" yaml:"unrealized_pnl"`
	ExitPlan      *ExitPlan `json:"exit_plan,omitempty" yaml:"exit_plan,omitempty"`
}

// IsOpen reports whether the position holds any quantity.
func (p Position) IsOpen() bool {
	return p.Quantity != 0
}

// Side returns BUY for long and SELL for short positions.
func (p Position) Side() OrderSide {
	if p.Quantity < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// AbsQuantity returns the unsigned quantity.
func (p Position) AbsQuantity() float64 {
	return math.Abs(p.Quantity)
}

// ReferencePrice is the current price when known, otherwise the entry price.
func (p Position) ReferencePrice() float64 {
	if p.CurrentPrice > 0 {
		return p.CurrentPrice
	}
	return p.EntryPrice
}

// EffectiveLeverage returns the leverage, treating unset values as 1x.
func (p Position) EffectiveLeverage() float64 {
	if p.Leverage <= 0 {
		return 1
	}
	return p.Leverage
}

// MarginBasis prefers the reported margin and falls back to notional / leverage.
func (p Position) MarginBasis() float64 {
	if p.Margin > 0 {
		return p.Margin
	}
	return math.Abs(p.Quantity*p.ReferencePrice()) / p.EffectiveLeverage()
}

// BrokerPosition is the follower's own live position on the venue.
type BrokerPosition struct {
	Symbol         string     `json:"symbol"` // venue symbol, e.g. BTCUSDT
	PositionAmt    float64    `json:"position_amt"`
	EntryPrice     float64    `json:"entry_price"`
	MarkPrice      float64    `json:"mark_price"`
	Leverage       float64    `json:"leverage"`
	UnrealizedPnL  float64    `json:"unrealized_pnl"`
	IsolatedMargin float64    `json:"isolated_margin"`
	MarginType     MarginType `json:"margin_type"`
}

// IsOpen reports whether the live position holds any quantity.
func (b BrokerPosition) IsOpen() bool {
	return b.PositionAmt != 0
}

// Side returns BUY for long and SELL for short positions.
func (b BrokerPosition) Side() OrderSide {
	if b.PositionAmt < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// AbsQuantity returns the unsigned position size.
func (b BrokerPosition) AbsQuantity() float64 {
	return math.Abs(b.PositionAmt)
}

// Margin returns the margin held by the position. Isolated positions report
// it directly; cross positions derive it from |qty x entry| / leverage.
func (b BrokerPosition) Margin(marginType MarginType) float64 {
	if b.MarginType != "" {
		marginType = b.MarginType
	}
	if marginType == MarginIsolated && b.IsolatedMargin > 0 {
		return b.IsolatedMargin
	}
	lev := b.Leverage
	if lev <= 0 {
		lev = 1
	}
	return math.Abs(b.PositionAmt*b.EntryPrice) / lev
}

// AccountInfo represents the follower's venue account balances.
type AccountInfo struct {
	AvailableBalance    float64 `json:"available_balance"`
	TotalWalletBalance  float64 `json:"total_wallet_balance"`
	TotalPositionMargin float64 `json:"total_position_margin"`
	TotalUnrealizedPnL  float64 `json:"total_unrealized_pnl"`
}

// NetWorth is available balance plus held margin plus unrealized PnL.
func (a AccountInfo) NetWorth() float64 {
	return a.AvailableBalance + a.TotalPositionMargin + a.TotalUnrealizedPnL
}
