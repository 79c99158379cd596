package models

import "time"

// OrderType represents the type of a venue order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStop       OrderType = "STOP_MARKET"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT_MARKET"
)

// Order represents a venue order request.
type Order struct {
	ID         string
	Symbol     string // venue symbol
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	Price      float64
	StopPrice  float64
	Leverage   float64
	MarginType MarginType
	ReduceOnly bool
	Status     string
	PlacedAt   time.Time
}

// OrderStatus is the ledger status of a processed order.
type OrderStatus string

const (
	OrderStatusProcessed OrderStatus = "processed"
	OrderStatusReset     OrderStatus = "reset"
)

// OrderRecord is one idempotency ledger entry: the follower acted on the
// source agent's order epoch EntryOID for Symbol.
type OrderRecord struct {
	ID        string      `json:"id"`
	AgentID   string      `json:"agent_id"`
	Symbol    string      `json:"symbol"`
	EntryOID  int64       `json:"entry_oid"`
	Action    PlanAction  `json:"action"`
	Side      OrderSide   `json:"side"`
	Quantity  float64     `json:"quantity"`
	Price     float64     `json:"price"`
	Leverage  float64     `json:"leverage"`
	OrderID   string      `json:"order_id,omitempty"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// SignedQuantity returns the position quantity this record leaves behind.
// Exit records leave the symbol flat.
func (r OrderRecord) SignedQuantity() float64 {
	if r.Action == PlanExit {
		return 0
	}
	if r.Side == OrderSideSell {
		return -r.Quantity
	}
	return r.Quantity
}

// ProfitExitRecord is the audit entry written when a profit target closes a position.
type ProfitExitRecord struct {
	ID               string    `json:"id"`
	AgentID          string    `json:"agent_id"`
	Symbol           string    `json:"symbol"`
	EntryOID         int64     `json:"entry_oid"`
	Side             OrderSide `json:"side"`
	Quantity         float64   `json:"quantity"`
	EntryPrice       float64   `json:"entry_price"`
	ExitPrice        float64   `json:"exit_price"`
	ProfitPercentage float64   `json:"profit_percentage"`
	ProfitTarget     float64   `json:"profit_target"`
	AutoRefollow     bool      `json:"auto_refollow"`
	Timestamp        time.Time `json:"timestamp"`
}
