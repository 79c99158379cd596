// Package store persists the follower's order ledger.
package store

import (
	"time"

	"agent-follower/internal/models"
)

// OrderFilter represents filters for querying ledger entries.
type OrderFilter struct {
	AgentID string
	Symbol  string
	Status  models.OrderStatus
	Since   time.Time
	Limit   int
}

// ProfitExitFilter represents filters for querying profit exits.
type ProfitExitFilter struct {
	AgentID string
	Symbol  string
	Since   time.Time
	Limit   int
}
