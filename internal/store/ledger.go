package store

import (
	"context"

	"agent-follower/internal/models"
)

// AgentLedger is a SQLiteHistory view for a single source agent. It
// satisfies the follow engine's OrderHistory contract, whose lookups are
// keyed by symbol and entry_oid only.
type AgentLedger struct {
	history *SQLiteHistory
	agentID string
}

// AgentID returns the agent this view is scoped to.
func (l *AgentLedger) AgentID() string { return l.agentID }

func (l *AgentLedger) IsOrderProcessed(ctx context.Context, entryOID int64, symbol string) (bool, error) {
	return l.history.IsOrderProcessed(ctx, l.agentID, entryOID, symbol)
}

func (l *AgentLedger) GetProcessedOrdersByAgent(ctx context.Context, agentID string) ([]models.OrderRecord, error) {
	return l.history.GetProcessedOrdersByAgent(ctx, agentID)
}

func (l *AgentLedger) ReloadHistory(ctx context.Context) error {
	return l.history.ReloadHistory(ctx)
}

func (l *AgentLedger) AddProfitExitRecord(ctx context.Context, rec models.ProfitExitRecord) error {
	if rec.AgentID == "" {
		rec.AgentID = l.agentID
	}
	return l.history.AddProfitExitRecord(ctx, rec)
}

func (l *AgentLedger) ResetSymbolOrderStatus(ctx context.Context, symbol string, entryOID int64) error {
	return l.history.ResetSymbolOrderStatus(ctx, l.agentID, symbol, entryOID)
}

// SaveProcessedOrder records rec under this agent.
func (l *AgentLedger) SaveProcessedOrder(ctx context.Context, rec *models.OrderRecord) error {
	rec.AgentID = l.agentID
	return l.history.SaveProcessedOrder(ctx, rec)
}
