package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"agent-follower/internal/errors"
	"agent-follower/internal/logging"
	"agent-follower/internal/models"
)

// SQLiteHistory is the order ledger backed by SQLite.
type SQLiteHistory struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteHistory opens (or creates) the ledger at dbPath.
func NewSQLiteHistory(dbPath string, logger zerolog.Logger) (*SQLiteHistory, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	h := &SQLiteHistory{
		db:     db,
		logger: logging.WithOperation(logger, "ledger"),
	}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// initSchema creates all required tables and indexes.
func (h *SQLiteHistory) initSchema() error {
	schema := `
	-- One row per (agent, symbol, entry epoch, action) the follower acted on
	CREATE TABLE IF NOT EXISTS processed_orders (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		entry_oid INTEGER NOT NULL,
		action TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		leverage REAL NOT NULL DEFAULT 1,
		order_id TEXT,
		status TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		UNIQUE(agent_id, symbol, entry_oid, action)
	);

	-- Positions closed because the profit target was reached
	CREATE TABLE IF NOT EXISTS profit_exits (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		entry_oid INTEGER NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		profit_percentage REAL NOT NULL,
		profit_target REAL NOT NULL,
		auto_refollow INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_processed_agent ON processed_orders(agent_id, status, timestamp);
	CREATE INDEX IF NOT EXISTS idx_processed_symbol ON processed_orders(agent_id, symbol, entry_oid);
	CREATE INDEX IF NOT EXISTS idx_profit_exits_agent ON profit_exits(agent_id, timestamp);
	`

	_, err := h.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (h *SQLiteHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// ForAgent returns a ledger view scoped to one source agent.
func (h *SQLiteHistory) ForAgent(agentID string) *AgentLedger {
	return &AgentLedger{history: h, agentID: agentID}
}

// SaveProcessedOrder records that the follower acted on an order epoch. A
// record for the same (agent, symbol, entry_oid, action) is replaced, which
// re-activates a previously reset epoch.
func (h *SQLiteHistory) SaveProcessedOrder(ctx context.Context, rec *models.OrderRecord) error {
	if rec.AgentID == "" || rec.Symbol == "" {
		return errors.NewValidationError("order_record", rec.Symbol, "agent and symbol are required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = models.OrderStatusProcessed
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Leverage <= 0 {
		rec.Leverage = 1
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO processed_orders (id, agent_id, symbol, entry_oid, action, side, quantity, price, leverage, order_id, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, symbol, entry_oid, action) DO UPDATE SET
			id = excluded.id,
			side = excluded.side,
			quantity = excluded.quantity,
			price = excluded.price,
			leverage = excluded.leverage,
			order_id = excluded.order_id,
			status = excluded.status,
			timestamp = excluded.timestamp
	`, rec.ID, rec.AgentID, rec.Symbol, rec.EntryOID, string(rec.Action), string(rec.Side), rec.Quantity, rec.Price, rec.Leverage, rec.OrderID, string(rec.Status), rec.Timestamp.UTC())
	if err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "failed to save processed order: %v", err)
	}

	h.logger.Debug().
		Str("agent", rec.AgentID).
		Str("symbol", rec.Symbol).
		Int64("entry_oid", rec.EntryOID).
		Str("action", string(rec.Action)).
		Msg("Recorded processed order")
	return nil
}

// IsOrderProcessed reports whether the agent's entry epoch for symbol has a
// processed ledger entry.
func (h *SQLiteHistory) IsOrderProcessed(ctx context.Context, agentID string, entryOID int64, symbol string) (bool, error) {
	var n int
	err := h.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM processed_orders
		WHERE agent_id = ? AND symbol = ? AND entry_oid = ? AND status = ?
	`, agentID, symbol, entryOID, string(models.OrderStatusProcessed)).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(errors.ErrDatabaseError, "failed to query processed order: %v", err)
	}
	return n > 0, nil
}

// GetProcessedOrdersByAgent returns the agent's processed records, oldest first.
func (h *SQLiteHistory) GetProcessedOrdersByAgent(ctx context.Context, agentID string) ([]models.OrderRecord, error) {
	records, err := h.ListOrders(ctx, OrderFilter{AgentID: agentID, Status: models.OrderStatusProcessed})
	if err != nil {
		return nil, err
	}
	// ListOrders returns newest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// ResetSymbolOrderStatus marks the agent's records for symbol and entryOID
// as reset so the epoch can be followed again.
func (h *SQLiteHistory) ResetSymbolOrderStatus(ctx context.Context, agentID, symbol string, entryOID int64) error {
	res, err := h.db.ExecContext(ctx, `
		UPDATE processed_orders SET status = ?
		WHERE agent_id = ? AND symbol = ? AND entry_oid = ?
	`, string(models.OrderStatusReset), agentID, symbol, entryOID)
	if err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "failed to reset order status: %v", err)
	}

	n, _ := res.RowsAffected()
	h.logger.Info().
		Str("agent", agentID).
		Str("symbol", symbol).
		Int64("entry_oid", entryOID).
		Int64("rows", n).
		Msg("Reset order status")
	return nil
}

// AddProfitExitRecord appends a profit exit.
func (h *SQLiteHistory) AddProfitExitRecord(ctx context.Context, rec models.ProfitExitRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	refollow := 0
	if rec.AutoRefollow {
		refollow = 1
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO profit_exits (id, agent_id, symbol, entry_oid, side, quantity, entry_price, exit_price, profit_percentage, profit_target, auto_refollow, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.AgentID, rec.Symbol, rec.EntryOID, string(rec.Side), rec.Quantity, rec.EntryPrice, rec.ExitPrice, rec.ProfitPercentage, rec.ProfitTarget, refollow, rec.Timestamp.UTC())
	if err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "failed to save profit exit: %v", err)
	}
	return nil
}

// ReloadHistory verifies the ledger is reachable. Every read goes to the
// database, so writes from other processes are already visible.
func (h *SQLiteHistory) ReloadHistory(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "ledger unavailable: %v", err)
	}
	return nil
}

// ListOrders returns ledger entries matching filter, newest first.
func (h *SQLiteHistory) ListOrders(ctx context.Context, filter OrderFilter) ([]models.OrderRecord, error) {
	query := "SELECT id, agent_id, symbol, entry_oid, action, side, quantity, price, leverage, order_id, status, timestamp FROM processed_orders WHERE 1=1"
	args := []interface{}{}

	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY timestamp DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to query orders: %v", err)
	}
	defer rows.Close()

	var records []models.OrderRecord
	for rows.Next() {
		var r models.OrderRecord
		var action, side, status string
		var orderID sql.NullString

		if err := rows.Scan(&r.ID, &r.AgentID, &r.Symbol, &r.EntryOID, &action, &side, &r.Quantity, &r.Price, &r.Leverage, &orderID, &status, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		r.Action = models.PlanAction(action)
		r.Side = models.OrderSide(side)
		r.Status = models.OrderStatus(status)
		r.OrderID = orderID.String
		records = append(records, r)
	}

	return records, rows.Err()
}

// ListProfitExits returns profit exits matching filter, newest first.
func (h *SQLiteHistory) ListProfitExits(ctx context.Context, filter ProfitExitFilter) ([]models.ProfitExitRecord, error) {
	query := "SELECT id, agent_id, symbol, entry_oid, side, quantity, entry_price, exit_price, profit_percentage, profit_target, auto_refollow, timestamp FROM profit_exits WHERE 1=1"
	args := []interface{}{}

	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY timestamp DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to query profit exits: %v", err)
	}
	defer rows.Close()

	var exits []models.ProfitExitRecord
	for rows.Next() {
		var e models.ProfitExitRecord
		var side string
		var refollow int

		if err := rows.Scan(&e.ID, &e.AgentID, &e.Symbol, &e.EntryOID, &side, &e.Quantity, &e.EntryPrice, &e.ExitPrice, &e.ProfitPercentage, &e.ProfitTarget, &refollow, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan profit exit: %w", err)
		}

		e.Side = models.OrderSide(side)
		e.AutoRefollow = refollow == 1
		exits = append(exits, e)
	}

	return exits, rows.Err()
}
