// Package audit writes an append-only JSON-lines trail of follower decisions:
// profit exits, operator confirmations, aborted passes, generated plans and
// submitted orders.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"agent-follower/internal/models"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventProfitExit           EventType = "PROFIT_EXIT"
	EventConfirmationSet      EventType = "CONFIRMATION_SET"
	EventConfirmationConsumed EventType = "CONFIRMATION_CONSUMED"
	EventPassAborted          EventType = "PASS_ABORTED"
	EventPlansGenerated       EventType = "PLANS_GENERATED"
	EventOrderPlaced          EventType = "ORDER_PLACED"
	EventOrderRejected        EventType = "ORDER_REJECTED"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	SessionID string                 `json:"session_id"`
}

// Config holds audit logger configuration.
type Config struct {
	Dir        string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns the default audit configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:        dir,
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// Logger handles audit logging. A nil *Logger discards every event.
type Logger struct {
	writer    io.WriteCloser
	mu        sync.Mutex
	sessionID string
	clock     func() time.Time
	logger    zerolog.Logger
}

// New creates an audit logger writing to Dir/audit.log.
func New(cfg Config, logger zerolog.Logger) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return NewWithWriter(writer, logger), nil
}

// NewWithWriter creates an audit logger over an arbitrary writer.
func NewWithWriter(w io.WriteCloser, logger zerolog.Logger) *Logger {
	return &Logger{
		writer:    w,
		sessionID: uuid.NewString(),
		clock:     time.Now,
		logger:    logger.With().Str("component", "audit").Logger(),
	}
}

// WithClock replaces the time source.
func (l *Logger) WithClock(clock func() time.Time) *Logger {
	l.clock = clock
	return l
}

// SessionID identifies this process in the trail.
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// Log writes one event.
func (l *Logger) Log(ctx context.Context, event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = l.clock().UTC()
	event.SessionID = l.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// record logs the event and reports write failures on the diagnostic logger.
func (l *Logger) record(ctx context.Context, event Event) {
	if err := l.Log(ctx, event); err != nil {
		l.logger.Warn().Err(err).Str("event", string(event.EventType)).Msg("Audit write failed")
	}
}

// ProfitExit logs a position closed at its profit target.
func (l *Logger) ProfitExit(ctx context.Context, rec models.ProfitExitRecord) {
	l.record(ctx, Event{
		EventType: EventProfitExit,
		AgentID:   rec.AgentID,
		Symbol:    rec.Symbol,
		Action:    string(rec.Side),
		Success:   true,
		Details: map[string]interface{}{
			"entry_oid":         rec.EntryOID,
			"quantity":          rec.Quantity,
			"entry_price":       rec.EntryPrice,
			"exit_price":        rec.ExitPrice,
			"profit_percentage": rec.ProfitPercentage,
			"profit_target":     rec.ProfitTarget,
			"auto_refollow":     rec.AutoRefollow,
		},
	})
}

// ConfirmationSet logs an operator decision.
func (l *Logger) ConfirmationSet(ctx context.Context, agentID string, action models.ConfirmationAction) {
	l.record(ctx, Event{
		EventType: EventConfirmationSet,
		AgentID:   agentID,
		Action:    string(action),
		Success:   true,
	})
}

// ConfirmationConsumed logs a decision applied by a follow pass.
func (l *Logger) ConfirmationConsumed(ctx context.Context, agentID string, action models.ConfirmationAction) {
	l.record(ctx, Event{
		EventType: EventConfirmationConsumed,
		AgentID:   agentID,
		Action:    string(action),
		Success:   true,
	})
}

// PassAborted logs a follow pass that returned an error.
func (l *Logger) PassAborted(ctx context.Context, agentID, stage string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	l.record(ctx, Event{
		EventType: EventPassAborted,
		AgentID:   agentID,
		Action:    stage,
		Success:   false,
		ErrorMsg:  msg,
	})
}

// PlansGenerated logs a summary of a pass's output.
func (l *Logger) PlansGenerated(ctx context.Context, agentID string, plans []models.FollowPlan) {
	summary := make([]map[string]interface{}, 0, len(plans))
	for _, p := range plans {
		summary = append(summary, map[string]interface{}{
			"id":        p.ID,
			"action":    p.Action,
			"symbol":    p.Symbol,
			"side":      p.Side,
			"quantity":  p.Quantity,
			"leverage":  p.Leverage,
			"entry_oid": p.EntryOID,
		})
	}
	l.record(ctx, Event{
		EventType: EventPlansGenerated,
		AgentID:   agentID,
		Success:   true,
		Details: map[string]interface{}{
			"count": len(plans),
			"plans": summary,
		},
	})
}

// OrderPlaced logs the venue outcome of executing a plan.
func (l *Logger) OrderPlaced(ctx context.Context, plan models.FollowPlan, orderID string, err error) {
	event := Event{
		EventType: EventOrderPlaced,
		AgentID:   plan.AgentID,
		Symbol:    plan.Symbol,
		OrderID:   orderID,
		Action:    string(plan.Action),
		Success:   err == nil,
		Details: map[string]interface{}{
			"plan_id":   plan.ID,
			"side":      plan.Side,
			"quantity":  plan.Quantity,
			"leverage":  plan.Leverage,
			"entry_oid": plan.EntryOID,
		},
	}
	if err != nil {
		event.EventType = EventOrderRejected
		event.ErrorMsg = err.Error()
	}
	l.record(ctx, event)
}

// Close closes the audit logger.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.writer.Close()
}
