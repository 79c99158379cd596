package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"agent-follower/internal/models"
)

type bufferCloser struct {
	bytes.Buffer
}

func (b *bufferCloser) Close() error { return nil }

func readEvents(t *testing.T, data []byte, want int) []Event {
	t.Helper()
	var events []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("Failed to decode audit line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	if len(events) != want {
		t.Fatalf("read %d events, want %d:\n%s", len(events), want, data)
	}
	return events
}

func TestLogger_WritesJSONLines(t *testing.T) {
	ctx := context.Background()
	buf := &bufferCloser{}
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)
	l := NewWithWriter(buf, zerolog.Nop()).WithClock(func() time.Time { return now })

	l.ConfirmationSet(ctx, "gpt-5", models.ConfirmRebuildHistory)
	l.ConfirmationConsumed(ctx, "gpt-5", models.ConfirmRebuildHistory)
	l.PassAborted(ctx, "gpt-5", "confirm", errors.New("follow pass aborted by operator"))
	l.ProfitExit(ctx, models.ProfitExitRecord{AgentID: "gpt-5", Symbol: "BTC", Side: models.OrderSideBuy, ProfitPercentage: 120})
	l.PlansGenerated(ctx, "gpt-5", []models.FollowPlan{{ID: "p1", Action: models.PlanEnter, Symbol: "ETH"}})

	events := readEvents(t, buf.Bytes(), 5)

	set := events[0]
	if set.EventType != EventConfirmationSet || set.Action != "rebuild_history" {
		t.Errorf("event 0 = %s/%s, want confirmation set rebuild_history", set.EventType, set.Action)
	}
	if !set.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", set.Timestamp, now)
	}
	if set.SessionID != l.SessionID() {
		t.Errorf("SessionID = %s, want %s", set.SessionID, l.SessionID())
	}

	if events[1].EventType != EventConfirmationConsumed {
		t.Errorf("event 1 = %s, want %s", events[1].EventType, EventConfirmationConsumed)
	}

	aborted := events[2]
	if aborted.EventType != EventPassAborted || aborted.Success || aborted.Action != "confirm" {
		t.Errorf("event 2 = %+v, want failed pass abort at confirm", aborted)
	}
	if !strings.Contains(aborted.ErrorMsg, "aborted") {
		t.Errorf("ErrorMsg = %q, want abort reason", aborted.ErrorMsg)
	}

	profit := events[3]
	if profit.EventType != EventProfitExit || profit.Symbol != "BTC" {
		t.Errorf("event 3 = %s/%s, want profit exit on BTC", profit.EventType, profit.Symbol)
	}
	if profit.Details["profit_percentage"] != 120.0 {
		t.Errorf("profit_percentage = %v, want 120", profit.Details["profit_percentage"])
	}

	if events[4].EventType != EventPlansGenerated || events[4].Details["count"] != 1.0 {
		t.Errorf("event 4 = %s count %v, want plans generated count 1", events[4].EventType, events[4].Details["count"])
	}
}

func TestLogger_OrderOutcome(t *testing.T) {
	ctx := context.Background()
	buf := &bufferCloser{}
	l := NewWithWriter(buf, zerolog.Nop())

	plan := models.FollowPlan{ID: "p1", AgentID: "gpt-5", Action: models.PlanEnter, Symbol: "BTC", Quantity: 0.1}
	l.OrderPlaced(ctx, plan, "o-1", nil)
	l.OrderPlaced(ctx, plan, "", errors.New("insufficient funds"))

	events := readEvents(t, buf.Bytes(), 2)
	if events[0].EventType != EventOrderPlaced || events[0].OrderID != "o-1" || !events[0].Success {
		t.Errorf("event 0 = %+v, want successful order o-1", events[0])
	}
	if events[1].EventType != EventOrderRejected || events[1].ErrorMsg != "insufficient funds" {
		t.Errorf("event 1 = %+v, want rejection", events[1])
	}
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	ctx := context.Background()
	l.ConfirmationSet(ctx, "a", models.ConfirmAbort)
	l.PlansGenerated(ctx, "a", nil)
	if err := l.Close(); err != nil {
		t.Errorf("Close() on nil logger = %v", err)
	}
	if id := l.SessionID(); id != "" {
		t.Errorf("SessionID() = %q, want empty", id)
	}
}

func TestNew_WritesToDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	l, err := New(DefaultConfig(dir), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}

	l.PassAborted(context.Background(), "gpt-5", "reload", errors.New("disk"))
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	if got := readEvents(t, data, 1)[0].Action; got != "reload" {
		t.Errorf("Action = %q, want reload", got)
	}
}
