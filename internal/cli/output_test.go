package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTable_AlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, true)

	table := NewTable(out, "Symbol", "Qty")
	table.AddRow("BTC", "0.1")
	table.AddRow("DOGEUSDT", "1000")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("rendered %d lines, want 4:\n%s", len(lines), buf.String())
	}
	want := map[int]string{0: "Symbol    Qty", 2: "BTC       0.1", 3: "DOGEUSDT  1000"}
	for i, line := range want {
		if lines[i] != line {
			t.Errorf("line %d = %q, want %q", i, lines[i], line)
		}
	}
}

func TestVisibleLen_IgnoresANSI(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"\x1b[32mBUY\x1b[0m", 3},
		{"SELL", 4},
		{"─", 1},
	}
	for _, tt := range tests {
		if got := visibleLen(tt.in); got != tt.want {
			t.Errorf("visibleLen(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestOutput_JSONModeHasNoColour(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, true)

	if got := out.Side("BUY"); got != "BUY" {
		t.Errorf("Side(BUY) = %q, want plain BUY", got)
	}
	if got := out.Signed(1, "+1.00"); got != "+1.00" {
		t.Errorf("Signed() = %q, want plain +1.00", got)
	}

	if err := out.JSON(map[string]int{"plans": 2}); err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	var decoded map[string]int
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["plans"] != 2 {
		t.Errorf("plans = %d, want 2", decoded["plans"])
	}
}

func TestShortID(t *testing.T) {
	tests := map[string]string{
		"":              "-",
		"abc":           "abc",
		"0123abcd-ffff": "0123abcd",
	}
	for in, want := range tests {
		if got := shortID(in); got != want {
			t.Errorf("shortID(%q) = %q, want %q", in, got, want)
		}
	}
}
