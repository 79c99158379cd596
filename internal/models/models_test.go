package models

import (
	"math"
	"testing"
)

func TestPosition_MarginBasis(t *testing.T) {
	reported := Position{Symbol: "BTC", Quantity: 0.1, EntryPrice: 50000, Leverage: 10, Margin: 600}
	if got := reported.MarginBasis(); got != 600 {
		t.Errorf("reported MarginBasis() = %f, want 600", got)
	}

	derived := Position{Symbol: "ETH", Quantity: -2, EntryPrice: 3000, CurrentPrice: 2900, Leverage: 5}
	if got := derived.MarginBasis(); math.Abs(got-1160) > 1e-9 {
		t.Errorf("derived MarginBasis() = %f, want 1160", got)
	}
	if got := derived.Side(); got != OrderSideSell {
		t.Errorf("Side() = %s, want SELL", got)
	}
	if got := derived.AbsQuantity(); got != 2 {
		t.Errorf("AbsQuantity() = %f, want 2", got)
	}

	noLeverage := Position{Symbol: "SOL", Quantity: 10, EntryPrice: 200}
	if got := noLeverage.EffectiveLeverage(); got != 1 {
		t.Errorf("EffectiveLeverage() = %f, want 1", got)
	}
	if got := noLeverage.MarginBasis(); got != 2000 {
		t.Errorf("unlevered MarginBasis() = %f, want 2000", got)
	}
}

func TestBrokerPosition_Margin(t *testing.T) {
	cross := BrokerPosition{PositionAmt: -1, EntryPrice: 3000, Leverage: 5}
	if got := cross.Margin(MarginCrossed); got != 600 {
		t.Errorf("cross Margin() = %f, want 600", got)
	}
	if got := cross.Side(); got != OrderSideSell {
		t.Errorf("Side() = %s, want SELL", got)
	}

	// The position's own margin type wins over the requested one.
	isolated := BrokerPosition{PositionAmt: 1, EntryPrice: 3000, Leverage: 5, IsolatedMargin: 650, MarginType: MarginIsolated}
	if got := isolated.Margin(MarginCrossed); got != 650 {
		t.Errorf("isolated Margin() = %f, want 650", got)
	}
}

func TestOrderRecord_SignedQuantity(t *testing.T) {
	tests := []struct {
		record OrderRecord
		want   float64
	}{
		{OrderRecord{Action: PlanEnter, Side: OrderSideBuy, Quantity: 0.5}, 0.5},
		{OrderRecord{Action: PlanEnter, Side: OrderSideSell, Quantity: 0.5}, -0.5},
		{OrderRecord{Action: PlanExit, Side: OrderSideSell, Quantity: 0.5}, 0},
	}
	for _, tt := range tests {
		if got := tt.record.SignedQuantity(); got != tt.want {
			t.Errorf("SignedQuantity(%s %s) = %f, want %f", tt.record.Action, tt.record.Side, got, tt.want)
		}
	}
	if got := OrderSideSell.Opposite(); got != OrderSideBuy {
		t.Errorf("SELL.Opposite() = %s, want BUY", got)
	}
}

func TestAccountInfo_NetWorth(t *testing.T) {
	a := AccountInfo{AvailableBalance: 9500, TotalPositionMargin: 500, TotalUnrealizedPnL: -25}
	if got := a.NetWorth(); got != 9975 {
		t.Errorf("NetWorth() = %f, want 9975", got)
	}
}
