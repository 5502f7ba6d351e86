package domain

import (
	"math"
	"testing"
)

func ptr(f float64) *float64 { return &f }

func TestUnrealizedPnL(t *testing.T) {
	cases := []struct {
		name  string
		side  PositionSide
		entry float64
		qty   float64
		price float64
		want  float64
	}{
		{"long gain", PositionSideLong, 50000, 0.004, 52000, 8},
		{"long loss", PositionSideLong, 50000, 0.004, 49000, -4},
		{"short gain", PositionSideShort, 2000, 0.1, 1900, 10},
		{"short loss", PositionSideShort, 2000, 0.1, 2100, -10},
		{"flat", PositionSideLong, 100, 2, 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Position{Side: tc.side, EntryPrice: tc.entry, Quantity: tc.qty}
			if got := p.UnrealizedPnL(tc.price); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("pnl = %.8f, want %.8f", got, tc.want)
			}
		})
	}
}

func TestStopLossAndTakeProfitTriggers(t *testing.T) {
	long := Position{
		Side:          PositionSideLong,
		EntryPrice:    100,
		StopLossPct:   ptr(0.05),
		TakeProfitPct: ptr(0.10),
	}
	short := Position{
		Side:          PositionSideShort,
		EntryPrice:    100,
		StopLossPct:   ptr(0.05),
		TakeProfitPct: ptr(0.10),
	}

	cases := []struct {
		name   string
		pos    Position
		price  float64
		wantSL bool
		wantTP bool
	}{
		{"long in band", long, 100, false, false},
		{"long at stop", long, 95, true, false},
		{"long below stop", long, 90, true, false},
		{"long at target", long, 110, false, true},
		{"short at stop", short, 105, true, false},
		{"short at target", short, 90, false, true},
		{"short in band", short, 99, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.pos.ShouldStopLoss(tc.price); got != tc.wantSL {
				t.Errorf("ShouldStopLoss(%v) = %v, want %v", tc.price, got, tc.wantSL)
			}
			if got := tc.pos.ShouldTakeProfit(tc.price); got != tc.wantTP {
				t.Errorf("ShouldTakeProfit(%v) = %v, want %v", tc.price, got, tc.wantTP)
			}
		})
	}
}

func TestTriggersDisabledWithoutLevels(t *testing.T) {
	p := Position{Side: PositionSideLong, EntryPrice: 100}
	if p.ShouldStopLoss(1) || p.ShouldTakeProfit(1e9) {
		t.Error("unset levels triggered")
	}
}

func TestSignalSide(t *testing.T) {
	if (TradingSignal{Direction: SignalShort}).Side() != PositionSideShort {
		t.Error("short signal maps to long side")
	}
	if (TradingSignal{Direction: SignalLong}).Side() != PositionSideLong {
		t.Error("long signal maps to short side")
	}
}
