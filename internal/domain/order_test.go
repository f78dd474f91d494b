package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderItem_IsOpen(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusNew, true},
		{StatusPartiallyFilled, true},
		{StatusFilled, false},
		{StatusCanceled, false},
		{"", false},
	}

	for _, tt := range tests {
		o := OrderItem{Status: tt.status}
		if got := o.IsOpen(); got != tt.want {
			t.Errorf("IsOpen() with status %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestPosition_Direction(t *testing.T) {
	long := Position{Qty: decimal.NewFromInt(2)}
	short := Position{Qty: decimal.NewFromInt(-2)}
	flat := Position{}

	if !long.IsLong() || long.IsShort() {
		t.Error("positive qty should be long")
	}
	if !short.IsShort() || short.IsLong() {
		t.Error("negative qty should be short")
	}
	if flat.IsLong() || flat.IsShort() {
		t.Error("zero qty should be neither")
	}
}

func TestPosition_Unrealized(t *testing.T) {
	p := Position{
		Qty:      decimal.NewFromInt(2),
		AvgPrice: decimal.NewFromInt(100),
	}

	// (110 - 100) * 2 = 20
	if got := p.Unrealized(decimal.NewFromInt(110)); !got.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Unrealized = %s, want 20", got)
	}

	short := Position{
		Qty:      decimal.NewFromInt(-2),
		AvgPrice: decimal.NewFromInt(100),
	}
	// (110 - 100) * -2 = -20
	if got := short.Unrealized(decimal.NewFromInt(110)); !got.Equal(decimal.NewFromInt(-20)) {
		t.Errorf("short Unrealized = %s, want -20", got)
	}
}
