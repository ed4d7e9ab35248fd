package notify

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"event-sniper/internal/store"
	"event-sniper/pkg/types"
)

type fixedPortfolio struct {
	cash      float64
	positions map[string]types.Position
}

func (p fixedPortfolio) Cash() float64                         { return p.cash }
func (p fixedPortfolio) Positions() map[string]types.Position { return p.positions }

func (p fixedPortfolio) TotalUnrealizedPnL() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.UnrealizedPnL()
	}
	return total
}

func (p fixedPortfolio) TotalMarketValue() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

type fixedTrades []store.Trade

func (t fixedTrades) Trades(context.Context, string, int) ([]store.Trade, error) {
	return t, nil
}

func TestReportRendersPositionsAndTrades(t *testing.T) {
	t.Parallel()

	portfolio := fixedPortfolio{
		cash: 950,
		positions: map[string]types.Position{
			"123456789012345678": {
				TokenID:       "123456789012345678",
				Side:          types.PositionLong,
				Quantity:      100,
				AvgEntryPrice: 0.40,
				CurrentPrice:  0.55,
				OpenedAt:      time.Now(),
			},
		},
	}
	trades := fixedTrades{{
		OrderID:    "ox1",
		TokenID:    "123456789012345678",
		Side:       types.BUY,
		Quantity:   100,
		Price:      0.40,
		ExecutedAt: time.Now(),
	}}

	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, portfolio, trades)
	if err := r.Report(context.Background(), 10); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"cash 950.00", "unrealized PnL +15.00", "123456…5678", "BUY", "ox1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestReportEmptyPortfolio(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, fixedPortfolio{cash: 10000}, fixedTrades{})
	if err := r.Report(context.Background(), 10); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "no open positions") {
		t.Errorf("report missing empty-portfolio line:\n%s", out)
	}
	if !strings.Contains(out, "Recent trades (0)") {
		t.Errorf("report missing empty trades header:\n%s", out)
	}
}

func TestShortToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"short", "short"},
		{"123456789012", "123456789012"},
		{"1234567890123", "123456…0123"},
	}
	for _, tt := range tests {
		if got := shortToken(tt.in); got != tt.want {
			t.Errorf("shortToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
