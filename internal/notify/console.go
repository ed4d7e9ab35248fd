// Package notify renders pipeline activity for humans: a console reporter
// for positions and trades, and a Telegram observer for fills and errors.
package notify

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"event-sniper/internal/store"
	"event-sniper/pkg/types"
)

// PortfolioReader is the portfolio slice the reporter renders.
type PortfolioReader interface {
	Cash() float64
	Positions() map[string]types.Position
	TotalUnrealizedPnL() float64
	TotalMarketValue() float64
}

// TradeReader serves the recent-trades table; satisfied by store.Store.
type TradeReader interface {
	Trades(ctx context.Context, tokenID string, limit int) ([]store.Trade, error)
}

// ConsoleReporter renders portfolio and trade tables to a writer, used by
// the -report flag and the shutdown summary.
type ConsoleReporter struct {
	out       io.Writer
	portfolio PortfolioReader
	trades    TradeReader
}

// NewConsoleReporter writes tables to out. Either reader may be nil; its
// table is skipped.
func NewConsoleReporter(out io.Writer, portfolio PortfolioReader, trades TradeReader) *ConsoleReporter {
	return &ConsoleReporter{out: out, portfolio: portfolio, trades: trades}
}

// Report renders the positions table followed by the most recent trades.
func (r *ConsoleReporter) Report(ctx context.Context, tradeLimit int) error {
	if r.portfolio != nil {
		r.renderPositions()
	}
	if r.trades != nil {
		if err := r.renderTrades(ctx, tradeLimit); err != nil {
			return err
		}
	}
	return nil
}

func (r *ConsoleReporter) renderPositions() {
	positions := make([]types.Position, 0)
	for _, p := range r.portfolio.Positions() {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].TokenID < positions[j].TokenID })

	fmt.Fprintf(r.out, "\nPortfolio — cash %.2f USDC, market value %.2f, unrealized PnL %+.2f\n",
		r.portfolio.Cash(), r.portfolio.TotalMarketValue(), r.portfolio.TotalUnrealizedPnL())

	if len(positions) == 0 {
		fmt.Fprintln(r.out, "no open positions")
		return
	}

	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Token", "Side", "Qty", "Avg Entry", "Current", "PnL", "Opened"})
	for _, p := range positions {
		table.Append([]string{
			shortToken(p.TokenID),
			string(p.Side),
			formatFloat(p.Quantity),
			formatFloat(p.AvgEntryPrice),
			formatFloat(p.CurrentPrice),
			fmt.Sprintf("%+.2f", p.UnrealizedPnL()),
			p.OpenedAt.Format("01-02 15:04"),
		})
	}
	table.Render()
}

func (r *ConsoleReporter) renderTrades(ctx context.Context, limit int) error {
	trades, err := r.trades.Trades(ctx, "", limit)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}

	fmt.Fprintf(r.out, "\nRecent trades (%d)\n", len(trades))
	if len(trades) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Executed", "Token", "Side", "Qty", "Price", "Fees", "Order"})
	for _, t := range trades {
		table.Append([]string{
			t.ExecutedAt.Format("01-02 15:04:05"),
			shortToken(t.TokenID),
			string(t.Side),
			formatFloat(t.Quantity),
			formatFloat(t.Price),
			formatFloat(t.Fees),
			t.OrderID,
		})
	}
	table.Render()
	return nil
}

// shortToken abbreviates long CLOB token IDs for table display.
func shortToken(tokenID string) string {
	if len(tokenID) <= 12 {
		return tokenID
	}
	return tokenID[:6] + "…" + tokenID[len(tokenID)-4:]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
