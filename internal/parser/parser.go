// Package parser turns raw events into trade signals. Each parser owns
// its rule set and trigger history; the engine feeds every event to every
// registered parser in order and executes the first signal produced.
package parser

import "event-sniper/pkg/types"

// Parser evaluates one event against its rules. Evaluate returns nil when
// no rule fires; it never blocks on I/O and never panics.
type Parser interface {
	Evaluate(event types.MarketEvent) *types.TradeSignal
	Reset()
}
