// Package ingest implements the event sources that feed the engine.
//
// Three sources run concurrently:
//
//   - MarketWS (venue WebSocket): subscribes by token ID, receives "book"
//     snapshots, "price_change" deltas, trade prints, and tick size changes.
//   - RSS: polls news feeds and emits NEWS events for unseen entries.
//   - Manual: lets an operator or test inject events directly.
//
// Every source re-projects its input into types.MarketEvent and delivers
// it on the channel returned by Stream. The channel closes when the source
// terminates — on Disconnect, or for MarketWS when reconnection attempts
// are exhausted. After the channel closes, Err reports the terminal error,
// if any.
package ingest

import (
	"context"
	"errors"

	"event-sniper/pkg/types"
)

// ErrNotConnected is returned by operations that need a live source.
var ErrNotConnected = errors.New("source not connected")

// ErrReconnectExhausted is reported by Err after the WebSocket source gives
// up reconnecting.
var ErrReconnectExhausted = errors.New("reconnection attempts exhausted")

// Source is an event producer. Connect starts production, Stream exposes
// the event channel, Disconnect stops production and closes the channel.
type Source interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Stream() <-chan types.MarketEvent
	IsConnected() bool

	// Err returns the terminal error once Stream's channel has closed,
	// or nil for a clean shutdown.
	Err() error
}

// MarketSource is a Source bound to venue market data. Subscriptions may
// be added before or after Connect; pre-connect subscriptions are buffered
// and sent on connect, and all subscriptions survive reconnects.
type MarketSource interface {
	Source
	Subscribe(ctx context.Context, tokenIDs []string) error
	SubscribedTokens() []string
}

// ExternalSource is a Source of NEWS/SOCIAL events. Configure installs
// upstream locations (feed URLs); InjectEvent pushes a hand-made event
// into the stream.
type ExternalSource interface {
	Source
	Configure(sources []string) error
	InjectEvent(content, source string, eventType types.EventType) error
}
