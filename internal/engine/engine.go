// Package engine is the central orchestrator of the event sniper.
//
// It wires together all subsystems:
//
//  1. Sources (venue WebSocket, RSS, manual injection) produce MarketEvents
//     into one bounded channel.
//  2. A single drain goroutine runs every parser over every event, in
//     registration order.
//  3. Signals run the risk gate (portfolio), then the executor, then the
//     bookkeeping chain: order row, journal line, trade row, position update.
//  4. Observers (status API, notifiers) are told about signals, trades,
//     errors, and metrics — best-effort, never able to stall the pipeline.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"event-sniper/internal/config"
	"event-sniper/internal/ingest"
	"event-sniper/internal/parser"
	"event-sniper/internal/portfolio"
	"event-sniper/internal/prices"
	"event-sniper/pkg/types"
)

// Executor is the trade execution slice the engine needs; satisfied by
// executor.Executor.
type Executor interface {
	Setup(ctx context.Context) error
	Execute(ctx context.Context, signal types.TradeSignal) (types.ExecutionResult, error)
	GetBalance(ctx context.Context) (float64, error)
}

// TradeStore is the order/trade persistence slice the engine writes;
// satisfied by store.Store.
type TradeStore interface {
	InsertOrder(ctx context.Context, order types.Order, status types.OrderStatus) error
	UpdateOrderStatus(ctx context.Context, clientOrderID string, status types.OrderStatus, exchangeOrderID string) error
	InsertTrade(ctx context.Context, order types.Order, result types.ExecutionResult) error
}

// FillJournal appends one record per execution; satisfied by
// store.Journal.
type FillJournal interface {
	Record(signal types.TradeSignal, result types.ExecutionResult)
}

// Metrics is the engine's running counters.
type Metrics struct {
	EventsProcessed   int64 `json:"events_processed"`
	SignalsGenerated  int64 `json:"signals_generated"`
	TradesExecuted    int64 `json:"trades_executed"`
	ErrorsEncountered int64 `json:"errors_encountered"`
}

// Observer receives pipeline notifications. Implementations must be fast;
// slow or panicking observers are tolerated but their work is lost.
type Observer interface {
	SignalGenerated(signal types.TradeSignal)
	TradeExecuted(signal types.TradeSignal, result types.ExecutionResult)
	ErrorOccurred(err error)
	MetricsUpdated(m Metrics)
}

// Option configures optional engine attachments.
type Option func(*Engine)

// WithPortfolio attaches the risk gate and position ledger. Without it the
// engine generates signals and executes them unchecked.
func WithPortfolio(p *portfolio.Manager) Option {
	return func(e *Engine) { e.portfolio = p }
}

// WithStore attaches order and trade persistence.
func WithStore(s TradeStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithJournal attaches the JSONL fill journal.
func WithJournal(j FillJournal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithObserver registers a pipeline observer. May be used multiple times.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithPriceCache attaches the quote cache consumed by the status API.
func WithPriceCache(c *prices.Cache) Option {
	return func(e *Engine) { e.prices = c }
}

// Engine runs the event pipeline: sources → parsers → executor →
// portfolio/store/journal.
type Engine struct {
	cfg      config.Config
	sources  []ingest.Source
	parsers  []parser.Parser
	executor Executor

	portfolio *portfolio.Manager
	store     TradeStore
	journal   FillJournal
	prices    *prices.Cache
	observers []Observer

	events chan types.MarketEvent
	logger *slog.Logger

	mu      sync.Mutex
	metrics Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const defaultQueueSize = 1024

// New wires an engine. Sources and parsers run in the order given.
func New(cfg config.Config, sources []ingest.Source, parsers []parser.Parser, exec Executor, logger *slog.Logger, opts ...Option) *Engine {
	queueSize := cfg.Bot.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	e := &Engine{
		cfg:      cfg,
		sources:  sources,
		parsers:  parsers,
		executor: exec,
		events:   make(chan types.MarketEvent, queueSize),
		logger:   logger.With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start connects every source and runs the drain loop until the context is
// cancelled or all sources terminate. It blocks; run it in a goroutine and
// pair it with Stop.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	if err := e.executor.Setup(ctx); err != nil {
		return fmt.Errorf("executor setup: %w", err)
	}
	if e.portfolio != nil {
		if err := e.portfolio.Load(ctx, e.executor); err != nil {
			return fmt.Errorf("portfolio load: %w", err)
		}
	}

	producersDone := make(chan struct{})
	var producers sync.WaitGroup
	for _, src := range e.sources {
		if err := src.Connect(ctx); err != nil {
			return fmt.Errorf("connect source: %w", err)
		}
		producers.Add(1)
		e.wg.Add(1)
		go func(src ingest.Source) {
			defer e.wg.Done()
			defer producers.Done()
			e.produce(ctx, src)
		}(src)
	}
	go func() {
		producers.Wait()
		close(producersDone)
	}()

	e.logger.Info("engine started", "sources", len(e.sources), "parsers", len(e.parsers))
	e.drain(ctx, producersDone)
	return nil
}

// Stop cancels producers, waits for them, and disconnects every source.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	for _, src := range e.sources {
		if err := src.Disconnect(); err != nil {
			e.logger.Error("source disconnect failed", "error", err)
		}
	}

	m := e.Metrics()
	e.logger.Info("shutdown complete",
		"events_processed", m.EventsProcessed,
		"signals_generated", m.SignalsGenerated,
		"trades_executed", m.TradesExecuted,
		"errors_encountered", m.ErrorsEncountered)
}

// Metrics returns a copy of the running counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// InjectEvent pushes an event straight into the pipeline, bypassing the
// sources. Used by operator tooling.
func (e *Engine) InjectEvent(ctx context.Context, event types.MarketEvent) error {
	select {
	case e.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// produce forwards one source's stream into the shared channel until the
// stream closes or the context dies.
func (e *Engine) produce(ctx context.Context, src ingest.Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-src.Stream():
			if !ok {
				if err := src.Err(); err != nil {
					e.logger.Error("source terminated", "error", err)
				}
				return
			}
			select {
			case e.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// drain is the single consumer of the event channel. The 100ms poll keeps
// shutdown responsive without busy-waiting.
func (e *Engine) drain(ctx context.Context, producersDone <-chan struct{}) {
	pollInterval := e.cfg.Bot.PollInterval
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			e.sweep(ctx)
			return
		case <-producersDone:
			e.sweep(ctx)
			return
		case event := <-e.events:
			e.handleEvent(ctx, event)
		case <-time.After(pollInterval):
		}
	}
}

// sweep processes whatever is still buffered, without blocking.
func (e *Engine) sweep(ctx context.Context) {
	for {
		select {
		case event := <-e.events:
			e.handleEvent(ctx, event)
		default:
			return
		}
	}
}

// handleEvent runs one event through price tracking and every parser. Any
// error inside is absorbed here: logged, counted, reported to observers —
// the pipeline keeps going.
func (e *Engine) handleEvent(ctx context.Context, event types.MarketEvent) {
	if e.prices != nil {
		e.prices.Apply(event)
	}
	if e.portfolio != nil && event.IsMarketData() {
		if price, ok := event.Price(); ok {
			if err := e.portfolio.OnPriceUpdate(ctx, event.TokenID, price); err != nil {
				e.recordError(fmt.Errorf("price update: %w", err))
			}
		}
	}

	for _, p := range e.parsers {
		signal := p.Evaluate(event)
		if signal == nil {
			continue
		}

		e.mu.Lock()
		e.metrics.SignalsGenerated++
		e.mu.Unlock()
		e.notify(func(o Observer) { o.SignalGenerated(*signal) })

		e.logger.Info("signal generated",
			"token_id", signal.TokenID,
			"side", signal.Side,
			"size_usdc", signal.SizeUSDC,
			"reason", signal.Reason)

		refPrice, _ := event.Price()
		if err := e.executeSignal(ctx, *signal, refPrice); err != nil {
			e.recordError(err)
		}
	}

	e.mu.Lock()
	e.metrics.EventsProcessed++
	m := e.metrics
	e.mu.Unlock()
	e.notify(func(o Observer) { o.MetricsUpdated(m) })
}

// executeSignal runs the order path for one signal: risk check, order row,
// execution, then the bookkeeping chain in a fixed order. refPrice is the
// triggering event's price, used to size the order in shares; zero falls
// back to the binary midpoint.
func (e *Engine) executeSignal(ctx context.Context, signal types.TradeSignal, refPrice float64) error {
	order := types.NewOrderFromSignal(signal, refPrice)

	if e.portfolio != nil {
		if ok, reason := e.portfolio.CheckOrder(order); !ok {
			e.logger.Warn("order rejected",
				"token_id", order.TokenID,
				"side", order.Side,
				"reason", reason)
			return nil
		}
	}

	if e.store != nil {
		if err := e.store.InsertOrder(ctx, order, types.StatusPending); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
	}

	result, err := e.executor.Execute(ctx, signal)
	if err != nil {
		if e.store != nil {
			if uerr := e.store.UpdateOrderStatus(ctx, order.ClientOrderID, types.StatusFailed, ""); uerr != nil {
				e.logger.Error("order status update failed", "error", uerr)
			}
		}
		return fmt.Errorf("execute: %w", err)
	}

	if e.store != nil {
		if err := e.store.UpdateOrderStatus(ctx, order.ClientOrderID, result.Status, result.OrderID); err != nil {
			e.logger.Error("order status update failed", "error", err)
		}
	}

	if result.Status != types.StatusFilled && result.Status != types.StatusPartial {
		if e.journal != nil {
			e.journal.Record(signal, result)
		}
		e.logger.Warn("order not filled",
			"order_id", result.OrderID,
			"status", result.Status,
			"message", result.ErrorMessage)
		return nil
	}

	// Fill writes: the position ledger mutates first, so no trade row or
	// journal line can exist for a fill the portfolio never absorbed.
	if e.portfolio != nil {
		if err := e.portfolio.OnFill(ctx, order, result); err != nil {
			return fmt.Errorf("apply fill: %w", err)
		}
	}
	if e.store != nil {
		if err := e.store.InsertTrade(ctx, order, result); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}
	if e.journal != nil {
		e.journal.Record(signal, result)
	}

	e.mu.Lock()
	e.metrics.TradesExecuted++
	e.mu.Unlock()
	e.notify(func(o Observer) { o.TradeExecuted(signal, result) })

	e.logger.Info("trade executed",
		"order_id", result.OrderID,
		"token_id", signal.TokenID,
		"side", signal.Side,
		"price", result.FilledPrice,
		"size", result.FilledSize)
	return nil
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.metrics.ErrorsEncountered++
	e.mu.Unlock()
	e.logger.Error("pipeline error", "error", err)
	e.notify(func(o Observer) { o.ErrorOccurred(err) })
}

// notify fans a callback out to every observer, recovering panics so a
// broken observer cannot take down the pipeline.
func (e *Engine) notify(fn func(Observer)) {
	for _, o := range e.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("observer panicked", "panic", r)
				}
			}()
			fn(o)
		}()
	}
}
