// manual.go implements the hand-fed event source, used for testing the
// signal pipeline end to end and for operator overrides without any live
// upstream connection.
package ingest

import (
	"context"
	"log/slog"
	"sync"

	"event-sniper/pkg/types"
)

// ManualSource queues injected events and replays them on its stream.
// Events may be injected before Connect; they are delivered once the
// source is running.
type ManualSource struct {
	defaultSource string

	mu         sync.Mutex
	connected  bool
	configured map[string]bool

	events     chan types.MarketEvent
	eventsOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
	wg         sync.WaitGroup

	injects chan types.MarketEvent

	logger *slog.Logger
}

// NewManualSource creates a manual source. defaultSource labels injected
// events that do not name their own origin; empty means "manual".
func NewManualSource(defaultSource string, logger *slog.Logger) *ManualSource {
	if defaultSource == "" {
		defaultSource = "manual"
	}
	return &ManualSource{
		defaultSource: defaultSource,
		configured:    make(map[string]bool),
		events:        make(chan types.MarketEvent, injectBuffer),
		done:          make(chan struct{}),
		injects:       make(chan types.MarketEvent, injectBuffer),
		logger:        logger.With("component", "manual"),
	}
}

// Configure records expected source labels. Purely informational.
func (s *ManualSource) Configure(sources []string) error {
	s.mu.Lock()
	for _, src := range sources {
		s.configured[src] = true
	}
	s.mu.Unlock()

	s.logger.Info("configured sources", "count", len(sources))
	return nil
}

// Connect starts delivering injected events.
func (s *ManualSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = true
	s.mu.Unlock()

	s.logger.Info("manual source connected")
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Disconnect stops delivery and closes the event channel.
func (s *ManualSource) Disconnect() error {
	s.doneOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	s.closeEvents()

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Stream returns the event channel. It closes when the source terminates.
func (s *ManualSource) Stream() <-chan types.MarketEvent { return s.events }

// IsConnected reports whether the source is delivering events.
func (s *ManualSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Err always returns nil; the manual source has no failure mode.
func (s *ManualSource) Err() error { return nil }

// InjectEvent queues an event for delivery. An empty source defaults to
// the configured default, an empty event type to NEWS.
func (s *ManualSource) InjectEvent(content, source string, eventType types.EventType) error {
	if source == "" {
		source = s.defaultSource
	}
	if eventType == "" {
		eventType = types.EventNews
	}
	ev, err := types.NewExternalEvent(eventType, content, source)
	if err != nil {
		return err
	}

	// Check done first: a closed done and a ready buffered send would
	// otherwise be chosen at random, letting injects slip in after Disconnect.
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}

	select {
	case s.injects <- ev:
		s.logger.Info("injected event",
			"type", eventType,
			"source", source,
			"content", truncate([]byte(content), 50),
		)
		return nil
	case <-s.done:
		return ErrNotConnected
	}
}

func (s *ManualSource) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.closeEvents()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.injects:
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}

func (s *ManualSource) closeEvents() {
	s.eventsOnce.Do(func() { close(s.events) })
}
