// rss.go implements the RSS/Atom news source.
//
// Configured feeds are polled on a fixed interval (first poll fires
// immediately on connect). New entries become NEWS events with the entry
// title as content and the feed title as source. Entries are deduplicated
// by GUID, falling back to link, falling back to a hash of the title.
// A failing feed never stops the others.
package ingest

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"event-sniper/pkg/types"
)

const injectBuffer = 64 // pending hand-injected events

// RSSSource polls news feeds and emits NEWS events. It also accepts
// hand-injected events, which share the stream with polled entries.
type RSSSource struct {
	pollInterval time.Duration
	parser       *gofeed.Parser

	mu        sync.Mutex
	feedURLs  []string
	seen      map[string]bool
	connected bool

	events     chan types.MarketEvent
	eventsOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
	wg         sync.WaitGroup

	injects chan types.MarketEvent

	logger *slog.Logger
}

// NewRSSSource creates an RSS source polling at the given interval.
// Feed URLs are installed via Configure before Connect.
func NewRSSSource(pollInterval time.Duration, logger *slog.Logger) *RSSSource {
	return &RSSSource{
		pollInterval: pollInterval,
		parser:       gofeed.NewParser(),
		seen:         make(map[string]bool),
		events:       make(chan types.MarketEvent, injectBuffer),
		done:         make(chan struct{}),
		injects:      make(chan types.MarketEvent, injectBuffer),
		logger:       logger.With("component", "rss"),
	}
}

// Configure appends feed URLs to the polling set.
func (s *RSSSource) Configure(sources []string) error {
	s.mu.Lock()
	s.feedURLs = append(s.feedURLs, sources...)
	count := len(s.feedURLs)
	s.mu.Unlock()

	s.logger.Info("configured rss feeds", "added", len(sources), "total", count)
	return nil
}

// Connect starts the poll loop. The first poll runs immediately.
func (s *RSSSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = true
	feeds := len(s.feedURLs)
	s.mu.Unlock()

	s.logger.Info("rss source connected", "feeds", feeds)
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Disconnect stops polling and closes the event channel.
func (s *RSSSource) Disconnect() error {
	s.doneOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	s.closeEvents()

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Stream returns the event channel. It closes when the source terminates.
func (s *RSSSource) Stream() <-chan types.MarketEvent { return s.events }

// IsConnected reports whether the poll loop is running.
func (s *RSSSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Err always returns nil: feed failures are isolated per poll and the
// source has no terminal failure mode.
func (s *RSSSource) Err() error { return nil }

// InjectEvent pushes a hand-made event into the stream. An empty source
// defaults to "manual", an empty event type to NEWS.
func (s *RSSSource) InjectEvent(content, source string, eventType types.EventType) error {
	if source == "" {
		source = "manual"
	}
	if eventType == "" {
		eventType = types.EventNews
	}
	ev, err := types.NewExternalEvent(eventType, content, source)
	if err != nil {
		return err
	}

	select {
	case s.injects <- ev:
		s.logger.Info("injected event", "type", eventType, "source", source)
		return nil
	case <-s.done:
		return ErrNotConnected
	}
}

func (s *RSSSource) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.closeEvents()

	if !s.poll(ctx) {
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.injects:
			if !s.emit(ctx, ev) {
				return
			}
		case <-ticker.C:
			if !s.poll(ctx) {
				return
			}
		}
	}
}

// poll fetches every configured feed once. Returns false when the source
// is shutting down mid-poll.
func (s *RSSSource) poll(ctx context.Context) bool {
	s.mu.Lock()
	urls := make([]string, len(s.feedURLs))
	copy(urls, s.feedURLs)
	s.mu.Unlock()

	for _, url := range urls {
		feed, err := s.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			s.logger.Warn("failed to poll rss feed", "url", url, "error", err)
			continue
		}

		source := feed.Title
		if source == "" {
			source = url
		}

		for _, item := range feed.Items {
			id := entryID(item)
			if s.markSeen(id) {
				continue
			}

			ev := types.MarketEvent{
				Type:      types.EventNews,
				Timestamp: time.Now(),
				Content:   item.Title,
				Source:    source,
				RawData:   map[string]any{"link": item.Link, "guid": id},
			}
			if !s.emit(ctx, ev) {
				return false
			}

			s.logger.Debug("new rss entry", "source", source, "title", truncate([]byte(item.Title), 50))
		}
	}
	return true
}

// markSeen records the entry and reports whether it was already known.
func (s *RSSSource) markSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[id] {
		return true
	}
	s.seen[id] = true
	return false
}

func (s *RSSSource) emit(ctx context.Context, ev types.MarketEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

func (s *RSSSource) closeEvents() {
	s.eventsOnce.Do(func() { close(s.events) })
}

// entryID picks the stable identity of a feed entry: GUID, then link,
// then a hash of the title.
func entryID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	h := fnv.New64a()
	h.Write([]byte(item.Title))
	return "title:" + strconv.FormatUint(h.Sum64(), 16)
}
