package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"event-sniper/pkg/types"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>http://example.com</link>
    <description>fixture</description>
    <item>
      <title>Fed announces surprise rate cut</title>
      <link>http://example.com/rate-cut</link>
      <guid>guid-1</guid>
    </item>
  </channel>
</rss>`

func rssServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssFixture))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRSSSourcePollsAndDeduplicates(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := rssServer(t, &hits)

	src := NewRSSSource(20*time.Millisecond, testLogger())
	if err := src.Configure([]string{srv.URL}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ev := waitEvent(t, src.Stream())
	if ev.Type != types.EventNews {
		t.Errorf("Type = %s, want NEWS", ev.Type)
	}
	if ev.Content != "Fed announces surprise rate cut" {
		t.Errorf("Content = %q, want entry title", ev.Content)
	}
	if ev.Source != "Test Feed" {
		t.Errorf("Source = %q, want feed title", ev.Source)
	}
	if ev.RawData["guid"] != "guid-1" || ev.RawData["link"] != "http://example.com/rate-cut" {
		t.Errorf("RawData = %v", ev.RawData)
	}

	// Let several more polls land; the same entry must not repeat.
	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("feed was not re-polled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case dup, ok := <-src.Stream():
		if ok {
			t.Errorf("duplicate entry emitted: %+v", dup)
		}
	default:
	}

	if err := src.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	waitClosed(t, src.Stream())
}

func TestRSSSourceFeedIsolation(t *testing.T) {
	t.Parallel()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)
	good := rssServer(t, nil)

	// The failing feed is listed first; the healthy one must still emit.
	src := NewRSSSource(time.Hour, testLogger())
	if err := src.Configure([]string{bad.URL, good.URL}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer src.Disconnect()

	ev := waitEvent(t, src.Stream())
	if ev.Source != "Test Feed" {
		t.Errorf("Source = %q, want the healthy feed's title", ev.Source)
	}
}

func TestRSSSourceInjectEvent(t *testing.T) {
	t.Parallel()

	src := NewRSSSource(time.Hour, testLogger())
	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer src.Disconnect()

	if err := src.InjectEvent("breaking: acquisition confirmed", "", ""); err != nil {
		t.Fatalf("InjectEvent: %v", err)
	}

	ev := waitEvent(t, src.Stream())
	if ev.Type != types.EventNews {
		t.Errorf("Type = %s, want NEWS default", ev.Type)
	}
	if ev.Source != "manual" {
		t.Errorf("Source = %q, want manual default", ev.Source)
	}
	if ev.Content != "breaking: acquisition confirmed" {
		t.Errorf("Content = %q", ev.Content)
	}
}

func TestRSSSourceRejectsEmptyContent(t *testing.T) {
	t.Parallel()

	src := NewRSSSource(time.Hour, testLogger())
	if err := src.InjectEvent("", "wire", types.EventNews); err == nil {
		t.Error("InjectEvent with empty content should fail")
	}
}

func TestEntryID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		item gofeed.Item
		want string
	}{
		{"guid wins", gofeed.Item{GUID: "g1", Link: "l1", Title: "t1"}, "g1"},
		{"link fallback", gofeed.Item{Link: "l1", Title: "t1"}, "l1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := entryID(&tt.item); got != tt.want {
				t.Errorf("entryID() = %q, want %q", got, tt.want)
			}
		})
	}

	// Title-only entries hash to a stable synthetic ID.
	a := entryID(&gofeed.Item{Title: "only title"})
	b := entryID(&gofeed.Item{Title: "only title"})
	c := entryID(&gofeed.Item{Title: "different"})
	if a != b {
		t.Errorf("hash IDs differ for identical titles: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("hash IDs collide for different titles: %q", a)
	}
	if !strings.HasPrefix(a, "title:") {
		t.Errorf("hash ID = %q, want title: prefix", a)
	}
}
