package ingest

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"event-sniper/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waitEvent reads one event from the stream or fails the test.
func waitEvent(t *testing.T, ch <-chan types.MarketEvent) types.MarketEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("stream closed while waiting for event")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return types.MarketEvent{}
}

// waitClosed asserts the stream closes (draining any residual events).
func waitClosed(t *testing.T, ch <-chan types.MarketEvent) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func TestManualSourceInjectAndStream(t *testing.T) {
	t.Parallel()

	src := NewManualSource("", testLogger())
	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer src.Disconnect()

	if !src.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}

	if err := src.InjectEvent("big headline", "", ""); err != nil {
		t.Fatalf("InjectEvent: %v", err)
	}

	ev := waitEvent(t, src.Stream())
	if ev.Type != types.EventNews {
		t.Errorf("Type = %s, want NEWS (default)", ev.Type)
	}
	if ev.Content != "big headline" {
		t.Errorf("Content = %q", ev.Content)
	}
	if ev.Source != "manual" {
		t.Errorf("Source = %q, want default \"manual\"", ev.Source)
	}
}

func TestManualSourceBuffersBeforeConnect(t *testing.T) {
	t.Parallel()

	src := NewManualSource("ops", testLogger())

	if err := src.InjectEvent("queued before connect", "", types.EventSocial); err != nil {
		t.Fatalf("InjectEvent before Connect: %v", err)
	}

	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer src.Disconnect()

	ev := waitEvent(t, src.Stream())
	if ev.Type != types.EventSocial || ev.Source != "ops" {
		t.Errorf("event = %+v, want SOCIAL from ops", ev)
	}
}

func TestManualSourceRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	src := NewManualSource("", testLogger())
	if err := src.InjectEvent("", "feed", types.EventNews); err == nil {
		t.Error("InjectEvent with empty content: want error, got nil")
	}
}

func TestManualSourceDisconnect(t *testing.T) {
	t.Parallel()

	src := NewManualSource("", testLogger())
	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := src.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if src.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}

	waitClosed(t, src.Stream())

	if err := src.InjectEvent("late", "", ""); err == nil {
		t.Error("InjectEvent after Disconnect: want error, got nil")
	}
	if err := src.Err(); err != nil {
		t.Errorf("Err() = %v, want nil for clean shutdown", err)
	}

	// Second Disconnect is a no-op.
	if err := src.Disconnect(); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
}

func TestManualSourceConfigure(t *testing.T) {
	t.Parallel()

	src := NewManualSource("", testLogger())
	if err := src.Configure([]string{"twitter", "reuters"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
}
