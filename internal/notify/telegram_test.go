package notify

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"event-sniper/internal/engine"
	"event-sniper/pkg/types"
)

type fakeSender struct {
	sent    []tgbotapi.Chattable
	sendErr error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.sendErr
}

func testTelegram(s sender) *Telegram {
	return &Telegram{
		bot:    s,
		chatID: 42,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestTradeExecutedPostsMessage(t *testing.T) {
	t.Parallel()
	fake := &fakeSender{}
	tg := testTelegram(fake)

	tg.TradeExecuted(
		types.TradeSignal{TokenID: "tok1", Side: types.BUY, SizeUSDC: 50, Reason: "price below 0.3"},
		types.ExecutionResult{OrderID: "ox1", FilledPrice: 0.52, FilledSize: 96.15},
	)

	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fake.sent))
	}
	msg, ok := fake.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", fake.sent[0])
	}
	if msg.ChatID != 42 {
		t.Errorf("chat ID = %d, want 42", msg.ChatID)
	}
	for _, want := range []string{"BUY", "0.5200", "price below 0.3", "ox1"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestErrorOccurredPostsMessage(t *testing.T) {
	t.Parallel()
	fake := &fakeSender{}
	tg := testTelegram(fake)

	tg.ErrorOccurred(errors.New("venue down"))

	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fake.sent))
	}
	msg := fake.sent[0].(tgbotapi.MessageConfig)
	if !strings.Contains(msg.Text, "venue down") {
		t.Errorf("message missing error text: %s", msg.Text)
	}
}

func TestSignalsAndMetricsAreSilent(t *testing.T) {
	t.Parallel()
	fake := &fakeSender{}
	tg := testTelegram(fake)

	tg.SignalGenerated(types.TradeSignal{TokenID: "tok1"})
	tg.MetricsUpdated(engine.Metrics{EventsProcessed: 5})

	if len(fake.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(fake.sent))
	}
}

func TestSendFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	fake := &fakeSender{sendErr: errors.New("blocked")}
	tg := testTelegram(fake)

	// Must not panic or propagate.
	tg.ErrorOccurred(errors.New("x"))
}
