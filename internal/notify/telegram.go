package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"event-sniper/internal/engine"
	"event-sniper/pkg/types"
)

// sender is the Telegram API slice used, split out so tests can stub it.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram is an engine observer that posts fills and errors to a chat.
// Signals and metrics are intentionally not forwarded; they are too
// chatty for a phone.
type Telegram struct {
	bot    sender
	chatID int64
	logger *slog.Logger
}

// NewTelegram connects the bot. Fails fast on a bad token so a typo shows
// up at startup, not at the first trade.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: logger.With("component", "telegram"),
	}, nil
}

// SignalGenerated implements engine.Observer.
func (t *Telegram) SignalGenerated(types.TradeSignal) {}

// TradeExecuted implements engine.Observer.
func (t *Telegram) TradeExecuted(signal types.TradeSignal, result types.ExecutionResult) {
	text := fmt.Sprintf("%s %s\n%.2f @ %.4f (%.2f USDC)\n%s\norder %s",
		sideEmoji(signal.Side), signal.Side,
		result.FilledSize, result.FilledPrice, signal.SizeUSDC,
		signal.Reason, result.OrderID)
	t.send(text)
}

// ErrorOccurred implements engine.Observer.
func (t *Telegram) ErrorOccurred(err error) {
	t.send("⚠️ " + err.Error())
}

// MetricsUpdated implements engine.Observer.
func (t *Telegram) MetricsUpdated(engine.Metrics) {}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("telegram send failed", "error", err)
	}
}

func sideEmoji(side types.Side) string {
	if side == types.SELL {
		return "🔴"
	}
	return "🟢"
}
