package store

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-sniper/pkg/types"
)

func TestJournalRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j, err := NewJournal(dir, logger)
	require.NoError(t, err)

	signal := types.TradeSignal{
		TokenID:   "tok1",
		Side:      types.BUY,
		SizeUSDC:  50,
		Reason:    "price below 0.3",
		Timestamp: time.Now(),
	}
	result := types.ExecutionResult{
		OrderID:     "ox1",
		Status:      types.StatusFilled,
		FilledPrice: 0.52,
		FilledSize:  96.15,
		ExecutedAt:  time.Now(),
	}

	j.Record(signal, result)
	j.Record(signal, result)

	path := filepath.Join(dir, "trades_"+time.Now().Format("2006-01-02")+".jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
		var entry struct {
			LoggedAt float64               `json:"logged_at"`
			Signal   types.TradeSignal     `json:"signal"`
			Result   types.ExecutionResult `json:"result"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), "each line must be standalone JSON")
		assert.Equal(t, "tok1", entry.Signal.TokenID)
		assert.Equal(t, "ox1", entry.Result.OrderID)
		assert.InDelta(t, float64(time.Now().Unix()), entry.LoggedAt, 5)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestJournalSurvivesUnwritableDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j, err := NewJournal(dir, logger)
	require.NoError(t, err)

	// Make the directory unwritable; Record must not panic or error out.
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	j.Record(types.TradeSignal{TokenID: "tok1", Side: types.BUY}, types.ExecutionResult{OrderID: "ox1"})
}
