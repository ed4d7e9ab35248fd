package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"event-sniper/pkg/types"
)

// Journal appends executed fills to per-day JSONL files under a data
// directory. Journal writes are best-effort: an I/O failure is logged and
// trading continues, because the SQLite store remains the system of
// record.
type Journal struct {
	dir    string
	logger *slog.Logger
}

// NewJournal creates the data directory if needed.
func NewJournal(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Journal{dir: dir, logger: logger.With("component", "journal")}, nil
}

type journalEntry struct {
	LoggedAt float64               `json:"logged_at"`
	Signal   types.TradeSignal     `json:"signal"`
	Result   types.ExecutionResult `json:"result"`
}

// Record appends one fill. The file is opened with O_APPEND and closed
// per write, so each line is durable on return and the current day's file
// is always valid JSONL.
func (j *Journal) Record(signal types.TradeSignal, result types.ExecutionResult) {
	entry := journalEntry{
		LoggedAt: float64(time.Now().UnixNano()) / float64(time.Second),
		Signal:   signal,
		Result:   result,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		j.logger.Error("journal marshal failed", "error", err)
		return
	}

	path := j.currentFile()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		j.logger.Error("journal open failed", "path", path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		j.logger.Error("journal write failed", "path", path, "error", err)
	}
}

func (j *Journal) currentFile() string {
	return filepath.Join(j.dir, "trades_"+time.Now().Format("2006-01-02")+".jsonl")
}
