package usecase

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/samber/lo/mutable"

	"babelmic/internal/domain"
)

// LatencyLog is an append-only record of completed turns.
type LatencyLog struct {
	mu      sync.RWMutex
	entries []domain.LogEntry
}

func NewLatencyLog() *LatencyLog {
	return &LatencyLog{}
}

func (l *LatencyLog) Append(entry domain.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Export returns a chronological snapshot.
func (l *LatencyLog) Export() []domain.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

// Display returns a newest-first snapshot.
func (l *LatencyLog) Display() []domain.LogEntry {
	entries := l.Export()
	mutable.Reverse(entries)
	return entries
}

// IsEmpty reports whether the log table should show its placeholder.
func (l *LatencyLog) IsEmpty() bool {
	return l.Len() == 0
}

func (l *LatencyLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// WriteJSON serializes the chronological export.
func (l *LatencyLog) WriteJSON(w io.Writer) error {
	entries := l.Export()
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode latency log: %w", err)
	}
	return nil
}

var csvHeader = []string{"time", "pair", "trigger", "source", "translation", "stt", "mt", "tts", "total"}

// WriteCSV serializes the chronological export using the log table columns.
func (l *LatencyLog) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write latency log header: %w", err)
	}
	for _, entry := range l.Export() {
		record := []string{
			entry.Timestamp.Format(time.RFC3339),
			entry.Pair(),
			string(entry.Trigger),
			entry.SourceText,
			entry.TranslatedText,
			formatSeconds(lo.FromPtr(entry.STTSeconds)),
			formatSeconds(entry.MTSeconds),
			formatSeconds(lo.FromPtr(entry.TTSSeconds)),
			formatSeconds(entry.Total()),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write latency log entry: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}
