// Package ledger implements the append-only activity log. Each entry
// is one JSON line appended with O_APPEND, so concurrent writers never
// interleave or truncate entries and no read-modify-write ever touches
// the file.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mkhumalo/drivelock/internal/models"
)

// ErrUnavailable is returned after bounded local retries have failed.
// Losing a security log entry silently is worse than failing loudly.
var ErrUnavailable = errors.New("ledger: unavailable")

const (
	ledgerFile    = "access_log.jsonl"
	appendRetries = 3
	retryBackoff  = 50 * time.Millisecond
)

// Ledger is the append-only store of access and GPS events.
type Ledger struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

// New creates a ledger persisting under dir.
func New(dir string, log *zap.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Ledger{path: filepath.Join(dir, ledgerFile), log: log}, nil
}

// Append writes one entry to the ledger. Transient I/O errors are
// retried a bounded number of times before ErrUnavailable surfaces.
// A zero Timestamp is stamped under the write lock, so stamp order
// and file order agree and stored timestamps stay non-decreasing
// within the process; each entry goes out as a single write.
func (l *Ledger) Append(entry models.AccessLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	line = append(line, '\n')

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff)
		}
		if lastErr = l.appendOnce(line); lastErr == nil {
			return nil
		}
		l.log.Warn("ledger append failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (l *Ledger) appendOnce(line []byte) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(line)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// Tail returns up to limit entries, most recent first, optionally
// filtered by status. limit <= 0 means no bound.
func (l *Ledger) Tail(status models.DecisionStatus, limit int) ([]models.AccessLogEntry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if status != "" {
		kept := entries[:0]
		for _, e := range entries {
			if e.Status == status {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	// Reverse to most-recent-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// CountByStatus returns the total entry count plus counts of granted
// and denied decisions, for the stats surface.
func (l *Ledger) CountByStatus() (total, granted, denied int, err error) {
	entries, err := l.readAll()
	if err != nil {
		return 0, 0, 0, err
	}
	for _, e := range entries {
		switch e.Status {
		case models.DecisionGranted:
			granted++
		case models.DecisionDenied:
			denied++
		}
	}
	return len(entries), granted, denied, nil
}

func (l *Ledger) readAll() ([]models.AccessLogEntry, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return []models.AccessLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var entries []models.AccessLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e models.AccessLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn final line can only come from a crash mid-append;
			// earlier entries remain valid.
			l.log.Warn("skipping unparseable ledger line", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	if entries == nil {
		entries = []models.AccessLogEntry{}
	}
	return entries, nil
}
