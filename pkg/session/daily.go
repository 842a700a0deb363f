package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/nara/internal/observability"
	"github.com/rs/zerolog"
)

// dailyTimestampLayout matches the entry headers already present in daily
// logs; changing it would fork the file format.
const dailyTimestampLayout = "2006-01-02T15:04:05"

// DailyLog appends session summaries to per-day Markdown files. The files
// live under the memory root, so the memory sync pass indexes them like any
// other note.
type DailyLog struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewDailyLog creates a daily log writer rooted at dir, typically
// <memory root>/daily.
func NewDailyLog(dir string, logger zerolog.Logger) *DailyLog {
	return &DailyLog{
		dir:    dir,
		logger: logger.With().Str("component", "daily-log").Logger(),
	}
}

// Append writes one session summary entry to the day file for ts, creating
// the directory and file on first use.
func (d *DailyLog) Append(ts time.Time, querySummary, responseSummary string, decisions []string) error {
	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("failed to create daily log directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n## %s\n", ts.Format(dailyTimestampLayout))
	fmt.Fprintf(&b, "**Query:** %s\n", querySummary)
	fmt.Fprintf(&b, "**Response:** %s\n", responseSummary)
	if len(decisions) > 0 {
		b.WriteString("**Decisions:**\n")
		for _, dec := range decisions {
			fmt.Fprintf(&b, "- %s\n", dec)
		}
	}
	b.WriteString("---\n")

	path := d.Path(ts)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open daily log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write daily log: %w", err)
	}

	d.logger.Debug().Str("file", filepath.Base(path)).Msg("Daily log entry appended")
	return nil
}

// Path returns the day file that an entry with timestamp ts lands in.
func (d *DailyLog) Path(ts time.Time) string {
	return filepath.Join(d.dir, ts.Format("2006-01-02")+".md")
}
