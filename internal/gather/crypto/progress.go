package crypto

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// progressTracker records which pair/timeframe tasks completed on which day,
// making reruns within the same day no-ops. State lives in a single
// progress.json under the gatherer's data directory.
type progressTracker struct {
	mu   sync.Mutex
	path string

	Completed map[string]string `json:"completed"` // "BTCUSDT/1h" -> completion date
}

// newProgressTracker creates a tracker rooted at dir and loads any existing
// progress file.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}

	pt := &progressTracker{
		path:      filepath.Join(dir, "progress.json"),
		Completed: make(map[string]string),
	}

	data, err := os.ReadFile(pt.path)
	if os.IsNotExist(err) {
		return pt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress file: %w", err)
	}
	if err := json.Unmarshal(data, pt); err != nil {
		return nil, fmt.Errorf("parsing progress file: %w", err)
	}
	if pt.Completed == nil {
		pt.Completed = make(map[string]string)
	}
	return pt, nil
}

func taskKey(pair, timeframe string) string {
	return pair + "/" + timeframe
}

// IsDone reports whether the pair/timeframe task already completed on the
// given date.
func (p *progressTracker) IsDone(pair, timeframe, date string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Completed[taskKey(pair, timeframe)] == date
}

// MarkDone records the task as completed on the given date and flushes the
// progress file.
func (p *progressTracker) MarkDone(pair, timeframe, date string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Completed[taskKey(pair, timeframe)] = date
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("writing progress file: %w", err)
	}
	return nil
}
