package soar

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orion-sentinel/netsec/internal/platform/errs"
)

// HighWaterMark is a durable, at-least-once-persisted cursor into the event
// stream. It is global across trigger types rather than tracked per type.
type HighWaterMark struct {
	path string
	mu   sync.Mutex
	mark time.Time
}

type hwmFile struct {
	Mark time.Time `json:"mark"`
}

// OpenHighWaterMark loads the persisted mark from path, bounding it to
// now-maxReplayAge to avoid a replay storm after a long outage.
func OpenHighWaterMark(path string, maxReplayAge time.Duration) (*HighWaterMark, error) {
	h := &HighWaterMark{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		h.mark = time.Now().Add(-maxReplayAge)
		return h, nil
	}
	if err != nil {
		return nil, errs.Wrap("read high-water-mark", err)
	}

	var f hwmFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errs.Wrap("parse high-water-mark", err)
	}

	floor := time.Now().Add(-maxReplayAge)
	if f.Mark.Before(floor) {
		f.Mark = floor
	}
	h.mark = f.Mark
	return h, nil
}

// Get returns the current mark.
func (h *HighWaterMark) Get() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mark
}

// Advance persists ts as the new mark if it is after the current one.
// Persistence is at-least-once: a failed write leaves the in-memory mark
// unchanged so the next successful tick retries the same persist.
func (h *HighWaterMark) Advance(ts time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !ts.After(h.mark) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return errs.Wrap("create high-water-mark directory", err)
	}
	data, err := json.Marshal(hwmFile{Mark: ts})
	if err != nil {
		return err
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap("write high-water-mark", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return errs.Wrap("rename high-water-mark", err)
	}
	h.mark = ts
	return nil
}
