package health

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultFile is where the heartbeat is written when no path is configured.
const DefaultFile = "/tmp/health"

// Heartbeat records that the consumer is still polling. Each Touch refreshes
// the modification time of a file, creating it if needed, so an external
// probe can watch the file, and keeps the time in memory for in-process checks.
type Heartbeat struct {
	path   string
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.RWMutex
	last     time.Time
	warnOnce sync.Once
}

// NewHeartbeat creates a heartbeat writing to path. An empty path disables the
// file and only the in-memory time is kept.
func NewHeartbeat(path string, logger zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		path:   path,
		now:    time.Now,
		logger: logger.With().Str("component", "Heartbeat").Logger(),
	}
}

// Touch records a signal. A failure to write the file is logged once and
// otherwise ignored; the consumer must keep polling regardless.
func (h *Heartbeat) Touch() {
	now := h.now()
	h.mu.Lock()
	h.last = now
	h.mu.Unlock()

	if h.path == "" {
		return
	}
	if err := touchFile(h.path, now); err != nil {
		h.warnOnce.Do(func() {
			h.logger.Warn().Err(err).Str("path", h.path).Msg("Could not update health file.")
		})
	}
}

// Last returns the time of the most recent Touch, zero if there has been none.
func (h *Heartbeat) Last() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Fresh reports whether a signal arrived within maxAge.
func (h *Heartbeat) Fresh(maxAge time.Duration) bool {
	last := h.Last()
	if last.IsZero() {
		return false
	}
	return h.now().Sub(last) <= maxAge
}

// Check returns an error describing a stale or missing heartbeat.
func (h *Heartbeat) Check(maxAge time.Duration) error {
	last := h.Last()
	if last.IsZero() {
		return fmt.Errorf("no heartbeat recorded yet")
	}
	if age := h.now().Sub(last); age > maxAge {
		return fmt.Errorf("last heartbeat %s ago exceeds %s", age.Round(time.Millisecond), maxAge)
	}
	return nil
}

func touchFile(path string, at time.Time) error {
	if err := os.Chtimes(path, at, at); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating health file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(path, at, at)
}
