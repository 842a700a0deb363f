package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultJanitorInterval is how often the janitor sweeps for expired
// sessions between contacts.
const DefaultJanitorInterval = 5 * time.Minute

// Janitor periodically drops expired sessions, so senders who never return
// don't pin memory until the next GetOrCreate.
type Janitor struct {
	manager  *Manager
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	running  bool
}

// NewJanitor creates a janitor for the manager. Interval zero falls back to
// the default.
func NewJanitor(manager *Manager, interval time.Duration, logger zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}

	return &Janitor{
		manager:  manager,
		interval: interval,
		logger:   logger.With().Str("component", "session-janitor").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (j *Janitor) Start() error {
	if j.running {
		return fmt.Errorf("janitor is already running")
	}

	j.running = true
	go j.run()

	j.logger.Info().Dur("interval", j.interval).Msg("Session janitor started")
	return nil
}

// Stop stops the sweep loop.
func (j *Janitor) Stop() error {
	if !j.running {
		return fmt.Errorf("janitor is not running")
	}

	close(j.stopCh)
	j.running = false

	j.logger.Info().Msg("Session janitor stopped")
	return nil
}

// IsRunning reports whether the sweep loop is active.
func (j *Janitor) IsRunning() bool {
	return j.running
}

func (j *Janitor) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := j.manager.CleanupExpired(); n > 0 {
				j.logger.Debug().Int("expired", n).Msg("Janitor sweep removed sessions")
			}
		case <-j.stopCh:
			return
		}
	}
}
