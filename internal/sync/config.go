package sync

import (
	"fmt"
	"time"

	"github.com/matheus3301/offsync/internal/conflict"
)

// Cleanup controls what happens to completed queue items.
type Cleanup string

const (
	// CleanupSweep deletes completed items at the end of every run.
	CleanupSweep Cleanup = "sweep"
	// CleanupKeep leaves completed items until ClearCompletedQueue.
	CleanupKeep Cleanup = "keep"
)

// Config tunes the orchestrator.
type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	PollInterval   time.Duration
	Cleanup        Cleanup
	// ConflictFallback resolves conflicts that are not auto-resolvable.
	// conflict.Manual leaves them pending for the user.
	ConflictFallback conflict.Strategy
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       5,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		JitterFraction:   0.2,
		PollInterval:     30 * time.Second,
		Cleanup:          CleanupSweep,
		ConflictFallback: conflict.LatestWins,
	}
}

// Validate reports the first nonsensical setting.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	case c.BaseDelay <= 0:
		return fmt.Errorf("base delay must be positive, got %s", c.BaseDelay)
	case c.MaxDelay < c.BaseDelay:
		return fmt.Errorf("max delay %s is below base delay %s", c.MaxDelay, c.BaseDelay)
	case c.JitterFraction < 0 || c.JitterFraction > 1:
		return fmt.Errorf("jitter fraction must be within [0, 1], got %g", c.JitterFraction)
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	switch c.Cleanup {
	case CleanupSweep, CleanupKeep:
	default:
		return fmt.Errorf("unknown cleanup policy %q", c.Cleanup)
	}
	if _, err := conflict.ParseStrategy(string(c.ConflictFallback)); err != nil {
		return err
	}
	return nil
}
