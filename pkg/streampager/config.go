package streampager

import (
	"errors"
	"time"
)

// Defaults for the streaming pager window geometry.
const (
	DefaultLoadSize    = 20
	DefaultPreloadSize = 60
	DefaultCacheSize   = 100
	DefaultKeyDebounce = 300 * time.Millisecond
)

// Config controls the streaming pager's subscription window.
type Config struct {
	// LoadSize is the width of each chunk-aligned subscription.
	LoadSize int
	// PreloadSize is the half-width of the window kept subscribed around the
	// last accessed position.
	PreloadSize int
	// CacheSize is the half-width of the retention window applied on every
	// merge.
	CacheSize int
	// CloseThreshold is how far beyond the active window a subscription must
	// fall before it is closed. DefaultConfig sets it to LoadSize.
	CloseThreshold int
	// KeyDebounce is applied to access events before window adjustment.
	KeyDebounce time.Duration
}

// DefaultConfig returns the default streaming pager configuration.
func DefaultConfig() Config {
	return Config{
		LoadSize:       DefaultLoadSize,
		PreloadSize:    DefaultPreloadSize,
		CacheSize:      DefaultCacheSize,
		CloseThreshold: DefaultLoadSize,
		KeyDebounce:    DefaultKeyDebounce,
	}
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.LoadSize <= 0 {
		return errors.New("invalid load size: must be greater than 0")
	}
	if c.PreloadSize < 0 {
		return errors.New("invalid preload size: must not be negative")
	}
	if c.CacheSize < 0 {
		return errors.New("invalid cache size: must not be negative")
	}
	if c.CloseThreshold < 0 {
		return errors.New("invalid close threshold: must not be negative")
	}
	if c.KeyDebounce < 0 {
		return errors.New("invalid key debounce: must not be negative")
	}
	return nil
}
