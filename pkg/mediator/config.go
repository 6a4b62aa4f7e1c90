package mediator

import (
	"errors"

	"github.com/meridian-data/pagestream/pkg/pager"
)

// Config controls the mediator's fetch behavior. The embedded pager
// configuration is forwarded to the per-query pagers.
type Config struct {
	// Pager configures the embedded per-query pager.
	Pager pager.Config
	// Concurrency is the maximum number of parallel remote fetches for
	// missing sub-ranges.
	Concurrency int64
	// FetchFullRangeOnMiss fetches the whole requested range in one call on
	// any miss instead of computing gap ranges.
	FetchFullRangeOnMiss bool
	// EmitOutdatedRecords emits the raw local portion, stale entries
	// included, instead of the stale-filtered one.
	EmitOutdatedRecords bool
	// EmitIntermediateResults emits each remote portion as it lands. Only
	// honored when fetching serially; the parallel path always collects
	// everything first.
	EmitIntermediateResults bool
}

// DefaultConfig returns the default mediator configuration.
func DefaultConfig() Config {
	return Config{
		Pager:                   pager.DefaultConfig(),
		Concurrency:             1,
		EmitIntermediateResults: true,
	}
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if err := c.Pager.Validate(); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return errors.New("invalid concurrency: must be at least 1")
	}
	return nil
}
