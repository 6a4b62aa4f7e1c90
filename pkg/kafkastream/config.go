package kafkastream

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

// Default timeout values for the Kafka stream source
const (
	DefaultSessionTimeout  = 45 * time.Second
	DefaultMaxPollInterval = 300 * time.Second
	DefaultFlushTimeout    = 15 * time.Second
)

// StreamConfig holds the configuration for the Kafka stream source.
// The values topic carries one record per position; the totals topic carries
// the current dataset size. Both work best compacted, keyed by position and
// a constant key respectively.
type StreamConfig struct {
	BootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS" envDefault:"localhost:9092"` // Kafka broker addresses
	ValuesTopic      string `env:"KAFKA_VALUES_TOPIC"      envDefault:"paged-values"`   // Topic carrying {position, payload} records
	TotalsTopic      string `env:"KAFKA_TOTALS_TOPIC"      envDefault:"paged-totals"`   // Topic carrying the current dataset size
	GroupPrefix      string `env:"KAFKA_GROUP_PREFIX"      envDefault:"pagestream"`     // Prefix for per-subscription consumer groups
	AutoOffsetReset  string `env:"KAFKA_AUTO_OFFSET_RESET" envDefault:"earliest"`       // Offset reset strategy: "earliest" or "latest"
	EnableLogs       bool   `env:"KAFKA_ENABLE_LOGS"       envDefault:"false"`          // Enable librdkafka client logs
}

// LoadStreamConfig loads Kafka configuration from environment variables
func LoadStreamConfig() StreamConfig {
	var cfg StreamConfig
	if err := env.Parse(&cfg); err != nil {
		// Create a temporary logger for error reporting during config loading
		logger, logErr := zap.NewProduction()
		if logErr == nil {
			logger.Sugar().Errorw("failed to parse kafka stream config", "error", err)
		} else {
			// Fallback to fmt if logger creation fails
			fmt.Fprintf(os.Stderr, "failed to parse kafka stream config: %v\n", err)
		}
		os.Exit(1)
	}
	return cfg
}

// Validate checks the configuration invariants.
func (c StreamConfig) Validate() error {
	if c.BootstrapServers == "" {
		return errors.New("invalid bootstrap servers: must not be empty")
	}
	if c.ValuesTopic == "" {
		return errors.New("invalid values topic: must not be empty")
	}
	if c.TotalsTopic == "" {
		return errors.New("invalid totals topic: must not be empty")
	}
	if c.GroupPrefix == "" {
		return errors.New("invalid group prefix: must not be empty")
	}
	return nil
}
