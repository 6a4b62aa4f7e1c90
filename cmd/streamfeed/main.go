package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Optional .env for local runs; absence is fine.
	_ = godotenv.Load()

	verboseFlag := &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable verbose logging",
	}
	brokersFlag := &cli.StringFlag{
		Name:    "kafka-brokers",
		Usage:   "The Kafka brokers to use (comma-separated list)",
		EnvVars: []string{"KAFKA_BOOTSTRAP_SERVERS"},
		Value:   "localhost:9092",
	}

	app := &cli.App{
		Name:  "streamfeed",
		Usage: "Produce and follow a live positional feed over Kafka",
		Commands: []*cli.Command{
			{
				Name:  "feed",
				Usage: "Publish a synthetic growing dataset onto the stream topics",
				Flags: []cli.Flag{
					verboseFlag,
					brokersFlag,
					&cli.IntFlag{
						Name:    "initial-total",
						Usage:   "The dataset size published at startup",
						EnvVars: []string{"FEED_INITIAL_TOTAL"},
						Value:   1000,
					},
					&cli.IntFlag{
						Name:    "grow-by",
						Usage:   "How many items each growth step appends",
						EnvVars: []string{"FEED_GROW_BY"},
						Value:   10,
					},
					&cli.DurationFlag{
						Name:    "grow-interval",
						Aliases: []string{"i"},
						Usage:   "The interval between growth steps",
						EnvVars: []string{"FEED_GROW_INTERVAL"},
						Value:   2 * time.Second,
					},
				},
				Action: runFeed,
			},
			{
				Name:  "follow",
				Usage: "Run a streaming pager over the stream topics and scroll through it",
				Flags: []cli.Flag{
					verboseFlag,
					brokersFlag,
					&cli.IntFlag{
						Name:    "load-size",
						Usage:   "The width of each chunk subscription",
						EnvVars: []string{"PAGER_LOAD_SIZE"},
						Value:   20,
					},
					&cli.IntFlag{
						Name:    "preload-size",
						Usage:   "The half-width of the subscribed window",
						EnvVars: []string{"PAGER_PRELOAD_SIZE"},
						Value:   60,
					},
					&cli.IntFlag{
						Name:    "cache-size",
						Usage:   "The half-width of the retention window",
						EnvVars: []string{"PAGER_CACHE_SIZE"},
						Value:   100,
					},
					&cli.DurationFlag{
						Name:    "scroll-interval",
						Aliases: []string{"i"},
						Usage:   "The interval between simulated scroll steps",
						EnvVars: []string{"PAGER_SCROLL_INTERVAL"},
						Value:   time.Second,
					},
					&cli.StringFlag{
						Name:    "metrics-addr",
						Aliases: []string{"m"},
						Usage:   "The address of the Prometheus metrics server",
						EnvVars: []string{"METRICS_ADDR"},
						Value:   ":9090",
					},
				},
				Action: runFollow,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
