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

	app := &cli.App{
		Name:  "pagerdemo",
		Usage: "Run a paging mediator over an in-memory dataset and scroll through it",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the demo",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Enable verbose logging",
					},
					&cli.StringFlag{
						Name:    "query",
						Aliases: []string{"q"},
						Usage:   "The query key the demo pages through",
						EnvVars: []string{"PAGER_QUERY"},
						Value:   "orders",
					},
					&cli.IntFlag{
						Name:    "total",
						Aliases: []string{"t"},
						Usage:   "The size of the simulated remote dataset",
						EnvVars: []string{"PAGER_TOTAL"},
						Value:   10_000,
					},
					&cli.IntFlag{
						Name:    "load-size",
						Usage:   "The width of each fetch chunk",
						EnvVars: []string{"PAGER_LOAD_SIZE"},
						Value:   20,
					},
					&cli.IntFlag{
						Name:    "preload-size",
						Usage:   "The half-width of the preload window",
						EnvVars: []string{"PAGER_PRELOAD_SIZE"},
						Value:   60,
					},
					&cli.IntFlag{
						Name:    "cache-size",
						Usage:   "The half-width of the retention window",
						EnvVars: []string{"PAGER_CACHE_SIZE"},
						Value:   100,
					},
					&cli.Int64Flag{
						Name:    "concurrency",
						Aliases: []string{"c"},
						Usage:   "The maximum parallel remote fetches for missing sub-ranges",
						EnvVars: []string{"PAGER_CONCURRENCY"},
						Value:   1,
					},
					&cli.DurationFlag{
						Name:    "remote-delay",
						Usage:   "The simulated latency of each remote fetch",
						EnvVars: []string{"PAGER_REMOTE_DELAY"},
						Value:   50 * time.Millisecond,
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
				Action: run,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
