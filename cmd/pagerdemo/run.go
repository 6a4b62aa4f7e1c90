package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-data/pagestream/pkg/data/memory"
	"github.com/meridian-data/pagestream/pkg/mediator"
	"github.com/meridian-data/pagestream/pkg/metrics"
	"github.com/meridian-data/pagestream/pkg/pager"
	"github.com/meridian-data/pagestream/pkg/utils"
	"go.uber.org/zap"
)

// order is the demo item type served by the simulated remote.
type order struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

func run(c *cli.Context) error {
	verbose := c.Bool("verbose")
	query := c.String("query")
	total := c.Int("total")
	concurrency := c.Int64("concurrency")
	remoteDelay := c.Duration("remote-delay")
	scrollInterval := c.Duration("scroll-interval")
	metricsAddr := c.String("metrics-addr")

	sugar, err := utils.NewSugaredLogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"query", query,
		"total", total,
		"concurrency", concurrency,
		"remoteDelay", remoteDelay,
		"scrollInterval", scrollInterval,
		"metricsAddr", metricsAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{Dataset: query})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	metricsServer := metrics.NewServer(utils.ComponentLogger(sugar, "metrics"), metricsAddr, registry)

	remote := memory.NewDataset(total, func(k int) order {
		return order{ID: k, Label: fmt.Sprintf("order-%06d", k)}
	})
	remote.SetDelay(remoteDelay)
	local := memory.NewCache[order]()

	cfg := mediator.DefaultConfig()
	cfg.Pager.LoadSize = c.Int("load-size")
	cfg.Pager.PreloadSize = c.Int("preload-size")
	cfg.Pager.CacheSize = c.Int("cache-size")
	cfg.Concurrency = concurrency

	med, err := mediator.New[order, string](utils.ComponentLogger(sugar, "mediator"), cfg, local, remote, nil, m)
	if err != nil {
		return fmt.Errorf("failed to create mediator: %w", err)
	}
	p, err := med.NewPager(query)
	if err != nil {
		return fmt.Errorf("failed to create pager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		return metricsServer.Run(gctx)
	})
	g.Go(func() error {
		return scroll(gctx, sugar, p, total, scrollInterval)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		return nil
	}
	if err != nil {
		sugar.Errorw("run failed", "error", err)
		return err
	}

	sugar.Info("shutting down")
	return nil
}

// scroll simulates a consumer walking through the dataset: steady forward
// reads with an occasional far jump, logging the window after each step.
func scroll(
	ctx context.Context,
	sugar *zap.SugaredLogger,
	p *pager.Pager[order],
	total int,
	interval time.Duration,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	position := 0
	step := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap := p.Snapshot()
		item := snap.Get(position)
		sugar.Infow("scroll",
			"position", position,
			"loaded", item.Loaded,
			"total", snap.TotalSize(),
			"first", snap.FirstKey(),
			"last", snap.LastKey(),
			"cached", snap.Len(),
			"state", snap.LoadState().Status.String(),
		)

		step++
		if step%10 == 0 {
			// Occasional far jump to exercise supersession and eviction.
			position = (position + total/3) % total
		} else {
			position = (position + 7) % total
		}
	}
}
