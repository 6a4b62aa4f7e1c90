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

	"github.com/meridian-data/pagestream/pkg/kafkastream"
	"github.com/meridian-data/pagestream/pkg/metrics"
	"github.com/meridian-data/pagestream/pkg/streampager"
	"github.com/meridian-data/pagestream/pkg/utils"
	"go.uber.org/zap"
)

// item is the demo payload carried on the values topic.
type item struct {
	Position int    `json:"position"`
	Label    string `json:"label"`
}

func newItem(k int) item {
	return item{Position: k, Label: fmt.Sprintf("item-%06d", k)}
}

// runFeed publishes a synthetic dataset onto the stream topics and keeps
// growing it until interrupted.
func runFeed(c *cli.Context) error {
	verbose := c.Bool("verbose")
	initialTotal := c.Int("initial-total")
	growBy := c.Int("grow-by")
	growInterval := c.Duration("grow-interval")

	sugar, err := utils.NewSugaredLogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	cfg := kafkastream.LoadStreamConfig()
	cfg.BootstrapServers = c.String("kafka-brokers")

	sugar.Infow("config",
		"brokers", cfg.BootstrapServers,
		"valuesTopic", cfg.ValuesTopic,
		"totalsTopic", cfg.TotalsTopic,
		"initialTotal", initialTotal,
		"growBy", growBy,
		"growInterval", growInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feeder, err := kafkastream.NewFeeder[item](ctx, cfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to create feeder: %w", err)
	}
	defer feeder.Close(kafkastream.DefaultFlushTimeout)

	total := initialTotal
	for k := 0; k < total; k++ {
		if err := feeder.PublishValue(ctx, k, newItem(k)); err != nil {
			return fmt.Errorf("failed to publish value at %d: %w", k, err)
		}
	}
	if err := feeder.PublishTotal(ctx, total); err != nil {
		return fmt.Errorf("failed to publish total: %w", err)
	}
	sugar.Infow("initial dataset published", "total", total)

	ticker := time.NewTicker(growInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sugar.Info("shutting down")
			return nil
		case err := <-feeder.Errors():
			if err != nil {
				return err
			}
		case <-ticker.C:
			for k := total; k < total+growBy; k++ {
				if err := feeder.PublishValue(ctx, k, newItem(k)); err != nil {
					return fmt.Errorf("failed to publish value at %d: %w", k, err)
				}
			}
			total += growBy
			if err := feeder.PublishTotal(ctx, total); err != nil {
				return fmt.Errorf("failed to publish total: %w", err)
			}
			sugar.Infow("dataset grown", "total", total)
		}
	}
}

// runFollow runs a streaming pager over the stream topics and scrolls
// through it, logging the window after each step.
func runFollow(c *cli.Context) error {
	verbose := c.Bool("verbose")
	scrollInterval := c.Duration("scroll-interval")
	metricsAddr := c.String("metrics-addr")

	sugar, err := utils.NewSugaredLogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	srcCfg := kafkastream.LoadStreamConfig()
	srcCfg.BootstrapServers = c.String("kafka-brokers")

	cfg := streampager.DefaultConfig()
	cfg.LoadSize = c.Int("load-size")
	cfg.PreloadSize = c.Int("preload-size")
	cfg.CacheSize = c.Int("cache-size")
	cfg.CloseThreshold = cfg.LoadSize

	sugar.Infow("config",
		"brokers", srcCfg.BootstrapServers,
		"valuesTopic", srcCfg.ValuesTopic,
		"totalsTopic", srcCfg.TotalsTopic,
		"loadSize", cfg.LoadSize,
		"preloadSize", cfg.PreloadSize,
		"cacheSize", cfg.CacheSize,
		"scrollInterval", scrollInterval,
		"metricsAddr", metricsAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{Dataset: srcCfg.ValuesTopic})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	metricsServer := metrics.NewServer(utils.ComponentLogger(sugar, "metrics"), metricsAddr, registry)

	source, err := kafkastream.NewSource[item](utils.ComponentLogger(sugar, "kafkastream"), srcCfg)
	if err != nil {
		return fmt.Errorf("failed to create stream source: %w", err)
	}
	sp, err := streampager.New[item](utils.ComponentLogger(sugar, "streampager"), cfg, source, m)
	if err != nil {
		return fmt.Errorf("failed to create streaming pager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sp.Run(gctx)
	})
	g.Go(func() error {
		return metricsServer.Run(gctx)
	})
	g.Go(func() error {
		return follow(gctx, sugar, sp, scrollInterval)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		return nil
	}
	if err != nil {
		sugar.Errorw("follow failed", "error", err)
		return err
	}

	sugar.Info("shutting down")
	return nil
}

// follow walks forward through the live dataset, wrapping around when it
// reaches the current end.
func follow(
	ctx context.Context,
	sugar *zap.SugaredLogger,
	sp *streampager.StreamingPager[item],
	interval time.Duration,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	position := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap := sp.Snapshot()
		if snap.TotalSize() == 0 {
			sugar.Infow("waiting for the first total")
			sp.Access(0)
			continue
		}

		it := snap.Get(position)
		sugar.Infow("follow",
			"position", position,
			"loaded", it.Loaded,
			"label", it.Value.Label,
			"total", snap.TotalSize(),
			"first", snap.FirstKey(),
			"last", snap.LastKey(),
			"cached", snap.Len(),
			"state", snap.LoadState().Status.String(),
		)

		position = (position + 7) % snap.TotalSize()
	}
}
