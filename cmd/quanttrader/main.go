package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	examplestrategy "github.com/CasinoHe/quanttrader-sub000/examples/strategy"
	"github.com/CasinoHe/quanttrader-sub000/internal/broker"
	"github.com/CasinoHe/quanttrader-sub000/internal/cerebro"
	"github.com/CasinoHe/quanttrader-sub000/internal/config"
	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/internal/feed/csvfeed"
	"github.com/CasinoHe/quanttrader-sub000/internal/feed/duckfeed"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/observer"
)

// buildFeed constructs the provider for one configured feed.
func buildFeed(fc config.FeedConfig, log *logger.Logger) (feed.DataProvider, error) {
	granularity, err := feed.ParseGranularity(fc.Granularity)
	if err != nil {
		return nil, err
	}

	switch fc.Kind {
	case "csv":
		return csvfeed.New(csvfeed.Config{
			Path:        fc.Path,
			Symbol:      fc.Symbol,
			Granularity: granularity,
			Timezone:    fc.Timezone,
		}, log)
	case "duckdb":
		return duckfeed.New(duckfeed.Config{
			Path:        fc.Path,
			Symbol:      fc.Symbol,
			Granularity: granularity,
			Timezone:    fc.Timezone,
		}, log)
	default:
		return nil, fmt.Errorf("unknown feed kind %q", fc.Kind)
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	// Composition root: explicit registries, no package-level singletons.
	brokerRegistry := broker.DefaultRegistry()
	engineRegistry := cerebro.DefaultRegistry()

	c := cerebro.New(cfg.CerebroConfig(), brokerRegistry, log)

	for _, fc := range cfg.Feeds {
		provider, err := buildFeed(fc, log)
		if err != nil {
			return err
		}
		// Registering under the symbol lets strategies treat series map
		// keys as symbols.
		if err := c.AddFeed(fc.Symbol, provider); err != nil {
			return err
		}
	}

	perf := observer.NewPerformanceObserver(log)
	c.AddObserver(perf)

	c.AddStrategy(examplestrategy.NewSMACross(
		int(cmd.Int("fast")),
		int(cmd.Int("slow")),
		cmd.Float("quantity"),
		log,
	))

	engine, err := engineRegistry.Create(cfg.CerebroKind, c)
	if err != nil {
		return err
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bar := progressbar.Default(-1, "replaying")
	callbacks := cerebro.RunCallbacks{
		OnStep: func(step int, ts time.Time) {
			_ = bar.Add(1)
			bar.Describe(ts.Format("2006-01-02 15:04"))
		},
		OnRunEnd: func(runID string) {
			_ = bar.Finish()
			log.Info("run complete", zap.String("run_id", runID))
		},
	}

	if err := engine.Run(runCtx, callbacks); err != nil {
		return err
	}

	if cfg.CerebroKind == cerebro.KindLive {
		<-runCtx.Done()
		if err := engine.Stop(); err != nil && err != context.Canceled {
			return err
		}
	}

	if path := cmd.String("report"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := perf.WriteReport(f); err != nil {
			return err
		}
		log.Info("report written", zap.String("path", path))
	}

	return nil
}

func schemaAction(_ context.Context, _ *cli.Command) error {
	data, err := config.SchemaJSON()
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(append(data, '\n'))

	return err
}

func main() {
	cmd := &cli.Command{
		Name:  "quanttrader",
		Usage: "Backtesting and live-trading simulation engine",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run a strategy over the configured feeds",
				Action: runAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the engine configuration YAML",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "report",
						Usage: "Write the performance report YAML to this path",
					},
					&cli.IntFlag{
						Name:  "fast",
						Usage: "Fast moving-average window",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "slow",
						Usage: "Slow moving-average window",
						Value: 30,
					},
					&cli.FloatFlag{
						Name:  "quantity",
						Usage: "Order quantity per signal",
						Value: 100,
					},
				},
			},
			{
				Name:   "schema",
				Usage:  "Print the configuration JSON schema",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
