// Command analyze runs one change-point analysis and prints the snapshot as
// JSON. With -import it instead copies the file price series and the YAML
// event catalog into ClickHouse.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"BrentBreaks/internal/di"
	"BrentBreaks/internal/domain/models"
	internalrepo "BrentBreaks/internal/repository"
	"BrentBreaks/internal/usecase"
	"BrentBreaks/pkg/cache"
	"BrentBreaks/pkg/config"
	xlogger "BrentBreaks/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	importMode := flag.Bool("import", false, "load the price file and event catalog into ClickHouse")
	outPath := flag.String("out", "", "write the snapshot to this file instead of stdout")
	strategy := flag.String("strategy", "", "override analysis.engine.strategy")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *strategy != "" {
		cfg.Analysis.Engine.Strategy = *strategy
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := di.ProvideLogger(cfg, nil)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	if *importMode {
		if err := runImport(ctx, cfg, l); err != nil {
			log.Fatalf("import failed: %v", err)
		}
		return
	}

	snap, err := runOnce(ctx, cfg, l)
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("open output: %v", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		log.Fatalf("encode snapshot: %v", err)
	}
}

// runOnce computes a snapshot in-process. The SQLite archive is used when
// enabled so a later server start serves the same result.
func runOnce(ctx context.Context, cfg *config.Config, l *xlogger.Logger) (*models.Snapshot, error) {
	ch, err := di.ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, err
	}
	if ch != nil {
		defer ch.Close()
	}
	prices, err := di.ProvidePriceSource(cfg, ch, l)
	if err != nil {
		return nil, err
	}
	events, err := di.ProvideEventSource(cfg, ch, l)
	if err != nil {
		return nil, err
	}
	archive, err := di.ProvideSnapshotArchive(cfg, l)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		defer archive.Close()
	}

	mem := cache.NewMemoryCache()
	defer mem.Close()
	opts := []internalrepo.SnapshotStoreOption{internalrepo.WithStoreLogger(l)}
	if archive != nil {
		opts = append(opts, internalrepo.WithArchive(archive))
	}
	store := internalrepo.NewCachedSnapshotStore(mem, opts...)

	dataset := usecase.NewDatasetService(prices, cfg.Data.DateLayouts, cfg.Data.AllowPartial, cfg.Data.CacheTTL, l)
	runner := usecase.NewRunner(dataset, events, store, usecase.WithRunnerLogger(l))
	return runner.Run(ctx, cfg.Analysis)
}

func runImport(ctx context.Context, cfg *config.Config, l *xlogger.Logger) error {
	cfg.ClickHouse.Enabled = true
	ch, err := di.ProvideClickHouseClient(cfg)
	if err != nil {
		return err
	}
	defer ch.Close()

	fileCfg := *cfg
	fileCfg.Data.PriceSource = "file"
	fileCfg.Data.EventSource = "yaml"
	prices, err := di.ProvidePriceSource(&fileCfg, nil, l)
	if err != nil {
		return err
	}
	ds, err := usecase.NewDatasetService(prices, cfg.Data.DateLayouts, cfg.Data.AllowPartial, cfg.Data.CacheTTL, l).Load(ctx)
	if err != nil {
		return err
	}
	if err := internalrepo.NewCHPriceSource(ch, cfg.ClickHouse.PriceTable, l).StoreBatch(ctx, ds.Series.Points, cfg.Data.PriceFile); err != nil {
		return err
	}

	events, err := internalrepo.NewYAMLEventSource(cfg.Data.EventFile, l).Events(ctx, models.EventFilter{})
	if err != nil {
		return err
	}
	if err := internalrepo.NewCHEventSource(ch, cfg.ClickHouse.EventTable, l).StoreBatch(ctx, events); err != nil {
		return err
	}
	l.Info("import complete",
		xlogger.Int("prices", len(ds.Series.Points)),
		xlogger.Int("events", len(events)),
		xlogger.Int("rejected", ds.Report.Rejected()))
	return nil
}
