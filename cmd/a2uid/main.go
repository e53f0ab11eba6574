package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/g960059/a2ui/internal/config"
	"github.com/g960059/a2ui/internal/daemon"
	"github.com/g960059/a2ui/internal/db"
	"github.com/g960059/a2ui/internal/ingest"
	"github.com/g960059/a2ui/internal/widgets"
	"github.com/g960059/a2ui/internal/wire"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "YAML config file")
	socketPath := flag.String("socket", "", "UDS path for a2uid (overrides config)")
	dbPath := flag.String("db", "", "SQLite path (overrides config)")
	noValidate := flag.Bool("no-validate", false, "skip JSON schema validation of inbound messages")
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *noValidate {
		cfg.ValidateMessages = false
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

// run opens the store and serves until ctx ends.
func run(ctx context.Context, cfg config.Config) error {
	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		return err
	}

	codec, err := wire.NewCodec(cfg.ValidateMessages, cfg.MaxMessageBytes)
	if err != nil {
		return err
	}
	registry := widgets.NewRegistry(store, codec)
	engine := ingest.NewEngineWithWidgets(ctx, store, cfg, registry)
	defer engine.Close()

	srv := daemon.NewServerWithDeps(cfg, engine, registry, codec)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		runRetentionLoop(gctx, engine, loopInterval(cfg.RetentionInterval, time.Hour), time.Now)
		return nil
	})
	return g.Wait()
}

// runRetentionLoop purges the journal once immediately and then on every
// tick until ctx ends.
func runRetentionLoop(ctx context.Context, engine *ingest.Engine, interval time.Duration, now func() time.Time) {
	purge := func() {
		if err := engine.PurgeJournal(ctx, now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("[daemon] retention purge failed: %v", err)
		}
	}

	purge()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

func loopInterval(interval, fallback time.Duration) time.Duration {
	if interval <= 0 {
		return fallback
	}
	return interval
}

func fatal(err error) {
	glog.Errorf("[daemon] %v", err)
	glog.Flush()
	_, _ = fmt.Fprintf(os.Stderr, "a2uid: %v\n", err)
	os.Exit(1)
}
