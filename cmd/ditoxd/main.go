// Command ditoxd is a minimal daemon that wires together the clip store,
// capture watcher, and sync engine: structured logging setup,
// context-cancel-on-signal shutdown, and a bounded grace period for
// in-flight work to settle. It does not implement a full CLI surface
// (list/search/export/etc.); that front end lives elsewhere.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/ditox-dev/ditox/blobstore"
	"github.com/ditox-dev/ditox/config"
	"github.com/ditox-dev/ditox/ditoxerr"
	"github.com/ditox-dev/ditox/driver"
	"github.com/ditox-dev/ditox/eventlog"
	"github.com/ditox-dev/ditox/store"
	"github.com/ditox-dev/ditox/syncengine"
	"github.com/ditox-dev/ditox/telemetry"
	"github.com/ditox-dev/ditox/watcher"

	"github.com/prometheus/client_golang/prometheus"
)

var log = logrus.New()

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	pushOnly := flag.Bool("push-only", false, "run only sync pushes")
	pullOnly := flag.Bool("pull-only", false, "run only sync pulls")
	flag.Parse()

	log.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if err := run(*pushOnly, *pullOnly); err != nil {
		log.WithError(err).Fatal("ditoxd exited with error")
	}
}

func run(pushOnly, pullOnly bool) error {
	settings, err := config.Load(config.SettingsPath(), config.Overrides{})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(config.ConfigRoot(), 0o700); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create config root", err)
	}
	if err := os.MkdirAll(config.StateRoot(), 0o700); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create state root", err)
	}

	blobs, err := blobstore.Open(settings.BlobRoot())
	if err != nil {
		return err
	}

	budget, err := blobstore.OpenBudget(settings.BudgetPath())
	if err != nil {
		return err
	}
	defer budget.Close()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	clipStore, err := store.Open(store.Config{
		Path:      settings.DBPath(),
		BlobStore: blobs,
		Budget:    budget,
		Logger:    log,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	defer clipStore.Close()

	events, err := eventlog.Open(config.StateRoot()+"/events.bolt", 1000)
	if err != nil {
		return err
	}
	defer events.Close()

	if check, err := clipStore.SelfCheck(); err != nil {
		log.WithError(err).Warn("self-check failed")
	} else {
		log.WithFields(logrus.Fields{
			"fts":              check.FTS,
			"device_id":        check.DeviceID,
			"blob_budget_bytes": check.BlobBudget,
		}).Info("self-check complete")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var capture *watcher.Watcher
	if settings.Capture.Mode == "managed" {
		capture = watcher.New(watcher.Config{
			Driver:         driver.Noop{}, // platform backend selection lives outside this module
			Store:          clipStore,
			Logger:         log,
			Metrics:        metrics,
			LockPath:       config.LockPath(),
			SampleInterval: settings.SampleInterval(),
			CaptureImages:  settings.Capture.Images,
			ImageCapBytes:  settings.Capture.ImageCapBytes,
		})
		if err := capture.Start(ctx); err != nil {
			if ditoxerr.Is(err, ditoxerr.Unavailable) {
				log.WithError(err).Warn("capture watcher not started")
			} else {
				return err
			}
		} else {
			defer capture.Stop()
		}
	}

	if settings.Sync.Enabled && settings.Storage.Backend == "remote" {
		go runSyncLoop(ctx, clipStore, settings, metrics, events, pushOnly, pullOnly)
	}

	log.Info("ditoxd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig).Info("received shutdown signal")

	cancel()
	time.Sleep(200 * time.Millisecond) // let the watcher tick loop observe cancellation
	log.Info("shutdown complete")
	return nil
}

// runSyncLoop drives periodic push/pull against the configured remote.
// The remote only needs to expose a SQL-addressable clips table, so
// settings.Storage.URL is opened with the same modernc.org/sqlite driver
// used for the local store; a remote replica reachable over a mounted or
// synced path satisfies that contract without a network driver.
func runSyncLoop(ctx context.Context, s *store.Store, settings config.Settings, metrics *telemetry.Metrics, events *eventlog.Log, pushOnly, pullOnly bool) {
	db, err := sql.Open("sqlite", settings.Storage.URL)
	if err != nil {
		log.WithError(err).Error("sync remote open failed; sync loop disabled")
		_ = events.Record("sync", "error", "remote open failed", map[string]any{"error": err.Error()})
		return
	}
	defer db.Close()

	remote := syncengine.NewSQLRemote(db)
	engine := syncengine.New(syncengine.Config{
		Local:   s,
		Remote:  remote,
		Logger:  log,
		Metrics: metrics,
	})

	ticker := time.NewTicker(settings.SyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !pullOnly {
				if n, err := engine.Push(ctx); err != nil {
					log.WithError(err).Warn("sync push failed")
					_ = events.Record("sync", "warn", "push failed", map[string]any{"error": err.Error()})
				} else if n > 0 {
					_ = events.Record("sync", "info", "push complete", map[string]any{"rows": n})
				}
			}
			if !pushOnly {
				if n, err := engine.Pull(ctx); err != nil {
					log.WithError(err).Warn("sync pull failed")
					_ = events.Record("sync", "warn", "pull failed", map[string]any{"error": err.Error()})
				} else if n > 0 {
					_ = events.Record("sync", "info", "pull complete", map[string]any{"rows": n})
				}
			}
		}
	}
}
