package syncengine

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-memdb"
	"github.com/sirupsen/logrus"

	"github.com/ditox-dev/ditox/ditoxerr"
	"github.com/ditox-dev/ditox/ids"
	"github.com/ditox-dev/ditox/store"
	"github.com/ditox-dev/ditox/telemetry"
)

const (
	metaLastPush    = "sync_last_push_updated_at"
	metaLastPull    = "sync_last_pull_updated_at"
	metaLastError   = "sync_last_error"
)

// localStore is the subset of *store.Store the engine needs, named so
// tests can substitute a fake without dragging in SQLite.
type localStore interface {
	TextRowsSince(since int64, limit int) ([]store.SyncRow, error)
	MergeRemote(row store.SyncRow) (bool, error)
	PendingPushCount(since int64) (int64, error)
	Counts() (text int64, image int64, err error)
	GetMeta(key string) (string, bool, error)
	SetMeta(key, value string) error
}

// Config configures an Engine.
type Config struct {
	Local     localStore
	Remote    Remote
	Logger    logrus.FieldLogger
	Metrics   *telemetry.Metrics
	BatchSize int
}

// Engine runs push/pull batches against a Remote.
type Engine struct {
	cfg     Config
	log     logrus.FieldLogger
	backoff backoff.BackOff

	// activeBatches tracks in-flight batch runs; a new batch of a `kind`
	// that is already running is rejected, preventing overlapping
	// push/pull runs against the same remote connection.
	activeBatches *memdb.MemDB
}

var batchSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"batch": {
			Name: "batch",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Kind"},
				},
			},
		},
	},
}

type batchRecord struct {
	Kind      string
	StartedAt int64
}

// New constructs an Engine. BatchSize defaults to 500.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Second
	eb.MaxInterval = 5 * time.Minute
	eb.MaxElapsedTime = 0

	db, err := memdb.NewMemDB(batchSchema)
	if err != nil {
		panic(err) // schema is a compile-time constant; a failure here is a programming error
	}

	return &Engine{
		cfg:           cfg,
		log:           cfg.Logger.WithField("component", "sync"),
		backoff:       eb,
		activeBatches: db,
	}
}

func (e *Engine) beginBatch(kind string) (func(), error) {
	txn := e.activeBatches.Txn(true)
	if existing, err := txn.First("batch", "id", kind); err == nil && existing != nil {
		txn.Abort()
		return nil, ditoxerr.New(ditoxerr.Conflict, "a "+kind+" batch is already running")
	}
	if err := txn.Insert("batch", batchRecord{Kind: kind, StartedAt: time.Now().UnixNano()}); err != nil {
		txn.Abort()
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "track batch start", err)
	}
	txn.Commit()

	return func() {
		cleanup := e.activeBatches.Txn(true)
		cleanup.Delete("batch", batchRecord{Kind: kind})
		cleanup.Commit()
	}, nil
}

func (e *Engine) metaInt(key string) (int64, error) {
	v, ok, err := e.cfg.Local.GetMeta(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Corruption, "parse sync checkpoint", err)
	}
	return n, nil
}

func (e *Engine) recordError(err error) {
	if err == nil {
		return
	}
	_ = e.cfg.Local.SetMeta(metaLastError, err.Error())
}

// probe checks remote reachability, recording last_error on failure and
// resetting the engine's backoff state on success. A failed probe does
// not wait on the backoff; the caller's schedule sets when it is retried.
func (e *Engine) probe(ctx context.Context) error {
	if err := e.cfg.Remote.Probe(ctx); err != nil {
		e.recordError(err)
		return err
	}
	e.backoff.Reset()
	return nil
}

// Push uploads up to BatchSize locally-modified text rows, advancing the
// push checkpoint to the maximum updated_at actually pushed. A per-row
// failure stops the batch without failing the call: the checkpoint
// advances past whatever succeeded before the failure and a future run
// retries the rest.
func (e *Engine) Push(ctx context.Context) (int, error) {
	ctx, end := telemetry.StartSpan(ctx, "syncengine.Push")
	defer end()
	timer := telemetry.Start("syncengine.Push", e.log.WithField("run_id", ids.NewRunID()))
	defer timer.Stop()

	done, err := e.beginBatch("push")
	if err != nil {
		return 0, err
	}
	defer done()

	if err := e.probe(ctx); err != nil {
		return 0, err
	}

	since, err := e.metaInt(metaLastPush)
	if err != nil {
		return 0, err
	}
	rows, err := e.cfg.Local.TextRowsSince(since, e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var pushed int
	var maxUpdatedAt = since
	for _, row := range rows {
		applied, err := e.cfg.Remote.UpsertIfNewer(ctx, RemoteRow{
			ID: row.ID, Kind: "text", Text: row.Text, CreatedAt: row.CreatedAt,
			IsFavorite: row.IsFavorite, DeletedAt: row.DeletedAt,
			UpdatedAt: row.UpdatedAt, Lamport: row.Lamport, DeviceID: row.DeviceID,
		})
		if err != nil {
			e.recordError(err)
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.SyncErrors.WithLabelValues("push").Inc()
			}
			break
		}
		if applied {
			pushed++
		}
		if row.UpdatedAt > maxUpdatedAt {
			maxUpdatedAt = row.UpdatedAt
		}
	}

	if maxUpdatedAt > since {
		if err := e.cfg.Local.SetMeta(metaLastPush, strconv.FormatInt(maxUpdatedAt, 10)); err != nil {
			return pushed, err
		}
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.SyncBatchSize.WithLabelValues("push").Observe(float64(len(rows)))
	}
	return pushed, nil
}

// Pull downloads up to BatchSize remote text rows newer than the pull
// checkpoint and merges each under the LWW rule.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	ctx, end := telemetry.StartSpan(ctx, "syncengine.Pull")
	defer end()
	timer := telemetry.Start("syncengine.Pull", e.log.WithField("run_id", ids.NewRunID()))
	defer timer.Stop()

	done, err := e.beginBatch("pull")
	if err != nil {
		return 0, err
	}
	defer done()

	if err := e.probe(ctx); err != nil {
		return 0, err
	}

	since, err := e.metaInt(metaLastPull)
	if err != nil {
		return 0, err
	}
	rows, err := e.cfg.Remote.PullSince(ctx, since, e.cfg.BatchSize)
	if err != nil {
		e.recordError(err)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.SyncErrors.WithLabelValues("pull").Inc()
		}
		return 0, err
	}

	var merged int
	maxUpdatedAt := since
	for _, row := range rows {
		applied, err := e.cfg.Local.MergeRemote(store.SyncRow{
			ID: row.ID, Text: row.Text, CreatedAt: row.CreatedAt, IsFavorite: row.IsFavorite,
			DeletedAt: row.DeletedAt, UpdatedAt: row.UpdatedAt, Lamport: row.Lamport, DeviceID: row.DeviceID,
		})
		if err != nil {
			return merged, err
		}
		if applied {
			merged++
		}
		if row.UpdatedAt > maxUpdatedAt {
			maxUpdatedAt = row.UpdatedAt
		}
	}

	if maxUpdatedAt > since {
		if err := e.cfg.Local.SetMeta(metaLastPull, strconv.FormatInt(maxUpdatedAt, 10)); err != nil {
			return merged, err
		}
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.SyncBatchSize.WithLabelValues("pull").Observe(float64(len(rows)))
	}
	return merged, nil
}

// Status summarizes the engine's checkpoints and remote reachability,
// suitable for a `sync status` readout.
type Status struct {
	LastPushUpdatedAt int64
	LastPullUpdatedAt int64
	PendingPush       int64
	LocalText         int64
	LocalImage        int64
	RemoteReachable   bool
	LastError         string
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error
	if st.LastPushUpdatedAt, err = e.metaInt(metaLastPush); err != nil {
		return st, err
	}
	if st.LastPullUpdatedAt, err = e.metaInt(metaLastPull); err != nil {
		return st, err
	}
	if st.PendingPush, err = e.cfg.Local.PendingPushCount(st.LastPushUpdatedAt); err != nil {
		return st, err
	}
	if st.LocalText, st.LocalImage, err = e.cfg.Local.Counts(); err != nil {
		return st, err
	}
	if lastErr, ok, _ := e.cfg.Local.GetMeta(metaLastError); ok {
		st.LastError = lastErr
	}
	st.RemoteReachable = e.cfg.Remote.Probe(ctx) == nil
	return st, nil
}

// DoctorReport combines Status with remote schema introspection for a
// `sync doctor` readout.
type DoctorReport struct {
	Status
	Schema SchemaInfo
}

func (e *Engine) Doctor(ctx context.Context) (DoctorReport, error) {
	st, err := e.Status(ctx)
	if err != nil {
		return DoctorReport{}, err
	}
	schema, err := e.cfg.Remote.SchemaInfo(ctx)
	if err != nil {
		return DoctorReport{Status: st}, err
	}
	return DoctorReport{Status: st, Schema: schema}, nil
}
