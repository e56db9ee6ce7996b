// Package store implements the durable relational store of clips,
// favorites, tags, timestamps and sync metadata. It opens
// modernc.org/sqlite with a WAL/foreign-key/busy-timeout pragma set and a
// single shared connection pool.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/ditox-dev/ditox/blobstore"
	"github.com/ditox-dev/ditox/ditoxerr"
	"github.com/ditox-dev/ditox/migrate"
	"github.com/ditox-dev/ditox/telemetry"
)

// Clip is the primary entity of the store.
type Clip struct {
	ID          string
	Kind        string // "text" | "image"
	Text        string
	CreatedAt   int64 // ns since epoch, UTC
	IsFavorite  bool
	DeletedAt   *int64
	IsImage     bool
	ImagePath   *string
	LastUsedAt  *int64
	UpdatedAt   *int64
	Lamport     int64
	DeviceID    string
	Image       *ImageMeta
	Tags        []string
}

// ImageMeta is the one-to-one image metadata row for an image clip.
type ImageMeta struct {
	ClipID    string
	Format    string
	Width     int
	Height    int
	SizeBytes int64
	SHA256    string
	ThumbPath *string
}

// Config configures Open.
type Config struct {
	// Path to the SQLite database file.
	Path string
	// BlobStore backs image clip bodies. Required when any image
	// operation is used.
	BlobStore *blobstore.Store
	// Budget tracks advisory blob storage usage. Optional; when set, every
	// successful image Put is recorded and SelfCheck reports the running
	// total.
	Budget *blobstore.Budget
	// Logger receives structured diagnostics. Defaults to a standard
	// logrus.Logger at Info level.
	Logger logrus.FieldLogger
	// Metrics receives operation counters. Optional.
	Metrics *telemetry.Metrics

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sane defaults, grounded on database.DefaultConfig.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		Logger:          logrus.StandardLogger(),
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// Store wraps the SQL database with ditox's clip operations.
type Store struct {
	db        *sql.DB
	path      string
	blobs     *blobstore.Store
	budget    *blobstore.Budget
	log       logrus.FieldLogger
	metrics   *telemetry.Metrics
	deviceID  string
	ftsAvail  bool
}

// Open opens (creating if necessary) the clip store at cfg.Path, applies
// any pending migrations, and probes FTS5 availability.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "open sqlite database", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -10000",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, ditoxerr.Wrap(ditoxerr.Fatal, fmt.Sprintf("set pragma %q", p), err)
		}
	}

	if err := migrate.Apply(db, migrate.ApplyOptions{Backup: false}); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		path:     cfg.Path,
		blobs:    cfg.BlobStore,
		budget:   cfg.Budget,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		ftsAvail: migrate.ProbeFTS5(db),
	}

	deviceID, err := s.loadOrMintDeviceID()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.deviceID = deviceID

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DeviceID returns this store's stable device identifier.
func (s *Store) DeviceID() string { return s.deviceID }

// FTSAvailable reports whether full-text search is in effect. When false,
// Search falls back to substring matching.
func (s *Store) FTSAvailable() bool { return s.ftsAvail }

// SelfCheck reports basic store health, including FTS availability, for
// use by a doctor-style command.
type SelfCheck struct {
	FTS           bool
	DeviceID      string
	SchemaStatus  migrate.Status
	BlobBudgetSet bool
	BlobBudget    int64
}

func (s *Store) SelfCheck() (SelfCheck, error) {
	status, err := migrate.GetStatus(s.db)
	if err != nil {
		return SelfCheck{}, err
	}
	check := SelfCheck{FTS: s.ftsAvail, DeviceID: s.deviceID, SchemaStatus: status}
	if s.budget != nil {
		used, err := s.budget.Usage()
		if err != nil {
			return SelfCheck{}, err
		}
		check.BlobBudgetSet = true
		check.BlobBudget = used
		if s.metrics != nil {
			s.metrics.BlobBudgetBytes.Set(float64(used))
		}
	}
	return check, nil
}

func now() int64 { return time.Now().UTC().UnixNano() }
