// Package watcher implements the capture watcher: a single task that
// samples the clipboard driver at a configured interval and persists
// changes, guarded by a single-instance lockfile and a small lifecycle
// state machine.
package watcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ditox-dev/ditox/ditoxerr"
	"github.com/ditox-dev/ditox/driver"
	"github.com/ditox-dev/ditox/ids"
	"github.com/ditox-dev/ditox/store"
	"github.com/ditox-dev/ditox/telemetry"
)

// Config configures a Watcher.
type Config struct {
	Driver   driver.Driver
	Store    *store.Store
	Logger   logrus.FieldLogger
	Metrics  *telemetry.Metrics
	LockPath string

	SampleInterval  time.Duration
	CaptureImages   bool
	ImageCapBytes   int64
	DedupeWindow    int
	QuietPeriod     time.Duration
}

// DefaultConfig returns reasonable production defaults.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 200 * time.Millisecond,
		CaptureImages:  true,
		ImageCapBytes:  8 * 1024 * 1024,
		DedupeWindow:   8,
		QuietPeriod:    2 * time.Second,
	}
}

// Watcher runs the clipboard sampling loop.
type Watcher struct {
	cfg    Config
	log    logrus.FieldLogger
	lock   *Lock
	backoff backoff.BackOff

	mu    sync.Mutex
	state State

	dedupe       *dedupeWindow
	lastText     string
	lastTextID   string
	lastTouch    time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Watcher in the Inactive state.
func New(cfg Config) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 200 * time.Millisecond
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.SampleInterval
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = 0 // retry indefinitely; the caller controls lifetime via ctx

	return &Watcher{
		cfg:     cfg,
		log:     cfg.Logger.WithField("component", "watcher"),
		lock:    NewLock(cfg.LockPath),
		backoff: eb,
		state:   Inactive,
		dedupe:  newDedupeWindow(cfg.DedupeWindow),
	}
}

// State reports the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := transition(w.state, to); err != nil {
		return ditoxerr.Wrap(ditoxerr.InvalidInput, "watcher state transition", err)
	}
	w.state = to
	return nil
}

// Start acquires the single-instance lock, moves to Active, and starts
// the sampling loop in a background goroutine. It returns without waiting
// for the first tick; if the lock cannot be acquired the state returns to
// Inactive and the error is returned.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.setState(Starting); err != nil {
		return err
	}
	if err := w.lock.Acquire(OwnerManaged); err != nil {
		w.mu.Lock()
		w.state = Inactive
		w.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	if err := w.setState(Active); err != nil {
		cancel()
		w.lock.Release()
		return err
	}

	go w.run(runCtx)
	return nil
}

// Pause suspends persistence without releasing the lock.
func (w *Watcher) Pause() error { return w.setState(Paused) }

// Resume reverses Pause.
func (w *Watcher) Resume() error { return w.setState(Active) }

// Stop cancels the loop, waits for it to exit, and releases the lock on
// every exit path.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state == Inactive {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	done := w.done
	w.state = Stopping
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	releaseErr := w.lock.Release()

	w.mu.Lock()
	w.state = Inactive
	w.mu.Unlock()
	return releaseErr
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.lock.Release()

	ticker := time.NewTicker(w.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.State() == Paused {
				continue
			}
			if err := w.tick(ctx); err != nil {
				w.log.WithError(err).Debug("tick error")
				d := w.backoff.NextBackOff()
				if d > 0 {
					ticker.Reset(d)
				}
				continue
			}
			w.backoff.Reset()
			ticker.Reset(w.cfg.SampleInterval)
		}
	}
}

// isTransientTick reports whether err should trigger the watcher's
// exponential backoff rather than being treated as a one-off, per-tick
// miss. driver.Empty ("nothing on the clipboard right now") and
// ditoxerr.NotFound are expected steady-state outcomes, not faults.
func isTransientTick(err error) bool {
	if err == nil {
		return false
	}
	if driver.IsKind(err, driver.Empty) {
		return false
	}
	if ditoxerr.Is(err, ditoxerr.NotFound) {
		return false
	}
	return true
}

func (w *Watcher) tick(ctx context.Context) error {
	runID := ids.NewRunID()
	ctx, end := telemetry.StartSpan(ctx, "watcher.tick")
	defer end()
	log := w.log.WithField("run_id", runID)

	var transient bool

	if err := w.tickText(ctx, log); err != nil {
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.WatcherErrors.WithLabelValues("text").Inc()
		}
		if isTransientTick(err) {
			transient = true
		}
	}
	if w.cfg.CaptureImages {
		if err := w.tickImage(ctx, log); err != nil {
			if w.cfg.Metrics != nil {
				w.cfg.Metrics.WatcherErrors.WithLabelValues("image").Inc()
			}
			if isTransientTick(err) {
				transient = true
			}
		}
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.WatcherTicks.Inc()
	}
	if transient {
		return ditoxerr.New(ditoxerr.Unavailable, "transient driver error this tick")
	}
	return nil
}

func (w *Watcher) tickText(ctx context.Context, log logrus.FieldLogger) error {
	text, err := w.cfg.Driver.GetText()
	if err != nil {
		return err
	}
	normalized := strings.TrimSuffix(text, "\n")

	if normalized == w.lastText {
		if w.lastTextID != "" && time.Since(w.lastTouch) > w.cfg.QuietPeriod {
			if err := w.cfg.Store.TouchLastUsed(w.lastTextID); err != nil {
				return err
			}
			w.lastTouch = time.Now()
		}
		return nil
	}

	hash := hashContent(normalized)
	if w.dedupe.Contains(hash) {
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.CaptureDedupeHits.Inc()
		}
		w.lastText = normalized
		return nil
	}

	id, err := w.cfg.Store.AddText(ctx, normalized, store.AddTextOptions{AllowEmpty: normalized == ""})
	if err != nil {
		return err
	}
	log.WithField("clip_id", id).Debug("captured text clip")
	w.dedupe.Push(hash)
	w.lastText = normalized
	w.lastTextID = id
	w.lastTouch = time.Now()
	return nil
}

func (w *Watcher) tickImage(ctx context.Context, log logrus.FieldLogger) error {
	img, err := w.cfg.Driver.GetImage()
	if err != nil {
		return err
	}
	size := int64(img.Width) * int64(img.Height) * 4
	if size <= 0 {
		return nil
	}
	if size > w.cfg.ImageCapBytes {
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ImagesSkippedCap.Inc()
		}
		return nil
	}

	hash := hashContent(string(img.Pix))
	if w.dedupe.Contains(hash) {
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.CaptureDedupeHits.Inc()
		}
		return nil
	}

	id, err := w.cfg.Store.AddImage(ctx, img.Pix, img.Width, img.Height, store.AddImageOptions{})
	if err != nil {
		return err
	}
	log.WithField("clip_id", id).Debug("captured image clip")
	w.dedupe.Push(hash)
	return nil
}
