// Package config resolves Ditox's settings from layered sources: built-in
// defaults, a TOML config file, environment variables, and invocation
// flags, each overriding the last. TOML decoding uses
// pelletier/go-toml/v2; key name normalization between TOML's
// dotted-section style and environment variable names uses
// iancoleman/strcase.
package config

import (
	"time"
)

// Settings is the full resolved configuration.
type Settings struct {
	Storage StorageSettings `toml:"storage"`
	Prune   PruneSettings   `toml:"prune"`
	Sync    SyncSettings    `toml:"sync"`
	Images  ImagesSettings  `toml:"images"`
	Capture CaptureSettings `toml:"capture"`
}

type StorageSettings struct {
	Backend   string `toml:"backend"`    // "localsqlite" | "remote"
	DBPath    string `toml:"db_path"`
	URL       string `toml:"url"`
	AuthToken string `toml:"auth_token"`
}

type PruneSettings struct {
	Every         string `toml:"every"`
	KeepFavorites bool   `toml:"keep_favorites"`
	// MaxItems is nil when unset (unbounded); a configured zero means
	// "keep none" and is distinct from "no bound configured".
	MaxItems *int   `toml:"max_items,omitempty"`
	MaxAge   string `toml:"max_age"`
}

type SyncSettings struct {
	Enabled   bool   `toml:"enabled"`
	Interval  string `toml:"interval"`
	BatchSize int    `toml:"batch_size"`
	DeviceID  string `toml:"device_id"`
}

type ImagesSettings struct {
	LocalFilePathMode bool   `toml:"local_file_path_mode"`
	Dir               string `toml:"dir"`
	Encoding          string `toml:"encoding"`
}

type CaptureSettings struct {
	Mode string `toml:"mode"` // "managed" | "external" | "off"
	// SampleMS is the poll interval in milliseconds. The default of
	// 200ms falls outside the <integer><unit> grammar used by
	// Prune/Sync durations (unit in {s,m,h,d,w} has no sub-second unit),
	// so capture sampling is configured directly in milliseconds.
	SampleMS      int64 `toml:"sample_ms"`
	Images        bool  `toml:"images"`
	ImageCapBytes int64 `toml:"image_cap_bytes"`
}

// Defaults returns the built-in defaults, the first and weakest layer of
// resolution.
func Defaults() Settings {
	return Settings{
		Storage: StorageSettings{
			Backend: "localsqlite",
			DBPath:  "", // resolved relative to config_root by Settings.DBPath
		},
		Prune: PruneSettings{
			KeepFavorites: true,
		},
		Sync: SyncSettings{
			Enabled:   false,
			Interval:  "1m",
			BatchSize: 500,
			DeviceID:  "", // resolved: env -> hostname -> "local"
		},
		Images: ImagesSettings{
			LocalFilePathMode: false,
			Encoding:          "png",
		},
		Capture: CaptureSettings{
			Mode:          "managed",
			SampleMS:      200,
			Images:        true,
			ImageCapBytes: 8 * 1024 * 1024,
		},
	}
}

// SampleInterval returns Capture.SampleMS as a Duration, falling back to
// 200ms when the configured value is non-positive so a corrupt config
// file never prevents the watcher from starting.
func (s Settings) SampleInterval() time.Duration {
	if s.Capture.SampleMS <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(s.Capture.SampleMS) * time.Millisecond
}

// PruneMaxAgeSeconds parses Prune.MaxAge in seconds; zero means unbounded.
func (s Settings) PruneMaxAgeSeconds() int64 {
	if s.Prune.MaxAge == "" {
		return 0
	}
	d, err := ParseDuration(s.Prune.MaxAge)
	if err != nil {
		return 0
	}
	return int64(d / time.Second)
}

// SyncInterval parses Sync.Interval, defaulting to one minute.
func (s Settings) SyncInterval() time.Duration {
	d, err := ParseDuration(s.Sync.Interval)
	if err != nil {
		return time.Minute
	}
	return d
}
