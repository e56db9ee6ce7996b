package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/pelletier/go-toml/v2"

	"github.com/ditox-dev/ditox/ditoxerr"
)

const envPrefix = "DITOX_"

// envName turns a dotted settings key like "storage.db_path" into
// DITOX_STORAGE_DB_PATH, deriving environment names from the canonical
// dotted identifier via strcase rather than maintaining a parallel name
// table. Flags are not derived here; they arrive through Overrides.
func envName(dottedKey string) string {
	return envPrefix + strcase.ToScreamingSnake(strings.ReplaceAll(dottedKey, ".", "_"))
}

type binding struct {
	key   string
	apply func(*Settings, string) error
}

var bindings = []binding{
	{"storage.backend", func(s *Settings, v string) error { s.Storage.Backend = v; return nil }},
	{"storage.db_path", func(s *Settings, v string) error { s.Storage.DBPath = v; return nil }},
	{"storage.url", func(s *Settings, v string) error { s.Storage.URL = v; return nil }},
	{"storage.auth_token", func(s *Settings, v string) error { s.Storage.AuthToken = v; return nil }},
	{"prune.every", func(s *Settings, v string) error { s.Prune.Every = v; return nil }},
	{"prune.keep_favorites", bindBool(func(s *Settings) *bool { return &s.Prune.KeepFavorites })},
	{"prune.max_items", bindIntPtr(func(s *Settings) **int { return &s.Prune.MaxItems })},
	{"prune.max_age", func(s *Settings, v string) error { s.Prune.MaxAge = v; return nil }},
	{"sync.enabled", bindBool(func(s *Settings) *bool { return &s.Sync.Enabled })},
	{"sync.interval", func(s *Settings, v string) error { s.Sync.Interval = v; return nil }},
	{"sync.batch_size", bindInt(func(s *Settings) *int { return &s.Sync.BatchSize })},
	{"sync.device_id", func(s *Settings, v string) error { s.Sync.DeviceID = v; return nil }},
	{"images.local_file_path_mode", bindBool(func(s *Settings) *bool { return &s.Images.LocalFilePathMode })},
	{"images.dir", func(s *Settings, v string) error { s.Images.Dir = v; return nil }},
	{"images.encoding", func(s *Settings, v string) error { s.Images.Encoding = v; return nil }},
	{"capture.mode", func(s *Settings, v string) error { s.Capture.Mode = v; return nil }},
	{"capture.images", bindBool(func(s *Settings) *bool { return &s.Capture.Images })},
}

func bindBool(field func(*Settings) *bool) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return ditoxerr.Wrap(ditoxerr.InvalidInput, "parse bool setting", err)
		}
		*field(s) = b
		return nil
	}
}

func bindInt(field func(*Settings) *int) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ditoxerr.Wrap(ditoxerr.InvalidInput, "parse int setting", err)
		}
		*field(s) = n
		return nil
	}
}

func bindIntPtr(field func(*Settings) **int) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ditoxerr.Wrap(ditoxerr.InvalidInput, "parse int setting", err)
		}
		*field(s) = &n
		return nil
	}
}

// Overrides carries invocation-flag values, the strongest layer. A nil
// pointer means "flag not passed"; only non-nil fields are applied.
type Overrides struct {
	StorageBackend *string
	StorageDBPath  *string
	SyncEnabled    *bool
	CaptureMode    *string
	PushOnly       bool
	PullOnly       bool
}

// Load resolves Settings from defaults, then path (if it exists), then
// environment variables, then flags, each layer overriding the last.
func Load(path string, flags Overrides) (Settings, error) {
	s := Defaults()

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &s); err != nil {
			return Settings{}, ditoxerr.Wrap(ditoxerr.InvalidInput, "parse settings.toml", err)
		}
	} else if !os.IsNotExist(err) {
		return Settings{}, ditoxerr.Wrap(ditoxerr.Fatal, "read settings.toml", err)
	}

	// DITOX_DB is a short, commonly-documented alias for storage.db_path;
	// it is applied first so the canonical DITOX_STORAGE_DB_PATH name
	// still wins if both are set.
	if v, ok := os.LookupEnv("DITOX_DB"); ok {
		s.Storage.DBPath = v
	}

	for _, b := range bindings {
		if v, ok := os.LookupEnv(envName(b.key)); ok {
			if err := b.apply(&s, v); err != nil {
				return Settings{}, err
			}
		}
	}

	if flags.StorageBackend != nil {
		s.Storage.Backend = *flags.StorageBackend
	}
	if flags.StorageDBPath != nil {
		s.Storage.DBPath = *flags.StorageDBPath
	}
	if flags.SyncEnabled != nil {
		s.Sync.Enabled = *flags.SyncEnabled
	}
	if flags.CaptureMode != nil {
		s.Capture.Mode = *flags.CaptureMode
	}

	if s.Sync.DeviceID == "" {
		s.Sync.DeviceID = resolveDeviceIDHint()
	}

	return s, nil
}

// Save writes settings to path as TOML with 0600 permissions.
func Save(path string, s Settings) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "encode settings.toml", err)
	}
	if err := os.MkdirAll(dirOf(path), 0o700); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create config dir", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "write settings.toml", err)
	}
	return nil
}

func resolveDeviceIDHint() string {
	if v := os.Getenv("DITOX_DEVICE_ID"); v != "" {
		return v
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "local"
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}
