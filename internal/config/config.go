package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Staging configures where extracted trees are kept.
type Staging struct {
	Dir          string   `toml:"dir"`
	PreferMemory bool     `toml:"prefer_memory"`
	StaleAfter   Duration `toml:"stale_after"`
}

// Jobs configures the runners.
type Jobs struct {
	Timeout        Duration `toml:"timeout"`
	QueueDepth     int      `toml:"queue_depth"`
	PoolSize       int      `toml:"pool_size"`
	MaxInputBytes  int64    `toml:"max_input_bytes"`
	MaxOutputBytes int64    `toml:"max_output_bytes"`
}

// Extract configures the extraction engines.
type Extract struct {
	Prefer        string `toml:"prefer"`
	MaxEntries    int    `toml:"max_entries"`
	MaxTotalBytes int64  `toml:"max_total_bytes"`
}

// Pack configures the packing engines.
type Pack struct {
	Engine          string `toml:"engine"`
	SevenZipPath    string `toml:"sevenzip_path"`
	LargeFileCount  int64  `toml:"large_file_count"`
	LargeTotalBytes int64  `toml:"large_total_bytes"`
}

// Progress places the phase boundaries on the 0-1 scale.
type Progress struct {
	Start      float64 `toml:"start"`
	ExtractEnd float64 `toml:"extract_end"`
	PackEnd    float64 `toml:"pack_end"`
	Finalize   float64 `toml:"finalize"`
}

// Logging configures log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Serve configures the HTTP surface.
type Serve struct {
	Addr      string   `toml:"addr"`
	QueueWait Duration `toml:"queue_wait"`
}

// Config is the full repack configuration.
type Config struct {
	Staging  Staging  `toml:"staging"`
	Jobs     Jobs     `toml:"jobs"`
	Extract  Extract  `toml:"extract"`
	Pack     Pack     `toml:"pack"`
	Progress Progress `toml:"progress"`
	Log      Logging  `toml:"log"`
	Serve    Serve    `toml:"serve"`
}

// Duration is a time.Duration written as a string such as "90s" in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads the file at path over the defaults, then normalizes and
// validates the result. A missing file yields the defaults. An empty path
// tries DefaultPath. The second return value reports whether a file was read.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	resolved, exists, err := resolvePath(path)
	if err != nil {
		return nil, false, err
	}
	if exists {
		f, err := os.Open(resolved)
		if err != nil {
			return nil, false, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		dec := toml.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, exists, nil
}

// DefaultPath returns the per-user config location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("~", ".config", "repack", "config.toml")
	}
	return filepath.Join(dir, "repack", "config.toml")
}

func resolvePath(path string) (string, bool, error) {
	if path == "" {
		path = DefaultPath()
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return expanded, false, nil
	case err != nil:
		return "", false, fmt.Errorf("stat config: %w", err)
	case info.IsDir():
		return "", false, fmt.Errorf("config %s is a directory", expanded)
	}
	return expanded, true, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return p, nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}

// CreateSample writes the annotated sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil { //nolint:gosec // config is not secret
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
