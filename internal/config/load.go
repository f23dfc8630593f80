package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML config file, applies defaults, validates, and returns
// the config along with any warnings (e.g. unknown fields).
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read config: %s: %w", path, err)
	}

	return LoadBytes(data, path)
}

// LoadBytes parses TOML from raw bytes. The path argument is used only for
// error messages.
func LoadBytes(data []byte, path string) (*Config, []string, error) {
	cfg, warnings, err := Parse(data, path)
	if err != nil {
		return nil, warnings, err
	}
	if err := Finalize(cfg); err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// Parse decodes TOML without applying defaults or validating, so that
// command-line overrides can be layered on first. An absent workers key
// means one worker per CPU.
func Parse(data []byte, path string) (*Config, []string, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config parse error in %s: %w", path, err)
	}
	cfg.Path = path

	// Collect warnings for unknown fields.
	var warnings []string
	for _, key := range md.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown config key: %s", strings.Join(key, ".")))
	}

	if !md.IsDefined("master", "workers") {
		cfg.Master.Workers = runtime.NumCPU()
	}
	return &cfg, warnings, nil
}

// Finalize applies defaults and validates.
func Finalize(cfg *Config) error {
	ApplyDefaults(cfg)

	if errs := Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		where := cfg.Path
		if where == "" {
			where = "defaults"
		}
		return fmt.Errorf("config validation failed in %s:\n  %s",
			where, strings.Join(msgs, "\n  "))
	}
	return nil
}

// Encode renders cfg as TOML. Workers receive the master's settled
// configuration in this form on stdin.
func Encode(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("cannot encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Overrides are command-line values that take precedence over the file.
// Nil fields are not set.
type Overrides struct {
	Workers   *int
	Host      *string
	Port      *int
	PID       *string
	Daemonize *bool
	Debug     *bool
	Raw       *bool
}

// Apply copies the set fields into cfg.
func (o Overrides) Apply(cfg *Config) {
	m := &cfg.Master
	if o.Workers != nil {
		m.Workers = *o.Workers
	}
	if o.Host != nil {
		m.Host = *o.Host
	}
	if o.Port != nil {
		m.Port = *o.Port
	}
	if o.PID != nil {
		m.PID = *o.PID
	}
	if o.Daemonize != nil {
		m.Daemonize = *o.Daemonize
	}
	if o.Debug != nil {
		m.Debug = *o.Debug
	}
	if o.Raw != nil {
		m.Raw = *o.Raw
	}
}

// Loader resolves the settled configuration. The master calls Load on
// startup and again on every reload, so edits to the file take effect
// while command-line overrides persist.
type Loader struct {
	Path      string // explicit -c value
	Overrides Overrides
}

// Load resolves, reads and finalizes the configuration. Without any file
// the built-in defaults are used.
func (l *Loader) Load() (*Config, []string, error) {
	path, err := Resolve(l.Path)
	if err != nil {
		return nil, nil, err
	}

	var (
		cfg      *Config
		warnings []string
	)
	if path == "" {
		cfg = &Config{}
		cfg.Master.Workers = runtime.NumCPU()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot read config: %s: %w", path, err)
		}
		cfg, warnings, err = Parse(data, path)
		if err != nil {
			return nil, warnings, err
		}
	}

	l.Overrides.Apply(cfg)
	if err := Finalize(cfg); err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}
