// Package config loads the run configuration shared by producers, consumers
// and the aggregator. Precedence, lowest first: built-in defaults, an
// optional YAML or TOML file named by WORDPIPE_CONFIG, then WORDPIPE_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"wordpipe/constants"
	"wordpipe/debug"
)

// EnvPrefix prefixes every environment override, e.g. WORDPIPE_CAPACITY.
const EnvPrefix = "WORDPIPE"

// FileEnv names the variable holding an optional YAML config path.
const FileEnv = "WORDPIPE_CONFIG"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all run configuration. Every participating process must agree
// on Dir, the resource names and Capacity.
type Config struct {
	Dir         string `yaml:"dir" toml:"dir" envconfig:"DIR"`
	SegmentName string `yaml:"segment" toml:"segment" envconfig:"SEGMENT"`
	SemEmpty    string `yaml:"sem_empty" toml:"sem_empty" envconfig:"SEM_EMPTY"`
	SemFull     string `yaml:"sem_full" toml:"sem_full" envconfig:"SEM_FULL"`
	SemMutex    string `yaml:"sem_mutex" toml:"sem_mutex" envconfig:"SEM_MUTEX"`

	Capacity int `yaml:"capacity" toml:"capacity" envconfig:"CAPACITY"`

	// FloodSize is the number of extra sentinels the last producer pushes.
	// Zero means one buffer's worth (Capacity).
	FloodSize        int      `yaml:"flood_size" toml:"flood_size" envconfig:"FLOOD_SIZE"`
	FloodPacing      Duration `yaml:"flood_pacing" toml:"flood_pacing" envconfig:"FLOOD_PACING"`
	SentinelOnCancel bool     `yaml:"sentinel_on_cancel" toml:"sentinel_on_cancel" envconfig:"SENTINEL_ON_CANCEL"`

	ProducerJitter Duration `yaml:"producer_jitter" toml:"producer_jitter" envconfig:"PRODUCER_JITTER"`
	ConsumerJitter Duration `yaml:"consumer_jitter" toml:"consumer_jitter" envconfig:"CONSUMER_JITTER"`

	OutputDir    string `yaml:"output_dir" toml:"output_dir" envconfig:"OUTPUT_DIR"`
	OutputPrefix string `yaml:"output_prefix" toml:"output_prefix" envconfig:"OUTPUT_PREFIX"`
	OutputSuffix string `yaml:"output_suffix" toml:"output_suffix" envconfig:"OUTPUT_SUFFIX"`

	ReportFile string `yaml:"report_file" toml:"report_file" envconfig:"REPORT_FILE"`
	ReportJSON string `yaml:"report_json" toml:"report_json" envconfig:"REPORT_JSON"`
	ReportDB   string `yaml:"report_db" toml:"report_db" envconfig:"REPORT_DB"`

	MetricsFile string `yaml:"metrics_file" toml:"metrics_file" envconfig:"METRICS_FILE"`

	// PinCPU locks the consumer loop to one core when >= 0.
	PinCPU int `yaml:"pin_cpu" toml:"pin_cpu" envconfig:"PIN_CPU"`

	Log LogConfig `yaml:"log" toml:"log" envconfig:"LOG"`
}

// Duration is a time.Duration written in text form ("10ms", "1.5s") in YAML,
// TOML and the environment alike.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalid, text, err)
	}
	*d = Duration(v)
	return nil
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" toml:"level" envconfig:"LEVEL"`
	Development bool   `yaml:"development" toml:"development" envconfig:"DEV"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Dir:          defaultDir(),
		SegmentName:  constants.DefaultSegmentName,
		SemEmpty:     constants.DefaultSemEmpty,
		SemFull:      constants.DefaultSemFull,
		SemMutex:     constants.DefaultSemMutex,
		Capacity:     constants.DefaultCapacity,
		FloodPacing:  Duration(constants.FloodPacing),
		OutputDir:    ".",
		OutputPrefix: constants.ConsumerOutputPrefix,
		OutputSuffix: constants.ConsumerOutputSuffix,
		ReportFile:   constants.AggregateReportFile,
		PinCPU:       -1,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional file named by
// WORDPIPE_CONFIG and the environment, then validates it.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit config file; an empty path skips the
// file layer.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MergeFile overlays the document at path onto cfg. Files ending in .toml
// are read as TOML, anything else as YAML. Keys absent from the file keep
// their current values.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		unmarshal = toml.Unmarshal
	}
	if err := unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the shared layout cannot honour.
func (c *Config) Validate() error {
	switch {
	case c.Dir == "":
		return fmt.Errorf("%w: dir is empty", ErrInvalid)
	case c.SegmentName == "" || c.SemEmpty == "" || c.SemFull == "" || c.SemMutex == "":
		return fmt.Errorf("%w: resource names must be non-empty", ErrInvalid)
	case c.Capacity < 1 || c.Capacity > constants.MaxCapacity:
		return fmt.Errorf("%w: capacity %d outside 1..%d", ErrInvalid, c.Capacity, constants.MaxCapacity)
	case c.FloodSize < 0:
		return fmt.Errorf("%w: flood size %d is negative", ErrInvalid, c.FloodSize)
	case c.FloodPacing < 0 || c.ProducerJitter < 0 || c.ConsumerJitter < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}

	names := map[string]struct{}{}
	for _, n := range []string{c.SegmentName, c.SemEmpty, c.SemFull, c.SemMutex} {
		if _, dup := names[n]; dup {
			return fmt.Errorf("%w: resource name %q used twice", ErrInvalid, n)
		}
		names[n] = struct{}{}
	}
	return nil
}

// EffectiveFloodSize resolves the zero default to one buffer's worth.
func (c *Config) EffectiveFloodSize() int {
	if c.FloodSize == 0 {
		return c.Capacity
	}
	return c.FloodSize
}

// SegmentPath is the backing file of the shared ring buffer.
func (c *Config) SegmentPath() string {
	return filepath.Join(c.Dir, c.SegmentName)
}

// OutputPath names the sink file for consumer id.
func (c *Config) OutputPath(id string) string {
	return filepath.Join(c.OutputDir, c.OutputPrefix+id+c.OutputSuffix)
}

// Logging converts the log section for the debug package.
func (c *Config) Logging() debug.Config {
	return debug.Config{Level: c.Log.Level, Development: c.Log.Development}
}

// defaultDir prefers /dev/shm and falls back to the temp directory.
func defaultDir() string {
	if info, err := os.Stat(constants.DefaultShmDir); err == nil && info.IsDir() {
		return constants.DefaultShmDir
	}
	return os.TempDir()
}
