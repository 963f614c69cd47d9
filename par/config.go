package par

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

var (
	// ErrUnsupportedFormat is returned by LoadConfig for an unknown format.
	ErrUnsupportedFormat = errors.New("par: unsupported config format")

	// ErrLoadFailed is returned by LoadConfig when the data cannot be parsed.
	ErrLoadFailed = errors.New("par: failed to load config")

	// ErrUnmarshalFailed is returned by LoadConfig when the parsed data does
	// not fit Config.
	ErrUnmarshalFailed = errors.New("par: failed to unmarshal config")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("par: invalid config")
)

// Format names the encoding of configuration data.
type Format string

// Supported configuration formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Config holds the tunables of a Pool.
type Config struct {
	// Workers is the number of worker goroutines. Zero means GOMAXPROCS.
	Workers int `koanf:"workers" json:"workers"`

	// QueueSize is the job queue buffer size. Zero means Workers * 4.
	QueueSize int `koanf:"queue_size" json:"queue_size"`

	// Splits bounds how often a drive splits its input. Zero means Workers.
	Splits int `koanf:"splits" json:"splits"`

	// MinLen is the smallest number of items a split half may hold.
	MinLen int `koanf:"min_len" json:"min_len"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{MinLen: 1}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.QueueSize == 0 {
		c.QueueSize = c.Workers * 4
	}
	if c.Splits == 0 {
		c.Splits = c.Workers
	}
	if c.MinLen == 0 {
		c.MinLen = 1
	}
	return c
}

// Validate reports whether c can build a pool. Zero fields are valid and take
// their defaults.
func (c Config) Validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: queue_size must be >= 0, got %d", ErrInvalidConfig, c.QueueSize)
	case c.Splits < 0:
		return fmt.Errorf("%w: splits must be >= 0, got %d", ErrInvalidConfig, c.Splits)
	case c.MinLen < 0:
		return fmt.Errorf("%w: min_len must be >= 0, got %d", ErrInvalidConfig, c.MinLen)
	}
	return nil
}

// LoadConfig parses pool configuration from data. Keys missing from data keep
// their DefaultConfig values; empty data yields DefaultConfig.
//
//	workers: 8
//	queue_size: 64
//	splits: 16
//	min_len: 128
func LoadConfig(data []byte, format Format) (Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
