// Package config loads and validates the YAML configuration of the player.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ugparu/hwdec/decoder"
	"github.com/ugparu/hwdec/decoder/video/emulated"
	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceFile = "file"
	SourceRTP  = "rtp"
	SourceRTSP = "rtsp"
)

// Config is the root configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Decoder  DecoderConfig `yaml:"decoder"`
	Backend  BackendConfig `yaml:"backend"`
	Source   SourceConfig  `yaml:"source"`
	Sink     SinkConfig    `yaml:"sink"`
	HTTP     HTTPConfig    `yaml:"http"`
}

// DecoderConfig mirrors decoder.Config. Zero values select the decoder defaults.
type DecoderConfig struct {
	SPSWindow        int  `yaml:"sps_window"`
	PPSWindow        int  `yaml:"pps_window"`
	DispatchQueue    int  `yaml:"dispatch_queue"`
	DiagnosticsQueue int  `yaml:"diagnostics_queue"`
	CopyInput        bool `yaml:"copy_input"`
	ReuseIdentical   bool `yaml:"reuse_identical"`
}

// BackendConfig tunes the emulated hardware decoder.
type BackendConfig struct {
	Latency   time.Duration `yaml:"latency"`
	QueueSize int           `yaml:"queue_size"`
}

// SourceConfig selects and tunes the ingest reader.
type SourceConfig struct {
	Kind    string        `yaml:"kind"` // "file", "rtp", "rtsp"
	Path    string        `yaml:"path"`
	FPS     int           `yaml:"fps"`
	Loop    bool          `yaml:"loop"`
	Listen  string        `yaml:"listen"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Buffer  int           `yaml:"buffer"`
}

// SinkConfig controls what happens to decoded frames besides the HTTP snapshot.
type SinkConfig struct {
	SnapshotDir string `yaml:"snapshot_dir"` // empty disables writing frames to disk
	EveryN      int    `yaml:"every_n"`
	MaxWidth    int    `yaml:"max_width"`
}

// HTTPConfig controls the status API. An empty listen address disables it.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	Pprof  bool   `yaml:"pprof"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file.
// Environment variables in the form ${VAR} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Backend.QueueSize == 0 {
		cfg.Backend.QueueSize = emulated.DefaultQueueSize
	}

	s := &cfg.Source
	if s.Kind == "" {
		s.Kind = SourceFile
	}
	if s.Listen == "" {
		s.Listen = ":5004"
	}
	if s.Timeout == 0 {
		s.Timeout = 10 * time.Second
	}
	if s.Buffer == 0 {
		s.Buffer = 100
	}

	if cfg.Sink.EveryN == 0 {
		cfg.Sink.EveryN = 1
	}
}

// Validate checks values that defaults can not fix.
func (cfg *Config) Validate() error {
	var errs []error

	switch cfg.Source.Kind {
	case SourceFile:
		if cfg.Source.Path == "" {
			errs = append(errs, errors.New("config: source.path is required for a file source"))
		}
	case SourceRTP:
	case SourceRTSP:
		if cfg.Source.URL == "" {
			errs = append(errs, errors.New("config: source.url is required for an rtsp source"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: invalid source.kind %q (must be file, rtp or rtsp)", cfg.Source.Kind))
	}

	if cfg.Source.FPS < 0 {
		errs = append(errs, fmt.Errorf("config: source.fps must not be negative, got %d", cfg.Source.FPS))
	}
	if cfg.Source.Buffer < 0 {
		errs = append(errs, fmt.Errorf("config: source.buffer must not be negative, got %d", cfg.Source.Buffer))
	}
	if cfg.Decoder.SPSWindow < 0 || cfg.Decoder.PPSWindow < 0 {
		errs = append(errs, errors.New("config: decoder windows must not be negative"))
	}
	if cfg.Decoder.DispatchQueue < 0 || cfg.Decoder.DiagnosticsQueue < 0 || cfg.Backend.QueueSize < 0 {
		errs = append(errs, errors.New("config: queue sizes must not be negative"))
	}
	if cfg.Backend.Latency < 0 {
		errs = append(errs, errors.New("config: backend.latency must not be negative"))
	}
	if cfg.Sink.EveryN < 0 || cfg.Sink.MaxWidth < 0 {
		errs = append(errs, errors.New("config: sink.every_n and sink.max_width must not be negative"))
	}

	return errors.Join(errs...)
}

// DecoderOptions converts the decoder section.
func (cfg *Config) DecoderOptions() decoder.Config {
	return decoder.Config{
		SPSWindow:        cfg.Decoder.SPSWindow,
		PPSWindow:        cfg.Decoder.PPSWindow,
		DispatchQueue:    cfg.Decoder.DispatchQueue,
		DiagnosticsQueue: cfg.Decoder.DiagnosticsQueue,
		CopyInput:        cfg.Decoder.CopyInput,
		ReuseIdentical:   cfg.Decoder.ReuseIdentical,
	}
}

// BackendOptions converts the backend section.
func (cfg *Config) BackendOptions() emulated.Config {
	return emulated.Config{
		Latency:   cfg.Backend.Latency,
		QueueSize: cfg.Backend.QueueSize,
	}
}
