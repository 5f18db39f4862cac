package startup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"media-thumbnailer/internal/pipeline"
)

// JPEG quality band accepted by the image pipeline.
const (
	MinJPEGQuality = pipeline.MinQuality
	MaxJPEGQuality = pipeline.MaxQuality
)

// Config holds all application configuration. Values come from, in order of
// increasing precedence: Defaults, the YAML file named by CONFIG_FILE, and
// environment variables.
type Config struct {
	Port           string `yaml:"port" env:"PORT"`
	MetricsPort    string `yaml:"metricsPort" env:"METRICS_PORT"`
	MetricsEnabled bool   `yaml:"metricsEnabled" env:"METRICS_ENABLED"`

	// Deadline is the per-request wall-clock budget.
	Deadline time.Duration `yaml:"deadline" env:"THUMBNAIL_DEADLINE"`
	// Grace is how long a timed-out worker gets to release native handles
	// before its outcome is delivered without it.
	Grace time.Duration `yaml:"grace" env:"THUMBNAIL_GRACE"`
	// Workers caps concurrent decodes; 0 means one per CPU.
	Workers int `yaml:"workers" env:"THUMBNAIL_WORKERS"`

	DecoderTiers    []string `yaml:"decoderTiers" env:"DECODER_TIERS" envSeparator:","`
	PipelineBackend string   `yaml:"pipelineBackend" env:"PIPELINE_BACKEND"`
	JPEGQuality     int      `yaml:"jpegQuality" env:"JPEG_QUALITY"`
	FFmpegPath      string   `yaml:"ffmpegPath" env:"FFMPEG_PATH"`
	FFprobePath     string   `yaml:"ffprobePath" env:"FFPROBE_PATH"`

	// MediaRoots restricts accepted paths to these directories. Empty
	// accepts any absolute path.
	MediaRoots []string `yaml:"mediaRoots" env:"MEDIA_ROOTS" envSeparator:","`

	OTelEndpoint string `yaml:"otelEndpoint" env:"OTEL_ENDPOINT"`

	LogLevel        string `yaml:"logLevel" env:"LOG_LEVEL"`
	LogFormat       string `yaml:"logFormat" env:"LOG_FORMAT"`
	LogColor        bool   `yaml:"logColor" env:"LOG_COLOR"`
	LogHealthChecks bool   `yaml:"logHealthChecks" env:"LOG_HEALTH_CHECKS"`

	MemoryLimit int64   `yaml:"memoryLimit" env:"MEMORY_LIMIT"`
	MemoryRatio float64 `yaml:"memoryRatio" env:"MEMORY_RATIO"`

	// File is the config file that was read, if any.
	File string `yaml:"-"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:            "8080",
		MetricsPort:     "9090",
		MetricsEnabled:  true,
		Deadline:        10 * time.Second,
		Grace:           2 * time.Second,
		DecoderTiers:    []string{"platform", "libav"},
		PipelineBackend: "go",
		JPEGQuality:     pipeline.DefaultQuality,
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		LogLevel:        "info",
		LogFormat:       "text",
		LogColor:        true,
		LogHealthChecks: true,
	}
}

// Load builds a Config from defaults, an optional YAML file and the given
// environment (as returned by os.Environ).
func Load(environ []string) (*Config, error) {
	vars := env.ToMap(environ)
	cfg := Defaults()

	if file := vars["CONFIG_FILE"]; file != "" {
		if err := readFile(file, &cfg); err != nil {
			return nil, err
		}
		cfg.File = file
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	tiers := c.DecoderTiers[:0:0]
	for _, t := range c.DecoderTiers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(tiers, t) {
			tiers = append(tiers, t)
		}
	}
	c.DecoderTiers = tiers

	roots := c.MediaRoots[:0:0]
	for _, r := range c.MediaRoots {
		if r = strings.TrimSpace(r); r != "" {
			roots = append(roots, filepath.Clean(r))
		}
	}
	c.MediaRoots = roots

	c.PipelineBackend = strings.ToLower(strings.TrimSpace(c.PipelineBackend))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.JPEGQuality = ClampQuality(c.JPEGQuality)
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error

	if c.Deadline <= 0 {
		errs = append(errs, fmt.Errorf("THUMBNAIL_DEADLINE must be positive, got %v", c.Deadline))
	}
	if c.Grace < 0 {
		errs = append(errs, fmt.Errorf("THUMBNAIL_GRACE must not be negative, got %v", c.Grace))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("THUMBNAIL_WORKERS must not be negative, got %d", c.Workers))
	}
	if len(c.DecoderTiers) == 0 {
		errs = append(errs, errors.New("DECODER_TIERS must name at least one tier"))
	}
	switch c.PipelineBackend {
	case "go", "vips":
	default:
		errs = append(errs, fmt.Errorf("PIPELINE_BACKEND must be go or vips, got %q", c.PipelineBackend))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	for _, r := range c.MediaRoots {
		if !filepath.IsAbs(r) {
			errs = append(errs, fmt.Errorf("MEDIA_ROOTS entry %q is not absolute", r))
		}
	}

	return errors.Join(errs...)
}

// ClampQuality forces q into the accepted JPEG quality band.
func ClampQuality(q int) int {
	return pipeline.ClampQuality(q)
}
