// Package config loads pdfstamp settings. Values are layered: defaults, a
// YAML file, PDFSTAMP_* environment variables (optionally from a .env file),
// then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/wudi/pdfstamp/compose"
	"github.com/wudi/pdfstamp/fonts"
)

type Config struct {
	Listen   string         `yaml:"listen"`
	LogLevel string         `yaml:"log_level"`
	Fonts    []fonts.Family `yaml:"fonts"`
	// ImageRoot is the directory path locators are resolved against.
	ImageRoot     string      `yaml:"image_root"`
	// ImageS3 enables s3://bucket/key image locators.
	ImageS3       bool        `yaml:"image_s3"`
	Store         StoreConfig `yaml:"store"`
	Sink          SinkConfig  `yaml:"sink"`
	Concurrency   int         `yaml:"concurrency"`
	DegradePolicy string      `yaml:"degrade_policy"`
	MaxUploadMB   int         `yaml:"max_upload_mb"`
	// Compression is the zlib level for new streams, -1 for the default.
	Compression int `yaml:"compression"`
}

// StoreConfig selects the job store: "memory" or "sqlite".
type StoreConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// SinkConfig selects where saved documents go: "dir" or "s3".
type SinkConfig struct {
	Type   string `yaml:"type"`
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

func Default() *Config {
	return &Config{
		Listen:      ":8080",
		LogLevel:    "info",
		ImageRoot:   ".",
		Store:       StoreConfig{Type: "memory", DSN: "pdfstamp.db"},
		Sink:        SinkConfig{Type: "dir", Dir: "."},
		MaxUploadMB: 64,
		Compression: -1,
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the environment. Missing files are not
// an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ApplyEnv overrides fields from PDFSTAMP_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup("PDFSTAMP_" + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup("PDFSTAMP_" + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PDFSTAMP_%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	str("LISTEN", &c.Listen)
	str("LOG_LEVEL", &c.LogLevel)
	str("IMAGE_ROOT", &c.ImageRoot)
	str("STORE", &c.Store.Type)
	str("STORE_DSN", &c.Store.DSN)
	str("SINK", &c.Sink.Type)
	str("SINK_DIR", &c.Sink.Dir)
	str("S3_BUCKET", &c.Sink.Bucket)
	str("S3_PREFIX", &c.Sink.Prefix)
	str("DEGRADE_POLICY", &c.DegradePolicy)
	if v, ok := lookup("PDFSTAMP_IMAGE_S3"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PDFSTAMP_IMAGE_S3: %w", err)
		}
		c.ImageS3 = b
	}
	return errors.Join(
		num("CONCURRENCY", &c.Concurrency),
		num("MAX_UPLOAD_MB", &c.MaxUploadMB),
		num("COMPRESSION", &c.Compression),
	)
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := compose.ParseDegradePolicy(c.DegradePolicy); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store type %q", c.Store.Type))
	}
	switch c.Sink.Type {
	case "dir":
		if c.Sink.Dir == "" {
			errs = append(errs, errors.New("sink.dir is required"))
		}
	case "s3":
		if c.Sink.Bucket == "" {
			errs = append(errs, errors.New("sink.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink type %q", c.Sink.Type))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("max_upload_mb must be > 0"))
	}
	if c.Compression < -1 || c.Compression > 9 {
		errs = append(errs, fmt.Errorf("compression %d out of range", c.Compression))
	}
	for i, f := range c.Fonts {
		if f.Name == "" || (f.Path == "" && f.URL == "") {
			errs = append(errs, fmt.Errorf("fonts[%d]: name and a path or url are required", i))
		}
	}
	return errors.Join(errs...)
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

// Flags are command-line overrides. Only flags given explicitly replace
// loaded values.
type Flags struct {
	fs          *flag.FlagSet
	ConfigPath  string
	listen      string
	logLevel    string
	concurrency int
	degrade     string
	images      string
}

func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to a YAML configuration file.")
	fs.StringVar(&f.listen, "listen", ":8080", "The address to listen on.")
	fs.StringVar(&f.logLevel, "loglevel", "info", "The log level (debug, info, warn, error).")
	fs.IntVar(&f.concurrency, "concurrency", 0, "Maximum annotations resolved at once (0 for the default).")
	fs.StringVar(&f.degrade, "degrade", "", "Degrade policy: images-and-overlays, all or none.")
	fs.StringVar(&f.images, "images", "", "Directory image path locators are resolved against.")
	return f
}

func (f *Flags) Apply(c *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "listen":
			c.Listen = f.listen
		case "loglevel":
			c.LogLevel = f.logLevel
		case "concurrency":
			c.Concurrency = f.concurrency
		case "degrade":
			c.DegradePolicy = f.degrade
		case "images":
			c.ImageRoot = f.images
		}
	})
}

// NewLogger returns a logrus logger at the configured level.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l, nil
}
