package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	appOnce   sync.Once
	appConfig *Config
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Document  DocumentConfig  `yaml:"document"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

type PipelineConfig struct {
	// Workers bounds per-item parallelism inside one batch. 1 means sequential.
	Workers     int `yaml:"workers"`
	JPEGQuality int `yaml:"jpeg_quality"`
}

type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

type DocumentConfig struct {
	Zoom     float64 `yaml:"zoom"`
	MaxPages int     `yaml:"max_pages"`
}

type SegmenterConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	// Type is "s3", "minio", "memory" or empty for no archive store.
	// "memory" only works with queue.embedded_worker.
	Type            string        `yaml:"type"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type QueueConfig struct {
	RedisAddr   string        `yaml:"redis_addr"`
	RedisDB     int           `yaml:"redis_db"`
	Concurrency int           `yaml:"concurrency"`
	MaxRetries  int           `yaml:"max_retries"`
	Timeout     time.Duration `yaml:"timeout"`
	StatusTTL   time.Duration `yaml:"status_ttl"`

	// EmbeddedWorker runs the batch worker inside the API server process.
	EmbeddedWorker bool `yaml:"embedded_worker"`
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxUploadBytes:  50 * 1024 * 1024,
			RequestTimeout:  10 * time.Minute,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
		},
		Pipeline: PipelineConfig{
			Workers:     1,
			JPEGQuality: 90,
		},
		Fetch: FetchConfig{
			Timeout:  30 * time.Second,
			MaxBytes: 50 * 1024 * 1024,
		},
		Document: DocumentConfig{
			Zoom:     1.45,
			MaxPages: 200,
		},
		Segmenter: SegmenterConfig{
			Endpoint: "http://localhost:7000",
			Model:    "briaai/RMBG-1.4",
			Timeout:  2 * time.Minute,
		},
		Storage: StorageConfig{
			Retention:       24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Queue: QueueConfig{
			RedisAddr:   "localhost:6379",
			Concurrency: 4,
			MaxRetries:  3,
			Timeout:     30 * time.Minute,
			StatusTTL:   24 * time.Hour,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if it exists) and
// the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be in [1,100], got %d", c.Pipeline.JPEGQuality)
	}
	if c.Document.Zoom <= 0 {
		return fmt.Errorf("document.zoom must be positive, got %v", c.Document.Zoom)
	}
	switch c.Storage.Type {
	case "", "s3", "minio":
	case "memory":
		if !c.Queue.EmbeddedWorker {
			return fmt.Errorf("storage.type memory requires queue.embedded_worker")
		}
	default:
		return fmt.Errorf("unsupported storage.type %q", c.Storage.Type)
	}
	if c.Queue.EmbeddedWorker && c.Storage.Type == "" {
		return fmt.Errorf("queue.embedded_worker requires a storage.type")
	}
	return nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	appOnce.Do(func() {
		loadDotEnv()

		path := os.Getenv("PHOTOMASTER_CONFIG")
		if path == "" {
			path = "config.yaml"
		}

		cfg, err := Load(path)
		if err != nil {
			log.Printf("Warning: %v, falling back to defaults", err)
			cfg = Default()
			applyEnv(cfg)
		}
		appConfig = cfg
	})
	return appConfig
}

// loadDotEnv loads the .env file at the project root, if any.
func loadDotEnv() {
	_, filename, _, _ := runtime.Caller(0)
	rootDir := filepath.Dir(filepath.Dir(filename))
	envPath := filepath.Join(rootDir, ".env")

	if err := godotenv.Load(envPath); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
		}
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "PHOTOMASTER_ADDR")
	setInt64(&cfg.Server.MaxUploadBytes, "PHOTOMASTER_MAX_UPLOAD_BYTES")
	setDuration(&cfg.Server.RequestTimeout, "PHOTOMASTER_REQUEST_TIMEOUT")

	setString(&cfg.Log.Level, "PHOTOMASTER_LOG_LEVEL")
	setString(&cfg.Log.Encoding, "PHOTOMASTER_LOG_ENCODING")

	setInt(&cfg.Pipeline.Workers, "PHOTOMASTER_WORKERS")
	setInt(&cfg.Pipeline.JPEGQuality, "PHOTOMASTER_JPEG_QUALITY")

	setDuration(&cfg.Fetch.Timeout, "PHOTOMASTER_FETCH_TIMEOUT")
	setInt64(&cfg.Fetch.MaxBytes, "PHOTOMASTER_FETCH_MAX_BYTES")

	setInt(&cfg.Document.MaxPages, "PHOTOMASTER_MAX_PAGES")

	setString(&cfg.Segmenter.Endpoint, "PHOTOMASTER_SEGMENTER_ENDPOINT")
	setString(&cfg.Segmenter.Model, "PHOTOMASTER_SEGMENTER_MODEL")
	setDuration(&cfg.Segmenter.Timeout, "PHOTOMASTER_SEGMENTER_TIMEOUT")

	setString(&cfg.Storage.Type, "PHOTOMASTER_STORAGE")

	setString(&cfg.Queue.RedisAddr, "REDIS_ADDR")
	setInt(&cfg.Queue.RedisDB, "REDIS_DB")
	setInt(&cfg.Queue.Concurrency, "PHOTOMASTER_QUEUE_CONCURRENCY")
	setBool(&cfg.Queue.EmbeddedWorker, "PHOTOMASTER_EMBEDDED_WORKER")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		} else {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		} else {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		}
	}
}
