package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"

	"github.com/hupe1980/kcache"
	"github.com/hupe1980/kcache/bcache"
	"github.com/hupe1980/kcache/device"
)

var (
	errConfigFileRead = errors.New("cannot read config file")
	errConfigInvalid  = errors.New("invalid config file")
	errEnvInvalid     = errors.New("invalid environment")
)

// EnvPrefix prefixes every environment key the CLI reads.
const EnvPrefix = "KCACHE_"

const minBlockSize = 64

// Config holds all configuration options.
type Config struct {
	Buffers      int    `json:"buffers,omitempty"`
	Shards       int    `json:"shards,omitempty"`
	BlockSize    int    `json:"block_size,omitempty"`
	Blocks       uint32 `json:"blocks,omitempty"`
	Frames       int    `json:"frames,omitempty"`
	MemoryLimit  string `json:"memory_limit,omitempty"` // e.g. "64 MiB"; empty or "0" is unlimited
	IOLimit      string `json:"io_limit,omitempty"`     // bytes per second, e.g. "4 MB"
	FlushWorkers int64  `json:"flush_workers,omitempty"`
	Backpressure bool   `json:"backpressure,omitempty"`
	LogLevel     string `json:"log_level,omitempty"`
	LogFormat    string `json:"log_format,omitempty"` // "tint" or "json"

	Device DeviceConfig `json:"device"`
}

// DeviceConfig selects and configures the root block device.
type DeviceConfig struct {
	Kind        string `json:"kind,omitempty"` // memory, file, local, minio, s3
	Path        string `json:"path,omitempty"` // image file (file) or directory (local)
	Endpoint    string `json:"endpoint,omitempty"`
	Bucket      string `json:"bucket,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	Region      string `json:"region,omitempty"`
	AccessKey   string `json:"access_key,omitempty"`
	SecretKey   string `json:"secret_key,omitempty"`
	UseSSL      bool   `json:"use_ssl,omitempty"`
	Compression string `json:"compression,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Buffers:      bcache.DefaultBuffers,
		Shards:       bcache.DefaultShards,
		BlockSize:    device.DefaultBlockSize,
		Blocks:       kcache.DefaultBlocks,
		Frames:       kcache.DefaultFrames,
		FlushWorkers: 2,
		LogLevel:     "info",
		LogFormat:    "tint",
		Device: DeviceConfig{
			Kind:        "memory",
			Prefix:      "blocks",
			Compression: "none",
		},
	}
}

// LoadConfig loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. JSONC config file at configPath (if non-empty)
// 3. .env file at envFile (if non-empty), KCACHE_* keys only
// 4. Process environment, KCACHE_* keys only
// 5. CLI overrides.
func LoadConfig(configPath, envFile string, cliOverrides Config, environ []string) (Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileCfg, err := loadConfigFile(configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	vars := map[string]string{}
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %w", errEnvInvalid, envFile, err)
		}
		vars = fileVars
	}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			vars[k] = v
		}
	}
	envCfg, err := envConfig(vars)
	if err != nil {
		return Config{}, err
	}
	cfg = mergeConfig(cfg, envCfg)

	cfg = mergeConfig(cfg, cliOverrides)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", errConfigFileRead, path)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, nil
}

func parseConfig(data []byte) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

// envConfig reads the KCACHE_* keys of vars. Unknown keys are ignored.
func envConfig(vars map[string]string) (Config, error) {
	var cfg Config
	var errs []error

	atoi := func(key string, dst *int) {
		if v, ok := vars[EnvPrefix+key]; ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", errEnvInvalid, EnvPrefix, key, v))
				return
			}
			*dst = n
		}
	}
	str := func(key string, dst *string) {
		if v, ok := vars[EnvPrefix+key]; ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := vars[EnvPrefix+key]; ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", errEnvInvalid, EnvPrefix, key, v))
				return
			}
			*dst = b
		}
	}

	var blocks, workers int
	atoi("BUFFERS", &cfg.Buffers)
	atoi("SHARDS", &cfg.Shards)
	atoi("BLOCK_SIZE", &cfg.BlockSize)
	atoi("BLOCKS", &blocks)
	atoi("FRAMES", &cfg.Frames)
	atoi("FLUSH_WORKERS", &workers)
	str("MEMORY_LIMIT", &cfg.MemoryLimit)
	str("IO_LIMIT", &cfg.IOLimit)
	boolean("BACKPRESSURE", &cfg.Backpressure)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)

	str("DEVICE", &cfg.Device.Kind)
	str("DEVICE_PATH", &cfg.Device.Path)
	str("ENDPOINT", &cfg.Device.Endpoint)
	str("BUCKET", &cfg.Device.Bucket)
	str("PREFIX", &cfg.Device.Prefix)
	str("REGION", &cfg.Device.Region)
	str("ACCESS_KEY", &cfg.Device.AccessKey)
	str("SECRET_KEY", &cfg.Device.SecretKey)
	boolean("USE_SSL", &cfg.Device.UseSSL)
	str("COMPRESSION", &cfg.Device.Compression)

	if blocks < 0 {
		errs = append(errs, fmt.Errorf("%w: %sBLOCKS must not be negative", errEnvInvalid, EnvPrefix))
	}
	cfg.Blocks = uint32(blocks)
	cfg.FlushWorkers = int64(workers)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Buffers != 0 {
		base.Buffers = overlay.Buffers
	}
	if overlay.Shards != 0 {
		base.Shards = overlay.Shards
	}
	if overlay.BlockSize != 0 {
		base.BlockSize = overlay.BlockSize
	}
	if overlay.Blocks != 0 {
		base.Blocks = overlay.Blocks
	}
	if overlay.Frames != 0 {
		base.Frames = overlay.Frames
	}
	if overlay.MemoryLimit != "" {
		base.MemoryLimit = overlay.MemoryLimit
	}
	if overlay.IOLimit != "" {
		base.IOLimit = overlay.IOLimit
	}
	if overlay.FlushWorkers != 0 {
		base.FlushWorkers = overlay.FlushWorkers
	}
	if overlay.Backpressure {
		base.Backpressure = true
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}

	d, o := &base.Device, overlay.Device
	if o.Kind != "" {
		d.Kind = o.Kind
	}
	if o.Path != "" {
		d.Path = o.Path
	}
	if o.Endpoint != "" {
		d.Endpoint = o.Endpoint
	}
	if o.Bucket != "" {
		d.Bucket = o.Bucket
	}
	if o.Prefix != "" {
		d.Prefix = o.Prefix
	}
	if o.Region != "" {
		d.Region = o.Region
	}
	if o.AccessKey != "" {
		d.AccessKey = o.AccessKey
	}
	if o.SecretKey != "" {
		d.SecretKey = o.SecretKey
	}
	if o.UseSSL {
		d.UseSSL = true
	}
	if o.Compression != "" {
		d.Compression = o.Compression
	}
	return base
}

func validateConfig(cfg Config) error {
	var errs []error

	if cfg.Buffers <= 0 {
		errs = append(errs, fmt.Errorf("buffers must be positive, got %d", cfg.Buffers))
	}
	if cfg.Shards <= 0 {
		errs = append(errs, fmt.Errorf("shards must be positive, got %d", cfg.Shards))
	}
	if cfg.BlockSize < minBlockSize || cfg.BlockSize&(cfg.BlockSize-1) != 0 {
		errs = append(errs, fmt.Errorf("block_size must be a power of two of at least %d, got %d", minBlockSize, cfg.BlockSize))
	}
	if cfg.Blocks == 0 {
		errs = append(errs, errors.New("blocks must be positive"))
	}
	if cfg.Frames <= 0 {
		errs = append(errs, fmt.Errorf("frames must be positive, got %d", cfg.Frames))
	}
	if cfg.FlushWorkers <= 0 {
		errs = append(errs, fmt.Errorf("flush_workers must be positive, got %d", cfg.FlushWorkers))
	}
	if _, err := cfg.memoryLimit(); err != nil {
		errs = append(errs, err)
	}
	if limit, err := cfg.ioLimit(); err != nil {
		errs = append(errs, err)
	} else if limit > 0 && limit < int64(cfg.BlockSize) {
		errs = append(errs, fmt.Errorf("io_limit %s is below one block (%d bytes)", cfg.IOLimit, cfg.BlockSize))
	}
	if _, err := cfg.logLevel(); err != nil {
		errs = append(errs, err)
	}
	if cfg.LogFormat != "tint" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be tint or json, got %q", cfg.LogFormat))
	}
	if _, err := device.ParseCompression(cfg.Device.Compression); err != nil {
		errs = append(errs, err)
	}

	switch cfg.Device.Kind {
	case "memory":
	case "file", "local":
		if cfg.Device.Path == "" {
			errs = append(errs, fmt.Errorf("device %s requires a path", cfg.Device.Kind))
		}
	case "minio", "s3":
		if cfg.Device.Bucket == "" {
			errs = append(errs, fmt.Errorf("device %s requires a bucket", cfg.Device.Kind))
		}
		if cfg.Device.Kind == "minio" && cfg.Device.Endpoint == "" {
			errs = append(errs, errors.New("device minio requires an endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown device kind %q", cfg.Device.Kind))
	}

	return errors.Join(errs...)
}

func parseSize(field, s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return int64(n), nil
}

func (c Config) memoryLimit() (int64, error) { return parseSize("memory_limit", c.MemoryLimit) }

func (c Config) ioLimit() (int64, error) { return parseSize("io_limit", c.IOLimit) }

func (c Config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// FormatConfig returns the config as formatted JSON with secrets masked.
func FormatConfig(cfg Config) (string, error) {
	if cfg.Device.SecretKey != "" {
		cfg.Device.SecretKey = "****"
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}
	return string(data), nil
}
