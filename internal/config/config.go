package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Segmenter  SegmenterConfig  `mapstructure:"segmenter"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr               string `mapstructure:"addr"`
	GinMode            string `mapstructure:"gin_mode"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec"`
	ReadTimeoutSec     int    `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec    int    `mapstructure:"write_timeout_sec"`
	MaxUploadSizeMB    int    `mapstructure:"max_upload_size_mb"`
	CORSAllowedOrigins string `mapstructure:"cors_allowed_origins"`
}

type ProcessingConfig struct {
	SupportedFormats  []string `mapstructure:"supported_formats"`
	MinDimension      int      `mapstructure:"min_dimension"`
	MaxPixels         int64    `mapstructure:"max_pixels"`
	RequestTimeoutSec int      `mapstructure:"request_timeout_sec"`
	MaxConcurrent     int      `mapstructure:"max_concurrent"`
}

type SegmenterConfig struct {
	Backend        string `mapstructure:"backend"`
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	CLIPath        string `mapstructure:"cli_path"`
	HTTPTimeoutSec int    `mapstructure:"http_timeout_sec"`

	AlphaMattingForegroundThreshold int `mapstructure:"alpha_matting_foreground_threshold"`
	AlphaMattingBackgroundThreshold int `mapstructure:"alpha_matting_background_threshold"`
	AlphaMattingErodeSize           int `mapstructure:"alpha_matting_erode_size"`

	// local backend
	LocalTolerance  float64 `mapstructure:"local_tolerance"`
	LocalWorkingMax int     `mapstructure:"local_working_max"`
	LocalBlurSigma  float64 `mapstructure:"local_blur_sigma"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

const (
	BackendLocal     = "local"
	BackendRembgHTTP = "rembg_http"
	BackendRembgCLI  = "rembg_cli"
)

func Load(path string) (*Config, error) {
	cfg := config.New()

	configPath := path
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		} else if _, err := os.Stat("/app/config.yaml"); err == nil {
			configPath = "/app/config.yaml"
		} else {
			return nil, fmt.Errorf("config.yaml not found")
		}
	}

	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = ""
	}

	if err := cfg.Load(configPath, envPath, "APP"); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appConfig := &Config{}
	if err := cfg.Unmarshal(appConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(appConfig)

	if err := validateConfig(appConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	zlog.Logger.Info().
		Str("addr", appConfig.Server.Addr).
		Str("segmenter", appConfig.Segmenter.Backend).
		Strs("supported_formats", appConfig.Processing.SupportedFormats).
		Int64("max_pixels", appConfig.Processing.MaxPixels).
		Int("max_concurrent", appConfig.Processing.MaxConcurrent).
		Msg("Config loaded successfully via wbf")

	return appConfig, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.GinMode == "" {
		cfg.Server.GinMode = "release"
	}
	if cfg.Server.ShutdownTimeoutSec == 0 {
		cfg.Server.ShutdownTimeoutSec = 10
	}
	if cfg.Server.ReadTimeoutSec == 0 {
		cfg.Server.ReadTimeoutSec = 30
	}
	if cfg.Server.WriteTimeoutSec == 0 {
		cfg.Server.WriteTimeoutSec = 60
	}
	if cfg.Server.MaxUploadSizeMB == 0 {
		cfg.Server.MaxUploadSizeMB = 50
	}
	if cfg.Server.CORSAllowedOrigins == "" {
		cfg.Server.CORSAllowedOrigins = "*"
	}

	if len(cfg.Processing.SupportedFormats) == 0 {
		cfg.Processing.SupportedFormats = []string{"png", "jpeg", "webp", "bmp"}
	}
	if cfg.Processing.MinDimension == 0 {
		cfg.Processing.MinDimension = 10
	}
	if cfg.Processing.MaxPixels == 0 {
		cfg.Processing.MaxPixels = 4096 * 4096
	}
	if cfg.Processing.RequestTimeoutSec == 0 {
		cfg.Processing.RequestTimeoutSec = 30
	}
	if cfg.Processing.MaxConcurrent == 0 {
		cfg.Processing.MaxConcurrent = runtime.NumCPU()
	}

	if cfg.Segmenter.Backend == "" {
		cfg.Segmenter.Backend = BackendLocal
	}
	if cfg.Segmenter.Model == "" {
		cfg.Segmenter.Model = "u2net"
	}
	if cfg.Segmenter.CLIPath == "" {
		cfg.Segmenter.CLIPath = "rembg"
	}
	if cfg.Segmenter.HTTPTimeoutSec == 0 {
		cfg.Segmenter.HTTPTimeoutSec = 60
	}
	if cfg.Segmenter.AlphaMattingForegroundThreshold == 0 {
		cfg.Segmenter.AlphaMattingForegroundThreshold = 240
	}
	if cfg.Segmenter.AlphaMattingBackgroundThreshold == 0 {
		cfg.Segmenter.AlphaMattingBackgroundThreshold = 10
	}
	if cfg.Segmenter.AlphaMattingErodeSize == 0 {
		cfg.Segmenter.AlphaMattingErodeSize = 10
	}
	if cfg.Segmenter.LocalTolerance == 0 {
		cfg.Segmenter.LocalTolerance = 0.12
	}
	if cfg.Segmenter.LocalWorkingMax == 0 {
		cfg.Segmenter.LocalWorkingMax = 1024
	}
	if cfg.Segmenter.LocalBlurSigma == 0 {
		cfg.Segmenter.LocalBlurSigma = 1.5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validateConfig(cfg *Config) error {
	// Server
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if cfg.Server.ShutdownTimeoutSec <= 0 {
		return fmt.Errorf("server.shutdown_timeout_sec must be positive")
	}
	if cfg.Server.ReadTimeoutSec <= 0 {
		return fmt.Errorf("server.read_timeout_sec must be positive")
	}
	if cfg.Server.WriteTimeoutSec <= 0 {
		return fmt.Errorf("server.write_timeout_sec must be positive")
	}
	if cfg.Server.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("server.max_upload_size_mb must be positive")
	}

	// Processing
	if len(cfg.Processing.SupportedFormats) == 0 {
		return fmt.Errorf("processing.supported_formats must contain at least one format")
	}
	for _, f := range cfg.Processing.SupportedFormats {
		if !isKnownFormat(f) {
			return fmt.Errorf("processing.supported_formats: unknown format %q (png|jpeg|webp|bmp)", f)
		}
	}
	if cfg.Processing.MinDimension <= 0 {
		return fmt.Errorf("processing.min_dimension must be positive")
	}
	if cfg.Processing.MaxPixels < int64(cfg.Processing.MinDimension)*int64(cfg.Processing.MinDimension) {
		return fmt.Errorf("processing.max_pixels must allow at least min_dimension x min_dimension")
	}
	if cfg.Processing.RequestTimeoutSec <= 0 {
		return fmt.Errorf("processing.request_timeout_sec must be positive")
	}
	if cfg.Server.WriteTimeoutSec <= cfg.Processing.RequestTimeoutSec {
		return fmt.Errorf("server.write_timeout_sec must exceed processing.request_timeout_sec so that timeouts can be reported")
	}
	if cfg.Processing.MaxConcurrent <= 0 {
		return fmt.Errorf("processing.max_concurrent must be positive")
	}

	// Segmenter
	switch cfg.Segmenter.Backend {
	case BackendLocal:
		if cfg.Segmenter.LocalTolerance <= 0 || cfg.Segmenter.LocalTolerance >= 1 {
			return fmt.Errorf("segmenter.local_tolerance must be in (0, 1)")
		}
		if cfg.Segmenter.LocalWorkingMax <= 0 {
			return fmt.Errorf("segmenter.local_working_max must be positive")
		}
	case BackendRembgHTTP:
		if cfg.Segmenter.Endpoint == "" {
			return fmt.Errorf("segmenter.endpoint is required for rembg_http backend")
		}
	case BackendRembgCLI:
		if cfg.Segmenter.CLIPath == "" {
			return fmt.Errorf("segmenter.cli_path is required for rembg_cli backend")
		}
	default:
		return fmt.Errorf("segmenter.backend must be one of local, rembg_http, rembg_cli")
	}
	if !inByteRange(cfg.Segmenter.AlphaMattingForegroundThreshold) || !inByteRange(cfg.Segmenter.AlphaMattingBackgroundThreshold) {
		return fmt.Errorf("segmenter alpha matting thresholds must be in [0, 255]")
	}
	if cfg.Segmenter.AlphaMattingErodeSize < 0 {
		return fmt.Errorf("segmenter.alpha_matting_erode_size must be non-negative")
	}

	if cfg.Logging.Level == "" {
		return fmt.Errorf("logging.level is required")
	}

	return nil
}

func isKnownFormat(f string) bool {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "png", "jpeg", "jpg", "webp", "bmp":
		return true
	}
	return false
}

func inByteRange(v int) bool {
	return v >= 0 && v <= 255
}
