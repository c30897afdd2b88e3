// Package config loads the speech-ai-api configuration and sets up logging.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for the service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Model       ModelConfig       `mapstructure:"model"`
	Spectrogram SpectrogramConfig `mapstructure:"spectrogram"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	UploadDir      string `mapstructure:"upload_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// ModelConfig points at the ONNX classifier and its metadata sidecar.
type ModelConfig struct {
	Path         string `mapstructure:"path"`
	MetadataPath string `mapstructure:"metadata_path"`
	UseGPU       bool   `mapstructure:"use_gpu"`
	LibraryPath  string `mapstructure:"library_path"` // onnxruntime shared library, empty for the default lookup
}

// SpectrogramConfig controls feature extraction.
type SpectrogramConfig struct {
	SampleRate int `mapstructure:"sample_rate"` // 0 keeps the native rate
	NFFT       int `mapstructure:"n_fft"`
	HopLength  int `mapstructure:"hop_length"`
	Width      int `mapstructure:"width"`
	Height     int `mapstructure:"height"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from a .env file, the config file, environment
// variables and defaults, in increasing order of precedence for env over file.
// If configFile is empty the search order is ./speech-ai-api.yaml,
// ./configs/speech-ai-api.yaml, /etc/speech-ai-api/speech-ai-api.yaml.
func Load(configFile string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upload_dir", "mp3_files")
	v.SetDefault("server.max_upload_bytes", int64(50<<20))
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("model.path", "models/yolo11n-best.onnx")
	v.SetDefault("model.metadata_path", "models/model_metadata.json")
	v.SetDefault("model.use_gpu", true)
	v.SetDefault("model.library_path", "")
	v.SetDefault("spectrogram.sample_rate", 0)
	v.SetDefault("spectrogram.n_fft", 2048)
	v.SetDefault("spectrogram.hop_length", 512)
	v.SetDefault("spectrogram.width", 400)
	v.SetDefault("spectrogram.height", 400)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("speech-ai-api")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/speech-ai-api")
	}

	// SPEECHAI_SERVER_PORT, SPEECHAI_MODEL_PATH, etc.
	v.SetEnvPrefix("SPEECHAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// PORT wins when the prefixed variable is not set.
	if port := os.Getenv("PORT"); port != "" && os.Getenv("SPEECHAI_SERVER_PORT") == "" {
		if _, err := fmt.Sscanf(port, "%d", &cfg.Server.Port); err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	s := c.Spectrogram
	switch {
	case s.NFFT <= 0 || s.NFFT%2 != 0:
		return fmt.Errorf("spectrogram.n_fft must be a positive even number, got %d", s.NFFT)
	case s.HopLength <= 0:
		return fmt.Errorf("spectrogram.hop_length must be positive, got %d", s.HopLength)
	case s.Width <= 0 || s.Height <= 0:
		return fmt.Errorf("spectrogram size must be positive, got %dx%d", s.Width, s.Height)
	case s.SampleRate < 0:
		return fmt.Errorf("spectrogram.sample_rate must not be negative, got %d", s.SampleRate)
	}
	if c.Server.UploadDir == "" {
		return errors.New("server.upload_dir is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
