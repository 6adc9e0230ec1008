package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete player configuration.
//
// Sources in order of precedence: environment variables (RETRODUCER_*),
// the configuration file, then defaults.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Volume    VolumeConfig    `mapstructure:"volume" yaml:"volume"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`

	// ChunkSize is the size of the slices an inbound upload is cut into
	// before being handed to the scheduler loop.
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gt=0,lte=65536"`

	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`

	// StatusPushRate bounds websocket status pushes per second.
	StatusPushRate int `mapstructure:"status_push_rate" yaml:"status_push_rate" validate:"gte=0"`
}

type NetworkConfig struct {
	SSID      string `mapstructure:"ssid" yaml:"ssid" validate:"required"`
	Interface string `mapstructure:"interface" yaml:"interface"`
	Address   string `mapstructure:"address" yaml:"address" validate:"omitempty,ip"`
}

// StorageConfig selects the storage backend. Only the section matching
// Type is used.
type StorageConfig struct {
	Type       string         `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`
	Memory     map[string]any `mapstructure:"memory" yaml:"memory"`
	S3         map[string]any `mapstructure:"s3" yaml:"s3"`
}

type AudioConfig struct {
	// Output is "null" or a file path receiving the PCM stream.
	Output      string `mapstructure:"output" yaml:"output" validate:"required"`
	SampleRate  int    `mapstructure:"sample_rate" yaml:"sample_rate" validate:"oneof=8000 16000 22050 24000 32000 44100 48000"`
	Channels    int    `mapstructure:"channels" yaml:"channels" validate:"oneof=1 2"`
	BufferBytes int    `mapstructure:"buffer_bytes" yaml:"buffer_bytes" validate:"gt=0"`
	ReadBlock   int    `mapstructure:"read_block" yaml:"read_block" validate:"gt=0,ltefield=BufferBytes"`
}

type VolumeConfig struct {
	Min     int `mapstructure:"min" yaml:"min" validate:"gte=0"`
	Max     int `mapstructure:"max" yaml:"max" validate:"gtfield=Min"`
	Default int `mapstructure:"default" yaml:"default"`
}

type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval" validate:"gt=0"`
}

type HistoryConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir      string `mapstructure:"dir" yaml:"dir"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`
	Limit    int    `mapstructure:"limit" yaml:"limit" validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

var validate = validator.New()

// Load loads configuration from file, environment, and defaults.
// An empty configPath searches the default location; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(GetConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// bindEnv registers scalar keys so AutomaticEnv can override them even
// when the config file does not mention them.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.address", "server.chunk_size", "server.max_upload_bytes",
		"network.ssid", "network.interface", "network.address",
		"storage.type", "audio.output", "volume.default",
		"history.enabled", "history.dir", "metrics.enabled",
	} {
		_ = v.BindEnv(key)
	}
}

// Default returns a configuration holding only default values.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultListenAddress
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.ChunkSize == 0 {
		cfg.Server.ChunkSize = DefaultChunkSize
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Server.StatusPushRate == 0 {
		cfg.Server.StatusPushRate = DefaultStatusPushRate
	}

	if cfg.Network.SSID == "" {
		cfg.Network.SSID = DefaultSSID
	}
	if cfg.Network.Interface == "" && cfg.Network.Address == "" {
		cfg.Network.Address = DefaultAPAddress
	}

	applyStorageDefaults(&cfg.Storage)

	if cfg.Audio.Output == "" {
		cfg.Audio.Output = "null"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.BufferBytes == 0 {
		cfg.Audio.BufferBytes = DefaultOutputBuffer
	}
	if cfg.Audio.ReadBlock == 0 {
		cfg.Audio.ReadBlock = DefaultReadBlockSize
	}

	if cfg.Volume.Min == 0 && cfg.Volume.Max == 0 {
		cfg.Volume.Min = DefaultVolumeMin
		cfg.Volume.Max = DefaultVolumeMax
		if cfg.Volume.Default == 0 {
			cfg.Volume.Default = DefaultVolume
		}
	}

	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = DefaultTickInterval
	}

	if cfg.History.Dir == "" {
		cfg.History.Dir = DefaultHistoryPath
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = DefaultHistoryLimit
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = DefaultStoragePath
	}
	if _, ok := cfg.Memory["max_size_bytes"]; !ok {
		cfg.Memory["max_size_bytes"] = uint64(256 << 20)
	}
}

// Validate runs struct tag validation followed by cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.Volume.Default < cfg.Volume.Min || cfg.Volume.Default > cfg.Volume.Max {
		return fmt.Errorf("volume.default: %d outside [%d, %d]", cfg.Volume.Default, cfg.Volume.Min, cfg.Volume.Max)
	}
	if cfg.Storage.Type == "s3" {
		if bucket, _ := cfg.Storage.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("storage.s3.bucket: required when storage.type is s3")
		}
	}
	if cfg.History.Enabled && !cfg.History.InMemory && cfg.History.Dir == "" {
		return fmt.Errorf("history.dir: required unless history.in_memory is set")
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

// GetConfigDir returns $XDG_CONFIG_HOME/retroducer, falling back to
// ~/.config/retroducer, or the working directory as a last resort.
func GetConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", AppName)
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Save writes cfg as YAML to path, creating parent directories. An existing
// file is only replaced when overwrite is set.
func Save(cfg *Config, path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
