package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/calign/retime/internal/video"
)

type Config struct {
	Convert ConvertConfig `mapstructure:"convert"`
	IO      IOConfig      `mapstructure:"io"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Server  ServerConfig  `mapstructure:"server"`
}

// ConvertConfig holds the frame rate conversion options.
type ConvertConfig struct {
	// FPS is the output frame rate: "60", "60000/1001", "29.97" or one of
	// the named rates ntsc, pal, film, ntsc-film.
	FPS string `mapstructure:"fps"`

	// InterpStart and InterpEnd bound the blending window on the 0..255
	// position scale. Outside the window the nearer source frame is cloned.
	InterpStart int `mapstructure:"interp_start"`
	InterpEnd   int `mapstructure:"interp_end"`

	// Scene is the detection threshold (0..100) above which a pair is
	// treated as a scene change and never blended.
	Scene             float64 `mapstructure:"scene"`
	SceneChangeDetect bool    `mapstructure:"scene_change_detect"`

	// Workers caps the per-frame blend parallelism. Zero selects the
	// number of CPUs.
	Workers int `mapstructure:"workers"`
}

// Rate parses the configured output frame rate.
func (c *ConvertConfig) Rate() (video.Rational, error) {
	return video.ParseRate(c.FPS)
}

// IOConfig describes the input and output endpoints. "-" selects the
// standard streams.
type IOConfig struct {
	Input  string `mapstructure:"input"`
	Output string `mapstructure:"output"`

	// Realtime paces output delivery to the output frame rate.
	Realtime bool `mapstructure:"realtime"`

	// Progress renders a progress bar on stderr.
	Progress bool `mapstructure:"progress"`

	ReadBuffer  int `mapstructure:"read_buffer"`
	WriteBuffer int `mapstructure:"write_buffer"`
}

// MemoryConfig bounds frame buffer allocations.
type MemoryConfig struct {
	MaxTotal      int64 `mapstructure:"max_total"`       // Total memory limit in bytes
	MaxPerSession int64 `mapstructure:"max_per_session"` // Per-session memory limit in bytes
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// ServerConfig configures the HTTP status server.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`
}

// Load reads the configuration file, applies RETIME_* environment
// overrides and validates the result. An empty path loads defaults only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("RETIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Conversion defaults
	v.SetDefault("convert.fps", "50/1")
	v.SetDefault("convert.interp_start", 15)
	v.SetDefault("convert.interp_end", 240)
	v.SetDefault("convert.scene", 8.2)
	v.SetDefault("convert.scene_change_detect", true)
	v.SetDefault("convert.workers", 0)

	// IO defaults
	v.SetDefault("io.input", "-")
	v.SetDefault("io.output", "-")
	v.SetDefault("io.realtime", false)
	v.SetDefault("io.progress", false)
	v.SetDefault("io.read_buffer", 1048576)  // 1MB
	v.SetDefault("io.write_buffer", 1048576) // 1MB

	// Memory defaults
	v.SetDefault("memory.max_total", 1073741824)      // 1GB
	v.SetDefault("memory.max_per_session", 536870912) // 512MB

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Status server defaults. One-shot CLI runs do not want listeners;
	// long encodes and retime-top turn these on.
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug_endpoints", false)
}
