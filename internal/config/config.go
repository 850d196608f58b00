package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Backend kinds selectable at startup.
const (
	BackendMock   = "mock"
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	ONNX    ONNXConfig    `mapstructure:"onnx"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Debug           bool          `mapstructure:"debug"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxImageBytes   int64         `mapstructure:"max_image_bytes"`
}

type BackendConfig struct {
	Kind string `mapstructure:"kind"`
}

type ONNXConfig struct {
	ModelPath      string        `mapstructure:"model_path"`
	MetadataPath   string        `mapstructure:"metadata_path"`
	LibraryPath    string        `mapstructure:"library_path"`
	ScoreThreshold float32       `mapstructure:"score_threshold"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout"`
	Warmup         bool          `mapstructure:"warmup"`
}

type RemoteConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Load reads the YAML config at path. A missing file is not an error: the
// service runs on defaults so the bare binary stays useful.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the parts of the config that cannot be defaulted away.
// Called after CLI flags have been applied.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendMock, BackendONNX, BackendRemote:
	default:
		return fmt.Errorf("unknown backend kind %q (expected %s, %s or %s)",
			c.Backend.Kind, BackendMock, BackendONNX, BackendRemote)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Backend.Kind == BackendRemote && c.Remote.BaseURL == "" {
		return errors.New("remote backend requires remote.base_url")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_image_bytes", 10*1024*1024)

	v.SetDefault("backend.kind", BackendONNX)

	v.SetDefault("onnx.model_path", "models/densepose_rcnn_r50_fpn.onnx")
	v.SetDefault("onnx.metadata_path", "models/densepose_metadata.json")
	v.SetDefault("onnx.library_path", "")
	v.SetDefault("onnx.score_threshold", 0.5)
	v.SetDefault("onnx.max_concurrent", 1)
	v.SetDefault("onnx.queue_timeout", 30*time.Second)
	v.SetDefault("onnx.warmup", true)

	v.SetDefault("remote.base_url", "http://127.0.0.1:5000")
	v.SetDefault("remote.timeout", time.Minute)
	v.SetDefault("remote.retry_count", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 5*time.Minute)
}
