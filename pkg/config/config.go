package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Transport struct {
		ListenAddress   string        `yaml:"listen_address"`
		ConnectTimeout  time.Duration `yaml:"connect_timeout"`
		ReadBufferSize  int           `yaml:"read_buffer_size"`
		WriteBufferSize int           `yaml:"write_buffer_size"`
		NoDelay         bool          `yaml:"no_delay"`
		SendQueueSize   int           `yaml:"send_queue_size"`
	} `yaml:"transport"`

	Session struct {
		Name              string        `yaml:"name"`
		MaxPeers          int           `yaml:"max_peers"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	} `yaml:"session"`

	Sync struct {
		// OffsetStrategy is "recent" (recompute from the latest sample
		// pair) or "averaged" (average offset samples across the ring).
		OffsetStrategy string `yaml:"offset_strategy"`
	} `yaml:"sync"`

	Signal struct {
		Address           string        `yaml:"address"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
		MessagesPerSecond float64       `yaml:"messages_per_second"`
		MessageBurst      int           `yaml:"message_burst"`
	} `yaml:"signal"`

	API struct {
		Address           string  `yaml:"address"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		RequestBurst      int     `yaml:"request_burst"`
	} `yaml:"api"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Transport.ListenAddress == "" {
		return fmt.Errorf("transport.listen_address must not be empty")
	}
	if c.Transport.ConnectTimeout <= 0 {
		return fmt.Errorf("transport.connect_timeout must be > 0")
	}
	if c.Transport.ReadBufferSize <= 0 || c.Transport.WriteBufferSize <= 0 {
		return fmt.Errorf("transport buffer sizes must be > 0")
	}
	if c.Transport.SendQueueSize <= 0 {
		return fmt.Errorf("transport.send_queue_size must be > 0")
	}

	if c.Session.MaxPeers <= 0 {
		return fmt.Errorf("session.max_peers must be > 0")
	}
	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("session.heartbeat_interval must be > 0")
	}
	if c.Session.HeartbeatTimeout <= c.Session.HeartbeatInterval {
		return fmt.Errorf("session.heartbeat_timeout must exceed session.heartbeat_interval")
	}

	switch c.Sync.OffsetStrategy {
	case "recent", "averaged":
	default:
		return fmt.Errorf("sync.offset_strategy must be \"recent\" or \"averaged\"")
	}

	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 || c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal ping/pong intervals must be > 0")
	}
	if c.Signal.MessagesPerSecond <= 0 || c.Signal.MessageBurst <= 0 {
		return fmt.Errorf("signal message rate limits must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0,1]")
		}
	}
	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Transport.ListenAddress = ":9100"
	cfg.Transport.ConnectTimeout = 10 * time.Second
	cfg.Transport.ReadBufferSize = 8192
	cfg.Transport.WriteBufferSize = 8192
	cfg.Transport.NoDelay = true
	cfg.Transport.SendQueueSize = 256

	cfg.Session.Name = "default"
	cfg.Session.MaxPeers = 8
	cfg.Session.HeartbeatInterval = 2 * time.Second
	cfg.Session.HeartbeatTimeout = 10 * time.Second

	cfg.Sync.OffsetStrategy = "recent"

	cfg.Signal.Address = ":9101"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.ShutdownTimeout = 10 * time.Second
	cfg.Signal.MessagesPerSecond = 100
	cfg.Signal.MessageBurst = 200

	cfg.API.Address = ":9102"
	cfg.API.RequestsPerSecond = 50
	cfg.API.RequestBurst = 100

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "midimesh"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 0.1

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("MIDIMESH_LISTEN_ADDRESS"); addr != "" {
		c.Transport.ListenAddress = addr
	}
	if addr := os.Getenv("MIDIMESH_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if addr := os.Getenv("MIDIMESH_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if level := os.Getenv("MIDIMESH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if strategy := os.Getenv("MIDIMESH_OFFSET_STRATEGY"); strategy != "" {
		c.Sync.OffsetStrategy = strategy
	}
	if addr := os.Getenv("MIDIMESH_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if v := os.Getenv("MIDIMESH_MAX_PEERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxPeers = n
		}
	}
}
