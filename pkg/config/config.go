package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Client struct {
		Endpoint string `yaml:"endpoint"` // wss://host/ws

		Heartbeat struct {
			Interval       time.Duration `yaml:"interval"`
			PongTimeout    time.Duration `yaml:"pong_timeout"`
			MaxMissedPongs int           `yaml:"max_missed_pongs"`
		} `yaml:"heartbeat"`

		Queue struct {
			MaxSize        int     `yaml:"max_size"`
			MessagesPerSec float64 `yaml:"messages_per_sec"`
		} `yaml:"queue"`

		OfflineBuffer struct {
			MaxSize    int           `yaml:"max_size"`
			TTL        time.Duration `yaml:"ttl"`
			MaxRetries int           `yaml:"max_retries"`
		} `yaml:"offline_buffer"`

		Reconnect struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			BaseDelay    time.Duration `yaml:"base_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			JitterFactor float64       `yaml:"jitter_factor"`
		} `yaml:"reconnect"`
	} `yaml:"client"`

	Mesh struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`

		OfferStagger      time.Duration `yaml:"offer_stagger"`
		MediaReadyRetries int           `yaml:"media_ready_retries"`
		MediaReadyDelay   time.Duration `yaml:"media_ready_delay"`
		ICERestartLimit   int           `yaml:"ice_restart_limit"`
		ICERestartDelay   time.Duration `yaml:"ice_restart_delay"`
		QualityInterval   time.Duration `yaml:"quality_interval"`
		SpeakingInterval  time.Duration `yaml:"speaking_interval"`
		SpeakingThreshold float64       `yaml:"speaking_threshold"`
	} `yaml:"mesh"`

	Audio struct {
		CloseGrace time.Duration `yaml:"close_grace"`
		SampleRate int           `yaml:"sample_rate"`
	} `yaml:"audio"`

	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
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

	Auth struct {
		Enabled      bool          `yaml:"enabled"`
		JWTSecret    string        `yaml:"jwt_secret"`
		JoinTokenTTL time.Duration `yaml:"join_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Client
	if c.Client.Endpoint == "" {
		return fmt.Errorf("client.endpoint must not be empty")
	}
	if c.Client.Heartbeat.Interval <= 0 {
		return fmt.Errorf("client.heartbeat.interval must be > 0")
	}
	if c.Client.Heartbeat.PongTimeout <= 0 {
		return fmt.Errorf("client.heartbeat.pong_timeout must be > 0")
	}
	if c.Client.Heartbeat.MaxMissedPongs <= 0 {
		return fmt.Errorf("client.heartbeat.max_missed_pongs must be > 0")
	}
	if c.Client.Heartbeat.PongTimeout >= c.Client.Heartbeat.Interval {
		return fmt.Errorf("client.heartbeat.pong_timeout must be < client.heartbeat.interval")
	}
	if c.Client.Queue.MaxSize <= 0 {
		return fmt.Errorf("client.queue.max_size must be > 0")
	}
	if c.Client.Queue.MessagesPerSec <= 0 {
		return fmt.Errorf("client.queue.messages_per_sec must be > 0")
	}
	if c.Client.OfflineBuffer.MaxSize <= 0 {
		return fmt.Errorf("client.offline_buffer.max_size must be > 0")
	}
	if c.Client.OfflineBuffer.TTL <= 0 {
		return fmt.Errorf("client.offline_buffer.ttl must be > 0")
	}
	if c.Client.OfflineBuffer.MaxRetries < 0 {
		return fmt.Errorf("client.offline_buffer.max_retries must be >= 0")
	}
	if c.Client.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("client.reconnect.max_attempts must be > 0")
	}
	if c.Client.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("client.reconnect.base_delay must be > 0")
	}
	if c.Client.Reconnect.MaxDelay < c.Client.Reconnect.BaseDelay {
		return fmt.Errorf("client.reconnect.max_delay must be >= base_delay")
	}
	if c.Client.Reconnect.JitterFactor < 0 || c.Client.Reconnect.JitterFactor > 1 {
		return fmt.Errorf("client.reconnect.jitter_factor must be in [0,1]")
	}

	// Mesh
	if c.Mesh.OfferStagger < 0 {
		return fmt.Errorf("mesh.offer_stagger must be >= 0")
	}
	if c.Mesh.MediaReadyRetries <= 0 {
		return fmt.Errorf("mesh.media_ready_retries must be > 0")
	}
	if c.Mesh.ICERestartLimit < 0 {
		return fmt.Errorf("mesh.ice_restart_limit must be >= 0")
	}
	if c.Mesh.QualityInterval <= 0 {
		return fmt.Errorf("mesh.quality_interval must be > 0")
	}
	if c.Mesh.SpeakingInterval <= 0 {
		return fmt.Errorf("mesh.speaking_interval must be > 0")
	}
	if c.Mesh.SpeakingThreshold <= 0 {
		return fmt.Errorf("mesh.speaking_threshold must be > 0")
	}

	// Audio
	if c.Audio.CloseGrace <= 0 {
		return fmt.Errorf("audio.close_grace must be > 0")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	// Signal
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.ShutdownTimeout <= 0 {
		return fmt.Errorf("signal.shutdown_timeout must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0,1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.JoinTokenTTL <= 0 {
			return fmt.Errorf("auth.join_token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
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

	cfg.Client.Endpoint = "ws://localhost:8081/ws"
	cfg.Client.Heartbeat.Interval = 30 * time.Second
	cfg.Client.Heartbeat.PongTimeout = 10 * time.Second
	cfg.Client.Heartbeat.MaxMissedPongs = 2
	cfg.Client.Queue.MaxSize = 100
	cfg.Client.Queue.MessagesPerSec = 50
	cfg.Client.OfflineBuffer.MaxSize = 50
	cfg.Client.OfflineBuffer.TTL = 30 * time.Second
	cfg.Client.OfflineBuffer.MaxRetries = 3
	cfg.Client.Reconnect.MaxAttempts = 5
	cfg.Client.Reconnect.BaseDelay = 1 * time.Second
	cfg.Client.Reconnect.MaxDelay = 30 * time.Second
	cfg.Client.Reconnect.JitterFactor = 0.3

	cfg.Mesh.OfferStagger = 150 * time.Millisecond
	cfg.Mesh.MediaReadyRetries = 10
	cfg.Mesh.MediaReadyDelay = 200 * time.Millisecond
	cfg.Mesh.ICERestartLimit = 3
	cfg.Mesh.ICERestartDelay = 2 * time.Second
	cfg.Mesh.QualityInterval = 3 * time.Second
	cfg.Mesh.SpeakingInterval = 100 * time.Millisecond
	cfg.Mesh.SpeakingThreshold = 0.15

	cfg.Audio.CloseGrace = 5 * time.Second
	cfg.Audio.SampleRate = 48000

	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "meshcall"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.JoinTokenTTL = 12 * time.Hour

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.MessagesPerSecond = 100
	cfg.RateLimiting.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if endpoint := os.Getenv("MESHCALL_ENDPOINT"); endpoint != "" {
		c.Client.Endpoint = endpoint
	}
	if addr := os.Getenv("MESHCALL_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if level := os.Getenv("MESHCALL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("MESHCALL_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("MESHCALL_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
