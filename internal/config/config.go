package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Endpoint  EndpointConfig  `mapstructure:"endpoint"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Form      FormConfig      `mapstructure:"form"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Session   SessionConfig   `mapstructure:"session"`
	Log       LogConfig       `mapstructure:"log"`
	DevServer DevServerConfig `mapstructure:"dev_server"`
}

// EndpointConfig identifies the assistant backend the widget talks to.
type EndpointConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	TenantID string `mapstructure:"tenant_id"`
	APIKey   string `mapstructure:"api_key"`
	// Streaming selects the delivery path for the whole session. The
	// orchestrator reads it exactly once at session start.
	Streaming bool `mapstructure:"streaming"`
}

type StreamConfig struct {
	// FirstEventTimeout bounds time-to-first-content; the watchdog
	// cancels the exchange if nothing arrived when it fires.
	FirstEventTimeout time.Duration `mapstructure:"first_event_timeout"`
	// TotalTimeout is the unconditional ceiling for one exchange.
	TotalTimeout time.Duration `mapstructure:"total_timeout"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// Backoff bases per error kind; delay = base * 2^(attempt-1),
	// with ±JitterFraction uniform jitter, capped at MaxDelay.
	BaseDelay          time.Duration `mapstructure:"base_delay"`
	RateLimitBaseDelay time.Duration `mapstructure:"rate_limit_base_delay"`
	ServerBaseDelay    time.Duration `mapstructure:"server_base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	JitterFraction     float64       `mapstructure:"jitter_fraction"`
}

type FormConfig struct {
	// GateExitDelay is how long a failed eligibility gate keeps the
	// form visible before the graceful exit to inactive.
	GateExitDelay time.Duration `mapstructure:"gate_exit_delay"`
}

type StorageConfig struct {
	Type    string `mapstructure:"type"` // memory, disk, sqlite
	DataDir string `mapstructure:"data_dir"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DevServerConfig drives the bundled assistant stub (cmd/).
type DevServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ChunkDelay     time.Duration `mapstructure:"chunk_delay"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GLATA_WIDGET")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// 配置文件优先，缺省时回退到环境变量
	if cfg.Endpoint.APIKey == "" {
		if key := os.Getenv("GLATA_API_KEY"); key != "" {
			cfg.Endpoint.APIKey = key
		}
	}

	return cfg, nil
}

// Default returns a config with the documented constants, used when no
// config file is present (tests, embedded use).
func Default() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			Streaming: true,
		},
		Stream: StreamConfig{
			FirstEventTimeout: 10 * time.Second,
			TotalTimeout:      45 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:        3,
			AttemptTimeout:     15 * time.Second,
			BaseDelay:          500 * time.Millisecond,
			RateLimitBaseDelay: 2 * time.Second,
			ServerBaseDelay:    time.Second,
			MaxDelay:           10 * time.Second,
			JitterFraction:     0.2,
		},
		Form: FormConfig{
			GateExitDelay: 1500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		Session: SessionConfig{
			TTL:             24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		DevServer: DevServerConfig{
			Port:           8089,
			AllowedOrigins: []string{"*"},
			ChunkDelay:     30 * time.Millisecond,
		},
	}
}

func setDefaults() {
	def := Default()
	viper.SetDefault("endpoint.streaming", def.Endpoint.Streaming)
	viper.SetDefault("stream.first_event_timeout", def.Stream.FirstEventTimeout)
	viper.SetDefault("stream.total_timeout", def.Stream.TotalTimeout)
	viper.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	viper.SetDefault("retry.attempt_timeout", def.Retry.AttemptTimeout)
	viper.SetDefault("retry.base_delay", def.Retry.BaseDelay)
	viper.SetDefault("retry.rate_limit_base_delay", def.Retry.RateLimitBaseDelay)
	viper.SetDefault("retry.server_base_delay", def.Retry.ServerBaseDelay)
	viper.SetDefault("retry.max_delay", def.Retry.MaxDelay)
	viper.SetDefault("retry.jitter_fraction", def.Retry.JitterFraction)
	viper.SetDefault("form.gate_exit_delay", def.Form.GateExitDelay)
	viper.SetDefault("storage.type", def.Storage.Type)
	viper.SetDefault("session.ttl", def.Session.TTL)
	viper.SetDefault("session.cleanup_interval", def.Session.CleanupInterval)
	viper.SetDefault("log.level", def.Log.Level)
	viper.SetDefault("log.format", def.Log.Format)
	viper.SetDefault("dev_server.port", def.DevServer.Port)
	viper.SetDefault("dev_server.chunk_delay", def.DevServer.ChunkDelay)
}
