package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "WATCHPARTY"

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	LogLevel   string `mapstructure:"log_level"`
	Secret     string `mapstructure:"secret"`

	Signal    SignalConfig    `mapstructure:"signal"`
	History   HistoryConfig   `mapstructure:"history"`
	Admission AdmissionConfig `mapstructure:"admission"`
}

// SignalConfig tunes the WebSocket gateway.
type SignalConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	ReportErrors bool          `mapstructure:"report_errors"`
	Backpressure string        `mapstructure:"backpressure"`
}

type HistoryConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	DefaultLimit int    `mapstructure:"default_limit"`
}

type AdmissionConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	PlanAPIURL  string        `mapstructure:"plan_api_url"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	CachePrefix string        `mapstructure:"cache_prefix"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "watchparty-dev-secret")

	v.SetDefault("signal.read_limit", 32768)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.pong_wait", "60s")
	v.SetDefault("signal.write_wait", "5s")
	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.rate_limit", 20)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.report_errors", false)
	v.SetDefault("signal.backpressure", "drop")

	v.SetDefault("history.driver", "none")
	v.SetDefault("history.dsn", "file:watchparty.db?_busy_timeout=5000")
	v.SetDefault("history.default_limit", 50)

	v.SetDefault("admission.enabled", false)
	v.SetDefault("admission.plan_api_url", "http://localhost:3000")
	v.SetDefault("admission.redis_addr", "localhost:6379")
	v.SetDefault("admission.cache_prefix", "watchparty:plan:")
	v.SetDefault("admission.cache_ttl", "5m")
	v.SetDefault("admission.timeout", "3s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev when unset) on top of
// the defaults. WATCHPARTY_* environment variables win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Str("module", "config").Msg("no .env file, using environment")
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("history", cfg.History.Driver).Bool("admission", cfg.Admission.Enabled).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("config: signal.send_buffer must be positive")
	}
	if c.Signal.PingPeriod >= c.Signal.PongWait {
		return fmt.Errorf("config: signal.ping_period must be shorter than signal.pong_wait")
	}
	if c.Admission.Enabled && c.Admission.PlanAPIURL == "" {
		return fmt.Errorf("config: admission.plan_api_url required when admission is enabled")
	}
	return nil
}
