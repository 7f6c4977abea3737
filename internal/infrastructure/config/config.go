package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	sharedConfig "github.com/bowatch/bowatch/internal/shared/config"
)

type Config struct {
	Server      sharedConfig.ServerConfig      `mapstructure:"server"`
	Logger      sharedConfig.LoggerConfig      `mapstructure:"logger"`
	BackOffice  sharedConfig.BackOfficeConfig  `mapstructure:"backoffice"`
	Listener    sharedConfig.ListenerConfig    `mapstructure:"listener"`
	Telegram    sharedConfig.TelegramConfig    `mapstructure:"telegram"`
	Redis       sharedConfig.RedisConfig       `mapstructure:"redis"`
	Database    sharedConfig.DatabaseConfig    `mapstructure:"database"`
	TokenSource sharedConfig.TokenSourceConfig `mapstructure:"token_source"`
	Dedup       sharedConfig.DedupConfig       `mapstructure:"dedup"`
	Timezone    string                         `mapstructure:"timezone"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
	validate    = validator.New(validator.WithRequiredStructEnabled())
)

// Load reads configs/config.yaml (or the explicit file), overlays BOWATCH_*
// environment variables and validates the result. A .env file in the working
// directory is loaded into the environment first when present.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("/etc/bowatch")
	}

	v.SetEnvPrefix("BOWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	appConfigMu.Lock()
	appConfig = &cfg
	appConfigMu.Unlock()

	return &cfg, nil
}

// Validate runs the struct tag rules over a loaded configuration.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Get returns the last configuration returned by Load.
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "Europe/Istanbul")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output_path", "stdout")

	v.SetDefault("backoffice.signalr.base_url", "https://backofficewebadmin.betconstruct.com/signalr")
	v.SetDefault("backoffice.signalr.hub_name", "commonnotificationhub")
	v.SetDefault("backoffice.signalr.client_protocol", "1.5")
	v.SetDefault("backoffice.signalr.subscription_ids", []int{1, 2, 3, 4, 5})
	v.SetDefault("backoffice.signalr.origin", "https://backoffice.betconstruct.com")
	v.SetDefault("backoffice.signalr.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("backoffice.signalr.negotiate_timeout_seconds", 15)

	v.SetDefault("backoffice.deposit.enabled", true)
	v.SetDefault("backoffice.deposit.endpoint", "https://backofficewebadmin.betconstruct.com/api/en/Client/GetClientDepositRequestsWithTotals")
	v.SetDefault("backoffice.deposit.interval_seconds", 60)
	v.SetDefault("backoffice.deposit.timeout_seconds", 30)
	v.SetDefault("backoffice.deposit.recency_minutes", 10)
	v.SetDefault("backoffice.deposit.new_state_names", []string{"Yeni", "New"})
	v.SetDefault("backoffice.deposit.date_layout", "02-01-06 - 15:04:05")

	v.SetDefault("backoffice.auth_token", "")
	v.SetDefault("backoffice.hub_access_token", "")
	v.SetDefault("backoffice.cookie", "")
	v.SetDefault("backoffice.subscribe_token", "")

	v.SetDefault("listener.heartbeat_tick_seconds", 5)
	v.SetDefault("listener.ping_interval_seconds", 30)
	v.SetDefault("listener.pong_timeout_seconds", 90)
	v.SetDefault("listener.token_refresh_seconds", 300)
	v.SetDefault("listener.max_reconnect_attempts", 5)
	v.SetDefault("listener.reconnect_delay_seconds", 5)
	v.SetDefault("listener.history_size", 100)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_ids", []string{})
	v.SetDefault("telegram.api_url", "")
	v.SetDefault("telegram.locale", "tr")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "bowatch")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.retention_days", 30)
	v.SetDefault("database.migration", "goose")

	v.SetDefault("token_source.enabled", false)
	v.SetDefault("token_source.url", "")
	v.SetDefault("token_source.github_token", "")
	v.SetDefault("token_source.interval_seconds", 30)
	v.SetDefault("token_source.auto_update", true)
	v.SetDefault("token_source.max_errors", 5)
	v.SetDefault("token_source.pause_minutes", 5)

	v.SetDefault("dedup.memory_capacity", 50000)
	v.SetDefault("dedup.ttl_hours", 72)
}
