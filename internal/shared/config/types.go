package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Mode       string `mapstructure:"mode" validate:"omitempty,oneof=debug release test"`
	AdminToken string `mapstructure:"admin_token"`
}

func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=console json"`
	OutputPath string `mapstructure:"output_path"`
}

// SignalRConfig describes the provider's classic SignalR endpoint.
type SignalRConfig struct {
	BaseURL                 string `mapstructure:"base_url" validate:"required,url"`
	HubName                 string `mapstructure:"hub_name" validate:"required"`
	ClientProtocol          string `mapstructure:"client_protocol" validate:"required"`
	SubscriptionIDs         []int  `mapstructure:"subscription_ids" validate:"required,min=1"`
	Origin                  string `mapstructure:"origin"`
	UserAgent               string `mapstructure:"user_agent"`
	NegotiateTimeoutSeconds int    `mapstructure:"negotiate_timeout_seconds" validate:"gte=1"`
}

func (s *SignalRConfig) NegotiateTimeout() time.Duration {
	return time.Duration(s.NegotiateTimeoutSeconds) * time.Second
}

// DepositConfig configures the deposit request poll against the back-office REST API.
type DepositConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Endpoint        string   `mapstructure:"endpoint" validate:"required_if=Enabled true,omitempty,url"`
	IntervalSeconds int      `mapstructure:"interval_seconds" validate:"gte=5"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds" validate:"gte=1"`
	RecencyMinutes  int      `mapstructure:"recency_minutes" validate:"gte=1"`
	NewStateNames   []string `mapstructure:"new_state_names"`
	DateLayout      string   `mapstructure:"date_layout"`
}

func (d *DepositConfig) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

func (d *DepositConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func (d *DepositConfig) Recency() time.Duration {
	return time.Duration(d.RecencyMinutes) * time.Minute
}

type BackOfficeConfig struct {
	SignalR SignalRConfig `mapstructure:"signalr"`
	Deposit DepositConfig `mapstructure:"deposit"`

	// Initial credentials; the credential store takes over after startup.
	AuthToken      string `mapstructure:"auth_token"`
	HubAccessToken string `mapstructure:"hub_access_token"`
	Cookie         string `mapstructure:"cookie"`
	SubscribeToken string `mapstructure:"subscribe_token"`
}

// ListenerConfig holds the connection supervision timings.
type ListenerConfig struct {
	HeartbeatTickSeconds  int `mapstructure:"heartbeat_tick_seconds" validate:"gte=1"`
	PingIntervalSeconds   int `mapstructure:"ping_interval_seconds" validate:"gte=1"`
	PongTimeoutSeconds    int `mapstructure:"pong_timeout_seconds" validate:"gte=1"`
	TokenRefreshSeconds   int `mapstructure:"token_refresh_seconds" validate:"gte=10"`
	MaxReconnectAttempts  int `mapstructure:"max_reconnect_attempts" validate:"gte=1"`
	ReconnectDelaySeconds int `mapstructure:"reconnect_delay_seconds" validate:"gte=0"`
	HistorySize           int `mapstructure:"history_size" validate:"gte=1"`
}

func (l *ListenerConfig) HeartbeatTick() time.Duration {
	return time.Duration(l.HeartbeatTickSeconds) * time.Second
}

func (l *ListenerConfig) PingInterval() time.Duration {
	return time.Duration(l.PingIntervalSeconds) * time.Second
}

func (l *ListenerConfig) PongTimeout() time.Duration {
	return time.Duration(l.PongTimeoutSeconds) * time.Second
}

func (l *ListenerConfig) TokenRefresh() time.Duration {
	return time.Duration(l.TokenRefreshSeconds) * time.Second
}

func (l *ListenerConfig) ReconnectDelay() time.Duration {
	return time.Duration(l.ReconnectDelaySeconds) * time.Second
}

type TelegramConfig struct {
	BotToken string   `mapstructure:"bot_token"`
	ChatIDs  []string `mapstructure:"chat_ids"`
	APIURL   string   `mapstructure:"api_url"`
	// Locale drives amount formatting, e.g. "tr" renders 1.500,50.
	Locale string `mapstructure:"locale"`
}

// IsConfigured reports whether alerts can be delivered at all.
func (t *TelegramConfig) IsConfigured() bool {
	return t.BotToken != "" && len(t.ChatIDs) > 0
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" validate:"omitempty,oneof=sqlite mysql"`
	DSN             string `mapstructure:"dsn" validate:"required_with=Driver"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	RetentionDays   int    `mapstructure:"retention_days" validate:"gte=0"`
	Migration       string `mapstructure:"migration" validate:"omitempty,oneof=auto goose"`
}

// Enabled reports whether the notification log should be persisted.
func (d *DatabaseConfig) Enabled() bool {
	return d.Driver != ""
}

type TokenSourceConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url" validate:"required_if=Enabled true,omitempty,url"`
	GitHubToken     string `mapstructure:"github_token"`
	IntervalSeconds int    `mapstructure:"interval_seconds" validate:"gte=5"`
	AutoUpdate      bool   `mapstructure:"auto_update"`
	MaxErrors       int    `mapstructure:"max_errors" validate:"gte=1"`
	PauseMinutes    int    `mapstructure:"pause_minutes" validate:"gte=1"`
}

func (t *TokenSourceConfig) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

func (t *TokenSourceConfig) Pause() time.Duration {
	return time.Duration(t.PauseMinutes) * time.Minute
}

type DedupConfig struct {
	MemoryCapacity int `mapstructure:"memory_capacity" validate:"gte=1"`
	TTLHours       int `mapstructure:"ttl_hours" validate:"gte=1"`
}

func (d *DedupConfig) TTL() time.Duration {
	return time.Duration(d.TTLHours) * time.Hour
}
