package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env       string `mapstructure:"env"`
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	TopicPersisted string   `mapstructure:"topic_persisted"`
}

type SessionConfig struct {
	TTLHours int `mapstructure:"ttl_hours"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	DuplicateGraceSecs   int   `mapstructure:"duplicate_grace_seconds"`
}

type PaginationConfig struct {
	PageSize       int `mapstructure:"page_size"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`
	BackoffBaseMS  int `mapstructure:"backoff_base_ms"`
	BackoffCapMS   int `mapstructure:"backoff_cap_ms"`
	DebounceMS     int `mapstructure:"debounce_ms"`
}

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Session    SessionConfig    `mapstructure:"session"`
	WS         WSConfig         `mapstructure:"ws"`
	Pagination PaginationConfig `mapstructure:"pagination"`

	// derived
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	DuplicateGrace time.Duration
	SessionTTL     time.Duration
	PageTimeout    time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	GuardDebounce  time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// Default returns a config with every default applied, for use when no config
// file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.App.Port == 0 {
		c.App.Port = 8080
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "chat"
	}
	if c.Kafka.TopicPersisted == "" {
		c.Kafka.TopicPersisted = "message.persisted"
	}
	if c.Session.TTLHours == 0 {
		c.Session.TTLHours = 24
	}
	if c.WS.PingIntervalSeconds == 0 {
		c.WS.PingIntervalSeconds = 25
	}
	if c.WS.WriteDeadlineSeconds == 0 {
		c.WS.WriteDeadlineSeconds = 10
	}
	if c.WS.MaxMessageSizeBytes == 0 {
		c.WS.MaxMessageSizeBytes = 65536
	}
	if c.WS.DuplicateGraceSecs == 0 {
		c.WS.DuplicateGraceSecs = 10
	}
	if c.Pagination.PageSize == 0 {
		c.Pagination.PageSize = 30
	}
	if c.Pagination.TimeoutSeconds == 0 {
		c.Pagination.TimeoutSeconds = 10
	}
	if c.Pagination.MaxRetries == 0 {
		c.Pagination.MaxRetries = 3
	}
	if c.Pagination.BackoffBaseMS == 0 {
		c.Pagination.BackoffBaseMS = 2000
	}
	if c.Pagination.BackoffCapMS == 0 {
		c.Pagination.BackoffCapMS = 10000
	}
	if c.Pagination.DebounceMS == 0 {
		c.Pagination.DebounceMS = 300
	}

	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.DuplicateGrace = time.Duration(c.WS.DuplicateGraceSecs) * time.Second
	c.SessionTTL = time.Duration(c.Session.TTLHours) * time.Hour
	c.PageTimeout = time.Duration(c.Pagination.TimeoutSeconds) * time.Second
	c.BackoffBase = time.Duration(c.Pagination.BackoffBaseMS) * time.Millisecond
	c.BackoffCap = time.Duration(c.Pagination.BackoffCapMS) * time.Millisecond
	c.GuardDebounce = time.Duration(c.Pagination.DebounceMS) * time.Millisecond
}
