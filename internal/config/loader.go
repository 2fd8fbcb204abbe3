package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env                   string `mapstructure:"env"`
	Port                  int    `mapstructure:"port"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSecs   int    `mapstructure:"shutdown_timeout_seconds"`
	CORSOrigins           string `mapstructure:"cors_origins"`
}

func (a *AppConfig) PortString() string { return fmt.Sprintf("%d", a.Port) }

type MongoConfig struct {
	URI                string `mapstructure:"uri"`
	Database           string `mapstructure:"database"`
	MessagesCollection string `mapstructure:"messages_collection"`
	ConnectTimeoutSecs int    `mapstructure:"connect_timeout_seconds"`
}

type StorageConfig struct {
	// Driver is "mongo" or "memory".
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	PresenceTTLSeconds int    `mapstructure:"presence_ttl_seconds"`
}

type RateLimitConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Limit         int  `mapstructure:"limit"`
	WindowSeconds int  `mapstructure:"window_seconds"`
}

type KafkaConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Brokers            []string `mapstructure:"brokers"`
	TopicMessages      string   `mapstructure:"topic_messages"`
	TopicNotifications string   `mapstructure:"topic_notifications"`
	QueueSize          int      `mapstructure:"queue_size"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
	RateLimitPerSec      int   `mapstructure:"rate_limit_rps"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	WS        WSConfig        `mapstructure:"ws"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`

	// derived
	RequestTimeout  time.Duration `mapstructure:"-"`
	ShutdownTimeout time.Duration `mapstructure:"-"`
	PingInterval    time.Duration `mapstructure:"-"`
	WriteDeadline   time.Duration `mapstructure:"-"`
	PresenceTTL     time.Duration `mapstructure:"-"`
	RateWindow      time.Duration `mapstructure:"-"`
}

func (c *Config) Development() bool { return c.App.Env == "development" }

// Load reads the YAML file at path (when it exists), then environment
// variables such as MONGO_URI or KAFKA_ENABLED. A .env file in the working
// directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// viper does not split env-provided lists
	if len(c.Kafka.Brokers) == 1 && strings.Contains(c.Kafka.Brokers[0], ",") {
		c.Kafka.Brokers = strings.Split(c.Kafka.Brokers[0], ",")
	}

	c.RequestTimeout = time.Duration(c.App.RequestTimeoutSeconds) * time.Second
	c.ShutdownTimeout = time.Duration(c.App.ShutdownTimeoutSecs) * time.Second
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSeconds) * time.Second
	c.RateWindow = time.Duration(c.RateLimit.WindowSeconds) * time.Second
	// presence keys are refreshed on every pong
	if c.PresenceTTL < 2*c.PingInterval {
		c.PresenceTTL = 3 * c.PingInterval
	}

	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 5000)
	v.SetDefault("app.request_timeout_seconds", 10)
	v.SetDefault("app.shutdown_timeout_seconds", 10)
	v.SetDefault("app.cors_origins", "*")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chat")
	v.SetDefault("mongo.messages_collection", "messages")
	v.SetDefault("mongo.connect_timeout_seconds", 10)

	v.SetDefault("storage.driver", "mongo")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("redis.presence_ttl_seconds", 75)

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.limit", 120)
	v.SetDefault("ratelimit.window_seconds", 60)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_messages", "chat.messages")
	v.SetDefault("kafka.topic_notifications", "chat.notifications")
	v.SetDefault("kafka.queue_size", 1024)

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.rate_limit_rps", 20)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("metrics.enabled", true)
}

func validate(c *Config) error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port invalid: %d", c.App.Port)
	}
	switch c.Storage.Driver {
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri missing")
		}
		if c.Mongo.Database == "" {
			return fmt.Errorf("mongo.database missing")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be mongo or memory, got %q", c.Storage.Driver)
	}
	if c.Redis.Enabled && !strings.Contains(c.Redis.Addr, ":") {
		return fmt.Errorf("redis.addr must be host:port, got %q", c.Redis.Addr)
	}
	if c.RateLimit.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("ratelimit requires redis.enabled")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers missing")
		}
		if c.Kafka.TopicMessages == "" || c.Kafka.TopicNotifications == "" {
			return fmt.Errorf("kafka topics missing")
		}
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret required when auth.enabled")
	}
	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("ws.send_buffer must be positive")
	}
	return nil
}
