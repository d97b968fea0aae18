package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration. Every key can be set in the yaml file
// or through SENDLATER_<SECTION>_<KEY> environment variables.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // json or text
	} `mapstructure:"log"`

	Stores struct {
		// Scheduled is memory, redis, mongo, postgres or firestore.
		Scheduled string `mapstructure:"scheduled"`

		// Conversations is memory, mongo, postgres or firestore.
		Conversations string `mapstructure:"conversations"`
	} `mapstructure:"stores"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Postgres struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`

	Firestore struct {
		ProjectID string `mapstructure:"project_id"`
	} `mapstructure:"firestore"`

	Guard struct {
		Kind string        `mapstructure:"kind"` // memory or redis
		TTL  time.Duration `mapstructure:"ttl"`
	} `mapstructure:"guard"`

	DeadLetter struct {
		Enabled     bool `mapstructure:"enabled"`
		MaxAttempts int  `mapstructure:"max_attempts"`
	} `mapstructure:"deadletter"`

	Notify struct {
		Codec string `mapstructure:"codec"`
		NATS  struct {
			URL           string `mapstructure:"url"`
			SubjectPrefix string `mapstructure:"subject_prefix"`
		} `mapstructure:"nats"`
		Kafka struct {
			Brokers []string `mapstructure:"brokers"`
			Topic   string   `mapstructure:"topic"`
		} `mapstructure:"kafka"`
	} `mapstructure:"notify"`

	Trigger struct {
		FastInterval      time.Duration `mapstructure:"fast_interval"`
		DurableInterval   time.Duration `mapstructure:"durable_interval"`
		InitialDelay      time.Duration `mapstructure:"initial_delay"`
		ConstraintAddr    string        `mapstructure:"constraint_addr"`
		ConstraintRecheck time.Duration `mapstructure:"constraint_recheck"`
		State             string        `mapstructure:"state"` // memory or redis
	} `mapstructure:"trigger"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Health struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"health"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("stores.scheduled", "redis")
	v.SetDefault("stores.conversations", "mongo")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sendlater:")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chat")

	v.SetDefault("postgres.dsn", "postgres://localhost:5432/chat?sslmode=disable")

	v.SetDefault("firestore.project_id", "")

	v.SetDefault("guard.kind", "memory")
	v.SetDefault("guard.ttl", 5*time.Minute)

	v.SetDefault("deadletter.enabled", false)
	v.SetDefault("deadletter.max_attempts", 50)

	v.SetDefault("notify.codec", "json")
	v.SetDefault("notify.nats.url", "")
	v.SetDefault("notify.nats.subject_prefix", "chat.conversation.")
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic", "chat.messages")

	v.SetDefault("trigger.fast_interval", 5*time.Second)
	v.SetDefault("trigger.durable_interval", 15*time.Minute)
	v.SetDefault("trigger.initial_delay", 10*time.Second)
	v.SetDefault("trigger.constraint_addr", "")
	v.SetDefault("trigger.constraint_recheck", 30*time.Second)
	v.SetDefault("trigger.state", "redis")

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("health.addr", ":50051")
}

// LoadConfig reads defaults, then the optional yaml file at path, then the
// environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SENDLATER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Stores.Scheduled {
	case "memory", "redis", "mongo", "postgres", "firestore":
	default:
		return fmt.Errorf("unknown scheduled store %q", c.Stores.Scheduled)
	}
	switch c.Stores.Conversations {
	case "memory", "mongo", "postgres", "firestore":
	default:
		return fmt.Errorf("unknown conversation store %q", c.Stores.Conversations)
	}
	switch c.Guard.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown guard kind %q", c.Guard.Kind)
	}
	switch c.Trigger.State {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown trigger state store %q", c.Trigger.State)
	}
	if c.uses("firestore") && c.Firestore.ProjectID == "" {
		return fmt.Errorf("firestore.project_id is required for the firestore stores")
	}
	if c.DeadLetter.Enabled && c.DeadLetter.MaxAttempts <= 0 {
		return fmt.Errorf("deadletter.max_attempts must be positive")
	}
	return nil
}

// needsRedis reports whether any component is configured to use Redis.
func (c *Config) needsRedis() bool {
	return c.Stores.Scheduled == "redis" ||
		c.Guard.Kind == "redis" ||
		c.Trigger.State == "redis"
}

// uses reports whether either store is the given backend.
func (c *Config) uses(backend string) bool {
	return c.Stores.Scheduled == backend || c.Stores.Conversations == backend
}
