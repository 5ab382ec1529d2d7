package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP         HTTPConfig         `mapstructure:"http"`
	Log          LogConfig          `mapstructure:"log"`
	MySQL        DatabaseConfig     `mapstructure:"mysql"`
	ClickHouse   DatabaseConfig     `mapstructure:"clickhouse"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	LogTransport LogTransportConfig `mapstructure:"log_transport"`
	Streams      StreamsConfig      `mapstructure:"streams"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	Heartbeat    HeartbeatConfig    `mapstructure:"heartbeat"`
	Dedup        DedupConfig        `mapstructure:"dedup"`
	Consumer     ConsumerConfig     `mapstructure:"consumer"`
	Central      CentralConfig      `mapstructure:"central"`
	Store        StoreConfig        `mapstructure:"store"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql | sqlite3
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
}

type LogTransportConfig struct {
	Driver string `mapstructure:"driver"` // redis | kafka
}

type StreamsConfig struct {
	StoreToCentral   string `mapstructure:"store_to_central"`
	CentralToStore   string `mapstructure:"central_to_store"`
	CentralBroadcast string `mapstructure:"central_broadcast"`
	StoreToStore     string `mapstructure:"store_to_store"`
	StoreBroadcast   string `mapstructure:"store_broadcast"`
}

type OutboxConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	KeyTTL   time.Duration `mapstructure:"key_ttl"`
}

type DedupConfig struct {
	TTL       time.Duration `mapstructure:"ttl"` // 0 keeps markers forever
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// NodePrefix scopes dedup markers to one node. A broadcast reaches every
// store, so each store claims its ids separately.
func (c DedupConfig) NodePrefix(node string) string { return c.KeyPrefix + node + ":" }

type ConsumerConfig struct {
	GroupPrefix string        `mapstructure:"group_prefix"`
	Block       time.Duration `mapstructure:"block"`
	Count       int64         `mapstructure:"count"`
}

type CentralConfig struct {
	Stores []string `mapstructure:"stores"`
}

type StoreConfig struct {
	ID string `mapstructure:"id"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// CentralGroup is the consumer group of the central node.
func (c ConsumerConfig) CentralGroup() string { return c.GroupPrefix + "central" }

// StoreGroup is the consumer group of store id.
func (c ConsumerConfig) StoreGroup(id string) string { return c.GroupPrefix + id }

// Validate checks settings every node needs.
func (c Config) Validate() error {
	var errs []error
	switch c.LogTransport.Driver {
	case "redis":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("log_transport.driver %q is not redis or kafka", c.LogTransport.Driver))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be positive"))
	}
	if c.Heartbeat.Timeout < c.Heartbeat.Interval {
		errs = append(errs, errors.New("heartbeat.timeout must not be shorter than heartbeat.interval"))
	}
	if c.Dedup.TTL < 0 {
		errs = append(errs, errors.New("dedup.ttl must not be negative"))
	}
	return errors.Join(errs...)
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (STOCKSYNC_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	// env override (STOCKSYNC_*), e.g. STOCKSYNC_REDIS_ADDR
	v.SetEnvPrefix("STOCKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
