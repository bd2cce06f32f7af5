package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"BrentBreaks/internal/domain/models"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "BRENT"

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		RateLimit       struct {
			Enabled  bool    `yaml:"enabled" default:"true"`
			Capacity float64 `yaml:"capacity" default:"10"`
			Refill   float64 `yaml:"refill_per_sec" default:"2"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
		Digest struct {
			Enabled  bool          `yaml:"enabled"`
			Topic    string        `yaml:"topic" default:"brentbreaks.logs"`
			Interval time.Duration `yaml:"interval" default:"30s"`
			MaxItems int           `yaml:"max_items" default:"100"`
		} `yaml:"digest"`
	} `yaml:"logging"`
	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		Exporter    string  `yaml:"exporter" default:"stdout" validate:"oneof=stdout none"`
		SampleRatio float64 `yaml:"sample_ratio" default:"1" validate:"gte=0,lte=1"`
	} `yaml:"tracing"`
	Data struct {
		PriceSource  string        `yaml:"price_source" default:"file" validate:"oneof=file clickhouse"`
		EventSource  string        `yaml:"event_source" default:"yaml" validate:"oneof=yaml clickhouse http"`
		PriceFile    string        `yaml:"price_file" default:"data/brent_prices.csv"`
		PriceSheet   string        `yaml:"price_sheet"`
		EventFile    string        `yaml:"event_file" default:"config/events.yaml"`
		EventURL     string        `yaml:"event_url" validate:"omitempty,url"`
		DateLayouts  []string      `yaml:"date_layouts"`
		AllowPartial bool          `yaml:"allow_partial"`
		CacheTTL     time.Duration `yaml:"cache_ttl" default:"10m"`
	} `yaml:"data"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"brent"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		PriceTable       string        `yaml:"price_table" default:"brent_prices"`
		EventTable       string        `yaml:"event_table" default:"market_events"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"brentbreaks"`
	} `yaml:"redis"`
	Cache struct {
		MemorySize  int           `yaml:"memory_size" default:"256"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl" default:"168h"`
	} `yaml:"cache"`
	Queue struct {
		Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" default:"1"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	} `yaml:"queue"`
	SQLite struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"data/snapshots.db"`
	} `yaml:"sqlite"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RunsTopic    string   `yaml:"runs_topic" default:"brentbreaks.runs"`
		RefreshTopic string   `yaml:"refresh_topic" default:"brentbreaks.refresh"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchSize    int           `yaml:"batch_size" default:"16"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"brentbreaks"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Analysis models.AnalysisConfig `yaml:"analysis"`
}

// envOverrides lists the settings operators change per deployment. Values
// left unset in the environment keep whatever the file or defaults provided.
type envOverrides struct {
	Environment   string   `envconfig:"ENVIRONMENT"`
	Port          int      `envconfig:"SERVER_PORT"`
	LogLevel      string   `envconfig:"LOG_LEVEL"`
	PriceSource   string   `envconfig:"PRICE_SOURCE"`
	EventSource   string   `envconfig:"EVENT_SOURCE"`
	PriceFile     string   `envconfig:"PRICE_FILE"`
	EventFile     string   `envconfig:"EVENT_FILE"`
	EventURL      string   `envconfig:"EVENT_URL"`
	CHHost        string   `envconfig:"CLICKHOUSE_HOST"`
	CHPassword    string   `envconfig:"CLICKHOUSE_PASSWORD"`
	RedisHost     string   `envconfig:"REDIS_HOST"`
	RedisPassword string   `envconfig:"REDIS_PASSWORD"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	SQLitePath    string   `envconfig:"SQLITE_PATH"`
	Strategy      string   `envconfig:"STRATEGY"`
	Seed          uint64   `envconfig:"SEED"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides it with BRENT_* variables.
// A missing file is tolerated: defaults plus environment are used instead.
func LoadWithEnv(path string) (*Config, error) {
	var c *Config
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		c = Default()
	} else {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		c = Default()
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	c.merge(env)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) merge(env envOverrides) {
	setString(&c.Environment, env.Environment)
	if env.Port > 0 {
		c.Server.Port = env.Port
	}
	setString(&c.Logging.Level, env.LogLevel)
	setString(&c.Data.PriceSource, env.PriceSource)
	setString(&c.Data.EventSource, env.EventSource)
	setString(&c.Data.PriceFile, env.PriceFile)
	setString(&c.Data.EventFile, env.EventFile)
	setString(&c.Data.EventURL, env.EventURL)
	if env.CHHost != "" {
		c.ClickHouse.Host = env.CHHost
		c.ClickHouse.Enabled = true
	}
	setString(&c.ClickHouse.Password, env.CHPassword)
	if env.RedisHost != "" {
		c.Redis.Host = env.RedisHost
		c.Redis.Enabled = true
	}
	setString(&c.Redis.Password, env.RedisPassword)
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
		c.Kafka.Enabled = true
	}
	if env.SQLitePath != "" {
		c.SQLite.Path = env.SQLitePath
		c.SQLite.Enabled = true
	}
	setString(&c.Analysis.Engine.Strategy, env.Strategy)
	if env.Seed != 0 {
		c.Analysis.Engine.Seed = env.Seed
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Validate checks struct tags plus cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Data.PriceSource == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("data.price_source=clickhouse requires clickhouse.enabled")
	}
	if c.Data.EventSource == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("data.event_source=clickhouse requires clickhouse.enabled")
	}
	if c.Data.EventSource == "http" && c.Data.EventURL == "" {
		return fmt.Errorf("data.event_url is required for the http event source")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
