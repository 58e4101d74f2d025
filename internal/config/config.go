package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Timezone    string `mapstructure:"timezone"` // IANA zone used for "today" rate windows
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Log struct {
		File       string `mapstructure:"file"` // empty disables file output
		MaxSizeMB  int    `mapstructure:"maxSizeMB"`
		MaxBackups int    `mapstructure:"maxBackups"`
		MaxAgeDays int    `mapstructure:"maxAgeDays"`
	} `mapstructure:"log"`
	NATS struct {
		URL           string             `mapstructure:"url"`
		GatewayEvents ConsumerNatsConfig `mapstructure:"gatewayEvents"`
		DLQSubject    string             `mapstructure:"dlqSubject"`    // Subject for terminally failed events
		NotifyPrefix  string             `mapstructure:"notifyPrefix"`  // Subject prefix for operator notifications
		NotifyEnabled bool               `mapstructure:"notifyEnabled"` // Publish notifications on NATS as well as in-process
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string        `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool          `mapstructure:"postgresAutoMigrate"`
		MaxOpenConns        int           `mapstructure:"maxOpenConns"`
		MaxIdleConns        int           `mapstructure:"maxIdleConns"`
		RetryMaxElapsed     time.Duration `mapstructure:"retryMaxElapsed"`
	} `mapstructure:"database"`
	Redis struct {
		URL     string        `mapstructure:"url"` // empty disables the reputation oracle
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"redis"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Admission struct {
		ConfigCacheTTL   time.Duration `mapstructure:"configCacheTTL"`   // control panel cache lifetime
		BlocklistRefresh time.Duration `mapstructure:"blocklistRefresh"` // bloom filter rebuild interval
		BlocklistFPRate  float64       `mapstructure:"blocklistFPRate"`
	} `mapstructure:"admission"`
	Assignment struct {
		LineCapacity   int           `mapstructure:"lineCapacity"`
		DefaultSegment string        `mapstructure:"defaultSegment"`
		SweepInterval  time.Duration `mapstructure:"sweepInterval"` // 0 disables the periodic sweep
	} `mapstructure:"assignment"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Sweep WorkerPoolConfig `mapstructure:"sweep"`
	} `mapstructure:"workerPools"`
}

// GatewayConfig holds the Evolution API client settings.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"baseURL"` // fallback when a line has no registered instance
	APIKey         string        `mapstructure:"apiKey"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	Backoff        bool          `mapstructure:"backoff"` // exponential backoff with jitter between attempts
	InitialDelay   time.Duration `mapstructure:"initialDelay"`
	MaxDelay       time.Duration `mapstructure:"maxDelay"`
}

// WorkerPoolConfig holds configuration for an ants worker pool
type WorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	MaxBlock   int           `mapstructure:"maxBlock"`   // Max goroutines blocked on submit, 0 means unlimited
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in day
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before DLQ
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// Location resolves Timezone, falling back to UTC on an empty or unknown zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.novendx")
	v.AddConfigPath("/etc/novendx")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		v.Set("redis.url", url)
	}
	if key := os.Getenv("EVOLUTION_API_KEY"); key != "" {
		v.Set("gateway.apiKey", key)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("timezone", "America/Sao_Paulo")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("log.maxBackups", 5)
	v.SetDefault("log.maxAgeDays", 14)

	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 10)
	v.SetDefault("database.retryMaxElapsed", 5*time.Second)

	v.SetDefault("nats.gatewayEvents.stream", "GATEWAY_EVENTS")
	v.SetDefault("nats.gatewayEvents.consumer", "novendx-gateway-events")
	v.SetDefault("nats.gatewayEvents.group", "novendx")
	v.SetDefault("nats.gatewayEvents.subjectList", []string{"gateway.events.>"})
	v.SetDefault("nats.gatewayEvents.maxAge", 7)
	v.SetDefault("nats.gatewayEvents.maxDeliver", 5)
	v.SetDefault("nats.gatewayEvents.nakBaseDelay", time.Second)
	v.SetDefault("nats.gatewayEvents.nakMaxDelay", 30*time.Second)
	v.SetDefault("nats.dlqSubject", "gateway.dlq")
	v.SetDefault("nats.notifyPrefix", "events")
	v.SetDefault("nats.notifyEnabled", true)

	v.SetDefault("redis.timeout", 500*time.Millisecond)

	v.SetDefault("gateway.requestTimeout", 15*time.Second)
	v.SetDefault("gateway.maxAttempts", 3)
	v.SetDefault("gateway.backoff", true)
	v.SetDefault("gateway.initialDelay", 500*time.Millisecond)
	v.SetDefault("gateway.maxDelay", 5*time.Second)

	v.SetDefault("admission.configCacheTTL", 30*time.Second)
	v.SetDefault("admission.blocklistRefresh", 5*time.Minute)
	v.SetDefault("admission.blocklistFPRate", 0.01)

	v.SetDefault("assignment.lineCapacity", 2)
	v.SetDefault("assignment.defaultSegment", "Padrão")
	v.SetDefault("assignment.sweepInterval", time.Minute)

	v.SetDefault("workerPools.sweep.poolSize", 8)
	v.SetDefault("workerPools.sweep.maxBlock", 0)
	v.SetDefault("workerPools.sweep.expiryTime", time.Minute)
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
