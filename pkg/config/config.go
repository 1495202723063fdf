package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/flowgrid-go/pkg/database"
	"github.com/flowgrid-go/pkg/logger"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Email    EmailConfig    `mapstructure:"email"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logger   logger.Config  `mapstructure:"logger"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`
	WriteTimeout    int `mapstructure:"write_timeout"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

func (c DatabaseConfig) ToDatabaseConfig() database.Config {
	return database.Config{
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		Password:     c.Password,
		Name:         c.Name,
		SSLMode:      c.SSLMode,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
	}
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type QueueConfig struct {
	Workers        int `mapstructure:"workers"`
	MaxJobAttempts int `mapstructure:"max_job_attempts"`
	BaseBackoffMs  int `mapstructure:"base_backoff_ms"`
	MaxBackoffMs   int `mapstructure:"max_backoff_ms"`
	TriggerRPS     int `mapstructure:"trigger_rps"`
	TriggerBurst   int `mapstructure:"trigger_burst"`
}

type EmailConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     string `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	SendGridKey  string `mapstructure:"sendgrid_key"`
	From         string `mapstructure:"from"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

type EngineConfig struct {
	NodeTimeoutSec      int   `mapstructure:"node_timeout_sec"`
	TransformTimeoutSec int   `mapstructure:"transform_timeout_sec"`
	TransformCostLimit  int64 `mapstructure:"transform_cost_limit"`
	HTTPTimeoutSec      int   `mapstructure:"http_timeout_sec"`
}

func Load(serviceName string) (*Config, error) {
	viper.SetConfigName(serviceName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/flowgrid")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("FLOWGRID")

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus env vars are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8085)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.shutdown_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "flowgrid")
	viper.SetDefault("database.name", "flowgrid")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.topic", "flowgrid.execution.events")

	viper.SetDefault("queue.workers", 4)
	viper.SetDefault("queue.max_job_attempts", 3)
	viper.SetDefault("queue.base_backoff_ms", 500)
	viper.SetDefault("queue.max_backoff_ms", 30000)
	viper.SetDefault("queue.trigger_rps", 50)
	viper.SetDefault("queue.trigger_burst", 100)

	viper.SetDefault("email.smtp_host", "localhost")
	viper.SetDefault("email.smtp_port", "587")
	viper.SetDefault("email.from", "noreply@flowgrid.local")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", "flowgrid-engine")
	viper.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	viper.SetDefault("tracing.sample_rate", 1.0)

	viper.SetDefault("engine.node_timeout_sec", 30)
	viper.SetDefault("engine.transform_timeout_sec", 5)
	viper.SetDefault("engine.transform_cost_limit", 1000000)
	viper.SetDefault("engine.http_timeout_sec", 30)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.output", "stdout")
	viper.SetDefault("logger.add_caller", true)
}
