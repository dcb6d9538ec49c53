package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Storage  Storage  `mapstructure:"storage"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Retry    Retry    `mapstructure:"retry"`
	Pipeline Pipeline `mapstructure:"pipeline"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort     string `mapstructure:"http_port"`      // HTTP port to listen on
	MaxUploadMiB int64  `mapstructure:"max_upload_mib"` // multipart memory limit
}

// Storage holds configuration for the object storage backend.
type Storage struct {
	Backend    string `mapstructure:"backend"` // "minio" or "s3"
	Endpoint   string `mapstructure:"endpoint"`
	Region     string `mapstructure:"region"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"` // pipeline bucket for uploads
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Kafka holds configuration for the bucket notification queue.
type Kafka struct {
	Enabled         bool     `mapstructure:"enabled"`
	GroupID         string   `mapstructure:"group_id"`          // Consumer group ID
	Topic           string   `mapstructure:"topic"`             // bucket notification topic
	ResultsTopic    string   `mapstructure:"results_topic"`     // finalized envelopes, optional
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"` // notifications that kept failing, optional
	Brokers         []string `mapstructure:"brokers"`           // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Pipeline holds the stage defaults applied when a request omits them.
type Pipeline struct {
	Operation       string  `mapstructure:"operation"` // deployment operation, empty infers from key
	RotationDegrees float64 `mapstructure:"rotation_degrees"`
	Expand          bool    `mapstructure:"expand"`
	ScalePercent    float64 `mapstructure:"scale_percent"`
	GreyscaleMode   string  `mapstructure:"greyscale_mode"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", ":8080")
	v.SetDefault("server.max_upload_mib", 10)

	v.SetDefault("storage.backend", "minio")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket_name", "image-pipeline")

	v.SetDefault("kafka.group_id", "image-pipeline")
	v.SetDefault("kafka.topic", "image-events")
	v.SetDefault("kafka.dead_letter_topic", "image-events-dlq")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", time.Second)
	v.SetDefault("retry.backoff", 2.0)

	v.SetDefault("pipeline.rotation_degrees", 180.0)
	v.SetDefault("pipeline.expand", false)
	v.SetDefault("pipeline.scale_percent", 150.0)
	v.SetDefault("pipeline.greyscale_mode", "L")
}

// bindEnv binds environment variables to Viper keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"server.http_port":          "HTTP_PORT",
		"storage.backend":           "STORAGE_BACKEND",
		"storage.endpoint":          "STORAGE_ENDPOINT",
		"storage.region":            "AWS_REGION",
		"storage.access_key":        "STORAGE_ACCESS_KEY",
		"storage.secret_key":        "STORAGE_SECRET_KEY",
		"storage.bucket_name":       "STORAGE_BUCKET",
		"storage.use_ssl":           "STORAGE_USE_SSL",
		"kafka.enabled":             "KAFKA_ENABLED",
		"kafka.group_id":            "KAFKA_GROUP_ID",
		"kafka.topic":               "KAFKA_TOPIC",
		"kafka.results_topic":       "KAFKA_RESULTS_TOPIC",
		"kafka.dead_letter_topic":   "KAFKA_DEAD_LETTER_TOPIC",
		"kafka.brokers":             "KAFKA_BROKERS",
		"pipeline.operation":        "STAGE_OPERATION",
		"pipeline.rotation_degrees": "ROTATION_DEGREES",
		"pipeline.scale_percent":    "SCALE_PERCENT",
		"pipeline.greyscale_mode":   "GREYSCALE_MODE",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the YAML file at path, if present, then applies environment
// overrides on top of the built-in defaults. A missing file is not an error
// so that functions configured only through the environment still start.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// KAFKA_BROKERS arrives as one comma-separated string.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}
