package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	LogLevel    string
	Database    DatabaseConfig
	MQTT        MQTTConfig
	RabbitMQ    RabbitMQConfig
	Ingest      IngestConfig
	HTTP        HTTPConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL              string
	MaxConns         int32
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	StreamTimeout    time.Duration
}

// MQTTConfig holds broker connection and subscription settings
type MQTTConfig struct {
	Broker               string
	ClientID             string
	Username             string
	Password             string
	HistoricalTopic      string
	PeriodicTopic        string
	QoS                  byte
	KeepAlive            time.Duration
	OperationTimeout     time.Duration
	MaxReconnectInterval time.Duration
	DisconnectQuiesce    time.Duration
}

// RabbitMQConfig holds the optional accepted-sample fan-out settings.
// An empty URL disables publishing.
type RabbitMQConfig struct {
	URL         string
	Exchange    string
	RoutingKey  string
	DialTimeout time.Duration
}

// IngestConfig holds decode and retry settings for the ingestion pipeline
type IngestConfig struct {
	MaxAttempts        int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	DefaultLocalTime   string
	AllowUnknownFields bool
}

// HTTPConfig holds query API server settings
type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "appliance-telemetry"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:              getEnv("DATABASE_URL", ""),
			MaxConns:         int32(getEnvAsInt("DB_MAX_CONNS", 10)),
			ConnectTimeout:   getEnvAsDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
			OperationTimeout: getEnvAsDuration("DB_OPERATION_TIMEOUT", 5*time.Second),
			StreamTimeout:    getEnvAsDuration("DB_STREAM_TIMEOUT", 60*time.Second),
		},
		MQTT: MQTTConfig{
			Broker:               getEnv("MQTT_BROKER", ""),
			ClientID:             getEnv("MQTT_CLIENT_ID", "appliance-telemetry"),
			Username:             getEnv("MQTT_USER", ""),
			Password:             getEnv("MQTT_PASSWORD", ""),
			HistoricalTopic:      getEnv("MQTT_HISTORICAL_TOPIC", "shuteye/historical"),
			PeriodicTopic:        getEnv("MQTT_PERIODIC_TOPIC", "shuteye/periodic"),
			QoS:                  byte(getEnvAsInt("MQTT_QOS", 1)),
			KeepAlive:            getEnvAsDuration("MQTT_KEEPALIVE", 60*time.Second),
			OperationTimeout:     getEnvAsDuration("MQTT_OPERATION_TIMEOUT", 10*time.Second),
			MaxReconnectInterval: getEnvAsDuration("MQTT_MAX_RECONNECT_INTERVAL", 30*time.Second),
			DisconnectQuiesce:    getEnvAsDuration("MQTT_DISCONNECT_QUIESCE", 250*time.Millisecond),
		},
		RabbitMQ: RabbitMQConfig{
			URL:         getEnv("RABBITMQ_URL", ""),
			Exchange:    getEnv("RABBITMQ_EXCHANGE", "appliance-telemetry.events.exchange"),
			RoutingKey:  getEnv("RABBITMQ_ROUTING_KEY", "appliance.sample.accepted"),
			DialTimeout: getEnvAsDuration("RABBITMQ_DIAL_TIMEOUT", 10*time.Second),
		},
		Ingest: IngestConfig{
			MaxAttempts:        getEnvAsInt("INGEST_MAX_ATTEMPTS", 3),
			InitialBackoff:     getEnvAsDuration("INGEST_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:         getEnvAsDuration("INGEST_MAX_BACKOFF", 2*time.Second),
			DefaultLocalTime:   getEnv("INGEST_DEFAULT_LOCAL_TIME", "1970-01-01 00:00:00"),
			AllowUnknownFields: getEnvAsBool("INGEST_ALLOW_UNKNOWN_FIELDS", false),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("HTTP_PORT", 6543),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("MQTT_BROKER is required but not set in environment variables")
	}
	if c.MQTT.HistoricalTopic == "" || c.MQTT.PeriodicTopic == "" {
		return fmt.Errorf("MQTT_HISTORICAL_TOPIC and MQTT_PERIODIC_TOPIC must both be set")
	}
	if c.MQTT.HistoricalTopic == c.MQTT.PeriodicTopic {
		return fmt.Errorf("MQTT_HISTORICAL_TOPIC and MQTT_PERIODIC_TOPIC must differ, got %q for both", c.MQTT.PeriodicTopic)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Ingest.MaxAttempts < 1 {
		return fmt.Errorf("INGEST_MAX_ATTEMPTS must be at least 1, got %d", c.Ingest.MaxAttempts)
	}
	if c.Database.OperationTimeout <= 0 || c.MQTT.OperationTimeout <= 0 {
		return fmt.Errorf("DB_OPERATION_TIMEOUT and MQTT_OPERATION_TIMEOUT must be positive")
	}
	if c.MQTT.KeepAlive > 0 && c.IngestBudget() >= c.MQTT.KeepAlive {
		return fmt.Errorf("worst-case ingest time %s (INGEST_MAX_ATTEMPTS x DB_OPERATION_TIMEOUT plus backoff) must stay below MQTT_KEEPALIVE %s",
			c.IngestBudget(), c.MQTT.KeepAlive)
	}
	return nil
}

// IngestBudget is the longest one message can hold the MQTT delivery
// goroutine: every attempt times out and every retry waits MaxBackoff.
func (c *Config) IngestBudget() time.Duration {
	attempts := time.Duration(c.Ingest.MaxAttempts)
	return attempts*c.Database.OperationTimeout + (attempts-1)*c.Ingest.MaxBackoff
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
