package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DBSource string `envconfig:"DB_SOURCE" required:"true"`
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	Env      string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:5174"`

	// Session
	TokenSecret string        `envconfig:"ACCESS_TOKEN_SECRET" required:"true"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"8760h"`
	RedisURL    string        `envconfig:"REDIS_URL"`

	// Payments
	PaymentProvider string `envconfig:"PAYMENT_PROVIDER" default:"stripe"`
	Currency        string `envconfig:"CURRENCY" default:"usd"`
	StripeSecret    string `envconfig:"STRIPE_SECRET"`
	OmisePublicKey  string `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey  string `envconfig:"OMISE_SECRET_KEY"`

	// Room catalog backend: postgres | mongo
	RoomStore string `envconfig:"ROOM_STORE" default:"postgres"`
	MongoURI  string `envconfig:"MONGO_URI"`
	MongoDB   string `envconfig:"MONGO_DB" default:"stayVista_DB"`

	// Booking flow
	RetryAttempts          int           `envconfig:"PAYMENT_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff           time.Duration `envconfig:"PAYMENT_RETRY_BACKOFF" default:"200ms"`
	AuthorizeTimeout       time.Duration `envconfig:"AUTHORIZE_TIMEOUT" default:"10s"`
	ReserveTimeout         time.Duration `envconfig:"RESERVE_TIMEOUT" default:"5s"`
	RecordTimeout          time.Duration `envconfig:"RECORD_TIMEOUT" default:"5s"`
	IdempotencyLockTimeout time.Duration `envconfig:"IDEMPOTENCY_LOCK_TIMEOUT" default:"1m"`

	// Events: none | rabbitmq | kafka
	EventsBroker   string   `envconfig:"EVENTS_BROKER" default:"none"`
	AMQPURL        string   `envconfig:"AMQP_URL"`
	AMQPExchange   string   `envconfig:"AMQP_EXCHANGE" default:"stayvista.events"`
	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic     string   `envconfig:"KAFKA_TOPIC" default:"stayvista.bookings"`
	OTLPEndpoint   string   `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceVersion string   `envconfig:"SERVICE_VERSION" default:"0.1.0"`
}

// Load reads the environment (and an optional .env file) into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the booking flow cannot run with.
func (c *Config) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("ACCESS_TOKEN_SECRET must not be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("PAYMENT_RETRY_ATTEMPTS must be at least 1")
	}
	if c.AuthorizeTimeout <= 0 || c.ReserveTimeout <= 0 || c.RecordTimeout <= 0 {
		return fmt.Errorf("stage timeouts must be positive")
	}

	switch strings.ToLower(c.PaymentProvider) {
	case "stripe":
		if c.StripeSecret == "" {
			return fmt.Errorf("STRIPE_SECRET is required for the stripe provider")
		}
	case "omise":
		if c.OmisePublicKey == "" || c.OmiseSecretKey == "" {
			return fmt.Errorf("OMISE_PUBLIC_KEY and OMISE_SECRET_KEY are required for the omise provider")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}

	switch strings.ToLower(c.RoomStore) {
	case "postgres":
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when ROOM_STORE=mongo")
		}
	default:
		return fmt.Errorf("unknown ROOM_STORE %q", c.RoomStore)
	}

	switch strings.ToLower(c.EventsBroker) {
	case "none":
	case "rabbitmq":
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when EVENTS_BROKER=rabbitmq")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_BROKER=kafka")
		}
	default:
		return fmt.Errorf("unknown EVENTS_BROKER %q", c.EventsBroker)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// NewLogger builds the process logger: JSON in production, text elsewhere.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
