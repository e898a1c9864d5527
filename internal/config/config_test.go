package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func validConfig() Config {
	return Config{
		DBSource:         "postgres://localhost/stayvista",
		Env:              "development",
		LogLevel:         "debug",
		TokenSecret:      "secret",
		TokenTTL:         time.Hour,
		PaymentProvider:  "stripe",
		StripeSecret:     "sk_test",
		RoomStore:        "postgres",
		RetryAttempts:    3,
		RetryBackoff:     200 * time.Millisecond,
		AuthorizeTimeout: 10 * time.Second,
		ReserveTimeout:   5 * time.Second,
		RecordTimeout:    5 * time.Second,
		EventsBroker:     "none",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/stayvista")
	t.Setenv("ACCESS_TOKEN_SECRET", "secret")
	t.Setenv("STRIPE_SECRET", "sk_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.TokenTTL != 365*24*time.Hour || cfg.Currency != "usd" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryBackoff != 200*time.Millisecond {
		t.Fatalf("unexpected retry defaults: %d %s", cfg.RetryAttempts, cfg.RetryBackoff)
	}
	if cfg.AuthorizeTimeout != 10*time.Second || cfg.ReserveTimeout != 5*time.Second || cfg.RecordTimeout != 5*time.Second {
		t.Fatalf("unexpected stage timeouts: %+v", cfg)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/stayvista")
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("STRIPE_SECRET", "sk_test")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error without ACCESS_TOKEN_SECRET")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero ttl":         func(c *Config) { c.TokenTTL = 0 },
		"no retries":       func(c *Config) { c.RetryAttempts = 0 },
		"zero timeout":     func(c *Config) { c.RecordTimeout = 0 },
		"unknown provider": func(c *Config) { c.PaymentProvider = "paypal" },
		"stripe no key":    func(c *Config) { c.StripeSecret = "" },
		"omise no keys":    func(c *Config) { c.PaymentProvider = "omise" },
		"mongo no uri":     func(c *Config) { c.RoomStore = "mongo" },
		"unknown store":    func(c *Config) { c.RoomStore = "dynamo" },
		"rabbit no url":    func(c *Config) { c.EventsBroker = "rabbitmq" },
		"kafka no brokers": func(c *Config) { c.EventsBroker = "kafka" },
		"unknown broker":   func(c *Config) { c.EventsBroker = "nats" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", name)
		}
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg.PaymentProvider, cfg.OmisePublicKey, cfg.OmiseSecretKey = "omise", "pkey", "skey"
	cfg.RoomStore, cfg.MongoURI = "mongo", "mongodb://localhost:27017"
	cfg.EventsBroker, cfg.KafkaBrokers = "kafka", []string{"localhost:9092"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("alternate backends rejected: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := validConfig()
	if l := cfg.NewLogger(); l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}
	cfg.Env, cfg.LogLevel = "production", "nonsense"
	l := cfg.NewLogger()
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("production logs must be JSON, got %T", l.Formatter)
	}
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("unparsable level should fall back to info, got %s", l.GetLevel())
	}
}
