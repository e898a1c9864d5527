package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayvista/internal/api"
	"github.com/punchamoorthee/stayvista/internal/auth"
	"github.com/punchamoorthee/stayvista/internal/config"
	"github.com/punchamoorthee/stayvista/internal/events"
	"github.com/punchamoorthee/stayvista/internal/obs"
	"github.com/punchamoorthee/stayvista/internal/payment"
	"github.com/punchamoorthee/stayvista/internal/service"
	"github.com/punchamoorthee/stayvista/internal/store"
	"github.com/punchamoorthee/stayvista/internal/store/mongostore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := cfg.NewLogger()
	ctx := context.Background()

	shutdownTracer, err := obs.InitTracer(ctx, "stayvista-api", cfg.ServiceVersion, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	db, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// Room catalog: Postgres by default, MongoDB when configured.
	var rooms service.RoomCatalog = db
	health := pingers{db}
	if strings.EqualFold(cfg.RoomStore, "mongo") {
		m, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			log.Fatalf("mongo: %v", err)
		}
		defer m.Close(context.Background())
		rooms = m
		health = append(health, m)
	}

	var revocations auth.RevocationStore = auth.NewMemoryRevocationStore()
	if cfg.RedisURL != "" {
		rdb, err := auth.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		revocations = auth.NewRedisRevocationStore(rdb)
	} else {
		log.Warn("REDIS_URL not set; sign-outs are kept in memory")
	}
	authn, err := auth.NewAuthenticator(cfg.TokenSecret, cfg.TokenTTL, auth.WithRevocationStore(revocations))
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		log.Fatalf("payment provider: %v", err)
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		log.Fatalf("events: %v", err)
	}
	defer publisher.Close()

	// Initialize Layers
	bookings := service.NewBookingService(authn, payment.NewGateway(provider), rooms, db, db,
		service.WithLogger(log),
		service.WithPublisher(publisher),
		service.WithConfig(service.Config{
			Currency:               cfg.Currency,
			RetryAttempts:          cfg.RetryAttempts,
			RetryBackoff:           cfg.RetryBackoff,
			AuthorizeTimeout:       cfg.AuthorizeTimeout,
			ReserveTimeout:         cfg.ReserveTimeout,
			RecordTimeout:          cfg.RecordTimeout,
			IdempotencyLockTimeout: cfg.IdempotencyLockTimeout,
		}),
	)
	catalog := service.NewCatalogService(rooms, db, log)
	handler := api.NewHandler(bookings, catalog, authn, health, log, cfg.IsProduction())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(cfg.CORSOrigins),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "provider": provider.Name(), "room_store": cfg.RoomStore}).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown")
	}
	log.Info("server stopped")
}

func newProvider(cfg *config.Config) (payment.Provider, error) {
	if strings.EqualFold(cfg.PaymentProvider, "omise") {
		return payment.NewOmiseProvider(cfg.OmisePublicKey, cfg.OmiseSecretKey)
	}
	return payment.NewStripeProvider(cfg.StripeSecret), nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	switch strings.ToLower(cfg.EventsBroker) {
	case "rabbitmq":
		return events.NewRabbitPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return events.Noop{}, nil
	}
}

// pingers is healthy when every backend answers.
type pingers []api.Pinger

func (p pingers) Ping(ctx context.Context) error {
	for _, b := range p {
		if err := b.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}
