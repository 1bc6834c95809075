package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/pressly/goose/v3"

	"github.com/cks-portal/be-hub-orders/internal/client"
	"github.com/cks-portal/be-hub-orders/internal/config"
	"github.com/cks-portal/be-hub-orders/internal/database"
	"github.com/cks-portal/be-hub-orders/internal/handler"
	"github.com/cks-portal/be-hub-orders/internal/httpmw"
	"github.com/cks-portal/be-hub-orders/internal/logger"
	"github.com/cks-portal/be-hub-orders/internal/repository"
	"github.com/cks-portal/be-hub-orders/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Hub Orders Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run migrations
	if err := runMigrations(cfg.Database); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Connect to NATS (optional: notifications are best-effort)
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable; notifications disabled")
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(db)
	keysRepo := repository.NewDecisionKeysRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	// Initialize collaborator clients
	fulfillmentClient := client.NewFulfillmentClient(cfg.Clients.FulfillmentURL)
	identityClient := client.NewIdentityClient(cfg.Clients.IdentityURL)
	notifier := client.NewNotificationPublisher(nc, log.Logger)

	log.Info().
		Str("fulfillment_url", cfg.Clients.FulfillmentURL).
		Str("identity_url", cfg.Clients.IdentityURL).
		Msg("Collaborator clients initialized")

	// Initialize services
	orderService := service.NewOrderService(
		orderRepo, keysRepo, activityRepo,
		fulfillmentClient, identityClient, notifier, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(orderService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Order routes
	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListOrders(w, r)
		case http.MethodPost:
			httpHandler.CreateOrder(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/orders/get", httpHandler.GetOrder)
	mux.HandleFunc("/api/v1/orders/actions", httpHandler.GetActions)
	mux.HandleFunc("/api/v1/orders/decide", httpHandler.Decide)
	mux.HandleFunc("/api/v1/orders/archive", httpHandler.ArchiveOrder)
	mux.HandleFunc("/api/v1/orders/activity", httpHandler.GetActivity)

	// Apply middleware
	var h http.Handler = mux
	h = httpmw.RequestID(h)
	h = httpmw.Logger(&log.Logger)(h)
	h = httpmw.Recovery(&log.Logger)(h)
	h = httpmw.CORS([]string{"*"})(h)
	h = httpmw.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// runMigrations applies pending goose migrations before the pool opens.
func runMigrations(cfg config.DatabaseConfig) error {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := goose.Up(db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
