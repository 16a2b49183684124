package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"payment-relay/internal/cache"
	"payment-relay/internal/config"
	"payment-relay/internal/handler"
	"payment-relay/internal/migrations"
	"payment-relay/internal/paystack"
	"payment-relay/internal/repository"
	"payment-relay/internal/service"
)

// Server represents the HTTP server
type Server struct {
	router  *mux.Router
	server  *http.Server
	db      *sql.DB
	tracker *cache.DeliveryTracker
	logger  *slog.Logger
	port    string
}

// NewServer connects the store and optional delivery tracker and wires the
// routes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	ctx := context.Background()

	db, err := repository.Open(ctx, cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to database")

	if cfg.AutoMigrate {
		applied, err := migrations.Apply(ctx, db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("Migrations up to date", "applied", len(applied))
	}

	// A nil interface keeps the webhook service from calling into a nil tracker.
	var tracker *cache.DeliveryTracker
	var deliveries service.DeliveryTracker
	if cfg.RedisURL != "" {
		tracker, err = cache.NewDeliveryTracker(ctx, cfg.RedisURL, cfg.WebhookDedupTTL)
		if err != nil {
			logger.Warn("Redis unavailable, webhook redeliveries will be reprocessed", "error", err)
			tracker = nil
		} else {
			deliveries = tracker
			logger.Info("Webhook delivery tracking enabled", "ttl", cfg.WebhookDedupTTL)
		}
	}

	// Initialize store (Unit of Work)
	store := repository.NewStore(db, logger, cfg.DefaultCurrency)

	gateway := paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.ProcessorTimeout, logger)
	verifier := paystack.NewVerifier(cfg.PaystackSecretKey)

	paymentService := service.NewPaymentService(store, gateway, cfg.DefaultCurrency, logger)
	webhookService := service.NewWebhookService(store, verifier, deliveries, logger)
	apiKeyService := service.NewAPIKeyService(store, logger)

	paymentHandler := handler.NewPaymentHandler(paymentService)
	webhookHandler := handler.NewWebhookHandler(webhookService, cfg.WebhookMaxBodyBytes, logger)

	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(logger))

	// Webhook route is signature-verified, not API-key authenticated
	router.HandleFunc("/payments/webhook", webhookHandler.Receive).Methods("POST")

	payments := router.PathPrefix("/payments").Subrouter()
	payments.Use(handler.RequireAPIKey(apiKeyService, logger))
	payments.HandleFunc("/initialize", paymentHandler.Initialize).Methods("POST")
	payments.HandleFunc("/verify/{reference}", paymentHandler.Verify).Methods("GET")
	payments.HandleFunc("/transactions", paymentHandler.List).Methods("GET")
	payments.HandleFunc("/transactions/{reference}", paymentHandler.Get).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router:  router,
		db:      db,
		tracker: tracker,
		logger:  logger,
	}, nil
}

type requestIDKey struct{}

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware keeps an incoming request id or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			id, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains in-flight requests, then releases the database and Redis.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if s.tracker != nil {
		s.tracker.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return err
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		// Test environment - use discard logger
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		server.Stop(context.Background())
		return nil, "", err
	}

	return server, port, nil
}
