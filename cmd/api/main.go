package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/api"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/auth"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/config"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/directory"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/httputil"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/presence"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/proposals"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/store"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/ws"
)

func main() {
	cfg := config.LoadConfig()

	var logger *logging.Logger
	if cfg.Environment == "production" {
		logger = logging.NewLogger()
	} else {
		logger = logging.NewTextLogger()
	}

	// DB
	db, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open", "error", err)
	}
	if err := db.Ping(); err != nil {
		logger.Fatal("db ping", "error", err)
	}

	// Presence sink (optional)
	var sink presence.Sink
	if cfg.RedisURL != "" {
		client, err := presence.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connect", "error", err)
		}
		defer client.Close()
		sink = presence.NewRedisSink(client, 2*time.Minute, logger)
		logger.Info("presence sink enabled", "redis", cfg.RedisURL)
	}

	// Stores & services
	st := store.New(db)
	jwt := auth.NewJWT(cfg.JWTSecret)
	dir := directory.New(st, logger)
	registry := presence.NewRegistry(cfg.OfflineDebounce, sink, logger)
	proposalClient := proposals.NewClient(cfg.ProposalsURL, logger)

	hub := ws.NewHub(logger)
	server := ws.NewServer(cfg, logger, hub, registry, dir, st, jwt, proposalClient)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/api/auth/login", httputil.JSONHandler(func(w http.ResponseWriter, r *http.Request) error {
		return auth.HandleLogin(st, jwt, w, r)
	}))

	protected := httputil.Chain(
		httputil.JWTAuth(jwt),
		httputil.RateLimit(100, 200),
	)

	mux.Handle("/api/users/me", protected(httputil.JSONHandler(func(w http.ResponseWriter, r *http.Request) error {
		return auth.HandleMe(st, w, r)
	})))

	mux.Handle("/api/conversations", protected(httputil.JSONHandler(func(w http.ResponseWriter, r *http.Request) error {
		switch r.Method {
		case http.MethodGet:
			return api.HandleListConversations(dir, w, r)
		case http.MethodPost:
			return api.HandleCreateConversation(dir, w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			return nil
		}
	})))

	mux.Handle("/api/messages", protected(httputil.JSONHandler(func(w http.ResponseWriter, r *http.Request) error {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return nil
		}
		return api.HandleListMessages(dir, st, w, r)
	})))

	mux.Handle("/internal/conversations/invalidate", protected(httputil.JSONHandler(func(w http.ResponseWriter, r *http.Request) error {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return nil
		}
		return api.HandleInvalidateConversation(dir, w, r)
	})))

	mux.HandleFunc("/ws", server.Handle)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      httputil.CORS(cfg.AllowedOrigins)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", "error", err)
	}
	logger.Info("server exited")
}
