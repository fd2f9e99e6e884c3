package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/medloop/telecall/internal/api"
	"github.com/medloop/telecall/internal/appointment"
	"github.com/medloop/telecall/internal/auth"
	"github.com/medloop/telecall/internal/config"
	"github.com/medloop/telecall/internal/db"
	redisclient "github.com/medloop/telecall/internal/redis"
	"github.com/medloop/telecall/internal/room"
	"github.com/medloop/telecall/internal/signaling"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	registry := room.NewRegistry()
	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisPatientLocker(rdb, cfg.BookingLockTTL)
	svc := appointment.NewService(repo, locker, registry, cfg)

	gate := auth.NewTokenAuthenticator(cfg.TokenSecret)
	relay := signaling.NewRelay(svc, registry, gate, cfg.AllowedOrigins)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Relay:          relay,
		Gate:           gate,
		PgPool:         pgPool,
		Redis:          rdb,
		AllowedOrigins: cfg.AllowedOrigins,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Evict everyone still on a call so clients see call-ended instead of a
	// dead socket; draining the rooms also lets the websocket handlers exit,
	// which Shutdown waits on.
	registry.DestroyAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	log.Println("api-server stopped")
}
