package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/medloop/telecall/internal/appointment"
	"github.com/medloop/telecall/internal/config"
	"github.com/medloop/telecall/internal/db"
	redisclient "github.com/medloop/telecall/internal/redis"
)

// The reaper force-completes appointments that have sat in started for longer
// than STALE_SESSION_TTL, so an abandoned call cannot pin its patient in the
// one-live-appointment rule forever. Live rooms for reaped appointments drain
// on their own: the relay rejects rejoins once the status flips, and a
// call-ended from either side just sees a harmless conflict.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("session-reaper starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running session reaper in env=%s interval=%s ttl=%s", cfg.Env, cfg.ReaperInterval, cfg.StaleSessionTTL)

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

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisPatientLocker(rdb, cfg.BookingLockTTL)
	svc := appointment.NewService(repo, locker, nil, cfg)

	// Run once at startup
	runOnce(rootCtx, svc)

	ticker := time.NewTicker(cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping session reaper")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.ReapStaleSessions(runCtx); err != nil {
		log.Printf("reap run error: %v", err)
		return
	}
	log.Printf("reap run complete in %s", time.Since(start))
}
