// cmd/historian drains the Redis room action queue into the Postgres room_actions table.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/storyteller/internal/cache"
	"github.com/jason-s-yu/storyteller/internal/config"
	"github.com/jason-s-yu/storyteller/internal/database"
	"github.com/jason-s-yu/storyteller/internal/historian"
	"github.com/jason-s-yu/storyteller/internal/models"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const idleAfter = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectDB(ctx, cfg.PostgresDSN())
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	queue := cache.NewActionQueue(rdb, cfg.QueueName)
	sink := func(ctx context.Context, recs []models.RoomAction) error {
		return database.InsertRoomActions(ctx, pool, recs)
	}
	svc := historian.NewService(queue, sink, cfg.BatchSize, cfg.FlushInterval(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				for _, id := range svc.IdleRooms(now, idleAfter) {
					logger.WithField("room_id", id).Info("room idle")
				}
			}
		}
	})

	logger.WithField("queue", queue.Name()).Info("historian running")
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("historian exited")
		os.Exit(1)
	}
	logger.Info("historian shutdown complete")
}
