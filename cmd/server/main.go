// cmd/server/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/storyteller/internal/auth"
	"github.com/jason-s-yu/storyteller/internal/cache"
	"github.com/jason-s-yu/storyteller/internal/config"
	"github.com/jason-s-yu/storyteller/internal/database"
	"github.com/jason-s-yu/storyteller/internal/database/sqlite"
	"github.com/jason-s-yu/storyteller/internal/game"
	"github.com/jason-s-yu/storyteller/internal/handlers"
	"github.com/jason-s-yu/storyteller/internal/models"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// roomStore is what the server needs from either storage backend.
type roomStore interface {
	game.Store
	handlers.Pinger
	SeedCatalog(ctx context.Context, cards []models.CatalogCard) error
}

func main() {
	seed := flag.String("seed", "", "JSON file of catalog cards to load before serving")
	hashKey := flag.String("hash-admin-key", "", "print the ADMIN_KEY_HASH for the given key and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := auth.HashKey(*hashKey, auth.DefaultHashParams)
		if err != nil {
			logrus.Fatalf("hash admin key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	if err := run(cfg, *seed, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(cfg config.Config, seedPath string, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if seedPath != "" {
		if err := seedCatalog(ctx, store, seedPath); err != nil {
			return err
		}
		logger.WithField("file", seedPath).Info("catalog seeded")
	}

	ttl, err := cfg.TokenExpiry()
	if err != nil {
		return err
	}
	tokens, err := auth.NewSessionIssuer(ttl)
	if err != nil {
		return err
	}

	var actions game.ActionLog
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		actions = cache.NewActionQueue(rdb, cfg.QueueName)
		logger.WithField("queue", cfg.QueueName).Info("action log enabled")
	} else {
		logger.Info("REDIS_ADDR not set, action log disabled")
	}

	hub := handlers.NewHub(logger)
	coord := game.NewCoordinator(store, hub, tokens, actions, logger)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: handlers.NewRouter(handlers.API{
			Coordinator:    coord,
			Hub:            hub,
			Store:          store,
			AdminKeyHash:   cfg.AdminHash,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (roomStore, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", cfg.SQLitePath).Info("using sqlite store")
		return s, func() { _ = s.Close() }, nil
	default:
		pool, err := database.ConnectDB(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("using postgres store")
		return database.NewRoomStore(pool), pool.Close, nil
	}
}

func seedCatalog(ctx context.Context, store roomStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var cards []models.CatalogCard
	if err := json.Unmarshal(data, &cards); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	return store.SeedCatalog(ctx, cards)
}
