package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/lane-checkin/internal/config"
	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/handler"
	"github.com/iliyamo/lane-checkin/internal/log"
	"github.com/iliyamo/lane-checkin/internal/middleware"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/queue"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
	"github.com/iliyamo/lane-checkin/internal/router"
	"github.com/iliyamo/lane-checkin/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log.Configure(log.Config{Level: cfg.LogLevel})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialect := database.ParseDialect(cfg.DBDriver)
	db, err := openDB(cfg, dialect)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", dialect.String()).Msg("open database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, dialect); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	staff := repository.NewStaffRepo(db)
	bootstrapAdmin(ctx, staff, cfg.BcryptCost)

	syncCfg := config.LoadSyncConfig()
	laneCfg := config.LoadLaneConfig()
	hub := realtime.NewHub(syncCfg.SubscriberBuffer)
	var bc realtime.Broadcaster = hub

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn().Msg("redis unavailable: rate limit, cache and cross-instance relay disabled")
	} else {
		defer rdb.Close()
		if syncCfg.RelayEnabled {
			relay := realtime.NewRedisRelay(rdb, hub, syncCfg.ChannelPrefix)
			go func() {
				if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("event relay stopped")
				}
			}()
			bc = relay
		}
	}

	amqpURL := queue.URL()
	svc := service.New(service.Deps{
		DB:          db,
		Dialect:     dialect,
		Broadcaster: bc,
		Publisher:   queue.NewPublisher(amqpURL),
		Lane:        laneCfg,
	})

	go svc.Waitlist.RunSweeper(ctx, laneCfg.OfferSweepInterval)
	go func() {
		err := queue.StartRoomCleanedConsumer(ctx, amqpURL, func(ctx context.Context, ev queue.RoomCleanedEvent) error {
			_, err := svc.Checkout.MarkClean(ctx, model.ResourceType(ev.ResourceType), ev.ResourceID)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("room.cleaned consumer stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())

	var limit echo.MiddlewareFunc = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	var cache = limit
	if rdb != nil {
		limit = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
		cache = middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	}

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, staff, repository.NewTokenRepo(db)), cfg.JWTSecret, limit)
	router.RegisterPublic(e, handler.NewPublicHandler(svc), cache)
	router.RegisterStaff(e, handler.NewRegisterHandler(svc), cfg.JWTSecret)
	router.RegisterKiosk(e, handler.NewKioskHandler(svc), cfg.KioskSecret, limit)
	router.RegisterObservers(e, handler.NewStreamHandler(hub, svc.Snapshots, syncCfg.Heartbeat), cfg.JWTSecret, cfg.KioskSecret)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Str("db", dialect.String()).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdown); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

func openDB(cfg config.Config, d database.Dialect) (*sql.DB, error) {
	if d == database.SQLite {
		return database.OpenSQLite(cfg.SQLitePath)
	}
	return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

// bootstrapAdmin creates the ADMIN account named by ADMIN_EMAIL and
// ADMIN_PASSWORD when it does not exist yet.
func bootstrapAdmin(ctx context.Context, staff *repository.StaffRepo, cost int) {
	email, pass := os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")
	if email == "" || pass == "" {
		return
	}
	_, err := staff.Create(ctx, email, "Administrator", pass, router.RoleAdmin, cost)
	switch {
	case err == nil:
		log.L().Info().Str("email", email).Msg("admin account created")
	case !errors.Is(err, repository.ErrEmailExists):
		log.L().Warn().Err(err).Msg("admin bootstrap failed")
	}
}
