package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/doctor"
	"github.com/clinicdesk/clinic/internal/domain/events"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/domain/prescription"
	"github.com/clinicdesk/clinic/internal/domain/queue"
	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/middleware"
	"github.com/clinicdesk/clinic/internal/platform/pubsub"
	"github.com/clinicdesk/clinic/internal/platform/websocket"
)

const (
	shutdownTimeout = 10 * time.Second
	requestTimeout  = 30 * time.Second
)

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

// app is the wired process: router plus the background loops serve runs.
type app struct {
	echo        *echo.Echo
	hub         *websocket.Hub
	broadcaster *queue.Broadcaster
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, bus queue.Bus, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	tx := db.NewTxManager(pool, db.RetryPolicy{
		MaxAttempts: cfg.TxMaxAttempts,
		BaseDelay:   cfg.TxRetryBaseDelay,
		MaxDelay:    time.Second,
	}, logger)

	// Repositories
	seqRepo := sequence.NewRepoPG(pool)
	doctorRepo := doctor.NewRepoPG(pool)
	patientRepo := patient.NewRepoPG(pool)
	apptRepo := appointment.NewRepoPG(pool)
	billRepo := billing.NewRepoPG(pool)
	eventRepo := events.NewRepoPG(pool)
	rxRepo := prescription.NewRepoPG(pool)
	queueRepo := queue.NewRepoPG(pool)

	// Services
	alloc := sequence.NewAllocator(seqRepo, loc)
	eventLog := events.NewLog(eventRepo)
	patientSvc := patient.NewService(patientRepo, alloc, tx, logger)
	billGen := billing.NewGenerator(billRepo, alloc)
	billSvc := billing.NewService(billRepo, eventLog, tx, logger)
	rxSvc := prescription.NewService(rxRepo, apptRepo, eventLog, tx, logger)

	hub := websocket.NewHub(websocket.HubConfig{
		MaxPerResource: cfg.QueueMaxSubs,
		IdleTimeout:    cfg.QueueIdleTimeout,
		SweepInterval:  cfg.QueueSweepInterval,
	}, logger)
	broadcaster := queue.NewBroadcaster(queueRepo, alloc, hub, bus, logger)

	apptSvc := appointment.NewService(appointment.Deps{
		Repo:     apptRepo,
		Seq:      alloc,
		Doctors:  doctorRepo,
		Patients: patientSvc,
		Bills:    billGen,
		Events:   eventLog,
		Tx:       tx,
		Notifier: broadcaster,
		Logger:   logger,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))

	doctor.NewHandler(doctorRepo).RegisterRoutes(apiV1)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	appointment.NewHandler(apptSvc).RegisterRoutes(apiV1)
	billing.NewHandler(billSvc).RegisterRoutes(apiV1)
	events.NewHandler(eventLog).RegisterRoutes(apiV1)
	prescription.NewHandler(rxSvc).RegisterRoutes(apiV1)

	queueHandler := queue.NewHandler(broadcaster, doctorRepo, hub)
	queueHandler.RegisterRoutes(apiV1)
	queueHandler.RegisterStreamRoutes(e.Group(""),
		auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse, auth.RoleCashier))

	return &app{echo: e, hub: hub, broadcaster: broadcaster}, nil
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// A nil *RedisBus must not end up inside the interface.
	var bus queue.Bus
	if cfg.RedisURL != "" {
		redisBus, err := pubsub.NewRedisBus(ctx, cfg.RedisURL, cfg.QueueRedisChannel, logger)
		if err != nil {
			return err
		}
		defer redisBus.Close()
		bus = redisBus
		logger.Info().Str("channel", cfg.QueueRedisChannel).Msg("queue fan-out through redis")
	}

	a, err := buildApp(cfg, pool, bus, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error { return a.broadcaster.Run(gctx) })
	if bus != nil {
		g.Go(func() error { return a.broadcaster.Subscribe(gctx) })
	}
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.echo.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
