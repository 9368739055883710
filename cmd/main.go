package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/handlers"
	"github.com/ukydev/fleet-dispatch/internal/logging"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/planner"
	"github.com/ukydev/fleet-dispatch/internal/recompute"
)

// app is a wired fleetd instance.
type app struct {
	handler http.Handler
	hub     *events.Hub
	limiter *middleware.RateLimitMiddleware
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(cfg *config.Config, logger log.FieldLogger) (*app, error) {
	a := &app{}
	store, err := openStore(cfg.Mongo, logger, a)
	if err != nil {
		return nil, err
	}

	a.hub = events.NewHub(logger)
	publishers := events.MultiPublisher{a.hub}
	if cfg.MQTT.Broker != "" {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "fleetd-" + uuid.NewString()
		}
		bridge, err := events.NewMQTTBridge(cfg.MQTT.Broker, clientID, cfg.MQTT.TopicPrefix, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, bridge.Close)
		publishers = append(publishers, bridge)
		logger.WithField("broker", cfg.MQTT.Broker).Info("Publishing route events over MQTT")
	}
	if cfg.AMQP.URL != "" {
		broker, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { broker.Close() })
		publishers = append(publishers, broker)
		logger.WithField("exchange", cfg.AMQP.Exchange).Info("Publishing route events over AMQP")
	}

	opts := []recompute.Option{
		recompute.WithPlanner(cfg.Planner),
		recompute.WithPublisher(publishers),
		recompute.WithLogger(logger),
	}
	if cfg.Optimizer.URL != "" {
		opts = append(opts, recompute.WithEngine(planner.NewRemoteEngine(cfg.Optimizer.URL, cfg.Optimizer.Timeout, logger)))
	}
	if cfg.OSRM.URL != "" {
		opts = append(opts, recompute.WithPathFinder(planner.NewOSRM(cfg.OSRM.URL)))
	}
	svc := recompute.New(store, opts...)

	mux := handlers.NewRouter(handlers.Deps{Store: store, Recomputer: svc, Routes: a.hub, Logger: logger})
	mws := []func(http.Handler) http.Handler{
		middleware.Recover(logger),
		middleware.RequestLogger(logger),
		middleware.CORS,
	}
	if cfg.Server.RateLimit > 0 {
		a.limiter = middleware.NewRateLimitMiddleware()
		mws = append(mws, a.limiter.RateLimit(cfg.Server.RateLimit, cfg.Server.RateWindow))
	}
	a.handler = middleware.Chain(mux, mws...)
	return a, nil
}

func openStore(cfg config.MongoConfig, logger log.FieldLogger, a *app) (*db.Store, error) {
	if cfg.URI == "" {
		logger.Warn("MONGO_URI not set, keeping data in memory")
		return db.NewMemoryStore(), nil
	}
	client, err := db.ConnectMongoURI(cfg.URI)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Disconnect(ctx)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.EnsureIndexes(ctx, client, cfg.Database); err != nil {
		a.Close()
		return nil, err
	}
	logger.WithField("database", cfg.Database).Info("Connected to MongoDB")
	return db.NewMongoStore(client, cfg.Database), nil
}

// sweep drops idle rate limit entries once per window.
func sweep(ctx context.Context, limiter *middleware.RateLimitMiddleware, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep(window)
		}
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("FLEET_CONFIG"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if err := logging.Configure(cfg.Log, os.Stderr); err != nil {
		log.WithError(err).Fatal("Failed to configure logging")
	}
	logger := log.StandardLogger()

	a, err := newApp(cfg, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to start fleetd")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go a.hub.Run(ctx)
	if a.limiter != nil {
		go sweep(ctx, a.limiter, cfg.Server.RateWindow)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}
