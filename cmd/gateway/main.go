package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tickertalk/gateway/internal/admission"
	"github.com/tickertalk/gateway/internal/api"
	"github.com/tickertalk/gateway/internal/config"
	"github.com/tickertalk/gateway/internal/credential"
	"github.com/tickertalk/gateway/internal/ratelimit"
	"github.com/tickertalk/gateway/internal/store"
	"github.com/tickertalk/gateway/internal/token"
)

const (
	rotationInterval = 24 * time.Hour
	sweepInterval    = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v\n", err)
	}

	logger := newLogger(cfg.Log)

	ttlStore, err := newStore(cfg.Store)
	if err != nil {
		log.Fatalf("store: %v\n", err)
	}
	defer ttlStore.Close()

	unit := credential.NewUnit(credential.DefaultParams(), 4)
	credentials := credential.NewStore(unit, cfg.Secrets, logger)
	if err := credentials.Bootstrap(); err != nil {
		// missing upstream secrets are fatal at startup; the gateway must
		// not come up half-credentialed
		log.Fatalf("credentials: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go credentials.RunRotation(ctx, rotationInterval)
	if cfg.SecretsFile != "" {
		if err := credentials.WatchSecrets(ctx, cfg.SecretsFile); err != nil {
			logger.WithError(err).Warn("couldn't watch secrets file")
		}
	}

	limits := admission.Limits{
		Global: ratelimit.NewLimiter(ratelimit.Policy{
			Window:      cfg.Limits.Global.Window(),
			MaxRequests: cfg.Limits.Global.MaxRequests,
		}),
		Proxy: ratelimit.NewLimiter(ratelimit.Policy{
			Window:      cfg.Limits.Proxy.Window(),
			MaxRequests: cfg.Limits.Proxy.MaxRequests,
		}),
		Auth: ratelimit.NewLimiter(ratelimit.Policy{
			Window:      cfg.Limits.Auth.Window(),
			MaxRequests: cfg.Limits.Auth.MaxRequests,
		}),
	}
	go ratelimit.RunSweeper(ctx, sweepInterval, limits.Global, limits.Proxy, limits.Auth)
	go store.RunSweeper(ctx, ttlStore, sweepInterval, logger)

	tokens := token.NewIssuer(token.Config{
		Secret:     cfg.Token.Secret,
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		AccessTTL:  time.Duration(cfg.Token.AccessTTLSeconds) * time.Second,
		RefreshTTL: time.Duration(cfg.Token.RefreshTTLSeconds) * time.Second,
	}, ttlStore)

	trustedProxies, err := cfg.TrustedProxyNets()
	if err != nil {
		log.Fatalf("config: %v\n", err)
	}

	controller := admission.NewController(
		limits,
		credentials,
		tokens,
		cfg.AllowedOrigins(),
		trustedProxies,
		cfg.MaxBodyBytes,
		logger,
	)
	forwarder := admission.NewForwarder(cfg.UpstreamTimeout())

	a := api.New(cfg, controller, forwarder, tokens, credentials, logger)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("listen", cfg.Listen).Info("gateway listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v\n", err)
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func newStore(cfg config.StoreConfig) (store.TTLStore, error) {
	if cfg.Backend == "sqlite" {
		return store.NewSQLiteStore(cfg.Path)
	}
	return store.NewMemoryStore(), nil
}
