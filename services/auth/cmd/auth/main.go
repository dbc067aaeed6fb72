package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"schoollib/internal/ratelimit"
	"schoollib/internal/usertoken"
	"schoollib/internal/util"
	"schoollib/pkg/backend"
	"schoollib/pkg/store"
	"schoollib/services/auth/internal/app"
	"schoollib/services/auth/internal/config"
	"schoollib/services/auth/internal/security"
	"schoollib/services/auth/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	provider, err := newProvider(cfg, db, rdb)
	if err != nil {
		log.Fatalf("failed to init auth provider: %v", err)
	}
	providerTimeout := mustDuration("providerTimeout", cfg.ProviderTimeout)
	auditTimeout := mustDuration("auditTimeout", cfg.AuditTimeout)

	appCore, err := app.New(app.Config{
		Store:           db,
		Provider:        provider,
		Alerts:          security.NewAuditAlerter(rdb, ""),
		ProviderTimeout: providerTimeout,
		AuditTimeout:    auditTimeout,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.LoginRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(rdb, "schoollib:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		Redis:          rdb,
		LoginLimiter:   limiter,
		TrustedProxies: trusted,
		DeskIdleTTL:    mustDuration("deskIdleTTL", cfg.DeskIdleTTL),
		SecureCookies:  cfg.SecureCookies,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go httpServer.Run(util.ContextWithLogger(ctx, logger))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("auth server listening", "addr", addr, "provider", cfg.Provider)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func newProvider(cfg config.FileConfig, db *store.GormStore, rdb redis.UniversalClient) (backend.Provider, error) {
	if cfg.Provider == config.ProviderHosted {
		hosted := backend.HostedConfig{BaseURL: cfg.HostedBaseURL, APIKey: cfg.HostedAPIKey}
		if cfg.HostedJWKSURL != "" {
			verifier, err := usertoken.NewVerifier(usertoken.Config{
				JWKSURL:  cfg.HostedJWKSURL,
				Issuer:   cfg.HostedIssuer,
				Audience: cfg.HostedAudience,
				Leeway:   mustDuration("jwtLeeway", cfg.JWTLeeway),
			})
			if err != nil {
				return nil, err
			}
			hosted.Verifier = verifier
		}
		return backend.NewHostedClient(hosted)
	}

	previous, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		return nil, err
	}
	sessions, err := store.NewJWTSessionStoreFromPEM(cfg.JWTPrivateKeyPath, cfg.JWTKeyID, previous, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      mustDuration("sessionTTL", cfg.SessionTTL),
		Leeway:   mustDuration("jwtLeeway", cfg.JWTLeeway),
		Revoker:  store.NewRedisTokenRevoker(rdb, ""),
	})
	if err != nil {
		return nil, err
	}
	refresh := store.NewRedisRefreshTokenStore(rdb, "")
	return backend.NewLocalProvider(db, sessions, refresh, mustDuration("refreshTTL", cfg.RefreshTTL))
}

// mustDuration parses a setting already checked by config.Load.
func mustDuration(name, raw string) time.Duration {
	d, err := config.ParseDuration(name, raw)
	if err != nil {
		log.Fatalf("failed to parse %s: %v", name, err)
	}
	return d
}
