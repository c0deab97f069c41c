package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/cache"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/config"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/credential"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/httpapi"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/store/postgres"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/telemetry"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/verify"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("access-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	codec := credential.NewCodec(cfg.QRSecret, cfg.QRTokenTTL)
	verifier := verify.New(codec, st, cfg.AllowDegradedVerify)
	tokens := httpapi.NewTokenManager(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.TokenTTL, cfg.RefreshTokenTTL)

	handler := httpapi.NewHandler(httpapi.Config{
		Store:        st,
		Cache:        cache.NewMemory(),
		Codec:        codec,
		Verifier:     verifier,
		Tokens:       tokens,
		CacheTTL:     cfg.CacheTTL,
		StoreTimeout: cfg.StoreTimeout,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	chain := httpapi.LoggingMiddleware(limiter.Middleware(httpapi.AuthMiddleware(tokens, handler.Routes())))
	otelHandler := otelhttp.NewHandler(chain, "access-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("access-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
