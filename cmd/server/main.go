package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kasastok/backend/internal/cache"
	"kasastok/backend/internal/config"
	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/httpapi"
	"kasastok/backend/internal/observability"
	"kasastok/backend/internal/service"
	"kasastok/backend/internal/store"
	"kasastok/backend/internal/store/memory"
	pgstore "kasastok/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	defaultPayment, err := domain.ParsePaymentType(cfg.DefaultPaymentType)
	if err != nil {
		log.Fatalf("invalid DEFAULT_PAYMENT_TYPE %q: %v", cfg.DefaultPaymentType, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.TxMaxAttempts)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.DBAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatalf("migrate: %v", err)
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	barcodes := cache.BarcodeCache(cache.NoopBarcodeCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisBarcodeCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.BarcodeCacheTTL)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
			_ = redisCache.Close()
		} else {
			barcodes = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	metrics := observability.NewMetrics()
	svc := service.New(repo, service.Config{DefaultPaymentType: defaultPayment},
		service.WithBarcodeCache(barcodes),
		service.WithRecorder(metrics),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	if err := bootstrapAdmin(ctx, auth, os.Getenv("SEED_ADMIN_PASSWORD")); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Production:    cfg.IsProduction(),
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("kasastok backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && (cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*") {
		return fmt.Errorf("ALLOWED_ORIGIN must name a single origin in production")
	}
	return nil
}

// bootstrapAdmin creates the first admin account when the user store is
// empty, which is the case for a freshly migrated database.
func bootstrapAdmin(ctx context.Context, auth *httpapi.AuthManager, password string) error {
	users, err := auth.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	if strings.TrimSpace(password) == "" {
		log.Println("WARNING: no users exist and SEED_ADMIN_PASSWORD is not set; nobody can log in")
		return nil
	}
	_, err = auth.CreateUser(ctx, domain.UserCreateRequest{
		Username: "admin",
		Password: password,
		FullName: "Store Owner",
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		return err
	}
	log.Println("bootstrap: created admin account")
	return nil
}
