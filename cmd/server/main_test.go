package main

import (
	"context"
	"testing"
	"time"

	"kasastok/backend/internal/config"
	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/httpapi"
	"kasastok/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}

	err = validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AppEnv:        "production",
		AllowedOrigin: "*",
	})
	if err == nil {
		t.Fatalf("expected wildcard origin to be rejected in production")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AppEnv:        "production",
		AllowedOrigin: "https://till.example.com",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestBootstrapAdminOnEmptyStore(t *testing.T) {
	repo := memory.New()
	auth := httpapi.NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, repo)

	if err := bootstrapAdmin(context.Background(), auth, ""); err != nil {
		t.Fatalf("bootstrap without password: %v", err)
	}
	if users, _ := repo.ListUsers(context.Background()); len(users) != 0 {
		t.Fatalf("expected no users without a seed password, got %d", len(users))
	}

	if err := bootstrapAdmin(context.Background(), auth, "owner-pass-1"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "owner-pass-1"})
	if err != nil {
		t.Fatalf("login as bootstrapped admin: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	// A populated store is left alone.
	if err := bootstrapAdmin(context.Background(), auth, "different-pass"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "owner-pass-1"}); err != nil {
		t.Fatalf("original password should still work: %v", err)
	}
}
