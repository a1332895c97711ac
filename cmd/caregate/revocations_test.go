package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/config"
	"github.com/platinummonkey/caregate/pkg/observability"
)

func testCodec(t *testing.T, access, refresh time.Duration) *auth.TokenCodec {
	t.Helper()
	codec, err := auth.NewTokenCodec(auth.CodecConfig{Secret: []byte("wiring-secret"), AccessTTL: access, RefreshTTL: refresh})
	if err != nil {
		t.Fatalf("NewTokenCodec failed: %v", err)
	}
	return codec
}

func TestNewRevocationRegistry_MemoryBackendSurvivesChurn(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Cache.Backend = cache.BackendMemory

	store := cache.NewMemoryStore(cache.Config{MemoryMaxEntries: 100, MemoryMaxTTL: time.Hour})
	t.Cleanup(func() { store.Close() })
	reg := newRevocationRegistry(cfg, store, testCodec(t, 0, 0), observability.NewNopLogger(), nil)

	if err := reg.Revoke(ctx, "jti-1", time.Hour); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("permcheck:user:%d:hospital:global:doctor.profile.view", i)
		if err := store.Set(ctx, key, []byte(`{"allowed":true}`), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	revoked, err := reg.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("Expected revocation to survive permission cache churn")
	}
}

func TestNewRevocationRegistry_RedisBackend(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := config.Default()
	cfg.Cache.Backend = cache.BackendRedis
	cfg.Cache.RedisURL = "redis://" + mr.Addr()
	cfg.Auth.RevocationTTL = time.Minute

	store, err := cache.New(cfg.Cache)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// The codec's refresh lifetime wins over a shorter configured ceiling.
	reg := newRevocationRegistry(cfg, store, testCodec(t, 15*time.Minute, 2*time.Hour), observability.NewNopLogger(), nil)
	if err := reg.Revoke(ctx, "jti-1", 0); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if ttl := mr.TTL("revoked:jti:jti-1"); ttl != 2*time.Hour {
		t.Errorf("Expected revocation TTL 2h, got %v", ttl)
	}
}
