package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*LeaderboardCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := NewLeaderboardCache(client, Options{Key: "test:leaderboard", TTL: time.Minute})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return cache, server
}

func mustLoad(t *testing.T, cache *LeaderboardCache) []byte {
	t.Helper()
	payload, err := cache.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return payload
}

func TestLoadMissReturnsNil(t *testing.T) {
	cache, _ := newTestCache(t)

	if payload := mustLoad(t, cache); payload != nil {
		t.Fatalf("expected a miss, got %q", payload)
	}
}

func TestStoreLoadInvalidate(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	if err := cache.Store(ctx, []byte(`[{"name":"Alex Storm","votes":3}]`)); err != nil {
		t.Fatalf("store: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(mustLoad(t, cache), &entries); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	want := []map[string]any{{"name": "Alex Storm", "votes": float64(3)}}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("unexpected payload (-want +got):\n%s", diff)
	}
	if ttl := server.TTL("test:leaderboard"); ttl != time.Minute {
		t.Fatalf("expected a one minute ttl, got %s", ttl)
	}

	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if payload := mustLoad(t, cache); payload != nil {
		t.Fatalf("expected a miss after invalidation, got %q", payload)
	}
}

func TestSnapshotExpires(t *testing.T) {
	cache, server := newTestCache(t)

	if err := cache.Store(context.Background(), []byte("[]")); err != nil {
		t.Fatalf("store: %v", err)
	}
	server.FastForward(2 * time.Minute)

	if payload := mustLoad(t, cache); payload != nil {
		t.Fatalf("expected the snapshot to expire, got %q", payload)
	}
}

func TestConnectWithoutAddressDisablesCache(t *testing.T) {
	cache, err := Connect(context.Background(), "  ", Options{}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if cache != nil {
		t.Fatalf("expected no cache without an address")
	}
}

func TestConnectUsesURL(t *testing.T) {
	server := miniredis.RunT(t)

	cache, err := Connect(context.Background(), "redis://"+server.Addr()+"/0", Options{}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if cache == nil {
		t.Fatalf("expected a cache for a reachable url")
	}
	t.Cleanup(func() { _ = cache.Close() })
	if err := cache.Store(context.Background(), []byte("[]")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if !server.Exists(defaultKey) {
		t.Fatalf("expected %q to be written", defaultKey)
	}
}

func TestConnectToUnreachableServerDisablesCache(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	cache, err := Connect(context.Background(), addr, Options{}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if cache != nil {
		t.Fatalf("expected no cache for an unreachable server")
	}
}
