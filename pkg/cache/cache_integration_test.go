//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container and returns a client
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestManager_Integration_RoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	manager := NewManager(redisClient, time.Hour)
	ctx := context.Background()

	key := Key("prompt", testDescriptor())
	result := testResult()

	if err := manager.Set(ctx, key, result); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if len(retrieved.Candidates) != len(result.Candidates) {
		t.Errorf("Candidates = %d, want %d", len(retrieved.Candidates), len(result.Candidates))
	}
	if retrieved.OutputTokens != result.OutputTokens {
		t.Errorf("OutputTokens = %d, want %d", retrieved.OutputTokens, result.OutputTokens)
	}
}

func TestManager_Integration_TTLExpiry(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	manager := NewManager(redisClient, time.Second)
	ctx := context.Background()

	key := Key("prompt", testDescriptor())
	if err := manager.Set(ctx, key, testResult()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := manager.Get(ctx, key); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	_, err := manager.Get(ctx, key)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after expiry error = %v, want ErrCacheMiss", err)
	}
}

func TestCachingMapper_Integration_SharedCache(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	manager := NewManager(redisClient, time.Hour)
	ctx := context.Background()
	d := testDescriptor()

	// Two decorated mappers sharing the same backend: the second never
	// reaches its inner mapper.
	first := &scriptedMapper{result: testResult()}
	second := &scriptedMapper{result: testResult()}

	if _, err := NewCachingMapper(first, manager).Submit(ctx, d, "prompt"); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if _, err := NewCachingMapper(second, manager).Submit(ctx, d, "prompt"); err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}

	if first.calls != 1 {
		t.Errorf("first inner calls = %d, want 1", first.calls)
	}
	if second.calls != 0 {
		t.Errorf("second inner calls = %d, want 0", second.calls)
	}
}
