package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"podiumgo/internal/config"
)

func TestNilClientReportsNotInitialized(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Second); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if _, err := c.IncrWithTTL(ctx, "k", time.Second); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil client: %v", err)
	}
	if c.Raw() != nil {
		t.Fatalf("nil client raw should be nil")
	}
}

func TestIncrWithTTLAgainstRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	client, err := NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	key := "podium:test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer client.Del(ctx, key)

	for want := int64(1); want <= 3; want++ {
		got, err := client.IncrWithTTL(ctx, key, time.Minute)
		if err != nil || got != want {
			t.Fatalf("IncrWithTTL = %d, %v; want %d", got, err, want)
		}
	}
	ttl, err := client.Raw().TTL(ctx, key).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v err %v", ttl, err)
	}
	n, err := client.GetInt(ctx, key+":missing")
	if err != nil || n != 0 {
		t.Fatalf("missing key = %d, %v", n, err)
	}
}
