package redisrepo

import (
	"context"
	"os"
	"testing"
	"time"

	"epichat-be/pkg/store"
	"epichat-be/pkg/store/storetest"

	"github.com/redis/go-redis/v9"
)

func TestSessionRepositoryContract(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Backend {
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			t.Skipf("redis not reachable: %v", err)
		}
		r := NewSessionRepository(rdb, time.Hour, 5*time.Second)
		t.Cleanup(func() { _ = r.Close() })
		return r
	})
}
