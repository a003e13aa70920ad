package testsupport

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient starts an in-process miniredis server and returns a client for it.
// Use the returned server to fast-forward TTLs.
func NewRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, srv
}
