package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/example/campaignflow/internal/storage"
	"github.com/example/campaignflow/internal/storage/storagetest"
)

// Set CAMPAIGNFLOW_TEST_REDIS_ADDR to run against a live server.
func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("CAMPAIGNFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CAMPAIGNFLOW_TEST_REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}

	storagetest.Run(t, func(t *testing.T) storage.Backend {
		// Each subtest gets its own key space.
		return New(client, WithPrefix("campaignflow-test-"+uuid.NewString()))
	})
}

func TestKeysUsePrefix(t *testing.T) {
	k := keys{prefix: "p"}
	if got := k.checkpoint("run/ns/"); got != "p:cp:run/ns/" {
		t.Errorf("unexpected checkpoint key %q", got)
	}
	if got := k.approvalsArchived(); got != "p:approvals:archived" {
		t.Errorf("unexpected archive key %q", got)
	}
}
