package accountstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/env"
)

const isolatedAccountStoreTestRedisDB = 13

// newIsolatedRedisStore skips the test when no Redis is reachable.
func newIsolatedRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	hosts := uniqueNonEmpty(env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1")
	ports := uniqueNonEmpty(env.GetEnv("CACHE_PORT", "6379"), "6379")
	password := env.GetEnv("CACHE_PASSWORD", "")

	var lastErr error
	for _, host := range hosts {
		for _, port := range ports {
			client := redis.NewClient(&redis.Options{
				Addr:       fmt.Sprintf("%s:%s", host, port),
				Password:   password,
				DB:         isolatedAccountStoreTestRedisDB,
				MaxRetries: -1,
			})
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			err := client.Ping(ctx).Err()
			cancel()
			if err != nil {
				lastErr = err
				_ = client.Close()
				continue
			}
			require.NoError(t, client.FlushDB(context.Background()).Err())
			t.Cleanup(func() {
				_ = client.FlushDB(context.Background()).Err()
				_ = client.Close()
			})
			return NewRedisStore(client, testPolicy())
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

func uniqueNonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{})
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func TestRedisStoreLifecycle(t *testing.T) {
	store := newIsolatedRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestUser(t, "Alice@Example.com")))
	got, err := store.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)

	updated, err := store.Update(ctx, "alice@example.com", models.UserPatch{Name: models.StringPtr("Alice")})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Name)

	verified := true
	_, err = store.Update(ctx, "alice@example.com", models.UserPatch{EmailVerified: &verified})
	require.NoError(t, err)
	assert.ErrorIs(t, store.Create(ctx, newTestUser(t, "alice@example.com")), ErrConflict)

	require.NoError(t, store.Create(ctx, newTestUser(t, "bob@example.com")))
	users, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, store.Delete(ctx, "bob@example.com"))
	_, err = store.Get(ctx, "bob@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.RebuildIndex(ctx, []string{"alice@example.com"})
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestRedisStoreConcurrentMutationsAreNotLost(t *testing.T) {
	store := newIsolatedRedisStore(t)
	ctx := context.Background()
	u := newTestUser(t, "kim@example.com")
	u.Credits = 0
	require.NoError(t, store.Create(ctx, u))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Mutate(ctx, "kim@example.com", func(u *models.User) error {
				u.Credits++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "kim@example.com")
	require.NoError(t, err)
	assert.Equal(t, workers, got.Credits)
}

func TestIsRedisTransient(t *testing.T) {
	assert.False(t, isRedisTransient(redis.Nil))
	assert.False(t, isRedisTransient(redis.TxFailedErr))
	assert.False(t, isRedisTransient(ErrNotFound))
	assert.True(t, isRedisTransient(context.DeadlineExceeded))
	assert.True(t, isRedisTransient(fmt.Errorf("LOADING Redis is loading the dataset in memory")))
}
