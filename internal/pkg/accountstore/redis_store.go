package accountstore

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CiteCheck/app/models"
)

// RedisStore keeps one JSON value per account and enumerates with SCAN.
type RedisStore struct {
	client *redis.Client
	t      transport
}

func NewRedisStore(client *redis.Client, policy Policy) *RedisStore {
	return &RedisStore{
		client: client,
		t:      newTransport(BackendRedis, policy, isRedisTransient),
	}
}

func (s *RedisStore) Backend() string { return BackendRedis }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.t.idempotent(ctx, "ping", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}
	var raw string
	err := s.t.idempotent(ctx, "get", func(ctx context.Context) error {
		v, err := s.client.Get(ctx, UserKey(email)).Result()
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeUser(raw)
}

func (s *RedisStore) Create(ctx context.Context, u *models.User) error {
	payload, err := prepareCreate(u)
	if err != nil {
		return err
	}
	key := UserKey(u.Email)

	for attempt := 1; attempt <= s.t.policy.CASAttempts; attempt++ {
		err := s.t.once(ctx, "create", func(ctx context.Context) error {
			return s.client.Watch(ctx, func(tx *redis.Tx) error {
				raw, err := tx.Get(ctx, key).Result()
				found := true
				if errors.Is(err, redis.Nil) {
					found = false
				} else if err != nil {
					return err
				}
				if err := checkReplaceable(raw, found); err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, payload, 0)
					return nil
				})
				return err
			}, key)
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return contentionError(u.Email, s.t.policy.CASAttempts)
}

func (s *RedisStore) Update(ctx context.Context, email string, patch models.UserPatch) (*models.User, error) {
	return s.Mutate(ctx, email, patchFunc(patch))
}

// Mutate is an optimistic WATCH/MULTI/EXEC loop on the account key.
func (s *RedisStore) Mutate(ctx context.Context, email string, fn MutateFunc) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}
	key := UserKey(email)

	for attempt := 1; attempt <= s.t.policy.CASAttempts; attempt++ {
		var result *models.User
		err := s.t.once(ctx, "mutate", func(ctx context.Context) error {
			return s.client.Watch(ctx, func(tx *redis.Tx) error {
				raw, err := tx.Get(ctx, key).Result()
				found := true
				if errors.Is(err, redis.Nil) {
					found = false
				} else if err != nil {
					return err
				}
				m, err := applyMutation(email, raw, found, fn)
				if err != nil {
					return err
				}
				if m.skip {
					result = m.current
					return nil
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, m.payload, 0)
					return nil
				})
				if err == nil {
					result = m.next
				}
				return err
			}, key)
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, contentionError(email, s.t.policy.CASAttempts)
}

func (s *RedisStore) Delete(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		return ErrNotFound
	}
	var removed int64
	attempts := 0
	err := s.t.idempotent(ctx, "delete", func(ctx context.Context) error {
		attempts++
		n, err := s.client.Del(ctx, UserKey(email)).Result()
		if err != nil {
			return err
		}
		removed += n
		return nil
	})
	if err != nil {
		return err
	}
	// a retried DEL that finds nothing may be cleaning up after an attempt
	// whose reply was lost, so only a first-try miss means not found
	if removed == 0 && attempts == 1 {
		return ErrNotFound
	}
	return nil
}

// List enumerates user keys with SCAN and fetches them in MGET batches.
// Records are ordered by creation time.
func (s *RedisStore) List(ctx context.Context) ([]*models.User, error) {
	var keys []string
	err := s.t.idempotent(ctx, "scan", func(ctx context.Context) error {
		keys = keys[:0]
		iter := s.client.Scan(ctx, 0, UserKeyPrefix+"*", listBatchSize).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	keys = dedupe(keys)

	users := make([]*models.User, 0, len(keys))
	for start := 0; start < len(keys); start += listBatchSize {
		end := min(start+listBatchSize, len(keys))
		batch := keys[start:end]

		var values []interface{}
		err := s.t.idempotent(ctx, "mget", func(ctx context.Context) error {
			v, err := s.client.MGet(ctx, batch...).Result()
			if err != nil {
				return err
			}
			values = v
			return nil
		})
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// deleted between SCAN and MGET
				continue
			}
			u, err := decodeUser(raw)
			if err != nil {
				log.Warnf("[AccountStore] Skipping unreadable record %s: %v", batch[i], err)
				continue
			}
			users = append(users, u)
		}
	}

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *RedisStore) RebuildIndex(ctx context.Context, candidates []string) (int, error) {
	return 0, ErrNoIndex
}

func isRedisTransient(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, redis.TxFailedErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, prefix := range []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "redis: connection pool timeout"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
