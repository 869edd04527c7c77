package accountstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/kvrest"
)

// RESTStore keeps account records in a REST key-value store. The store cannot
// enumerate keys, so emails are tracked in a JSON list under IndexKey.
type RESTStore struct {
	client *kvrest.Client
	t      transport
}

func NewRESTStore(client *kvrest.Client, policy Policy) *RESTStore {
	return &RESTStore{
		client: client,
		t:      newTransport(BackendRESTKV, policy, kvrest.IsTransient),
	}
}

func (s *RESTStore) Backend() string { return BackendRESTKV }

func (s *RESTStore) Ping(ctx context.Context) error {
	return s.t.idempotent(ctx, "ping", s.client.Ping)
}

func (s *RESTStore) Close() error {
	s.client.HTTPClient.CloseIdleConnections()
	return nil
}

func (s *RESTStore) get(ctx context.Context, op, key string) (string, bool, error) {
	var (
		raw   string
		found bool
	)
	err := s.t.idempotent(ctx, op, func(ctx context.Context) error {
		v, ok, err := s.client.Get(ctx, key)
		if err != nil {
			return err
		}
		raw, found = v, ok
		return nil
	})
	return raw, found, err
}

func (s *RESTStore) compareAndSet(ctx context.Context, op, key, prev, next string) (bool, error) {
	var swapped bool
	err := s.t.once(ctx, op, func(ctx context.Context) error {
		ok, err := s.client.CompareAndSet(ctx, key, prev, next)
		swapped = ok
		return err
	})
	return swapped, err
}

func (s *RESTStore) Get(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}
	raw, found, err := s.get(ctx, "get", UserKey(email))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return decodeUser(raw)
}

func (s *RESTStore) Create(ctx context.Context, u *models.User) error {
	payload, err := prepareCreate(u)
	if err != nil {
		return err
	}
	key := UserKey(u.Email)

	written := false
	for attempt := 1; attempt <= s.t.policy.CASAttempts; attempt++ {
		raw, found, err := s.get(ctx, "create", key)
		if err != nil {
			return err
		}
		if err := checkReplaceable(raw, found); err != nil {
			return err
		}
		prev := ""
		if found {
			prev = raw
		}
		ok, err := s.compareAndSet(ctx, "create", key, prev, string(payload))
		if err != nil {
			return err
		}
		if ok {
			written = true
			break
		}
	}
	if !written {
		return contentionError(u.Email, s.t.policy.CASAttempts)
	}

	if err := s.appendIndex(ctx, u.Email); err != nil {
		log.Errorf("[AccountStore] Record %s stored but index append failed: %v", u.Email, err)
		return fmt.Errorf("append %s to index: %w", u.Email, err)
	}
	return nil
}

func (s *RESTStore) Update(ctx context.Context, email string, patch models.UserPatch) (*models.User, error) {
	return s.Mutate(ctx, email, patchFunc(patch))
}

// Mutate reads the record and writes it back with a server-side compare-and-set,
// starting over when another writer changed the value in between.
func (s *RESTStore) Mutate(ctx context.Context, email string, fn MutateFunc) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}
	key := UserKey(email)

	for attempt := 1; attempt <= s.t.policy.CASAttempts; attempt++ {
		raw, found, err := s.get(ctx, "mutate", key)
		if err != nil {
			return nil, err
		}
		m, err := applyMutation(email, raw, found, fn)
		if err != nil {
			return nil, err
		}
		if m.skip {
			return m.current, nil
		}
		ok, err := s.compareAndSet(ctx, "mutate", key, raw, string(m.payload))
		if err != nil {
			return nil, err
		}
		if ok {
			return m.next, nil
		}
	}
	return nil, contentionError(email, s.t.policy.CASAttempts)
}

// Delete removes the record only. The index keeps the email until the next
// rebuild; List drops it as stale.
func (s *RESTStore) Delete(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		return ErrNotFound
	}
	var removed int64
	attempts := 0
	err := s.t.idempotent(ctx, "delete", func(ctx context.Context) error {
		attempts++
		n, err := s.client.Del(ctx, UserKey(email))
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

// List returns records in index order, skipping emails whose record is gone.
func (s *RESTStore) List(ctx context.Context) ([]*models.User, error) {
	emails, _, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]*models.User, 0, len(emails))
	err = s.fetchAll(ctx, emails, func(email, raw string, found bool) {
		if !found {
			log.Warnf("[AccountStore] Index entry %s has no record, skipping", email)
			return
		}
		u, err := decodeUser(raw)
		if err != nil {
			log.Warnf("[AccountStore] Skipping unreadable record %s: %v", email, err)
			return
		}
		users = append(users, u)
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// RebuildIndex replaces the index with the candidates that normalize to a
// non-empty email and still have a record, deduplicated in first-seen order.
func (s *RESTStore) RebuildIndex(ctx context.Context, candidates []string) (int, error) {
	normalized := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if e := models.NormalizeEmail(c); e != "" {
			normalized = append(normalized, e)
		}
	}
	normalized = dedupe(normalized)

	emails := make([]string, 0, len(normalized))
	err := s.fetchAll(ctx, normalized, func(email, _ string, found bool) {
		if found {
			emails = append(emails, email)
		}
	})
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(emails)
	if err != nil {
		return 0, err
	}
	err = s.t.idempotent(ctx, "rebuild index", func(ctx context.Context) error {
		return s.client.Set(ctx, IndexKey, string(payload))
	})
	if err != nil {
		return 0, err
	}
	log.Infof("[AccountStore] Rebuilt index with %d of %d candidates", len(emails), len(candidates))
	return len(emails), nil
}

func (s *RESTStore) readIndex(ctx context.Context) ([]string, string, error) {
	raw, found, err := s.get(ctx, "read index", IndexKey)
	if err != nil {
		return nil, "", err
	}
	if !found {
		return nil, "", nil
	}
	var emails []string
	if err := json.Unmarshal([]byte(raw), &emails); err != nil {
		return nil, "", fmt.Errorf("%w: index: %v", ErrInvalidRecord, err)
	}
	return emails, raw, nil
}

func (s *RESTStore) appendIndex(ctx context.Context, email string) error {
	for attempt := 1; attempt <= s.t.policy.CASAttempts; attempt++ {
		emails, raw, err := s.readIndex(ctx)
		if err != nil {
			return err
		}
		for _, e := range emails {
			if e == email {
				return nil
			}
		}
		payload, err := json.Marshal(append(emails, email))
		if err != nil {
			return err
		}
		ok, err := s.compareAndSet(ctx, "append index", IndexKey, raw, string(payload))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return contentionError(IndexKey, s.t.policy.CASAttempts)
}

func (s *RESTStore) fetchAll(ctx context.Context, emails []string, visit func(email, raw string, found bool)) error {
	for start := 0; start < len(emails); start += listBatchSize {
		end := min(start+listBatchSize, len(emails))
		batch := emails[start:end]
		keys := make([]string, len(batch))
		for i, e := range batch {
			keys[i] = UserKey(e)
		}

		var values []*string
		err := s.t.idempotent(ctx, "mget", func(ctx context.Context) error {
			v, err := s.client.MGet(ctx, keys...)
			if err != nil {
				return err
			}
			values = v
			return nil
		})
		if err != nil {
			return err
		}
		for i, v := range values {
			if v == nil {
				visit(batch[i], "", false)
				continue
			}
			visit(batch[i], *v, true)
		}
	}
	return nil
}
