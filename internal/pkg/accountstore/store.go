// Package accountstore persists account records keyed by normalized email.
// Two interchangeable backends exist: native Redis, which can enumerate keys,
// and a REST key-value store, which cannot and keeps an explicit email index.
package accountstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ManuelReschke/CiteCheck/app/models"
)

const (
	UserKeyPrefix = "user:"
	IndexKey      = "users:index"

	BackendRedis  = "redis"
	BackendRESTKV = "rest-kv"

	listBatchSize = 100
)

var (
	ErrNotFound             = errors.New("account not found")
	ErrConflict             = errors.New("account already exists")
	ErrTransient            = errors.New("account store temporarily unavailable")
	ErrMisconfiguredBackend = errors.New("no account backend configured")
	ErrContention           = errors.New("account is being modified concurrently")
	ErrNoIndex              = errors.New("backend keeps no secondary index")
	ErrInvalidRecord        = errors.New("invalid account record")

	// ErrSkipWrite may be returned by a MutateFunc to leave the record untouched.
	// Mutate then returns the current record and a nil error.
	ErrSkipWrite = errors.New("skip write")
)

// MutateFunc edits a private copy of the current record. It can run more than
// once when a concurrent writer wins, so it must not have outside side effects.
type MutateFunc func(u *models.User) error

type Store interface {
	Get(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, email string, patch models.UserPatch) (*models.User, error)
	Delete(ctx context.Context, email string) error
	List(ctx context.Context) ([]*models.User, error)
	RebuildIndex(ctx context.Context, candidates []string) (int, error)
	Mutate(ctx context.Context, email string, fn MutateFunc) (*models.User, error)
	Backend() string
	Ping(ctx context.Context) error
	Close() error
}

func UserKey(email string) string {
	return UserKeyPrefix + models.NormalizeEmail(email)
}

func encodeUser(u *models.User) ([]byte, error) {
	return json.Marshal(u)
}

func decodeUser(raw string) (*models.User, error) {
	var u models.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return &u, nil
}

// prepareCreate normalizes and validates a new record.
func prepareCreate(u *models.User) ([]byte, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil user", ErrInvalidRecord)
	}
	u.Normalize()
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return encodeUser(u)
}

// checkReplaceable decides whether an existing stored value may be overwritten by a sign-up.
func checkReplaceable(raw string, found bool) error {
	if !found {
		return nil
	}
	existing, err := decodeUser(raw)
	if err != nil {
		// an unreadable record carries no verified identity worth protecting
		return nil
	}
	if existing.EmailVerified {
		return fmt.Errorf("%w: %s", ErrConflict, existing.Email)
	}
	return nil
}

type mutation struct {
	current *models.User
	next    *models.User
	payload []byte
	skip    bool
}

// applyMutation runs fn against a copy of the stored value and prepares the write.
func applyMutation(email, raw string, found bool, fn MutateFunc) (*mutation, error) {
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	current, err := decodeUser(raw)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return &mutation{current: current, skip: true}, nil
		}
		return nil, err
	}
	next.Email = email
	next.Normalize()
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	payload, err := encodeUser(next)
	if err != nil {
		return nil, err
	}
	return &mutation{current: current, next: next, payload: payload}, nil
}

func patchFunc(patch models.UserPatch) MutateFunc {
	return func(u *models.User) error {
		patch.Apply(u)
		return nil
	}
}

func contentionError(email string, attempts int) error {
	return fmt.Errorf("%w: %s after %d attempts", ErrContention, email, attempts)
}
