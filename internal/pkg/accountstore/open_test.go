package accountstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/kvrest/kvresttest"
)

func TestOpenWithoutBackendIsMisconfigured(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{})
	assert.ErrorIs(t, err, ErrMisconfiguredBackend)

	// a URL without its token does not select the REST store
	_, err = Open(context.Background(), &config.Config{RESTKV: config.RESTKVConfig{URL: "https://kv.example"}})
	assert.ErrorIs(t, err, ErrMisconfiguredBackend)
}

func TestOpenSelectsRESTStore(t *testing.T) {
	srv := kvresttest.NewServer()
	defer srv.Close()

	store, err := Open(context.Background(), &config.Config{
		RESTKV: config.RESTKVConfig{URL: srv.URL, Token: kvresttest.Token},
	})
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, BackendRESTKV, store.Backend())
}

func TestOpenFailsWhenBackendUnreachable(t *testing.T) {
	srv := kvresttest.NewServer()
	defer srv.Close()

	_, err := Open(context.Background(), &config.Config{
		RESTKV: config.RESTKVConfig{URL: srv.URL, Token: "wrong-token"},
	})
	require.Error(t, err)
}

func TestPolicyFromConfigFillsDefaults(t *testing.T) {
	p := PolicyFromConfig(config.StoreConfig{})
	assert.Equal(t, DefaultPolicy().Timeout, p.Timeout)
	assert.Equal(t, DefaultPolicy().CASAttempts, p.CASAttempts)
	assert.GreaterOrEqual(t, p.MaxBackoff, p.BaseBackoff)
}
