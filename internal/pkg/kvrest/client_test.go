package kvrest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/kvrest"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/kvrest/kvresttest"
)

func TestClientBasicCommands(t *testing.T) {
	srv := kvresttest.NewServer()
	defer srv.Close()
	c := srv.Client()
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v"))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	values, err := c.MGet(ctx, "k", "missing")
	require.NoError(t, err)
	require.Len(t, values, 2)
	require.NotNil(t, values[0])
	assert.Equal(t, "v", *values[0])
	assert.Nil(t, values[1])

	n, err := c.Del(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClientCompareAndSet(t *testing.T) {
	srv := kvresttest.NewServer()
	defer srv.Close()
	c := srv.Client()
	ctx := context.Background()

	ok, err := c.CompareAndSet(ctx, "k", "", "one")
	require.NoError(t, err)
	assert.True(t, ok, "absent key with empty prev must be written")

	ok, err = c.CompareAndSet(ctx, "k", "", "two")
	require.NoError(t, err)
	assert.False(t, ok, "existing key must not match empty prev")

	ok, err = c.CompareAndSet(ctx, "k", "stale", "two")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.CompareAndSet(ctx, "k", "one", "two")
	require.NoError(t, err)
	assert.True(t, ok)

	v, _ := srv.Value("k")
	assert.Equal(t, "two", v)
}

func TestClientErrorClassification(t *testing.T) {
	srv := kvresttest.NewServer()
	defer srv.Close()
	c := srv.Client()
	ctx := context.Background()

	srv.FailNext(1)
	_, _, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, kvrest.IsTransient(err))

	_, err = c.Do(ctx, "KEYS", "*")
	require.Error(t, err)
	assert.False(t, kvrest.IsTransient(err))
	var cmdErr *kvrest.CommandError
	assert.ErrorAs(t, err, &cmdErr)

	bad := kvrest.NewClient(srv.URL, "wrong", 0)
	err = bad.Ping(ctx)
	require.Error(t, err)
	assert.False(t, kvrest.IsTransient(err))
}

func TestClientUnreachableIsTransient(t *testing.T) {
	srv := kvresttest.NewServer()
	url := srv.URL
	srv.Close()

	c := kvrest.NewClient(url, kvresttest.Token, 0)
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, kvrest.IsTransient(err))
}
