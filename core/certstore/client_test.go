package certstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/core/certstore"
	"github.com/dmitrymomot/unitctl/core/runtime"
	"github.com/dmitrymomot/unitctl/core/runtime/runtimetest"
)

func newClient(t *testing.T) (*certstore.Client, *runtimetest.Server) {
	t.Helper()
	srv := runtimetest.New(t)
	c, err := certstore.New(srv.Client(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, srv
}

func TestAddAndInfo(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	ctx := context.Background()

	_, err := c.Info(ctx, "example.com")
	require.ErrorIs(t, err, certstore.ErrNotFound)

	require.NoError(t, c.Add(ctx, "example.com", runtimetest.ValidFor(t, "example.com", 90*24*time.Hour)))
	assert.Equal(t, []string{"example.com"}, srv.Certificates())

	info, err := c.Info(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", info.Subject.CommonName)
	assert.Equal(t, []string{"example.com"}, info.Subject.AltNames)
	assert.False(t, info.NeedsRenewal(time.Now()))
}

func TestAddExistingIsRejected(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t)
	ctx := context.Background()
	bundle := runtimetest.ValidFor(t, "example.com", 90*24*time.Hour)

	require.NoError(t, c.Add(ctx, "example.com", bundle))
	assert.ErrorIs(t, c.Add(ctx, "example.com", bundle), runtime.ErrConfigRejected)
	assert.ErrorIs(t, c.Add(ctx, "example.com", nil), certstore.ErrEmptyBundle)
}

func TestReplace(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Replace(ctx, "example.com", runtimetest.ValidFor(t, "example.com", 10*24*time.Hour)))
	before, err := c.Info(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, before.NeedsRenewal(time.Now()))

	fresh := runtimetest.ValidFor(t, "example.com", 90*24*time.Hour)
	require.NoError(t, c.Replace(ctx, "example.com", fresh))

	stored, ok := srv.Bundle("example.com")
	require.True(t, ok)
	assert.Equal(t, fresh, stored)

	after, err := c.Info(ctx, "example.com")
	require.NoError(t, err)
	assert.False(t, after.NeedsRenewal(time.Now()), "cache is invalidated on replace")
}

func TestRemove(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Remove(ctx, "example.com"), certstore.ErrNotFound)

	srv.StoreBundle(t, "example.com", runtimetest.ValidFor(t, "example.com", 90*24*time.Hour))
	_, err := c.Info(ctx, "example.com")
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, "example.com"))
	assert.Empty(t, srv.Certificates())

	_, err = c.Info(ctx, "example.com")
	assert.ErrorIs(t, err, certstore.ErrNotFound)
}

func TestListAndPartition(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	ctx := context.Background()

	srv.StoreBundle(t, "b.example.com", runtimetest.ValidFor(t, "b.example.com", 90*24*time.Hour))
	srv.StoreBundle(t, "a.example.com", runtimetest.ValidFor(t, "a.example.com", 60*24*time.Hour))
	srv.StoreBundle(t, "old.example.com", runtimetest.ValidFor(t, "old.example.com", 5*24*time.Hour))

	all, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	valid, expiring, err := c.Partition(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, valid)
	assert.Equal(t, []string{"old.example.com"}, expiring)
}

func TestUnavailableRuntime(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	srv.SetDown(true)

	_, err := c.List(context.Background())
	assert.ErrorIs(t, err, runtime.ErrUnavailable)
}
