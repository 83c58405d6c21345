package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, time.Minute), mr
}

func TestWithLockHoldsAndReleases(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	ran := false
	err := locker.WithLock(ctx, "reconcile:ledger", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("reconcile:ledger"))
		inner := locker.WithLock(ctx, "reconcile:ledger", func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLocked)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("reconcile:ledger"))
}

func TestWithLockReleasesOnError(t *testing.T) {
	locker, mr := newLocker(t)
	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"))
}

func TestWithLockExpiresAfterTTL(t *testing.T) {
	locker, mr := newLocker(t)
	require.NoError(t, mr.Set("k", "crashed-holder"))
	mr.SetTTL("k", time.Second)

	err := locker.WithLock(context.Background(), "k", func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrLocked)

	mr.FastForward(2 * time.Second)
	assert.NoError(t, locker.WithLock(context.Background(), "k", func(context.Context) error { return nil }))
}

func TestNilLockerRunsInline(t *testing.T) {
	var locker *Locker
	ran := false
	require.NoError(t, locker.WithLock(context.Background(), "k", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	client, err := New(context.Background(), Options{Addr: mr.Addr(), Password: "secret"})
	require.NoError(t, err)
	_ = client.Close()

	_, err = New(context.Background(), Options{Addr: mr.Addr()})
	assert.Error(t, err)
	_, err = New(context.Background(), Options{})
	assert.Error(t, err)

	queue := Options{Addr: mr.Addr(), Password: "secret", DB: 2}.Queue()
	assert.Equal(t, mr.Addr(), queue.Addr)
	assert.Equal(t, 2, queue.DB)
}
