package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*BalanceCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBalanceCache(client, time.Minute), mr
}

func TestBalanceCacheServesUntilBumped(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	loads := 0
	income := decimal.NewFromInt(100)
	load := func(context.Context) (Totals, error) {
		loads++
		return Totals{Income: income}, nil
	}

	first, err := cache.Totals(ctx, ledgerShop, load)
	require.NoError(t, err)
	assert.True(t, first.Income.Equal(decimal.NewFromInt(100)))

	income = decimal.NewFromInt(250)
	second, err := cache.Totals(ctx, ledgerShop, load)
	require.NoError(t, err)
	assert.True(t, second.Income.Equal(decimal.NewFromInt(100)), "served from cache")
	assert.Equal(t, 1, loads)
	assert.True(t, mr.Exists("accounts:balance:shop:1"))

	require.NoError(t, cache.Bump(ctx))
	third, err := cache.Totals(ctx, ledgerShop, load)
	require.NoError(t, err)
	assert.True(t, third.Income.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 2, loads)
	assert.True(t, mr.Exists("accounts:balance:shop:2"))
}

func TestBalanceCacheKeepsLedgersApart(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	shop, err := cache.Totals(ctx, ledgerShop, func(context.Context) (Totals, error) {
		return Totals{FundIn: decimal.NewFromInt(5)}, nil
	})
	require.NoError(t, err)
	cons, err := cache.Totals(ctx, ledgerConsolidated, func(context.Context) (Totals, error) {
		return Totals{Expense: decimal.NewFromInt(7)}, nil
	})
	require.NoError(t, err)
	assert.True(t, shop.Balance().Equal(decimal.NewFromInt(5)))
	assert.True(t, cons.Balance().Equal(decimal.NewFromInt(-7)))
}

func TestBalanceCacheFallsBackWhenRedisIsDown(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	got, err := cache.Totals(context.Background(), ledgerShop, func(context.Context) (Totals, error) {
		return Totals{Income: decimal.NewFromInt(3)}, nil
	})
	require.NoError(t, err)
	assert.True(t, got.Income.Equal(decimal.NewFromInt(3)))
}

func TestBalanceCacheDoesNotStoreLoadErrors(t *testing.T) {
	cache, mr := newTestCache(t)
	boom := errors.New("boom")
	_, err := cache.Totals(context.Background(), ledgerShop, func(context.Context) (Totals, error) {
		return Totals{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("accounts:balance:shop:1"))
}

func TestNilBalanceCacheLoadsDirectly(t *testing.T) {
	var cache *BalanceCache
	got, err := cache.Totals(context.Background(), ledgerShop, func(context.Context) (Totals, error) {
		return Totals{Income: decimal.NewFromInt(1)}, nil
	})
	require.NoError(t, err)
	assert.True(t, got.Income.Equal(decimal.NewFromInt(1)))
	assert.NoError(t, cache.Bump(context.Background()))
}
