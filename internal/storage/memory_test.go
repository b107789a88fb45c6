package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-divergence/internal/sample"
)

var (
	btc  = sample.NewAsset(sample.RoleReference, "btcusdt")
	eth  = sample.NewAsset(sample.RoleTracked, "ethusdt")
	base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func observation(at time.Time, ref, tracked float64) sample.PairedObservation {
	return sample.PairedObservation{
		Reference: sample.PriceSample{Asset: btc, TradeTime: at, Price: ref},
		Tracked:   sample.PriceSample{Asset: eth, TradeTime: at, Price: tracked},
	}
}

func TestMemoryAppendDoesNotDeduplicate(t *testing.T) {
	store := NewMemoryStore()
	sess, err := store.OpenSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	obs := observation(base, 30000, 2000)
	first, err := sess.AppendObservation(context.Background(), obs)
	require.NoError(t, err)
	second, err := sess.AppendObservation(context.Background(), obs)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	records := store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, 30000.0, records[0].ReferencePrice)
	assert.Equal(t, 2000.0, records[1].TrackedPrice)
	assert.Equal(t, base, records[0].ReferenceTradeTime)
}

func TestMemoryAverageWindowIsInclusive(t *testing.T) {
	store := NewMemoryStore()
	sess, err := store.OpenSession(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	for i, prices := range [][2]float64{{100, 10}, {200, 20}, {300, 30}, {400, 40}} {
		_, err := sess.AppendObservation(ctx, observation(base.Add(time.Duration(i)*time.Second), prices[0], prices[1]))
		require.NoError(t, err)
	}

	avg, err := sess.AverageOverWindow(ctx, base.Add(time.Second), base.Add(2*time.Second))
	require.NoError(t, err)
	require.NotNil(t, avg.Reference)
	require.NotNil(t, avg.Tracked)
	assert.InDelta(t, 250, *avg.Reference, 1e-9)
	assert.InDelta(t, 25, *avg.Tracked, 1e-9)
}

func TestMemoryAverageUsesEachAssetsOwnTradeTime(t *testing.T) {
	store := NewMemoryStore()
	sess, err := store.OpenSession(context.Background())
	require.NoError(t, err)

	obs := observation(base, 100, 10)
	obs.Tracked.TradeTime = base.Add(time.Hour)
	_, err = sess.AppendObservation(context.Background(), obs)
	require.NoError(t, err)

	avg, err := sess.AverageOverWindow(context.Background(), base.Add(-time.Second), base.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, avg.Reference)
	assert.Nil(t, avg.Tracked)
}

func TestMemoryAverageEmptyWindow(t *testing.T) {
	sess, err := NewMemoryStore().OpenSession(context.Background())
	require.NoError(t, err)

	avg, err := sess.AverageOverWindow(context.Background(), base, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, avg.Reference)
	assert.Nil(t, avg.Tracked)
}
