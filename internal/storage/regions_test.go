package storage

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-farm-escrow/internal/listings"
)

func TestNextID_StartsAtOneAndIncreases(t *testing.T) {
	ctx := context.Background()
	s := NewRegionStore(NewMemDB())

	var prev uint64
	for i := 0; i < 5; i++ {
		id, err := s.NextID(ctx)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
	assert.Equal(t, uint64(5), prev)
}

func TestNextID_Overflow(t *testing.T) {
	ctx := context.Background()
	kv := NewMemDB()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.MaxUint64)
	require.NoError(t, kv.Put(counterKey, buf))

	s := NewRegionStore(kv)
	_, err := s.NextID(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, listings.ErrOverflow)

	// counter untouched
	raw, err := kv.Get(counterKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), binary.BigEndian.Uint64(raw))
}

func TestNextID_CorruptCounter(t *testing.T) {
	kv := NewMemDB()
	require.NoError(t, kv.Put(counterKey, []byte{1, 2}))
	_, err := NewRegionStore(kv).NextID(context.Background())
	assert.Error(t, err)
}

func TestGetPut_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewRegionStore(NewMemDB())

	_, ok, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	consumer := "alice"
	in := listings.Listing{ID: 42, SellerAddress: "farm-1", Price: 100, ConsumerAddress: &consumer}
	require.NoError(t, s.Put(ctx, in))

	got, ok, err := s.Get(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "farm-1", got.SellerAddress)
	assert.Equal(t, uint64(100), got.Price)
	require.NotNil(t, got.ConsumerAddress)
	assert.Equal(t, "alice", *got.ConsumerAddress)
}

func TestArchive_WritesBothRegions(t *testing.T) {
	ctx := context.Background()
	kv := NewMemDB()
	s := NewRegionStore(kv)

	l := listings.Listing{ID: 7, SellerAddress: "farm-7", IsSold: true}
	require.NoError(t, s.Archive(ctx, l, listings.SettledSale{ID: 7, SellerAddress: "farm-7", Amount: 10}))

	sale, ok, err := s.Settlement(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "farm-7", sale.SellerAddress)

	got, ok, err := s.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.IsSold)

	assert.Equal(t, [][]byte{regionKey(RegionListings, 7), regionKey(RegionArchive, 7)}, kv.Keys())
}

func TestRegions_DoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := NewRegionStore(NewMemDB())

	require.NoError(t, s.Put(ctx, listings.Listing{ID: 1, SellerAddress: "x"}))
	_, ok, err := s.Settlement(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLevelDB_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	s := NewRegionStore(db)
	for i := 0; i < 2; i++ {
		_, err := s.NextID(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, s.Put(ctx, listings.Listing{ID: 2, Name: "tomatoes"}))
	require.NoError(t, s.Close())

	db, err = NewLevelDB(dir)
	require.NoError(t, err)
	s = NewRegionStore(db)
	defer s.Close()

	id, err := s.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)

	got, ok, err := s.Get(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tomatoes", got.Name)
}

func TestLevelDB_InMemoryBatch(t *testing.T) {
	db, err := NewLevelDBInMemory()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.WriteBatch([]Write{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}))
	v, err := db.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	_, err = db.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewRegionStore(NewMemDB())
	_, err := s.NextID(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
