package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ariefcatur/go-farm-escrow/internal/listings"
)

// Region ids are fixed so that a restart reattaches to the same data.
const (
	RegionCounter  byte = 0
	RegionListings byte = 1
	RegionArchive  byte = 2
)

var counterKey = []byte{RegionCounter}

func regionKey(region byte, id uint64) []byte {
	k := make([]byte, 9)
	k[0] = region
	binary.BigEndian.PutUint64(k[1:], id)
	return k
}

// RegionStore implements listings.Store on top of a KV.
type RegionStore struct {
	mu sync.Mutex // guards the counter read-modify-write
	kv KV
}

func NewRegionStore(kv KV) *RegionStore {
	return &RegionStore{kv: kv}
}

func (s *RegionStore) NextID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur uint64
	raw, err := s.kv.Get(counterKey)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("read counter: %w", err)
	case len(raw) != 8:
		return 0, fmt.Errorf("read counter: corrupt value of %d bytes", len(raw))
	default:
		cur = binary.BigEndian.Uint64(raw)
	}
	if cur == math.MaxUint64 {
		return 0, listings.CounterOverflow(cur)
	}
	next := cur + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := s.kv.Put(counterKey, buf); err != nil {
		return 0, fmt.Errorf("write counter: %w", err)
	}
	return next, nil
}

func (s *RegionStore) Get(ctx context.Context, id uint64) (listings.Listing, bool, error) {
	var l listings.Listing
	ok, err := s.getJSON(ctx, regionKey(RegionListings, id), &l)
	return l, ok, err
}

func (s *RegionStore) Put(ctx context.Context, l listings.Listing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode listing %d: %w", l.ID, err)
	}
	return s.kv.Put(regionKey(RegionListings, l.ID), b)
}

func (s *RegionStore) Settlement(ctx context.Context, id uint64) (listings.SettledSale, bool, error) {
	var sale listings.SettledSale
	ok, err := s.getJSON(ctx, regionKey(RegionArchive, id), &sale)
	return sale, ok, err
}

func (s *RegionStore) Archive(ctx context.Context, l listings.Listing, sale listings.SettledSale) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lb, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode listing %d: %w", l.ID, err)
	}
	sb, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("encode settlement %d: %w", sale.ID, err)
	}
	return s.kv.WriteBatch([]Write{
		{Key: regionKey(RegionListings, l.ID), Value: lb},
		{Key: regionKey(RegionArchive, sale.ID), Value: sb},
	})
}

func (s *RegionStore) Close() error { return s.kv.Close() }

func (s *RegionStore) getJSON(ctx context.Context, key []byte, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	raw, err := s.kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode region %d key: %w", key[0], err)
	}
	return true, nil
}
