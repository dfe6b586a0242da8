// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockcache

import (
	"container/list"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spillway-db/spillway/block"
	"github.com/spillway-db/spillway/schema"
)

// ErrCacheFull is returned when a block is needed resident but every
// resident block is pinned, so nothing can be evicted to make room.
var ErrCacheFull = errors.New("blockcache: all resident blocks pinned")

// DefaultMaxResident bounds resident blocks when Options leaves it
// zero. 32 blocks is 256 MiB of payload.
const DefaultMaxResident = 32

// Options configures a Cache.
type Options struct {
	// MaxResident is the number of blocks allowed to hold storage at
	// once. Zero means DefaultMaxResident.
	MaxResident int

	// Topend persists evicted payloads. Nil means an in-memory
	// topend.
	Topend Topend

	// Logger for eviction and fetch activity. Nil disables logging.
	Logger *zap.Logger

	// Name labels this cache's metrics. Empty means "default".
	Name string
}

// Cache is the directory of all live temp-table blocks for one
// executor context. It hands out blocks pinned, evicts the least
// recently unpinned block when over the resident bound, and restores
// evicted blocks through the topend.
//
// Like the rest of the engine, a Cache is single-threaded; the topend
// may work in the background behind its synchronous interface.
type Cache struct {
	opts    Options
	log     *zap.Logger
	topend  Topend
	metrics cacheMetrics

	nextID block.ID

	// blocks is the directory of every live block, resident or not.
	blocks map[block.ID]*block.Block

	// lru holds unpinned resident blocks, least recent at the front.
	lru     *list.List
	lruElem map[block.ID]*list.Element

	resident int
}

// New returns an empty cache.
func New(opts Options) *Cache {
	if opts.MaxResident <= 0 {
		opts.MaxResident = DefaultMaxResident
	}
	if opts.Topend == nil {
		opts.Topend = NewMemTopend()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Cache{
		opts:    opts,
		log:     opts.Logger.Named("blockcache"),
		topend:  opts.Topend,
		metrics: newCacheMetrics(opts.Name),
		blocks:  make(map[block.ID]*block.Block),
		lru:     list.New(),
		lruElem: make(map[block.ID]*list.Element),
	}
}

// NewBlock allocates a fresh empty block, pinned. It evicts first if
// the resident bound is reached, and fails with ErrCacheFull when
// nothing is evictable.
func (c *Cache) NewBlock(s *schema.Schema) (*block.Block, error) {
	if err := c.makeRoom(); err != nil {
		return nil, err
	}
	c.nextID++
	b := block.New(c.nextID, s)
	c.blocks[b.ID()] = b
	c.resident++
	c.metrics.residentBlocks.Inc()
	return b, nil
}

// Fetch returns the block pinned and resident, reloading it through
// the topend if it was evicted.
func (c *Cache) Fetch(id block.ID) (*block.Block, error) {
	b, ok := c.blocks[id]
	if !ok {
		panic(fmt.Sprintf("blockcache: fetch of unknown block %d", id))
	}
	if b.Resident() {
		if e, ok := c.lruElem[id]; ok {
			c.lru.Remove(e)
			delete(c.lruElem, id)
		}
		b.Pin()
		c.metrics.fetchHit.Inc()
		return b, nil
	}

	if err := c.makeRoom(); err != nil {
		return nil, err
	}
	meta, payload, err := c.topend.Load(id)
	if err != nil {
		return nil, fmt.Errorf("blockcache: fetch block %d: %w", id, err)
	}
	if meta.Schema != b.Schema().Fingerprint() {
		return nil, fmt.Errorf("blockcache: fetch block %d: schema fingerprint %#x, want %#x",
			id, meta.Schema, b.Schema().Fingerprint())
	}
	b.SetData(meta.OrigBase, payload)
	b.Pin()
	c.resident++
	c.metrics.residentBlocks.Inc()
	c.metrics.fetchMiss.Inc()
	c.log.Debug("reloaded block", zap.Uint64("block", uint64(id)))
	return b, nil
}

// Unpin releases the caller's pin and makes the block evictable.
func (c *Cache) Unpin(id block.ID) {
	b, ok := c.blocks[id]
	if !ok {
		panic(fmt.Sprintf("blockcache: unpin of unknown block %d", id))
	}
	b.Unpin()
	if b.Resident() {
		c.lruElem[id] = c.lru.PushBack(b)
	}
}

// Drop destroys the block: its storage, its LRU slot, and any
// persisted copy. The block must be unpinned.
func (c *Cache) Drop(id block.ID) error {
	b, ok := c.blocks[id]
	if !ok {
		return nil
	}
	if b.Pinned() {
		panic(fmt.Sprintf("blockcache: drop of pinned block %d", id))
	}
	if e, ok := c.lruElem[id]; ok {
		c.lru.Remove(e)
		delete(c.lruElem, id)
	}
	if b.Resident() {
		c.resident--
		c.metrics.residentBlocks.Dec()
	}
	delete(c.blocks, id)
	if b.Stored() {
		if err := c.topend.Drop(id); err != nil {
			return fmt.Errorf("blockcache: drop block %d: %w", id, err)
		}
	}
	return nil
}

// makeRoom evicts until a new resident block fits.
func (c *Cache) makeRoom() error {
	for c.resident >= c.opts.MaxResident {
		if err := c.evictOne(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) evictOne() error {
	front := c.lru.Front()
	if front == nil {
		return ErrCacheFull
	}
	b := front.Value.(*block.Block)
	c.lru.Remove(front)
	delete(c.lruElem, b.ID())

	payload, origBase := b.ReleaseData()
	meta := b.Meta()
	meta.OrigBase = origBase
	if err := c.topend.Store(meta, payload); err != nil {
		// Put the buffer back; the block stays resident and usable.
		b.SetData(origBase, payload)
		c.lruElem[b.ID()] = c.lru.PushFront(b)
		return fmt.Errorf("blockcache: evict block %d: %w", b.ID(), err)
	}
	c.resident--
	c.metrics.residentBlocks.Dec()
	c.metrics.evictions.Inc()
	c.metrics.spilledBytes.Add(float64(block.Size))
	c.log.Debug("evicted block",
		zap.Uint64("block", uint64(b.ID())),
		zap.Int("tuples", meta.ActiveTupleCount))
	return nil
}

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	Live     int // blocks in the directory
	Resident int // blocks holding storage
	Pinned   int
}

// Stats returns current occupancy counters.
func (c *Cache) Stats() Stats {
	st := Stats{Live: len(c.blocks), Resident: c.resident}
	for _, b := range c.blocks {
		if b.Pinned() {
			st.Pinned++
		}
	}
	return st
}

// Close shuts down the topend. Live blocks are abandoned; the cache
// must not be used afterwards.
func (c *Cache) Close() error {
	return c.topend.Close()
}
