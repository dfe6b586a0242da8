// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package table glues blocks to the cache: a TempTable is an ordered
// list of block IDs plus an append path that rolls over to a fresh
// block whenever the current one refuses an insert.
package table

import (
	"fmt"

	"github.com/spillway-db/spillway/block"
	"github.com/spillway-db/spillway/blockcache"
	"github.com/spillway-db/spillway/schema"
)

// TempTable holds intermediate results across any number of blocks.
// It lives and dies with its executor context; nothing about it is
// durable.
type TempTable struct {
	cache *blockcache.Cache
	sch   *schema.Schema

	ids    []block.ID
	cur    *block.Block // pinned tail block during inserts, else nil
	tuples int
}

// New returns an empty table. No block is allocated until the first
// append.
func New(c *blockcache.Cache, s *schema.Schema) *TempTable {
	return &TempTable{cache: c, sch: s}
}

// Schema returns the table's tuple descriptor.
func (t *TempTable) Schema() *schema.Schema { return t.sch }

// TupleCount returns the number of appended tuples.
func (t *TempTable) TupleCount() int { return t.tuples }

// BlockCount returns the number of blocks the table owns.
func (t *TempTable) BlockCount() int { return len(t.ids) }

// BlockIDs returns the table's block IDs in order. The slice is the
// table's own; callers must not modify it.
func (t *TempTable) BlockIDs() []block.ID { return t.ids }

func (t *TempTable) rollover() error {
	if t.cur != nil {
		t.cache.Unpin(t.cur.ID())
		t.cur = nil
	}
	b, err := t.cache.NewBlock(t.sch)
	if err != nil {
		return err
	}
	t.ids = append(t.ids, b.ID())
	t.cur = b
	return nil
}

// Append inserts a staged tuple, allocating a new block when the
// current one refuses for capacity.
func (t *TempTable) Append(tp *schema.Tuple) error {
	if t.cur == nil {
		if err := t.rollover(); err != nil {
			return err
		}
	}
	if !t.cur.Insert(tp) {
		if err := t.rollover(); err != nil {
			return err
		}
		if !t.cur.Insert(tp) {
			return fmt.Errorf("table: tuple of %d non-inlined bytes does not fit an empty block",
				tp.NonInlinedSize())
		}
	}
	t.tuples++
	return nil
}

// AppendRow copies a stored row (and its non-inlined data) out of src
// into this table. The merge phase of the external sort appends
// through this.
func (t *TempTable) AppendRow(src *block.Block, row []byte) error {
	if t.cur == nil {
		if err := t.rollover(); err != nil {
			return err
		}
	}
	if !t.cur.InsertTupleFrom(src, row) {
		if err := t.rollover(); err != nil {
			return err
		}
		if !t.cur.InsertTupleFrom(src, row) {
			return fmt.Errorf("table: row does not fit an empty block")
		}
	}
	t.tuples++
	return nil
}

// FinishInserts unpins the tail block. Call it before scanning,
// sorting or destroying the table.
func (t *TempTable) FinishInserts() {
	if t.cur != nil {
		t.cache.Unpin(t.cur.ID())
		t.cur = nil
	}
}

// Scan fetches each block in order and walks its tuples. The callback
// must not retain row across calls; the backing block is unpinned when
// its walk finishes.
func (t *TempTable) Scan(fn func(b *block.Block, row []byte) error) error {
	if t.cur != nil {
		panic("table: scan during inserts")
	}
	for _, id := range t.ids {
		b, err := t.cache.Fetch(id)
		if err != nil {
			return err
		}
		for it, end := b.Begin(), b.End(); !it.Equal(end); it.Inc() {
			if err := fn(b, it.Row()); err != nil {
				t.cache.Unpin(id)
				return err
			}
		}
		t.cache.Unpin(id)
	}
	return nil
}

// DisownFirst removes the table's first block and returns its ID. The
// caller takes over the block's lifetime; the table forgets it. The
// sort driver disowns input blocks one by one as it turns them into
// sort runs. TupleCount is meaningless once any block has been
// disowned.
func (t *TempTable) DisownFirst() (block.ID, bool) {
	if t.cur != nil {
		panic("table: disown during inserts")
	}
	if len(t.ids) == 0 {
		return 0, false
	}
	id := t.ids[0]
	t.ids = t.ids[1:]
	return id, true
}

// AdoptBlock appends an existing block (already filled, unpinned) to
// the table, transferring its lifetime here.
func (t *TempTable) AdoptBlock(id block.ID, tuples int) {
	t.ids = append(t.ids, id)
	t.tuples += tuples
}

// Destroy drops every block the table still owns, including persisted
// copies. The table is empty afterwards and may be refilled.
func (t *TempTable) Destroy() error {
	t.FinishInserts()
	var firstErr error
	for _, id := range t.ids {
		if err := t.cache.Drop(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.ids = nil
	t.tuples = 0
	return firstErr
}
