// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package extsort

import (
	"fmt"
	"sort"

	"github.com/spillway-db/spillway/block"
	"github.com/spillway-db/spillway/blockcache"
)

// SortBlockRepack is the alternative Phase-1 strategy: sort tuple
// handles rather than tuples, copy the non-inlined region into a
// fresh block wholesale, then re-insert each inline body in sorted
// order with its refs relocated. Produces the same ordering as
// SortBlock for the same comparator; the non-inlined bytes travel
// unmodified either way.
//
// The source block stays pinned and untouched; the caller unpins and
// drops it once the returned (pinned) block replaces it.
func SortBlockRepack(c *blockcache.Cache, b *block.Block, less Less) (*block.Block, error) {
	n := b.ActiveTupleCount()
	begin := b.Begin()

	handles := make([]int, n)
	for i := range handles {
		handles[i] = i
	}
	sort.Slice(handles, func(i, j int) bool {
		return less(begin.At(handles[i]), begin.At(handles[j]))
	})

	nb, err := c.NewBlock(b.Schema())
	if err != nil {
		return nil, err
	}
	nb.CopyNonInlined(b)
	origBase := b.Base()
	for _, h := range handles {
		if !nb.InsertRelocating(begin.At(h), origBase) {
			// Same payload into a same-size block cannot run out.
			panic(fmt.Sprintf("extsort: repack of block %d overflowed block %d", b.ID(), nb.ID()))
		}
	}
	return nb, nil
}
