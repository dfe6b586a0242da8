// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package extsort

import (
	"github.com/spillway-db/spillway/block"
	"github.com/spillway-db/spillway/blockcache"
)

// A run is one sorted block feeding the merge: a pinned block plus a
// cursor over its tuples. Closing a run releases the pin and destroys
// the block, persisted copy included.
type run struct {
	cache *blockcache.Cache
	b     *block.Block
	it    block.Iterator
	end   block.Iterator
}

func newRun(c *blockcache.Cache, b *block.Block) *run {
	return &run{cache: c, b: b, it: b.Begin(), end: b.End()}
}

func (r *run) empty() bool { return r.it.Equal(r.end) }

func (r *run) current() []byte { return r.it.Row() }

// advance steps to the next tuple, reporting whether one remains.
func (r *run) advance() bool {
	r.it.Inc()
	return r.it.Less(r.end)
}

func (r *run) close() error {
	r.cache.Unpin(r.b.ID())
	return r.cache.Drop(r.b.ID())
}

// runHeap is a min-heap of runs keyed by each run's current tuple.
type runHeap struct {
	runs []*run
	less Less
}

func (h *runHeap) Len() int { return len(h.runs) }

func (h *runHeap) Less(i, j int) bool {
	return h.less(h.runs[i].current(), h.runs[j].current())
}

func (h *runHeap) Swap(i, j int) { h.runs[i], h.runs[j] = h.runs[j], h.runs[i] }

func (h *runHeap) Push(x any) { h.runs = append(h.runs, x.(*run)) }

func (h *runHeap) Pop() any {
	old := h.runs
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	h.runs = old[:n-1]
	return r
}
