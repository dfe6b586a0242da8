// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package extsort

import (
	"container/heap"
	"fmt"

	"go.uber.org/zap"

	"github.com/spillway-db/spillway/blockcache"
	"github.com/spillway-db/spillway/table"
)

// Strategy selects how Phase 1 sorts each block.
type Strategy int

const (
	// InPlace quicksorts the tuples inside the block.
	InPlace Strategy = iota

	// Repack sorts tuple handles and rebuilds the block through
	// relocation into a fresh one.
	Repack
)

// Options configures a sort.
type Options struct {
	Strategy Strategy
	Logger   *zap.Logger
}

// Sort consumes the input table and returns a new table with the same
// tuples ordered by less. The input's blocks are disowned, sorted one
// at a time (Phase 1) and merged through a min-heap (Phase 2); each is
// destroyed as its run drains. On error the heap and any partial
// output are torn down and the error is returned; sorting cannot fail
// for any other reason than the cache running out of blocks or the
// topend failing.
func Sort(c *blockcache.Cache, in *table.TempTable, less Less, opts Options) (*table.TempTable, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("extsort")

	in.FinishInserts()
	out := table.New(c, in.Schema())
	h := &runHeap{less: less}

	teardown := func() {
		for _, r := range h.runs {
			r.close()
		}
		h.runs = nil
		out.Destroy()
	}

	// Phase 1: disown each input block, sort it, wrap it as a run.
	nblocks := 0
	for {
		id, ok := in.DisownFirst()
		if !ok {
			break
		}
		nblocks++
		b, err := c.Fetch(id)
		if err != nil {
			c.Drop(id) // disowned above; nobody else will
			teardown()
			return nil, fmt.Errorf("extsort: phase 1: %w", err)
		}
		switch opts.Strategy {
		case InPlace:
			SortBlock(b, less)
		case Repack:
			nb, err := SortBlockRepack(c, b, less)
			if err != nil {
				c.Unpin(id)
				c.Drop(id)
				teardown()
				return nil, fmt.Errorf("extsort: phase 1: %w", err)
			}
			c.Unpin(id)
			if err := c.Drop(id); err != nil {
				c.Unpin(nb.ID())
				c.Drop(nb.ID())
				teardown()
				return nil, fmt.Errorf("extsort: phase 1: %w", err)
			}
			b = nb
		}
		r := newRun(c, b)
		if r.empty() {
			r.close()
			continue
		}
		h.runs = append(h.runs, r)
	}
	heap.Init(h)
	log.Debug("phase 1 done", zap.Int("blocks", nblocks), zap.Int("runs", h.Len()))

	// Phase 2: pop the minimum, append it, advance the run.
	for h.Len() > 0 {
		r := h.runs[0]
		if err := out.AppendRow(r.b, r.current()); err != nil {
			teardown()
			return nil, fmt.Errorf("extsort: phase 2: %w", err)
		}
		if r.advance() {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
			if err := r.close(); err != nil {
				teardown()
				return nil, fmt.Errorf("extsort: phase 2: %w", err)
			}
		}
	}

	out.FinishInserts()
	log.Debug("phase 2 done", zap.Int("tuples", out.TupleCount()))
	return out, nil
}
