// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package extsort sorts multi-block temp tables: each block is sorted
// on its own, then the sorted blocks merge through a min-heap into the
// output table.
package extsort

import (
	"github.com/spillway-db/spillway/block"
)

// Less is a strict weak ordering over stored rows (status byte first).
// Rows passed to it always belong to pinned resident blocks.
type Less func(a, b []byte) bool

// insertionSortCutoff is where quicksort hands off to the hard-coded
// insertion sorts. Specializations exist for 2, 3 and 4; whether 5 and
// 6 pay for themselves is an open tuning question.
const insertionSortCutoff = 4

// SortBlock sorts the block's tuples in place. Only inline bodies
// move; string refs carry the non-inlined data along, so the
// non-inlined region is untouched. Not stable.
func SortBlock(b *block.Block, less Less) {
	n := b.ActiveTupleCount()
	if n < 2 {
		return
	}
	s := blockSorter{
		begin:   b.Begin(),
		less:    less,
		scratch: make([]byte, b.Schema().RowLength()),
	}
	s.quicksort(0, n-1)
}

type blockSorter struct {
	begin   block.Iterator
	less    Less
	scratch []byte
}

func (s *blockSorter) row(i int) []byte { return s.begin.At(i) }

// swap exchanges raw inline bodies through the scratch tuple.
func (s *blockSorter) swap(i, j int) {
	a, b := s.row(i), s.row(j)
	copy(s.scratch, a)
	copy(a, b)
	copy(b, s.scratch)
}

// quicksort recurses into the smaller partition and loops on the
// larger, so the stack stays O(log n) even on adversarial input.
func (s *blockSorter) quicksort(lo, hi int) {
	for hi-lo+1 > insertionSortCutoff {
		p := s.partition(lo, hi)
		if p-lo < hi-p {
			s.quicksort(lo, p-1)
			lo = p + 1
		} else {
			s.quicksort(p+1, hi)
			hi = p - 1
		}
	}
	switch hi - lo + 1 {
	case 2:
		s.sort2(lo)
	case 3:
		s.sort3(lo)
	case 4:
		s.sort4(lo)
	}
}

// partition is Lomuto on the last element. The pivot row is at hi and
// is never swapped until the final placement, so holding its slice
// across the loop is safe.
func (s *blockSorter) partition(lo, hi int) int {
	pivot := s.row(hi)
	i := lo
	for j := lo; j < hi; j++ {
		if s.less(s.row(j), pivot) {
			s.swap(i, j)
			i++
		}
	}
	s.swap(i, hi)
	return i
}

func (s *blockSorter) sort2(lo int) {
	if s.less(s.row(lo+1), s.row(lo)) {
		s.swap(lo, lo+1)
	}
}

func (s *blockSorter) sort3(lo int) {
	s.sort2(lo)
	if s.less(s.row(lo+2), s.row(lo+1)) {
		s.swap(lo+1, lo+2)
		if s.less(s.row(lo+1), s.row(lo)) {
			s.swap(lo, lo+1)
		}
	}
}

func (s *blockSorter) sort4(lo int) {
	s.sort3(lo)
	if s.less(s.row(lo+3), s.row(lo+2)) {
		s.swap(lo+2, lo+3)
		if s.less(s.row(lo+2), s.row(lo+1)) {
			s.swap(lo+1, lo+2)
			if s.less(s.row(lo+1), s.row(lo)) {
				s.swap(lo, lo+1)
			}
		}
	}
}
