// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package block

import "fmt"

// Iterator is a random-access cursor over the tuple region of one
// block, stepping in RowLength units. The zero value is not valid; use
// Begin or End. Any insert into the block invalidates outstanding
// iterators (End moves). Iterators from different blocks must not be
// compared; offsets are only meaningful against one block.
//
// Row returns the stored row in place, so writes through it modify the
// block. For a read-only view convert with Const.
type Iterator struct {
	b   *Block
	off int
}

// Begin returns an iterator on the first tuple.
func (b *Block) Begin() Iterator {
	b.mustBeResident("Begin")
	return Iterator{b: b}
}

// End returns the past-the-end iterator.
func (b *Block) End() Iterator {
	b.mustBeResident("End")
	return Iterator{b: b, off: b.tupleInsert}
}

// Row returns the row under the cursor, status byte first. No bounds
// check; the caller stays within [Begin, End).
func (it Iterator) Row() []byte {
	return it.b.storage[it.off : it.off+it.b.sch.RowLength()]
}

// At returns the row n positions past the cursor, like it.Add(n).Row().
func (it Iterator) At(n int) []byte {
	return it.Add(n).Row()
}

// Add returns the iterator moved n tuples forward (n may be negative).
func (it Iterator) Add(n int) Iterator {
	it.off += n * it.b.sch.RowLength()
	return it
}

// Sub returns the iterator moved n tuples backward.
func (it Iterator) Sub(n int) Iterator {
	return it.Add(-n)
}

// Inc advances the cursor one tuple.
func (it *Iterator) Inc() { it.off += it.b.sch.RowLength() }

// Dec moves the cursor back one tuple.
func (it *Iterator) Dec() { it.off -= it.b.sch.RowLength() }

// Diff returns the number of tuples between it and o: it.Diff(o) > 0
// when it is past o.
func (it Iterator) Diff(o Iterator) int {
	if paranoia && it.b != o.b {
		panic(fmt.Sprintf("block: comparing iterators of blocks %d and %d", it.b.id, o.b.id))
	}
	return (it.off - o.off) / it.b.sch.RowLength()
}

// Equal reports whether two iterators point at the same tuple.
func (it Iterator) Equal(o Iterator) bool { return it.Diff(o) == 0 }

// Less orders iterators by position within the block.
func (it Iterator) Less(o Iterator) bool { return it.Diff(o) < 0 }

// Const converts to the read-only view. There is no conversion back.
func (it Iterator) Const() ConstIterator { return ConstIterator{it: it} }

// ConstIterator is the read-only variant of Iterator, constructible
// from the mutable one but not the other way around. Row hands out the
// stored bytes; treat them as immutable.
type ConstIterator struct {
	it Iterator
}

// ConstBegin returns a read-only iterator on the first tuple.
func (b *Block) ConstBegin() ConstIterator { return b.Begin().Const() }

// ConstEnd returns the read-only past-the-end iterator.
func (b *Block) ConstEnd() ConstIterator { return b.End().Const() }

// Row returns the row under the cursor. The caller must not modify it.
func (c ConstIterator) Row() []byte { return c.it.Row() }

// At returns the row n positions past the cursor.
func (c ConstIterator) At(n int) []byte { return c.it.At(n) }

// Add returns the iterator moved n tuples forward.
func (c ConstIterator) Add(n int) ConstIterator { return ConstIterator{it: c.it.Add(n)} }

// Sub returns the iterator moved n tuples backward.
func (c ConstIterator) Sub(n int) ConstIterator { return ConstIterator{it: c.it.Sub(n)} }

// Inc advances the cursor one tuple.
func (c *ConstIterator) Inc() { c.it.Inc() }

// Dec moves the cursor back one tuple.
func (c *ConstIterator) Dec() { c.it.Dec() }

// Diff returns the number of tuples between c and o.
func (c ConstIterator) Diff(o ConstIterator) int { return c.it.Diff(o.it) }

// Equal reports whether two iterators point at the same tuple.
func (c ConstIterator) Equal(o ConstIterator) bool { return c.it.Equal(o.it) }

// Less orders iterators by position within the block.
func (c ConstIterator) Less(o ConstIterator) bool { return c.it.Less(o.it) }
