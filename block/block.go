// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package block implements the large temporary-table block: an 8 MiB
// self-contained buffer that packs fixed-width tuple bodies from the
// low end and variable-length objects from the high end. The single
// buffer is the unit of disk spill; after a reload at a different
// address a single arithmetic pass repairs every string ref.
package block

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/spillway-db/spillway/schema"
)

// Size is the fixed byte size of every block payload.
const Size = 8 * 1024 * 1024

// paranoia enables extra invariant checks that are cheap enough to
// leave on in tests.
const paranoia = true

// ID identifies a block. IDs are dense and monotone, assigned by the
// block cache.
type ID uint64

// Meta is the metadata that accompanies a persisted payload. OrigBase
// is the buffer's base address at the time ReleaseData handed it out;
// SetData needs it to compute the relocation delta.
type Meta struct {
	ID                       ID
	Schema                   uint64 // schema fingerprint
	ActiveTupleCount         int
	TupleInsertionPoint      int
	NonInlinedInsertionPoint int
	OrigBase                 uintptr
}

// Block is a fixed-size buffer holding tuples and their non-inlined
// data. Tuples of RowLength bytes each occupy [0, tupleInsert);
// non-inlined objects occupy [nonInlined, Size), packed downward. The
// gap between the two insertion points is the free space.
//
// A block is not safe for concurrent use. Pinning is an advisory
// single-owner discipline: while pinned the cache may not evict the
// block, and pin/unpin misuse panics.
type Block struct {
	id  ID
	sch *schema.Schema

	// storage is owned while resident, nil after ReleaseData.
	storage []byte
	base    uintptr

	tupleInsert int
	nonInlined  int
	active      int

	pinned bool
	stored bool
}

// New returns a fresh resident block with the given id. The block
// starts pinned, matching the cache's hand-it-out-pinned contract.
func New(id ID, s *schema.Schema) *Block {
	b := &Block{
		id:         id,
		sch:        s,
		nonInlined: Size,
		pinned:     true,
	}
	b.adopt(make([]byte, Size))
	return b
}

func (b *Block) adopt(buf []byte) {
	if len(buf) != Size {
		panic(fmt.Sprintf("block %d: adopting %d byte buffer", b.id, len(buf)))
	}
	b.storage = buf
	b.base = uintptr(unsafe.Pointer(&buf[0]))
}

// ID returns the block's cache-assigned identifier.
func (b *Block) ID() ID { return b.id }

// Schema returns the borrowed schema descriptor.
func (b *Block) Schema() *schema.Schema { return b.sch }

// ActiveTupleCount returns the number of stored tuples.
func (b *Block) ActiveTupleCount() int { return b.active }

// FreeSpace returns the gap between the two insertion points.
func (b *Block) FreeSpace() int { return b.nonInlined - b.tupleInsert }

// Resident reports whether the block currently owns its storage.
func (b *Block) Resident() bool { return b.storage != nil }

// Stored reports whether the payload has been handed to the cache for
// persistence at least once.
func (b *Block) Stored() bool { return b.stored }

// Pinned reports whether the block is pinned.
func (b *Block) Pinned() bool { return b.pinned }

// Base returns the current base address of the storage. It exists for
// the relocation path (InsertRelocating needs the source block's base)
// and must not be used to construct pointers outside this package.
func (b *Block) Base() uintptr {
	b.mustBeResident("Base")
	return b.base
}

// Meta returns the persistence metadata for the block's current state.
func (b *Block) Meta() Meta {
	return Meta{
		ID:                       b.id,
		Schema:                   b.sch.Fingerprint(),
		ActiveTupleCount:         b.active,
		TupleInsertionPoint:      b.tupleInsert,
		NonInlinedInsertionPoint: b.nonInlined,
		OrigBase:                 b.base,
	}
}

// Pin marks the block in use. Double-pinning is a programmer error.
func (b *Block) Pin() {
	if b.pinned {
		panic(fmt.Sprintf("block %d: double pin", b.id))
	}
	b.pinned = true
}

// Unpin releases a pin. Unpinning an unpinned block is a programmer
// error.
func (b *Block) Unpin() {
	if !b.pinned {
		panic(fmt.Sprintf("block %d: unpin while unpinned", b.id))
	}
	b.pinned = false
}

func (b *Block) mustBeResident(op string) {
	if b.storage == nil {
		panic(fmt.Sprintf("block %d: %s on non-resident block", b.id, op))
	}
}

// Insert copies the staged tuple into the block: the inline body at
// the low end and every non-NULL varchar value at the high end, with
// the inline string refs rewritten to the new copies. It returns false
// without modifying the block when the free gap cannot hold the row
// plus all non-inlined bytes.
func (b *Block) Insert(t *schema.Tuple) bool {
	b.mustBeResident("Insert")
	if t.Schema() != b.sch {
		panic(fmt.Sprintf("block %d: insert with foreign schema", b.id))
	}
	rowLen := b.sch.RowLength()
	if b.FreeSpace() < rowLen+t.NonInlinedSize() {
		return false
	}

	row := b.storage[b.tupleInsert : b.tupleInsert+rowLen]
	copy(row, t.Row())

	for col := 0; col < b.sch.ColumnCount(); col++ {
		if b.sch.Column(col).Type != schema.Varchar {
			continue
		}
		v := t.VarData(col)
		off := b.sch.Offset(col)
		if v == nil {
			binary.LittleEndian.PutUint64(row[off:], 0)
			continue
		}
		obj := b.Allocate(schema.ObjectHeader + len(v))
		binary.LittleEndian.PutUint32(obj, uint32(len(v)))
		copy(obj[schema.ObjectHeader:], v)
		binary.LittleEndian.PutUint64(row[off:], uint64(b.base+uintptr(b.nonInlined)))
	}

	b.tupleInsert += rowLen
	b.active++
	return true
}

// InsertTupleFrom copies a stored row out of src into this block,
// dereferencing each string ref through src and re-homing the value
// here. It is the append path of the k-way merge. Returns false when
// the gap is too small; the block is unchanged.
func (b *Block) InsertTupleFrom(src *Block, row []byte) bool {
	b.mustBeResident("InsertTupleFrom")
	if src.sch != b.sch {
		panic(fmt.Sprintf("block %d: InsertTupleFrom block %d with foreign schema", b.id, src.id))
	}
	rowLen := b.sch.RowLength()
	need := rowLen
	for _, off := range b.sch.RefOffsets() {
		if ref := binary.LittleEndian.Uint64(row[off:]); ref != 0 {
			need += schema.ObjectHeader + len(src.Deref(ref))
		}
	}
	if b.FreeSpace() < need {
		return false
	}

	dst := b.storage[b.tupleInsert : b.tupleInsert+rowLen]
	copy(dst, row)
	for _, off := range b.sch.RefOffsets() {
		ref := binary.LittleEndian.Uint64(dst[off:])
		if ref == 0 {
			continue
		}
		v := src.Deref(ref)
		obj := b.Allocate(schema.ObjectHeader + len(v))
		binary.LittleEndian.PutUint32(obj, uint32(len(v)))
		copy(obj[schema.ObjectHeader:], v)
		binary.LittleEndian.PutUint64(dst[off:], uint64(b.base+uintptr(b.nonInlined)))
	}
	b.tupleInsert += rowLen
	b.active++
	return true
}

// InsertRelocating copies only the inline body of a row whose string
// refs point into a buffer that was based at origBase, rewriting each
// ref as if that buffer's non-inlined region had been copied into this
// block wholesale at the same offsets (see CopyNonInlined). Returns
// false when the inline region is full.
func (b *Block) InsertRelocating(row []byte, origBase uintptr) bool {
	b.mustBeResident("InsertRelocating")
	rowLen := b.sch.RowLength()
	if b.tupleInsert+rowLen > b.nonInlined {
		return false
	}
	dst := b.storage[b.tupleInsert : b.tupleInsert+rowLen]
	copy(dst, row)
	delta := b.base - origBase
	for _, off := range b.sch.RefOffsets() {
		ref := binary.LittleEndian.Uint64(dst[off:])
		if ref == 0 {
			continue
		}
		binary.LittleEndian.PutUint64(dst[off:], uint64(uintptr(ref)+delta))
	}
	b.tupleInsert += rowLen
	b.active++
	return true
}

// Allocate claims n bytes from the non-inlined region, moving the
// insertion point down, and returns the claimed bytes. The callers
// (the insert paths) check the gap first; allocating past the tuple
// region is a programmer error.
func (b *Block) Allocate(n int) []byte {
	b.mustBeResident("Allocate")
	if b.nonInlined-n < b.tupleInsert {
		panic(fmt.Sprintf("block %d: allocate %d with %d free", b.id, n, b.FreeSpace()))
	}
	b.nonInlined -= n
	return b.storage[b.nonInlined : b.nonInlined+n]
}

// CopyNonInlined copies src's entire non-inlined region verbatim into
// the corresponding high bytes of this block. The receiving region
// must still be empty.
func (b *Block) CopyNonInlined(src *Block) {
	b.mustBeResident("CopyNonInlined")
	src.mustBeResident("CopyNonInlined src")
	if b.nonInlined != Size {
		panic(fmt.Sprintf("block %d: CopyNonInlined into non-empty region", b.id))
	}
	copy(b.storage[src.nonInlined:], src.storage[src.nonInlined:])
	b.nonInlined = src.nonInlined
}

// Deref resolves a string ref belonging to this block and returns the
// object payload, without the length prefix.
func (b *Block) Deref(ref uint64) []byte {
	b.mustBeResident("Deref")
	off := uintptr(ref) - b.base
	if paranoia && (off < uintptr(b.nonInlined) || off >= Size) {
		panic(fmt.Sprintf("block %d: ref %#x outside non-inlined region", b.id, ref))
	}
	n := binary.LittleEndian.Uint32(b.storage[off:])
	return b.storage[off+schema.ObjectHeader : off+schema.ObjectHeader+uintptr(n)]
}

// RowVarchar reads varchar column col of a stored row belonging to
// this block. ok is false for NULL.
func (b *Block) RowVarchar(row []byte, col int) (v []byte, ok bool) {
	ref := b.sch.RowRef(row, col)
	if ref == 0 {
		return nil, false
	}
	return b.Deref(ref), true
}

// ReleaseData transfers ownership of the storage to the caller (the
// cache, about to persist it) along with the base address the refs are
// currently valid for. The block must be unpinned. After the call the
// block is non-resident and marked stored.
func (b *Block) ReleaseData() (buf []byte, origBase uintptr) {
	if b.pinned {
		panic(fmt.Sprintf("block %d: ReleaseData while pinned", b.id))
	}
	b.mustBeResident("ReleaseData")
	buf, origBase = b.storage, b.base
	b.storage = nil
	b.base = 0
	b.stored = true
	return buf, origBase
}

// SetData installs a reloaded payload, possibly at a different address
// than it was released from, and repairs every string ref in every
// active tuple by the base delta. Pure arithmetic on the inline
// region; the non-inlined bytes are position-independent by
// construction.
func (b *Block) SetData(origBase uintptr, buf []byte) {
	if b.storage != nil {
		panic(fmt.Sprintf("block %d: SetData on resident block", b.id))
	}
	b.adopt(buf)
	delta := b.base - origBase
	if delta == 0 {
		return
	}
	refs := b.sch.RefOffsets()
	if len(refs) == 0 {
		return
	}
	rowLen := b.sch.RowLength()
	for off := 0; off < b.tupleInsert; off += rowLen {
		row := b.storage[off : off+rowLen]
		for _, ro := range refs {
			ref := binary.LittleEndian.Uint64(row[ro:])
			if ref == 0 {
				continue
			}
			binary.LittleEndian.PutUint64(row[ro:], uint64(uintptr(ref)+delta))
		}
	}
}

// AuditRefs walks every active tuple and verifies that each non-NULL
// string ref lands inside this block's own non-inlined region.
// Cross-block refs are forbidden; a violation is a corruption bug, so
// this panics rather than returning an error.
func (b *Block) AuditRefs() {
	b.mustBeResident("AuditRefs")
	refs := b.sch.RefOffsets()
	rowLen := b.sch.RowLength()
	lo := b.base + uintptr(b.nonInlined)
	hi := b.base + Size
	for off := 0; off < b.tupleInsert; off += rowLen {
		for _, ro := range refs {
			ref := uintptr(binary.LittleEndian.Uint64(b.storage[off+ro:]))
			if ref == 0 {
				continue
			}
			if ref < lo || ref >= hi {
				panic(fmt.Sprintf("block %d: tuple at %d: ref %#x outside [%#x,%#x)",
					b.id, off, ref, lo, hi))
			}
		}
	}
}
