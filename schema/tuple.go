// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ObjectHeader is the length prefix in front of every non-inlined
// object. A string ref points at the prefix, not the payload.
const ObjectHeader = 4

// Tuple is a staged tuple being prepared for insertion into a block.
// The inline body is laid out eagerly; variable-length values are held
// aside until the block copies them into its non-inlined region. A
// Tuple may be Reset and refilled to amortize allocation.
type Tuple struct {
	s       *Schema
	row     []byte
	vardata [][]byte // per column; nil except for non-NULL varchars
	varSize int
}

// NewTuple returns an empty staged tuple. All columns start NULL.
func (s *Schema) NewTuple() *Tuple {
	t := &Tuple{
		s:       s,
		row:     make([]byte, s.rowLen),
		vardata: make([][]byte, len(s.cols)),
	}
	t.Reset()
	return t
}

// Reset clears the tuple back to all-NULL.
func (t *Tuple) Reset() {
	for i := range t.row {
		t.row[i] = 0
	}
	t.row[0] = StatusActive
	for i, c := range t.s.cols {
		switch c.Type {
		case BigInt:
			nullBigInt := int64(NullBigInt)
			binary.LittleEndian.PutUint64(t.row[t.s.offsets[i]:], uint64(nullBigInt))
		case Double:
			binary.LittleEndian.PutUint64(t.row[t.s.offsets[i]:], math.Float64bits(NullDouble))
		}
		t.vardata[i] = nil
	}
	t.varSize = 0
}

// Schema returns the schema the tuple was staged against.
func (t *Tuple) Schema() *Schema { return t.s }

// Row exposes the staged inline body (status byte included). String
// ref fields are zero; the block fills them in during insert.
func (t *Tuple) Row() []byte { return t.row }

// VarData returns the staged value of varchar column col, nil if NULL.
func (t *Tuple) VarData(col int) []byte { return t.vardata[col] }

// NonInlinedSize returns the total non-inlined bytes this tuple needs,
// length prefixes included.
func (t *Tuple) NonInlinedSize() int { return t.varSize }

// SetBigInt stores v into bigint column col.
func (t *Tuple) SetBigInt(col int, v int64) {
	if t.s.cols[col].Type != BigInt {
		panic(fmt.Sprintf("schema: column %d is %s, not bigint", col, t.s.cols[col].Type))
	}
	binary.LittleEndian.PutUint64(t.row[t.s.offsets[col]:], uint64(v))
}

// SetDouble stores v into double column col.
func (t *Tuple) SetDouble(col int, v float64) {
	if t.s.cols[col].Type != Double {
		panic(fmt.Sprintf("schema: column %d is %s, not double", col, t.s.cols[col].Type))
	}
	binary.LittleEndian.PutUint64(t.row[t.s.offsets[col]:], math.Float64bits(v))
}

// SetChar stores v into fixed-width column col, zero-padding to the
// column width. v longer than the width is a programmer error.
func (t *Tuple) SetChar(col int, v []byte) {
	c := t.s.cols[col]
	if c.Type != Char {
		panic(fmt.Sprintf("schema: column %d is %s, not char", col, c.Type))
	}
	if len(v) > c.Width {
		panic(fmt.Sprintf("schema: char column %d: %d bytes into width %d", col, len(v), c.Width))
	}
	off := t.s.offsets[col]
	n := copy(t.row[off:off+c.Width], v)
	for i := off + n; i < off+c.Width; i++ {
		t.row[i] = 0
	}
}

// SetVarchar stages v for varchar column col. The bytes are not copied
// until the tuple is inserted into a block; the caller must keep v
// alive and unmodified until then. A nil v stores NULL.
func (t *Tuple) SetVarchar(col int, v []byte) {
	if t.s.cols[col].Type != Varchar {
		panic(fmt.Sprintf("schema: column %d is %s, not varchar", col, t.s.cols[col].Type))
	}
	if t.vardata[col] != nil {
		t.varSize -= ObjectHeader + len(t.vardata[col])
	}
	t.vardata[col] = v
	if v != nil {
		t.varSize += ObjectHeader + len(v)
	}
}

// SetNull stores NULL into column col.
func (t *Tuple) SetNull(col int) {
	switch t.s.cols[col].Type {
	case BigInt:
		nullBigInt := int64(NullBigInt)
		binary.LittleEndian.PutUint64(t.row[t.s.offsets[col]:], uint64(nullBigInt))
	case Double:
		binary.LittleEndian.PutUint64(t.row[t.s.offsets[col]:], math.Float64bits(NullDouble))
	case Varchar:
		t.SetVarchar(col, nil)
	case Char:
		off := t.s.offsets[col]
		for i := off; i < off+t.s.cols[col].Width; i++ {
			t.row[i] = 0
		}
	}
}
