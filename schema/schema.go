// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package schema describes tuple layouts. A Schema is immutable and
// shared read-only between blocks; blocks borrow it and never own it.
package schema

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
)

// Type is the storage type of a column.
type Type uint8

const (
	// BigInt is a signed 64-bit integer stored inline.
	BigInt Type = iota + 1

	// Double is a 64-bit float stored inline.
	Double

	// Varchar is variable-length character data. The tuple stores an
	// 8-byte string ref inline; the bytes live in the block's
	// non-inlined region.
	Varchar

	// Char is fixed-width character data stored inline, padded with
	// zero bytes.
	Char
)

func (t Type) String() string {
	switch t {
	case BigInt:
		return "bigint"
	case Double:
		return "double"
	case Varchar:
		return "varchar"
	case Char:
		return "char"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

const (
	// RefWidth is the inline width of a string ref.
	RefWidth = 8

	// StatusActive is set in the status byte of every stored tuple.
	StatusActive = 0x01

	// NullBigInt is the sentinel stored for a NULL bigint column.
	NullBigInt = math.MinInt64
)

// NullDouble is the sentinel stored for a NULL double column.
var NullDouble = math.Float64frombits(0x7ff8000000000001)

// Column describes one column of a tuple.
type Column struct {
	Name  string
	Type  Type
	Width int // inline width in bytes
}

// BigIntColumn returns an 8-byte integer column.
func BigIntColumn(name string) Column {
	return Column{Name: name, Type: BigInt, Width: 8}
}

// DoubleColumn returns an 8-byte float column.
func DoubleColumn(name string) Column {
	return Column{Name: name, Type: Double, Width: 8}
}

// VarcharColumn returns a variable-length column. Only the string ref
// is inline.
func VarcharColumn(name string) Column {
	return Column{Name: name, Type: Varchar, Width: RefWidth}
}

// CharColumn returns a fixed-width column of the given byte width.
func CharColumn(name string, width int) Column {
	return Column{Name: name, Type: Char, Width: width}
}

// Schema is an immutable tuple descriptor. The inline body of a tuple
// is TupleLength() bytes; a stored row additionally carries a one-byte
// status header, for RowLength() bytes total.
type Schema struct {
	cols       []Column
	offsets    []int // row offset of each column, after the status byte
	refOffsets []int // row offsets of all string refs, ascending
	rowLen     int
}

// New builds a Schema from the given columns. It panics on a
// malformed column definition; schemas come from the catalog and a
// bad one is a programmer error.
func New(cols ...Column) *Schema {
	s := &Schema{
		cols:    make([]Column, len(cols)),
		offsets: make([]int, len(cols)),
	}
	copy(s.cols, cols)

	off := 1 // status byte
	for i, c := range s.cols {
		switch c.Type {
		case BigInt, Double:
			if c.Width != 8 {
				panic(fmt.Sprintf("schema: column %q: %s must be 8 bytes, got %d", c.Name, c.Type, c.Width))
			}
		case Varchar:
			if c.Width != RefWidth {
				panic(fmt.Sprintf("schema: column %q: varchar ref must be %d bytes, got %d", c.Name, RefWidth, c.Width))
			}
			s.refOffsets = append(s.refOffsets, off)
		case Char:
			if c.Width <= 0 {
				panic(fmt.Sprintf("schema: column %q: char width %d", c.Name, c.Width))
			}
		default:
			panic(fmt.Sprintf("schema: column %q: unknown type %d", c.Name, c.Type))
		}
		s.offsets[i] = off
		off += c.Width
	}
	s.rowLen = off
	return s
}

// TupleLength returns the inline body length L, excluding the status
// byte.
func (s *Schema) TupleLength() int { return s.rowLen - 1 }

// RowLength returns L+1, the stored width of one tuple.
func (s *Schema) RowLength() int { return s.rowLen }

// ColumnCount returns the number of columns.
func (s *Schema) ColumnCount() int { return len(s.cols) }

// Column returns the i'th column descriptor.
func (s *Schema) Column(i int) Column { return s.cols[i] }

// Offset returns the row offset of column i, counting the status byte.
func (s *Schema) Offset(i int) int { return s.offsets[i] }

// RefOffsets enumerates the row offsets of every string ref, in
// ascending order. The relocation walk over a block uses this.
func (s *Schema) RefOffsets() []int { return s.refOffsets }

// Fingerprint returns a stable identifier for the schema, derived from
// the column types and widths. Persisted block metadata records it so
// a reloaded payload can be checked against the schema it was written
// under.
func (s *Schema) Fingerprint() uint64 {
	h := fnv.New64a()
	var buf [4]byte
	for _, c := range s.cols {
		buf[0] = byte(c.Type)
		binary.LittleEndian.PutUint16(buf[1:3], uint16(c.Width))
		h.Write(buf[:3])
	}
	return h.Sum64()
}

// RowBigInt reads column col of a stored row. ok is false for NULL.
func (s *Schema) RowBigInt(row []byte, col int) (v int64, ok bool) {
	if s.cols[col].Type != BigInt {
		panic(fmt.Sprintf("schema: column %d is %s, not bigint", col, s.cols[col].Type))
	}
	v = int64(binary.LittleEndian.Uint64(row[s.offsets[col]:]))
	return v, v != NullBigInt
}

// RowDouble reads column col of a stored row. ok is false for NULL.
func (s *Schema) RowDouble(row []byte, col int) (v float64, ok bool) {
	if s.cols[col].Type != Double {
		panic(fmt.Sprintf("schema: column %d is %s, not double", col, s.cols[col].Type))
	}
	bits := binary.LittleEndian.Uint64(row[s.offsets[col]:])
	return math.Float64frombits(bits), bits != math.Float64bits(NullDouble)
}

// RowChar reads fixed-width column col of a stored row, including any
// zero padding.
func (s *Schema) RowChar(row []byte, col int) []byte {
	c := s.cols[col]
	if c.Type != Char {
		panic(fmt.Sprintf("schema: column %d is %s, not char", col, c.Type))
	}
	off := s.offsets[col]
	return row[off : off+c.Width]
}

// RowRef reads the raw string ref of varchar column col. Zero means
// NULL. Dereferencing is the owning block's job, since only the block
// knows its base address.
func (s *Schema) RowRef(row []byte, col int) uint64 {
	if s.cols[col].Type != Varchar {
		panic(fmt.Sprintf("schema: column %d is %s, not varchar", col, s.cols[col].Type))
	}
	return binary.LittleEndian.Uint64(row[s.offsets[col]:])
}
