// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blockcache tracks every live temp-table block, pins and
// unpins them, and spills the least recently used unpinned blocks to a
// topend when too many are resident. Fetch brings an evicted block
// back, pinned, with its string refs repaired for the new address.
package blockcache

import (
	"errors"
	"fmt"

	"github.com/spillway-db/spillway/block"
)

// ErrNotStored is returned by a topend when asked for a block it does
// not hold.
var ErrNotStored = errors.New("blockcache: block not stored")

// Topend persists and restores block payloads. Implementations must
// round-trip the full block.Size payload verbatim, and keep the Meta
// that accompanied it. Store may complete in the background, but Load
// observes every prior Store (read-your-writes).
type Topend interface {
	Store(meta block.Meta, payload []byte) error
	Load(id block.ID) (block.Meta, []byte, error)
	Drop(id block.ID) error
	Close() error
}

type memEntry struct {
	meta    block.Meta
	payload []byte
}

// MemTopend keeps spilled payloads in memory. It serves tests and
// workloads where eviction exists only to bound the pinned working
// set.
type MemTopend struct {
	entries map[block.ID]memEntry
}

var _ = (Topend)((*MemTopend)(nil))

// NewMemTopend returns an empty in-memory topend.
func NewMemTopend() *MemTopend {
	return &MemTopend{entries: make(map[block.ID]memEntry)}
}

func (m *MemTopend) Store(meta block.Meta, payload []byte) error {
	if len(payload) != block.Size {
		return fmt.Errorf("memtopend: store block %d: payload is %d bytes", meta.ID, len(payload))
	}
	m.entries[meta.ID] = memEntry{meta: meta, payload: payload}
	return nil
}

func (m *MemTopend) Load(id block.ID) (block.Meta, []byte, error) {
	e, ok := m.entries[id]
	if !ok {
		return block.Meta{}, nil, fmt.Errorf("memtopend: load block %d: %w", id, ErrNotStored)
	}
	// The cache owns the returned buffer; drop our reference so a
	// later Store cannot alias it.
	delete(m.entries, id)
	return e.meta, e.payload, nil
}

func (m *MemTopend) Drop(id block.ID) error {
	delete(m.entries, id)
	return nil
}

func (m *MemTopend) Close() error {
	m.entries = nil
	return nil
}
