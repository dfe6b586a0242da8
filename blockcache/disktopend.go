// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockcache

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/spillway-db/spillway/block"
)

// DiskTopend spills block payloads to a slot file: a flat file of
// block.Size slots, one per spilled block, with slots reused after
// Drop. Writes happen on a background goroutine; the interface stays
// synchronous because Load serves a not-yet-written payload straight
// from the pending queue.
type DiskTopend struct {
	log *zap.Logger
	f   *os.File

	mu      sync.Mutex
	slots   map[block.ID]diskEntry
	free    []int64 // reusable slot offsets
	next    int64   // next fresh slot offset
	pending map[block.ID]*pendingWrite
	err     error // first background write failure, sticky

	writes chan *pendingWrite
	g      errgroup.Group
}

type diskEntry struct {
	meta block.Meta
	off  int64
}

type pendingWrite struct {
	meta    block.Meta
	payload []byte
	off     int64
}

var _ = (Topend)((*DiskTopend)(nil))

// NewDiskTopend creates a slot file at path, truncating anything
// there. A nil logger disables logging.
func NewDiskTopend(path string, log *zap.Logger) (*DiskTopend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("disktopend: %w", err)
	}
	d := &DiskTopend{
		log:     log.Named("disktopend"),
		f:       f,
		slots:   make(map[block.ID]diskEntry),
		pending: make(map[block.ID]*pendingWrite),
		writes:  make(chan *pendingWrite, 4),
	}
	d.g.Go(d.writer)
	return d, nil
}

func (d *DiskTopend) writer() error {
	for w := range d.writes {
		if err := pwriteFull(d.f, w.payload, w.off); err != nil {
			d.log.Error("spill write failed", zap.Uint64("block", uint64(w.meta.ID)), zap.Error(err))
			d.mu.Lock()
			if d.err == nil {
				d.err = fmt.Errorf("disktopend: write block %d: %w", w.meta.ID, err)
			}
			delete(d.pending, w.meta.ID)
			d.mu.Unlock()
			continue
		}
		d.mu.Lock()
		if d.pending[w.meta.ID] == w {
			delete(d.pending, w.meta.ID)
		}
		d.mu.Unlock()
	}
	return nil
}

func pwriteFull(f *os.File, p []byte, off int64) error {
	for len(p) > 0 {
		n, err := unix.Pwrite(int(f.Fd()), p, off)
		if err != nil {
			return err
		}
		p = p[n:]
		off += int64(n)
	}
	return nil
}

func preadFull(f *os.File, p []byte, off int64) error {
	for len(p) > 0 {
		n, err := unix.Pread(int(f.Fd()), p, off)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short read at offset %d", off)
		}
		p = p[n:]
		off += int64(n)
	}
	return nil
}

// Store queues the payload for writing and returns. Ownership of the
// payload passes to the topend until the write retires; a Load in the
// meantime gets a copy.
func (d *DiskTopend) Store(meta block.Meta, payload []byte) error {
	if len(payload) != block.Size {
		return fmt.Errorf("disktopend: store block %d: payload is %d bytes", meta.ID, len(payload))
	}
	d.mu.Lock()
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return err
	}
	var off int64
	if e, ok := d.slots[meta.ID]; ok {
		off = e.off
	} else if n := len(d.free); n > 0 {
		off = d.free[n-1]
		d.free = d.free[:n-1]
	} else {
		off = d.next
		d.next += block.Size
	}
	d.slots[meta.ID] = diskEntry{meta: meta, off: off}
	w := &pendingWrite{meta: meta, payload: payload, off: off}
	d.pending[meta.ID] = w
	d.mu.Unlock()

	d.writes <- w
	return nil
}

// Load returns the stored payload. A payload still sitting in the
// write queue is served as a copy, so the queued write keeps sole
// ownership of the original bytes until it retires. Slot reuse stays
// safe under that: the writer goroutine drains the queue in FIFO
// order, so a write for a dropped block always lands before any later
// write into the recycled slot.
func (d *DiskTopend) Load(id block.ID) (block.Meta, []byte, error) {
	d.mu.Lock()
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return block.Meta{}, nil, err
	}
	if w, ok := d.pending[id]; ok {
		buf := make([]byte, block.Size)
		copy(buf, w.payload)
		d.mu.Unlock()
		return w.meta, buf, nil
	}
	e, ok := d.slots[id]
	d.mu.Unlock()
	if !ok {
		return block.Meta{}, nil, fmt.Errorf("disktopend: load block %d: %w", id, ErrNotStored)
	}

	buf := make([]byte, block.Size)
	if err := preadFull(d.f, buf, e.off); err != nil {
		return block.Meta{}, nil, fmt.Errorf("disktopend: read block %d: %w", id, err)
	}
	return e.meta, buf, nil
}

// Drop frees the block's slot for reuse.
func (d *DiskTopend) Drop(id block.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
	if e, ok := d.slots[id]; ok {
		delete(d.slots, id)
		d.free = append(d.free, e.off)
	}
	return nil
}

// Close drains the write queue, closes the slot file and returns the
// first write error, if any.
func (d *DiskTopend) Close() error {
	close(d.writes)
	err := d.g.Wait()
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	d.mu.Lock()
	if err == nil {
		err = d.err
	}
	d.mu.Unlock()
	return err
}
