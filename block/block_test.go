// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package block

import (
	"bytes"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/spillway-db/spillway/internal/testutil"
	"github.com/spillway-db/spillway/schema"
)

// wideSchema has a 65-byte row: status byte, bigint, string ref and 48
// bytes of padding.
func wideSchema() *schema.Schema {
	return schema.New(
		schema.BigIntColumn("id"),
		schema.VarcharColumn("payload"),
		schema.CharColumn("pad", 48),
	)
}

func fillTuple(t *testing.T, s *schema.Schema, id int64, payload []byte) *schema.Tuple {
	tp := s.NewTuple()
	tp.SetBigInt(0, id)
	tp.SetVarchar(1, payload)
	return tp
}

func TestInsertAccounting(t *testing.T) {
	s := wideSchema()
	b := New(1, s)

	payload := make([]byte, 100)
	testutil.RandBytes(payload, 1)

	for i := 0; i < 10; i++ {
		free := b.FreeSpace()
		if !b.Insert(fillTuple(t, s, int64(i), payload)) {
			t.Fatalf("insert %d refused with %d free", i, free)
		}
		if got, want := b.ActiveTupleCount(), i+1; got != want {
			t.Errorf("ActiveTupleCount: got %d, want %d", got, want)
		}
		spent := free - b.FreeSpace()
		if want := s.RowLength() + schema.ObjectHeader + len(payload); spent != want {
			t.Errorf("insert %d consumed %d bytes, want %d", i, spent, want)
		}
	}
	if got, want := b.End().Diff(b.Begin()), 10; got != want {
		t.Errorf("End-Begin: got %d, want %d", got, want)
	}
	b.AuditRefs()
}

func TestCapacityRefusal(t *testing.T) {
	s := wideSchema()
	if got := s.RowLength(); got != 65 {
		t.Fatalf("row length: got %d, want 65", got)
	}
	b := New(1, s)

	payload := make([]byte, 256) // 260 non-inlined with the header
	testutil.RandBytes(payload, 2)
	const perTuple = 65 + 260

	n := 0
	for {
		tp := fillTuple(t, s, int64(n), payload)
		if !b.Insert(tp) {
			break
		}
		n++
	}
	if b.FreeSpace() >= perTuple {
		t.Errorf("refused with %d free, want < %d", b.FreeSpace(), perTuple)
	}
	if got, want := n, Size/perTuple; got != want {
		t.Errorf("inserted %d tuples, want %d", got, want)
	}
	if got := b.ActiveTupleCount(); got != n {
		t.Errorf("refusal changed count: got %d, want %d", got, n)
	}
	free := b.FreeSpace()
	if b.Insert(fillTuple(t, s, 0, payload)) {
		t.Fatal("second insert after refusal succeeded")
	}
	if b.FreeSpace() != free {
		t.Errorf("refused insert moved insertion points: %d -> %d", free, b.FreeSpace())
	}
}

func TestInlineOnlyFill(t *testing.T) {
	// No varchars: the inline region fills exactly floor(Size/(L+1))
	// times.
	s := schema.New(
		schema.BigIntColumn("id"),
		schema.CharColumn("pad", 56),
	)
	if got := s.RowLength(); got != 65 {
		t.Fatalf("row length: got %d, want 65", got)
	}
	b := New(1, s)
	tp := s.NewTuple()
	n := 0
	for {
		tp.SetBigInt(0, int64(n))
		if !b.Insert(tp) {
			break
		}
		n++
	}
	if got, want := n, Size/65; got != want {
		t.Errorf("inserted %d tuples, want %d", got, want)
	}
}

func TestOversizeTupleRefused(t *testing.T) {
	// A tuple whose total size equals the block size cannot fit: the
	// status byte alone pushes it over.
	s := schema.New(
		schema.BigIntColumn("id"),
		schema.VarcharColumn("payload"),
	)
	b := New(1, s)
	payload := make([]byte, Size-s.RowLength()-schema.ObjectHeader+1)
	if b.Insert(fillTuple(t, s, 0, payload)) {
		t.Fatal("oversize insert succeeded")
	}
	if b.ActiveTupleCount() != 0 {
		t.Errorf("refusal stored %d tuples", b.ActiveTupleCount())
	}

	// One byte smaller fills the block completely.
	payload = payload[:len(payload)-1]
	if !b.Insert(fillTuple(t, s, 0, payload)) {
		t.Fatal("exact-fit insert refused")
	}
	if b.FreeSpace() != 0 {
		t.Errorf("exact fit left %d bytes free", b.FreeSpace())
	}
}

func readAll(t *testing.T, b *Block) (ids []int64, payloads [][]byte) {
	t.Helper()
	s := b.Schema()
	for it, end := b.Begin(), b.End(); !it.Equal(end); it.Inc() {
		row := it.Row()
		id, _ := s.RowBigInt(row, 0)
		ids = append(ids, id)
		v, ok := b.RowVarchar(row, 1)
		if !ok {
			payloads = append(payloads, nil)
			continue
		}
		payloads = append(payloads, append([]byte(nil), v...))
	}
	return ids, payloads
}

func TestRelocationRoundTrip(t *testing.T) {
	s := wideSchema()
	b := New(1, s)

	payload := make([]byte, 200)
	for i := 0; i < 50; i++ {
		testutil.RandBytes(payload, int64(i))
		if !b.Insert(fillTuple(t, s, int64(i), payload)) {
			t.Fatalf("insert %d refused", i)
		}
	}
	wantIDs, wantPayloads := readAll(t, b)
	wantMeta := b.Meta()

	b.Unpin()
	buf, origBase := b.ReleaseData()
	if b.Resident() {
		t.Fatal("resident after ReleaseData")
	}
	if !b.Stored() {
		t.Fatal("not marked stored after ReleaseData")
	}

	// Simulate the cache reloading the payload at a different address.
	moved := make([]byte, Size)
	copy(moved, buf)
	b.SetData(origBase, moved)
	b.Pin()
	b.AuditRefs()

	gotIDs, gotPayloads := readAll(t, b)
	if diff := pretty.Compare(gotIDs, wantIDs); diff != "" {
		t.Errorf("ids diff (-got +want):\n%s", diff)
	}
	for i := range wantPayloads {
		if !bytes.Equal(gotPayloads[i], wantPayloads[i]) {
			t.Errorf("payload %d differs after relocation", i)
		}
	}

	gotMeta := b.Meta()
	wantMeta.OrigBase = gotMeta.OrigBase // the base is the one field allowed to move
	if diff := pretty.Compare(gotMeta, wantMeta); diff != "" {
		t.Errorf("meta diff (-got +want):\n%s", diff)
	}
}

func TestInsertTupleFrom(t *testing.T) {
	s := wideSchema()
	src := New(1, s)
	dst := New(2, s)

	payload := make([]byte, 77)
	testutil.RandBytes(payload, 3)
	if !src.Insert(fillTuple(t, s, 9, payload)) {
		t.Fatal("insert refused")
	}
	tp := s.NewTuple()
	tp.SetBigInt(0, 10)
	if !src.Insert(tp) { // NULL payload
		t.Fatal("insert refused")
	}

	for it, end := src.Begin(), src.End(); !it.Equal(end); it.Inc() {
		if !dst.InsertTupleFrom(src, it.Row()) {
			t.Fatal("InsertTupleFrom refused")
		}
	}
	dst.AuditRefs()

	ids, payloads := readAll(t, dst)
	if diff := pretty.Compare(ids, []int64{9, 10}); diff != "" {
		t.Errorf("ids diff:\n%s", diff)
	}
	if !bytes.Equal(payloads[0], payload) {
		t.Error("payload not copied")
	}
	if payloads[1] != nil {
		t.Errorf("NULL payload came back as %q", payloads[1])
	}
}

func TestCopyNonInlinedAndRelocatingInsert(t *testing.T) {
	s := wideSchema()
	src := New(1, s)

	payload := make([]byte, 64)
	for i := 0; i < 20; i++ {
		testutil.RandBytes(payload, int64(100+i))
		if !src.Insert(fillTuple(t, s, int64(i), payload)) {
			t.Fatalf("insert %d refused", i)
		}
	}
	wantIDs, wantPayloads := readAll(t, src)

	dst := New(2, s)
	dst.CopyNonInlined(src)
	origBase := src.Base()
	// Reverse order, to prove the inline bodies and the non-inlined
	// region move independently.
	for i := src.ActiveTupleCount() - 1; i >= 0; i-- {
		if !dst.InsertRelocating(src.Begin().At(i), origBase) {
			t.Fatalf("InsertRelocating %d refused", i)
		}
	}
	dst.AuditRefs()

	gotIDs, gotPayloads := readAll(t, dst)
	for i := range wantIDs {
		j := len(wantIDs) - 1 - i
		if gotIDs[i] != wantIDs[j] {
			t.Errorf("id %d: got %d, want %d", i, gotIDs[i], wantIDs[j])
		}
		if !bytes.Equal(gotPayloads[i], wantPayloads[j]) {
			t.Errorf("payload %d differs", i)
		}
	}
}

func TestPinDiscipline(t *testing.T) {
	s := wideSchema()

	expectPanic := func(name string, f func()) {
		defer func() {
			if recover() == nil {
				t.Errorf("%s did not panic", name)
			}
		}()
		f()
	}

	b := New(1, s)
	expectPanic("double pin", func() { b.Pin() })
	b.Unpin()
	expectPanic("double unpin", func() { b.Unpin() })
	expectPanic("ReleaseData after release", func() {
		b.ReleaseData()
		b.ReleaseData()
	})
	expectPanic("Insert while non-resident", func() {
		b.Insert(s.NewTuple())
	})
}
