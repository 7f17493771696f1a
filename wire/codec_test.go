package wire

import (
	"errors"
	"math"
	"testing"
)

func TestWriterReaderPrimitives(t *testing.T) {
	w := NewWriter(64)
	w.Uvarint(300)
	w.Varint(-42)
	w.Bool(true)
	w.Byte(7)
	w.Uint16(0xBEEF)
	w.Uint32(0xDEADBEEF)
	w.Uint64(math.MaxUint64)
	w.Float32(-1.5)
	w.String("katana.glb")
	w.Bytes(nil)

	r := NewReader(w.Data())
	if got := r.Uvarint(); got != 300 {
		t.Fatalf("Uvarint = %d", got)
	}
	if got := r.Varint(); got != -42 {
		t.Fatalf("Varint = %d", got)
	}
	if !r.Bool() {
		t.Fatalf("Bool = false")
	}
	if got := r.Byte(); got != 7 {
		t.Fatalf("Byte = %d", got)
	}
	if got := r.Uint16(); got != 0xBEEF {
		t.Fatalf("Uint16 = %#x", got)
	}
	if got := r.Uint32(); got != 0xDEADBEEF {
		t.Fatalf("Uint32 = %#x", got)
	}
	if got := r.Uint64(); got != math.MaxUint64 {
		t.Fatalf("Uint64 = %d", got)
	}
	if got := r.Float32(); got != -1.5 {
		t.Fatalf("Float32 = %v", got)
	}
	if got := r.String(); got != "katana.glb" {
		t.Fatalf("String = %q", got)
	}
	if got := r.Bytes(); len(got) != 0 {
		t.Fatalf("Bytes = %v", got)
	}
	if err := r.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
}

func TestReaderErrorSticks(t *testing.T) {
	r := NewReader([]byte{0x01})
	_ = r.Uint32()
	if r.Err() == nil {
		t.Fatalf("expected error on short buffer")
	}
	if got := r.Uvarint(); got != 0 {
		t.Fatalf("read after error returned %d", got)
	}
	if !errors.Is(r.Done(), r.Err()) {
		t.Fatalf("Done should report the first error")
	}
}

func TestCountRejectsOversizedLength(t *testing.T) {
	w := NewWriter(8)
	w.Uvarint(1000)
	r := NewReader(w.Data())
	if n := r.Count(); n != 0 || !errors.Is(r.Err(), ErrTooLarge) {
		t.Fatalf("Count = %d, err = %v", n, r.Err())
	}
}
