package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Version is bumped whenever the layout of any encoded value changes.
const Version byte = 1

var (
	ErrShortBuffer = errors.New("wire: short buffer")
	ErrTooLarge    = errors.New("wire: length exceeds limit")
)

// MaxBytesLen bounds any single length-prefixed field.
const MaxBytesLen = 1 << 20

// Writer appends compact binary values to a growing buffer.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Uvarint(v uint64) {
	w.buf = protowire.AppendVarint(w.buf, v)
}

func (w *Writer) Varint(v int64) {
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeZigZag(v))
}

func (w *Writer) Bool(b bool) {
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeBool(b))
}

func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *Writer) Uint16(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

func (w *Writer) Uint32(v uint32) {
	w.buf = protowire.AppendFixed32(w.buf, v)
}

func (w *Writer) Uint64(v uint64) {
	w.buf = protowire.AppendFixed64(w.buf, v)
}

func (w *Writer) Float32(f float32) {
	w.buf = protowire.AppendFixed32(w.buf, math.Float32bits(f))
}

func (w *Writer) String(s string) {
	w.buf = protowire.AppendString(w.buf, s)
}

func (w *Writer) Bytes(b []byte) {
	w.buf = protowire.AppendBytes(w.buf, b)
}

// Raw appends b without a length prefix.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Data() []byte {
	return w.buf
}

// Reader consumes values written by Writer. The first failure sticks: every
// later call returns a zero value and Err reports the original problem.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("wire: decode at offset %d: %w", r.off, err)
	}
}

func (r *Reader) rest() []byte {
	return r.buf[r.off:]
}

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.rest())
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) Varint() int64 {
	return protowire.DecodeZigZag(r.Uvarint())
}

func (r *Reader) Bool() bool {
	return r.Uvarint() != 0
}

func (r *Reader) Byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.rest()) < 1 {
		r.fail(ErrShortBuffer)
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *Reader) Uint16() uint16 {
	if r.err != nil {
		return 0
	}
	if len(r.rest()) < 2 {
		r.fail(ErrShortBuffer)
		return 0
	}
	v := uint16(r.buf[r.off]) | uint16(r.buf[r.off+1])<<8
	r.off += 2
	return v
}

func (r *Reader) Uint32() uint32 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed32(r.rest())
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) Uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed64(r.rest())
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

func (r *Reader) Bytes() []byte {
	if r.err != nil {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.rest())
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return nil
	}
	if len(v) > MaxBytesLen {
		r.fail(ErrTooLarge)
		return nil
	}
	r.off += n
	return v
}

func (r *Reader) String() string {
	return string(r.Bytes())
}

// Count reads a collection length and rejects values that cannot possibly
// fit in the remaining input.
func (r *Reader) Count() int {
	n := r.Uvarint()
	if r.err != nil {
		return 0
	}
	if n > uint64(len(r.rest())) {
		r.fail(ErrTooLarge)
		return 0
	}
	return int(n)
}

func (r *Reader) Err() error {
	return r.err
}

// Done reports an error if decoding failed or bytes were left over.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("wire: %d trailing bytes", len(r.buf)-r.off)
	}
	return nil
}
