// Package xdr provides the big-endian primitive decode/encode helpers used
// to read and write the HemeLB geometry file. The on-disk format is plain
// XDR: fixed-width big-endian integers and IEEE-754 doubles with no padding
// between fields, so a thin wrapper around encoding/binary is all the
// format needs.
package xdr

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Reader decodes XDR primitives from an underlying io.Reader, accumulating
// the first error it encounters so call sites can chain reads without
// checking err after every field.
type Reader struct {
	r   io.Reader
	err error
}

// NewReader wraps r for sequential XDR decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first error encountered, if any.
func (x *Reader) Err() error {
	return x.err
}

func (x *Reader) read(buf []byte) {
	if x.err != nil {
		return
	}
	_, err := io.ReadFull(x.r, buf)
	if err != nil {
		x.err = errors.Wrap(err, "short read")
	}
}

// U32 decodes one big-endian uint32.
func (x *Reader) U32() uint32 {
	var buf [4]byte
	x.read(buf[:])
	if x.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(buf[:])
}

// F64 decodes one big-endian IEEE-754 double.
func (x *Reader) F64() float64 {
	var buf [8]byte
	x.read(buf[:])
	if x.err != nil {
		return 0
	}
	bits := binary.BigEndian.Uint64(buf[:])
	return math.Float64frombits(bits)
}

// F64N decodes n consecutive big-endian doubles.
func (x *Reader) F64N(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = x.F64()
	}
	return out
}

// Writer encodes XDR primitives to an underlying io.Writer, accumulating
// the first error encountered.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w for sequential XDR encoding.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered, if any.
func (x *Writer) Err() error {
	return x.err
}

func (x *Writer) write(buf []byte) {
	if x.err != nil {
		return
	}
	_, err := x.w.Write(buf)
	if err != nil {
		x.err = errors.Wrap(err, "short write")
	}
}

// U32 encodes one big-endian uint32.
func (x *Writer) U32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	x.write(buf[:])
}

// F64 encodes one big-endian IEEE-754 double.
func (x *Writer) F64(v float64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	x.write(buf[:])
}

// F64Slice encodes a slice of big-endian doubles in order.
func (x *Writer) F64Slice(vs []float64) {
	for _, v := range vs {
		x.F64(v)
	}
}
