package xdr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	w.U32(42)
	w.F64(3.5)
	w.F64Slice([]float64{1, 2, 3})
	assert.NoError(t, w.Err())

	r := NewReader(buf)
	assert.Equal(t, uint32(42), r.U32())
	assert.Equal(t, 3.5, r.F64())
	assert.Equal(t, []float64{1, 2, 3}, r.F64N(3))
	assert.NoError(t, r.Err())
}

func TestShortRead(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0, 1}))
	r.U32()
	assert.Error(t, r.Err())
}
