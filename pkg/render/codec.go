package render

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/klauspost/compress/zstd"
)

// zstdEncoder and zstdDecoder are shared across every encode/decode call:
// construction is the expensive part of this API, the encode/decode calls
// themselves are safe for concurrent use, which is exactly the pattern
// Reducer.Advance's splay handling and ButterflyReduce's per-rendering
// goroutines need.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// encode serialises a PixelSet as a leading count followed by that many
// fixed-width fields plus an opaque payload each, big-endian throughout to
// match the project's wire convention, then compresses the whole frame:
// Payload is opaque bytes per spec §4.1/§6, exactly what a generic
// byte-oriented compressor wants, and a composite rendering's frame is
// mostly repeated fixed-width fields across thousands of pixels.
func encode(set PixelSet) []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(set)))
	buf.Write(hdr[:])
	for k, p := range set {
		var field [24]byte
		binary.BigEndian.PutUint32(field[0:4], uint32(int32(k[0])))
		binary.BigEndian.PutUint32(field[4:8], uint32(int32(k[1])))
		binary.BigEndian.PutUint64(field[8:16], math.Float64bits(p.T))
		binary.BigEndian.PutUint32(field[16:20], uint32(p.Rank))
		binary.BigEndian.PutUint32(field[20:24], uint32(len(p.Payload)))
		buf.Write(field[:])
		buf.Write(p.Payload)
	}
	return zstdEncoder.EncodeAll(buf.Bytes(), nil)
}

func decode(compressed []byte) PixelSet {
	payload, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil || len(payload) < 4 {
		return PixelSet{}
	}
	n := int(binary.BigEndian.Uint32(payload))
	out := make(PixelSet, n)
	rest := payload[4:]
	offset := 0
	for i := 0; i < n; i++ {
		x := int(int32(binary.BigEndian.Uint32(rest[offset:])))
		y := int(int32(binary.BigEndian.Uint32(rest[offset+4:])))
		t := math.Float64frombits(binary.BigEndian.Uint64(rest[offset+8:]))
		rank := int(binary.BigEndian.Uint32(rest[offset+16:]))
		plen := int(binary.BigEndian.Uint32(rest[offset+20:]))
		payloadStart := offset + 24
		p := Pixel{X: x, Y: y, T: t, Rank: rank, Payload: append([]byte(nil), rest[payloadStart:payloadStart+plen]...)}
		out[[2]int{x, y}] = p
		offset = payloadStart + plen
	}
	return out
}
