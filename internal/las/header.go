package las

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Field offsets within the LAS 1.2 public header block.
const (
	offVersionMajor = 24
	offVersionMinor = 25
	offGenerating   = 58
	offHeaderSize   = 94
	offPointOffset  = 96
	offVLRCount     = 100
	offPointFormat  = 104
	offRecordLen    = 105
	offPointCount   = pointCountOffset
	offScale        = 131
	offOffset       = 155
	offBounds       = 179
)

var generatingSoftware = "lastile"

// encodeHeader serializes h into a 227-byte public header block.
func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], fileSignature)
	buf[offVersionMajor] = versionMajor
	buf[offVersionMinor] = versionMinor
	copy(buf[offGenerating:offGenerating+32], generatingSoftware)
	binary.LittleEndian.PutUint16(buf[offHeaderSize:], HeaderSize)
	binary.LittleEndian.PutUint32(buf[offPointOffset:], HeaderSize)
	binary.LittleEndian.PutUint32(buf[offVLRCount:], 0)
	buf[offPointFormat] = h.PointFormat
	binary.LittleEndian.PutUint16(buf[offRecordLen:], h.RecordLength)
	binary.LittleEndian.PutUint32(buf[offPointCount:], h.PointCount)

	putF64 := func(off int, v float64) {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
	}
	putF64(offScale, h.Scale.X)
	putF64(offScale+8, h.Scale.Y)
	putF64(offScale+16, h.Scale.Z)
	putF64(offOffset, h.Offset.X)
	putF64(offOffset+8, h.Offset.Y)
	putF64(offOffset+16, h.Offset.Z)

	// Bounds are stored max-before-min per axis.
	putF64(offBounds, h.Max.X)
	putF64(offBounds+8, h.Min.X)
	putF64(offBounds+16, h.Max.Y)
	putF64(offBounds+24, h.Min.Y)
	putF64(offBounds+32, h.Max.Z)
	putF64(offBounds+40, h.Min.Z)
	return buf
}

// decodeHeader reads the public header block from r and returns the parsed
// header plus the declared offset to the start of point data.
func decodeHeader(r io.Reader) (Header, uint32, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, 0, fmt.Errorf("las: short header: %w", err)
	}
	if string(buf[0:4]) != fileSignature {
		return Header{}, 0, fmt.Errorf("las: bad file signature %q", buf[0:4])
	}
	if major := buf[offVersionMajor]; major != versionMajor {
		return Header{}, 0, fmt.Errorf("las: unsupported version %d.%d", major, buf[offVersionMinor])
	}
	headerSize := binary.LittleEndian.Uint16(buf[offHeaderSize:])
	if headerSize < HeaderSize {
		return Header{}, 0, fmt.Errorf("las: declared header size %d too small", headerSize)
	}
	pointOffset := binary.LittleEndian.Uint32(buf[offPointOffset:])
	if pointOffset < uint32(HeaderSize) {
		return Header{}, 0, fmt.Errorf("las: point data offset %d inside header", pointOffset)
	}

	getF64 := func(off int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
	}
	h := Header{
		PointCount:   binary.LittleEndian.Uint32(buf[offPointCount:]),
		PointFormat:  buf[offPointFormat],
		RecordLength: binary.LittleEndian.Uint16(buf[offRecordLen:]),
		Scale:        Vec3{X: getF64(offScale), Y: getF64(offScale + 8), Z: getF64(offScale + 16)},
		Offset:       Vec3{X: getF64(offOffset), Y: getF64(offOffset + 8), Z: getF64(offOffset + 16)},
		Max:          Vec3{X: getF64(offBounds), Y: getF64(offBounds + 16), Z: getF64(offBounds + 32)},
		Min:          Vec3{X: getF64(offBounds + 8), Y: getF64(offBounds + 24), Z: getF64(offBounds + 40)},
	}
	if err := h.Validate(); err != nil {
		return Header{}, 0, err
	}
	return h, pointOffset, nil
}
