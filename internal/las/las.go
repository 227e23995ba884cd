package las

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// HeaderSize is the size of the LAS 1.2 public header block.
	HeaderSize = 227

	// pointCountOffset is the byte offset of the legacy point record count
	// within the public header. Close patches the true count here.
	pointCountOffset = 107

	fileSignature = "LASF"

	versionMajor = 1
	versionMinor = 2
)

// Vec3 is a cartesian triple used for bounding boxes, scales and offsets.
type Vec3 struct {
	X, Y, Z float64
}

// Header carries the container metadata the tool needs: the declared record
// count, the coordinate quantization lattice, the bounding box, and whether
// the point-data section is compressed. The declared count on a file being
// read is advisory; readers run to end-of-stream.
type Header struct {
	PointCount   uint32
	PointFormat  uint8
	RecordLength uint16
	Scale        Vec3
	Offset       Vec3
	Min          Vec3
	Max          Vec3
	Compressed   bool
}

// Point is one record: resolved cartesian coordinates plus the remaining
// record bytes carried verbatim.
type Point struct {
	X, Y, Z float64
	Payload []byte
}

// recordLengths maps point data formats 0-3 to their standard record sizes.
var recordLengths = map[uint8]uint16{
	0: 20,
	1: 28,
	2: 26,
	3: 34,
}

// DefaultHeader returns a header for point data format 0 with millimetre
// quantization and an empty bounding box.
func DefaultHeader() Header {
	return Header{
		PointFormat:  0,
		RecordLength: recordLengths[0],
		Scale:        Vec3{X: 0.001, Y: 0.001, Z: 0.001},
	}
}

// Validate checks the header fields a reader or writer depends on.
func (h Header) Validate() error {
	if h.Scale.X <= 0 || h.Scale.Y <= 0 || h.Scale.Z <= 0 {
		return fmt.Errorf("las: non-positive coordinate scale %v", h.Scale)
	}
	if h.RecordLength < 12 {
		return fmt.Errorf("las: point record length %d shorter than coordinate block", h.RecordLength)
	}
	if want, ok := recordLengths[h.PointFormat]; ok && h.RecordLength < want {
		return fmt.Errorf("las: record length %d too short for point format %d (want >= %d)", h.RecordLength, h.PointFormat, want)
	}
	return nil
}

// PayloadLength is the number of record bytes after the coordinate block.
func (h Header) PayloadLength() int {
	return int(h.RecordLength) - 12
}

// CompressedPath reports whether a file path names the compressed container
// variant. The extension alone decides; there is no content sniffing.
func CompressedPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".laz")
}
