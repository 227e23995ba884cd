package las

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Reader streams point records from a LAS file, forward-only. The declared
// header count is advisory; ReadPoint returns io.EOF at the true end of the
// point-data section.
type Reader struct {
	f      *os.File
	zd     *zstd.Decoder
	src    io.Reader
	hdr    Header
	record []byte
	read   uint64
}

// OpenReader opens path for sequential reading. Whether the point-data
// section is zstd-compressed is decided by the file extension.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("las: open %s: %w", path, err)
	}
	r, err := newReader(f, CompressedPath(path))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("las: %s: %w", path, err)
	}
	r.f = f
	return r, nil
}

// NewReader reads a LAS stream from r. The caller keeps ownership of r.
func NewReader(r io.Reader, compressed bool) (*Reader, error) {
	return newReader(r, compressed)
}

func newReader(r io.Reader, compressed bool) (*Reader, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	hdr, pointOffset, err := decodeHeader(br)
	if err != nil {
		return nil, err
	}
	if skip := int64(pointOffset) - HeaderSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, br, skip); err != nil {
			return nil, fmt.Errorf("las: skipping to point data: %w", err)
		}
	}
	hdr.Compressed = compressed

	rd := &Reader{
		hdr:    hdr,
		src:    br,
		record: make([]byte, hdr.RecordLength),
	}
	if compressed {
		zd, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("las: zstd reader: %w", err)
		}
		rd.zd = zd
		rd.src = zd
	}
	return rd, nil
}

// Header returns the container metadata parsed at open time.
func (r *Reader) Header() Header {
	return r.hdr
}

// ReadPoint returns the next record, or io.EOF once the point-data section is
// exhausted. The returned payload slice is owned by the caller.
func (r *Reader) ReadPoint() (Point, error) {
	if _, err := io.ReadFull(r.src, r.record); err != nil {
		if err == io.EOF {
			return Point{}, io.EOF
		}
		return Point{}, fmt.Errorf("las: record %d: %w", r.read, err)
	}
	r.read++

	ix := int32(binary.LittleEndian.Uint32(r.record[0:]))
	iy := int32(binary.LittleEndian.Uint32(r.record[4:]))
	iz := int32(binary.LittleEndian.Uint32(r.record[8:]))

	payload := make([]byte, len(r.record)-12)
	copy(payload, r.record[12:])

	return Point{
		X:       float64(ix)*r.hdr.Scale.X + r.hdr.Offset.X,
		Y:       float64(iy)*r.hdr.Scale.Y + r.hdr.Offset.Y,
		Z:       float64(iz)*r.hdr.Scale.Z + r.hdr.Offset.Z,
		Payload: payload,
	}, nil
}

// RecordsRead reports how many records have been returned so far.
func (r *Reader) RecordsRead() uint64 {
	return r.read
}

// Close releases the decoder and, when the reader owns the file, the file.
func (r *Reader) Close() error {
	if r.zd != nil {
		r.zd.Close()
		r.zd = nil
	}
	if r.f != nil {
		err := r.f.Close()
		r.f = nil
		return err
	}
	return nil
}
