package las

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Writer emits a LAS file record by record. The header is written up front
// with whatever count the caller supplied; Close patches the true written
// count back into the header, so the persisted count is always accurate even
// when the caller could not know it in advance.
type Writer struct {
	f       *os.File
	bw      *bufio.Writer
	ze      *zstd.Encoder
	hdr     Header
	record  []byte
	written uint64
	closed  bool
}

// NewWriter creates or truncates path and writes the header. The header's
// Compressed flag decides the point-data encoding; callers deriving it from
// the destination name use CompressedPath.
func NewWriter(path string, hdr Header) (*Writer, error) {
	if err := hdr.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("las: create %s: %w", path, err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	if _, err := bw.Write(encodeHeader(hdr)); err != nil {
		f.Close()
		return nil, fmt.Errorf("las: write header: %w", err)
	}

	w := &Writer{
		f:      f,
		bw:     bw,
		hdr:    hdr,
		record: make([]byte, hdr.RecordLength),
	}
	if hdr.Compressed {
		ze, err := zstd.NewWriter(bw)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("las: zstd writer: %w", err)
		}
		w.ze = ze
	}
	return w, nil
}

// Header returns the header the writer was created with.
func (w *Writer) Header() Header {
	return w.hdr
}

// WritePoint quantizes the coordinates onto the header's scale/offset lattice
// and appends one record. The payload must match the header's record length.
func (w *Writer) WritePoint(p Point) error {
	if w.closed {
		return fmt.Errorf("las: write after close")
	}
	if len(p.Payload) != w.hdr.PayloadLength() {
		return fmt.Errorf("las: payload length %d, record format wants %d", len(p.Payload), w.hdr.PayloadLength())
	}

	binary.LittleEndian.PutUint32(w.record[0:], uint32(quantize(p.X, w.hdr.Offset.X, w.hdr.Scale.X)))
	binary.LittleEndian.PutUint32(w.record[4:], uint32(quantize(p.Y, w.hdr.Offset.Y, w.hdr.Scale.Y)))
	binary.LittleEndian.PutUint32(w.record[8:], uint32(quantize(p.Z, w.hdr.Offset.Z, w.hdr.Scale.Z)))
	copy(w.record[12:], p.Payload)

	var err error
	if w.ze != nil {
		_, err = w.ze.Write(w.record)
	} else {
		_, err = w.bw.Write(w.record)
	}
	if err != nil {
		return fmt.Errorf("las: write record %d: %w", w.written, err)
	}
	w.written++
	return nil
}

func quantize(v, offset, scale float64) int32 {
	return int32(math.Round((v - offset) / scale))
}

// Count reports how many records have been written so far.
func (w *Writer) Count() uint64 {
	return w.written
}

// Close flushes the point-data section, commits the true record count into
// the header, and closes the file. It is safe to call only once.
func (w *Writer) Close() error {
	if w.closed {
		return fmt.Errorf("las: writer already closed")
	}
	w.closed = true

	if w.ze != nil {
		if err := w.ze.Close(); err != nil {
			w.f.Close()
			return fmt.Errorf("las: finish zstd stream: %w", err)
		}
	}
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("las: flush: %w", err)
	}

	if w.written > math.MaxUint32 {
		w.f.Close()
		return fmt.Errorf("las: %d records exceed the container's 32-bit count", w.written)
	}
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(w.written))
	if _, err := w.f.WriteAt(count[:], pointCountOffset); err != nil {
		w.f.Close()
		return fmt.Errorf("las: patch record count: %w", err)
	}

	if err := w.f.Close(); err != nil {
		return fmt.Errorf("las: close: %w", err)
	}
	return nil
}
