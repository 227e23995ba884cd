package tile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/banshee-data/lastile/internal/las"
)

// segment is one disk-spilled batch of a bucket's points. Segments are
// written once at flush time and never reopened for append, because the
// container commits its record count when the file is finalized.
type segment struct {
	path  string
	count uint64
}

// Bucket buffers the points of one grid cell and spills them to disk
// segments. At all times count == sum(segment counts) + len(buffer), and
// replay returns points in their original arrival order: segments in
// creation order, then whatever is still buffered.
type Bucket struct {
	key      CellKey
	dir      string
	hdr      las.Header
	buffer   []las.Point
	segments []segment
	count    uint64
	replayed bool
}

// newBucket prepares an empty bucket spilling under dir. Segment files use
// the supplied header template with compression forced off; re-compressing
// transient data would cost more than the disk it saves.
func newBucket(key CellKey, dir string, hdr las.Header) *Bucket {
	hdr.Compressed = false
	hdr.PointCount = 0
	return &Bucket{key: key, dir: dir, hdr: hdr}
}

// Key returns the cell this bucket belongs to.
func (b *Bucket) Key() CellKey {
	return b.key
}

// Add appends a point to the in-memory buffer. No I/O happens here.
func (b *Bucket) Add(p las.Point) {
	b.buffer = append(b.buffer, p)
	b.count++
}

// Count is the total number of points routed to this bucket, buffered or
// spilled.
func (b *Bucket) Count() uint64 {
	return b.count
}

// Buffered is the number of points currently held in memory.
func (b *Bucket) Buffered() int {
	return len(b.buffer)
}

// Flush spills the in-memory buffer to a fresh segment file. A bucket with
// an empty buffer flushes to nothing.
func (b *Bucket) Flush() error {
	if len(b.buffer) == 0 {
		return nil
	}
	path := filepath.Join(b.dir, fmt.Sprintf("seg-%s.las", uuid.NewString()))
	w, err := las.NewWriter(path, b.hdr)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", b.key, err)
	}
	for _, p := range b.buffer {
		if err := w.WritePoint(p); err != nil {
			w.Close()
			os.Remove(path)
			return fmt.Errorf("bucket %s: spill: %w", b.key, err)
		}
	}
	if err := w.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("bucket %s: finalize segment: %w", b.key, err)
	}

	b.segments = append(b.segments, segment{path: path, count: w.Count()})
	b.buffer = b.buffer[:0]
	return nil
}

// Replay streams the bucket's points into dst: each segment in creation
// order, then the remaining buffer. Segment files are deleted as soon as
// they have been copied, so disk usage shrinks as the merge advances.
// A bucket can be replayed once per run.
func (b *Bucket) Replay(dst *las.Writer) error {
	if b.replayed {
		return fmt.Errorf("bucket %s: already replayed", b.key)
	}
	b.replayed = true

	for len(b.segments) > 0 {
		seg := b.segments[0]
		if err := b.replaySegment(seg, dst); err != nil {
			return err
		}
		os.Remove(seg.path)
		b.segments = b.segments[1:]
	}

	for _, p := range b.buffer {
		if err := dst.WritePoint(p); err != nil {
			return fmt.Errorf("bucket %s: %w", b.key, err)
		}
	}
	b.buffer = nil
	return nil
}

func (b *Bucket) replaySegment(seg segment, dst *las.Writer) error {
	r, err := las.OpenReader(seg.path)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", b.key, err)
	}
	defer r.Close()

	var copied uint64
	for {
		p, err := r.ReadPoint()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("bucket %s: %w", b.key, err)
		}
		if err := dst.WritePoint(p); err != nil {
			return fmt.Errorf("bucket %s: %w", b.key, err)
		}
		copied++
	}
	if copied != seg.count {
		return fmt.Errorf("bucket %s: segment %s replayed %d of %d records", b.key, filepath.Base(seg.path), copied, seg.count)
	}
	return nil
}

// DiskFootprint sums the current on-disk size of the bucket's segments.
// Diagnostics only.
func (b *Bucket) DiskFootprint() int64 {
	var total int64
	for _, seg := range b.segments {
		if fi, err := os.Stat(seg.path); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// Segments reports how many spill files the bucket currently holds.
func (b *Bucket) Segments() int {
	return len(b.segments)
}

// discard removes any segment files that were not consumed by Replay.
// Used on teardown; removal failures are reported but not fatal.
func (b *Bucket) discard() error {
	var firstErr error
	for _, seg := range b.segments {
		if err := os.Remove(seg.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	b.segments = nil
	b.buffer = nil
	return firstErr
}
