package tile

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lastile/internal/las"
)

// DefaultFlushEvery is the number of source records between global flushes.
// Flushing every bucket at once bounds buffered memory to one interval's
// worth of points across the whole grid, however many cells exist.
const DefaultFlushEvery = 1_000_000

// Phase names passed to Progress callbacks.
const (
	PhaseIngest = "ingest"
	PhaseMerge  = "merge"
)

// Progress observes the pipeline at fixed record-count intervals. done and
// total are record counts for the named phase; total may be 0 when the
// source header declared nothing useful. Callbacks run synchronously on the
// driving goroutine and should return quickly.
type Progress func(phase string, done, total uint64)

// GridConfig carries the knobs for one Grid. Zero values select defaults.
type GridConfig struct {
	// WorkDir holds spill segments. Created if absent; removed on Close
	// only when this run created it.
	WorkDir string

	// Edge is the cell edge length. Required, > 0.
	Edge float64

	// FlushEvery overrides DefaultFlushEvery. Values < 1 select the default.
	FlushEvery uint64

	// Progress is invoked at flush intervals during ingest and after each
	// bucket during merge. May be nil.
	Progress Progress

	// Rand drives thinning decisions. Defaults to the global source.
	Rand *rand.Rand
}

// Grid owns every bucket of one partitioning run plus the working directory
// their segments spill into. It is driven strictly sequentially: Ingest
// completes before MergeOut starts, and no locking is needed.
type Grid struct {
	cfg        GridConfig
	hdr        las.Header
	buckets    map[CellKey]*Bucket
	total      uint64
	createdDir bool
	closed     bool
}

// NewGrid creates the working directory if needed and returns an empty grid.
// hdr is the segment header template (scale, offset, record format).
func NewGrid(cfg GridConfig, hdr las.Header) (*Grid, error) {
	if cfg.Edge <= 0 {
		return nil, fmt.Errorf("tile: cell edge length %v must be positive", cfg.Edge)
	}
	if cfg.FlushEvery < 1 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("tile: working directory not set")
	}

	createdDir := false
	if _, err := os.Stat(cfg.WorkDir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("tile: create work dir: %w", err)
		}
		createdDir = true
	} else if err != nil {
		return nil, fmt.Errorf("tile: stat work dir: %w", err)
	}

	return &Grid{
		cfg:        cfg,
		hdr:        hdr,
		buckets:    make(map[CellKey]*Bucket),
		createdDir: createdDir,
	}, nil
}

// Edge returns the configured cell edge length.
func (g *Grid) Edge() float64 {
	return g.cfg.Edge
}

// Total is the number of points retained so far (thinned points are never
// counted). It equals the sum of all bucket counts and, after a full run,
// the output record count.
func (g *Grid) Total() uint64 {
	return g.total
}

// BucketCount reports how many distinct cells have received points.
func (g *Grid) BucketCount() int {
	return len(g.buckets)
}

// Ingest streams every record from src into the grid. With thin > 0 each
// point is dropped with that probability before routing. Every FlushEvery
// source records all buckets spill to disk, which is what keeps memory
// bounded regardless of how the points distribute across cells.
func (g *Grid) Ingest(src *las.Reader, thin float64) error {
	if thin < 0 || thin >= 1 {
		return fmt.Errorf("tile: thinning fraction %v outside [0,1)", thin)
	}
	rng := g.cfg.Rand
	declared := uint64(src.Header().PointCount)

	var read uint64
	for {
		p, err := src.ReadPoint()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tile: ingest: %w", err)
		}
		read++

		keep := true
		if thin > 0 {
			if rng != nil {
				keep = rng.Float64() >= thin
			} else {
				keep = rand.Float64() >= thin
			}
		}
		if keep {
			g.route(p)
		}

		if read%g.cfg.FlushEvery == 0 {
			if err := g.FlushAll(); err != nil {
				return err
			}
			if g.cfg.Progress != nil {
				g.cfg.Progress(PhaseIngest, read, declared)
			}
		}
	}
	return nil
}

func (g *Grid) route(p las.Point) {
	key := KeyOf(p.X, p.Y, p.Z, g.cfg.Edge)
	b := g.buckets[key]
	if b == nil {
		b = newBucket(key, g.cfg.WorkDir, g.hdr)
		g.buckets[key] = b
	}
	b.Add(p)
	g.total++
}

// FlushAll spills every bucket's buffer, empty buckets included (they spill
// to nothing).
func (g *Grid) FlushAll() error {
	for _, b := range g.buckets {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// sortedKeys materializes the bucket-map keys in ascending cell order. The
// map itself is unordered; the total order only matters here, at merge time.
func (g *Grid) sortedKeys() []CellKey {
	keys := make([]CellKey, 0, len(g.buckets))
	for k := range g.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// MergeOut replays every bucket into dst in ascending cell order, one
// forward pass. Segment files are deleted as they are consumed. Any I/O
// error aborts the merge and propagates; partially written output is left
// for the caller to deal with.
func (g *Grid) MergeOut(dst *las.Writer) error {
	var done uint64
	for _, key := range g.sortedKeys() {
		b := g.buckets[key]
		if err := b.Replay(dst); err != nil {
			return err
		}
		done += b.Count()
		if g.cfg.Progress != nil {
			g.cfg.Progress(PhaseMerge, done, g.total)
		}
	}
	if done != g.total {
		return fmt.Errorf("tile: merged %d of %d retained points", done, g.total)
	}
	return nil
}

// TileStat describes one cell after a run: its key and how many points it
// received.
type TileStat struct {
	Key   CellKey
	Count uint64
}

// Tiles lists every bucket in ascending cell order with its point count.
// Valid at any time; typically read after MergeOut for reporting.
func (g *Grid) Tiles() []TileStat {
	keys := g.sortedKeys()
	tiles := make([]TileStat, 0, len(keys))
	for _, k := range keys {
		tiles = append(tiles, TileStat{Key: k, Count: g.buckets[k].Count()})
	}
	return tiles
}

// GridStats summarizes the bucket distribution for operator reporting.
// Nothing downstream depends on these numbers.
type GridStats struct {
	Buckets         int
	Segments        int
	MeanPerBucket   float64
	StddevPerBucket float64
	MeanSegmentSize float64
	DiskBytes       int64
}

// Stats computes the bucket-distribution summary. Call after Ingest; the
// segment figures reflect whatever is still on disk at the time.
func (g *Grid) Stats() GridStats {
	s := GridStats{Buckets: len(g.buckets)}
	if s.Buckets == 0 {
		return s
	}
	counts := make([]float64, 0, len(g.buckets))
	for _, b := range g.buckets {
		counts = append(counts, float64(b.Count()))
		s.Segments += b.Segments()
		s.DiskBytes += b.DiskFootprint()
	}
	s.MeanPerBucket = stat.Mean(counts, nil)
	if len(counts) > 1 {
		s.StddevPerBucket = stat.StdDev(counts, nil)
	}
	if s.Segments > 0 {
		s.MeanSegmentSize = float64(s.DiskBytes) / float64(s.Segments)
	}
	return s
}

// Close removes any segment files that were not consumed by MergeOut and,
// when this run created the working directory, the directory itself. It is
// the deferred-cleanup path and runs on both normal and error exits.
func (g *Grid) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true

	var firstErr error
	for _, b := range g.buckets {
		if err := b.discard(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.createdDir {
		// Remove, not RemoveAll: if something else put files in the
		// directory since we created it, leave it standing.
		if err := os.Remove(g.cfg.WorkDir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
