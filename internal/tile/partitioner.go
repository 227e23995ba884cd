package tile

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/banshee-data/lastile/internal/las"
)

// Session is the immutable configuration of one partitioning run. Construct
// it, call Run, discard it.
type Session struct {
	// InputPath names the source container. Required.
	InputPath string

	// OutputPath names the destination. Its extension decides whether the
	// output point-data section is compressed, independent of the input.
	OutputPath string

	// WorkDir holds spill segments for the duration of the run.
	WorkDir string

	// CellSize overrides the auto-estimated edge length when > 0.
	CellSize float64

	// Thin is the fraction of points to randomly discard, in [0,1).
	Thin float64

	// Seed fixes the thinning RNG. 0 seeds from the clock.
	Seed int64

	// FlushEvery overrides the global flush threshold. 0 selects the
	// default.
	FlushEvery uint64

	// Progress observes both phases. May be nil.
	Progress Progress
}

// Summary reports what a completed run did.
type Summary struct {
	CellSize    float64
	Estimated   bool
	TotalPoints uint64
	Stats       GridStats
	Tiles       []TileStat
	Elapsed     time.Duration
}

// Run drives the full pipeline: open input, settle the cell size, ingest
// into the grid, merge out in cell order, and commit the true retained count
// into the output header. The first failure in any step aborts the run;
// spill segments are cleaned up on every exit path, but a partially written
// output file is left as-is.
func (s Session) Run() (*Summary, error) {
	start := time.Now()

	if s.InputPath == "" {
		return nil, fmt.Errorf("tile: input path not set")
	}
	if s.OutputPath == "" {
		return nil, fmt.Errorf("tile: output path not set")
	}
	if s.Thin < 0 || s.Thin >= 1 {
		return nil, fmt.Errorf("tile: thinning fraction %v outside [0,1)", s.Thin)
	}

	src, err := las.OpenReader(s.InputPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	hdr := src.Header()

	edge := s.CellSize
	estimated := false
	if edge <= 0 {
		edge, err = EstimateCellSize(hdr, s.Thin)
		if err != nil {
			return nil, err
		}
		estimated = true
	}

	seed := s.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	grid, err := NewGrid(GridConfig{
		WorkDir:    s.WorkDir,
		Edge:       edge,
		FlushEvery: s.FlushEvery,
		Progress:   s.Progress,
		Rand:       rand.New(rand.NewSource(seed)),
	}, hdr)
	if err != nil {
		return nil, err
	}
	defer grid.Close()

	outHdr := hdr
	outHdr.PointCount = 0 // committed by Close once the true count is known
	outHdr.Compressed = las.CompressedPath(s.OutputPath)

	dst, err := las.NewWriter(s.OutputPath, outHdr)
	if err != nil {
		return nil, err
	}

	if err := grid.Ingest(src, s.Thin); err != nil {
		dst.Close()
		return nil, err
	}
	stats := grid.Stats()

	if err := grid.MergeOut(dst); err != nil {
		dst.Close()
		return nil, err
	}
	if dst.Count() != grid.Total() {
		dst.Close()
		return nil, fmt.Errorf("tile: wrote %d records for %d retained points", dst.Count(), grid.Total())
	}
	if err := dst.Close(); err != nil {
		return nil, err
	}

	return &Summary{
		CellSize:    edge,
		Estimated:   estimated,
		TotalPoints: grid.Total(),
		Stats:       stats,
		Tiles:       grid.Tiles(),
		Elapsed:     time.Since(start),
	}, nil
}
