package tile

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/lastile/internal/las"
)

// writeCloud writes pts to a LAS file and returns its path.
func writeCloud(t *testing.T, dir, name string, pts []las.Point) string {
	t.Helper()
	path := filepath.Join(dir, name)
	hdr := segmentHeader()
	hdr.Compressed = las.CompressedPath(path)
	w, err := las.NewWriter(path, hdr)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, p := range pts {
		if err := w.WritePoint(p); err != nil {
			t.Fatalf("WritePoint: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func ingestCloud(t *testing.T, g *Grid, path string, thin float64) {
	t.Helper()
	r, err := las.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if err := g.Ingest(r, thin); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
}

func TestGridGroupsAndOrders(t *testing.T) {
	dir := t.TempDir()

	// The two cell-(0,0,0) points must come out first, in arrival order,
	// followed by the cell-(1,0,0) point.
	src := writeCloud(t, dir, "in.las", []las.Point{
		taggedPoint(0.5, 0.5, 0.5, 0),
		taggedPoint(0.2, 0.2, 0.2, 1),
		taggedPoint(1.5, 0.5, 0.5, 2),
	})

	work := filepath.Join(dir, "work")
	g, err := NewGrid(GridConfig{WorkDir: work, Edge: 1.0}, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	ingestCloud(t, g, src, 0)
	if g.Total() != 3 {
		t.Fatalf("total = %d, want 3", g.Total())
	}
	if g.BucketCount() != 2 {
		t.Fatalf("buckets = %d, want 2", g.BucketCount())
	}

	out := filepath.Join(dir, "out.las")
	w, err := las.NewWriter(out, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	if err := g.MergeOut(w); err != nil {
		t.Fatalf("MergeOut: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	tags := payloadTags(drainOutput(t, out))
	if len(tags) != 3 || tags[0] != 0 || tags[1] != 1 || tags[2] != 2 {
		t.Errorf("output order = %v, want [0 1 2]", tags)
	}
}

func TestGridSpillsAtThreshold(t *testing.T) {
	dir := t.TempDir()

	// 10 points in one cell with a flush threshold of 3 forces three spill
	// cycles with one point left buffered.
	pts := make([]las.Point, 10)
	for i := range pts {
		pts[i] = taggedPoint(0.5, 0.5, 0.5, byte(i))
	}
	src := writeCloud(t, dir, "in.las", pts)

	var flushes int
	work := filepath.Join(dir, "work")
	g, err := NewGrid(GridConfig{
		WorkDir:    work,
		Edge:       1.0,
		FlushEvery: 3,
		Progress: func(phase string, done, total uint64) {
			if phase == PhaseIngest {
				flushes++
				if done%3 != 0 {
					t.Errorf("ingest progress at %d, not a threshold multiple", done)
				}
			}
		},
	}, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	ingestCloud(t, g, src, 0)

	if flushes != 3 {
		t.Errorf("flush cycles = %d, want 3", flushes)
	}
	stats := g.Stats()
	if stats.Segments != 3 {
		t.Errorf("segments = %d, want 3", stats.Segments)
	}
	if stats.Buckets != 1 {
		t.Errorf("buckets = %d, want 1", stats.Buckets)
	}

	// All ten points still come out in arrival order.
	out := filepath.Join(dir, "out.las")
	w, err := las.NewWriter(out, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	if err := g.MergeOut(w); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	tags := payloadTags(drainOutput(t, out))
	for i, tag := range tags {
		if tag != byte(i) {
			t.Fatalf("output order = %v", tags)
		}
	}
}

func TestGridMergeOrdersKeys(t *testing.T) {
	dir := t.TempDir()

	// Points scattered across cells, deliberately out of key order.
	src := writeCloud(t, dir, "in.las", []las.Point{
		taggedPoint(2.5, 0.5, 0.5, 2),  // (2,0,0)
		taggedPoint(-0.5, 0.5, 0.5, 0), // (-1,0,0)
		taggedPoint(0.5, 1.5, 0.5, 1),  // (0,1,0)
	})

	g, err := NewGrid(GridConfig{WorkDir: filepath.Join(dir, "work"), Edge: 1.0}, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	ingestCloud(t, g, src, 0)

	out := filepath.Join(dir, "out.las")
	w, err := las.NewWriter(out, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	if err := g.MergeOut(w); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	tags := payloadTags(drainOutput(t, out))
	if len(tags) != 3 || tags[0] != 0 || tags[1] != 1 || tags[2] != 2 {
		t.Errorf("merge order = %v, want ascending cell order [0 1 2]", tags)
	}
}

func TestGridThinning(t *testing.T) {
	dir := t.TempDir()
	pts := make([]las.Point, 1000)
	for i := range pts {
		pts[i] = taggedPoint(float64(i%7)+0.5, 0.5, 0.5, byte(i))
	}
	src := writeCloud(t, dir, "in.las", pts)

	g, err := NewGrid(GridConfig{
		WorkDir: filepath.Join(dir, "work"),
		Edge:    1.0,
		Rand:    rand.New(rand.NewSource(42)),
	}, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	ingestCloud(t, g, src, 0.5)

	got := g.Total()
	if got == 0 || got == 1000 {
		t.Errorf("thinned total = %d, expected strictly between 0 and 1000", got)
	}
	// Seeded run should land near the 50% expectation.
	if got < 350 || got > 650 {
		t.Errorf("thinned total = %d, implausibly far from 500", got)
	}
}

func TestGridThinningZeroIsExact(t *testing.T) {
	dir := t.TempDir()
	pts := make([]las.Point, 100)
	for i := range pts {
		pts[i] = taggedPoint(float64(i)*0.1, 0.5, 0.5, byte(i))
	}
	src := writeCloud(t, dir, "in.las", pts)

	g, err := NewGrid(GridConfig{WorkDir: filepath.Join(dir, "work"), Edge: 1.0}, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	ingestCloud(t, g, src, 0)

	if g.Total() != 100 {
		t.Errorf("total = %d, want exactly 100 with no thinning", g.Total())
	}
}

func TestGridRejectsBadConfig(t *testing.T) {
	if _, err := NewGrid(GridConfig{WorkDir: t.TempDir(), Edge: 0}, segmentHeader()); err == nil {
		t.Error("zero edge accepted")
	}
	if _, err := NewGrid(GridConfig{Edge: 1}, segmentHeader()); err == nil {
		t.Error("empty work dir accepted")
	}
}

func TestGridCloseRemovesCreatedWorkDir(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")

	g, err := NewGrid(GridConfig{WorkDir: work, Edge: 1.0, FlushEvery: 1}, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	src := writeCloud(t, dir, "in.las", []las.Point{taggedPoint(0.5, 0.5, 0.5, 0)})
	ingestCloud(t, g, src, 0)

	// Segments exist; Close must remove them and the directory it created.
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(work); !os.IsNotExist(err) {
		t.Errorf("created work dir still exists after Close")
	}
}

func TestGridClosePreservesExistingWorkDir(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	keeper := filepath.Join(work, "keep.txt")
	if err := os.WriteFile(keeper, []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := NewGrid(GridConfig{WorkDir: work, Edge: 1.0, FlushEvery: 1}, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	src := writeCloud(t, dir, "in.las", []las.Point{taggedPoint(0.5, 0.5, 0.5, 0)})
	ingestCloud(t, g, src, 0)
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(work); err != nil {
		t.Errorf("pre-existing work dir was removed")
	}
	if _, err := os.Stat(keeper); err != nil {
		t.Errorf("caller's file was removed from pre-existing work dir")
	}
	entries, err := os.ReadDir(work)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("run's segments survived Close: %d entries", len(entries))
	}
}

func TestGridTotalMatchesBucketSum(t *testing.T) {
	dir := t.TempDir()
	pts := make([]las.Point, 200)
	for i := range pts {
		pts[i] = taggedPoint(float64(i%13)-6, float64(i%5), 0.5, byte(i))
	}
	src := writeCloud(t, dir, "in.las", pts)

	g, err := NewGrid(GridConfig{WorkDir: filepath.Join(dir, "work"), Edge: 2.0, FlushEvery: 17}, segmentHeader())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	ingestCloud(t, g, src, 0)

	var sum uint64
	for _, ts := range g.Tiles() {
		sum += ts.Count
	}
	if sum != g.Total() {
		t.Errorf("sum of bucket counts %d != grid total %d", sum, g.Total())
	}
	if g.Total() != 200 {
		t.Errorf("total = %d, want 200", g.Total())
	}
}
