// Command lastile rewrites a LAS point cloud so records are grouped by
// cubic grid cell, spilling to disk so inputs larger than memory still fit.
//
//	lastile [flags] <input.las|.laz> [output]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lastile/internal/monitoring"
	"github.com/banshee-data/lastile/internal/tile"
	"github.com/banshee-data/lastile/internal/tileindex"
	"github.com/banshee-data/lastile/internal/version"
)

// options is everything the command line can set.
type options struct {
	input       string
	output      string
	cellSize    float64
	thin        float64
	workDir     string
	indexPath   string
	seed        int64
	showVersion bool
}

// errUsage marks argument problems reported before any I/O happens.
var errUsage = errors.New("usage error")

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if opts.showVersion {
		fmt.Fprintf(stderr, "lastile %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return 0
	}

	session := tile.Session{
		InputPath:  opts.input,
		OutputPath: opts.output,
		WorkDir:    opts.workDir,
		CellSize:   opts.cellSize,
		Thin:       opts.thin,
		Seed:       opts.seed,
		Progress:   logProgress,
	}

	monitoring.Logf("input:  %s", opts.input)
	monitoring.Logf("output: %s", opts.output)

	summary, err := session.Run()
	if err != nil {
		fmt.Fprintf(stderr, "lastile: %v\n", err)
		return 1
	}
	report(summary, opts.thin)

	if opts.indexPath != "" {
		if err := writeIndex(opts, summary); err != nil {
			fmt.Fprintf(stderr, "lastile: %v\n", err)
			return 1
		}
		monitoring.Logf("tile index written to %s", opts.indexPath)
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("lastile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Float64Var(&opts.cellSize, "size", 0, "cell edge length (0 = estimate from the input header)")
	fs.Float64Var(&opts.cellSize, "s", 0, "shorthand for -size")
	fs.Float64Var(&opts.thin, "thin", 0, "fraction of points to randomly discard, in [0,1)")
	fs.Float64Var(&opts.thin, "t", 0, "shorthand for -thin")
	fs.StringVar(&opts.workDir, "work-dir", "temp", "directory for spill segments")
	fs.StringVar(&opts.workDir, "w", "temp", "shorthand for -work-dir")
	fs.StringVar(&opts.indexPath, "index", "", "write a SQLite tile index to this path")
	fs.Int64Var(&opts.seed, "seed", 0, "thinning RNG seed (0 = time-based)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: lastile [flags] <input.las|.laz> [output]\n\n")
		fmt.Fprintf(stderr, "Reorders a point cloud so records are contiguous per spatial cell.\n")
		fmt.Fprintf(stderr, "Default output is sorted.<input extension> in the current directory.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.showVersion {
		return opts, nil
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return options{}, fmt.Errorf("%w: input file is required", errUsage)
	}
	if fs.NArg() > 2 {
		fs.Usage()
		return options{}, fmt.Errorf("%w: too many positional arguments", errUsage)
	}
	opts.input = fs.Arg(0)
	if fs.NArg() == 2 {
		opts.output = fs.Arg(1)
	} else {
		opts.output = defaultOutput(opts.input)
	}

	if opts.thin < 0 || opts.thin >= 1 {
		return options{}, fmt.Errorf("%w: -thin %v must be in [0,1)", errUsage, opts.thin)
	}
	if opts.cellSize < 0 {
		return options{}, fmt.Errorf("%w: -size %v must not be negative", errUsage, opts.cellSize)
	}
	return opts, nil
}

// defaultOutput names the destination after the input's extension, falling
// back to .las when the input has none.
func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	if ext == "" {
		ext = ".las"
	}
	return "sorted" + ext
}

// logProgress prints phase percentages through the monitoring logger.
func logProgress(phase string, done, total uint64) {
	if total == 0 {
		monitoring.Logf("%s: %s points", phase, formatCount(done))
		return
	}
	pct := float64(done) / float64(total) * 100
	monitoring.Logf("%s: %3.0f%% (%s of %s points)", phase, pct, formatCount(done), formatCount(total))
}

func report(s *tile.Summary, thin float64) {
	sizing := "requested"
	if s.Estimated {
		sizing = "estimated"
	}
	monitoring.Logf("cell size: %.3f (%s)", s.CellSize, sizing)
	if thin > 0 {
		monitoring.Logf("thinning: %.0f%% discard target", thin*100)
	}
	monitoring.Logf("points retained: %s across %d tiles", formatCount(s.TotalPoints), s.Stats.Buckets)
	monitoring.Logf("tile occupancy: mean %.0f, stddev %.0f points", s.Stats.MeanPerBucket, s.Stats.StddevPerBucket)
	if s.Stats.Segments > 0 {
		monitoring.Logf("spill: %d segments, mean %s", s.Stats.Segments, formatBytes(int64(s.Stats.MeanSegmentSize)))
	}
	monitoring.Logf("elapsed: %s", s.Elapsed.Round(time.Millisecond))
}

func writeIndex(opts options, s *tile.Summary) error {
	db, err := tileindex.Open(opts.indexPath)
	if err != nil {
		return err
	}
	defer db.Close()

	tiles := make([]tileindex.TileRecord, 0, len(s.Tiles))
	for _, t := range s.Tiles {
		tiles = append(tiles, tileindex.TileRecord{
			I: t.Key.I, J: t.Key.J, K: t.Key.K,
			PointCount: t.Count,
		})
	}
	_, err = db.RecordRun(tileindex.RunRecord{
		InputPath:    opts.input,
		OutputPath:   opts.output,
		CellSize:     s.CellSize,
		CellSizeAuto: s.Estimated,
		ThinFraction: opts.thin,
		TotalPoints:  s.TotalPoints,
		TileCount:    len(tiles),
		ElapsedSecs:  s.Elapsed.Seconds(),
	}, tiles)
	return err
}

// formatCount renders a number with thousands separators.
func formatCount(n uint64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}

// formatBytes renders a byte count in human-readable units.
func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
