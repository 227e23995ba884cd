package tile

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/lastile/internal/las"
)

// targetCellPoints is the density the auto-estimate aims for: one cell sized
// to hold about this many points if the cloud filled its bounding box evenly.
const targetCellPoints = 2_000_000

// MinCellSize floors the auto-estimate so that near-degenerate bounding
// boxes cannot produce an unusably small (or zero) edge length. An explicit
// --size override is not clamped.
const MinCellSize = 0.001

// ErrCannotEstimate is returned when the header gives nothing to estimate
// from: an empty retained count or a collapsed bounding box.
var ErrCannotEstimate = errors.New("cannot estimate cell size")

// EstimateCellSize derives a cell edge length from the header's bounding box
// and declared count, assuming uniform spatial density. thin reduces the
// expected retained count before solving for the edge of a cube holding
// targetCellPoints.
func EstimateCellSize(hdr las.Header, thin float64) (float64, error) {
	retained := float64(hdr.PointCount) * (1 - thin)
	if retained < 1 {
		return 0, fmt.Errorf("%w: retained point estimate %.0f", ErrCannotEstimate, retained)
	}

	volume := (hdr.Max.X - hdr.Min.X) * (hdr.Max.Y - hdr.Min.Y) * (hdr.Max.Z - hdr.Min.Z)
	if volume <= 0 || math.IsInf(volume, 0) || math.IsNaN(volume) {
		return 0, fmt.Errorf("%w: bounding box volume %v", ErrCannotEstimate, volume)
	}

	edge := math.Cbrt(volume / retained * targetCellPoints)
	if math.IsInf(edge, 0) || math.IsNaN(edge) {
		return 0, fmt.Errorf("%w: non-finite edge from volume %v and %.0f points", ErrCannotEstimate, volume, retained)
	}
	if edge < MinCellSize {
		edge = MinCellSize
	}
	return edge, nil
}
