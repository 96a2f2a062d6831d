package trajectory

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// TransferRatio is the share of a step period spent moving the ZMP from one
// support foot to the other.
const TransferRatio = 0.2

var (
	ErrIncrement  = errors.New("increment must be in (0, 1]")
	ErrUnbalanced = errors.New("left and right placements differ by more than one step")
	ErrTiming     = errors.New("sample interval must be positive and shorter than the transfer phase")
)

func waypoints(a, d r2.Point, left, right []r2.Point) ([]r2.Point, error) {
	if diff := len(left) - len(right); diff > 1 || diff < -1 {
		return nil, fmt.Errorf("%w: %d left, %d right", ErrUnbalanced, len(left), len(right))
	}
	return AppendRows([]r2.Point{a}, Interleave(left, right), []r2.Point{d}), nil
}

// SpatialZMP joins a, the alternating left/right placements and d with
// straight segments sampled at increment. The path starts at a and ends
// exactly at d.
func SpatialZMP(a, d r2.Point, left, right []r2.Point, increment float64) ([]r2.Point, error) {
	if increment <= 0 || increment > 1 {
		return nil, ErrIncrement
	}
	wps, err := waypoints(a, d, left, right)
	if err != nil {
		return nil, err
	}

	segments := make([][]r2.Point, 0, len(wps))
	for i := 0; i+1 < len(wps); i++ {
		segments = append(segments, Linear(wps[i], wps[i+1], increment, 0))
	}
	segments = append(segments, []r2.Point{d})
	return AppendRows(segments...), nil
}

// TemporalZMP plays the spatial path back in time. Starting at (a, 0), each
// move to the next waypoint takes TransferRatio·stepPeriod sampled every
// sampleInterval, then the ZMP holds on the waypoint for stepPeriod. Samples
// are spaced sampleInterval apart and the last one sits on d.
func TemporalZMP(a, d r2.Point, left, right []r2.Point, stepPeriod, sampleInterval float64) ([]Sample, error) {
	ts := TransferRatio * stepPeriod
	if stepPeriod <= 0 || sampleInterval <= 0 || sampleInterval >= ts {
		return nil, ErrTiming
	}
	wps, err := waypoints(a, d, left, right)
	if err != nil {
		return nil, err
	}

	_, hold := PhaseLengths(stepPeriod, sampleInterval)
	points := []r2.Point{a}
	for i := 0; i+1 < len(wps); i++ {
		points = append(points, Linear(wps[i], wps[i+1], sampleInterval/ts, 1)...)
		for k := 0; k < hold; k++ {
			points = append(points, wps[i+1])
		}
	}
	return AppendColumns(points, 0, sampleInterval), nil
}

// PhaseLengths returns how many samples TemporalZMP emits for each transfer
// and each hold phase.
func PhaseLengths(stepPeriod, sampleInterval float64) (transfer, hold int) {
	ts := TransferRatio * stepPeriod
	return sampleCount(sampleInterval/ts, 1), int(math.Floor(stepPeriod/sampleInterval + 1e-9))
}

// Duration is the playback time of a temporal trajectory.
func Duration(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	return samples[len(samples)-1].T
}
