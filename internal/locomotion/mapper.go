package locomotion

import (
	"math"
	"strings"
)

// Frame is one playback sample expressed in the walking frame.
type Frame struct {
	Index   int
	T       float64
	Forward float64
	Lateral float64

	// Swing is the foot in the air during a hold phase, FootNone otherwise.
	Swing     Foot
	SwingLift float64
}

// JointMapper turns a frame into one angle, in degrees, per joint of the
// group the walk drives.
type JointMapper interface {
	Map(f Frame) []float64
}

// SwayMapper leans the pelvis over the ZMP: hip roll follows the lateral
// offset and ankle roll compensates so the soles stay flat. Every other joint
// holds its base angle.
type SwayMapper struct {
	names        []string
	base         []float64
	pelvisHeight float64
}

// NewSwayMapper maps onto the joints in names, in that order. base supplies
// the resting angles; a base of the wrong length is treated as all zero.
func NewSwayMapper(names []string, base []float64, pelvisHeight float64) *SwayMapper {
	b := make([]float64, len(names))
	if len(base) == len(names) {
		copy(b, base)
	}
	return &SwayMapper{names: append([]string(nil), names...), base: b, pelvisHeight: pelvisHeight}
}

// Roll is the sway angle in degrees for a lateral ZMP offset.
func (m *SwayMapper) Roll(lateral float64) float64 {
	if m.pelvisHeight <= 0 {
		return 0
	}
	return math.Atan(lateral/m.pelvisHeight) * 180 / math.Pi
}

func (m *SwayMapper) Map(f Frame) []float64 {
	roll := m.Roll(f.Lateral)
	out := append([]float64(nil), m.base...)
	for i, name := range m.names {
		switch {
		case strings.HasSuffix(name, "HIP_ROLL"):
			out[i] += roll
		case strings.HasSuffix(name, "ANKLE_ROLL"):
			out[i] -= roll
		}
	}
	return out
}
