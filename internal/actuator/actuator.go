// Package actuator owns the robot's joint servos: calibration, conversion
// between joint angles and raw servo units, and grouped read, write and
// torque operations over the hardware link.
package actuator

import (
	"math"

	"biped/pkg/types"
)

// DegreesPerUnit is the angular resolution of one raw servo unit.
const DegreesPerUnit = 0.325

// Actuator is the calibration of one joint. Raw values sent to or derived
// from the servo always lie in [Min, Max].
type Actuator struct {
	Name   string
	ID     int
	Offset int
	Min    int
	Max    int
	// Speed is advisory and not enforced here.
	Speed int
}

func New(cfg types.ActuatorConfig) Actuator {
	return Actuator{
		Name:   cfg.Name,
		ID:     cfg.ID,
		Offset: cfg.Offset,
		Min:    cfg.Min,
		Max:    cfg.Max,
		Speed:  cfg.Speed,
	}
}

func (a Actuator) clamp(raw int) int {
	if raw < a.Min {
		return a.Min
	}
	if raw > a.Max {
		return a.Max
	}
	return raw
}

// AngleToRaw converts degrees to servo units and clamps the result.
func (a Actuator) AngleToRaw(angle float64) int {
	return a.clamp(int(math.Round(angle/DegreesPerUnit)) + a.Offset)
}

// RawToAngle clamps raw first, then converts to degrees.
func (a Actuator) RawToAngle(raw int) float64 {
	return float64(a.clamp(raw)-a.Offset) * DegreesPerUnit
}

// AngleRange is the span of angles reachable without clamping.
func (a Actuator) AngleRange() (lo, hi float64) {
	return a.RawToAngle(a.Min), a.RawToAngle(a.Max)
}
