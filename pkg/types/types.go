// Package types defines the enumerations and configuration structures shared
// across the biped motion core: task slots, actuator groups, scheduling
// priorities and the yaml system configuration.
package types

import (
	"fmt"
	"time"

	"biped/internal/logging"
)

// Task is a logical scheduler slot. At most one worker is bound to a slot.
type Task int

const (
	TaskNone Task = iota
	TaskLegsControl
	TaskHeadControl
	TaskMotorControl
	TaskIOControl
)

func (t Task) String() string {
	switch t {
	case TaskNone:
		return "none"
	case TaskLegsControl:
		return "legs_control"
	case TaskHeadControl:
		return "head_control"
	case TaskMotorControl:
		return "motor_control"
	case TaskIOControl:
		return "io_control"
	default:
		return fmt.Sprintf("task(%d)", int(t))
	}
}

// Priority is a relative scheduling hint in [0, 99]. Higher runs first on a
// preemptive OS scheduler; nothing in-process enforces it.
type Priority int

const (
	PriorityHead Priority = 50
	PriorityIO   Priority = 80
	PriorityLegs Priority = 90
	PriorityMax  Priority = 99
)

// Group is the closed set of named actuator configurations.
type Group int

const (
	GroupAllMotors Group = iota
	GroupAllLegs
	GroupRightLeg
	GroupLeftLeg
	GroupHead

	NumGroups
)

var groupNames = [NumGroups]string{
	GroupAllMotors: "ALL_MOTORS",
	GroupAllLegs:   "ALL_LEGS",
	GroupRightLeg:  "RIGHT_LEG",
	GroupLeftLeg:   "LEFT_LEG",
	GroupHead:      "HEAD",
}

// Valid reports whether g is one of the declared groups.
func (g Group) Valid() bool {
	return g >= 0 && g < NumGroups
}

func (g Group) String() string {
	if !g.Valid() {
		return fmt.Sprintf("group(%d)", int(g))
	}
	return groupNames[g]
}

// ParseGroup resolves a configuration key such as "RIGHT_LEG".
func ParseGroup(name string) (Group, bool) {
	for g, n := range groupNames {
		if n == name {
			return Group(g), true
		}
	}
	return 0, false
}

// Groups returns every declared group in order.
func Groups() []Group {
	groups := make([]Group, 0, NumGroups)
	for g := Group(0); g < NumGroups; g++ {
		groups = append(groups, g)
	}
	return groups
}

type SystemConfig struct {
	Logging        logging.Config      `yaml:"logging"`
	Link           LinkConfig          `yaml:"link"`
	Actuators      []ActuatorConfig    `yaml:"actuators"`
	Configurations map[string][]string `yaml:"configurations"`
	Motion         MotionConfig        `yaml:"motion"`
	Scheduler      SchedulerConfig     `yaml:"scheduler"`
	Telemetry      TelemetryConfig     `yaml:"telemetry"`
	StatusServer   StatusServerConfig  `yaml:"status_server"`
}

// LinkConfig selects and parameterises the transport to the motor-driver board.
type LinkConfig struct {
	Protocol      string        `yaml:"protocol"` // serial, modbus, sim, none
	Port          string        `yaml:"port"`
	BaudRate      int           `yaml:"baud_rate"`
	DataBits      int           `yaml:"data_bits"`
	StopBits      int           `yaml:"stop_bits"`
	Parity        string        `yaml:"parity"`
	ModbusType    string        `yaml:"modbus_type"` // rtu, tcp
	Address       string        `yaml:"address"`
	SlaveID       byte          `yaml:"slave_id"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ActuatorConfig is the calibration of one joint servo.
type ActuatorConfig struct {
	Name   string `yaml:"name"`
	ID     int    `yaml:"id"`
	Offset int    `yaml:"offset"`
	Min    int    `yaml:"min"`
	Max    int    `yaml:"max"`
	Speed  int    `yaml:"speed"`
}

type MotionConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ActivateMotor       bool          `yaml:"activate_motor"`
	Iteration           time.Duration `yaml:"iteration"`
	ReadConcurrency     int           `yaml:"read_concurrency"`
	PerformInitPosition bool          `yaml:"perform_init_position"`
	InitPosition        []float64     `yaml:"init_position"`
	InitTotal           time.Duration `yaml:"init_total"`
	InitStep            time.Duration `yaml:"init_step"`
	Walk                WalkConfig    `yaml:"walk"`
}

// WalkConfig holds gait geometry in metres and timing in seconds.
type WalkConfig struct {
	TargetX        float64 `yaml:"target_x"`
	TargetY        float64 `yaml:"target_y"`
	StepLength     float64 `yaml:"step_length"`
	StanceWidth    float64 `yaml:"stance_width"`
	LiftHeight     float64 `yaml:"lift_height"`
	PelvisHeight   float64 `yaml:"pelvis_height"`
	StepPeriod     float64 `yaml:"step_period"`
	SampleInterval float64 `yaml:"sample_interval"`
	Increment      float64 `yaml:"increment"`
}

type SchedulerConfig struct {
	LegsPriority Priority `yaml:"legs_priority"`
	IOPriority   Priority `yaml:"io_priority"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

type StatusServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}
