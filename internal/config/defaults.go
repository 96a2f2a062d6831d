package config

import (
	"time"

	"biped/internal/logging"
	"biped/pkg/types"
)

var legJoints = []string{"HIP_YAW", "HIP_ROLL", "HIP_PITCH", "KNEE", "ANKLE_PITCH", "ANKLE_ROLL"}

// DefaultConfig describes the 12-joint biped with a two-joint head on a
// simulated board.
func DefaultConfig() types.SystemConfig {
	var actuators []types.ActuatorConfig
	var right, left []string
	id := 1
	for _, joint := range legJoints {
		for _, side := range []string{"R", "L"} {
			name := side + "_" + joint
			actuators = append(actuators, types.ActuatorConfig{
				Name: name, ID: id, Offset: 512, Min: 200, Max: 824, Speed: 100,
			})
			if side == "R" {
				right = append(right, name)
			} else {
				left = append(left, name)
			}
			id++
		}
	}
	head := []string{"HEAD_PAN", "HEAD_TILT"}
	for _, name := range head {
		actuators = append(actuators, types.ActuatorConfig{
			Name: name, ID: id, Offset: 512, Min: 100, Max: 924, Speed: 60,
		})
		id++
	}

	legs := append(append([]string{}, right...), left...)
	all := append(append([]string{}, legs...), head...)

	return types.SystemConfig{
		Logging: *logging.DefaultConfig(),
		Link: types.LinkConfig{
			Protocol:      "sim",
			Port:          "/dev/ttyACM0",
			BaudRate:      1000000,
			Timeout:       100 * time.Millisecond,
			RetryCount:    2,
			RetryInterval: 10 * time.Millisecond,
		},
		Actuators: actuators,
		Configurations: map[string][]string{
			"ALL_MOTORS": all,
			"ALL_LEGS":   legs,
			"RIGHT_LEG":  right,
			"LEFT_LEG":   left,
			"HEAD":       head,
		},
		Motion: types.MotionConfig{
			Enabled:             true,
			ActivateMotor:       true,
			Iteration:           16 * time.Millisecond,
			ReadConcurrency:     1,
			PerformInitPosition: true,
			InitPosition:        make([]float64, len(legs)),
			InitTotal:           3 * time.Second,
			InitStep:            16 * time.Millisecond,
			Walk: types.WalkConfig{
				TargetX:        0.3,
				StepLength:     0.04,
				StanceWidth:    0.074,
				LiftHeight:     0.03,
				PelvisHeight:   0.29672,
				StepPeriod:     1,
				SampleInterval: 0.02,
				Increment:      0.01,
			},
		},
		Scheduler: types.SchedulerConfig{
			LegsPriority: types.PriorityLegs,
			IOPriority:   types.PriorityIO,
		},
		Telemetry: types.TelemetryConfig{
			URL:         "http://localhost:8086",
			Org:         "robotfoot",
			Bucket:      "biped",
			Measurement: "actuators",
		},
		StatusServer: types.StatusServerConfig{
			Address: "127.0.0.1:8502",
		},
	}
}

// CreateDefaultConfig writes DefaultConfig to the manager's path and loads it.
func (cm *ConfigManager) CreateDefaultConfig() error {
	return cm.SetConfig(DefaultConfig())
}
