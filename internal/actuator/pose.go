package actuator

import "time"

// JointState is one actuator's cached state at snapshot time.
type JointState struct {
	Name      string  `json:"name"`
	ID        int     `json:"id"`
	Current   float64 `json:"current"`
	Next      float64 `json:"next"`
	HasTarget bool    `json:"has_target"`
	Stale     bool    `json:"stale"`
}

// Pose is an immutable copy of the registry, ordered by actuator name.
type Pose struct {
	Time   time.Time    `json:"time"`
	Joints []JointState `json:"joints"`
}

// Joint looks up a joint by name.
func (p Pose) Joint(name string) (JointState, bool) {
	for _, j := range p.Joints {
		if j.Name == name {
			return j, true
		}
	}
	return JointState{}, false
}
