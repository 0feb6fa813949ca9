package solver

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config selects and tunes the tasks composed into a torque solver. Every
// optional group is a pointer: a nil group leaves the task out of the
// problem entirely. The feet, contact force, system dynamics and joint
// regularization blocks are mandatory; a solver without them is not a
// whole-body torque problem.
type Config struct {
	// JointPositionsDeg marks all joint position inputs (desired and
	// measured) as degrees; they are converted to radians on the way in.
	JointPositionsDeg bool `yaml:"joint_positions_deg"`

	CoM             *CoMConfig             `yaml:"com"`
	Feet            *FeetConfig            `yaml:"feet"`
	ZMP             *ZMPConfig             `yaml:"zmp"`
	ContactForces   *ContactForcesConfig   `yaml:"contact_forces"`
	NeckOrientation *NeckConfig            `yaml:"neck_orientation"`
	JointReg        *JointRegConfig        `yaml:"regularization_task"`
	TorqueReg       *TorqueRegConfig       `yaml:"regularization_torque"`
	ForceReg        *ForceRegConfig        `yaml:"regularization_force"`
	RateOfChange    *RateOfChangeConfig    `yaml:"rate_of_change"`
	TorqueLimits    *TorqueLimitsConfig    `yaml:"torque_limits"`
}

// CoMConfig tunes the center-of-mass task.
type CoMConfig struct {
	// AsConstraint enforces the CoM acceleration exactly instead of
	// tracking it as a weighted cost.
	AsConstraint bool `yaml:"use_as_constraint"`
	// HeightOnly controls only the vertical coordinate.
	HeightOnly bool      `yaml:"height_only"`
	Kp         float64   `yaml:"kp"`
	Kd         float64   `yaml:"kd"`
	Weight     []float64 `yaml:"weight"` // ignored when AsConstraint
}

// FeetConfig tunes the swing-foot tracking gains. The stance (contact)
// tasks need no gains.
type FeetConfig struct {
	Kp float64 `yaml:"kp"`
	Kd float64 `yaml:"kd"`
	C0 float64 `yaml:"c0"`
	C1 float64 `yaml:"c1"`
	C2 float64 `yaml:"c2"`
}

// ZMPConfig enables the zero-moment-point equality constraint. It has no
// parameters; presence of the group turns the constraint on.
type ZMPConfig struct{}

// ContactForcesConfig tunes the linearized friction cone and foot geometry
// of every contact wrench.
type ContactForcesConfig struct {
	NumberOfPoints     int        `yaml:"number_of_points"`
	StaticFriction     float64    `yaml:"static_friction_coefficient"`
	TorsionalFriction  float64    `yaml:"torsional_friction_coefficient"`
	MinimalNormalForce float64    `yaml:"minimal_normal_force"`
	FootLimitX         [2]float64 `yaml:"foot_limits_x"`
	FootLimitY         [2]float64 `yaml:"foot_limits_y"`
}

// NeckConfig tunes the neck orientation cost. AdditionalRotationRPY is a
// fixed roll-pitch-yaw offset composed with every desired orientation,
// compensating a tilted camera frame.
type NeckConfig struct {
	C0                    float64    `yaml:"c0"`
	C1                    float64    `yaml:"c1"`
	C2                    float64    `yaml:"c2"`
	Weight                []float64  `yaml:"weight"`
	AdditionalRotationRPY [3]float64 `yaml:"additional_rotation"`
}

// JointRegConfig tunes the joint-space postural cost.
type JointRegConfig struct {
	Kp     []float64 `yaml:"kp"`
	Kd     []float64 `yaml:"kd"`
	Weight []float64 `yaml:"weight"`
}

// TorqueRegConfig tunes the joint torque penalty.
type TorqueRegConfig struct {
	Weight []float64 `yaml:"weight"`
}

// ForceRegConfig tunes the contact wrench penalty. In double support the
// per-foot weight follows the commanded load sharing:
//
//	weight = Scale*|percentage| + Offset
//
// so the unloading foot gets a stiffer penalty.
type ForceRegConfig struct {
	Weight []float64 `yaml:"weight"`
	Scale  float64   `yaml:"load_sharing_scale"`
	Offset float64   `yaml:"load_sharing_offset"`
}

// RateOfChangeConfig bounds the cycle-to-cycle torque change.
type RateOfChangeConfig struct {
	MaximumTorqueRate []float64 `yaml:"maximum_torque_derivative"`
}

// TorqueLimitsConfig bounds the joint torques.
type TorqueLimitsConfig struct {
	Min []float64 `yaml:"min"`
	Max []float64 `yaml:"max"`
}

// LoadConfig reads a YAML solver configuration from path.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read solver config")
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse solver config")
	}
	return cfg, nil
}

// Validate checks the mandatory groups and the per-group parameter
// consistency against the number of actuated joints.
func (c Config) Validate(systemSize int) error {
	if systemSize <= 0 {
		return errors.Errorf("system size must be positive, got %d", systemSize)
	}
	if c.Feet == nil {
		return errors.New("feet group is mandatory")
	}
	if c.ContactForces == nil {
		return errors.New("contact_forces group is mandatory")
	}
	if c.JointReg == nil {
		return errors.New("regularization_task group is mandatory")
	}
	if c.TorqueReg == nil {
		return errors.New("regularization_torque group is mandatory")
	}

	if c.ContactForces.NumberOfPoints < 2 {
		return errors.Errorf("contact_forces.number_of_points must be at least 2, got %d",
			c.ContactForces.NumberOfPoints)
	}
	if c.CoM != nil && !c.CoM.AsConstraint {
		want := 3
		if c.CoM.HeightOnly {
			want = 1
		}
		if len(c.CoM.Weight) != want {
			return errors.Errorf("com.weight has %d entries, want %d", len(c.CoM.Weight), want)
		}
	}
	if c.NeckOrientation != nil && len(c.NeckOrientation.Weight) != 3 {
		return errors.Errorf("neck_orientation.weight has %d entries, want 3",
			len(c.NeckOrientation.Weight))
	}
	for _, v := range []struct {
		name string
		vec  []float64
	}{
		{"regularization_task.kp", c.JointReg.Kp},
		{"regularization_task.kd", c.JointReg.Kd},
		{"regularization_task.weight", c.JointReg.Weight},
		{"regularization_torque.weight", c.TorqueReg.Weight},
	} {
		if len(v.vec) != systemSize {
			return errors.Errorf("%s has %d entries, want %d", v.name, len(v.vec), systemSize)
		}
	}
	if c.ForceReg != nil && len(c.ForceReg.Weight) != 6 {
		return errors.Errorf("regularization_force.weight has %d entries, want 6",
			len(c.ForceReg.Weight))
	}
	if c.RateOfChange != nil && len(c.RateOfChange.MaximumTorqueRate) != systemSize {
		return errors.Errorf("rate_of_change.maximum_torque_derivative has %d entries, want %d",
			len(c.RateOfChange.MaximumTorqueRate), systemSize)
	}
	if c.TorqueLimits != nil {
		if len(c.TorqueLimits.Min) != systemSize || len(c.TorqueLimits.Max) != systemSize {
			return errors.Errorf("torque_limits has %d/%d entries, want %d",
				len(c.TorqueLimits.Min), len(c.TorqueLimits.Max), systemSize)
		}
	}
	return nil
}
