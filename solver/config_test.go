package solver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
joint_positions_deg: true
com:
  use_as_constraint: false
  kp: 50
  kd: 14
  weight: [10, 10, 10]
feet:
  kp: 100
  kd: 20
  c0: 5
  c1: 5
  c2: 5
zmp: {}
contact_forces:
  number_of_points: 4
  static_friction_coefficient: 0.33
  torsional_friction_coefficient: 0.013
  minimal_normal_force: 10
  foot_limits_x: [-0.12, 0.12]
  foot_limits_y: [-0.05, 0.05]
neck_orientation:
  c0: 1
  c1: 1
  c2: 1
  weight: [1, 1, 1]
  additional_rotation: [0, 0.17, 0]
regularization_task:
  kp: [5, 5, 5]
  kd: [1, 1, 1]
  weight: [1, 1, 1]
regularization_torque:
  weight: [0.01, 0.01, 0.01]
regularization_force:
  weight: [0.001, 0.001, 0.001, 0.001, 0.001, 0.001]
  load_sharing_scale: 10
  load_sharing_offset: 0.1
rate_of_change:
  maximum_torque_derivative: [5, 5, 5]
torque_limits:
  min: [-40, -40, -40]
  max: [40, 40, 40]
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.True(t, cfg.JointPositionsDeg)
	require.NotNil(t, cfg.CoM)
	assert.False(t, cfg.CoM.AsConstraint)
	assert.Equal(t, 50.0, cfg.CoM.Kp)
	require.NotNil(t, cfg.ZMP)
	require.NotNil(t, cfg.ContactForces)
	assert.Equal(t, 4, cfg.ContactForces.NumberOfPoints)
	assert.Equal(t, [2]float64{-0.12, 0.12}, cfg.ContactForces.FootLimitX)
	require.NotNil(t, cfg.NeckOrientation)
	assert.Equal(t, 0.17, cfg.NeckOrientation.AdditionalRotationRPY[1])
	require.NotNil(t, cfg.RateOfChange)
	require.NotNil(t, cfg.TorqueLimits)

	assert.NoError(t, cfg.Validate(3))
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "feet: ["))
		assert.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		cfg, err := LoadConfig(writeConfig(t, sampleConfig))
		require.NoError(t, err)
		return cfg
	}

	t.Run("mandatory groups", func(t *testing.T) {
		cfg := base()
		cfg.Feet = nil
		assert.Error(t, cfg.Validate(3))

		cfg = base()
		cfg.ContactForces = nil
		assert.Error(t, cfg.Validate(3))

		cfg = base()
		cfg.JointReg = nil
		assert.Error(t, cfg.Validate(3))

		cfg = base()
		cfg.TorqueReg = nil
		assert.Error(t, cfg.Validate(3))
	})

	t.Run("vector lengths must match the joints", func(t *testing.T) {
		cfg := base()
		assert.Error(t, cfg.Validate(4))

		cfg = base()
		cfg.CoM.Weight = []float64{1}
		assert.Error(t, cfg.Validate(3))

		cfg = base()
		cfg.ForceReg.Weight = []float64{1, 2}
		assert.Error(t, cfg.Validate(3))
	})

	t.Run("friction cone needs two points", func(t *testing.T) {
		cfg := base()
		cfg.ContactForces.NumberOfPoints = 1
		assert.Error(t, cfg.Validate(3))
	})

	t.Run("system size must be positive", func(t *testing.T) {
		assert.Error(t, base().Validate(0))
	})
}
