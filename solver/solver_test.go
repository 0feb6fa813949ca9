package solver

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/bipedlab/taskqp/spatial"
)

const testJoints = 3

func testConfig() Config {
	return Config{
		Feet: &FeetConfig{Kp: 100, Kd: 20, C0: 5, C1: 5, C2: 5},
		ZMP:  &ZMPConfig{},
		ContactForces: &ContactForcesConfig{
			NumberOfPoints:     2,
			StaticFriction:     0.5,
			TorsionalFriction:  0.3,
			MinimalNormalForce: 10,
			FootLimitX:         [2]float64{-0.1, 0.1},
			FootLimitY:         [2]float64{-0.05, 0.05},
		},
		JointReg: &JointRegConfig{
			Kp:     []float64{10, 10, 10},
			Kd:     []float64{1, 1, 1},
			Weight: []float64{1, 1, 1},
		},
		TorqueReg: &TorqueRegConfig{Weight: []float64{1e-4, 1e-4, 1e-4}},
		ForceReg: &ForceRegConfig{
			Weight: []float64{1e-3, 1e-3, 1e-3, 1e-3, 1e-3, 1e-3},
			Scale:  10,
			Offset: 0.1,
		},
		RateOfChange: &RateOfChangeConfig{MaximumTorqueRate: []float64{10, 10, 10}},
		TorqueLimits: &TorqueLimitsConfig{
			Min: []float64{-50, -50, -50},
			Max: []float64{50, 50, 50},
		},
	}
}

// identityContactJacobian maps the contact twist to the base coordinates
// only, giving an easily checkable static problem.
func identityContactJacobian() *mat.Dense {
	j := mat.NewDense(6, 6+testJoints, nil)
	for i := 0; i < 6; i++ {
		j.Set(i, i, 1)
	}
	return j
}

func identityMass() *mat.Dense {
	m := mat.NewDense(6+testJoints, 6+testJoints, nil)
	for i := 0; i < 6+testJoints; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// staticBias models a robot standing still: 300 N of generalized gravity
// on the vertical base coordinate and a small gravity torque per joint.
func staticBias() []float64 {
	return []float64{0, 0, 300, 0, 0, 0, 1, 2, 3}
}

func setDoubleSupportState(t *testing.T, d *DoubleSupport) {
	t.Helper()
	require.NoError(t, d.SetMassMatrix(identityMass()))
	require.NoError(t, d.SetGeneralizedBiasForces(staticBias()))
	d.SetFeetState(
		spatial.NewTransform(spatial.Identity(), r3.Vector{Y: 0.05}),
		spatial.NewTransform(spatial.Identity(), r3.Vector{Y: -0.05}),
	)
	require.NoError(t, d.SetFeetJacobians(identityContactJacobian(), identityContactJacobian()))
	require.NoError(t, d.SetFeetBiasAcceleration(make([]float64, 6), make([]float64, 6)))
	d.SetDesiredZMP([2]float64{0, 0})
	require.NoError(t, d.SetDesiredJointTrajectory(
		make([]float64, testJoints), make([]float64, testJoints), make([]float64, testJoints)))
	require.NoError(t, d.SetInternalRobotState(
		make([]float64, testJoints), make([]float64, testJoints)))
}

func TestDoubleSupportStatic(t *testing.T) {
	d, err := NewDoubleSupport(testConfig(), testJoints, nil)
	require.NoError(t, err)

	t.Run("solve rejects missing state", func(t *testing.T) {
		assert.ErrorIs(t, d.Solve(), ErrStateNotReady)
	})

	t.Run("solution getters fail before the first solve", func(t *testing.T) {
		_, err := d.JointTorques()
		assert.ErrorIs(t, err, ErrNoSolution)
		_, err = d.Solution()
		assert.ErrorIs(t, err, ErrNoSolution)
		_, err = d.LeftFootWrench()
		assert.ErrorIs(t, err, ErrNoSolution)
		_, err = d.RightFootWrench()
		assert.ErrorIs(t, err, ErrNoSolution)
		_, err = d.ZMP()
		assert.ErrorIs(t, err, ErrNoSolution)
	})

	setDoubleSupportState(t, d)
	require.NoError(t, d.Solve())

	t.Run("base does not accelerate", func(t *testing.T) {
		sol, err := d.Solution()
		require.NoError(t, err)
		for i := 0; i < 6; i++ {
			assert.InDelta(t, 0, sol[i], 1e-2, "coordinate %d", i)
		}
	})

	t.Run("torques hold the gravity load", func(t *testing.T) {
		torques, err := d.JointTorques()
		require.NoError(t, err)
		assert.InDelta(t, 1, torques[0], 5e-2)
		assert.InDelta(t, 2, torques[1], 5e-2)
		assert.InDelta(t, 3, torques[2], 5e-2)
	})

	t.Run("normal forces carry the weight evenly", func(t *testing.T) {
		left, err := d.LeftFootWrench()
		require.NoError(t, err)
		right, err := d.RightFootWrench()
		require.NoError(t, err)
		assert.InDelta(t, 300, left.Force.Z+right.Force.Z, 0.5)
		assert.InDelta(t, left.Force.Z, right.Force.Z, 2)
	})

	t.Run("solution is feasible", func(t *testing.T) {
		assert.True(t, d.IsSolutionFeasible())
		assert.Greater(t, d.Diagnostics().QP.Iterations, 0)
		assert.Greater(t, d.Diagnostics().SolveTime.Nanoseconds(), int64(0))
	})

	t.Run("measured zmp matches the target", func(t *testing.T) {
		zmp, err := d.ZMP()
		require.NoError(t, err)
		assert.InDelta(t, 0, zmp[0], 1e-2)
		assert.InDelta(t, 0, zmp[1], 1e-2)
	})

	t.Run("load sharing shifts the normal force", func(t *testing.T) {
		// A stiffer penalty on the right wrench steers the load left.
		require.NoError(t, d.SetFeetWeightPercentage(0, 1))
		require.NoError(t, d.Solve())
		left, err := d.LeftFootWrench()
		require.NoError(t, err)
		right, err := d.RightFootWrench()
		require.NoError(t, err)
		assert.Greater(t, left.Force.Z, right.Force.Z)
		assert.InDelta(t, 300, left.Force.Z+right.Force.Z, 0.5)
	})
}

func TestSingleSupportStatic(t *testing.T) {
	s, err := NewSingleSupport(testConfig(), testJoints, nil)
	require.NoError(t, err)

	_, err = s.StanceFootWrench()
	require.ErrorIs(t, err, ErrNoSolution)

	swingJacobian := mat.NewDense(6, 6+testJoints, nil)
	for i := 0; i < testJoints; i++ {
		swingJacobian.Set(i, 6+i, 1)
	}
	swingPose := spatial.NewTransform(spatial.Identity(), r3.Vector{X: 0.1, Y: 0.1, Z: 0.05})

	require.NoError(t, s.SetMassMatrix(identityMass()))
	require.NoError(t, s.SetGeneralizedBiasForces(staticBias()))
	s.SetFeetState(spatial.NewTransform(spatial.Identity(), r3.Vector{}), swingPose, spatial.Twist{})
	s.SetDesiredFeetTrajectory(spatial.Twist{}, spatial.Twist{}, swingPose)
	require.NoError(t, s.SetFeetJacobians(identityContactJacobian(), swingJacobian))
	require.NoError(t, s.SetFeetBiasAcceleration(make([]float64, 6), make([]float64, 6)))
	s.SetDesiredZMP([2]float64{0, 0})
	require.NoError(t, s.Solve())

	t.Run("stance wrench carries the full weight", func(t *testing.T) {
		wrench, err := s.StanceFootWrench()
		require.NoError(t, err)
		assert.InDelta(t, 300, wrench.Force.Z, 0.5)
	})

	t.Run("torques hold the gravity load", func(t *testing.T) {
		torques, err := s.JointTorques()
		require.NoError(t, err)
		assert.InDelta(t, 1, torques[0], 5e-2)
		assert.InDelta(t, 2, torques[1], 5e-2)
		assert.InDelta(t, 3, torques[2], 5e-2)
	})

	t.Run("measured zmp stays under the stance foot", func(t *testing.T) {
		zmp, err := s.ZMP()
		require.NoError(t, err)
		assert.InDelta(t, 0, zmp[0], 1e-2)
		assert.InDelta(t, 0, zmp[1], 1e-2)
	})

	t.Run("solution is feasible", func(t *testing.T) {
		assert.True(t, s.IsSolutionFeasible())
	})
}

func TestPhaseVariableCount(t *testing.T) {
	d, err := NewDoubleSupport(testConfig(), testJoints, nil)
	require.NoError(t, err)
	s, err := NewSingleSupport(testConfig(), testJoints, nil)
	require.NoError(t, err)

	// The double-support problem carries exactly one extra contact wrench.
	assert.Equal(t, s.NumberOfVariables()+6, d.NumberOfVariables())
	assert.Equal(t, 6+2*testJoints+12, d.NumberOfVariables())
}

func TestNeckOrientation(t *testing.T) {
	cfg := testConfig()
	cfg.NeckOrientation = &NeckConfig{
		C0: 1, C1: 1, C2: 1,
		Weight:                []float64{1, 1, 1},
		AdditionalRotationRPY: [3]float64{0, 0.17, 0},
	}
	d, err := NewDoubleSupport(cfg, testJoints, nil)
	require.NoError(t, err)

	d.SetDesiredNeckTrajectory(r3.Vector{}, r3.Vector{}, spatial.Identity())
	roll, pitch, yaw := d.DesiredNeckOrientationRPY()
	assert.InDelta(t, 0, roll, 1e-12)
	assert.InDelta(t, 0.17, pitch, 1e-12)
	assert.InDelta(t, 0, yaw, 1e-12)
}

func TestCoMTaskVariants(t *testing.T) {
	t.Run("com as constraint adds rows", func(t *testing.T) {
		cfg := testConfig()
		cfg.CoM = &CoMConfig{AsConstraint: true, Kp: 50, Kd: 14}
		withCoM, err := NewDoubleSupport(cfg, testJoints, nil)
		require.NoError(t, err)

		without, err := NewDoubleSupport(testConfig(), testJoints, nil)
		require.NoError(t, err)
		assert.Equal(t, without.NumberOfConstraints()+3, withCoM.NumberOfConstraints())
	})

	t.Run("height only com is one row", func(t *testing.T) {
		cfg := testConfig()
		cfg.CoM = &CoMConfig{AsConstraint: true, HeightOnly: true, Kp: 50, Kd: 14}
		withCoM, err := NewDoubleSupport(cfg, testJoints, nil)
		require.NoError(t, err)

		without, err := NewDoubleSupport(testConfig(), testJoints, nil)
		require.NoError(t, err)
		assert.Equal(t, without.NumberOfConstraints()+1, withCoM.NumberOfConstraints())
	})

	t.Run("com as cost keeps the rows", func(t *testing.T) {
		cfg := testConfig()
		cfg.CoM = &CoMConfig{Kp: 50, Kd: 14, Weight: []float64{10, 10, 10}}
		withCoM, err := NewDoubleSupport(cfg, testJoints, nil)
		require.NoError(t, err)

		without, err := NewDoubleSupport(testConfig(), testJoints, nil)
		require.NoError(t, err)
		assert.Equal(t, without.NumberOfConstraints(), withCoM.NumberOfConstraints())
	})
}
