package element

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/bipedlab/taskqp/spatial"
)

func testForceParams() ForceConstraintParams {
	return ForceConstraintParams{
		NumberOfPoints:     2,
		StaticFriction:     0.5,
		TorsionalFriction:  0.3,
		MinimalNormalForce: 10,
		FootLimitX:         [2]float64{-0.1, 0.1},
		FootLimitY:         [2]float64{-0.05, 0.05},
	}
}

// rowProducts applies the constraint rows to one wrench.
func rowProducts(t *testing.T, c *ForceConstraint, wrench []float64) []float64 {
	t.Helper()
	jac := sparse.NewDOK(c.NumConstraints(), 6)
	c.EvaluateJacobian(jac)
	out := make([]float64, c.NumConstraints())
	jac.DoNonZero(func(i, j int, v float64) {
		out[i] += v * wrench[j]
	})
	return out
}

func TestForceConstraint(t *testing.T) {
	t.Run("row count", func(t *testing.T) {
		c, err := NewForceConstraint(testForceParams())
		require.NoError(t, err)
		// 4*(points-2)+4 cone rows plus 7 feasibility rows.
		assert.Equal(t, 11, c.NumConstraints())

		p := testForceParams()
		p.NumberOfPoints = 4
		c, err = NewForceConstraint(p)
		require.NoError(t, err)
		assert.Equal(t, 19, c.NumConstraints())
	})

	t.Run("centered wrench satisfies every row", func(t *testing.T) {
		c, err := NewForceConstraint(testForceParams())
		require.NoError(t, err)
		c.SetStartingPosition(0, 0)

		lower := make([]float64, c.NumConstraints())
		upper := make([]float64, c.NumConstraints())
		c.SetBoundsConstantElements(lower, upper)

		products := rowProducts(t, c, []float64{0, 0, 100, 0, 0, 0})
		for i, v := range products {
			assert.LessOrEqual(t, v, upper[i], "row %d", i)
		}
	})

	t.Run("sliding wrench violates the cone", func(t *testing.T) {
		c, err := NewForceConstraint(testForceParams())
		require.NoError(t, err)
		c.SetStartingPosition(0, 0)

		// Tangential force above mu*Fz breaks at least one cone row.
		products := rowProducts(t, c, []float64{100, 0, 100, 0, 0, 0})
		violated := false
		for i := 0; i < 4; i++ {
			if products[i] > 0 {
				violated = true
			}
		}
		assert.True(t, violated)
	})

	t.Run("cop outside the foot violates a pressure row", func(t *testing.T) {
		c, err := NewForceConstraint(testForceParams())
		require.NoError(t, err)
		c.SetStartingPosition(0, 0)

		// CoP_x = -tau_y/Fz = 0.2, outside [-0.1, 0.1].
		products := rowProducts(t, c, []float64{0, 0, 100, 0, -20, 0})
		assert.Greater(t, products[4+4], 0.0)
	})

	t.Run("rotated foot matches the local rows", func(t *testing.T) {
		world, err := NewForceConstraint(testForceParams())
		require.NoError(t, err)
		world.SetStartingPosition(0, 0)
		world.SetFootToWorldTransform(spatial.NewTransform(spatial.RotZ(math.Pi/3), r3.Vector{X: 1}))

		local, err := NewForceConstraint(testForceParams())
		require.NoError(t, err)
		local.SetStartingPosition(0, 0)

		worldWrench := []float64{30, -20, 100, 1, -2, 0.5}
		inv := spatial.RotZ(math.Pi / 3).Inverse()
		f := inv.MulVec(r3.Vector{X: 30, Y: -20, Z: 100})
		tau := inv.MulVec(r3.Vector{X: 1, Y: -2, Z: 0.5})
		localWrench := []float64{f.X, f.Y, f.Z, tau.X, tau.Y, tau.Z}

		got := rowProducts(t, world, worldWrench)
		want := rowProducts(t, local, localWrench)
		for i := range want {
			assert.InDelta(t, want[i], got[i], 1e-10, "row %d", i)
		}
	})

	t.Run("deactivation forces zero normal force", func(t *testing.T) {
		c, err := NewForceConstraint(testForceParams())
		require.NoError(t, err)
		c.SetStartingPosition(0, 0)

		lower := make([]float64, c.NumConstraints())
		upper := make([]float64, c.NumConstraints())
		c.SetBoundsConstantElements(lower, upper)
		unilateral := 4 + 2
		assert.True(t, math.IsInf(lower[unilateral], -1))
		assert.Equal(t, -10.0, upper[unilateral])

		c.SetActive(false)
		c.EvaluateBounds(lower, upper)
		assert.Equal(t, 0.0, lower[unilateral])
		assert.Equal(t, 0.0, upper[unilateral])

		c.SetActive(true)
		c.EvaluateBounds(lower, upper)
		assert.Equal(t, -10.0, upper[unilateral])
	})

	t.Run("repeated evaluation is stable", func(t *testing.T) {
		c, err := NewForceConstraint(testForceParams())
		require.NoError(t, err)
		c.SetStartingPosition(0, 0)
		c.SetFootToWorldTransform(spatial.NewTransform(spatial.RotZ(0.3), r3.Vector{X: 0.2}))

		first := sparse.NewDOK(c.NumConstraints(), 6)
		second := sparse.NewDOK(c.NumConstraints(), 6)
		c.EvaluateJacobian(first)
		c.EvaluateJacobian(second)
		c.EvaluateJacobian(second)
		assert.True(t, mat.Equal(first, second))

		firstLower := make([]float64, c.NumConstraints())
		firstUpper := make([]float64, c.NumConstraints())
		secondLower := make([]float64, c.NumConstraints())
		secondUpper := make([]float64, c.NumConstraints())
		c.SetBoundsConstantElements(firstLower, firstUpper)
		c.EvaluateBounds(firstLower, firstUpper)
		c.SetBoundsConstantElements(secondLower, secondUpper)
		c.EvaluateBounds(secondLower, secondUpper)
		c.EvaluateBounds(secondLower, secondUpper)
		assert.Equal(t, firstLower, secondLower)
		assert.Equal(t, firstUpper, secondUpper)
	})

	t.Run("parameter validation", func(t *testing.T) {
		p := testForceParams()
		p.NumberOfPoints = 1
		_, err := NewForceConstraint(p)
		assert.Error(t, err)

		p = testForceParams()
		p.MinimalNormalForce = -1
		_, err = NewForceConstraint(p)
		assert.Error(t, err)

		p = testForceParams()
		p.FootLimitX = [2]float64{0.1, -0.1}
		_, err = NewForceConstraint(p)
		assert.Error(t, err)
	})
}
