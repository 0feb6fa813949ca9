package qp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newSolver(t *testing.T, n, m int) *ADMM {
	t.Helper()
	s := NewADMM(DefaultADMMSettings())
	require.NoError(t, s.Init(n, m))
	return s
}

func TestADMMSolve(t *testing.T) {
	t.Run("box constrained quadratic", func(t *testing.T) {
		// minimize x1^2 + x2^2 - 2*x1 - 4*x2 inside a wide box.
		// Unconstrained minimum (1, 2) is interior.
		s := newSolver(t, 2, 2)
		require.NoError(t, s.SetHessian(mat.NewDense(2, 2, []float64{2, 0, 0, 2})))
		require.NoError(t, s.SetGradient([]float64{-2, -4}))
		require.NoError(t, s.SetConstraintMatrix(mat.NewDense(2, 2, []float64{1, 0, 0, 1})))
		require.NoError(t, s.SetBounds([]float64{-10, -10}, []float64{10, 10}))
		require.NoError(t, s.Solve())

		x := s.Solution()
		assert.InDelta(t, 1, x[0], 1e-3)
		assert.InDelta(t, 2, x[1], 1e-3)
		assert.Greater(t, s.Stats().Iterations, 0)
	})

	t.Run("equality constraint", func(t *testing.T) {
		// minimize x1^2 + x2^2 subject to x1 + x2 = 1.
		s := newSolver(t, 2, 1)
		require.NoError(t, s.SetHessian(mat.NewDense(2, 2, []float64{2, 0, 0, 2})))
		require.NoError(t, s.SetGradient([]float64{0, 0}))
		require.NoError(t, s.SetConstraintMatrix(mat.NewDense(1, 2, []float64{1, 1})))
		require.NoError(t, s.SetBounds([]float64{1}, []float64{1}))
		require.NoError(t, s.Solve())

		x := s.Solution()
		assert.InDelta(t, 0.5, x[0], 1e-3)
		assert.InDelta(t, 0.5, x[1], 1e-3)
		assert.InDelta(t, 1, x[0]+x[1], 1e-4)
	})

	t.Run("active inequality", func(t *testing.T) {
		// minimize (x - 2)^2 subject to x <= 1: the bound is active.
		s := newSolver(t, 1, 1)
		require.NoError(t, s.SetHessian(mat.NewDense(1, 1, []float64{2})))
		require.NoError(t, s.SetGradient([]float64{-4}))
		require.NoError(t, s.SetConstraintMatrix(mat.NewDense(1, 1, []float64{1})))
		require.NoError(t, s.SetBounds([]float64{math.Inf(-1)}, []float64{1}))
		require.NoError(t, s.Solve())

		assert.InDelta(t, 1, s.Solution()[0], 1e-3)
	})

	t.Run("warm start across bound updates", func(t *testing.T) {
		// Same problem solved twice with shifted bounds: the second solve
		// reuses the factorization and still lands on the new optimum.
		s := newSolver(t, 1, 1)
		require.NoError(t, s.SetHessian(mat.NewDense(1, 1, []float64{2})))
		require.NoError(t, s.SetGradient([]float64{-4}))
		require.NoError(t, s.SetConstraintMatrix(mat.NewDense(1, 1, []float64{1})))
		require.NoError(t, s.SetBounds([]float64{math.Inf(-1)}, []float64{1}))
		require.NoError(t, s.Solve())
		require.InDelta(t, 1, s.Solution()[0], 1e-3)

		require.NoError(t, s.SetBounds([]float64{math.Inf(-1)}, []float64{1.5}))
		require.NoError(t, s.Solve())
		assert.InDelta(t, 1.5, s.Solution()[0], 1e-3)
	})
}

func TestADMMValidation(t *testing.T) {
	t.Run("methods before init", func(t *testing.T) {
		s := NewADMM(DefaultADMMSettings())
		assert.False(t, s.IsInitialized())
		assert.Error(t, s.SetGradient([]float64{0}))
		assert.Error(t, s.Solve())
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		s := newSolver(t, 2, 1)
		assert.Error(t, s.SetHessian(mat.NewDense(3, 3, nil)))
		assert.Error(t, s.SetGradient(make([]float64, 3)))
		assert.Error(t, s.SetConstraintMatrix(mat.NewDense(2, 2, nil)))
		assert.Error(t, s.SetBounds(make([]float64, 2), make([]float64, 2)))
	})

	t.Run("crossed bounds", func(t *testing.T) {
		s := newSolver(t, 1, 1)
		assert.Error(t, s.SetBounds([]float64{1}, []float64{-1}))
	})
}
