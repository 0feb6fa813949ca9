// Package qp defines the quadratic-programming backend used by the torque
// solvers and provides an in-repo ADMM implementation of it. The problem
// form is
//
//	minimize   1/2 x'Px + q'x
//	subject to l <= Ax <= u
//
// with equality rows expressed as l_i == u_i.
package qp

import "gonum.org/v1/gonum/mat"

// Stats reports the last solve.
type Stats struct {
	Iterations     int
	PrimalResidual float64
	DualResidual   float64
	Objective      float64
}

// Backend is a warm-startable QP solver. Init fixes the problem dimensions;
// the Set* methods replace problem data between solves and a backend may
// reuse factorizations when only the gradient or the bounds changed.
type Backend interface {
	// Init allocates the backend for a fixed problem size. It must be
	// called once before any other method.
	Init(numVariables, numConstraints int) error
	IsInitialized() bool

	SetHessian(hessian mat.Matrix) error
	SetGradient(gradient []float64) error
	SetConstraintMatrix(constraints mat.Matrix) error
	SetBounds(lower, upper []float64) error

	// Solve runs the solver, warm-starting from the previous solution.
	Solve() error
	// Solution returns the primal solution of the last successful Solve.
	// The returned slice is owned by the backend.
	Solution() []float64
	Stats() Stats
}
