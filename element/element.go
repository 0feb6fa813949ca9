// Package element contains the optimization elements composed by the
// task-based torque solvers: each element owns a sub-block of the global
// Hessian, gradient, constraint matrix or bounds and knows how to refresh
// it every control cycle.
//
// The optimization variable is the concatenation of base+joint acceleration
// (6+n), joint torque (n) and one contact wrench (6) per foot in contact.
// Elements never learn the full layout; they are told their starting row
// and column once and write at fixed offsets from there.
package element

import (
	"github.com/james-bowman/sparse"
)

// Element is the uniform per-cycle contract. The Evaluate* hooks refresh
// the values that change every cycle; the Set*ConstantElements hooks are
// called once after the layout is frozen and write the coefficients that
// never change, so an incremental QP backend only ever sees updates to the
// changing entries. A full re-evaluation every cycle would be functionally
// equivalent.
type Element interface {
	// SetStartingPosition fixes the element's sub-block origin inside the
	// global buffers.
	SetStartingPosition(row, col int)

	EvaluateHessian(hessian *sparse.DOK)
	EvaluateGradient(gradient []float64)
	EvaluateJacobian(jacobian *sparse.DOK)
	EvaluateBounds(lower, upper []float64)

	SetHessianConstantElements(hessian *sparse.DOK)
	SetGradientConstantElements(gradient []float64)
	SetJacobianConstantElements(jacobian *sparse.DOK)
	SetBoundsConstantElements(lower, upper []float64)
}

// Constraint is an element owning rows of the global constraint matrix and
// the matching bound rows. The row count is fixed at construction.
type Constraint interface {
	Element
	NumConstraints() int
}

// Cost is an element contributing additively to the global Hessian and
// gradient. Overlapping cost blocks accumulate; constraint rows never
// overlap.
type Cost interface {
	Element
}

// Base carries the sub-block origin and size and provides no-op defaults
// for every hook, so concrete elements only implement the hooks that mean
// something for them and the solver can drive all elements uniformly.
type Base struct {
	row  int
	col  int
	size int
}

// SetStartingPosition implements Element.
func (b *Base) SetStartingPosition(row, col int) {
	b.row = row
	b.col = col
}

// StartingRow returns the first global row owned by the element.
func (b *Base) StartingRow() int { return b.row }

// StartingColumn returns the first global column owned by the element.
func (b *Base) StartingColumn() int { return b.col }

// NumConstraints returns the number of rows owned by the element.
func (b *Base) NumConstraints() int { return b.size }

func (b *Base) setSize(size int) { b.size = size }

// No-op defaults. Elements with no meaningful contribution for a hook keep
// these so the generic cycle loop can call every hook on every element.

func (b *Base) EvaluateHessian(*sparse.DOK)                      {}
func (b *Base) EvaluateGradient([]float64)                       {}
func (b *Base) EvaluateJacobian(*sparse.DOK)                     {}
func (b *Base) EvaluateBounds(lower, upper []float64)            {}
func (b *Base) SetHessianConstantElements(*sparse.DOK)           {}
func (b *Base) SetGradientConstantElements([]float64)            {}
func (b *Base) SetJacobianConstantElements(*sparse.DOK)          {}
func (b *Base) SetBoundsConstantElements(lower, upper []float64) {}

// addAt accumulates v into the DOK entry at (i, j).
func addAt(m *sparse.DOK, i, j int, v float64) {
	if v == 0 {
		return
	}
	m.Set(i, j, m.At(i, j)+v)
}
