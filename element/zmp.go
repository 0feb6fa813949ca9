package element

import (
	"github.com/james-bowman/sparse"

	"github.com/bipedlab/taskqp/spatial"
)

// The ZMP constraints tie the desired global zero moment point to the
// wrench unknowns through the moment balance about the desired point:
//
//	sum_feet [ (p_x - zmp_x)*Fz - tau_y ] = 0
//	sum_feet [ (p_y - zmp_y)*Fz + tau_x ] = 0
//
// with p the foot origin in world. The torque coefficients are constant;
// the Fz coefficients change with the desired ZMP and the foot positions.

// ZMPConstraintDoubleSupport writes the two moment-balance rows over both
// contact wrenches (12 columns starting at the wrench block).
type ZMPConstraintDoubleSupport struct {
	Base

	desiredZMP   [2]float64
	leftToWorld  spatial.Transform
	rightToWorld spatial.Transform
}

// NewZMPConstraintDoubleSupport builds the double-support ZMP constraint.
func NewZMPConstraintDoubleSupport() *ZMPConstraintDoubleSupport {
	c := &ZMPConstraintDoubleSupport{}
	c.setSize(2)
	return c
}

// SetDesiredZMP sets the desired global ZMP for this cycle.
func (c *ZMPConstraintDoubleSupport) SetDesiredZMP(zmp [2]float64) { c.desiredZMP = zmp }

// SetFeetTransforms copies the foot-to-world transforms for this cycle.
func (c *ZMPConstraintDoubleSupport) SetFeetTransforms(left, right spatial.Transform) {
	c.leftToWorld = left
	c.rightToWorld = right
}

// SetJacobianConstantElements writes the torque coefficients, which never
// change. Wrench ordering per foot is [fx fy fz tx ty tz].
func (c *ZMPConstraintDoubleSupport) SetJacobianConstantElements(jacobian *sparse.DOK) {
	row, col := c.StartingRow(), c.StartingColumn()
	jacobian.Set(row, col+4, -1)  // left tau_y
	jacobian.Set(row, col+10, -1) // right tau_y
	jacobian.Set(row+1, col+3, 1) // left tau_x
	jacobian.Set(row+1, col+9, 1) // right tau_x
}

// EvaluateJacobian refreshes the Fz coefficients.
func (c *ZMPConstraintDoubleSupport) EvaluateJacobian(jacobian *sparse.DOK) {
	row, col := c.StartingRow(), c.StartingColumn()
	jacobian.Set(row, col+2, c.leftToWorld.Pos.X-c.desiredZMP[0])
	jacobian.Set(row, col+8, c.rightToWorld.Pos.X-c.desiredZMP[0])
	jacobian.Set(row+1, col+2, c.leftToWorld.Pos.Y-c.desiredZMP[1])
	jacobian.Set(row+1, col+8, c.rightToWorld.Pos.Y-c.desiredZMP[1])
}

// SetBoundsConstantElements writes the equality bounds, which are zero.
func (c *ZMPConstraintDoubleSupport) SetBoundsConstantElements(lower, upper []float64) {
	lower[c.StartingRow()] = 0
	lower[c.StartingRow()+1] = 0
	upper[c.StartingRow()] = 0
	upper[c.StartingRow()+1] = 0
}

// ZMPConstraintSingleSupport is the single-support form of the constraint:
// the moment balance over the stance wrench only (6 columns).
type ZMPConstraintSingleSupport struct {
	Base

	desiredZMP    [2]float64
	stanceToWorld spatial.Transform
}

// NewZMPConstraintSingleSupport builds the single-support ZMP constraint.
func NewZMPConstraintSingleSupport() *ZMPConstraintSingleSupport {
	c := &ZMPConstraintSingleSupport{}
	c.setSize(2)
	return c
}

// SetDesiredZMP sets the desired global ZMP for this cycle.
func (c *ZMPConstraintSingleSupport) SetDesiredZMP(zmp [2]float64) { c.desiredZMP = zmp }

// SetStanceFootTransform copies the stance-foot transform for this cycle.
func (c *ZMPConstraintSingleSupport) SetStanceFootTransform(stance spatial.Transform) {
	c.stanceToWorld = stance
}

// SetJacobianConstantElements writes the torque coefficients.
func (c *ZMPConstraintSingleSupport) SetJacobianConstantElements(jacobian *sparse.DOK) {
	row, col := c.StartingRow(), c.StartingColumn()
	jacobian.Set(row, col+4, -1)  // tau_y
	jacobian.Set(row+1, col+3, 1) // tau_x
}

// EvaluateJacobian refreshes the Fz coefficients.
func (c *ZMPConstraintSingleSupport) EvaluateJacobian(jacobian *sparse.DOK) {
	row, col := c.StartingRow(), c.StartingColumn()
	jacobian.Set(row, col+2, c.stanceToWorld.Pos.X-c.desiredZMP[0])
	jacobian.Set(row+1, col+2, c.stanceToWorld.Pos.Y-c.desiredZMP[1])
}

// SetBoundsConstantElements writes the equality bounds, which are zero.
func (c *ZMPConstraintSingleSupport) SetBoundsConstantElements(lower, upper []float64) {
	lower[c.StartingRow()] = 0
	lower[c.StartingRow()+1] = 0
	upper[c.StartingRow()] = 0
	upper[c.StartingRow()+1] = 0
}
