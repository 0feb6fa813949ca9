package element

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// systemDynamics is the shared part of the floating-base equations of
// motion constraint
//
//	M*qddot - J_contact'*wrench - S'*torque = -h
//
// written as a two-sided bound with lower = upper = -h. One row per
// generalized coordinate (6 + actuated DOFs). The torque selector S is the
// identity on the actuated block and zero on the floating base.
type systemDynamics struct {
	Base

	systemSize int // actuated DOFs
	massMatrix *mat.Dense
	biasForces []float64
}

func newSystemDynamics(systemSize int) systemDynamics {
	d := systemDynamics{
		systemSize: systemSize,
		massMatrix: mat.NewDense(6+systemSize, 6+systemSize, nil),
		biasForces: make([]float64, 6+systemSize),
	}
	d.setSize(6 + systemSize)
	return d
}

// SetMassMatrix copies the mass matrix for this cycle.
func (d *systemDynamics) SetMassMatrix(massMatrix mat.Matrix) error {
	r, c := massMatrix.Dims()
	if r != 6+d.systemSize || c != 6+d.systemSize {
		return fmt.Errorf("mass matrix is %dx%d, want %dx%d", r, c, 6+d.systemSize, 6+d.systemSize)
	}
	d.massMatrix.Copy(massMatrix)
	return nil
}

// SetGeneralizedBiasForces copies the bias forces for this cycle.
func (d *systemDynamics) SetGeneralizedBiasForces(biasForces []float64) error {
	if len(biasForces) != 6+d.systemSize {
		return fmt.Errorf("bias forces have %d entries, want %d", len(biasForces), 6+d.systemSize)
	}
	copy(d.biasForces, biasForces)
	return nil
}

// SetJacobianConstantElements writes the torque selector, which never
// changes: -1 on the actuated rows against the torque variables.
func (d *systemDynamics) SetJacobianConstantElements(jacobian *sparse.DOK) {
	row, col := d.StartingRow(), d.StartingColumn()
	torqueCol := col + 6 + d.systemSize
	for i := 0; i < d.systemSize; i++ {
		jacobian.Set(row+6+i, torqueCol+i, -1)
	}
}

// EvaluateBounds writes the equality bounds lower = upper = -h.
func (d *systemDynamics) EvaluateBounds(lower, upper []float64) {
	for i := 0; i < d.NumConstraints(); i++ {
		lower[d.StartingRow()+i] = -d.biasForces[i]
		upper[d.StartingRow()+i] = -d.biasForces[i]
	}
}

// writeMassMatrix writes M against the acceleration variables.
func (d *systemDynamics) writeMassMatrix(jacobian *sparse.DOK) {
	row, col := d.StartingRow(), d.StartingColumn()
	n := 6 + d.systemSize
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			jacobian.Set(row+i, col+j, d.massMatrix.At(i, j))
		}
	}
}

// writeContactJacobian writes -J' against one wrench block.
func (d *systemDynamics) writeContactJacobian(jacobian *sparse.DOK, contact *mat.Dense, wrenchCol int) {
	row := d.StartingRow()
	n := 6 + d.systemSize
	for i := 0; i < n; i++ {
		for j := 0; j < 6; j++ {
			jacobian.Set(row+i, wrenchCol+j, -contact.At(j, i))
		}
	}
}

// SystemDynamicConstraintDoubleSupport enforces the equations of motion
// with both feet in contact.
type SystemDynamicConstraintDoubleSupport struct {
	systemDynamics

	leftFootJacobian  *mat.Dense
	rightFootJacobian *mat.Dense
}

// NewSystemDynamicConstraintDoubleSupport builds the constraint for
// systemSize actuated DOFs.
func NewSystemDynamicConstraintDoubleSupport(systemSize int) *SystemDynamicConstraintDoubleSupport {
	return &SystemDynamicConstraintDoubleSupport{
		systemDynamics:    newSystemDynamics(systemSize),
		leftFootJacobian:  mat.NewDense(6, 6+systemSize, nil),
		rightFootJacobian: mat.NewDense(6, 6+systemSize, nil),
	}
}

// SetFeetJacobians copies both contact Jacobians for this cycle.
func (d *SystemDynamicConstraintDoubleSupport) SetFeetJacobians(left, right mat.Matrix) error {
	if err := checkContactDims(left, d.systemSize); err != nil {
		return fmt.Errorf("left foot: %v", err)
	}
	if err := checkContactDims(right, d.systemSize); err != nil {
		return fmt.Errorf("right foot: %v", err)
	}
	d.leftFootJacobian.Copy(left)
	d.rightFootJacobian.Copy(right)
	return nil
}

// EvaluateJacobian writes M and the two -J' wrench blocks.
func (d *SystemDynamicConstraintDoubleSupport) EvaluateJacobian(jacobian *sparse.DOK) {
	d.writeMassMatrix(jacobian)
	wrenchCol := d.StartingColumn() + 6 + 2*d.systemSize
	d.writeContactJacobian(jacobian, d.leftFootJacobian, wrenchCol)
	d.writeContactJacobian(jacobian, d.rightFootJacobian, wrenchCol+6)
}

// SystemDynamicConstraintSingleSupport enforces the equations of motion
// with the stance foot in contact.
type SystemDynamicConstraintSingleSupport struct {
	systemDynamics

	stanceFootJacobian *mat.Dense
}

// NewSystemDynamicConstraintSingleSupport builds the constraint for
// systemSize actuated DOFs.
func NewSystemDynamicConstraintSingleSupport(systemSize int) *SystemDynamicConstraintSingleSupport {
	return &SystemDynamicConstraintSingleSupport{
		systemDynamics:     newSystemDynamics(systemSize),
		stanceFootJacobian: mat.NewDense(6, 6+systemSize, nil),
	}
}

// SetStanceFootJacobian copies the stance contact Jacobian for this cycle.
func (d *SystemDynamicConstraintSingleSupport) SetStanceFootJacobian(stance mat.Matrix) error {
	if err := checkContactDims(stance, d.systemSize); err != nil {
		return err
	}
	d.stanceFootJacobian.Copy(stance)
	return nil
}

// EvaluateJacobian writes M and the -J' wrench block.
func (d *SystemDynamicConstraintSingleSupport) EvaluateJacobian(jacobian *sparse.DOK) {
	d.writeMassMatrix(jacobian)
	wrenchCol := d.StartingColumn() + 6 + 2*d.systemSize
	d.writeContactJacobian(jacobian, d.stanceFootJacobian, wrenchCol)
}

func checkContactDims(j mat.Matrix, systemSize int) error {
	r, c := j.Dims()
	if r != 6 || c != 6+systemSize {
		return fmt.Errorf("contact jacobian is %dx%d, want 6x%d", r, c, 6+systemSize)
	}
	return nil
}
