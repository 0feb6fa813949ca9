package element

import (
	"fmt"

	"github.com/james-bowman/sparse"
)

// JointRegularization is a joint-space postural cost: a constant diagonal
// Hessian on the joint-acceleration variables and a gradient tracking a
// PD-plus-feedforward reference
//
//	Gradient = -weight .* (kp*(q_des - q) + kd*(qdot_des - qdot) + qddot_des)
type JointRegularization struct {
	Base

	weight            []float64
	proportionalGains []float64
	derivativeGains   []float64

	desiredJointPosition     []float64
	desiredJointVelocity     []float64
	desiredJointAcceleration []float64
	jointPosition            []float64
	jointVelocity            []float64
}

// NewJointRegularization builds the cost for systemSize actuated joints.
func NewJointRegularization(systemSize int) *JointRegularization {
	j := &JointRegularization{
		weight:                   make([]float64, systemSize),
		proportionalGains:        make([]float64, systemSize),
		derivativeGains:          make([]float64, systemSize),
		desiredJointPosition:     make([]float64, systemSize),
		desiredJointVelocity:     make([]float64, systemSize),
		desiredJointAcceleration: make([]float64, systemSize),
		jointPosition:            make([]float64, systemSize),
		jointVelocity:            make([]float64, systemSize),
	}
	j.setSize(systemSize)
	return j
}

// SetWeight copies the per-joint weights.
func (j *JointRegularization) SetWeight(weight []float64) error {
	return copyChecked(j.weight, weight, "weight")
}

// SetGains copies the per-joint proportional and derivative gains.
func (j *JointRegularization) SetGains(proportional, derivative []float64) error {
	if err := copyChecked(j.proportionalGains, proportional, "proportional gains"); err != nil {
		return err
	}
	return copyChecked(j.derivativeGains, derivative, "derivative gains")
}

// SetDesiredJointTrajectory copies the reference position, velocity and
// acceleration for this cycle.
func (j *JointRegularization) SetDesiredJointTrajectory(position, velocity, acceleration []float64) error {
	if err := copyChecked(j.desiredJointPosition, position, "desired position"); err != nil {
		return err
	}
	if err := copyChecked(j.desiredJointVelocity, velocity, "desired velocity"); err != nil {
		return err
	}
	return copyChecked(j.desiredJointAcceleration, acceleration, "desired acceleration")
}

// SetJointState copies the measured joint position and velocity for this
// cycle.
func (j *JointRegularization) SetJointState(position, velocity []float64) error {
	if err := copyChecked(j.jointPosition, position, "position"); err != nil {
		return err
	}
	return copyChecked(j.jointVelocity, velocity, "velocity")
}

// SetHessianConstantElements writes the constant diagonal weight block.
func (j *JointRegularization) SetHessianConstantElements(hessian *sparse.DOK) {
	for i, w := range j.weight {
		addAt(hessian, j.StartingRow()+i, j.StartingRow()+i, w)
	}
}

// EvaluateGradient accumulates the tracking gradient.
func (j *JointRegularization) EvaluateGradient(gradient []float64) {
	for i := range j.weight {
		ref := j.proportionalGains[i]*(j.desiredJointPosition[i]-j.jointPosition[i]) +
			j.derivativeGains[i]*(j.desiredJointVelocity[i]-j.jointVelocity[i]) +
			j.desiredJointAcceleration[i]
		gradient[j.StartingRow()+i] -= j.weight[i] * ref
	}
}

// InputRegularization is a pure quadratic penalty driving a torque or
// wrench sub-block toward zero: Hessian = diag(weight), zero gradient. The
// weight may change between cycles (load sharing between the feet), so the
// diagonal is rewritten every cycle.
type InputRegularization struct {
	Base

	weight []float64
}

// NewInputRegularization builds the penalty for a block of systemSize
// variables.
func NewInputRegularization(systemSize int) *InputRegularization {
	r := &InputRegularization{weight: make([]float64, systemSize)}
	r.setSize(systemSize)
	return r
}

// SetWeight copies the per-variable weights.
func (r *InputRegularization) SetWeight(weight []float64) error {
	return copyChecked(r.weight, weight, "weight")
}

// EvaluateHessian accumulates the diagonal weight block.
func (r *InputRegularization) EvaluateHessian(hessian *sparse.DOK) {
	for i, w := range r.weight {
		addAt(hessian, r.StartingRow()+i, r.StartingRow()+i, w)
	}
}

// RateOfChangeConstraint bounds the cycle-to-cycle change of a variable
// sub-block: previous - maxRate <= x <= previous + maxRate. The previous
// solution must be pushed in before every bounds evaluation.
type RateOfChangeConstraint struct {
	Base

	maximumRateOfChange []float64
	previousValues      []float64
}

// NewRateOfChangeConstraint builds the constraint for a block of
// systemSize variables.
func NewRateOfChangeConstraint(systemSize int) *RateOfChangeConstraint {
	r := &RateOfChangeConstraint{
		maximumRateOfChange: make([]float64, systemSize),
		previousValues:      make([]float64, systemSize),
	}
	r.setSize(systemSize)
	return r
}

// SetMaximumRateOfChange copies the per-variable rate limits.
func (r *RateOfChangeConstraint) SetMaximumRateOfChange(maxRate []float64) error {
	for i, v := range maxRate {
		if v < 0 {
			return fmt.Errorf("maximum rate of change must be nonnegative, got %g at index %d", v, i)
		}
	}
	return copyChecked(r.maximumRateOfChange, maxRate, "maximum rate of change")
}

// SetPreviousValues copies the previous cycle's solution block.
func (r *RateOfChangeConstraint) SetPreviousValues(previous []float64) error {
	return copyChecked(r.previousValues, previous, "previous values")
}

// SetJacobianConstantElements writes the identity block.
func (r *RateOfChangeConstraint) SetJacobianConstantElements(jacobian *sparse.DOK) {
	for i := 0; i < r.NumConstraints(); i++ {
		jacobian.Set(r.StartingRow()+i, r.StartingColumn()+i, 1)
	}
}

// EvaluateBounds writes previous +- maxRate.
func (r *RateOfChangeConstraint) EvaluateBounds(lower, upper []float64) {
	for i := 0; i < r.NumConstraints(); i++ {
		lower[r.StartingRow()+i] = r.previousValues[i] - r.maximumRateOfChange[i]
		upper[r.StartingRow()+i] = r.previousValues[i] + r.maximumRateOfChange[i]
	}
}

// VariableLimitsConstraint bounds a variable sub-block with constant lower
// and upper limits, e.g. the actuator torque limits.
type VariableLimitsConstraint struct {
	Base

	lowerLimits []float64
	upperLimits []float64
}

// NewVariableLimitsConstraint builds the constraint from the limit vectors.
func NewVariableLimitsConstraint(lower, upper []float64) (*VariableLimitsConstraint, error) {
	if len(lower) != len(upper) {
		return nil, fmt.Errorf("limit vectors differ in length: %d vs %d", len(lower), len(upper))
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return nil, fmt.Errorf("lower limit %g above upper limit %g at index %d", lower[i], upper[i], i)
		}
	}
	v := &VariableLimitsConstraint{
		lowerLimits: append([]float64(nil), lower...),
		upperLimits: append([]float64(nil), upper...),
	}
	v.setSize(len(lower))
	return v, nil
}

// SetJacobianConstantElements writes the identity block.
func (v *VariableLimitsConstraint) SetJacobianConstantElements(jacobian *sparse.DOK) {
	for i := 0; i < v.NumConstraints(); i++ {
		jacobian.Set(v.StartingRow()+i, v.StartingColumn()+i, 1)
	}
}

// SetBoundsConstantElements writes the limits, which never change.
func (v *VariableLimitsConstraint) SetBoundsConstantElements(lower, upper []float64) {
	for i := 0; i < v.NumConstraints(); i++ {
		lower[v.StartingRow()+i] = v.lowerLimits[i]
		upper[v.StartingRow()+i] = v.upperLimits[i]
	}
}

func copyChecked(dst, src []float64, what string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%s has %d entries, want %d", what, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}
