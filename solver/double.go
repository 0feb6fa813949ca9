package solver

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/bipedlab/taskqp/element"
	"github.com/bipedlab/taskqp/spatial"
)

// DoubleSupport is the torque solver for the phase with both feet on the
// ground. The variable vector is [qddot (6+n); torque (n); left wrench (6);
// right wrench (6)].
type DoubleSupport struct {
	*taskSolver

	leftContact  *element.CartesianConstraint
	rightContact *element.CartesianConstraint

	zmpConstraint *element.ZMPConstraintDoubleSupport
	leftForce     *element.ForceConstraint
	rightForce    *element.ForceConstraint

	leftForceReg  *element.InputRegularization
	rightForceReg *element.InputRegularization

	eom *element.SystemDynamicConstraintDoubleSupport

	leftToWorld  spatial.Transform
	rightToWorld spatial.Transform
}

// NewDoubleSupport builds the double-support solver for systemSize actuated
// joints. A nil logger disables logging.
func NewDoubleSupport(cfg Config, systemSize int, log *zap.SugaredLogger) (*DoubleSupport, error) {
	base, err := newTaskSolver(cfg, systemSize, log)
	if err != nil {
		return nil, err
	}

	d := &DoubleSupport{taskSolver: base}
	n := systemSize
	wrenchCol := base.wrenchOffset()

	d.leftContact = element.NewCartesianConstraint(element.Contact, 6+n)
	d.rightContact = element.NewCartesianConstraint(element.Contact, 6+n)

	forceParams := element.ForceConstraintParams{
		NumberOfPoints:     cfg.ContactForces.NumberOfPoints,
		StaticFriction:     cfg.ContactForces.StaticFriction,
		TorsionalFriction:  cfg.ContactForces.TorsionalFriction,
		MinimalNormalForce: cfg.ContactForces.MinimalNormalForce,
		FootLimitX:         cfg.ContactForces.FootLimitX,
		FootLimitY:         cfg.ContactForces.FootLimitY,
	}
	if d.leftForce, err = element.NewForceConstraint(forceParams); err != nil {
		return nil, errors.Wrap(err, "left force constraint")
	}
	if d.rightForce, err = element.NewForceConstraint(forceParams); err != nil {
		return nil, errors.Wrap(err, "right force constraint")
	}
	d.eom = element.NewSystemDynamicConstraintDoubleSupport(n)
	base.dynamics = d.eom

	if base.comConstraint != nil {
		base.addConstraint(base.comConstraint, 0)
	}
	base.addConstraint(d.leftContact, 0)
	base.addConstraint(d.rightContact, 0)
	if cfg.ZMP != nil {
		d.zmpConstraint = element.NewZMPConstraintDoubleSupport()
		base.addConstraint(d.zmpConstraint, wrenchCol)
		base.zmp = d.zmpConstraint
	}
	base.addConstraint(d.leftForce, wrenchCol)
	base.addConstraint(d.rightForce, wrenchCol+6)
	base.addConstraint(d.eom, 0)
	if base.rateOfChange != nil {
		base.addConstraint(base.rateOfChange, base.torqueOffset())
	}
	if base.torqueLimits != nil {
		base.addConstraint(base.torqueLimits, base.torqueOffset())
	}

	if base.comCost != nil {
		base.addCost(base.comCost, 0)
	}
	if base.neckCost != nil {
		base.addCost(base.neckCost, 0)
	}
	base.addCost(base.jointReg, 6)
	base.addCost(base.torqueReg, base.torqueOffset())
	if cfg.ForceReg != nil {
		d.leftForceReg = element.NewInputRegularization(6)
		d.rightForceReg = element.NewInputRegularization(6)
		if err := d.leftForceReg.SetWeight(cfg.ForceReg.Weight); err != nil {
			return nil, errors.Wrap(err, "force regularization")
		}
		if err := d.rightForceReg.SetWeight(cfg.ForceReg.Weight); err != nil {
			return nil, errors.Wrap(err, "force regularization")
		}
		base.addCost(d.leftForceReg, wrenchCol)
		base.addCost(d.rightForceReg, wrenchCol+6)
	}

	if err := base.allocate(6 + 2*n + 12); err != nil {
		return nil, err
	}
	base.log.Infow("double support solver built",
		"variables", base.numVariables, "constraints", base.numConstraints)
	return d, nil
}

// SetFeetState sets both foot-to-world transforms for this cycle. They feed
// the friction cones, the ZMP constraint and the measured ZMP computation.
func (d *DoubleSupport) SetFeetState(left, right spatial.Transform) {
	d.leftToWorld = left
	d.rightToWorld = right
	d.leftForce.SetFootToWorldTransform(left)
	d.rightForce.SetFootToWorldTransform(right)
	if d.zmpConstraint != nil {
		d.zmpConstraint.SetFeetTransforms(left, right)
	}
	d.feetStateSet = true
}

// SetFeetJacobians sets both 6x(6+n) contact Jacobians for this cycle.
func (d *DoubleSupport) SetFeetJacobians(left, right mat.Matrix) error {
	if err := d.leftContact.SetJacobian(left); err != nil {
		return errors.Wrap(err, "left foot")
	}
	if err := d.rightContact.SetJacobian(right); err != nil {
		return errors.Wrap(err, "right foot")
	}
	if err := d.eom.SetFeetJacobians(left, right); err != nil {
		return err
	}
	d.feetJacobianSet = true
	return nil
}

// SetFeetBiasAcceleration sets both contact bias accelerations.
func (d *DoubleSupport) SetFeetBiasAcceleration(left, right []float64) error {
	if err := d.leftContact.SetBiasAcceleration(left); err != nil {
		return errors.Wrap(err, "left foot")
	}
	return errors.Wrap(d.rightContact.SetBiasAcceleration(right), "right foot")
}

// SetFeetWeightPercentage maps the commanded load sharing (0..1 per foot)
// to the per-foot wrench penalty through the configured affine law
// scale*|percentage| + offset.
func (d *DoubleSupport) SetFeetWeightPercentage(left, right float64) error {
	if d.leftForceReg == nil {
		return nil
	}
	scale, offset := d.cfg.ForceReg.Scale, d.cfg.ForceReg.Offset
	leftWeight := make([]float64, 6)
	rightWeight := make([]float64, 6)
	for i := range leftWeight {
		leftWeight[i] = scale*math.Abs(left) + offset
		rightWeight[i] = scale*math.Abs(right) + offset
	}
	if err := d.leftForceReg.SetWeight(leftWeight); err != nil {
		return err
	}
	return d.rightForceReg.SetWeight(rightWeight)
}

// SetContactsActive toggles the unilaterality rows, letting a foot unload
// completely just before the support phase switches.
func (d *DoubleSupport) SetContactsActive(left, right bool) {
	d.leftForce.SetActive(left)
	d.rightForce.SetActive(right)
}

// Solve runs one control cycle.
func (d *DoubleSupport) Solve() error {
	if err := d.checkReady(); err != nil {
		return err
	}
	return d.run()
}

// LeftFootWrench returns the left contact wrench of the last solution, in
// world coordinates, or ErrNoSolution before the first successful Solve.
func (d *DoubleSupport) LeftFootWrench() (spatial.Wrench, error) {
	return d.wrenchAt(d.wrenchOffset())
}

// RightFootWrench returns the right contact wrench of the last solution,
// in world coordinates, or ErrNoSolution before the first successful Solve.
func (d *DoubleSupport) RightFootWrench() (spatial.Wrench, error) {
	return d.wrenchAt(d.wrenchOffset() + 6)
}

// ZMP returns the measured zero moment point implied by the last solution,
// the normal-force-weighted combination of the per-foot centers of
// pressure. It fails when no solution exists yet or when the total normal
// force is below the threshold.
func (d *DoubleSupport) ZMP() ([2]float64, error) {
	left, err := d.LeftFootWrench()
	if err != nil {
		return [2]float64{}, err
	}
	right, err := d.RightFootWrench()
	if err != nil {
		return [2]float64{}, err
	}
	leftZMP, leftFz := zmpOfWrench(left, d.leftToWorld)
	rightZMP, rightFz := zmpOfWrench(right, d.rightToWorld)

	total := leftFz + rightFz
	if total < zmpForceThreshold {
		return [2]float64{}, ErrZMPUndefined
	}
	return [2]float64{
		(leftFz*leftZMP.X + rightFz*rightZMP.X) / total,
		(leftFz*leftZMP.Y + rightFz*rightZMP.Y) / total,
	}, nil
}
