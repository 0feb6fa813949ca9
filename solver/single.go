package solver

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/bipedlab/taskqp/element"
	"github.com/bipedlab/taskqp/spatial"
)

// SingleSupport is the torque solver for the phase with one stance foot on
// the ground and the other one swinging. The variable vector is
// [qddot (6+n); torque (n); stance wrench (6)]. The swing foot tracks a
// full pose trajectory as a hard constraint.
type SingleSupport struct {
	*taskSolver

	stanceContact *element.CartesianConstraint
	swingFoot     *element.CartesianConstraint

	zmpConstraint *element.ZMPConstraintSingleSupport
	stanceForce   *element.ForceConstraint
	forceReg      *element.InputRegularization

	eom *element.SystemDynamicConstraintSingleSupport

	stanceToWorld spatial.Transform
}

// NewSingleSupport builds the single-support solver for systemSize actuated
// joints. A nil logger disables logging.
func NewSingleSupport(cfg Config, systemSize int, log *zap.SugaredLogger) (*SingleSupport, error) {
	base, err := newTaskSolver(cfg, systemSize, log)
	if err != nil {
		return nil, err
	}

	s := &SingleSupport{taskSolver: base}
	n := systemSize
	wrenchCol := base.wrenchOffset()

	s.stanceContact = element.NewCartesianConstraint(element.Contact, 6+n)
	s.swingFoot = element.NewCartesianConstraint(element.Pose, 6+n)
	s.swingFoot.Task.PositionController().SetGains(cfg.Feet.Kp, cfg.Feet.Kd)
	s.swingFoot.Task.OrientationController().SetGains(cfg.Feet.C0, cfg.Feet.C1, cfg.Feet.C2)

	s.stanceForce, err = element.NewForceConstraint(element.ForceConstraintParams{
		NumberOfPoints:     cfg.ContactForces.NumberOfPoints,
		StaticFriction:     cfg.ContactForces.StaticFriction,
		TorsionalFriction:  cfg.ContactForces.TorsionalFriction,
		MinimalNormalForce: cfg.ContactForces.MinimalNormalForce,
		FootLimitX:         cfg.ContactForces.FootLimitX,
		FootLimitY:         cfg.ContactForces.FootLimitY,
	})
	if err != nil {
		return nil, errors.Wrap(err, "stance force constraint")
	}
	s.eom = element.NewSystemDynamicConstraintSingleSupport(n)
	base.dynamics = s.eom

	if base.comConstraint != nil {
		base.addConstraint(base.comConstraint, 0)
	}
	base.addConstraint(s.stanceContact, 0)
	base.addConstraint(s.swingFoot, 0)
	if cfg.ZMP != nil {
		s.zmpConstraint = element.NewZMPConstraintSingleSupport()
		base.addConstraint(s.zmpConstraint, wrenchCol)
		base.zmp = s.zmpConstraint
	}
	base.addConstraint(s.stanceForce, wrenchCol)
	base.addConstraint(s.eom, 0)
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
		s.forceReg = element.NewInputRegularization(6)
		if err := s.forceReg.SetWeight(cfg.ForceReg.Weight); err != nil {
			return nil, errors.Wrap(err, "force regularization")
		}
		base.addCost(s.forceReg, wrenchCol)
	}

	if err := base.allocate(6 + 2*n + 6); err != nil {
		return nil, err
	}
	base.log.Infow("single support solver built",
		"variables", base.numVariables, "constraints", base.numConstraints)
	return s, nil
}

// SetFeetState sets the stance foot transform and the swing foot feedback
// for this cycle.
func (s *SingleSupport) SetFeetState(stance spatial.Transform, swing spatial.Transform, swingVelocity spatial.Twist) {
	s.stanceToWorld = stance
	s.stanceForce.SetFootToWorldTransform(stance)
	if s.zmpConstraint != nil {
		s.zmpConstraint.SetStanceFootTransform(stance)
	}
	s.swingFoot.Task.PositionController().SetFeedback(swingVelocity.Linear, swing.Pos)
	s.swingFoot.Task.OrientationController().SetFeedback(swingVelocity.Angular, swing.Rot)
	s.feetStateSet = true
}

// SetDesiredFeetTrajectory sets the swing foot reference: feedforward
// acceleration, desired velocity and desired pose.
func (s *SingleSupport) SetDesiredFeetTrajectory(acceleration, velocity spatial.Twist, pose spatial.Transform) {
	s.swingFoot.Task.PositionController().SetDesiredTrajectory(
		acceleration.Linear, velocity.Linear, pose.Pos)
	s.swingFoot.Task.OrientationController().SetDesiredTrajectory(
		acceleration.Angular, velocity.Angular, pose.Rot)
}

// SetFeetJacobians sets the stance and swing 6x(6+n) Jacobians.
func (s *SingleSupport) SetFeetJacobians(stance, swing mat.Matrix) error {
	if err := s.stanceContact.SetJacobian(stance); err != nil {
		return errors.Wrap(err, "stance foot")
	}
	if err := s.swingFoot.SetJacobian(swing); err != nil {
		return errors.Wrap(err, "swing foot")
	}
	if err := s.eom.SetStanceFootJacobian(stance); err != nil {
		return err
	}
	s.feetJacobianSet = true
	return nil
}

// SetFeetBiasAcceleration sets the stance and swing bias accelerations.
func (s *SingleSupport) SetFeetBiasAcceleration(stance, swing []float64) error {
	if err := s.stanceContact.SetBiasAcceleration(stance); err != nil {
		return errors.Wrap(err, "stance foot")
	}
	return errors.Wrap(s.swingFoot.SetBiasAcceleration(swing), "swing foot")
}

// SetContactActive toggles the stance unilaterality row.
func (s *SingleSupport) SetContactActive(active bool) {
	s.stanceForce.SetActive(active)
}

// Solve runs one control cycle.
func (s *SingleSupport) Solve() error {
	if err := s.checkReady(); err != nil {
		return err
	}
	return s.run()
}

// StanceFootWrench returns the stance contact wrench of the last solution,
// in world coordinates, or ErrNoSolution before the first successful Solve.
func (s *SingleSupport) StanceFootWrench() (spatial.Wrench, error) {
	return s.wrenchAt(s.wrenchOffset())
}

// ZMP returns the measured zero moment point implied by the last solution.
// It fails when no solution exists yet or when the stance normal force is
// below the threshold.
func (s *SingleSupport) ZMP() ([2]float64, error) {
	wrench, err := s.StanceFootWrench()
	if err != nil {
		return [2]float64{}, err
	}
	zmp, fz := zmpOfWrench(wrench, s.stanceToWorld)
	if fz < zmpForceThreshold {
		return [2]float64{}, ErrZMPUndefined
	}
	return [2]float64{zmp.X, zmp.Y}, nil
}
