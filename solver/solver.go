// Package solver assembles the whole-body task-based torque QP and drives
// it once per control cycle. Two variants exist, one per support phase:
// DoubleSupport with both feet on the ground and SingleSupport with a
// stance and a swing foot.
//
// The optimization variable is [qddot (6+n); torque (n); wrench (6 per
// contact)]. Constraint elements own disjoint rows of the constraint
// matrix; cost elements accumulate into the Hessian and gradient.
package solver

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/james-bowman/sparse"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/bipedlab/taskqp/element"
	"github.com/bipedlab/taskqp/qp"
	"github.com/bipedlab/taskqp/spatial"
)

var (
	// ErrNotInitialized is returned by Solve before the solver is built.
	ErrNotInitialized = errors.New("solver not initialized")
	// ErrStateNotReady is returned by Solve while a mandatory input (mass
	// matrix, bias forces, feet state or feet Jacobians) has never been set.
	ErrStateNotReady = errors.New("robot state not fully set")
	// ErrZMPUndefined is returned by ZMP when the total normal force is too
	// small for the measured zero moment point to mean anything.
	ErrZMPUndefined = errors.New("zmp undefined: normal force below threshold")
	// ErrNoSolution is returned by the solution getters until a Solve has
	// succeeded.
	ErrNoSolution = errors.New("no solution available yet")
)

const (
	// feasibilityTolerance is the absolute slack allowed when checking the
	// returned solution against the constraint bounds.
	feasibilityTolerance = 0.5
	// zmpForceThreshold is the minimum normal force, in newtons, under
	// which the zero moment point is reported as undefined.
	zmpForceThreshold = 10.0
)

// Diagnostics reports the last Solve.
type Diagnostics struct {
	SolveTime time.Duration
	QP        qp.Stats
	Feasible  bool
}

// dynamicsElement is the phase-specific equations-of-motion constraint.
type dynamicsElement interface {
	element.Constraint
	SetMassMatrix(mat.Matrix) error
	SetGeneralizedBiasForces([]float64) error
}

// zmpElement is the phase-specific zero-moment-point constraint.
type zmpElement interface {
	SetDesiredZMP(zmp [2]float64)
}

// taskSolver is the part shared by both support phases: the element lists,
// the global buffers, the QP backend and every task that does not depend
// on the contact configuration.
type taskSolver struct {
	log *zap.SugaredLogger
	cfg Config

	systemSize     int
	numVariables   int
	numConstraints int

	constraints []element.Constraint
	costs       []element.Cost

	jacobian *sparse.DOK
	gradient []float64
	lower    []float64
	upper    []float64

	backend qp.Backend

	solution        []float64
	jointTorques    []float64
	previousTorques []float64
	scratchAx       []float64
	feasible        bool
	diagnostics     Diagnostics

	comConstraint *element.CartesianConstraint
	comCost       *element.CartesianCost
	neckCost      *element.CartesianCost
	jointReg      *element.JointRegularization
	torqueReg     *element.InputRegularization
	rateOfChange  *element.RateOfChangeConstraint
	torqueLimits  *element.VariableLimitsConstraint
	dynamics      dynamicsElement
	zmp           zmpElement

	additionalRotation     spatial.Rotation
	desiredNeckOrientation spatial.Rotation

	initialized      bool
	solved           bool
	dynamicsStateSet bool
	feetStateSet     bool
	feetJacobianSet  bool
}

// newTaskSolver builds the phase-independent tasks from the configuration.
func newTaskSolver(cfg Config, systemSize int, log *zap.SugaredLogger) (*taskSolver, error) {
	if err := cfg.Validate(systemSize); err != nil {
		return nil, errors.Wrap(err, "invalid solver config")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &taskSolver{
		log:                    log,
		cfg:                    cfg,
		systemSize:             systemSize,
		additionalRotation:     spatial.Identity(),
		desiredNeckOrientation: spatial.Identity(),
	}
	n := systemSize

	if cfg.CoM != nil {
		taskType := element.Position
		if cfg.CoM.HeightOnly {
			taskType = element.OneDimension
		}
		if cfg.CoM.AsConstraint {
			s.comConstraint = element.NewCartesianConstraint(taskType, 6+n)
			s.comConstraint.Task.PositionController().SetGains(cfg.CoM.Kp, cfg.CoM.Kd)
		} else {
			s.comCost = element.NewCartesianCost(taskType, 6+n)
			s.comCost.Task.PositionController().SetGains(cfg.CoM.Kp, cfg.CoM.Kd)
			if err := s.comCost.SetWeight(cfg.CoM.Weight); err != nil {
				return nil, errors.Wrap(err, "com task")
			}
		}
	}

	if cfg.NeckOrientation != nil {
		s.neckCost = element.NewCartesianCost(element.Orientation, 6+n)
		s.neckCost.Task.OrientationController().SetGains(
			cfg.NeckOrientation.C0, cfg.NeckOrientation.C1, cfg.NeckOrientation.C2)
		if err := s.neckCost.SetWeight(cfg.NeckOrientation.Weight); err != nil {
			return nil, errors.Wrap(err, "neck task")
		}
		rpy := cfg.NeckOrientation.AdditionalRotationRPY
		s.additionalRotation = spatial.RotZ(rpy[2]).Mul(spatial.RotY(rpy[1])).Mul(spatial.RotX(rpy[0]))
	}

	s.jointReg = element.NewJointRegularization(n)
	if err := s.jointReg.SetWeight(cfg.JointReg.Weight); err != nil {
		return nil, errors.Wrap(err, "joint regularization")
	}
	if err := s.jointReg.SetGains(cfg.JointReg.Kp, cfg.JointReg.Kd); err != nil {
		return nil, errors.Wrap(err, "joint regularization")
	}

	s.torqueReg = element.NewInputRegularization(n)
	if err := s.torqueReg.SetWeight(cfg.TorqueReg.Weight); err != nil {
		return nil, errors.Wrap(err, "torque regularization")
	}

	if cfg.RateOfChange != nil {
		s.rateOfChange = element.NewRateOfChangeConstraint(n)
		if err := s.rateOfChange.SetMaximumRateOfChange(cfg.RateOfChange.MaximumTorqueRate); err != nil {
			return nil, errors.Wrap(err, "torque rate of change")
		}
	}

	if cfg.TorqueLimits != nil {
		limits, err := element.NewVariableLimitsConstraint(cfg.TorqueLimits.Min, cfg.TorqueLimits.Max)
		if err != nil {
			return nil, errors.Wrap(err, "torque limits")
		}
		s.torqueLimits = limits
	}

	return s, nil
}

// Variable block offsets inside the solution vector:
// [qddot (6+n); torque (n); wrenches (6 each)].

func (s *taskSolver) torqueOffset() int { return 6 + s.systemSize }

func (s *taskSolver) wrenchOffset() int { return 6 + 2*s.systemSize }

// addConstraint stacks a constraint under the previous ones; col is the
// first variable column its Jacobian block touches.
func (s *taskSolver) addConstraint(c element.Constraint, col int) {
	c.SetStartingPosition(s.numConstraints, col)
	s.numConstraints += c.NumConstraints()
	s.constraints = append(s.constraints, c)
}

// addCost anchors a cost block at the given variable offset.
func (s *taskSolver) addCost(c element.Cost, offset int) {
	c.SetStartingPosition(offset, offset)
	s.costs = append(s.costs, c)
}

// allocate sizes the global buffers, writes the constant constraint
// coefficients and initializes the backend.
func (s *taskSolver) allocate(numVariables int) error {
	s.numVariables = numVariables
	s.jacobian = sparse.NewDOK(s.numConstraints, s.numVariables)
	s.gradient = make([]float64, s.numVariables)
	s.lower = make([]float64, s.numConstraints)
	s.upper = make([]float64, s.numConstraints)
	s.solution = make([]float64, s.numVariables)
	s.jointTorques = make([]float64, s.systemSize)
	s.previousTorques = make([]float64, s.systemSize)
	s.scratchAx = make([]float64, s.numConstraints)

	for _, c := range s.constraints {
		c.SetJacobianConstantElements(s.jacobian)
		c.SetBoundsConstantElements(s.lower, s.upper)
	}

	s.backend = qp.NewADMM(qp.DefaultADMMSettings())
	if err := s.backend.Init(s.numVariables, s.numConstraints); err != nil {
		return errors.Wrap(err, "init qp backend")
	}
	s.initialized = true
	return nil
}

// run performs one control cycle: refresh every element, hand the problem
// to the backend and extract the solution.
func (s *taskSolver) run() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.rateOfChange != nil {
		if err := s.rateOfChange.SetPreviousValues(s.previousTorques); err != nil {
			return errors.Wrap(err, "torque rate of change")
		}
	}

	// The Hessian and gradient are accumulators: rebuild them from scratch
	// so overlapping cost blocks sum correctly. The constraint matrix and
	// bounds persist; elements overwrite only their changing entries.
	hessian := sparse.NewDOK(s.numVariables, s.numVariables)
	for i := range s.gradient {
		s.gradient[i] = 0
	}
	for _, c := range s.costs {
		c.SetHessianConstantElements(hessian)
		c.EvaluateHessian(hessian)
		c.SetGradientConstantElements(s.gradient)
		c.EvaluateGradient(s.gradient)
	}
	for _, c := range s.constraints {
		c.EvaluateJacobian(s.jacobian)
		c.EvaluateBounds(s.lower, s.upper)
	}

	start := time.Now()
	if err := s.backend.SetHessian(hessian); err != nil {
		return errors.Wrap(err, "set hessian")
	}
	if err := s.backend.SetGradient(s.gradient); err != nil {
		return errors.Wrap(err, "set gradient")
	}
	if err := s.backend.SetConstraintMatrix(s.jacobian); err != nil {
		return errors.Wrap(err, "set constraint matrix")
	}
	if err := s.backend.SetBounds(s.lower, s.upper); err != nil {
		return errors.Wrap(err, "set bounds")
	}
	if err := s.backend.Solve(); err != nil {
		return errors.Wrap(err, "qp solve")
	}

	copy(s.solution, s.backend.Solution())
	copy(s.jointTorques, s.solution[s.torqueOffset():s.torqueOffset()+s.systemSize])
	copy(s.previousTorques, s.jointTorques)
	s.solved = true

	s.feasible = s.checkFeasibility()
	s.diagnostics = Diagnostics{
		SolveTime: time.Since(start),
		QP:        s.backend.Stats(),
		Feasible:  s.feasible,
	}
	if !s.feasible {
		s.log.Warnw("solution violates constraint bounds",
			"tolerance", feasibilityTolerance,
			"iterations", s.diagnostics.QP.Iterations)
	}
	return nil
}

// checkFeasibility verifies the returned solution against the constraint
// bounds within feasibilityTolerance.
func (s *taskSolver) checkFeasibility() bool {
	for i := range s.scratchAx {
		s.scratchAx[i] = 0
	}
	s.jacobian.DoNonZero(func(i, j int, v float64) {
		s.scratchAx[i] += v * s.solution[j]
	})
	for i, v := range s.scratchAx {
		if v < s.lower[i]-feasibilityTolerance || v > s.upper[i]+feasibilityTolerance {
			return false
		}
	}
	return true
}

// SetMassMatrix sets the (6+n)x(6+n) floating-base mass matrix.
func (s *taskSolver) SetMassMatrix(massMatrix mat.Matrix) error {
	if err := s.dynamics.SetMassMatrix(massMatrix); err != nil {
		return err
	}
	s.dynamicsStateSet = true
	return nil
}

// SetGeneralizedBiasForces sets the Coriolis, centrifugal and gravity
// forces vector.
func (s *taskSolver) SetGeneralizedBiasForces(biasForces []float64) error {
	return s.dynamics.SetGeneralizedBiasForces(biasForces)
}

// SetDesiredJointTrajectory sets the postural reference. Positions are in
// degrees when the configuration says so.
func (s *taskSolver) SetDesiredJointTrajectory(position, velocity, acceleration []float64) error {
	return s.jointReg.SetDesiredJointTrajectory(s.anglesIn(position), velocity, acceleration)
}

// SetInternalRobotState sets the measured joint position and velocity.
func (s *taskSolver) SetInternalRobotState(position, velocity []float64) error {
	return s.jointReg.SetJointState(s.anglesIn(position), velocity)
}

func (s *taskSolver) anglesIn(position []float64) []float64 {
	if !s.cfg.JointPositionsDeg {
		return position
	}
	converted := make([]float64, len(position))
	for i, v := range position {
		converted[i] = v * math.Pi / 180
	}
	return converted
}

func (s *taskSolver) comTask() *element.CartesianTask {
	if s.comConstraint != nil {
		return s.comConstraint.Task
	}
	if s.comCost != nil {
		return s.comCost.Task
	}
	return nil
}

// SetDesiredCoMTrajectory sets the center-of-mass reference. A no-op when
// the CoM task is not configured.
func (s *taskSolver) SetDesiredCoMTrajectory(acceleration, velocity, position r3.Vector) {
	if task := s.comTask(); task != nil {
		task.PositionController().SetDesiredTrajectory(acceleration, velocity, position)
	}
}

// SetCoMState sets the measured center-of-mass velocity and position.
func (s *taskSolver) SetCoMState(velocity, position r3.Vector) {
	if task := s.comTask(); task != nil {
		task.PositionController().SetFeedback(velocity, position)
	}
}

// SetCoMJacobian sets the center-of-mass Jacobian for this cycle.
func (s *taskSolver) SetCoMJacobian(jacobian mat.Matrix) error {
	if task := s.comTask(); task != nil {
		return task.SetJacobian(jacobian)
	}
	return nil
}

// SetCoMBiasAcceleration sets the center-of-mass bias acceleration.
func (s *taskSolver) SetCoMBiasAcceleration(biasAcc []float64) error {
	if task := s.comTask(); task != nil {
		return task.SetBiasAcceleration(biasAcc)
	}
	return nil
}

// SetDesiredZMP sets the desired global zero moment point. A no-op when the
// ZMP constraint is not configured.
func (s *taskSolver) SetDesiredZMP(zmp [2]float64) {
	if s.zmp != nil {
		s.zmp.SetDesiredZMP(zmp)
	}
}

// SetDesiredNeckTrajectory sets the neck orientation reference. The
// configured additional rotation is composed into the desired orientation.
func (s *taskSolver) SetDesiredNeckTrajectory(acceleration, velocity r3.Vector, orientation spatial.Rotation) {
	if s.neckCost == nil {
		return
	}
	s.desiredNeckOrientation = orientation.Mul(s.additionalRotation)
	s.neckCost.Task.OrientationController().SetDesiredTrajectory(
		acceleration, velocity, s.desiredNeckOrientation)
}

// SetNeckState sets the measured neck angular velocity and orientation.
func (s *taskSolver) SetNeckState(velocity r3.Vector, orientation spatial.Rotation) {
	if s.neckCost != nil {
		s.neckCost.Task.OrientationController().SetFeedback(velocity, orientation)
	}
}

// SetNeckJacobian sets the neck Jacobian for this cycle.
func (s *taskSolver) SetNeckJacobian(jacobian mat.Matrix) error {
	if s.neckCost != nil {
		return s.neckCost.SetJacobian(jacobian)
	}
	return nil
}

// SetNeckBiasAcceleration sets the neck bias acceleration.
func (s *taskSolver) SetNeckBiasAcceleration(biasAcc []float64) error {
	if s.neckCost != nil {
		return s.neckCost.SetBiasAcceleration(biasAcc)
	}
	return nil
}

// DesiredNeckOrientationRPY returns the roll, pitch, yaw of the desired
// neck orientation after the additional rotation was composed in.
func (s *taskSolver) DesiredNeckOrientationRPY() (roll, pitch, yaw float64) {
	return s.desiredNeckOrientation.RPY()
}

// NumberOfVariables returns the QP variable count.
func (s *taskSolver) NumberOfVariables() int { return s.numVariables }

// NumberOfConstraints returns the stacked constraint row count.
func (s *taskSolver) NumberOfConstraints() int { return s.numConstraints }

// JointTorques returns a copy of the joint torque block of the last
// solution, or ErrNoSolution before the first successful Solve.
func (s *taskSolver) JointTorques() ([]float64, error) {
	if !s.solved {
		return nil, ErrNoSolution
	}
	return append([]float64(nil), s.jointTorques...), nil
}

// Solution returns a copy of the full last solution, or ErrNoSolution
// before the first successful Solve.
func (s *taskSolver) Solution() ([]float64, error) {
	if !s.solved {
		return nil, ErrNoSolution
	}
	return append([]float64(nil), s.solution...), nil
}

// IsSolutionFeasible reports whether the last solution satisfied every
// constraint within the feasibility tolerance.
func (s *taskSolver) IsSolutionFeasible() bool { return s.feasible }

// Diagnostics returns timing and backend statistics of the last Solve.
func (s *taskSolver) Diagnostics() Diagnostics { return s.diagnostics }

// checkReady verifies every mandatory input was pushed at least once.
func (s *taskSolver) checkReady() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if !s.dynamicsStateSet || !s.feetStateSet || !s.feetJacobianSet {
		return ErrStateNotReady
	}
	return nil
}

// wrenchAt reads a wrench block of the solution. It fails before the first
// successful solve.
func (s *taskSolver) wrenchAt(offset int) (spatial.Wrench, error) {
	if !s.solved {
		return spatial.Wrench{}, ErrNoSolution
	}
	w, _ := spatial.WrenchFromSlice(s.solution[offset : offset+6])
	return w, nil
}

// zmpOfWrench maps a world-frame contact wrench to the local center of
// pressure and returns it in world coordinates together with the local
// normal force.
func zmpOfWrench(w spatial.Wrench, footToWorld spatial.Transform) (r3.Vector, float64) {
	inv := footToWorld.Rot.Inverse()
	force := inv.MulVec(w.Force)
	torque := inv.MulVec(w.Torque)
	if force.Z == 0 {
		return footToWorld.Pos, 0
	}
	local := r3.Vector{X: -torque.Y / force.Z, Y: torque.X / force.Z}
	return footToWorld.Apply(local), force.Z
}
