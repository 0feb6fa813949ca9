package element

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/bipedlab/taskqp/pid"
)

// TaskType selects which Cartesian coordinates a task controls.
type TaskType int

const (
	// Pose controls position and orientation (6 rows).
	Pose TaskType = iota
	// Position controls the linear coordinates only (3 rows).
	Position
	// Orientation controls the angular coordinates only (3 rows).
	Orientation
	// OneDimension controls a single linear coordinate, e.g. the CoM
	// height (1 row).
	OneDimension
	// Contact pins a frame rigidly to the ground: the desired acceleration
	// is identically zero and no feedback controller is attached (6 rows).
	Contact
)

func (t TaskType) rows() int {
	switch t {
	case Pose, Contact:
		return 6
	case Position, Orientation:
		return 3
	case OneDimension:
		return 1
	}
	return 0
}

// CartesianTask is the physical-task descriptor shared by the Cartesian
// constraint and cost elements: a Jacobian, a bias acceleration and the
// feedback controllers producing the desired acceleration. The Jacobian and
// bias are owned copies refreshed by the solver every cycle; the task never
// aliases caller memory.
type CartesianTask struct {
	taskType TaskType
	numRows  int

	jacobian *mat.Dense
	biasAcc  []float64

	position    *pid.Linear
	orientation *pid.Rotational

	desiredAcc []float64
}

// NewCartesianTask allocates a task of the given type with a Jacobian of
// jacobianCols columns (6 + actuated DOFs).
func NewCartesianTask(taskType TaskType, jacobianCols int) *CartesianTask {
	rows := taskType.rows()
	t := &CartesianTask{
		taskType:   taskType,
		numRows:    rows,
		jacobian:   mat.NewDense(rows, jacobianCols, nil),
		biasAcc:    make([]float64, rows),
		desiredAcc: make([]float64, rows),
	}

	switch taskType {
	case Pose:
		t.position = pid.NewLinear()
		t.orientation = pid.NewRotational()
	case Position, OneDimension:
		t.position = pid.NewLinear()
	case Orientation:
		t.orientation = pid.NewRotational()
	}
	return t
}

// Rows returns the number of task coordinates.
func (t *CartesianTask) Rows() int { return t.numRows }

// PositionController returns the linear controller, or nil if the task type
// has none.
func (t *CartesianTask) PositionController() *pid.Linear { return t.position }

// OrientationController returns the attitude controller, or nil if the task
// type has none.
func (t *CartesianTask) OrientationController() *pid.Rotational { return t.orientation }

// SetJacobian copies the task Jacobian for this cycle.
func (t *CartesianTask) SetJacobian(jacobian mat.Matrix) error {
	r, c := jacobian.Dims()
	tr, tc := t.jacobian.Dims()
	if r != tr || c != tc {
		return fmt.Errorf("jacobian is %dx%d, task needs %dx%d", r, c, tr, tc)
	}
	t.jacobian.Copy(jacobian)
	return nil
}

// SetBiasAcceleration copies the bias acceleration for this cycle.
func (t *CartesianTask) SetBiasAcceleration(biasAcc []float64) error {
	if len(biasAcc) != t.numRows {
		return fmt.Errorf("bias acceleration has %d rows, task needs %d", len(biasAcc), t.numRows)
	}
	copy(t.biasAcc, biasAcc)
	return nil
}

// evaluateDesiredAcceleration refreshes the desired acceleration from the
// attached controllers. A Contact task is a pure holonomic constraint and
// keeps zero desired acceleration.
func (t *CartesianTask) evaluateDesiredAcceleration() {
	switch t.taskType {
	case Pose:
		t.position.EvaluateControl()
		t.orientation.EvaluateControl()
		writeVec3(t.desiredAcc[0:3], t.position.Control())
		writeVec3(t.desiredAcc[3:6], t.orientation.Control())
	case Position:
		t.position.EvaluateControl()
		writeVec3(t.desiredAcc, t.position.Control())
	case Orientation:
		t.orientation.EvaluateControl()
		writeVec3(t.desiredAcc, t.orientation.Control())
	case OneDimension:
		t.position.EvaluateControl()
		t.desiredAcc[0] = t.position.Control().Z
	case Contact:
		for i := range t.desiredAcc {
			t.desiredAcc[i] = 0
		}
	}
}

func writeVec3(dst []float64, v r3.Vector) {
	dst[0] = v.X
	dst[1] = v.Y
	dst[2] = v.Z
}

// CartesianConstraint enforces J*qddot = desiredAcceleration - biasAcceleration
// as a two-sided bound. The Jacobian block starts at the acceleration
// variables.
type CartesianConstraint struct {
	Base
	Task *CartesianTask
}

// NewCartesianConstraint builds a Cartesian constraint of the given type.
func NewCartesianConstraint(taskType TaskType, jacobianCols int) *CartesianConstraint {
	c := &CartesianConstraint{Task: NewCartesianTask(taskType, jacobianCols)}
	c.setSize(c.Task.Rows())
	return c
}

// SetJacobian copies the task Jacobian for this cycle.
func (c *CartesianConstraint) SetJacobian(jacobian mat.Matrix) error {
	return c.Task.SetJacobian(jacobian)
}

// SetBiasAcceleration copies the bias acceleration for this cycle.
func (c *CartesianConstraint) SetBiasAcceleration(biasAcc []float64) error {
	return c.Task.SetBiasAcceleration(biasAcc)
}

// EvaluateJacobian writes the task Jacobian into the element's rows.
func (c *CartesianConstraint) EvaluateJacobian(jacobian *sparse.DOK) {
	rows, cols := c.Task.jacobian.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			jacobian.Set(c.StartingRow()+i, c.StartingColumn()+j, c.Task.jacobian.At(i, j))
		}
	}
}

// EvaluateBounds writes the equality bounds
// lower = upper = desiredAcceleration - biasAcceleration.
func (c *CartesianConstraint) EvaluateBounds(lower, upper []float64) {
	c.Task.evaluateDesiredAcceleration()
	for i := 0; i < c.Task.Rows(); i++ {
		v := c.Task.desiredAcc[i] - c.Task.biasAcc[i]
		lower[c.StartingRow()+i] = v
		upper[c.StartingRow()+i] = v
	}
}

// CartesianCost tracks the same desired acceleration as a weighted
// least-squares term:
//
//	Hessian  += J' W J
//	Gradient += -J' W (desiredAcceleration - biasAcceleration)
type CartesianCost struct {
	Base
	Task   *CartesianTask
	weight []float64
}

// NewCartesianCost builds a Cartesian cost of the given type.
func NewCartesianCost(taskType TaskType, jacobianCols int) *CartesianCost {
	c := &CartesianCost{
		Task:   NewCartesianTask(taskType, jacobianCols),
		weight: make([]float64, taskType.rows()),
	}
	c.setSize(c.Task.Rows())
	return c
}

// SetJacobian copies the task Jacobian for this cycle.
func (c *CartesianCost) SetJacobian(jacobian mat.Matrix) error {
	return c.Task.SetJacobian(jacobian)
}

// SetBiasAcceleration copies the bias acceleration for this cycle.
func (c *CartesianCost) SetBiasAcceleration(biasAcc []float64) error {
	return c.Task.SetBiasAcceleration(biasAcc)
}

// SetWeight copies the per-coordinate weight vector.
func (c *CartesianCost) SetWeight(weight []float64) error {
	if len(weight) != c.Task.Rows() {
		return fmt.Errorf("weight has %d entries, task needs %d", len(weight), c.Task.Rows())
	}
	copy(c.weight, weight)
	return nil
}

// EvaluateHessian accumulates J' W J over the acceleration variables.
func (c *CartesianCost) EvaluateHessian(hessian *sparse.DOK) {
	rows, cols := c.Task.jacobian.Dims()
	for j := 0; j < cols; j++ {
		for k := 0; k < cols; k++ {
			var sum float64
			for i := 0; i < rows; i++ {
				sum += c.Task.jacobian.At(i, j) * c.weight[i] * c.Task.jacobian.At(i, k)
			}
			addAt(hessian, c.StartingRow()+j, c.StartingRow()+k, sum)
		}
	}
}

// EvaluateGradient accumulates -J' W (desiredAcceleration - biasAcceleration).
func (c *CartesianCost) EvaluateGradient(gradient []float64) {
	c.Task.evaluateDesiredAcceleration()
	rows, cols := c.Task.jacobian.Dims()
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += c.Task.jacobian.At(i, j) * c.weight[i] * (c.Task.desiredAcc[i] - c.Task.biasAcc[i])
		}
		gradient[c.StartingRow()+j] -= sum
	}
}
