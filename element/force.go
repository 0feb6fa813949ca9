package element

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/bipedlab/taskqp/spatial"
)

// ForceConstraint keeps one contact wrench inside the linearized friction
// cone, above the minimal normal force, and with its center of pressure
// inside the physical foot rectangle. The wrench unknowns are world-frame;
// the rows are written in the foot frame and composed with the transpose of
// the foot rotation.
//
// Row layout: coneRows friction-cone half spaces, then two torsional
// friction rows, the unilaterality row, and four center-of-pressure rows.
type ForceConstraint struct {
	Base

	numberOfPoints     int
	staticFriction     float64
	torsionalFriction  float64
	minimalNormalForce float64
	footLimitX         [2]float64
	footLimitY         [2]float64

	coneRows    int
	coneLocal   *mat.Dense // rows x 6, foot-frame coefficients, fixed
	footToWorld spatial.Transform

	active bool
}

// ForceConstraintParams collects the friction and foot-geometry parameters.
type ForceConstraintParams struct {
	NumberOfPoints     int
	StaticFriction     float64
	TorsionalFriction  float64
	MinimalNormalForce float64
	FootLimitX         [2]float64 // min, max along the foot x axis
	FootLimitY         [2]float64 // min, max along the foot y axis
}

// NewForceConstraint builds the constraint and precomputes the foot-frame
// coefficient matrix, which never changes.
func NewForceConstraint(p ForceConstraintParams) (*ForceConstraint, error) {
	if p.NumberOfPoints < 2 {
		return nil, fmt.Errorf("friction cone needs at least 2 points per quadrant, got %d", p.NumberOfPoints)
	}
	if p.MinimalNormalForce < 0 {
		return nil, fmt.Errorf("minimal normal force must be nonnegative, got %g", p.MinimalNormalForce)
	}
	if p.FootLimitX[0] >= p.FootLimitX[1] || p.FootLimitY[0] >= p.FootLimitY[1] {
		return nil, fmt.Errorf("foot limits must be ordered min < max, got x=%v y=%v", p.FootLimitX, p.FootLimitY)
	}

	coneRows := 4*(p.NumberOfPoints-2) + 4
	c := &ForceConstraint{
		numberOfPoints:     p.NumberOfPoints,
		staticFriction:     p.StaticFriction,
		torsionalFriction:  p.TorsionalFriction,
		minimalNormalForce: p.MinimalNormalForce,
		footLimitX:         p.FootLimitX,
		footLimitY:         p.FootLimitY,
		coneRows:           coneRows,
		coneLocal:          mat.NewDense(coneRows+7, 6, nil),
		footToWorld:        spatial.NewTransform(spatial.Identity(), r3.Vector{}),
		active:             true,
	}
	c.setSize(coneRows + 7)
	c.buildConeLocal()
	return c, nil
}

func (c *ForceConstraint) buildConeLocal() {
	// The tangential friction bound is a circle of radius mu*Fz; the
	// circle is sampled at coneRows points and each consecutive pair
	// yields one half-space row on (fx, fy, Fz).
	segmentAngle := math.Pi / 2 / float64(c.numberOfPoints-1)

	angles := make([]float64, c.coneRows)
	pointsX := make([]float64, c.coneRows)
	pointsY := make([]float64, c.coneRows)
	for i := 0; i < c.coneRows; i++ {
		angles[i] = float64(i) * segmentAngle
		pointsX[i] = math.Cos(angles[i])
		pointsY[i] = math.Sin(angles[i])
	}

	for i := 0; i < c.coneRows; i++ {
		next := (i + 1) % c.coneRows
		slope := (pointsY[next] - pointsY[i]) / (pointsX[next] - pointsX[i])
		offset := pointsY[i] - slope*pointsX[i]

		factor := 1.0
		if angles[i] > math.Pi || angles[next] > math.Pi {
			factor = -1.0
		}

		c.coneLocal.Set(i, 0, -factor*slope)
		c.coneLocal.Set(i, 1, factor)
		c.coneLocal.Set(i, 2, -factor*offset*c.staticFriction)
	}

	// Torsional friction: |tau_z| <= mu_t * Fz.
	c.coneLocal.Set(c.coneRows, 2, -c.torsionalFriction)
	c.coneLocal.Set(c.coneRows, 5, 1)
	c.coneLocal.Set(c.coneRows+1, 2, -c.torsionalFriction)
	c.coneLocal.Set(c.coneRows+1, 5, -1)

	// Unilaterality: -Fz <= -minimalNormalForce.
	c.coneLocal.Set(c.coneRows+2, 2, -1)

	// Center of pressure inside the foot rectangle. CoP_x = -tau_y/Fz,
	// CoP_y = tau_x/Fz.
	c.coneLocal.Set(c.coneRows+3, 2, c.footLimitX[0])
	c.coneLocal.Set(c.coneRows+3, 4, 1)
	c.coneLocal.Set(c.coneRows+4, 2, -c.footLimitX[1])
	c.coneLocal.Set(c.coneRows+4, 4, -1)
	c.coneLocal.Set(c.coneRows+5, 2, c.footLimitY[0])
	c.coneLocal.Set(c.coneRows+5, 3, -1)
	c.coneLocal.Set(c.coneRows+6, 2, -c.footLimitY[1])
	c.coneLocal.Set(c.coneRows+6, 3, 1)
}

// SetFootToWorldTransform copies the foot transform for this cycle.
func (c *ForceConstraint) SetFootToWorldTransform(t spatial.Transform) {
	c.footToWorld = t
}

// SetActive toggles the unilaterality row between an active contact
// (Fz >= minimalNormalForce) and a foot leaving the ground (Fz = 0).
func (c *ForceConstraint) SetActive(active bool) { c.active = active }

// EvaluateJacobian writes coneLocal * blockdiag(R', R'), rotating the
// world-frame wrench into the foot frame before the foot-local rows apply.
func (c *ForceConstraint) EvaluateJacobian(jacobian *sparse.DOK) {
	rot := c.footToWorld.Rot
	rows := c.NumConstraints()
	for i := 0; i < rows; i++ {
		for j := 0; j < 6; j++ {
			var sum float64
			if j < 3 {
				for k := 0; k < 3; k++ {
					// R'(k, j) = R(j, k)
					sum += c.coneLocal.At(i, k) * rot.At(j, k)
				}
			} else {
				for k := 0; k < 3; k++ {
					sum += c.coneLocal.At(i, 3+k) * rot.At(j-3, k)
				}
			}
			jacobian.Set(c.StartingRow()+i, c.StartingColumn()+j, sum)
		}
	}
}

// SetBoundsConstantElements writes the one-sided bounds: every row is
// bounded above by zero except the unilaterality row.
func (c *ForceConstraint) SetBoundsConstantElements(lower, upper []float64) {
	for i := 0; i < c.NumConstraints(); i++ {
		lower[c.StartingRow()+i] = math.Inf(-1)
		upper[c.StartingRow()+i] = 0
	}
	upper[c.StartingRow()+c.coneRows+2] = -c.minimalNormalForce
}

// EvaluateBounds refreshes the unilaterality row, which is the only bound
// that changes when the contact is activated or deactivated.
func (c *ForceConstraint) EvaluateBounds(lower, upper []float64) {
	row := c.StartingRow() + c.coneRows + 2
	if c.active {
		lower[row] = math.Inf(-1)
		upper[row] = -c.minimalNormalForce
	} else {
		lower[row] = 0
		upper[row] = 0
	}
}
