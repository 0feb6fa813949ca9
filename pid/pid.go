// Package pid implements the Cartesian feedback laws that turn tracking
// error into a desired acceleration: a linear PD controller for positions
// and a three-gain attitude controller for orientations.
package pid

import (
	"github.com/golang/geo/r3"

	"github.com/bipedlab/taskqp/spatial"
)

// Linear is a PD controller with acceleration feedforward:
//
//	output = accel_des + kp*(pos_des - pos) + kd*(vel_des - vel)
//
// Gains may be scalar or per-axis.
type Linear struct {
	kp, kd r3.Vector

	desiredAcceleration r3.Vector
	desiredVelocity     r3.Vector
	desiredPosition     r3.Vector

	velocity r3.Vector
	position r3.Vector

	output r3.Vector
}

// NewLinear returns a linear controller with zero gains.
func NewLinear() *Linear { return &Linear{} }

// SetGains sets scalar proportional and derivative gains on all axes.
func (c *Linear) SetGains(kp, kd float64) {
	c.kp = r3.Vector{X: kp, Y: kp, Z: kp}
	c.kd = r3.Vector{X: kd, Y: kd, Z: kd}
}

// SetGainsPerAxis sets per-axis proportional and derivative gains.
func (c *Linear) SetGainsPerAxis(kp, kd r3.Vector) {
	c.kp = kp
	c.kd = kd
}

// SetDesiredTrajectory sets the feedforward acceleration and the desired
// velocity and position.
func (c *Linear) SetDesiredTrajectory(acceleration, velocity, position r3.Vector) {
	c.desiredAcceleration = acceleration
	c.desiredVelocity = velocity
	c.desiredPosition = position
}

// SetFeedback sets the measured velocity and position.
func (c *Linear) SetFeedback(velocity, position r3.Vector) {
	c.velocity = velocity
	c.position = position
}

// EvaluateControl computes the controller output.
func (c *Linear) EvaluateControl() {
	err := c.desiredPosition.Sub(c.position)
	dotErr := c.desiredVelocity.Sub(c.velocity)

	c.output = r3.Vector{
		X: c.desiredAcceleration.X + c.kp.X*err.X + c.kd.X*dotErr.X,
		Y: c.desiredAcceleration.Y + c.kp.Y*err.Y + c.kd.Y*dotErr.Y,
		Z: c.desiredAcceleration.Z + c.kp.Z*err.Z + c.kd.Z*dotErr.Z,
	}
}

// Control returns the last evaluated output.
func (c *Linear) Control() r3.Vector { return c.output }

// Rotational is the attitude controller
//
//	output = accel_des - c0*dotError - c1*(vel - vel_des) - c2*error
//
// where error is the vee of the rotation error R * R_des^-1. See Olfati-Saber,
// "Nonlinear Control of Underactuated Mechanical Systems" sec. 5.11.6.
type Rotational struct {
	c0, c1, c2 float64

	desiredAcceleration r3.Vector
	desiredVelocity     r3.Vector
	desiredOrientation  spatial.Rotation

	velocity    r3.Vector
	orientation spatial.Rotation

	output r3.Vector
}

// NewRotational returns an attitude controller with zero gains and identity
// orientations.
func NewRotational() *Rotational {
	return &Rotational{
		desiredOrientation: spatial.Identity(),
		orientation:        spatial.Identity(),
	}
}

// SetGains sets the three attitude gains.
func (c *Rotational) SetGains(c0, c1, c2 float64) {
	c.c0 = c0
	c.c1 = c1
	c.c2 = c2
}

// SetDesiredTrajectory sets the feedforward angular acceleration and the
// desired angular velocity and orientation.
func (c *Rotational) SetDesiredTrajectory(acceleration, velocity r3.Vector, orientation spatial.Rotation) {
	c.desiredAcceleration = acceleration
	c.desiredVelocity = velocity
	c.desiredOrientation = orientation
}

// SetFeedback sets the measured angular velocity and orientation.
func (c *Rotational) SetFeedback(velocity r3.Vector, orientation spatial.Rotation) {
	c.velocity = velocity
	c.orientation = orientation
}

// EvaluateControl computes the controller output.
func (c *Rotational) EvaluateControl() {
	errRot := c.orientation.Mul(c.desiredOrientation.Inverse())
	err := spatial.Vee(errRot)

	// dotError = vee(S(omega)*E - E*S(omega)) with E the rotation error.
	s := spatial.Skew(c.velocity)
	dotErr := spatial.Vee(s.Mul(errRot).Add(errRot.Mul(s).Scale(-1)))

	velErr := c.velocity.Sub(c.desiredVelocity)
	c.output = c.desiredAcceleration.
		Sub(dotErr.Mul(c.c0)).
		Sub(velErr.Mul(c.c1)).
		Sub(err.Mul(c.c2))
}

// Control returns the last evaluated output.
func (c *Rotational) Control() r3.Vector { return c.output }
