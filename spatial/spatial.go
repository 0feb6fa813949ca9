// Package spatial provides the small set of rigid-body value types used by
// the torque solver: rotations, transforms, twists and wrenches. All types
// have value semantics; nothing in this package aliases caller memory.
package spatial

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Rotation is a 3x3 rotation matrix stored row-major.
type Rotation struct {
	m [9]float64
}

// Identity returns the identity rotation.
func Identity() Rotation {
	return Rotation{m: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRotation builds a rotation from 9 row-major elements.
func NewRotation(elems []float64) (Rotation, error) {
	if len(elems) != 9 {
		return Rotation{}, fmt.Errorf("rotation needs 9 elements, got %d", len(elems))
	}
	var r Rotation
	copy(r.m[:], elems)
	return r, nil
}

// RotX returns the rotation of angle radians about the X axis.
func RotX(angle float64) Rotation {
	c, s := math.Cos(angle), math.Sin(angle)
	return Rotation{m: [9]float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	}}
}

// RotY returns the rotation of angle radians about the Y axis.
func RotY(angle float64) Rotation {
	c, s := math.Cos(angle), math.Sin(angle)
	return Rotation{m: [9]float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	}}
}

// RotZ returns the rotation of angle radians about the Z axis.
func RotZ(angle float64) Rotation {
	c, s := math.Cos(angle), math.Sin(angle)
	return Rotation{m: [9]float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	}}
}

// At returns the element at row i, column j.
func (r Rotation) At(i, j int) float64 { return r.m[3*i+j] }

// Mul returns the product r * o.
func (r Rotation) Mul(o Rotation) Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += r.m[3*i+k] * o.m[3*k+j]
			}
			out.m[3*i+j] = sum
		}
	}
	return out
}

// Inverse returns the transpose, which for a rotation is the inverse.
func (r Rotation) Inverse() Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.m[3*i+j] = r.m[3*j+i]
		}
	}
	return out
}

// MulVec rotates v.
func (r Rotation) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.m[0]*v.X + r.m[1]*v.Y + r.m[2]*v.Z,
		Y: r.m[3]*v.X + r.m[4]*v.Y + r.m[5]*v.Z,
		Z: r.m[6]*v.X + r.m[7]*v.Y + r.m[8]*v.Z,
	}
}

// RPY returns the roll, pitch, yaw decomposition (ZYX convention).
func (r Rotation) RPY() (roll, pitch, yaw float64) {
	pitch = math.Asin(-r.m[6])
	roll = math.Atan2(r.m[7], r.m[8])
	yaw = math.Atan2(r.m[3], r.m[0])
	return roll, pitch, yaw
}

// Vee extracts the vector dual of a matrix, reading the entries of the
// skew-symmetric positions: (m21, m02, m10). Applied to a rotation close to
// the identity it approximates the rotation's axis-angle vector.
func Vee(r Rotation) r3.Vector {
	return r3.Vector{X: r.At(2, 1), Y: r.At(0, 2), Z: r.At(1, 0)}
}

// Skew returns the skew-symmetric matrix S(v) such that S(v)*w = v x w.
func Skew(v r3.Vector) Rotation {
	return Rotation{m: [9]float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	}}
}

// Add returns the element-wise sum r + o. The result is generally not a
// rotation; it is used for intermediate skew-matrix algebra.
func (r Rotation) Add(o Rotation) Rotation {
	var out Rotation
	for i := range out.m {
		out.m[i] = r.m[i] + o.m[i]
	}
	return out
}

// Scale returns the element-wise product s * r.
func (r Rotation) Scale(s float64) Rotation {
	var out Rotation
	for i := range out.m {
		out.m[i] = s * r.m[i]
	}
	return out
}

// Transform is a rigid transform from a body frame to the world frame.
type Transform struct {
	Rot Rotation
	Pos r3.Vector
}

// NewTransform builds a transform from a rotation and a position.
func NewTransform(rot Rotation, pos r3.Vector) Transform {
	return Transform{Rot: rot, Pos: pos}
}

// Apply maps a point expressed in the body frame into the world frame.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return t.Rot.MulVec(p).Add(t.Pos)
}

// Twist is a spatial velocity: linear and angular parts.
type Twist struct {
	Linear  r3.Vector
	Angular r3.Vector
}

// Wrench is a contact wrench: force and torque at a contact frame.
type Wrench struct {
	Force  r3.Vector
	Torque r3.Vector
}

// WrenchFromSlice reads a wrench from a 6-element slice ordered
// [fx fy fz tx ty tz].
func WrenchFromSlice(v []float64) (Wrench, error) {
	if len(v) != 6 {
		return Wrench{}, fmt.Errorf("wrench needs 6 elements, got %d", len(v))
	}
	return Wrench{
		Force:  r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Torque: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
	}, nil
}
