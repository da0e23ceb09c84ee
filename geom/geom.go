// Package geom provides planar poses, rigid transforms, and the angular
// helpers used throughout the gap planner. Points are r3.Vectors with Z
// ignored so they compose with the rest of the ecosystem's vector math.
package geom

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/gapnav/utils"
)

// Pose is a planar pose: a position in the XY plane and a heading.
type Pose struct {
	Point r3.Vector
	Theta float64
}

// NewPose returns a pose at (x, y) with the given heading.
func NewPose(x, y, theta float64) Pose {
	return Pose{Point: r3.Vector{X: x, Y: y}, Theta: theta}
}

// Transform is a rigid planar transform (rotation then translation) between
// two named frames.
type Transform struct {
	Rotation    float64
	Translation r3.Vector
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{}
}

// NewTransform returns a transform that rotates by theta and then translates
// by (x, y).
func NewTransform(x, y, theta float64) Transform {
	return Transform{Rotation: theta, Translation: r3.Vector{X: x, Y: y}}
}

// TransformPoint applies the transform to a point.
func (tf Transform) TransformPoint(pt r3.Vector) r3.Vector {
	sin, cos := math.Sincos(tf.Rotation)
	return r3.Vector{
		X: cos*pt.X - sin*pt.Y + tf.Translation.X,
		Y: sin*pt.X + cos*pt.Y + tf.Translation.Y,
	}
}

// TransformPose applies the transform to a pose.
func (tf Transform) TransformPose(p Pose) Pose {
	return Pose{
		Point: tf.TransformPoint(p.Point),
		Theta: utils.WrapRad(p.Theta + tf.Rotation),
	}
}

// Invert returns the inverse transform.
func (tf Transform) Invert() Transform {
	sin, cos := math.Sincos(-tf.Rotation)
	return Transform{
		Rotation: -tf.Rotation,
		Translation: r3.Vector{
			X: -(cos*tf.Translation.X - sin*tf.Translation.Y),
			Y: -(sin*tf.Translation.X + cos*tf.Translation.Y),
		},
	}
}

// Compose returns the transform equivalent to applying other first and then tf.
func (tf Transform) Compose(other Transform) Transform {
	return Transform{
		Rotation:    utils.WrapRad(tf.Rotation + other.Rotation),
		Translation: tf.TransformPoint(other.Translation),
	}
}

// Norm2D returns the planar norm of a vector.
func Norm2D(v r3.Vector) float64 {
	return math.Hypot(v.X, v.Y)
}

// Unit2D returns the planar unit vector along v, or the zero vector if v is
// (numerically) zero.
func Unit2D(v r3.Vector) r3.Vector {
	norm := Norm2D(v)
	if norm < 1e-12 {
		return r3.Vector{}
	}
	return r3.Vector{X: v.X / norm, Y: v.Y / norm}
}

// Dot2D returns the planar dot product.
func Dot2D(a, b r3.Vector) float64 {
	return a.X*b.X + a.Y*b.Y
}

// Dist2D returns the planar distance between two points.
func Dist2D(a, b r3.Vector) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Bearing returns the planar bearing of a vector.
func Bearing(v r3.Vector) float64 {
	return math.Atan2(v.Y, v.X)
}

// UnitFromBearing returns the planar unit vector at the given bearing.
func UnitFromBearing(theta float64) r3.Vector {
	sin, cos := math.Sincos(theta)
	return r3.Vector{X: cos, Y: sin}
}

// RotateQuarter rotates a vector by +pi/2.
func RotateQuarter(v r3.Vector) r3.Vector {
	return r3.Vector{X: -v.Y, Y: v.X}
}

// RotateNegQuarter rotates a vector by -pi/2.
func RotateNegQuarter(v r3.Vector) r3.Vector {
	return r3.Vector{X: v.Y, Y: -v.X}
}

// LeftToRightAngle returns the angle swept clockwise (through the gap
// interior) from the left unit vector to the right unit vector. The result is
// in [0, 2pi) when wrap is true, and signed in (-pi, pi] otherwise.
func LeftToRightAngle(left, right r3.Vector, wrap bool) float64 {
	determinant := left.Y*right.X - left.X*right.Y
	dot := left.X*right.X + left.Y*right.Y

	angle := math.Atan2(determinant, dot)
	if wrap && angle < 0 {
		angle += 2 * math.Pi
	}
	return angle
}
