package geom

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestTransformPoint(t *testing.T) {
	tf := NewTransform(1, 2, math.Pi/2)
	got := tf.TransformPoint(r3.Vector{X: 1, Y: 0})
	test.That(t, got.X, test.ShouldAlmostEqual, 1)
	test.That(t, got.Y, test.ShouldAlmostEqual, 3)
}

func TestTransformInvert(t *testing.T) {
	tf := NewTransform(0.7, -1.3, 0.4)
	pt := r3.Vector{X: 2.5, Y: 0.9}
	roundTrip := tf.Invert().TransformPoint(tf.TransformPoint(pt))
	test.That(t, roundTrip.X, test.ShouldAlmostEqual, pt.X)
	test.That(t, roundTrip.Y, test.ShouldAlmostEqual, pt.Y)
}

func TestTransformCompose(t *testing.T) {
	a := NewTransform(1, 0, math.Pi/4)
	b := NewTransform(0, 1, -math.Pi/4)
	pt := r3.Vector{X: 0.3, Y: 0.8}
	composed := a.Compose(b).TransformPoint(pt)
	sequential := a.TransformPoint(b.TransformPoint(pt))
	test.That(t, composed.X, test.ShouldAlmostEqual, sequential.X)
	test.That(t, composed.Y, test.ShouldAlmostEqual, sequential.Y)
}

func TestLeftToRightAngle(t *testing.T) {
	// left at +45 degrees, right at -45 degrees: interior sweep of pi/2
	left := UnitFromBearing(math.Pi / 4)
	right := UnitFromBearing(-math.Pi / 4)
	test.That(t, LeftToRightAngle(left, right, true), test.ShouldAlmostEqual, math.Pi/2)

	// right at -3pi/4, left at 3pi/4: the interior runs the long way round
	// through the front of the robot and sweeps more than pi
	left = UnitFromBearing(3 * math.Pi / 4)
	right = UnitFromBearing(-3 * math.Pi / 4)
	test.That(t, LeftToRightAngle(left, right, true), test.ShouldAlmostEqual, 3*math.Pi/2)

	// unwrapped form stays signed
	test.That(t, LeftToRightAngle(left, right, false), test.ShouldAlmostEqual, -math.Pi/2)
}

func TestRotateQuarter(t *testing.T) {
	v := r3.Vector{X: 1, Y: 0}
	cw := RotateNegQuarter(v)
	ccw := RotateQuarter(v)
	test.That(t, cw.Y, test.ShouldAlmostEqual, -1)
	test.That(t, ccw.Y, test.ShouldAlmostEqual, 1)
}

func TestBearingRoundTrip(t *testing.T) {
	for _, theta := range []float64{-3, -1.5, 0, 0.1, 2.9} {
		test.That(t, Bearing(UnitFromBearing(theta)), test.ShouldAlmostEqual, theta)
	}
}
