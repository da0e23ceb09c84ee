package scan

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestThetaIndexRoundTrip(t *testing.T) {
	s := NewUniform(DefaultRayCount, 5, time.Now())

	for theta := -math.Pi; theta < math.Pi; theta += 0.01 {
		got := s.Theta(s.Index(theta))
		test.That(t, math.Abs(got-theta), test.ShouldBeLessThanOrEqualTo, s.AngleIncrement)
	}

	// index 0 points straight back, the middle ray points forward
	test.That(t, s.Theta(0), test.ShouldAlmostEqual, -math.Pi)
	test.That(t, s.Theta(DefaultRayCount/2), test.ShouldAlmostEqual, 0)
	test.That(t, s.Index(0), test.ShouldEqual, DefaultRayCount/2)
}

func TestIndexWraps(t *testing.T) {
	s := NewUniform(DefaultRayCount, 5, time.Now())
	test.That(t, s.Index(math.Pi), test.ShouldEqual, 0)
	test.That(t, s.RangeAt(-1), test.ShouldEqual, s.RangeAt(DefaultRayCount-1))
	test.That(t, s.RangeAt(DefaultRayCount), test.ShouldEqual, s.RangeAt(0))
}

func TestPoint(t *testing.T) {
	s := NewUniform(8, 2, time.Now())
	pt := s.Point(4)
	test.That(t, pt.X, test.ShouldAlmostEqual, 2)
	test.That(t, pt.Y, test.ShouldAlmostEqual, 0)
}

func TestMinMaxRange(t *testing.T) {
	s := NewUniform(16, 5, time.Now())
	s.Ranges[3] = 1.5
	s.Ranges[9] = 7
	test.That(t, s.MinRange(), test.ShouldEqual, 1.5)
	test.That(t, s.MaxRange(), test.ShouldEqual, 7)
}

func TestMinRangeBetween(t *testing.T) {
	s := NewUniform(16, 5, time.Now())
	s.Ranges[1] = 2
	s.Ranges[15] = 3

	test.That(t, s.MinRangeBetween(14, 2), test.ShouldEqual, 2)
	test.That(t, s.MinRangeBetween(4, 10), test.ShouldEqual, 5)
	// wrap-around arc covering indices 15 and 0
	test.That(t, s.MinRangeBetween(15, 0), test.ShouldEqual, 3)
}

func TestValidate(t *testing.T) {
	s := NewUniform(8, 5, time.Now())
	test.That(t, s.Validate(), test.ShouldBeNil)

	s.Ranges[2] = math.NaN()
	test.That(t, s.Validate(), test.ShouldNotBeNil)

	empty := &LaserScan{}
	test.That(t, empty.Validate(), test.ShouldNotBeNil)
}

func TestCopy(t *testing.T) {
	s := NewUniform(8, 5, time.Now())
	c := s.Copy()
	c.Ranges[0] = 1
	test.That(t, s.Ranges[0], test.ShouldEqual, 5)
	test.That(t, c.Time, test.ShouldResemble, s.Time)
}
