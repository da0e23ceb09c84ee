package gap

import (
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

var timeZero = time.Time{}

func stepTime(i int, dt float64) time.Time {
	return timeZero.Add(time.Duration(float64(i) * dt * float64(time.Second)))
}

func TestEstimatorStaticTarget(t *testing.T) {
	e := NewEstimator(0, r3.Vector{X: 2, Y: 1}, timeZero)

	const dt = 0.1
	for i := 1; i <= 20; i++ {
		vels := []TwistSample{{Time: stepTime(i-1, dt)}}
		e.Update(r3.Vector{X: 2, Y: 1}, vels, nil, stepTime(i, dt))
	}

	pos, vel := e.State()
	test.That(t, pos.X, test.ShouldAlmostEqual, 2, 1e-6)
	test.That(t, pos.Y, test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, vel.X, test.ShouldAlmostEqual, 0, 1e-3)
	test.That(t, vel.Y, test.ShouldAlmostEqual, 0, 1e-3)
}

func TestEstimatorMovingTarget(t *testing.T) {
	e := NewEstimator(0, r3.Vector{X: 2, Y: 0}, timeZero)

	const dt = 0.1
	for i := 1; i <= 40; i++ {
		meas := r3.Vector{X: 2, Y: 0.5 * dt * float64(i)}
		vels := []TwistSample{{Time: stepTime(i-1, dt)}}
		e.Update(meas, vels, nil, stepTime(i, dt))
	}

	_, vel := e.State()
	test.That(t, vel.Y, test.ShouldAlmostEqual, 0.5, 0.15)
	test.That(t, vel.X, test.ShouldAlmostEqual, 0, 0.1)
}

func TestEstimatorEgoCompensation(t *testing.T) {
	// robot drives +x at 1 m/s past a static landmark: the relative velocity
	// converges to -1 m/s and isolating gap dynamics cancels it out
	e := NewEstimator(0, r3.Vector{X: 3, Y: 0}, timeZero)

	const dt = 0.1
	ego := r3.Vector{X: 1}
	for i := 1; i <= 40; i++ {
		meas := r3.Vector{X: 3 - dt*float64(i), Y: 0}
		vels := []TwistSample{{Time: stepTime(i-1, dt), Linear: ego}}
		e.Update(meas, vels, nil, stepTime(i, dt))
	}

	_, vel := e.State()
	test.That(t, vel.X, test.ShouldAlmostEqual, -1, 0.15)

	e.IsolateGapDynamics()
	_, frozenVel := e.FrozenState()
	test.That(t, frozenVel.X, test.ShouldAlmostEqual, 0, 0.15)
}

func TestEstimatorIntegrateIsFrozen(t *testing.T) {
	e := NewEstimator(0, r3.Vector{X: 1, Y: 1}, timeZero)
	vels := []TwistSample{{Time: timeZero}}
	e.Update(r3.Vector{X: 1, Y: 1}, vels, nil, stepTime(1, 0.1))

	before, _ := e.State()
	e.IsolateGapDynamics()
	for i := 0; i < 10; i++ {
		e.Integrate(0.5)
	}
	after, _ := e.State()

	test.That(t, after.X, test.ShouldEqual, before.X)
	test.That(t, after.Y, test.ShouldEqual, before.Y)
}

func TestEstimatorCopyIndependent(t *testing.T) {
	e := NewEstimator(7, r3.Vector{X: 1, Y: 0}, timeZero)
	cp := e.Copy()
	test.That(t, cp.ModelID(), test.ShouldEqual, 7)

	vels := []TwistSample{{Time: timeZero}}
	cp.Update(r3.Vector{X: 5, Y: 5}, vels, nil, stepTime(1, 0.1))

	cpPos, _ := cp.State()
	origPos, _ := e.State()
	test.That(t, cpPos.X, test.ShouldNotAlmostEqual, origPos.X)
	test.That(t, origPos.X, test.ShouldAlmostEqual, 1)
	test.That(t, origPos.Y, test.ShouldAlmostEqual, 0)
}
