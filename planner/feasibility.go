package planner

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/gapnav/gap"
	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/utils"
)

// FeasibilityChecker decides whether a moving gap can be traversed before it
// closes, predicts the gap's lifespan, and propagates its endpoints to their
// end-of-life positions.
type FeasibilityChecker struct {
	cfg    *Config
	logger golog.Logger
}

// NewFeasibilityChecker returns a feasibility checker.
func NewFeasibilityChecker(cfg *Config, logger golog.Logger) *FeasibilityChecker {
	return &FeasibilityChecker{cfg: cfg, logger: logger}
}

// bearingRate returns the angular rate of the frozen endpoint about the
// robot.
func bearingRate(e *gap.Estimator) float64 {
	pos, vel := e.FrozenState()
	r2 := geom.Dot2D(pos, pos)
	if r2 < 1e-9 {
		return 0
	}
	return (pos.X*vel.Y - pos.Y*vel.X) / r2
}

// Check classifies the gap, fills its lifespan, category, crossing/closing
// points, and terminal endpoints, and reports whether it is traversable. The
// simulation runs on frozen copies of the endpoint filters.
func (fc *FeasibilityChecker) Check(g *gap.Gap, robotVel r3.Vector) (bool, error) {
	if g.Artificial {
		g.Category = gap.CategoryArtificial
		g.Lifespan = fc.cfg.IntegrateMaxT
		*g.Endpoints(gap.Terminal) = *g.Endpoints(gap.Detected)
		return true, nil
	}
	if !g.HasModels() {
		return false, errors.New("gap is missing an endpoint estimator")
	}

	left := g.LeftModel().Copy()
	right := g.RightModel().Copy()
	left.IsolateGapDynamics()
	right.IsolateGapDynamics()

	leftBetadot := bearingRate(left)
	rightBetadot := bearingRate(right)

	crossingTime := fc.findCrossingPoint(g, left, right)
	splineOK := fc.splineCheck(g, robotVel, crossingTime)

	const betadotEps = 1e-4
	minBetadot := math.Min(leftBetadot, rightBetadot)
	subLeft := leftBetadot - minBetadot
	subRight := rightBetadot - minBetadot

	switch {
	case subLeft > betadotEps:
		g.Category = gap.CategoryExpanding
		g.Lifespan = fc.cfg.IntegrateMaxT
		return true, nil
	case subRight <= betadotEps:
		g.Category = gap.CategoryStatic
		g.Lifespan = fc.cfg.IntegrateMaxT
		return true, nil
	default:
		g.Category = gap.CategoryClosing
		if !splineOK {
			return false, nil
		}
		g.Lifespan = crossingTime
		return true, nil
	}
}

// findCrossingPoint simulates both frozen endpoint filters forward, watching
// for the bearings to cross the gap's central bearing. It records crossing
// and closing points on the gap, fills the terminal endpoints, and returns
// the gap lifespan: the first closing time, or the horizon if the gap never
// closes.
func (fc *FeasibilityChecker) findCrossingPoint(g *gap.Gap, left, right *gap.Estimator) float64 {
	leftPt, rightPt := g.Points(gap.Detected)
	leftBearing := geom.Unit2D(leftPt)
	rightBearing := geom.Unit2D(rightPt)

	lToR := geom.LeftToRightAngle(leftBearing, rightBearing, true)
	betaCenter := geom.Bearing(leftPt) - lToR/2
	prevCentral := geom.UnitFromBearing(betaCenter)

	prevLeftPos, _ := left.FrozenState()
	prevRightPos, _ := right.FrozenState()

	firstCross := true
	stepT := fc.cfg.IntegrateStepT
	for t := stepT; t < fc.cfg.IntegrateMaxT; t += stepT {
		left.Integrate(stepT)
		right.Integrate(stepT)
		leftPos, _ := left.FrozenState()
		rightPos, _ := right.FrozenState()

		leftBearing = geom.Unit2D(leftPos)
		rightBearing = geom.Unit2D(rightPos)
		lToR = geom.LeftToRightAngle(leftBearing, rightBearing, true)
		betaCenter = geom.Bearing(leftPos) - lToR/2

		bearingCross := geom.Dot2D(leftBearing, prevCentral) > 0 && geom.Dot2D(rightBearing, prevCentral) > 0
		if lToR > math.Pi && bearingCross {
			separation := geom.Dist2D(prevLeftPos, prevRightPos)
			if separation < 4*fc.cfg.inflatedRadius() {
				closingPt := prevLeftPos
				if geom.Norm2D(prevRightPos) < geom.Norm2D(prevLeftPos) {
					closingPt = prevRightPos
				}
				offset := geom.Unit2D(closingPt).Mul(2 * fc.cfg.inflatedRadius())
				g.ClosingPoint = closingPt.Add(offset)
				g.Closed = true
				fc.setTerminalPoints(g, prevLeftPos, prevRightPos)
				return t
			}
			if firstCross {
				g.CrossingPoint = prevLeftPos.Add(prevRightPos).Mul(0.5)
				g.Crossed = true
				fc.setTerminalPoints(g, prevLeftPos, prevRightPos)
				firstCross = false
			}
		}

		prevLeftPos, prevRightPos = leftPos, rightPos
		prevCentral = geom.UnitFromBearing(betaCenter)
	}

	if !g.Crossed && !g.Closed {
		leftPos, _ := left.FrozenState()
		rightPos, _ := right.FrozenState()
		fc.setTerminalPoints(g, leftPos, rightPos)
	}
	return fc.cfg.IntegrateMaxT
}

// setTerminalPoints converts the simulated endpoint positions back to polar
// scan coordinates as the gap's terminal endpoint set.
func (fc *FeasibilityChecker) setTerminalPoints(g *gap.Gap, leftPos, rightPos r3.Vector) {
	n := g.RayCount()
	inc := 2 * math.Pi / float64(n)

	leftIdx := utils.WrapIdx(int(math.Floor((utils.WrapRad(geom.Bearing(leftPos))+math.Pi)/inc)), n)
	rightIdx := utils.WrapIdx(int(math.Floor((utils.WrapRad(geom.Bearing(rightPos))+math.Pi)/inc)), n)

	*g.Endpoints(gap.Terminal) = gap.Endpoints{
		RightIdx:   rightIdx,
		RightRange: geom.Norm2D(rightPos),
		LeftIdx:    leftIdx,
		LeftRange:  geom.Norm2D(leftPos),
	}
}

// splineCheck fits a cubic from the robot's current state to the gap's
// crossing point and rejects the gap when the spline's peak velocity at half
// the crossing time exceeds what the robot can drive.
func (fc *FeasibilityChecker) splineCheck(g *gap.Gap, robotVel r3.Vector, crossingTime float64) bool {
	if crossingTime <= 0 {
		return false
	}

	var target r3.Vector
	switch {
	case g.Closed:
		target = g.ClosingPoint
	case g.Crossed:
		target = g.CrossingPoint
	}

	var endVel r3.Vector
	if geom.Norm2D(target) > 0 {
		endVel = geom.Unit2D(target).Mul(geom.Norm2D(robotVel))
	}

	peakX, okX := splinePeakVelocity(robotVel.X, target.X, endVel.X, crossingTime)
	peakY, okY := splinePeakVelocity(robotVel.Y, target.Y, endVel.Y, crossingTime)
	if !okX || !okY {
		return false
	}
	g.PeakSplineVel = r3.Vector{X: peakX, Y: peakY}

	return math.Max(math.Abs(peakX), math.Abs(peakY)) <= fc.cfg.VxAbsMax
}

// splinePeakVelocity solves one axis of the cubic boundary-value problem
// from the origin and evaluates its velocity at the half-way time.
func splinePeakVelocity(v0, p1, v1, T float64) (float64, bool) {
	a := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		1, T, T * T, T * T * T,
		0, 1, 2 * T, 3 * T * T,
	})
	b := mat.NewVecDense(4, []float64{0, v0, p1, v1})

	var coeffs mat.VecDense
	if err := coeffs.SolveVec(a, b); err != nil {
		return 0, false
	}
	h := T / 2
	return coeffs.AtVec(1) + 2*coeffs.AtVec(2)*h + 3*coeffs.AtVec(3)*h*h, true
}
