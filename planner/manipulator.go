package planner

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"go.viam.com/gapnav/gap"
	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/scan"
	"go.viam.com/gapnav/utils"
)

// Manipulator reshapes a feasible gap into a navigable corridor: oversized
// gaps are narrowed, axial gaps are rotated inward, auxiliary origins are
// anchored behind the robot, endpoints are inflated by the robot radius, and
// a goal is placed inside the corridor.
type Manipulator struct {
	cfg    *Config
	logger golog.Logger
}

// NewManipulator returns a gap manipulator.
func NewManipulator(cfg *Config, logger golog.Logger) *Manipulator {
	return &Manipulator{cfg: cfg, logger: logger}
}

// Manipulate applies the full transform stack to the named endpoint set and
// places the corresponding goal. For the terminal set the scan should be the
// propagated scan at the gap's end-of-life time.
func (m *Manipulator) Manipulate(g *gap.Gap, s *scan.LaserScan, localGoal r3.Vector, set gap.Set) {
	m.Reduce(g, localGoal, set)
	m.ConvertAxial(g, s, set)
	m.RadialExtend(g, set)
	m.InflateSides(g, s, set)
	m.SetWaypoint(g, s, localGoal, set)
}

// ManipulateTerminal reshapes the terminal endpoint set against the
// propagated scan at the gap's lifespan and places the terminal goal.
func (m *Manipulator) ManipulateTerminal(g *gap.Gap, futureScans []*scan.LaserScan, localGoal r3.Vector) {
	scanIdx := int(g.Lifespan / m.cfg.IntegrateStepT)
	if scanIdx > len(futureScans)-1 {
		scanIdx = len(futureScans) - 1
	}
	dynamicScan := futureScans[scanIdx]
	g.TermMinSafeDist = dynamicScan.MinRange()

	m.Reduce(g, localGoal, gap.Terminal)
	m.ConvertAxial(g, dynamicScan, gap.Terminal)
	m.RadialExtend(g, gap.Terminal)
	m.InflateSides(g, dynamicScan, gap.Terminal)

	switch {
	case g.Category == gap.CategoryClosing && g.Crossed:
		g.TerminalGoal = g.CrossingPoint
		g.TermGoalSet = true
	case g.Category == gap.CategoryClosing && g.Closed:
		g.TerminalGoal = g.ClosingPoint
		g.TermGoalSet = true
	default:
		m.SetWaypoint(g, dynamicScan, localGoal, gap.Terminal)
	}
}

// Reduce narrows a gap wider than the reduction threshold down to the
// reduction target, biased toward whichever side the local goal favors.
// Endpoint ranges follow by linear interpolation across the original arc.
func (m *Manipulator) Reduce(g *gap.Gap, localGoal r3.Vector, set gap.Set) {
	e := g.Endpoints(set)
	n := g.RayCount()
	inc := 2 * math.Pi / float64(n)

	if float64(e.IdxSpan(n))*inc < m.cfg.ReductionThreshold {
		return
	}

	targetIdxSize := int(m.cfg.ReductionTarget / inc)
	rBiasedL := utils.WrapIdx(e.RightIdx+targetIdxSize, n)
	lBiasedR := utils.SubtractWrap(e.LeftIdx-targetIdxSize, n)

	goalIdx := int(math.Floor((utils.WrapRad(geom.Bearing(localGoal)) + math.Pi) / inc))
	goalIdx = utils.WrapIdx(goalIdx, n)
	acceptable := targetIdxSize / 2

	withinArc := func(idx, right, left int) bool {
		span := utils.SubtractWrap(left-right, n)
		return utils.SubtractWrap(idx-right, n) <= span
	}

	var newLIdx, newRIdx int
	switch {
	case withinArc(goalIdx, utils.SubtractWrap(e.LeftIdx-acceptable, n), utils.WrapIdx(e.LeftIdx+acceptable, n)):
		newLIdx = e.LeftIdx
		newRIdx = lBiasedR
	case withinArc(goalIdx, utils.SubtractWrap(e.RightIdx-acceptable, n), utils.WrapIdx(e.RightIdx+acceptable, n)):
		newLIdx = rBiasedL
		newRIdx = e.RightIdx
	default:
		newLIdx = utils.WrapIdx(goalIdx+acceptable, n)
		newRIdx = utils.SubtractWrap(goalIdx-acceptable, n)
	}

	origSpan := float64(e.IdxSpan(n))
	newLDiff := float64(utils.SubtractWrap(newLIdx-e.RightIdx, n))
	newRDiff := float64(utils.SubtractWrap(newRIdx-e.RightIdx, n))

	newLDist := newLDiff/origSpan*(e.LeftRange-e.RightRange) + e.RightRange
	newRDist := newRDiff/origSpan*(e.LeftRange-e.RightRange) + e.RightRange

	*e = gap.Endpoints{RightIdx: newRIdx, RightRange: newRDist, LeftIdx: newLIdx, LeftRange: newLDist}
	if set == gap.Terminal {
		g.Mode.TermReduced = true
	} else {
		g.Mode.Reduced = true
	}
}

// ConvertAxial rotates the far endpoint of an axial gap around the near one
// until the sector faces the robot, then pulls the rotated endpoint in to the
// closest scan return along the swept arc. The result is a radial gap the
// robot can actually see through.
func (m *Manipulator) ConvertAxial(g *gap.Gap, s *scan.LaserScan, set gap.Set) {
	if !g.IsAxial(set) {
		return
	}

	e := g.Endpoints(set)
	n := g.RayCount()
	inc := 2 * math.Pi / float64(n)
	gapIdxSpan := e.IdxSpan(n)

	rightType := e.RightRange < e.LeftRange
	rotVal := math.Atan2(m.cfg.Epsilon2*m.cfg.RotRatio, m.cfg.Epsilon1)
	theta := rotVal + 1e-3
	if !rightType {
		theta = -theta
	}

	var nearIdx int
	var nearDist float64
	var nearPt, farPt r3.Vector
	leftPt, rightPt := g.Points(set)
	if rightType {
		nearIdx, nearDist = e.RightIdx, e.RightRange
		nearPt, farPt = rightPt, leftPt
	} else {
		nearIdx, nearDist = e.LeftIdx, e.LeftRange
		nearPt, farPt = leftPt, rightPt
	}

	// pivot the far point about the near point
	pivot := geom.NewTransform(nearPt.X, nearPt.Y, 0).
		Compose(geom.NewTransform(0, 0, theta)).
		Compose(geom.NewTransform(-nearPt.X, -nearPt.Y, 0))
	pivotedFar := pivot.TransformPoint(farPt)
	pivotedIdx := s.Index(geom.Bearing(pivotedFar))

	initSearchIdx := e.LeftIdx
	finalSearchIdx := pivotedIdx
	if !rightType {
		initSearchIdx = pivotedIdx
		finalSearchIdx = e.RightIdx
	}
	searchSize := utils.SubtractWrap(finalSearchIdx-initSearchIdx, n)
	if searchSize == 0 {
		return
	}

	// law of cosines between the near point and each swept ray return
	minDist := math.Inf(1)
	for i := 0; i <= searchSize; i++ {
		checkIdx := utils.WrapIdx(initSearchIdx+i, n)
		r := s.RangeAt(checkIdx)
		diffInIdx := float64(gapIdxSpan + (searchSize - i))
		if rightType {
			diffInIdx = float64(gapIdxSpan + i)
		}
		dist := math.Sqrt(utils.Square(nearDist) + utils.Square(r) -
			2*nearDist*r*math.Cos(diffInIdx*inc))
		if dist < minDist {
			minDist = dist
		}
	}

	farNear := farPt.Sub(nearPt)
	norm := geom.Norm2D(farNear)
	if norm < 1e-9 {
		return
	}
	scaled := farNear.Mul(minDist / norm)
	rotated := geom.NewTransform(0, 0, theta).TransformPoint(scaled)
	shortPt := nearPt.Add(rotated)

	newR := geom.Norm2D(shortPt)
	newIdx := s.Index(geom.Bearing(shortPt))

	if rightType {
		*e = gap.Endpoints{RightIdx: nearIdx, RightRange: nearDist, LeftIdx: newIdx, LeftRange: newR}
	} else {
		*e = gap.Endpoints{RightIdx: newIdx, RightRange: newR, LeftIdx: nearIdx, LeftRange: nearDist}
	}
	if set == gap.Terminal {
		g.Mode.TermConverted = true
	} else {
		g.Mode.Converted = true
	}
}

// RadialExtend anchors the extended gap origin behind the robot, opposite
// the gap's central bearing, and derives the two Bezier origins used by
// trajectory generation.
func (m *Manipulator) RadialExtend(g *gap.Gap, set gap.Set) {
	leftPt, rightPt := g.Points(set)
	lToR := geom.LeftToRightAngle(geom.Unit2D(leftPt), geom.Unit2D(rightPt), true)
	thetaCenter := geom.Bearing(leftPt) - lToR/2

	central := geom.UnitFromBearing(thetaCenter)
	extendedOrigin := central.Mul(-m.cfg.inflatedRadius())

	if set == gap.Terminal {
		g.TermExtendedOrigin = extendedOrigin
		g.Mode.TermExtended = true
		return
	}
	g.ExtendedOrigin = extendedOrigin
	g.LeftBezierOrigin = geom.RotateNegQuarter(extendedOrigin)
	g.RightBezierOrigin = geom.RotateQuarter(extendedOrigin)
	g.Mode.Extended = true
}

// InflateSides rotates each endpoint inward by the robot's inflated radius
// and extends it radially outward, clamped so the corridor stays inside the
// scan. If the angular inflation would cross the endpoints it is skipped.
func (m *Manipulator) InflateSides(g *gap.Gap, s *scan.LaserScan, set gap.Set) {
	if set == gap.Terminal {
		if g.Mode.TermInflated {
			return
		}
		g.Mode.TermInflated = true
	} else {
		if g.Mode.Inflated {
			return
		}
		g.Mode.Inflated = true
	}

	e := g.Endpoints(set)
	n := g.RayCount()
	infl := m.cfg.inflatedRadius()

	leftPt, rightPt := g.Points(set)
	leftUnit := geom.Unit2D(leftPt)
	rightUnit := geom.Unit2D(rightPt)
	lToR := geom.LeftToRightAngle(leftUnit, rightUnit, true)

	// angular inflation: rotate both endpoints toward the gap interior
	newLeftPt := leftPt.Add(geom.RotateNegQuarter(leftUnit).Mul(infl))
	newRightPt := rightPt.Add(geom.RotateQuarter(rightUnit).Mul(infl))
	newLeftUnit := geom.UnitFromBearing(geom.Bearing(newLeftPt))
	newRightUnit := geom.UnitFromBearing(geom.Bearing(newRightPt))
	newLToR := geom.LeftToRightAngle(newLeftUnit, newRightUnit, false)

	newLIdx, newRIdx := e.LeftIdx, e.RightIdx
	rangeL, rangeR := e.LeftRange, e.RightRange
	if newLToR >= 0 {
		newLIdx = s.Index(geom.Bearing(newLeftPt))
		newRIdx = s.Index(geom.Bearing(newRightPt))

		lToLp := geom.LeftToRightAngle(leftUnit, newLeftUnit, false)
		lToRp := geom.LeftToRightAngle(leftUnit, newRightUnit, false)
		if lToR > 1e-9 {
			rangeL = (e.RightRange-e.LeftRange)*lToLp/lToR + e.LeftRange
			rangeR = (e.RightRange-e.LeftRange)*lToRp/lToR + e.LeftRange
		}
	}

	// radial inflation: push outward but stay inside the scan return
	rangeL = clampInflatedRange(rangeL+2*infl, s.RangeAt(newLIdx), infl)
	rangeR = clampInflatedRange(rangeR+2*infl, s.RangeAt(newRIdx), infl)

	if newRIdx == newLIdx {
		newLIdx = utils.WrapIdx(newLIdx+1, n)
	}

	*e = gap.Endpoints{RightIdx: newRIdx, RightRange: rangeR, LeftIdx: newLIdx, LeftRange: rangeL}
}

// clampInflatedRange keeps an inflated endpoint range at least one inflated
// radius inside the scan return and never below one inflated radius from the
// robot.
func clampInflatedRange(r, scanRange, infl float64) float64 {
	if scanRange-r < infl {
		r = scanRange - infl
	}
	if r < infl {
		r = infl
	}
	return r
}

// SetWaypoint places the goal for the named endpoint set inside the
// corridor: the local goal itself for artificial gaps or when it is visible
// through the gap, the midpoint for small gaps, and a biased anchor near the
// correct side otherwise.
func (m *Manipulator) SetWaypoint(g *gap.Gap, s *scan.LaserScan, localGoal r3.Vector, set gap.Set) {
	setGoal := func(pt r3.Vector) {
		if set == gap.Terminal {
			g.TerminalGoal = pt
			g.TermGoalSet = true
		} else {
			g.Goal = pt
			g.GoalSet = true
		}
	}

	if g.Artificial {
		setGoal(localGoal)
		return
	}

	e := g.Endpoints(set)
	leftPt, rightPt := g.Points(set)
	leftUnit := geom.Unit2D(leftPt)
	rightUnit := geom.Unit2D(rightPt)
	lToR := geom.LeftToRightAngle(leftUnit, rightUnit, true)

	// small gap: aim for the middle
	if lToR < math.Pi && geom.Dist2D(leftPt, rightPt) < 4*m.cfg.RInscribed {
		thetaCenter := geom.Bearing(leftPt) - lToR/2
		rangeCenter := (geom.Norm2D(leftPt) + geom.Norm2D(rightPt)) / 2
		setGoal(geom.UnitFromBearing(thetaCenter).Mul(rangeCenter))
		return
	}

	goalTheta := geom.Bearing(localGoal)
	goalIdx := s.Index(goalTheta)

	if g.ContainsIdx(set, goalIdx) && m.goalVisible(g, s, localGoal, set) {
		setGoal(localGoal)
		return
	}

	// bias: confine the goal bearing into the sector and offset off the wall
	thetaL := g.Theta(e.LeftIdx)
	thetaR := g.Theta(e.RightIdx)
	lToGoal := geom.LeftToRightAngle(leftUnit, geom.UnitFromBearing(goalTheta), true)
	rToGoal := geom.LeftToRightAngle(rightUnit, geom.UnitFromBearing(goalTheta), true)

	var confinedTheta float64
	if thetaR < thetaL {
		confinedTheta = math.Min(thetaL, math.Max(thetaR, goalTheta))
	} else {
		switch {
		case lToGoal > 0 && lToGoal < lToR:
			confinedTheta = goalTheta
		case math.Abs(lToGoal) < math.Abs(rToGoal):
			confinedTheta = thetaL
		default:
			confinedTheta = thetaR
		}
	}

	confinedUnit := geom.UnitFromBearing(confinedTheta)
	lToConf := geom.LeftToRightAngle(leftUnit, confinedUnit, false)

	confinedR := e.LeftRange
	if lToR > 1e-9 {
		confinedR = (e.RightRange-e.LeftRange)*lToConf/lToR + e.LeftRange
	}
	anchor := confinedUnit.Mul(confinedR)

	infl := m.cfg.inflatedRadius()
	offset := geom.Unit2D(anchor).Mul(infl)
	switch {
	case confinedTheta == thetaR:
		offset = offset.Add(geom.RotateQuarter(rightUnit).Mul(infl))
	case confinedTheta == thetaL:
		offset = offset.Add(geom.RotateNegQuarter(leftUnit).Mul(infl))
	case lToR > 1e-9 && lToConf/lToR < 0.1:
		offset = offset.Add(geom.RotateNegQuarter(leftUnit).Mul(infl))
	case lToR > 1e-9 && lToConf/lToR > 0.9:
		offset = offset.Add(geom.RotateQuarter(rightUnit).Mul(infl))
	}

	setGoal(anchor.Add(offset))
}

// goalVisible reports whether the local goal can be reached through the gap:
// close enough to the robot, inside the free disk of the scan, or nearer than
// the gap's interpolated range along its bearing.
func (m *Manipulator) goalVisible(g *gap.Gap, s *scan.LaserScan, localGoal r3.Vector, set gap.Set) bool {
	distToGoal := geom.Norm2D(localGoal)

	if distToGoal < 2*m.cfg.RInscribed {
		return true
	}
	if distToGoal < s.MinRange()-m.cfg.inflatedRadius() {
		return true
	}
	return distToGoal < g.RangeAtBearing(set, geom.Bearing(localGoal))
}
