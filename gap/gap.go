// Package gap models the angular free-space sectors the planner navigates
// through, the per-endpoint state estimators that track them across scans,
// and the association step that carries estimators between planning cycles.
package gap

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/utils"
)

// Category classifies how a gap is predicted to evolve.
type Category int

const (
	// CategoryUnknown is the category of a gap before feasibility analysis.
	CategoryUnknown Category = iota
	// CategoryExpanding marks a gap whose endpoints are separating.
	CategoryExpanding
	// CategoryStatic marks a gap whose endpoints are stationary.
	CategoryStatic
	// CategoryClosing marks a gap whose endpoints are approaching each other.
	CategoryClosing
	// CategoryArtificial marks a gap synthesized around the global goal.
	CategoryArtificial
)

func (c Category) String() string {
	switch c {
	case CategoryExpanding:
		return "expanding"
	case CategoryStatic:
		return "static"
	case CategoryClosing:
		return "closing"
	case CategoryArtificial:
		return "artificial"
	default:
		return "unknown"
	}
}

// Set names one of the endpoint sets a gap carries through its lifecycle.
type Set int

const (
	// Detected is the endpoint set as found by the detector (raw or simplified).
	Detected Set = iota
	// Manipulated is the corridor used at t=0 after manipulation.
	Manipulated
	// Terminal is the manipulated set propagated to the gap's end of life.
	Terminal
)

// Endpoints is one right/left endpoint pair in polar scan coordinates. The
// interior of the gap is the arc swept counter-clockwise from the right index
// to the left index.
type Endpoints struct {
	RightIdx   int
	RightRange float64
	LeftIdx    int
	LeftRange  float64
}

// IdxSpan returns the number of rays swept from right to left, wrapping.
func (e Endpoints) IdxSpan(rayCount int) int {
	return utils.SubtractWrap(e.LeftIdx-e.RightIdx, rayCount)
}

// Gap is a directed angular sector of free space between two scan returns.
// It owns the estimators for its two endpoints until they are transferred to
// a successor gap by association.
type Gap struct {
	rayCount int

	detected    Endpoints
	manipulated Endpoints
	terminal    Endpoints

	// Axial is true when the sector's interior angle at the near endpoint
	// exceeds 3pi/4, i.e. the chord runs nearly along the line of sight.
	Axial bool
	// Swept is true when the gap was opened by a finite-to-infinite range
	// transition rather than a radial discontinuity.
	Swept bool
	// RightType is true when the right endpoint is nearer than the left.
	RightType bool
	// Artificial is true for gaps synthesized to host the global goal.
	Artificial bool

	Category Category
	// Crossed and Closed record the outcome of the feasibility simulation.
	Crossed bool
	Closed  bool

	// Mode records which manipulation steps have been applied to each
	// endpoint set, so reapplying manipulation is a no-op.
	Mode struct {
		Reduced, Converted, Extended, Inflated                 bool
		TermReduced, TermConverted, TermExtended, TermInflated bool
	}

	// Lifespan is the predicted time horizon over which the gap survives.
	Lifespan float64

	CrossingPoint r3.Vector
	ClosingPoint  r3.Vector
	PeakSplineVel r3.Vector

	// MinSafeDist is the smallest scan range when the gap was detected;
	// TermMinSafeDist is the same for the propagated scan at end of life.
	MinSafeDist     float64
	TermMinSafeDist float64

	// ExtendedOrigin and the two Bezier origins anchor trajectory
	// generation behind the robot after radial extension.
	ExtendedOrigin     r3.Vector
	LeftBezierOrigin   r3.Vector
	RightBezierOrigin  r3.Vector
	TermExtendedOrigin r3.Vector

	// Goal is the local navigation target placed inside the corridor;
	// TerminalGoal is its analogue at the end-of-life time.
	Goal         r3.Vector
	TerminalGoal r3.Vector
	GoalSet      bool
	TermGoalSet  bool

	leftModel  *Estimator
	rightModel *Estimator
}

// New starts a gap at its right endpoint. The left endpoint must be supplied
// with SetLeft before the gap is used.
func New(rayCount, rightIdx int, rightRange, minSafeDist float64) *Gap {
	return &Gap{
		rayCount:    rayCount,
		detected:    Endpoints{RightIdx: rightIdx, RightRange: rightRange},
		MinSafeDist: minSafeDist,
		Lifespan:    0,
	}
}

// SetLeft concludes the gap with its left endpoint, deriving the right-type
// flag and the axial classification, and seeds the manipulated set.
func (g *Gap) SetLeft(leftIdx int, leftRange float64) {
	g.detected.LeftIdx = leftIdx
	g.detected.LeftRange = leftRange
	g.RightType = g.detected.RightRange < g.detected.LeftRange

	if !g.Axial {
		g.Axial = g.computeAxial()
	}

	g.manipulated = g.detected
	g.terminal = g.detected
}

// computeAxial applies the law of cosines across the two endpoint ranges and
// checks whether the interior angle at the short side exceeds 3pi/4.
func (g *Gap) computeAxial() bool {
	return g.IsAxial(Detected)
}

// IsAxial recomputes the axial classification from the named endpoint set.
func (g *Gap) IsAxial(set Set) bool {
	e := *g.Endpoints(set)
	angle := float64(e.IdxSpan(g.rayCount)) * g.angleIncrement()
	short := e.RightRange
	if e.RightRange >= e.LeftRange {
		short = e.LeftRange
	}
	opposite := math.Sqrt(utils.Square(e.LeftRange) + utils.Square(e.RightRange) -
		2*e.LeftRange*e.RightRange*math.Cos(angle))
	if opposite < 1e-9 {
		return false
	}
	ratio := short / opposite * math.Sin(angle)
	if ratio > 1 {
		ratio = 1
	} else if ratio < -1 {
		ratio = -1
	}
	smallAngle := math.Asin(ratio)
	return math.Pi-smallAngle-angle > 0.75*math.Pi
}

// RayCount returns the size of the scan this gap was detected in.
func (g *Gap) RayCount() int {
	return g.rayCount
}

func (g *Gap) angleIncrement() float64 {
	return 2 * math.Pi / float64(g.rayCount)
}

// Theta returns the bearing of the given ray index.
func (g *Gap) Theta(idx int) float64 {
	return -math.Pi + float64(utils.WrapIdx(idx, g.rayCount))*g.angleIncrement()
}

// Endpoints returns a mutable reference to the named endpoint set.
func (g *Gap) Endpoints(set Set) *Endpoints {
	switch set {
	case Manipulated:
		return &g.manipulated
	case Terminal:
		return &g.terminal
	default:
		return &g.detected
	}
}

// Points returns the cartesian left and right endpoints of the named set in
// the robot frame.
func (g *Gap) Points(set Set) (left, right r3.Vector) {
	e := g.Endpoints(set)
	left = g.polarToPoint(e.LeftIdx, e.LeftRange)
	right = g.polarToPoint(e.RightIdx, e.RightRange)
	return left, right
}

func (g *Gap) polarToPoint(idx int, r float64) r3.Vector {
	sin, cos := math.Sincos(g.Theta(idx))
	return r3.Vector{X: r * cos, Y: r * sin}
}

// AngularSpan returns the counter-clockwise angle swept from the right to the
// left endpoint of the named set.
func (g *Gap) AngularSpan(set Set) float64 {
	return float64(g.Endpoints(set).IdxSpan(g.rayCount)) * g.angleIncrement()
}

// ChordLength returns the euclidean distance between the endpoints of the
// named set.
func (g *Gap) ChordLength(set Set) float64 {
	left, right := g.Points(set)
	return geom.Dist2D(left, right)
}

// RangeAtBearing interpolates the gap's range linearly in angle between its
// endpoints at the given bearing, using the named set.
func (g *Gap) RangeAtBearing(set Set, theta float64) float64 {
	left, right := g.Points(set)
	e := g.Endpoints(set)
	span := geom.LeftToRightAngle(geom.Unit2D(left), geom.Unit2D(right), true)
	if span < 1e-9 {
		return e.LeftRange
	}
	toGoal := geom.LeftToRightAngle(geom.Unit2D(left), geom.UnitFromBearing(theta), false)
	return (e.RightRange-e.LeftRange)*toGoal/span + e.LeftRange
}

// ContainsIdx reports whether the given ray index lies on the interior arc of
// the named set.
func (g *Gap) ContainsIdx(set Set, idx int) bool {
	e := g.Endpoints(set)
	span := e.IdxSpan(g.rayCount)
	offset := utils.SubtractWrap(idx-e.RightIdx, g.rayCount)
	return offset <= span
}

// Segment splits an over-wide gap into span/minResolution + 1 contiguous
// sub-gaps of equal index step (the last one takes the remainder),
// interpolating endpoint ranges. Gaps that would yield fewer than three
// sub-gaps are returned unsplit.
func (g *Gap) Segment(minResolution int) []*Gap {
	e := g.detected
	span := e.IdxSpan(g.rayCount)
	if minResolution <= 0 {
		return []*Gap{g}
	}
	numGaps := span/minResolution + 1
	if numGaps < 3 {
		return []*Gap{g}
	}

	idxStep := span / numGaps
	distStep := (e.LeftRange - e.RightRange) / float64(numGaps)

	segments := make([]*Gap, 0, numGaps)
	subRightIdx := e.RightIdx
	subRightRange := e.RightRange
	for i := 0; i < numGaps; i++ {
		sub := New(g.rayCount, utils.WrapIdx(subRightIdx, g.rayCount), subRightRange, g.MinSafeDist)
		subRightIdx += idxStep
		subRightRange += distStep
		if i == numGaps-1 {
			sub.SetLeft(e.LeftIdx, e.LeftRange)
		} else {
			sub.SetLeft(utils.WrapIdx(subRightIdx-1, g.rayCount), subRightRange)
		}
		segments = append(segments, sub)
	}
	return segments
}

// LeftModel returns the estimator tracking the left endpoint.
func (g *Gap) LeftModel() *Estimator {
	return g.leftModel
}

// RightModel returns the estimator tracking the right endpoint.
func (g *Gap) RightModel() *Estimator {
	return g.rightModel
}

// SetModels installs the endpoint estimators, taking ownership.
func (g *Gap) SetModels(left, right *Estimator) {
	g.leftModel = left
	g.rightModel = right
}

// TakeModels transfers estimator ownership out of the gap, leaving it with
// nil models so a later teardown cannot double-own them.
func (g *Gap) TakeModels() (left, right *Estimator) {
	left, right = g.leftModel, g.rightModel
	g.leftModel = nil
	g.rightModel = nil
	return left, right
}

// HasModels reports whether both endpoint estimators are present.
func (g *Gap) HasModels() bool {
	return g.leftModel != nil && g.rightModel != nil
}
