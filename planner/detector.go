package planner

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/gapnav/gap"
	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/scan"
	"go.viam.com/gapnav/utils"
)

// Detector extracts raw gaps from a range scan and merges them into the
// simplified set the rest of the pipeline runs on.
type Detector struct {
	cfg    *Config
	logger golog.Logger
}

// NewDetector returns a gap detector.
func NewDetector(cfg *Config, logger golog.Logger) *Detector {
	return &Detector{cfg: cfg, logger: logger}
}

// DetectGaps walks the scan once and emits the ordered raw gap collection.
// The global goal, in the robot frame, seeds an artificial gap when it lies
// in free space not covered by any detected gap.
func (d *Detector) DetectGaps(s *scan.LaserScan, globalGoalRobot r3.Vector, hasGoal bool) ([]*gap.Gap, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "gap detection")
	}
	n := s.Size()
	if n != d.cfg.RayCount {
		d.logger.Warnf("scan is wrong size, got %d, expected %d", n, d.cfg.RayCount)
	}

	minScanDist := s.MinRange()
	maxScanDist := s.MaxRange()
	halfCount := s.HalfSize()

	var rawGaps []*gap.Gap

	gapRIdx := 0
	gapRDist := s.Ranges[0]
	withinSweptGap := gapRDist >= maxScanDist
	prevRange := s.Ranges[0]

	for i := 1; i < n; i++ {
		currRange := s.Ranges[i]

		if d.radialGapCheck(currRange, prevRange, s.AngleIncrement, maxScanDist) {
			g := gap.New(n, i-1, prevRange, minScanDist)
			g.SetLeft(i, currRange)
			rawGaps = append(rawGaps, g)
		}

		if (prevRange < maxScanDist) != (currRange < maxScanDist) {
			if withinSweptGap {
				withinSweptGap = false
				g := gap.New(n, gapRIdx, gapRDist, minScanDist)
				g.Swept = true
				g.SetLeft(i, currRange)
				if d.sweptGapSizeCheck(g, halfCount) {
					rawGaps = append(rawGaps, g)
				}
			} else {
				gapRIdx = i - 1
				gapRDist = prevRange
				withinSweptGap = true
			}
		}
		prevRange = currRange
	}

	// catch a swept gap still open when the scan ends; a lone gap covering
	// the entire circle means open space with nothing to anchor, not a gap
	if withinSweptGap {
		g := gap.New(n, gapRIdx, gapRDist, minScanDist)
		g.Swept = true
		g.SetLeft(n-1, s.Ranges[n-1])
		fullCircle := len(rawGaps) == 0 && g.Endpoints(gap.Detected).IdxSpan(n) >= n-1
		if !fullCircle && d.sweptGapSizeCheck(g, halfCount) {
			rawGaps = append(rawGaps, g)
		}
	}

	// bridge first and last gaps sharing the 0/N-1 boundary into one
	// wrap-around gap
	if len(rawGaps) > 1 &&
		rawGaps[0].Endpoints(gap.Detected).RightIdx == 0 &&
		rawGaps[len(rawGaps)-1].Endpoints(gap.Detected).LeftIdx == n-1 {
		first := rawGaps[0].Endpoints(gap.Detected)
		rawGaps[len(rawGaps)-1].SetLeft(first.LeftIdx, first.LeftRange)
		rawGaps = rawGaps[1:]
	}

	if hasGoal {
		if goalIdx, within := d.globalGoalWithinScan(s, globalGoalRobot); within {
			rawGaps = d.addGapForGlobalGoal(s, goalIdx, rawGaps)
		}
	}

	return rawGaps, nil
}

// radialGapCheck reports whether two consecutive finite returns are far
// enough apart for the robot to fit between them.
func (d *Detector) radialGapCheck(currRange, prevRange, angleIncrement, maxScanDist float64) bool {
	if !(prevRange < maxScanDist && currRange < maxScanDist) {
		return false
	}
	consecDist := math.Sqrt(utils.Square(prevRange) + utils.Square(currRange) -
		2*prevRange*currRange*math.Cos(angleIncrement))
	return consecDist > 3*d.cfg.RInscribed
}

// sweptGapSizeCheck keeps a swept gap only when it is either angularly large
// or wide enough for the robot.
func (d *Detector) sweptGapSizeCheck(g *gap.Gap, halfCount int) bool {
	largeGap := g.Endpoints(gap.Detected).IdxSpan(g.RayCount()) > 3*halfCount/2
	canRobotFit := g.ChordLength(gap.Detected) > 3*d.cfg.RInscribed
	return largeGap || canRobotFit
}

// globalGoalWithinScan reports whether the global goal sits inside the scan's
// free space, and at which ray.
func (d *Detector) globalGoalWithinScan(s *scan.LaserScan, goal r3.Vector) (int, bool) {
	goalDist := geom.Norm2D(goal)
	goalIdx := s.Index(geom.Bearing(goal))
	return goalIdx, goalDist < s.RangeAt(goalIdx)
}

// addGapForGlobalGoal synthesizes an artificial gap around the goal bearing
// when no detected gap already contains it. The artificial span may overlap
// neighboring gaps; insertion is keyed on goal containment only.
func (d *Detector) addGapForGlobalGoal(s *scan.LaserScan, goalIdx int, rawGaps []*gap.Gap) []*gap.Gap {
	insertAt := 0
	for _, g := range rawGaps {
		if g.ContainsIdx(gap.Detected, goalIdx) {
			return rawGaps
		}
		insertAt++
	}

	n := s.Size()
	span := n / 24
	rightIdx := utils.MaxInt(goalIdx-span, 0)
	leftIdx := utils.MinInt(goalIdx+span, n-1)
	d.logger.Debugf("creating artificial gap %d to %d around goal", rightIdx, leftIdx)

	g := gap.New(n, rightIdx, s.RangeAt(rightIdx), s.MinRange())
	g.SetLeft(leftIdx, s.RangeAt(leftIdx))
	g.Artificial = true
	g.Category = gap.CategoryArtificial

	rawGaps = append(rawGaps, nil)
	copy(rawGaps[insertAt+1:], rawGaps[insertAt:])
	rawGaps[insertAt] = g
	return rawGaps
}

// cloneDetected copies a raw gap into a fresh object for the simplified set;
// estimators are not copied, association attaches them later.
func cloneDetected(src *gap.Gap) *gap.Gap {
	e := src.Endpoints(gap.Detected)
	g := gap.New(src.RayCount(), e.RightIdx, e.RightRange, src.MinSafeDist)
	g.Swept = src.Swept
	g.Artificial = src.Artificial
	g.Category = src.Category
	g.SetLeft(e.LeftIdx, e.LeftRange)
	return g
}

// SimplifyGaps merges the raw gaps into the simplified set, preserving the
// detector's ordering. Merging starts at the first radial right-type gap;
// radial non-right-type gaps trigger a backward mergeability scan and swept
// gaps fold into a radial right-type tail when their adjacent ranges differ
// by less than the robot's girth.
func (d *Detector) SimplifyGaps(s *scan.LaserScan, rawGaps []*gap.Gap) ([]*gap.Gap, error) {
	var simplified []*gap.Gap
	markToStart := true

	for _, raw := range rawGaps {
		switch {
		case markToStart:
			if !raw.Swept && raw.RightType {
				markToStart = false
			}
			simplified = append(simplified, cloneDetected(raw))
		case !raw.Swept:
			if raw.RightType {
				simplified = append(simplified, cloneDetected(raw))
				continue
			}
			lastMergeable := d.lastMergeableIdx(s, raw, simplified)
			if lastMergeable >= 0 {
				simplified = simplified[:lastMergeable+1]
				e := raw.Endpoints(gap.Detected)
				simplified[lastMergeable].SetLeft(e.LeftIdx, e.LeftRange)
			} else {
				simplified = append(simplified, cloneDetected(raw))
			}
		default:
			if d.mergeSweptGapCondition(raw, simplified) {
				e := raw.Endpoints(gap.Detected)
				simplified[len(simplified)-1].SetLeft(e.LeftIdx, e.LeftRange)
			} else {
				simplified = append(simplified, cloneDetected(raw))
			}
		}
	}

	return simplified, nil
}

// lastMergeableIdx scans backward through the simplified list for the
// farthest-back gap this raw gap can merge over: the intervening scan must
// leave room for the robot beyond both outer ranges, the candidate must be
// right-type or swept, and the merged width must stay under the cap.
func (d *Detector) lastMergeableIdx(s *scan.LaserScan, raw *gap.Gap, simplified []*gap.Gap) int {
	lastMergeable := -1
	rawE := raw.Endpoints(gap.Detected)
	for j := len(simplified) - 1; j >= 0; j-- {
		simpE := simplified[j].Endpoints(gap.Detected)
		startIdx := utils.MinInt(simpE.LeftIdx, rawE.RightIdx)
		endIdx := utils.MaxInt(simpE.LeftIdx, rawE.RightIdx)
		inflatedMin := s.MinRangeBetween(startIdx, endIdx) - 2*d.cfg.RInscribed

		interDistTest := rawE.LeftRange <= inflatedMin && simpE.RightRange <= inflatedMin
		rightTypeOrSwept := simplified[j].RightType || simplified[j].Swept
		sizeCheck := utils.SubtractWrap(rawE.LeftIdx-simpE.RightIdx, s.Size()) < d.cfg.MaxIdxDiff

		if interDistTest && rightTypeOrSwept && sizeCheck {
			lastMergeable = j
		}
	}
	return lastMergeable
}

// mergeSweptGapCondition folds a swept raw gap into the tail when the
// adjacent endpoint ranges differ by less than the robot's girth and the tail
// is radial right-type.
func (d *Detector) mergeSweptGapCondition(raw *gap.Gap, simplified []*gap.Gap) bool {
	if len(simplified) == 0 {
		return false
	}
	tail := simplified[len(simplified)-1]
	rawE := raw.Endpoints(gap.Detected)
	tailE := tail.Endpoints(gap.Detected)
	distDiffCheck := math.Abs(rawE.LeftRange-tailE.RightRange) < 3*d.cfg.RInscribed
	return distDiffCheck && !tail.Swept && tail.RightType
}
