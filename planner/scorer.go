package planner

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/scan"
	"go.viam.com/gapnav/trajectory"
)

// Scorer evaluates candidate trajectories against the current scan and the
// forward-propagated scan sequence. Scores accumulate as penalties: negative
// infinity marks an infeasible pose and trajectories compete on the higher
// total.
type Scorer struct {
	cfg    *Config
	logger golog.Logger
}

// NewScorer returns a trajectory scorer.
func NewScorer(cfg *Config, logger golog.Logger) *Scorer {
	return &Scorer{cfg: cfg, logger: logger}
}

// ScoreTrajectory returns the pose-wise score vector for a robot-frame
// trajectory. Each pose is scored against the propagated scan at its
// timestamp (or the current scan alone when no propagation is available),
// and the terminal cost against the local waypoint is folded into the first
// pose. A trajectory ending essentially on the waypoint with no penalties
// short-circuits to a constant-100 vector.
func (sc *Scorer) ScoreTrajectory(
	traj *trajectory.Trajectory,
	current *scan.LaserScan,
	futureScans []*scan.LaserScan,
	localGoal r3.Vector,
) []float64 {
	if traj.Empty() {
		return nil
	}

	costs := make([]float64, traj.Len())
	for i, pose := range traj.Poses {
		s := current
		if len(futureScans) > 0 {
			scanIdx := int(traj.Times[i] / sc.cfg.IntegrateStepT)
			if scanIdx > len(futureScans)-1 {
				scanIdx = len(futureScans) - 1
			}
			s = futureScans[scanIdx]
		}
		costs[i] = sc.scorePose(pose.Point, s)
	}

	total := floats.Sum(costs)
	terminal := sc.cfg.TerminalWeight * geom.Dist2D(traj.Poses[traj.Len()-1].Point, localGoal)
	if terminal < 0.25 && total >= 0 {
		for i := range costs {
			costs[i] = 100
		}
		return costs
	}
	costs[0] -= terminal
	return costs
}

// scorePose scores one pose by its distance to the nearest scan return.
func (sc *Scorer) scorePose(pt r3.Vector, s *scan.LaserScan) float64 {
	minDist := math.Inf(1)
	for i := range s.Ranges {
		if d := geom.Dist2D(s.Point(i), pt); d < minDist {
			minDist = d
		}
	}
	return sc.poseCost(minDist)
}

// poseCost maps a clearance distance to a score: negative infinity inside
// the inflated radius, zero beyond the penalty range, and an exponential
// penalty in between.
func (sc *Scorer) poseCost(d float64) float64 {
	infl := sc.cfg.inflatedRadius()
	if d < infl {
		return math.Inf(-1)
	}
	if d > sc.cfg.MaxPoseToScanDist {
		return 0
	}
	return sc.cfg.PoseWeight * math.Exp(-sc.cfg.PenExpWeight*(d-infl))
}

// SumScore folds a pose-wise score vector into the comparable subscore used
// by arbitration: the sum of the first counts entries.
func SumScore(scores []float64, counts int) float64 {
	if len(scores) == 0 {
		return math.Inf(-1)
	}
	if counts > len(scores) {
		counts = len(scores)
	}
	return floats.Sum(scores[:counts])
}
