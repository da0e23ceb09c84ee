package planner

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/scan"
	"go.viam.com/gapnav/trajectory"
)

// newTestPlanner wires a planner with identity transforms and a straight
// global plan toward the given goal.
func newTestPlanner(t *testing.T, cfg *Config, goal r3.Vector) *Planner {
	t.Helper()
	logger := golog.NewTestLogger(t)
	p, err := New(cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	p.UpdateTransforms(Transforms{})
	p.SetGlobalPlan([]geom.Pose{
		geom.NewPose(0, 0, 0),
		geom.NewPose(goal.X/2, goal.Y/2, 0),
		geom.NewPose(goal.X, goal.Y, 0),
	})
	return p
}

func feedCycle(p *Planner, s *scan.LaserScan, t time.Time) {
	p.UpdateScan(s)
	p.UpdateOdometry(geom.NewPose(0, 0, 0), r3.Vector{}, 0, t)
}

func TestPlanOpenCorridor(t *testing.T) {
	cfg := DefaultConfig()
	p := newTestPlanner(t, cfg, r3.Vector{X: 2.0})

	feedCycle(p, scan.NewUniform(512, 5.0, testScanTime()), testScanTime())
	traj, status := p.PlanOnce(context.Background())

	test.That(t, status, test.ShouldEqual, StatusOK)
	test.That(t, traj.Len(), test.ShouldBeGreaterThan, 5)

	// straight line from the origin toward (2, 0)
	for _, pose := range traj.Poses {
		test.That(t, math.Abs(pose.Point.Y), test.ShouldBeLessThan, 0.05)
		test.That(t, pose.Point.X, test.ShouldBeLessThan, 2.05)
	}
	last := traj.Poses[traj.Len()-1]
	test.That(t, last.Point.X, test.ShouldBeGreaterThan, 1.6)
}

func TestPlanSinglePillarClearance(t *testing.T) {
	cfg := DefaultConfig()
	p := newTestPlanner(t, cfg, r3.Vector{X: 3.0})

	s := pillarScan(5.0, 1.0)
	feedCycle(p, s, testScanTime())
	traj, status := p.PlanOnce(context.Background())

	test.That(t, status, test.ShouldEqual, StatusOK)
	test.That(t, traj.Empty(), test.ShouldBeFalse)

	// every pose keeps the inflated radius of clearance from the pillar
	for _, pose := range traj.Poses {
		minDist := math.Inf(1)
		for i := range s.Ranges {
			if d := geom.Dist2D(s.Point(i), pose.Point); d < minDist {
				minDist = d
			}
		}
		test.That(t, minDist, test.ShouldBeGreaterThanOrEqualTo, cfg.inflatedRadius())
	}
}

func TestPlanNoScanKeepsTrajectory(t *testing.T) {
	cfg := DefaultConfig()
	p := newTestPlanner(t, cfg, r3.Vector{X: 2.0})

	traj, status := p.PlanOnce(context.Background())
	test.That(t, status, test.ShouldEqual, StatusTransientSensor)
	test.That(t, traj.Empty(), test.ShouldBeTrue)

	// establish a trajectory, then lose the scan: the old one is kept
	feedCycle(p, scan.NewUniform(512, 5.0, testScanTime()), testScanTime())
	planned, status := p.PlanOnce(context.Background())
	test.That(t, status, test.ShouldEqual, StatusOK)

	p.UpdateScan(nil)
	kept, status := p.PlanOnce(context.Background())
	test.That(t, status, test.ShouldEqual, StatusTransientSensor)
	test.That(t, kept.Len(), test.ShouldEqual, planned.Len())
}

func TestPlanAssociationAcrossCycles(t *testing.T) {
	cfg := DefaultConfig()
	p := newTestPlanner(t, cfg, r3.Vector{X: 3.0})

	s := pillarScan(5.0, 1.0)
	for cycle := 0; cycle < 3; cycle++ {
		at := testScanTime().Add(time.Duration(cycle*100) * time.Millisecond)
		feedCycle(p, s.Copy(), at)
		_, status := p.PlanOnce(context.Background())
		test.That(t, status, test.ShouldEqual, StatusOK)
	}

	// a static environment re-associates instead of minting new estimators
	// each cycle: two endpoints worth of IDs, not six
	test.That(t, p.modelIDs.Next(), test.ShouldBeLessThanOrEqualTo, 4)
}

func TestArbitrateHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPoseToScanDist = 2.0 // open scan scores zero per pose
	p := newTestPlanner(t, cfg, r3.Vector{X: 2.0})

	s := scan.NewUniform(512, 5.0, testScanTime())
	snap := &snapshot{
		scan:           s,
		localGoalRobot: r3.Vector{X: 10.0}, // far waypoint, no short-circuit
	}

	current := trajectory.New(trajectory.FrameRobot)
	incoming := trajectory.New(trajectory.FrameRobot)
	for i := 0; i < 12; i++ {
		current.Append(geom.NewPose(0.2*float64(i), 0, 0), 0.2*float64(i))
		incoming.Append(geom.NewPose(0.2*float64(i), 0.2, 0), 0.2*float64(i))
	}
	p.adopt(current, nil, snap)
	changesBefore := p.TrajectoryChanges()

	// counts is NumFeasiCheck (10); the current trajectory re-scores to
	// roughly -dist(last pose, waypoint) on its first remaining pose
	reduced := current.Slice(current.ClosestPoseIdx(r3.Vector{}))
	currentSub := SumScore(p.scorer.ScoreTrajectory(reduced, s, nil, snap.localGoalRobot), cfg.NumFeasiCheck)

	// an incoming score above current but within the hysteresis margin is
	// rejected
	weak := make([]float64, 12)
	weak[0] = currentSub + float64(cfg.NumFeasiCheck) - 0.5
	result, status := p.arbitrate(incoming, nil, weak, snap, nil, true)
	test.That(t, status, test.ShouldEqual, StatusOK)
	test.That(t, p.TrajectoryChanges(), test.ShouldEqual, changesBefore)
	test.That(t, result.Poses[0].Point.Y, test.ShouldAlmostEqual, 0)

	// past the margin the incoming trajectory is adopted
	strong := make([]float64, 12)
	strong[0] = currentSub + float64(cfg.NumFeasiCheck) + 0.5
	result, status = p.arbitrate(incoming, nil, strong, snap, nil, true)
	test.That(t, status, test.ShouldEqual, StatusOK)
	test.That(t, p.TrajectoryChanges(), test.ShouldEqual, changesBefore+1)
	test.That(t, result.Poses[0].Point.Y, test.ShouldAlmostEqual, 0.2)
}

func TestArbitrateInfeasibleCurrentSwitches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPoseToScanDist = 2.0
	p := newTestPlanner(t, cfg, r3.Vector{X: 2.0})

	s := scan.NewUniform(512, 5.0, testScanTime())
	snap := &snapshot{scan: s, localGoalRobot: r3.Vector{X: 10.0}}

	current := trajectory.New(trajectory.FrameRobot)
	incoming := trajectory.New(trajectory.FrameRobot)
	for i := 0; i < 12; i++ {
		current.Append(geom.NewPose(0.2*float64(i), 0, 0), 0.2*float64(i))
		incoming.Append(geom.NewPose(0.2*float64(i), 0.2, 0), 0.2*float64(i))
	}
	p.adopt(current, nil, snap)

	// the tracked gap vanished from the feasible set: switch regardless of
	// score margin
	scores := make([]float64, 12)
	result, status := p.arbitrate(incoming, nil, scores, snap, nil, false)
	test.That(t, status, test.ShouldEqual, StatusOK)
	test.That(t, result.Poses[0].Point.Y, test.ShouldAlmostEqual, 0.2)
}

func TestPlanningStallResets(t *testing.T) {
	cfg := DefaultConfig()
	p := newTestPlanner(t, cfg, r3.Vector{X: 2.0})

	// establish a trajectory
	feedCycle(p, scan.NewUniform(512, 5.0, testScanTime()), testScanTime())
	_, status := p.PlanOnce(context.Background())
	test.That(t, status, test.ShouldEqual, StatusOK)
	test.That(t, p.CurrentTrajectory().Empty(), test.ShouldBeFalse)

	// a full buffer of zero command velocities declares a stall
	for i := 0; i < cfg.HaltBufferSize-1; i++ {
		test.That(t, p.RecordVelocity(Twist{}), test.ShouldBeTrue)
	}
	test.That(t, p.RecordVelocity(Twist{}), test.ShouldBeFalse)

	// the reset lands at the start of the next cycle, which surfaces the
	// stall as its outcome with nothing left to track
	traj, status := p.PlanOnce(context.Background())
	test.That(t, status, test.ShouldEqual, StatusPlanningStall)
	test.That(t, traj.Empty(), test.ShouldBeTrue)
	test.That(t, p.CurrentTrajectory().Empty(), test.ShouldBeTrue)

	// the cycle after that re-plans from scratch
	feedCycle(p, scan.NewUniform(512, 5.0, testScanTime()), testScanTime())
	traj, status = p.PlanOnce(context.Background())
	test.That(t, status, test.ShouldEqual, StatusOK)
	test.That(t, traj.Empty(), test.ShouldBeFalse)
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	p := newTestPlanner(t, cfg, r3.Vector{X: 2.0})
	feedCycle(p, scan.NewUniform(512, 5.0, testScanTime()), testScanTime())

	outcomes := make(chan Status, 16)
	p.Start(context.Background(), 10*time.Millisecond, func(_ *trajectory.Trajectory, st Status) {
		select {
		case outcomes <- st:
		default:
		}
	})

	select {
	case st := <-outcomes:
		test.That(t, st, test.ShouldEqual, StatusOK)
	case <-time.After(2 * time.Second):
		t.Fatal("planning loop never ticked")
	}
	p.Stop()
}
