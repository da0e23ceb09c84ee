package planner

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	goutils "go.viam.com/utils"

	"go.viam.com/gapnav/gap"
	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/scan"
	"go.viam.com/gapnav/trajectory"
)

// Twist is a commanded velocity in the robot frame.
type Twist struct {
	Linear  r3.Vector
	Angular float64
}

// Transforms holds the frame tree the caller refreshes every cycle. The
// planner only consumes transforms; lookup lives outside the core.
type Transforms struct {
	Map2Odom     geom.Transform
	Odom2Robot   geom.Transform
	Robot2Sensor geom.Transform
}

// Robot2Odom returns the inverse of the odometry-to-robot transform.
func (t Transforms) Robot2Odom() geom.Transform {
	return t.Odom2Robot.Invert()
}

// Map2Robot composes the map-to-odometry and odometry-to-robot transforms.
func (t Transforms) Map2Robot() geom.Transform {
	return t.Odom2Robot.Compose(t.Map2Odom)
}

// Planner runs the gap planning pipeline once per cycle: detect, associate,
// estimate, check feasibility, manipulate, propagate, synthesize, score, and
// arbitrate against the currently tracked trajectory. Input callbacks deposit
// into locked slots; each cycle reads one consistent snapshot.
type Planner struct {
	cfg    *Config
	logger golog.Logger
	clock  clock.Clock

	detector    *Detector
	associator  *gap.Associator
	feasibility *FeasibilityChecker
	manipulator *Manipulator
	propagator  *ScanPropagator
	generator   *Generator
	scorer      *Scorer

	scanMu     sync.Mutex
	latestScan *scan.LaserScan

	gapMu          sync.Mutex
	prevSimplified []*gap.Gap
	currentLeftID  int
	currentRightID int

	globalPlanMu  sync.Mutex
	globalPlanMap []geom.Pose
	hasGoal       bool

	velBufferMu      sync.Mutex
	cmdVelBuffer     []float64
	cmdVelNext       int
	cmdVelCount      int
	intermediateVels []gap.TwistSample
	intermediateAccs []gap.TwistSample
	currentRobotVel  gap.TwistSample

	agentMu    sync.Mutex
	agentsOdom []Agent

	tfMu          sync.Mutex
	tfs           Transforms
	robotPoseOdom geom.Pose

	stateMu        sync.Mutex
	currentTraj    *trajectory.Trajectory
	resetRequested bool
	resetFromStall bool
	trajChanges    int

	modelIDs gap.ModelCounter

	activeBackgroundWorkers sync.WaitGroup
	cancel                  context.CancelFunc
}

// New returns a planner ready to receive inputs. The config must validate.
func New(cfg *Config, logger golog.Logger) (*Planner, error) {
	return NewWithClock(cfg, logger, clock.New())
}

// NewWithClock is New with an injected clock for deterministic tests.
func NewWithClock(cfg *Config, logger golog.Logger, c clock.Clock) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Planner{
		cfg:            cfg,
		logger:         logger,
		clock:          c,
		detector:       NewDetector(cfg, logger),
		associator:     gap.NewAssociator(cfg.MaxAssocDist, logger),
		feasibility:    NewFeasibilityChecker(cfg, logger),
		manipulator:    NewManipulator(cfg, logger),
		propagator:     NewScanPropagator(cfg, logger),
		generator:      NewGenerator(cfg, logger),
		scorer:         NewScorer(cfg, logger),
		cmdVelBuffer:   make([]float64, cfg.HaltBufferSize),
		currentTraj:    trajectory.New(trajectory.FrameOdom),
		currentLeftID:  -1,
		currentRightID: -1,
	}
	return p, nil
}

// UpdateScan deposits the latest range scan.
func (p *Planner) UpdateScan(s *scan.LaserScan) {
	p.scanMu.Lock()
	defer p.scanMu.Unlock()
	p.latestScan = s
}

// UpdateTransforms deposits the latest frame tree.
func (p *Planner) UpdateTransforms(tfs Transforms) {
	p.tfMu.Lock()
	defer p.tfMu.Unlock()
	p.tfs = tfs
}

// UpdateOdometry deposits the robot pose in the odometry frame and the body
// twist; the twist sample joins the intermediate buffer consumed by the next
// filter update.
func (p *Planner) UpdateOdometry(poseOdom geom.Pose, linear r3.Vector, angular float64, t time.Time) {
	p.tfMu.Lock()
	p.robotPoseOdom = poseOdom
	p.tfMu.Unlock()

	sample := gap.TwistSample{Time: t, Linear: linear, Angular: angular}
	p.velBufferMu.Lock()
	defer p.velBufferMu.Unlock()
	p.intermediateVels = append(p.intermediateVels, sample)
	p.currentRobotVel = sample
}

// UpdateAcceleration deposits a body-frame linear acceleration sample.
func (p *Planner) UpdateAcceleration(linear r3.Vector, t time.Time) {
	p.velBufferMu.Lock()
	defer p.velBufferMu.Unlock()
	p.intermediateAccs = append(p.intermediateAccs, gap.TwistSample{Time: t, Linear: linear})
}

// UpdateAgents deposits the agents near the robot, in the odometry frame.
func (p *Planner) UpdateAgents(agents []Agent) {
	p.agentMu.Lock()
	defer p.agentMu.Unlock()
	p.agentsOdom = append([]Agent(nil), agents...)
}

// SetGlobalPlan installs the global plan, in the map frame. An empty plan
// clears the goal.
func (p *Planner) SetGlobalPlan(plan []geom.Pose) {
	p.globalPlanMu.Lock()
	defer p.globalPlanMu.Unlock()
	p.globalPlanMap = append([]geom.Pose(nil), plan...)
	p.hasGoal = len(plan) > 0
}

// Reset requests a hard reset; it takes effect at the start of the next
// cycle.
func (p *Planner) Reset() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.resetRequested = true
}

// CurrentTrajectory returns the trajectory currently being tracked, in the
// odometry frame.
func (p *Planner) CurrentTrajectory() *trajectory.Trajectory {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.currentTraj.Copy()
}

// TrajectoryChanges returns how many times arbitration has switched
// trajectories.
func (p *Planner) TrajectoryChanges() int {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.trajChanges
}

// IsGoalReached reports whether the robot is within the goal tolerance of
// the global goal.
func (p *Planner) IsGoalReached() bool {
	p.globalPlanMu.Lock()
	plan := p.globalPlanMap
	hasGoal := p.hasGoal
	p.globalPlanMu.Unlock()
	if !hasGoal {
		return false
	}

	p.tfMu.Lock()
	robot := p.robotPoseOdom
	goalOdom := p.tfs.Map2Odom.TransformPose(plan[len(plan)-1])
	p.tfMu.Unlock()

	return geom.Dist2D(robot.Point, goalOdom.Point) < p.cfg.GoalTolerance
}

// RecordVelocity pushes a command velocity into the stall-detection ring
// buffer. It returns false, and requests a reset, when the buffer is full
// and its sum says the robot has stopped making progress.
func (p *Planner) RecordVelocity(cmd Twist) bool {
	val := math.Abs(cmd.Linear.X) + math.Abs(cmd.Linear.Y) + math.Abs(cmd.Angular)

	p.velBufferMu.Lock()
	p.cmdVelBuffer[p.cmdVelNext] = val
	p.cmdVelNext = (p.cmdVelNext + 1) % len(p.cmdVelBuffer)
	if p.cmdVelCount < len(p.cmdVelBuffer) {
		p.cmdVelCount++
	}
	full := p.cmdVelCount == len(p.cmdVelBuffer)
	sum := 0.0
	for _, v := range p.cmdVelBuffer {
		sum += v
	}
	p.velBufferMu.Unlock()

	if full && sum < 1.0 {
		p.logger.Warn("planning failed: command velocity buffer below threshold")
		p.stateMu.Lock()
		p.resetRequested = true
		p.resetFromStall = true
		p.stateMu.Unlock()
		return false
	}
	return true
}

// applyReset clears the tracked trajectory, the committed gap sets, and the
// velocity buffer.
func (p *Planner) applyReset() {
	p.gapMu.Lock()
	for _, g := range p.prevSimplified {
		g.TakeModels()
	}
	p.prevSimplified = nil
	p.currentLeftID = -1
	p.currentRightID = -1
	p.gapMu.Unlock()

	p.velBufferMu.Lock()
	for i := range p.cmdVelBuffer {
		p.cmdVelBuffer[i] = 0
	}
	p.cmdVelNext = 0
	p.cmdVelCount = 0
	p.intermediateVels = nil
	p.intermediateAccs = nil
	p.velBufferMu.Unlock()

	p.stateMu.Lock()
	p.currentTraj = trajectory.New(trajectory.FrameOdom)
	p.stateMu.Unlock()
}

// snapshot is the consistent per-cycle view of all input slots.
type snapshot struct {
	scan            *scan.LaserScan
	tfs             Transforms
	robotPoseOdom   geom.Pose
	agentsRobot     []Agent
	localGoalRobot  r3.Vector
	globalGoalRobot r3.Vector
	hasGoal         bool
	vels            []gap.TwistSample
	accs            []gap.TwistSample
	robotVel        r3.Vector
}

// takeSnapshot copies every input slot under its lock and derives the
// robot-frame goals and agents.
func (p *Planner) takeSnapshot() (*snapshot, bool) {
	p.scanMu.Lock()
	s := p.latestScan
	p.scanMu.Unlock()
	if s == nil || s.Validate() != nil {
		return nil, false
	}

	p.tfMu.Lock()
	tfs := p.tfs
	robotPoseOdom := p.robotPoseOdom
	p.tfMu.Unlock()

	p.globalPlanMu.Lock()
	plan := append([]geom.Pose(nil), p.globalPlanMap...)
	hasGoal := p.hasGoal
	p.globalPlanMu.Unlock()

	p.velBufferMu.Lock()
	vels := p.intermediateVels
	accs := p.intermediateAccs
	p.intermediateVels = nil
	p.intermediateAccs = nil
	robotVel := p.currentRobotVel.Linear
	p.velBufferMu.Unlock()

	p.agentMu.Lock()
	agentsOdom := append([]Agent(nil), p.agentsOdom...)
	p.agentMu.Unlock()

	odom2robot := tfs.Odom2Robot
	agentsRobot := make([]Agent, 0, len(agentsOdom))
	rot := geom.NewTransform(0, 0, odom2robot.Rotation)
	for _, a := range agentsOdom {
		agentsRobot = append(agentsRobot, Agent{
			Position: odom2robot.TransformPoint(a.Position),
			Velocity: rot.TransformPoint(a.Velocity),
		})
	}

	snap := &snapshot{
		scan:          s.Copy(),
		tfs:           tfs,
		robotPoseOdom: robotPoseOdom,
		agentsRobot:   agentsRobot,
		hasGoal:       hasGoal,
		vels:          vels,
		accs:          accs,
		robotVel:      robotVel,
	}

	if hasGoal {
		map2robot := tfs.Map2Robot()
		snap.globalGoalRobot = map2robot.TransformPoint(plan[len(plan)-1].Point)
		snap.localGoalRobot = p.localWaypoint(plan, robotPoseOdom, tfs)
	}
	return snap, true
}

// localWaypoint walks the global plan for the farthest pose within the
// lookahead distance of the robot and returns it in the robot frame.
func (p *Planner) localWaypoint(planMap []geom.Pose, robotPoseOdom geom.Pose, tfs Transforms) r3.Vector {
	map2odom := tfs.Map2Odom
	waypointOdom := map2odom.TransformPose(planMap[len(planMap)-1])
	for i := len(planMap) - 1; i >= 0; i-- {
		poseOdom := map2odom.TransformPose(planMap[i])
		if geom.Dist2D(poseOdom.Point, robotPoseOdom.Point) <= p.cfg.LookaheadDist {
			waypointOdom = poseOdom
			break
		}
	}
	return tfs.Odom2Robot.TransformPoint(waypointOdom.Point)
}

// PlanOnce runs one full planning cycle and returns the trajectory to track,
// in the odometry frame, with the cycle's status. A panic anywhere in the
// pipeline aborts the cycle as fatal; the next cycle reinitializes.
func (p *Planner) PlanOnce(ctx context.Context) (result *trajectory.Trajectory, status Status) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("planning cycle aborted", "panic", r)
			result = trajectory.New(trajectory.FrameOdom)
			status = StatusFatal
		}
	}()

	p.stateMu.Lock()
	doReset := p.resetRequested
	stalled := p.resetFromStall
	p.resetRequested = false
	p.resetFromStall = false
	p.stateMu.Unlock()
	if doReset {
		p.applyReset()
		if stalled {
			// the stall reset is this cycle's outcome; planning resumes
			// from scratch on the next cycle
			return trajectory.New(trajectory.FrameOdom), StatusPlanningStall
		}
	}

	snap, ok := p.takeSnapshot()
	if !ok {
		p.logger.Warn("no usable scan, skipping cycle")
		return p.CurrentTrajectory(), StatusTransientSensor
	}

	// detect and simplify; any detection failure degrades to "no gaps"
	var simplified []*gap.Gap
	raw, err := p.detector.DetectGaps(snap.scan, snap.globalGoalRobot, snap.hasGoal)
	if err != nil {
		p.logger.Warnw("gap detection failed", "error", err)
	} else if simplified, err = p.detector.SimplifyGaps(snap.scan, raw); err != nil {
		p.logger.Warnw("gap simplification failed", "error", err)
		simplified = nil
	}

	// associate with the previous cycle and bring the endpoint filters
	// forward to the scan time
	p.gapMu.Lock()
	p.associator.Associate(simplified, p.prevSimplified, &p.modelIDs, snap.scan.Time)
	p.gapMu.Unlock()
	p.updateModels(simplified, snap)

	feasible, isCurrentGapFeasible, err := p.checkFeasibility(simplified, snap)
	if err != nil {
		p.commitGaps(simplified)
		return trajectory.New(trajectory.FrameOdom), StatusFatal
	}

	futures := p.propagator.FutureScans(snap.scan, snap.agentsRobot)

	for _, g := range feasible {
		p.manipulator.Manipulate(g, snap.scan, snap.localGoalRobot, gap.Manipulated)
		p.manipulator.ManipulateTerminal(g, futures, snap.localGoalRobot)
	}

	if len(feasible) == 0 {
		st := StatusNoFeasible
		if len(simplified) == 0 {
			st = StatusNoGaps
		}
		fallback := p.generator.GenerateGoToGoal(snap.globalGoalRobot)
		p.adopt(fallback, nil, snap)
		p.commitGaps(simplified)
		return p.CurrentTrajectory(), st
	}

	incoming, incomingGap, incomingScores := p.bestCandidate(feasible, snap, futures)

	result, status = p.arbitrate(incoming, incomingGap, incomingScores, snap, futures, isCurrentGapFeasible)
	p.commitGaps(simplified)
	return result, status
}

// updateModels feeds each endpoint filter its new measurement along with the
// intermediate motion samples gathered since the last cycle.
func (p *Planner) updateModels(gaps []*gap.Gap, snap *snapshot) {
	for _, g := range gaps {
		left, right := g.Points(gap.Detected)
		if g.LeftModel() != nil {
			g.LeftModel().Update(left, snap.vels, snap.accs, snap.scan.Time)
		}
		if g.RightModel() != nil {
			g.RightModel().Update(right, snap.vels, snap.accs, snap.scan.Time)
		}
	}
}

// checkFeasibility filters the simplified set down to traversable gaps and
// reports whether the currently tracked gap is among them.
func (p *Planner) checkFeasibility(simplified []*gap.Gap, snap *snapshot) ([]*gap.Gap, bool, error) {
	p.gapMu.Lock()
	leftID, rightID := p.currentLeftID, p.currentRightID
	p.gapMu.Unlock()

	var feasible []*gap.Gap
	isCurrentGapFeasible := false
	for _, g := range simplified {
		ok, err := p.feasibility.Check(g, snap.robotVel)
		if err != nil {
			p.logger.Errorw("feasibility invariant violation", "error", err)
			return nil, false, err
		}
		if !ok {
			continue
		}
		feasible = append(feasible, g)
		if g.HasModels() &&
			g.LeftModel().ModelID() == leftID && g.RightModel().ModelID() == rightID {
			isCurrentGapFeasible = true
		}
	}
	return feasible, isCurrentGapFeasible, nil
}

// bestCandidate generates and scores one trajectory per feasible gap and
// returns the highest-scoring one.
func (p *Planner) bestCandidate(
	feasible []*gap.Gap,
	snap *snapshot,
	futures []*scan.LaserScan,
) (*trajectory.Trajectory, *gap.Gap, []float64) {
	bestIdx := 0
	bestSub := math.Inf(-1)
	trajs := make([]*trajectory.Trajectory, len(feasible))
	scores := make([][]float64, len(feasible))

	for i, g := range feasible {
		trajs[i] = p.generator.Generate(g)
		scores[i] = p.scorer.ScoreTrajectory(trajs[i], snap.scan, futures, snap.localGoalRobot)
		sub := SumScore(scores[i], p.cfg.NumFeasiCheck)
		if trajs[i].Empty() {
			sub = math.Inf(-1)
		}
		if sub > bestSub {
			bestSub = sub
			bestIdx = i
		}
	}
	return trajs[bestIdx], feasible[bestIdx], scores[bestIdx]
}

// arbitrate compares the incoming candidate against the currently tracked
// trajectory, re-scoring the current one's remaining portion against the new
// environment, and switches only past the hysteresis margin or when the
// current trajectory is empty, too short, or infeasible.
func (p *Planner) arbitrate(
	incoming *trajectory.Trajectory,
	incomingGap *gap.Gap,
	incomingScores []float64,
	snap *snapshot,
	futures []*scan.LaserScan,
	isCurrentGapFeasible bool,
) (*trajectory.Trajectory, Status) {
	counts := p.cfg.NumFeasiCheck
	if n := incoming.Len(); n < counts {
		counts = n
	}
	incomingSub := SumScore(incomingScores, counts)

	current := p.CurrentTrajectory()
	if current.Empty() {
		if math.IsInf(incomingSub, -1) {
			p.clearCurrent()
			return trajectory.New(trajectory.FrameOdom), StatusNoFeasible
		}
		return p.adopt(incoming, incomingGap, snap), StatusOK
	}

	currentRobot := current.Transform(snap.tfs.Odom2Robot, trajectory.FrameRobot)
	start := currentRobot.ClosestPoseIdx(r3.Vector{})
	reduced := currentRobot.Slice(start)
	if reduced.Len() < 2 {
		p.logger.Debug("current trajectory nearly exhausted, switching")
		return p.adopt(incoming, incomingGap, snap), StatusOK
	}

	currentScores := p.scorer.ScoreTrajectory(reduced, snap.scan, futures, snap.localGoalRobot)
	if n := reduced.Len(); n < counts {
		counts = n
	}
	incomingSub = SumScore(incomingScores, counts)
	currentSub := SumScore(currentScores, counts)

	if math.IsInf(incomingSub, -1) && math.IsInf(currentSub, -1) {
		p.clearCurrent()
		return trajectory.New(trajectory.FrameOdom), StatusNoFeasible
	}

	if !isCurrentGapFeasible || math.IsInf(currentSub, -1) {
		return p.adopt(incoming, incomingGap, snap), StatusOK
	}

	if incomingSub > currentSub+float64(counts) {
		p.logger.Debugf("switching trajectory: %.2f > %.2f + %d", incomingSub, currentSub, counts)
		return p.adopt(incoming, incomingGap, snap), StatusOK
	}

	return current, StatusOK
}

// adopt installs a robot-frame trajectory as current, transforming it into
// the odometry frame, and records which gap it tracks.
func (p *Planner) adopt(incoming *trajectory.Trajectory, g *gap.Gap, snap *snapshot) *trajectory.Trajectory {
	odomTraj := incoming.Transform(snap.tfs.Robot2Odom(), trajectory.FrameOdom)

	p.gapMu.Lock()
	if g != nil && g.HasModels() {
		p.currentLeftID = g.LeftModel().ModelID()
		p.currentRightID = g.RightModel().ModelID()
	} else {
		p.currentLeftID = -1
		p.currentRightID = -1
	}
	p.gapMu.Unlock()

	p.stateMu.Lock()
	p.currentTraj = odomTraj.Copy()
	p.trajChanges++
	p.stateMu.Unlock()
	return odomTraj
}

func (p *Planner) clearCurrent() {
	p.gapMu.Lock()
	p.currentLeftID = -1
	p.currentRightID = -1
	p.gapMu.Unlock()

	p.stateMu.Lock()
	p.currentTraj = trajectory.New(trajectory.FrameOdom)
	p.stateMu.Unlock()
}

// commitGaps atomically swaps the committed gap sets at cycle end.
func (p *Planner) commitGaps(simplified []*gap.Gap) {
	p.gapMu.Lock()
	defer p.gapMu.Unlock()
	for _, g := range p.prevSimplified {
		g.TakeModels()
	}
	p.prevSimplified = simplified
}

// Start spawns the planning loop at the given period, delivering each
// cycle's outcome to onPlan. Stop or context cancellation ends the loop; a
// cycle in progress always runs to completion.
func (p *Planner) Start(ctx context.Context, period time.Duration, onPlan func(*trajectory.Trajectory, Status)) {
	cancelCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		ticker := p.clock.Ticker(period)
		defer ticker.Stop()
		for {
			if cancelCtx.Err() != nil {
				return
			}
			select {
			case <-cancelCtx.Done():
				return
			case <-ticker.C:
				traj, status := p.PlanOnce(cancelCtx)
				if onPlan != nil {
					onPlan(traj, status)
				}
			}
		}
	}, p.activeBackgroundWorkers.Done)
}

// Stop ends the planning loop and waits for it to wind down.
func (p *Planner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.activeBackgroundWorkers.Wait()
}
