package planner

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"go.viam.com/gapnav/gap"
	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/trajectory"
)

// policyKind tags the guidance law a policy integrates.
type policyKind int

const (
	goToGoalPolicy policyKind = iota
	pursuitPolicy
)

// guidancePolicy is the tagged variant behind trajectory synthesis: a
// go-to-goal vector field or a pursuit-guidance law against a moving
// intercept point. The integrator is generic over the variant.
type guidancePolicy struct {
	kind      policyKind
	speed     float64
	target    r3.Vector
	targetVel r3.Vector
}

// velocity returns the commanded velocity at the given position.
func (p *guidancePolicy) velocity(pos r3.Vector) r3.Vector {
	los := p.target.Sub(pos)
	losNorm := geom.Norm2D(los)
	if losNorm < 1e-9 {
		return r3.Vector{}
	}
	u := los.Mul(1 / losNorm)

	if p.kind == goToGoalPolicy {
		return u.Mul(p.speed)
	}

	// parallel navigation: match the intercept point's velocity and close
	// along the line of sight at whatever speed budget remains, driving the
	// line-of-sight rate to zero
	along := geom.Dot2D(p.targetVel, u)
	discriminant := along*along - geom.Dot2D(p.targetVel, p.targetVel) + p.speed*p.speed
	closing := p.speed
	if discriminant >= 0 {
		closing = -along + math.Sqrt(discriminant)
	}
	return p.targetVel.Add(u.Mul(closing))
}

// step advances the robot and, for pursuit, the intercept point by dt.
func (p *guidancePolicy) step(pos r3.Vector, dt float64) r3.Vector {
	next := pos.Add(p.velocity(pos).Mul(dt))
	if p.kind == pursuitPolicy {
		p.target = p.target.Add(p.targetVel.Mul(dt))
	}
	return next
}

// Generator synthesizes candidate trajectories through manipulated gaps.
type Generator struct {
	cfg    *Config
	logger golog.Logger
}

// NewGenerator returns a trajectory generator.
func NewGenerator(cfg *Config, logger golog.Logger) *Generator {
	return &Generator{cfg: cfg, logger: logger}
}

// GenerateGoToGoal integrates the constant-speed vector field from the robot
// straight toward the target. Used when no feasible gap exists or the target
// is the global goal itself.
func (tg *Generator) GenerateGoToGoal(target r3.Vector) *trajectory.Trajectory {
	policy := &guidancePolicy{kind: goToGoalPolicy, speed: tg.cfg.VxAbsMax, target: target}
	raw := tg.integrate(policy, tg.cfg.IntegrateMaxT)
	return tg.process(raw)
}

// Generate integrates the pursuit-guidance law through the gap's corridor,
// intercepting the gap goal as it drifts with the endpoint velocities.
func (tg *Generator) Generate(g *gap.Gap) *trajectory.Trajectory {
	targetVel := r3.Vector{}
	if g.HasModels() {
		g.LeftModel().IsolateGapDynamics()
		g.RightModel().IsolateGapDynamics()
		_, leftVel := g.LeftModel().FrozenState()
		_, rightVel := g.RightModel().FrozenState()
		targetVel = leftVel.Add(rightVel).Mul(0.5)
	}

	policy := &guidancePolicy{
		kind:      pursuitPolicy,
		speed:     tg.cfg.VxAbsMax,
		target:    g.Goal,
		targetVel: targetVel,
	}
	tMax := math.Min(g.Lifespan, tg.cfg.IntegrateMaxT)
	raw := tg.integrate(policy, tMax)
	return tg.process(raw)
}

// integrate runs fixed-step Euler on the policy from the robot origin.
func (tg *Generator) integrate(policy *guidancePolicy, tMax float64) *trajectory.Trajectory {
	traj := trajectory.New(trajectory.FrameRobot)
	pos := r3.Vector{}
	dt := tg.cfg.IntegrateStepT

	traj.Append(geom.Pose{Point: pos}, 0)
	for t := dt; t <= tMax; t += dt {
		if geom.Dist2D(pos, policy.target) <= policy.speed*dt {
			traj.Append(geom.Pose{Point: policy.target}, t)
			break
		}
		pos = policy.step(pos, dt)
		traj.Append(geom.Pose{Point: pos}, t)
	}
	return traj
}

// process downsamples the raw integration to at least 0.1 m pose spacing,
// rewrites each pose's heading to point at its successor, and drops the final
// pose whose heading would be undefined.
func (tg *Generator) process(raw *trajectory.Trajectory) *trajectory.Trajectory {
	const poseSpacing = 0.1

	out := trajectory.New(raw.Frame)
	out.Append(geom.Pose{}, 0)

	for i := 1; i < raw.Len(); i++ {
		last := out.Poses[out.Len()-1].Point
		if geom.Dist2D(raw.Poses[i].Point, last) > poseSpacing {
			out.Append(raw.Poses[i], raw.Times[i])
		}
	}

	for i := 1; i < out.Len(); i++ {
		diff := out.Poses[i].Point.Sub(out.Poses[i-1].Point)
		out.Poses[i-1].Theta = geom.Bearing(diff)
	}
	if out.Len() > 1 {
		out.Poses = out.Poses[:out.Len()-1]
		out.Times = out.Times[:len(out.Times)-1]
	}
	return out
}
