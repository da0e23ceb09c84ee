// Command gapnav runs the gap planner against a synthetic world: a pillar
// ahead of the robot and one crossing agent. It prints the selected
// trajectory each cycle, which is handy for eyeballing planner tuning
// without a robot.
package main

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	goutils "go.viam.com/utils"

	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/planner"
	"go.viam.com/gapnav/scan"
	"go.viam.com/gapnav/trajectory"
	"go.viam.com/gapnav/utils"
)

var logger = golog.NewDevelopmentLogger("gapnav")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// pillarScan builds a scan with uniform open range except a block of rays
// occluded by a pillar dead ahead.
func pillarScan(n int, open, pillarRange float64, t time.Time) *scan.LaserScan {
	s := scan.NewUniform(n, open, t)
	for i := 250; i <= 262; i++ {
		s.Ranges[i] = pillarRange
	}
	return s
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	cfg := planner.DefaultConfig()
	p, err := planner.New(cfg, logger)
	if err != nil {
		return err
	}

	p.SetGlobalPlan([]geom.Pose{
		geom.NewPose(0, 0, 0),
		geom.NewPose(1.5, 0, 0),
		geom.NewPose(3.0, 0, 0),
	})
	p.UpdateTransforms(planner.Transforms{})

	agent := planner.Agent{
		Position: r3.Vector{X: 2.5, Y: -1.5},
		Velocity: r3.Vector{Y: 0.25},
	}

	start := time.Now()
	for cycle := 0; cycle < 40; cycle++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		now := start.Add(time.Duration(cycle) * 100 * time.Millisecond)

		p.UpdateScan(pillarScan(cfg.RayCount, 4.5, 1.2, now))
		p.UpdateOdometry(geom.NewPose(0, 0, 0), r3.Vector{X: 0.3}, 0, now)
		p.UpdateAgents([]planner.Agent{agent})
		agent.Position = agent.Position.Add(agent.Velocity.Mul(0.1))

		traj, status := p.PlanOnce(ctx)
		logTrajectory(logger, cycle, traj, status)

		if !p.RecordVelocity(planner.Twist{Linear: r3.Vector{X: 0.3}}) {
			logger.Warn("stall detected, planner reset")
		}
	}
	return nil
}

func logTrajectory(logger golog.Logger, cycle int, traj *trajectory.Trajectory, status planner.Status) {
	if traj.Empty() {
		logger.Infof("cycle %02d [%s]: no trajectory", cycle, status)
		return
	}
	last := traj.Poses[traj.Len()-1]
	logger.Infof("cycle %02d [%s]: %d poses, ends at (%.2f, %.2f) heading %.0f deg",
		cycle, status, traj.Len(), last.Point.X, last.Point.Y, utils.RadToDeg(last.Theta))
}
