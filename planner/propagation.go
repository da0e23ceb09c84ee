package planner

import (
	"math"
	"sort"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"go.viam.com/gapnav/geom"
	"go.viam.com/gapnav/scan"
)

// Agent is another moving body near the robot. Planner.UpdateAgents takes
// agents in the odometry frame; the propagator works on them in the robot
// frame.
type Agent struct {
	Position r3.Vector
	Velocity r3.Vector
}

// ScanPropagator synthesizes future scans by sliding the known agents
// through the current scan, so feasibility and scoring can look at the
// environment the robot will actually meet.
type ScanPropagator struct {
	cfg    *Config
	logger golog.Logger
}

// NewScanPropagator returns a scan propagator.
func NewScanPropagator(cfg *Config, logger golog.Logger) *ScanPropagator {
	return &ScanPropagator{cfg: cfg, logger: logger}
}

// FutureScans returns scans at every multiple of the integration step up to
// the horizon; index i holds the scan at t = i*IntegrateStepT. Index 0 is the
// current scan itself.
func (sp *ScanPropagator) FutureScans(current *scan.LaserScan, agents []Agent) []*scan.LaserScan {
	steps := int(sp.cfg.IntegrateMaxT/sp.cfg.IntegrateStepT) + 1
	futures := make([]*scan.LaserScan, 0, steps)
	futures = append(futures, current.Copy())

	for i := 1; i < steps; i++ {
		t := float64(i) * sp.cfg.IntegrateStepT
		future := current.Copy()
		sp.maskAgents(future, agents, t)
		futures = append(futures, future)
	}
	return futures
}

// maskAgents overwrites scan rays occluded by the agents advanced to time t.
// Agents beyond the sensor range are pruned and the rest are processed
// nearest-first so the first intersection along a ray wins.
func (sp *ScanPropagator) maskAgents(s *scan.LaserScan, agents []Agent, t float64) {
	moved := make([]Agent, 0, len(agents))
	for _, a := range agents {
		pos := r3.Vector{X: a.Position.X + a.Velocity.X*t, Y: a.Position.Y + a.Velocity.Y*t}
		if geom.Norm2D(pos) >= sp.cfg.RangeMax {
			continue
		}
		moved = append(moved, Agent{Position: pos, Velocity: a.Velocity})
	}
	sort.Slice(moved, func(i, j int) bool {
		return geom.Norm2D(moved[i].Position) < geom.Norm2D(moved[j].Position)
	})

	radius := sp.cfg.RInscribed
	for i := range s.Ranges {
		if s.Ranges[i] > sp.cfg.RangeMax {
			s.Ranges[i] = sp.cfg.RangeMax
		}
		ray := geom.UnitFromBearing(s.Theta(i))
		for _, a := range moved {
			if hit, ok := rayCircleIntersection(ray, a.Position, radius); ok && hit < s.Ranges[i] {
				s.Ranges[i] = hit
				break
			}
		}
	}
}

// rayCircleIntersection returns the distance along a unit ray from the origin
// to its nearest intersection with the given circle, if any intersection lies
// in front of the robot.
func rayCircleIntersection(ray, center r3.Vector, radius float64) (float64, bool) {
	along := geom.Dot2D(ray, center)
	discriminant := along*along - (geom.Dot2D(center, center) - radius*radius)
	if discriminant <= 0 {
		return 0, false
	}
	hit := along - math.Sqrt(discriminant)
	if hit <= 0 {
		return 0, false
	}
	return hit, true
}
