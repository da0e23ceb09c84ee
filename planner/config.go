package planner

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Config enumerates the planner hyperparameters. Zero values are rejected by
// Validate; DefaultConfig returns the tuning used on the reference robot.
type Config struct {
	// RInscribed is the robot's inscribed radius in meters.
	RInscribed float64 `json:"r_inscribed"`
	// InflationRatio is the safety multiplier applied to RInscribed.
	InflationRatio float64 `json:"inflation_ratio"`

	// IntegrateMaxT and IntegrateStepT bound the forward simulation horizon.
	IntegrateMaxT  float64 `json:"integrate_max_t"`
	IntegrateStepT float64 `json:"integrate_step_t"`

	// VxAbsMax is the maximum commanded linear speed, also used as the
	// spline feasibility threshold.
	VxAbsMax float64 `json:"vx_abs_max"`

	// ReductionThreshold and ReductionTarget control the narrowing of
	// oversized gaps.
	ReductionThreshold float64 `json:"reduction_threshold"`
	ReductionTarget    float64 `json:"reduction_target"`

	// Epsilon1, Epsilon2, and RotRatio set the axial-conversion pivot.
	Epsilon1 float64 `json:"epsilon1"`
	Epsilon2 float64 `json:"epsilon2"`
	RotRatio float64 `json:"rot_ratio"`

	// MaxIdxDiff caps the angular width, in rays, of a merged gap.
	MaxIdxDiff int `json:"max_idx_diff"`

	// Scoring weights. PoseWeight is negative: pose costs accumulate as
	// penalties and trajectories compete on the higher total.
	PoseWeight        float64 `json:"pose_weight"`
	TerminalWeight    float64 `json:"terminal_weight"`
	PenExpWeight      float64 `json:"pen_exp_weight"`
	MaxPoseToScanDist float64 `json:"max_pose_to_scan_dist"`

	// NumFeasiCheck is the pose count compared during trajectory switching;
	// it doubles as the switching hysteresis margin.
	NumFeasiCheck int `json:"num_feasi_check"`

	// HaltBufferSize is the command-velocity ring buffer capacity used for
	// stall detection.
	HaltBufferSize int `json:"halt_buffer_size"`

	// MaxAssocDist gates gap endpoint association between cycles.
	MaxAssocDist float64 `json:"max_assoc_dist"`

	// RangeMax is the sensor range treated as "no return".
	RangeMax float64 `json:"range_max"`

	// RayCount is the expected scan size.
	RayCount int `json:"ray_count"`

	// GoalTolerance decides goal arrival (IsGoalReached). WaypointTolerance
	// is carried in the config but not read by the planner.
	GoalTolerance     float64 `json:"goal_tolerance"`
	WaypointTolerance float64 `json:"waypoint_tolerance"`

	// LookaheadDist bounds how far along the global plan the local waypoint
	// is placed.
	LookaheadDist float64 `json:"lookahead_dist"`
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() *Config {
	return &Config{
		RInscribed:         0.2,
		InflationRatio:     1.2,
		IntegrateMaxT:      5.0,
		IntegrateStepT:     0.1,
		VxAbsMax:           0.5,
		ReductionThreshold: math.Pi,
		ReductionTarget:    math.Pi,
		Epsilon1:           0.18,
		Epsilon2:           0.18,
		RotRatio:           1.5,
		MaxIdxDiff:         256,
		PoseWeight:         -1.0,
		TerminalWeight:     1.0,
		PenExpWeight:       1.0,
		MaxPoseToScanDist:  6.0,
		NumFeasiCheck:      10,
		HaltBufferSize:     10,
		MaxAssocDist:       0.5,
		RangeMax:           4.99,
		RayCount:           512,
		GoalTolerance:      0.2,
		WaypointTolerance:  0.1,
		LookaheadDist:      2.5,
	}
}

// Validate checks the config for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var err error
	if c.RInscribed <= 0 {
		err = multierr.Append(err, errors.New("r_inscribed must be positive"))
	}
	if c.InflationRatio < 1 {
		err = multierr.Append(err, errors.New("inflation_ratio must be at least 1"))
	}
	if c.IntegrateStepT <= 0 || c.IntegrateMaxT <= c.IntegrateStepT {
		err = multierr.Append(err, errors.New("integration horizon must cover at least one step"))
	}
	if c.VxAbsMax <= 0 {
		err = multierr.Append(err, errors.New("vx_abs_max must be positive"))
	}
	if c.ReductionTarget > c.ReductionThreshold {
		err = multierr.Append(err, errors.New("reduction_target cannot exceed reduction_threshold"))
	}
	if c.RayCount <= 0 || c.RayCount%2 != 0 {
		err = multierr.Append(err, errors.Errorf("ray_count must be a positive even number, got %d", c.RayCount))
	}
	if c.MaxIdxDiff <= 0 || c.MaxIdxDiff > c.RayCount {
		err = multierr.Append(err, errors.New("max_idx_diff must be in (0, ray_count]"))
	}
	if c.HaltBufferSize <= 0 {
		err = multierr.Append(err, errors.New("halt_buffer_size must be positive"))
	}
	if c.NumFeasiCheck <= 0 {
		err = multierr.Append(err, errors.New("num_feasi_check must be positive"))
	}
	if c.RangeMax <= 0 {
		err = multierr.Append(err, errors.New("range_max must be positive"))
	}
	return err
}

// inflatedRadius is the effective collision radius used everywhere the
// planner keeps clear of obstacles.
func (c *Config) inflatedRadius() float64 {
	return c.RInscribed * c.InflationRatio
}
