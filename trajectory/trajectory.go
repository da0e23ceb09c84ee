// Package trajectory defines the timed pose sequences exchanged between the
// gap planner and its trajectory tracker.
package trajectory

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/gapnav/geom"
)

// Frame names used across the planner.
const (
	FrameMap    = "map"
	FrameOdom   = "odom"
	FrameRobot  = "robot"
	FrameSensor = "sensor"
)

// Trajectory is an ordered sequence of poses with strictly increasing
// timestamps starting at zero, expressed in a named frame. An empty
// trajectory means there is nothing to track.
type Trajectory struct {
	Poses []geom.Pose
	Times []float64
	Frame string
}

// New returns an empty trajectory in the given frame.
func New(frame string) *Trajectory {
	return &Trajectory{Frame: frame}
}

// Len returns the number of poses.
func (t *Trajectory) Len() int {
	return len(t.Poses)
}

// Empty reports whether the trajectory has no poses.
func (t *Trajectory) Empty() bool {
	return len(t.Poses) == 0
}

// Append adds a pose at the given time.
func (t *Trajectory) Append(p geom.Pose, at float64) {
	t.Poses = append(t.Poses, p)
	t.Times = append(t.Times, at)
}

// Transform returns a copy of the trajectory with every pose mapped through
// tf into the destination frame.
func (t *Trajectory) Transform(tf geom.Transform, destFrame string) *Trajectory {
	out := &Trajectory{
		Poses: make([]geom.Pose, len(t.Poses)),
		Times: make([]float64, len(t.Times)),
		Frame: destFrame,
	}
	for i, p := range t.Poses {
		out.Poses[i] = tf.TransformPose(p)
	}
	copy(out.Times, t.Times)
	return out
}

// ClosestPoseIdx returns the index just past the pose nearest to the given
// point, clamped into range, so tracking resumes ahead of the robot.
func (t *Trajectory) ClosestPoseIdx(pt r3.Vector) int {
	if len(t.Poses) == 0 {
		return 0
	}
	bestIdx := 0
	best := math.Inf(1)
	for i, p := range t.Poses {
		if d := geom.Dist2D(p.Point, pt); d < best {
			best = d
			bestIdx = i
		}
	}
	idx := bestIdx + 1
	if idx > len(t.Poses)-1 {
		idx = len(t.Poses) - 1
	}
	return idx
}

// Slice returns a copy of the trajectory from the given pose onward, with
// times rebased to start at zero.
func (t *Trajectory) Slice(from int) *Trajectory {
	if from < 0 {
		from = 0
	}
	if from >= len(t.Poses) {
		return New(t.Frame)
	}
	out := &Trajectory{
		Poses: append([]geom.Pose(nil), t.Poses[from:]...),
		Times: make([]float64, len(t.Times)-from),
		Frame: t.Frame,
	}
	base := t.Times[from]
	for i, ts := range t.Times[from:] {
		out.Times[i] = ts - base
	}
	return out
}

// Copy returns a deep copy.
func (t *Trajectory) Copy() *Trajectory {
	return &Trajectory{
		Poses: append([]geom.Pose(nil), t.Poses...),
		Times: append([]float64(nil), t.Times...),
		Frame: t.Frame,
	}
}
