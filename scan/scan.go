// Package scan holds the egocentric range scan type consumed by the planner
// and the polar index arithmetic that goes with it.
package scan

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/gapnav/utils"
)

// DefaultRayCount is the expected number of rays in a full scan.
const DefaultRayCount = 512

// LaserScan is one 360 degree range scan. Ranges are ordered
// counter-clockwise starting at AngleMin; a range at or beyond the sensor
// maximum means no return along that ray.
type LaserScan struct {
	Ranges         []float64
	AngleMin       float64
	AngleIncrement float64
	Time           time.Time
}

// New returns a scan covering [-pi, pi) with uniformly spaced rays.
func New(ranges []float64, t time.Time) *LaserScan {
	return &LaserScan{
		Ranges:         ranges,
		AngleMin:       -math.Pi,
		AngleIncrement: 2 * math.Pi / float64(len(ranges)),
		Time:           t,
	}
}

// NewUniform returns a scan whose every ray reads the given range.
func NewUniform(n int, r float64, t time.Time) *LaserScan {
	ranges := make([]float64, n)
	for i := range ranges {
		ranges[i] = r
	}
	return New(ranges, t)
}

// Validate checks that the scan is well formed.
func (s *LaserScan) Validate() error {
	if len(s.Ranges) == 0 {
		return errors.New("scan has no ranges")
	}
	if s.AngleIncrement <= 0 {
		return errors.Errorf("scan angle increment must be positive, got %f", s.AngleIncrement)
	}
	for i, r := range s.Ranges {
		if math.IsNaN(r) || r < 0 {
			return errors.Errorf("scan range %d is invalid: %f", i, r)
		}
	}
	return nil
}

// Size returns the number of rays.
func (s *LaserScan) Size() int {
	return len(s.Ranges)
}

// HalfSize returns half the number of rays.
func (s *LaserScan) HalfSize() int {
	return len(s.Ranges) / 2
}

// Theta returns the bearing of ray i.
func (s *LaserScan) Theta(i int) float64 {
	return s.AngleMin + float64(utils.WrapIdx(i, s.Size()))*s.AngleIncrement
}

// Index returns the ray index whose sector contains the given bearing.
func (s *LaserScan) Index(theta float64) int {
	idx := int(math.Floor((utils.WrapRad(theta) - s.AngleMin) / s.AngleIncrement))
	return utils.WrapIdx(idx, s.Size())
}

// RangeAt returns the range of ray i, wrapping the index modulo the scan size.
func (s *LaserScan) RangeAt(i int) float64 {
	return s.Ranges[utils.WrapIdx(i, s.Size())]
}

// Point returns the cartesian return of ray i in the sensor frame.
func (s *LaserScan) Point(i int) r3.Vector {
	theta := s.Theta(i)
	r := s.RangeAt(i)
	sin, cos := math.Sincos(theta)
	return r3.Vector{X: r * cos, Y: r * sin}
}

// MinRange returns the smallest range in the scan.
func (s *LaserScan) MinRange() float64 {
	min := math.Inf(1)
	for _, r := range s.Ranges {
		if r < min {
			min = r
		}
	}
	return min
}

// MaxRange returns the largest range in the scan.
func (s *LaserScan) MaxRange() float64 {
	max := math.Inf(-1)
	for _, r := range s.Ranges {
		if r > max {
			max = r
		}
	}
	return max
}

// MinRangeBetween returns the smallest range over the inclusive index arc
// [start, end], walked counter-clockwise with wrapping.
func (s *LaserScan) MinRangeBetween(start, end int) float64 {
	n := s.Size()
	span := utils.SubtractWrap(end-start, n)
	min := math.Inf(1)
	for off := 0; off <= span; off++ {
		if r := s.RangeAt(start + off); r < min {
			min = r
		}
	}
	return min
}

// Copy returns a deep copy of the scan.
func (s *LaserScan) Copy() *LaserScan {
	ranges := make([]float64, len(s.Ranges))
	copy(ranges, s.Ranges)
	return &LaserScan{
		Ranges:         ranges,
		AngleMin:       s.AngleMin,
		AngleIncrement: s.AngleIncrement,
		Time:           s.Time,
	}
}
