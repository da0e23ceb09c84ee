package planner

import (
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/gapnav/gap"
	"go.viam.com/gapnav/scan"
)

func testScanTime() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

// pillarScan is open range everywhere except a block of rays at bearing ~0.
func pillarScan(open, pillar float64) *scan.LaserScan {
	s := scan.NewUniform(512, open, testScanTime())
	for i := 250; i <= 262; i++ {
		s.Ranges[i] = pillar
	}
	return s
}

func TestDetectOpenCorridorArtificialGap(t *testing.T) {
	logger := golog.NewTestLogger(t)
	d := NewDetector(DefaultConfig(), logger)
	s := scan.NewUniform(512, 5.0, testScanTime())

	// all-infinite scan with a goal in free space: exactly one artificial
	// gap containing the goal bearing
	raw, err := d.DetectGaps(s, r3.Vector{X: 2.0}, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(raw), test.ShouldEqual, 1)
	test.That(t, raw[0].Artificial, test.ShouldBeTrue)

	goalIdx := s.Index(0)
	test.That(t, raw[0].ContainsIdx(gap.Detected, goalIdx), test.ShouldBeTrue)

	// without a goal the open scan yields no gaps at all
	raw, err = d.DetectGaps(s, r3.Vector{}, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(raw), test.ShouldEqual, 0)
}

func TestDetectPillar(t *testing.T) {
	logger := golog.NewTestLogger(t)
	d := NewDetector(DefaultConfig(), logger)
	s := pillarScan(5.0, 1.0)

	raw, err := d.DetectGaps(s, r3.Vector{X: 3.0}, true)
	test.That(t, err, test.ShouldBeNil)
	// the two free regions flanking the pillar bridge across the 0/511 seam
	// into one wrap-around gap
	test.That(t, len(raw), test.ShouldEqual, 1)
	e := raw[0].Endpoints(gap.Detected)
	test.That(t, e.RightIdx, test.ShouldEqual, 262)
	test.That(t, e.LeftIdx, test.ShouldEqual, 250)
	test.That(t, raw[0].ContainsIdx(gap.Detected, 0), test.ShouldBeTrue)
	test.That(t, raw[0].ContainsIdx(gap.Detected, 256), test.ShouldBeFalse)
}

func TestDetectWrapAround(t *testing.T) {
	logger := golog.NewTestLogger(t)
	d := NewDetector(DefaultConfig(), logger)

	// infinite behind the robot, finite elsewhere
	s := scan.NewUniform(512, 2.0, testScanTime())
	for i := 480; i < 512; i++ {
		s.Ranges[i] = 5.0
	}
	for i := 0; i <= 31; i++ {
		s.Ranges[i] = 5.0
	}

	raw, err := d.DetectGaps(s, r3.Vector{X: -2.0}, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(raw), test.ShouldEqual, 1)

	e := raw[0].Endpoints(gap.Detected)
	test.That(t, e.RightIdx, test.ShouldEqual, 479)
	test.That(t, e.LeftIdx, test.ShouldEqual, 32)

	// the goal behind the robot (bearing pi) lies inside the bridged gap
	goalIdx := s.Index(math.Atan2(0, -2.0))
	test.That(t, raw[0].ContainsIdx(gap.Detected, goalIdx), test.ShouldBeTrue)
}

func TestDetectRadialGap(t *testing.T) {
	logger := golog.NewTestLogger(t)
	d := NewDetector(DefaultConfig(), logger)

	// a sharp range discontinuity between consecutive finite rays wide
	// enough for the robot opens a radial gap
	s := scan.NewUniform(512, 2.0, testScanTime())
	for i := 100; i < 512; i++ {
		s.Ranges[i] = 4.5
	}
	s.Ranges[0] = 4.99 // keep one ray longer so 4.5 stays finite

	raw, err := d.DetectGaps(s, r3.Vector{}, false)
	test.That(t, err, test.ShouldBeNil)

	var radial *gap.Gap
	for _, g := range raw {
		if !g.Swept {
			radial = g
		}
	}
	test.That(t, radial, test.ShouldNotBeNil)
	e := radial.Endpoints(gap.Detected)
	test.That(t, e.RightIdx, test.ShouldEqual, 99)
	test.That(t, e.LeftIdx, test.ShouldEqual, 100)
	test.That(t, radial.RightType, test.ShouldBeTrue)
}

func TestSimplifyMergesBehindPillar(t *testing.T) {
	logger := golog.NewTestLogger(t)
	d := NewDetector(DefaultConfig(), logger)
	s := pillarScan(5.0, 1.0)

	raw, err := d.DetectGaps(s, r3.Vector{X: 3.0}, true)
	test.That(t, err, test.ShouldBeNil)
	simplified, err := d.SimplifyGaps(s, raw)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(simplified), test.ShouldBeGreaterThanOrEqualTo, 1)

	// no simplified gap overlaps another
	for i, a := range simplified {
		for j, b := range simplified {
			if i == j {
				continue
			}
			eb := b.Endpoints(gap.Detected)
			test.That(t, a.ContainsIdx(gap.Detected, eb.RightIdx), test.ShouldBeFalse)
		}
	}
}

func TestSimplifyKeepsSeparatedGaps(t *testing.T) {
	logger := golog.NewTestLogger(t)
	d := NewDetector(DefaultConfig(), logger)

	// two pillars produce distinct gaps that cannot merge across the near
	// obstacle between them
	s := scan.NewUniform(512, 5.0, testScanTime())
	for i := 120; i <= 140; i++ {
		s.Ranges[i] = 1.0
	}
	for i := 360; i <= 380; i++ {
		s.Ranges[i] = 1.0
	}

	raw, err := d.DetectGaps(s, r3.Vector{}, false)
	test.That(t, err, test.ShouldBeNil)
	simplified, err := d.SimplifyGaps(s, raw)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(simplified), test.ShouldBeGreaterThanOrEqualTo, 2)
}
