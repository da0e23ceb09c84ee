package gap

import (
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func makeGap(rightIdx int, rightRange float64, leftIdx int, leftRange float64) *Gap {
	g := New(rayCount, rightIdx, rightRange, 1.0)
	g.SetLeft(leftIdx, leftRange)
	return g
}

func modelIDs(gaps []*Gap) []int {
	var ids []int
	for _, g := range gaps {
		ids = append(ids, g.LeftModel().ModelID(), g.RightModel().ModelID())
	}
	return ids
}

func TestAssociateTransfers(t *testing.T) {
	logger := golog.NewTestLogger(t)
	assoc := NewAssociator(0.5, logger)
	var ids ModelCounter

	previous := []*Gap{makeGap(100, 2.0, 140, 3.0)}
	assoc.Associate(previous, nil, &ids, timeZero)
	prevIDs := modelIDs(previous)

	// same gap shifted by one ray associates and inherits both models
	current := []*Gap{makeGap(101, 2.0, 141, 3.0)}
	assoc.Associate(current, previous, &ids, timeZero)

	test.That(t, modelIDs(current), test.ShouldResemble, prevIDs)
	test.That(t, previous[0].HasModels(), test.ShouldBeFalse)
}

func TestAssociateOutOfGate(t *testing.T) {
	logger := golog.NewTestLogger(t)
	assoc := NewAssociator(0.5, logger)
	var ids ModelCounter

	previous := []*Gap{makeGap(100, 2.0, 140, 3.0)}
	assoc.Associate(previous, nil, &ids, timeZero)
	prevIDs := modelIDs(previous)

	// a gap on the other side of the robot is outside the gate everywhere
	current := []*Gap{makeGap(350, 2.0, 390, 3.0)}
	assoc.Associate(current, previous, &ids, timeZero)

	for _, id := range modelIDs(current) {
		for _, prevID := range prevIDs {
			test.That(t, id, test.ShouldNotEqual, prevID)
		}
	}
}

func TestAssociateIdempotent(t *testing.T) {
	logger := golog.NewTestLogger(t)
	assoc := NewAssociator(0.5, logger)
	var ids ModelCounter

	previous := []*Gap{makeGap(100, 2.0, 140, 3.0), makeGap(300, 4.0, 360, 4.5)}
	assoc.Associate(previous, nil, &ids, timeZero)

	current := []*Gap{makeGap(100, 2.0, 140, 3.0), makeGap(300, 4.0, 360, 4.5)}
	assoc.Associate(current, previous, &ids, timeZero)
	firstPass := modelIDs(current)

	again := []*Gap{makeGap(100, 2.0, 140, 3.0), makeGap(300, 4.0, 360, 4.5)}
	assoc.Associate(again, current, &ids, timeZero)

	test.That(t, modelIDs(again), test.ShouldResemble, firstPass)
}

func TestAssociateUnevenCounts(t *testing.T) {
	logger := golog.NewTestLogger(t)
	assoc := NewAssociator(0.5, logger)
	var ids ModelCounter

	previous := []*Gap{makeGap(100, 2.0, 140, 3.0)}
	assoc.Associate(previous, nil, &ids, timeZero)
	prevIDs := modelIDs(previous)

	// one surviving gap plus one brand new: the survivor keeps its models,
	// the newcomer gets fresh ones
	current := []*Gap{makeGap(100, 2.0, 140, 3.0), makeGap(300, 4.0, 360, 4.5)}
	assoc.Associate(current, previous, &ids, timeZero)

	test.That(t, current[0].LeftModel().ModelID(), test.ShouldEqual, prevIDs[0])
	test.That(t, current[0].RightModel().ModelID(), test.ShouldEqual, prevIDs[1])
	for _, id := range []int{current[1].LeftModel().ModelID(), current[1].RightModel().ModelID()} {
		test.That(t, id, test.ShouldBeGreaterThanOrEqualTo, 2)
	}

	// every gap ends the cycle with a distinct pair of models
	seen := map[int]bool{}
	for _, id := range modelIDs(current) {
		test.That(t, seen[id], test.ShouldBeFalse)
		seen[id] = true
	}
}
