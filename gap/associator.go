package gap

import (
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"go.viam.com/gapnav/geom"
)

// ModelCounter issues unique estimator IDs for the lifetime of the planner.
type ModelCounter struct {
	next int
}

// Next returns a fresh model ID.
func (c *ModelCounter) Next() int {
	id := c.next
	c.next++
	return id
}

// Associator matches gap endpoints across planning cycles and carries their
// estimators forward. Matching is bipartite over all endpoints, minimizing
// total squared distance, gated by a maximum association distance.
type Associator struct {
	maxAssocDist float64
	logger       golog.Logger
}

// NewAssociator returns an associator with the given matching gate.
func NewAssociator(maxAssocDist float64, logger golog.Logger) *Associator {
	return &Associator{maxAssocDist: maxAssocDist, logger: logger}
}

// endpointPoints lays out each gap's endpoints as left, right, left, right so
// endpoint k of the flattened list belongs to gap k/2, side k%2.
func endpointPoints(gaps []*Gap) []r3.Vector {
	pts := make([]r3.Vector, 0, 2*len(gaps))
	for _, g := range gaps {
		left, right := g.Points(Detected)
		pts = append(pts, left, right)
	}
	return pts
}

// Associate transfers estimators from the previous cycle's gaps into the
// current ones wherever an endpoint match falls inside the gate; endpoints
// with no match receive fresh estimators initialized at their measured
// position. Previous gaps are left without models afterward.
func (a *Associator) Associate(current, previous []*Gap, ids *ModelCounter, t time.Time) {
	currPts := endpointPoints(current)
	prevPts := endpointPoints(previous)

	gate := a.maxAssocDist * a.maxAssocDist
	assignment := assignEndpoints(currPts, prevPts, gate)

	transferred := 0
	for k, pt := range currPts {
		g := current[k/2]
		isLeft := k%2 == 0

		var model *Estimator
		if j := assignment[k]; j >= 0 {
			prevGap := previous[j/2]
			if j%2 == 0 {
				model = prevGap.leftModel
				prevGap.leftModel = nil
			} else {
				model = prevGap.rightModel
				prevGap.rightModel = nil
			}
		}
		if model == nil {
			model = NewEstimator(ids.Next(), pt, t)
		} else {
			transferred++
		}

		if isLeft {
			g.leftModel = model
		} else {
			g.rightModel = model
		}
	}

	// whatever was not transferred dies with the previous gap set
	for _, g := range previous {
		g.leftModel = nil
		g.rightModel = nil
	}

	if a.logger != nil {
		a.logger.Debugf("associated %d of %d endpoints", transferred, len(currPts))
	}
}

// assignEndpoints solves the bipartite assignment between current and
// previous endpoint positions, minimizing total squared distance. It returns
// the previous endpoint index matched to each current endpoint, or -1 when no
// admissible match exists.
func assignEndpoints(curr, prev []r3.Vector, gate float64) []int {
	result := make([]int, len(curr))
	for i := range result {
		result[i] = -1
	}
	if len(curr) == 0 || len(prev) == 0 {
		return result
	}

	// square cost matrix padded with the gate so unmatched rows/cols are free
	n := len(curr)
	if len(prev) > n {
		n = len(prev)
	}
	cost := make([][]float64, n)
	for i := range cost {
		cost[i] = make([]float64, n)
		for j := range cost[i] {
			c := gate
			if i < len(curr) && j < len(prev) {
				d := geom.Dist2D(curr[i], prev[j])
				if dd := d * d; dd < gate {
					c = dd
				}
			}
			cost[i][j] = c
		}
	}

	rowMatch := solveAssignment(cost)
	for i := 0; i < len(curr); i++ {
		j := rowMatch[i]
		if j >= 0 && j < len(prev) && cost[i][j] < gate {
			result[i] = j
		}
	}
	return result
}

// solveAssignment is the Jonker-Volgenant shortest augmenting path solution
// to the square assignment problem. It returns the column matched to each
// row.
func solveAssignment(cost [][]float64) []int {
	n := len(cost)
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j]: row matched to column j (1-based rows)
	way := make([]int, n+1)
	for j := range p {
		p[j] = 0
	}

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = math.Inf(1)
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	rowMatch := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			rowMatch[p[j]-1] = j - 1
		}
	}
	return rowMatch
}
