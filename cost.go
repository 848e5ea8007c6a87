package aligner

import (
	"fmt"
	"math"
)

// Cost is the result of one evaluation.
type Cost struct {
	// AvgDiff is the mean log-luminance difference over the working region.
	AvgDiff float64
	// MaxLocalDiff is the largest regional mean at the cost level.
	MaxLocalDiff float64
}

// The reduction runs in float32, so two renders of the same grid can
// differ in the last bits. An average must drop by more than
// max(costAbsFloor, costRelFloor*best) before it counts as lower.
const (
	costAbsFloor = 1e-6
	costRelFloor = 1e-6
)

// Better reports whether c should replace best. The average must be lower
// than best by more than the summation noise floor; when guard > 0 the
// regional maximum may also grow by at most that fraction. NaN costs are
// never better.
func (c Cost) Better(best Cost, guard float64) bool {
	if math.IsNaN(c.AvgDiff) || math.IsNaN(c.MaxLocalDiff) {
		return false
	}
	floor := max(costAbsFloor, costRelFloor*math.Abs(best.AvgDiff))
	if !(c.AvgDiff < best.AvgDiff-floor) {
		return false
	}
	if guard > 0 && c.MaxLocalDiff > best.MaxLocalDiff*(1+guard) {
		return false
	}
	return true
}

// String implements fmt.Stringer.
func (c Cost) String() string {
	return fmt.Sprintf("avg %.8f, max local %.8f", c.AvgDiff, c.MaxLocalDiff)
}
