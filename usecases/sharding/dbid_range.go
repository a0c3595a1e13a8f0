//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package sharding

import (
	"errors"
	"fmt"
	"sync"

	"github.com/weaviate/tracker/entities/txn"
)

// ExpandRejected is reported instead of a new range end when a range can
// not be expanded.
const ExpandRejected = int64(-1)

var (
	ErrAlreadyExpanded = errors.New("dbid range has already been expanded")
	ErrExpansionUnsafe = errors.New("expansion cannot occur if max dbid in the index is more than 75% of range")
)

// Range is a snapshot of a RangeRouter.
type Range struct {
	Start    int64 `json:"start"`
	End      int64 `json:"end"`
	Expanded bool  `json:"expanded"`
}

func (r Range) Span() int64 {
	return r.End - r.Start
}

func (r Range) midpoint() int64 {
	return r.Start + int64(float64(r.Span())*.5)
}

// safe is the highest node id which still allows the range to grow
func (r Range) safe() int64 {
	return r.Start + int64(float64(r.Span())*.75)
}

// NodeIDStats describes the nodes the index holds within a range. MaxID and
// MinID are 0 when the range holds no nodes.
type NodeIDStats struct {
	NodeCount int64
	MinID     int64
	MaxID     int64
}

// RangeReport is the answer of a range check.
type RangeReport struct {
	Start     int64   `json:"start"`
	End       int64   `json:"end"`
	NodeCount int64   `json:"nodeCount"`
	MinID     int64   `json:"minDbid"`
	MaxID     int64   `json:"maxDbid"`
	Density   float64 `json:"density"`
	// Expand is the suggested growth of the range, 0 when no growth is
	// needed yet, ExpandRejected when growing is not possible anymore
	Expand   int64 `json:"expand"`
	Expanded bool  `json:"expanded"`
}

// RangeRouter owns the node ids in [start, end). The end can be raised
// exactly once, the range never shrinks.
type RangeRouter struct {
	sync.RWMutex

	start       int64
	end         int64
	expanded    bool
	initialized bool
}

func NewRangeRouter(start, end int64) *RangeRouter {
	return &RangeRouter{start: start, end: end}
}

func (r *RangeRouter) Owns(node txn.Node) bool {
	r.RLock()
	defer r.RUnlock()

	return node.ID >= r.start && node.ID < r.end
}

func (r *RangeRouter) Range() Range {
	r.RLock()
	defer r.RUnlock()

	return Range{Start: r.start, End: r.end, Expanded: r.expanded}
}

func (r *RangeRouter) Initialized() bool {
	r.RLock()
	defer r.RUnlock()

	return r.initialized
}

// AdoptIndexCap takes over an end persisted by an earlier expansion. A cap
// of -1 means the index is not capped. It reports whether the range grew.
func (r *RangeRouter) AdoptIndexCap(indexCap int64) bool {
	r.Lock()
	defer r.Unlock()

	r.initialized = true
	if indexCap > r.end {
		r.end = indexCap
		r.expanded = true
		return true
	}
	return false
}

// Check reports how full the range is and how much it should grow.
func (r *RangeRouter) Check(stats NodeIDStats) RangeReport {
	rg := r.Range()

	report := RangeReport{
		Start:     rg.Start,
		End:       rg.End,
		NodeCount: stats.NodeCount,
		MinID:     stats.MinID,
		MaxID:     stats.MaxID,
		Expand:    ExpandRejected,
		Expanded:  rg.Expanded,
	}

	if offset := stats.MaxID - rg.Start; offset > 0 {
		report.Density = float64(stats.NodeCount) / float64(offset)
	}

	if rg.Expanded || stats.MaxID > rg.safe() {
		return report
	}

	if stats.MaxID <= rg.midpoint() {
		report.Expand = 0
		return report
	}

	span := rg.Span()
	if report.Density >= 1 || report.Density == 0 {
		report.Expand = span
	} else {
		multiplier := 1 / report.Density
		report.Expand = int64(float64(span)*multiplier) - span
	}
	return report
}

// Expand raises the end of the range by the given amount. capIndex persists
// the new end before the router adopts it. It returns the new end, or
// ExpandRejected and the reason.
func (r *RangeRouter) Expand(by int64, stats NodeIDStats, capIndex func(newEnd int64) error) (int64, error) {
	if by <= 0 {
		return ExpandRejected, fmt.Errorf("expansion must be positive, got %d", by)
	}

	r.Lock()
	defer r.Unlock()

	rg := Range{Start: r.start, End: r.end, Expanded: r.expanded}
	if rg.Expanded {
		return ExpandRejected, ErrAlreadyExpanded
	}
	if stats.MaxID > rg.safe() {
		return ExpandRejected, ErrExpansionUnsafe
	}

	newEnd := rg.End + by
	if capIndex != nil {
		if err := capIndex(newEnd); err != nil {
			return ExpandRejected, fmt.Errorf("cap index at %d: %w", newEnd, err)
		}
	}

	r.end = newEnd
	r.expanded = true
	return newEnd, nil
}
