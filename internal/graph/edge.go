package graph

import "time"

// EdgeType is the relation an edge asserts between two nodes.
type EdgeType uint8

const (
	EdgeIsA EdgeType = iota
	EdgeHas
	EdgeCreated
	EdgeLikes
	EdgeRelated
	EdgeSupersedes
	EdgeTemporal
	EdgeCauses
	EdgePrevents
)

func (t EdgeType) String() string {
	switch t {
	case EdgeIsA:
		return "is_a"
	case EdgeHas:
		return "has"
	case EdgeCreated:
		return "created"
	case EdgeLikes:
		return "likes"
	case EdgeRelated:
		return "related"
	case EdgeSupersedes:
		return "supersedes"
	case EdgeTemporal:
		return "temporal"
	case EdgeCauses:
		return "causes"
	case EdgePrevents:
		return "prevents"
	}
	return "unknown"
}

// Edge is a directed, typed, weighted link between two nodes.
type Edge struct {
	ID        int64
	SourceID  int64
	TargetID  int64
	Type      EdgeType
	Weight    float64
	CreatedAt time.Time
	Version   int

	// pruned marks edges deleted by the idle sweep. The arena slot stays.
	pruned bool
}

// Pruned reports whether the edge was removed by the pruning sweep.
func (e Edge) Pruned() bool { return e.pruned }
