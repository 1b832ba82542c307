package retrieve

import (
	"context"

	"github.com/quillmem/synapse/internal/embed"
	"github.com/quillmem/synapse/internal/graph"
)

// TunnelThreshold narrows the traversal beam as momentum rises. A confident
// generator tunnels only through very salient neighbors; an uncertain one
// spreads wider.
func TunnelThreshold(momentum float64) float64 {
	return 0.3 + 0.5*momentum
}

// Tunnel walks outgoing edges from the seed nodes for up to maxHops hops
// and returns a priority multiplier per admitted node id. An edge is
// followed when weight × target.salience clears the momentum threshold;
// admitted nodes whose query cosine also clears it get boosted above 1.
func Tunnel(ctx context.Context, store *graph.Store, seeds []int64, queryVec []float64, momentum float64, maxHops int) map[int64]float64 {
	tau := TunnelThreshold(momentum)
	boosts := make(map[int64]float64)
	visited := make(map[int64]bool, len(seeds))

	frontier := make([]int64, 0, len(seeds))
	for _, id := range seeds {
		visited[id] = true
		frontier = append(frontier, id)
	}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		if ctx.Err() != nil {
			break
		}
		var next []int64
		for _, id := range frontier {
			for _, e := range store.OutEdges(id) {
				if visited[e.TargetID] {
					continue
				}
				target, ok := store.Node(e.TargetID)
				if !ok || target.Status != graph.StatusActive {
					continue
				}
				if e.Weight*target.Salience < tau {
					continue
				}
				visited[e.TargetID] = true

				boost := 1.0
				if len(queryVec) > 0 && len(target.Embedding) > 0 {
					if cos := embed.Cosine(queryVec, target.Embedding); cos > tau {
						boost = 1 + (cos-tau)*3
					}
				}
				boosts[e.TargetID] = boost
				next = append(next, e.TargetID)
			}
		}
		frontier = next
	}
	return boosts
}
