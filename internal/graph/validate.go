package graph

import (
	"fmt"
	"math"

	"github.com/quillmem/synapse/internal/embed"
	"github.com/quillmem/synapse/internal/index"
)

// CheckInvariants verifies the structural invariants of the graph:
//
//  1. at most one active node per concept key
//  2. superseded_by chains are acyclic and terminate at an active node or 0
//  3. edge endpoints resolve to existing nodes
//  4. pinned salience floor holds
//  5. Causes/Prevents edges link Entity nodes
//  6. salience in [0,1], resident embeddings unit-norm
//
// The first violation latches the store read-only and is returned as an
// error. Reads continue; writes are refused until an external reset.
func (s *Store) CheckInvariants() error {
	s.mu.RLock()
	err := s.checkLocked()
	s.mu.RUnlock()

	if err != nil {
		s.readOnly.Store(true)
	}
	return err
}

func (s *Store) checkLocked() error {
	activeKeys := make(map[string]int64)
	for _, n := range s.nodes {
		if n.Status == StatusActive {
			if key := index.NormalizeKey(n.ConceptKey); key != "" {
				if prev, dup := activeKeys[key]; dup {
					return fmt.Errorf("invariant: concept key %q active on nodes %d and %d", key, prev, n.ID)
				}
				activeKeys[key] = n.ID
			}
		}

		if n.Salience < 0 || n.Salience > 1 {
			return fmt.Errorf("invariant: node %d salience %f out of range", n.ID, n.Salience)
		}
		if n.Pinned && n.Status == StatusActive && n.Salience < s.pinFloor-1e-9 {
			return fmt.Errorf("invariant: pinned node %d below floor (%f < %f)", n.ID, n.Salience, s.pinFloor)
		}
		if len(n.Embedding) > 0 {
			if norm := embed.Norm(n.Embedding); math.Abs(norm-1.0) > unitNormEpsilon {
				return fmt.Errorf("invariant: node %d embedding norm %f", n.ID, norm)
			}
		}

		// Chain walk bounded by arena size.
		steps := 0
		cur := n
		for cur.SupersededBy != 0 {
			steps++
			if steps > len(s.nodes) {
				return fmt.Errorf("invariant: superseded_by cycle starting at node %d", n.ID)
			}
			next := s.nodeLocked(cur.SupersededBy)
			if next == nil {
				return fmt.Errorf("invariant: node %d superseded_by dangling id %d", cur.ID, cur.SupersededBy)
			}
			cur = next
		}
	}

	for _, e := range s.edges {
		if e.pruned {
			continue
		}
		src := s.nodeLocked(e.SourceID)
		dst := s.nodeLocked(e.TargetID)
		if src == nil || dst == nil {
			return fmt.Errorf("invariant: edge %d references missing node", e.ID)
		}
		if e.Type == EdgeCauses || e.Type == EdgePrevents {
			if src.Type != NodeEntity || dst.Type != NodeEntity {
				return fmt.Errorf("invariant: edge %d (%s) has non-entity endpoint", e.ID, e.Type)
			}
		}
		if e.Weight < 0 || e.Weight > 1 {
			return fmt.Errorf("invariant: edge %d weight %f out of range", e.ID, e.Weight)
		}
	}

	return nil
}
