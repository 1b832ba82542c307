package graph

// Version chains: supersession links nodes into an immutable history. The
// chain is followed forward through SupersededBy to the current node, or
// backward through Supersedes edges for history readers.

// Resolve follows the supersession chain from id to the current node. The
// walk is bounded by the arena size, so a corrupted cycle cannot loop
// forever; on a cycle the starting node is returned with ok=false.
func (s *Store) Resolve(id int64) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.nodeLocked(id)
	if n == nil {
		return Node{}, false
	}

	seen := make(map[int64]bool)
	for n.SupersededBy != 0 {
		if seen[n.ID] {
			return *n, false
		}
		seen[n.ID] = true
		next := s.nodeLocked(n.SupersededBy)
		if next == nil {
			break
		}
		n = next
	}
	return *n, true
}

// History returns the version chain for a concept key, newest first,
// starting from the current active node and walking Supersedes edges.
func (s *Store) History(key string) []Node {
	cur, ok := s.FindByConceptKey(key)
	if !ok {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []Node
	seen := make(map[int64]bool)
	id := cur.ID
	for id != 0 && !seen[id] {
		seen[id] = true
		n := s.nodeLocked(id)
		if n == nil {
			break
		}
		chain = append(chain, *n)

		// Follow the Supersedes edge to the prior version.
		next := int64(0)
		for _, eid := range s.edgesBySrc[id] {
			e := s.edges[eid-1]
			if e.Type == EdgeSupersedes {
				next = e.TargetID
				break
			}
		}
		id = next
	}
	return chain
}
