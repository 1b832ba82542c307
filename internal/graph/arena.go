package graph

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillmem/synapse/internal/embed"
	"github.com/quillmem/synapse/internal/index"
)

const unitNormEpsilon = 1e-3

// Pager loads a hibernated node's value and embedding from cold storage.
type Pager interface {
	Load(offset int64) (value string, embedding []float64, err error)
}

// Options configures a Store.
type Options struct {
	Dims           int
	Seed           int64
	MaxNodes       int
	PinFloor       float64
	ReinforceAlpha float64 // weight added by CreateEdgeDedup on an existing edge
	Now            func() time.Time
}

// Store is the append-only arena of nodes and edges. A single RW mutex
// guards both arenas and the dedup index so inserts update them atomically.
type Store struct {
	mu    sync.RWMutex
	nodes []*Node // id n lives at index n-1
	edges []*Edge

	edgesBySrc map[int64][]int64          // source node id → edge ids
	edgePair   map[edgeKey]int64          // (src, dst, type) → edge id
	idx        *index.Index
	pager      Pager

	maxNodes int
	pinFloor float64
	alpha    float64
	nowFn    func() time.Time

	readOnly atomic.Bool

	// Persistence hooks, called after a write commits while the write lock
	// is still held so log order matches arena order.
	onNode func(Node)
	onEdge func(Edge)
}

type edgeKey struct {
	src, dst int64
	typ      EdgeType
}

// NewStore creates an empty store with a fresh dedup index.
func NewStore(opts Options) *Store {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = 1 << 20
	}
	if opts.PinFloor <= 0 {
		opts.PinFloor = 0.6
	}
	if opts.ReinforceAlpha <= 0 {
		opts.ReinforceAlpha = 0.1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		edgesBySrc: make(map[int64][]int64),
		edgePair:   make(map[edgeKey]int64),
		idx:        index.New(opts.Dims, opts.Seed),
		maxNodes:   opts.MaxNodes,
		pinFloor:   opts.PinFloor,
		alpha:      opts.ReinforceAlpha,
		nowFn:      opts.Now,
	}
}

// SetPager configures the cold-tier loader.
func (s *Store) SetPager(p Pager) {
	s.mu.Lock()
	s.pager = p
	s.mu.Unlock()
}

// SetAppendHooks registers persistence callbacks for committed writes.
func (s *Store) SetAppendHooks(onNode func(Node), onEdge func(Edge)) {
	s.mu.Lock()
	s.onNode = onNode
	s.onEdge = onEdge
	s.mu.Unlock()
}

// ReadOnly reports whether the store has refused writes after an invariant
// violation or a persistence failure.
func (s *Store) ReadOnly() bool { return s.readOnly.Load() }

// SetReadOnly latches the store read-only. There is no unlatch; recovery
// requires an external reset.
func (s *Store) SetReadOnly() { s.readOnly.Store(true) }

// NodeSpec describes a node to create.
type NodeSpec struct {
	Type       NodeType
	Label      string
	Value      string
	Salience   float64
	Source     Source
	ConceptKey string
	Embedding  []float64
	Pinned     bool
}

// CreateNode allocates a node, inserts it into the dedup index, and enforces
// the one-active-node-per-concept-key invariant: an existing active node with
// the same key is superseded and linked by a Supersedes edge in the same
// critical section, so readers never see the new node without the link.
func (s *Store) CreateNode(spec NodeSpec) (Node, error) {
	if s.readOnly.Load() {
		return Node{}, ErrReadOnly
	}
	if strings.TrimSpace(spec.Value) == "" {
		return Node{}, fmt.Errorf("%w: empty value", ErrBadInput)
	}
	if len(spec.Value) > MaxValueLen {
		return Node{}, fmt.Errorf("%w: value exceeds %d chars", ErrBadInput, MaxValueLen)
	}
	if len(spec.Embedding) > 0 {
		if n := embed.Norm(spec.Embedding); n > 0 && math.Abs(n-1.0) > unitNormEpsilon {
			embed.Normalize(spec.Embedding)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nodes) >= s.maxNodes {
		if !s.evictColdestLocked() {
			return Node{}, ErrOutOfCapacity
		}
	}

	now := s.nowFn()
	node := &Node{
		ID:           int64(len(s.nodes) + 1),
		Type:         spec.Type,
		Label:        spec.Label,
		Value:        spec.Value,
		Embedding:    spec.Embedding,
		Salience:     clamp01(spec.Salience),
		CreatedAt:    now,
		LastAccessed: now,
		Tier:         TierHot,
		Source:       spec.Source,
		ConceptKey:   spec.ConceptKey,
		Pinned:       spec.Pinned,
		Status:       StatusActive,
	}

	// Supersession: at most one active node per concept key.
	var prev *Node
	if key := index.NormalizeKey(spec.ConceptKey); key != "" {
		if oldID, ok := s.idx.ActiveByKey(key); ok {
			prev = s.nodeLocked(oldID)
		}
	}

	s.nodes = append(s.nodes, node)
	s.idx.Insert(node.ID, node.ConceptKey, node.Label, node.Value, node.Embedding)

	if prev != nil && prev.Status == StatusActive {
		prev.Status = StatusSuperseded
		prev.SupersededBy = node.ID
		node.Pinned = node.Pinned || prev.Pinned
		s.idx.RemoveVector(prev.ID, prev.Embedding)
		s.appendEdgeLocked(node.ID, prev.ID, EdgeSupersedes, 1.0)
		s.hookNodeLocked(prev)
	}

	if s.onNode != nil {
		s.onNode(*node)
	}
	return *node, nil
}

// CreateEdge adds a directed edge. Both endpoints must be active nodes, and
// Causes/Prevents edges require Entity endpoints.
func (s *Store) CreateEdge(src, dst int64, typ EdgeType, weight float64) (Edge, error) {
	if s.readOnly.Load() {
		return Edge{}, ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEndpointsLocked(src, dst, typ); err != nil {
		return Edge{}, err
	}
	e := s.appendEdgeLocked(src, dst, typ, clamp01(weight))
	return *e, nil
}

// CreateEdgeDedup adds an edge or, when one with the same endpoints and type
// exists, reinforces it: w' = min(1, w + alpha).
func (s *Store) CreateEdgeDedup(src, dst int64, typ EdgeType, weight float64) (Edge, error) {
	if s.readOnly.Load() {
		return Edge{}, ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.edgePair[edgeKey{src, dst, typ}]; ok {
		e := s.edges[id-1]
		if !e.pruned {
			e.Weight = math.Min(1.0, e.Weight+s.alpha)
			e.Version++
			if s.onEdge != nil {
				s.onEdge(*e)
			}
			return *e, nil
		}
	}

	if err := s.checkEndpointsLocked(src, dst, typ); err != nil {
		return Edge{}, err
	}
	e := s.appendEdgeLocked(src, dst, typ, clamp01(weight))
	return *e, nil
}

func (s *Store) checkEndpointsLocked(src, dst int64, typ EdgeType) error {
	sn := s.nodeLocked(src)
	dn := s.nodeLocked(dst)
	if sn == nil || dn == nil || sn.Status != StatusActive || dn.Status != StatusActive {
		return fmt.Errorf("%w: %d -> %d", ErrInvalidEndpoint, src, dst)
	}
	if typ == EdgeCauses || typ == EdgePrevents {
		if sn.Type != NodeEntity || dn.Type != NodeEntity {
			return fmt.Errorf("%w: %s edges require entity endpoints", ErrInvalidEndpoint, typ)
		}
	}
	return nil
}

func (s *Store) appendEdgeLocked(src, dst int64, typ EdgeType, weight float64) *Edge {
	e := &Edge{
		ID:        int64(len(s.edges) + 1),
		SourceID:  src,
		TargetID:  dst,
		Type:      typ,
		Weight:    weight,
		CreatedAt: s.nowFn(),
		Version:   1,
	}
	s.edges = append(s.edges, e)
	s.edgesBySrc[src] = append(s.edgesBySrc[src], e.ID)
	s.edgePair[edgeKey{src, dst, typ}] = e.ID
	if s.onEdge != nil {
		s.onEdge(*e)
	}
	return e
}

func (s *Store) nodeLocked(id int64) *Node {
	if id < 1 || id > int64(len(s.nodes)) {
		return nil
	}
	return s.nodes[id-1]
}

// hookNodeLocked fires the persistence hook with a fully resident copy.
// A hibernated node's arena entry has an empty value; appending that record
// as-is would let it win over the original on replay.
func (s *Store) hookNodeLocked(n *Node) {
	if s.onNode == nil {
		return
	}
	out := *n
	if n.Tier == TierCold && n.Value == "" && n.Offset > 0 && s.pager != nil {
		if value, emb, err := s.pager.Load(n.Offset); err == nil {
			out.Value = value
			out.Embedding = emb
		}
	}
	s.onNode(out)
}

// Node returns a copy of the node with the given id. Hibernated values are
// paged in from the cold log transparently.
func (s *Store) Node(id int64) (Node, bool) {
	s.mu.RLock()
	n := s.nodeLocked(id)
	if n == nil {
		s.mu.RUnlock()
		return Node{}, false
	}
	if n.Tier == TierCold && n.Value == "" && n.Offset > 0 && s.pager != nil {
		pager, offset := s.pager, n.Offset
		s.mu.RUnlock()
		value, emb, err := pager.Load(offset)
		s.mu.Lock()
		if err == nil && n.Value == "" {
			n.Value = value
			n.Embedding = emb
		}
		out := *n
		s.mu.Unlock()
		return out, true
	}
	out := *n
	s.mu.RUnlock()
	return out, true
}

// FindByConceptKey returns the active node for a concept key.
func (s *Store) FindByConceptKey(key string) (Node, bool) {
	s.mu.RLock()
	id, ok := s.idx.ActiveByKey(key)
	s.mu.RUnlock()
	if !ok {
		return Node{}, false
	}
	return s.Node(id)
}

// ForEachNode calls fn with a copy of every node, in id order, until fn
// returns false. Hibernated nodes are passed as-is (value may be empty).
func (s *Store) ForEachNode(fn func(Node) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if !fn(*n) {
			return
		}
	}
}

// ForEachStatus iterates nodes with the given status.
func (s *Store) ForEachStatus(status Status, fn func(Node) bool) {
	s.ForEachNode(func(n Node) bool {
		if n.Status != status {
			return true
		}
		return fn(n)
	})
}

// OutEdges returns copies of the unpruned edges leaving a node.
func (s *Store) OutEdges(id int64) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.edgesBySrc[id]
	out := make([]Edge, 0, len(ids))
	for _, eid := range ids {
		e := s.edges[eid-1]
		if !e.pruned {
			out = append(out, *e)
		}
	}
	return out
}

// Edge returns a copy of the edge with the given id.
func (s *Store) Edge(id int64) (Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > int64(len(s.edges)) {
		return Edge{}, false
	}
	return *s.edges[id-1], true
}

// ForEachEdge iterates unpruned edges in id order.
func (s *Store) ForEachEdge(fn func(Edge) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.edges {
		if e.pruned {
			continue
		}
		if !fn(*e) {
			return
		}
	}
}

// Retract marks a node retracted. The node stays in the arena; its concept
// key and LSH buckets are released.
func (s *Store) Retract(id int64) error {
	if s.readOnly.Load() {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.nodeLocked(id)
	if n == nil {
		return ErrNotFound
	}
	if n.Status == StatusRetracted {
		return nil
	}
	if n.Status == StatusActive {
		if key := index.NormalizeKey(n.ConceptKey); key != "" {
			if cur, ok := s.idx.ActiveByKey(key); ok && cur == id {
				s.idx.DropKey(key)
			}
		}
		s.idx.RemoveVector(id, n.Embedding)
	}
	n.Status = StatusRetracted
	s.hookNodeLocked(n)
	return nil
}

// Supersede marks old as replaced by new and links them, in one critical
// section. Used when semantic dedup consolidates nodes that share no
// concept key; keyed supersession happens inside CreateNode instead.
func (s *Store) Supersede(oldID, newID int64) error {
	if s.readOnly.Load() {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.nodeLocked(oldID)
	repl := s.nodeLocked(newID)
	if old == nil || repl == nil {
		return ErrNotFound
	}
	if oldID == newID {
		return fmt.Errorf("%w: node cannot supersede itself", ErrBadInput)
	}
	if old.Status != StatusActive || repl.Status != StatusActive {
		return fmt.Errorf("%w: both nodes must be active", ErrBadInput)
	}

	old.Status = StatusSuperseded
	old.SupersededBy = newID
	repl.Pinned = repl.Pinned || old.Pinned
	if repl.Salience < old.Salience {
		repl.Salience = old.Salience
	}
	if key := index.NormalizeKey(old.ConceptKey); key != "" {
		if cur, ok := s.idx.ActiveByKey(key); ok && cur == oldID {
			s.idx.DropKey(key)
		}
	}
	s.idx.RemoveVector(oldID, old.Embedding)
	s.appendEdgeLocked(newID, oldID, EdgeSupersedes, 1.0)

	s.hookNodeLocked(old)
	s.hookNodeLocked(repl)
	return nil
}

// SetPinned pins or unpins the active node for a concept key. Pinned nodes
// never decay below the configured floor.
func (s *Store) SetPinned(key string, pinned bool) error {
	if s.readOnly.Load() {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.idx.ActiveByKey(key)
	if !ok {
		return ErrNotFound
	}
	n := s.nodeLocked(id)
	n.Pinned = pinned
	if pinned && n.Salience < s.pinFloor {
		n.Salience = s.pinFloor
	}
	s.hookNodeLocked(n)
	return nil
}

/// MarkServed records that a node's value was emitted into a context packet:
// access time refreshes and salience decays multiplicatively.
func (s *Store) MarkServed(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodeLocked(id)
	if n == nil {
		return
	}
	n.LastAccessed = s.nowFn()
	n.Salience = s.floorLocked(n, n.Salience*0.8)
}

// BoostSalience raises a node's salience by delta, capped at 1.
func (s *Store) BoostSalience(id int64, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodeLocked(id)
	if n == nil {
		return
	}
	n.Salience = clamp01(n.Salience + delta)
	n.LastAccessed = s.nowFn()
}

// SetSalience overwrites a node's salience, respecting the pin floor.
func (s *Store) SetSalience(id int64, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodeLocked(id)
	if n == nil {
		return
	}
	n.Salience = s.floorLocked(n, clamp01(v))
}

func (s *Store) floorLocked(n *Node, v float64) float64 {
	if n.Pinned && v < s.pinFloor {
		return s.pinFloor
	}
	return clamp01(v)
}

// DecaySweep applies exponential time decay to every node's salience based
// on hours since last access. Pinned nodes respect the floor.
func (s *Store) DecaySweep(lambda float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	updated := 0
	for _, n := range s.nodes {
		if n.Status != StatusActive {
			continue
		}
		ageH := now.Sub(n.LastAccessed).Hours()
		if ageH <= 0 {
			continue
		}
		decayed := s.floorLocked(n, n.Salience*math.Exp(-lambda*ageH))
		if decayed < n.Salience {
			n.Salience = decayed
			updated++
		}
	}
	return updated
}

// PruneEdges deletes edges with weight below the threshold. Supersedes edges
// are structural and never pruned.
func (s *Store) PruneEdges(minWeight float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for _, e := range s.edges {
		if e.pruned || e.Type == EdgeSupersedes {
			continue
		}
		if e.Weight < minWeight {
			e.pruned = true
			delete(s.edgePair, edgeKey{e.SourceID, e.TargetID, e.Type})
			pruned++
		}
	}
	return pruned
}

// DemoteEdge zeroes an edge's weight without removing it.
func (s *Store) DemoteEdge(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.edges)) {
		return
	}
	e := s.edges[id-1]
	e.Weight = 0
	e.Version++
	if s.onEdge != nil {
		s.onEdge(*e)
	}
}

// evictColdestLocked retracts the lowest-salience unpinned cold node to make
// room. Returns false if nothing was evictable.
func (s *Store) evictColdestLocked() bool {
	var victim *Node
	for _, n := range s.nodes {
		if n.Status != StatusActive || n.Pinned || n.Tier != TierCold {
			continue
		}
		if victim == nil || n.Salience < victim.Salience {
			victim = n
		}
	}
	if victim == nil {
		return false
	}
	if key := index.NormalizeKey(victim.ConceptKey); key != "" {
		if cur, ok := s.idx.ActiveByKey(key); ok && cur == victim.ID {
			s.idx.DropKey(key)
		}
	}
	s.idx.RemoveVector(victim.ID, victim.Embedding)
	victim.Status = StatusRetracted
	s.hookNodeLocked(victim)
	return true
}

// DedupLookup finds the best active semantic match for (label, value, vec).
// The Bloom layer short-circuits pairs that were definitely never inserted.
// Returns (0, 0) when nothing clears minSim.
func (s *Store) DedupLookup(label, value string, vec []float64, minSim float64) (int64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(vec) == 0 {
		return 0, 0
	}
	candidates := s.idx.Candidates(vec)
	if len(candidates) == 0 && !s.idx.MaybeSeen(label, value) {
		return 0, 0
	}

	var bestID int64
	var bestSim float64
	for _, id := range candidates {
		n := s.nodeLocked(id)
		if n == nil || n.Status != StatusActive || len(n.Embedding) == 0 {
			continue
		}
		sim := embed.Cosine(vec, n.Embedding)
		if sim > bestSim && sim >= minSim {
			bestSim = sim
			bestID = id
		}
	}
	return bestID, bestSim
}

// SetTier moves a node between tiers. Hibernating to cold clears the value
// and embedding and records the cold-log offset for on-demand paging.
func (s *Store) SetTier(id int64, tier Tier, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodeLocked(id)
	if n == nil {
		return
	}
	n.Tier = tier
	if tier == TierCold && offset > 0 {
		n.Offset = offset
		n.Value = ""
		n.Embedding = nil
	}
}

// LoadNode reinstalls a node during log replay. The arena is extended with
// retracted placeholders if the log skips ids.
func (s *Store) LoadNode(n Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for int64(len(s.nodes)) < n.ID {
		s.nodes = append(s.nodes, &Node{
			ID:     int64(len(s.nodes) + 1),
			Status: StatusRetracted,
		})
	}
	stored := n
	s.nodes[n.ID-1] = &stored

	if n.Status == StatusActive {
		s.idx.Insert(n.ID, n.ConceptKey, n.Label, n.Value, n.Embedding)
	}
}

// LoadEdge reinstalls an edge during log replay.
func (s *Store) LoadEdge(e Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for int64(len(s.edges)) < e.ID {
		s.edges = append(s.edges, &Edge{
			ID:     int64(len(s.edges) + 1),
			pruned: true,
		})
	}
	stored := e
	s.edges[e.ID-1] = &stored
	s.edgesBySrc[e.SourceID] = append(s.edgesBySrc[e.SourceID], e.ID)
	s.edgePair[edgeKey{e.SourceID, e.TargetID, e.Type}] = e.ID
}

// Stats summarizes arena contents.
type Stats struct {
	Nodes      int
	Edges      int
	ByStatus   map[string]int
	ByTier     map[string]int
	ConceptKey int
	ReadOnly   bool
}

// Stats returns a snapshot of arena counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Nodes:      len(s.nodes),
		ByStatus:   make(map[string]int),
		ByTier:     make(map[string]int),
		ConceptKey: s.idx.Keys(),
		ReadOnly:   s.readOnly.Load(),
	}
	for _, n := range s.nodes {
		st.ByStatus[n.Status.String()]++
		if n.Status == StatusActive {
			st.ByTier[n.Tier.String()]++
		}
	}
	for _, e := range s.edges {
		if !e.pruned {
			st.Edges++
		}
	}
	return st
}

// Index exposes the dedup index for snapshotting. Callers must not mutate it
// concurrently with writes.
func (s *Store) Index() *index.Index {
	return s.idx
}
