package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmem/synapse/internal/embed"
)

func testStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	s := NewStore(Options{
		Dims:     128,
		Seed:     1,
		MaxNodes: 1000,
		PinFloor: 0.6,
		Now:      clock.Now,
	})
	return s, clock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func embedText(t *testing.T, text string) []float64 {
	t.Helper()
	vec, err := embed.NewHashingEmbedder(128).Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func TestCreateNodeBasic(t *testing.T) {
	s, _ := testStore(t)

	n, err := s.CreateNode(NodeSpec{
		Type:       NodeFact,
		Label:      "user_name",
		Value:      "Alice",
		Salience:   0.9,
		Source:     SourceUser,
		ConceptKey: "user.name",
		Embedding:  embedText(t, "my name is Alice"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.ID)
	assert.Equal(t, StatusActive, n.Status)
	assert.Equal(t, TierHot, n.Tier)

	got, ok := s.Node(n.ID)
	require.True(t, ok)
	assert.Equal(t, "Alice", got.Value)
}

func TestCreateNodeBadInput(t *testing.T) {
	s, _ := testStore(t)

	_, err := s.CreateNode(NodeSpec{Value: "   "})
	assert.ErrorIs(t, err, ErrBadInput)

	long := make([]byte, MaxValueLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.CreateNode(NodeSpec{Value: string(long)})
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestSupersession(t *testing.T) {
	s, _ := testStore(t)

	old, err := s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "user_name", Value: "Alice",
		Salience: 0.9, Source: SourceUser, ConceptKey: "user.name",
		Embedding: embedText(t, "my name is Alice"),
	})
	require.NoError(t, err)

	cur, err := s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "user_name", Value: "Alex",
		Salience: 0.9, Source: SourceUser, ConceptKey: "user.name",
		Embedding: embedText(t, "my name is Alex"),
	})
	require.NoError(t, err)

	oldNow, _ := s.Node(old.ID)
	assert.Equal(t, StatusSuperseded, oldNow.Status)
	assert.Equal(t, cur.ID, oldNow.SupersededBy)

	// The Supersedes edge exists new → old.
	var found bool
	for _, e := range s.OutEdges(cur.ID) {
		if e.Type == EdgeSupersedes && e.TargetID == old.ID {
			found = true
		}
	}
	assert.True(t, found, "missing Supersedes edge")

	// Key now resolves to the new node.
	active, ok := s.FindByConceptKey("user.name")
	require.True(t, ok)
	assert.Equal(t, cur.ID, active.ID)
}

func TestSupersessionCopiesPin(t *testing.T) {
	s, _ := testStore(t)

	_, err := s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "user_name", Value: "Alice",
		Salience: 0.9, ConceptKey: "user.name", Pinned: true,
		Embedding: embedText(t, "Alice"),
	})
	require.NoError(t, err)

	cur, err := s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "user_name", Value: "Alex",
		Salience: 0.9, ConceptKey: "user.name",
		Embedding: embedText(t, "Alex"),
	})
	require.NoError(t, err)
	assert.True(t, cur.Pinned, "pin state should carry to the new version")
}

func TestCreateEdgeValidation(t *testing.T) {
	s, _ := testStore(t)

	ent, _ := s.CreateNode(NodeSpec{Type: NodeEntity, Label: "causal_agent", Value: "Sun", Salience: 0.5, Embedding: embedText(t, "sun")})
	fact, _ := s.CreateNode(NodeSpec{Type: NodeFact, Label: "fact", Value: "the sun is hot", Salience: 0.5, Embedding: embedText(t, "the sun is hot")})

	_, err := s.CreateEdge(ent.ID, 999, EdgeRelated, 0.5)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	// Causes requires entity endpoints on both sides.
	_, err = s.CreateEdge(ent.ID, fact.ID, EdgeCauses, 0.8)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	e, err := s.CreateEdge(ent.ID, fact.ID, EdgeRelated, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)
}

func TestCreateEdgeDedupReinforces(t *testing.T) {
	s, _ := testStore(t)

	a, _ := s.CreateNode(NodeSpec{Type: NodeEntity, Label: "e", Value: "Alice", Salience: 0.5, Embedding: embedText(t, "Alice")})
	b, _ := s.CreateNode(NodeSpec{Type: NodeEntity, Label: "e", Value: "Bob", Salience: 0.5, Embedding: embedText(t, "Bob")})

	e1, err := s.CreateEdgeDedup(a.ID, b.ID, EdgeRelated, 0.5)
	require.NoError(t, err)

	e2, err := s.CreateEdgeDedup(a.ID, b.ID, EdgeRelated, 0.5)
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID, "dedup should reuse the edge")
	assert.InDelta(t, 0.6, e2.Weight, 1e-9)
	assert.Equal(t, 2, e2.Version)

	// Reinforcement saturates at 1.
	for i := 0; i < 10; i++ {
		s.CreateEdgeDedup(a.ID, b.ID, EdgeRelated, 0.5)
	}
	final, _ := s.Edge(e1.ID)
	assert.LessOrEqual(t, final.Weight, 1.0)
}

func TestRetract(t *testing.T) {
	s, _ := testStore(t)

	n, _ := s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "user_name", Value: "Alice",
		Salience: 0.9, ConceptKey: "user.name", Embedding: embedText(t, "Alice"),
	})

	require.NoError(t, s.Retract(n.ID))

	got, _ := s.Node(n.ID)
	assert.Equal(t, StatusRetracted, got.Status)
	_, ok := s.FindByConceptKey("user.name")
	assert.False(t, ok, "retracted node should release its key")

	assert.ErrorIs(t, s.Retract(999), ErrNotFound)
}

func TestPinFloor(t *testing.T) {
	s, clock := testStore(t)

	n, _ := s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "user_name", Value: "Alice",
		Salience: 0.9, ConceptKey: "user.name", Embedding: embedText(t, "Alice"),
	})
	require.NoError(t, s.SetPinned("user.name", true))

	clock.Advance(1000 * time.Hour)
	s.DecaySweep(0.35)

	got, _ := s.Node(n.ID)
	assert.GreaterOrEqual(t, got.Salience, 0.6, "pinned salience fell below floor")
}

func TestDecaySweep(t *testing.T) {
	s, clock := testStore(t)

	n, _ := s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "fact", Value: "ephemeral detail",
		Salience: 1.0, Embedding: embedText(t, "ephemeral detail"),
	})

	clock.Advance(10 * time.Hour)
	updated := s.DecaySweep(0.35)
	assert.Equal(t, 1, updated)

	got, _ := s.Node(n.ID)
	assert.Less(t, got.Salience, 0.1, "10h at lambda 0.35 should decay hard")
}

func TestMarkServedDecay(t *testing.T) {
	s, _ := testStore(t)

	n, _ := s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "fact", Value: "served once",
		Salience: 1.0, Embedding: embedText(t, "served once"),
	})

	s.MarkServed(n.ID)
	got, _ := s.Node(n.ID)
	assert.InDelta(t, 0.8, got.Salience, 1e-9)
}

func TestPruneEdges(t *testing.T) {
	s, _ := testStore(t)

	a, _ := s.CreateNode(NodeSpec{Type: NodeEntity, Label: "e", Value: "A", Salience: 0.5, Embedding: embedText(t, "A node")})
	b, _ := s.CreateNode(NodeSpec{Type: NodeEntity, Label: "e", Value: "B", Salience: 0.5, Embedding: embedText(t, "B node")})

	weak, _ := s.CreateEdge(a.ID, b.ID, EdgeRelated, 0.01)
	strong, _ := s.CreateEdge(b.ID, a.ID, EdgeRelated, 0.9)

	pruned := s.PruneEdges(0.05)
	assert.Equal(t, 1, pruned)

	got, _ := s.Edge(weak.ID)
	assert.True(t, got.Pruned())
	got, _ = s.Edge(strong.ID)
	assert.False(t, got.Pruned())
}

func TestCapacityEviction(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := NewStore(Options{Dims: 128, Seed: 1, MaxNodes: 3, PinFloor: 0.6, Now: clock.Now})

	n1, err := s.CreateNode(NodeSpec{Type: NodeFact, Label: "f", Value: "one", Salience: 0.1, Embedding: embedText(t, "one")})
	require.NoError(t, err)
	_, err = s.CreateNode(NodeSpec{Type: NodeFact, Label: "f", Value: "two", Salience: 0.5, Embedding: embedText(t, "two")})
	require.NoError(t, err)
	_, err = s.CreateNode(NodeSpec{Type: NodeFact, Label: "f", Value: "three", Salience: 0.5, Embedding: embedText(t, "three")})
	require.NoError(t, err)

	// Arena full and nothing is cold yet: the write is rejected.
	_, err = s.CreateNode(NodeSpec{Type: NodeFact, Label: "f", Value: "four", Salience: 0.5, Embedding: embedText(t, "four")})
	assert.ErrorIs(t, err, ErrOutOfCapacity)

	// Demote the least salient node to cold; now eviction can reclaim it.
	s.SetTier(n1.ID, TierCold, 0)
	_, err = s.CreateNode(NodeSpec{Type: NodeFact, Label: "f", Value: "four", Salience: 0.5, Embedding: embedText(t, "four")})
	require.NoError(t, err)

	got, _ := s.Node(n1.ID)
	assert.Equal(t, StatusRetracted, got.Status)
}

func TestReadOnlyLatch(t *testing.T) {
	s, _ := testStore(t)
	s.SetReadOnly()

	_, err := s.CreateNode(NodeSpec{Type: NodeFact, Label: "f", Value: "x", Salience: 0.5})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, s.Retract(1), ErrReadOnly)
}

func TestDedupLookup(t *testing.T) {
	s, _ := testStore(t)

	n, _ := s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "preference", Value: "I love hiking in the mountains",
		Salience: 0.8, Embedding: embedText(t, "I love hiking in the mountains"),
	})
	s.CreateNode(NodeSpec{
		Type: NodeFact, Label: "fact", Value: "the deploy failed on Tuesday",
		Salience: 0.8, Embedding: embedText(t, "the deploy failed on Tuesday"),
	})

	vec := embedText(t, "I love hiking in the mountains")
	id, sim := s.DedupLookup("preference", "I love hiking in the mountains", vec, 0.85)
	assert.Equal(t, n.ID, id)
	assert.Greater(t, sim, 0.99)

	// An unrelated statement matches nothing.
	vec2 := embedText(t, "what time is the meeting tomorrow")
	id, _ = s.DedupLookup("question", "what time is the meeting tomorrow", vec2, 0.85)
	assert.Equal(t, int64(0), id)
}
