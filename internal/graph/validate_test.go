package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckInvariantsClean(t *testing.T) {
	s, _ := testStore(t)

	s.CreateNode(NodeSpec{Type: NodeFact, Label: "user_name", Value: "Alice", Salience: 0.9, ConceptKey: "user.name", Embedding: embedText(t, "Alice")})
	s.CreateNode(NodeSpec{Type: NodeFact, Label: "user_name", Value: "Alex", Salience: 0.9, ConceptKey: "user.name", Embedding: embedText(t, "Alex")})
	a, _ := s.CreateNode(NodeSpec{Type: NodeEntity, Label: "e", Value: "Sun", Salience: 0.5, Embedding: embedText(t, "Sun")})
	b, _ := s.CreateNode(NodeSpec{Type: NodeEntity, Label: "e", Value: "Giant", Salience: 0.5, Embedding: embedText(t, "Giant")})
	_, err := s.CreateEdge(a.ID, b.ID, EdgeCauses, 0.8)
	require.NoError(t, err)

	assert.NoError(t, s.CheckInvariants())
	assert.False(t, s.ReadOnly())
}

func TestCheckInvariantsCatchesCorruption(t *testing.T) {
	s, _ := testStore(t)

	n, _ := s.CreateNode(NodeSpec{Type: NodeFact, Label: "f", Value: "x", Salience: 0.5, Embedding: embedText(t, "x value")})

	// Corrupt the node through the replay path, which skips validation.
	bad := n
	bad.Salience = 3.0
	s.LoadNode(bad)

	err := s.CheckInvariants()
	require.Error(t, err)
	assert.True(t, s.ReadOnly(), "violation must latch read-only")

	// Writes refuse, reads continue.
	_, err = s.CreateNode(NodeSpec{Type: NodeFact, Label: "f", Value: "y", Salience: 0.5})
	assert.ErrorIs(t, err, ErrReadOnly)
	_, ok := s.Node(n.ID)
	assert.True(t, ok)
}

func TestCheckInvariantsEmbeddingNorm(t *testing.T) {
	s, _ := testStore(t)

	n, _ := s.CreateNode(NodeSpec{Type: NodeFact, Label: "f", Value: "x", Salience: 0.5, Embedding: embedText(t, "x value")})

	bad := n
	bad.Embedding = []float64{2, 0, 0}
	s.LoadNode(bad)

	assert.Error(t, s.CheckInvariants())
}
