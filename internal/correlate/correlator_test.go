package correlate

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmem/synapse/internal/graph"
)

func corrStore(t *testing.T) *graph.Store {
	t.Helper()
	return graph.NewStore(graph.Options{Dims: 4, Seed: 1})
}

func corrNode(t *testing.T, s *graph.Store, value string, salience float64, vec []float64) int64 {
	t.Helper()
	n, err := s.CreateNode(graph.NodeSpec{
		Type:      graph.NodeFact,
		Label:     "fact",
		Value:     value,
		Salience:  salience,
		Source:    graph.SourceUser,
		Embedding: vec,
	})
	require.NoError(t, err)
	return n.ID
}

func startCorrelator(t *testing.T, s *graph.Store, opts Options) *Correlator {
	t.Helper()
	c := New(s, opts, nil)
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

func TestInputSetsLastInput(t *testing.T) {
	c := startCorrelator(t, corrStore(t), Options{})

	c.PushInput("tell me about hiking", 0.5)
	c.Drain()
	assert.Equal(t, "tell me about hiking", c.LastInput())
}

func TestOutputCreatesRelatedEdges(t *testing.T) {
	s := corrStore(t)
	hiking := corrNode(t, s, "hiking", 0.8, []float64{1, 0, 0, 0})
	boots := corrNode(t, s, "trail boots", 0.8, []float64{0, 1, 0, 0})
	c := startCorrelator(t, s, Options{})

	c.PushInput("I want to go hiking this weekend", 0.6)
	c.PushOutput("You should bring your trail boots.", 0.6)
	c.Drain()

	edges := s.OutEdges(hiking)
	require.Len(t, edges, 1)
	assert.Equal(t, boots, edges[0].TargetID)
	assert.Equal(t, graph.EdgeRelated, edges[0].Type)
	assert.InDelta(t, 0.8, edges[0].Weight, 1e-9) // 0.5 + 0.5 x 0.6
}

func TestOutputNeverLinksNodeToItself(t *testing.T) {
	s := corrStore(t)
	id := corrNode(t, s, "hiking", 0.8, []float64{1, 0, 0, 0})
	c := startCorrelator(t, s, Options{})

	c.PushInput("I love hiking", 0.5)
	c.PushOutput("hiking is great", 0.5)
	c.Drain()

	assert.Empty(t, s.OutEdges(id))
}

func TestRefCapBoundsFanout(t *testing.T) {
	s := corrStore(t)
	// Ten nodes referenced on both sides; only the five most salient on
	// each side may participate.
	var weakest int64
	for i := 0; i < 10; i++ {
		sal := 0.3 + 0.05*float64(i)
		id := corrNode(t, s, fmt.Sprintf("term%02d", i), sal, []float64{1, 0, 0, 0})
		if i == 0 {
			weakest = id
		}
	}
	c := startCorrelator(t, s, Options{RefCap: 5})

	all := "term00 term01 term02 term03 term04 term05 term06 term07 term08 term09"
	c.PushInput(all, 1)
	c.PushOutput(all, 1)
	c.Drain()

	total := 0
	s.ForEachEdge(func(e graph.Edge) bool {
		total++
		assert.NotEqual(t, weakest, e.SourceID)
		assert.NotEqual(t, weakest, e.TargetID)
		return true
	})
	// 5 x 5 pairs minus the 5 self pairs.
	assert.Equal(t, 20, total)
}

func TestAffirmationBoostsOutputNodes(t *testing.T) {
	s := corrStore(t)
	id := corrNode(t, s, "a Tesla", 0.8, []float64{1, 0, 0, 0})
	corrNode(t, s, "my commute", 0.8, []float64{0, 1, 0, 0})
	c := startCorrelator(t, s, Options{Affirmations: []string{"yes,", "correct", "exactly", "right,"}})

	c.PushInput("do I drive a Tesla for my commute", 0.5)
	c.PushOutput("Yes, you drive a Tesla.", 0.5)
	c.Drain()

	n, ok := s.Node(id)
	require.True(t, ok)
	assert.InDelta(t, 0.9, n.Salience, 1e-9)
}

func TestAffirmationCappedAtOne(t *testing.T) {
	s := corrStore(t)
	id := corrNode(t, s, "a Tesla", 0.97, []float64{1, 0, 0, 0})
	c := startCorrelator(t, s, Options{Affirmations: []string{"correct"}})

	c.PushInput("a Tesla you said", 0.5)
	c.PushOutput("correct, a Tesla", 0.5)
	c.Drain()

	n, ok := s.Node(id)
	require.True(t, ok)
	assert.InDelta(t, 1.0, n.Salience, 1e-9)
}

func TestBoundedQueueDropsWhenFull(t *testing.T) {
	c := New(corrStore(t), Options{QueueDepth: 1}, nil)
	// Worker not started: the first push fills the buffer, the second is
	// rejected instead of blocking the caller.
	assert.True(t, c.PushInput("one", 0))
	assert.False(t, c.PushInput("two", 0))
	assert.Equal(t, int64(1), c.Dropped())

	c.Start()
	c.Drain()
	c.Stop()
	assert.Equal(t, "one", c.LastInput())
}

func TestPushAfterStopDropsItem(t *testing.T) {
	c := New(corrStore(t), Options{}, nil)
	c.Start()
	c.Stop()

	// The queue channel is closed; a late push must drop, not panic.
	assert.False(t, c.PushInput("too late", 0))
	assert.False(t, c.PushOutput("also too late", 0))
	assert.Equal(t, int64(2), c.Dropped())
}

func TestMaintenanceRunsBetweenItems(t *testing.T) {
	var ran atomic.Int64
	c := startCorrelator(t, corrStore(t), Options{Maintenance: func() { ran.Add(1) }})

	c.PushInput("anything", 0)
	c.Drain()
	assert.Greater(t, ran.Load(), int64(0))
}

func TestFIFOOrdering(t *testing.T) {
	c := startCorrelator(t, corrStore(t), Options{})
	for i := 0; i < 10; i++ {
		c.PushInput(fmt.Sprintf("turn %d", i), 0)
	}
	c.Drain()
	assert.Equal(t, "turn 9", c.LastInput())
}
