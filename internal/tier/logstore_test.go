package tier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmem/synapse/internal/graph"
)

var logTestNow = time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

func loggedStore(t *testing.T, dir string) (*graph.Store, *Log) {
	t.Helper()
	store := graph.NewStore(graph.Options{Dims: 4, Seed: 1, Now: func() time.Time { return logTestNow }})
	log, err := OpenLog(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	store.SetAppendHooks(log.AppendNode, log.AppendEdge)
	return store, log
}

func mkNode(t *testing.T, s *graph.Store, key, value string, vec []float64) graph.Node {
	t.Helper()
	n, err := s.CreateNode(graph.NodeSpec{
		Type:       graph.NodeFact,
		Label:      "fact",
		Value:      value,
		Salience:   0.8,
		Source:     graph.SourceUser,
		ConceptKey: key,
		Embedding:  vec,
	})
	require.NoError(t, err)
	return n
}

func TestReplayRebuildsArena(t *testing.T) {
	dir := t.TempDir()
	store, log := loggedStore(t, dir)

	a := mkNode(t, store, "user.name", "Alice", []float64{1, 0, 0, 0})
	b := mkNode(t, store, "", "a Tesla", []float64{0, 1, 0, 0})
	_, err := store.CreateEdge(a.ID, b.ID, graph.EdgeRelated, 0.7)
	require.NoError(t, err)

	// Supersession writes records for both the old and the new node.
	c := mkNode(t, store, "user.name", "Alex", []float64{0, 0, 1, 0})
	require.NoError(t, log.Sync())

	restored := graph.NewStore(graph.Options{Dims: 4, Seed: 1})
	require.NoError(t, Replay(dir, restored))

	old, ok := restored.Node(a.ID)
	require.True(t, ok)
	assert.Equal(t, graph.StatusSuperseded, old.Status)
	assert.Equal(t, c.ID, old.SupersededBy)

	cur, ok := restored.FindByConceptKey("user.name")
	require.True(t, ok)
	assert.Equal(t, "Alex", cur.Value)

	stats := restored.Stats()
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, 2, stats.Edges) // Related + Supersedes
}

func TestReplayEmptyDir(t *testing.T) {
	store := graph.NewStore(graph.Options{Dims: 4, Seed: 1})
	require.NoError(t, Replay(t.TempDir(), store))
	assert.Equal(t, 0, store.Stats().Nodes)
}

func TestReopenRebuildsOffsets(t *testing.T) {
	dir := t.TempDir()
	store, log := loggedStore(t, dir)

	a := mkNode(t, store, "", "first", []float64{1, 0, 0, 0})
	b := mkNode(t, store, "", "second", []float64{0, 1, 0, 0})
	wantA, ok := log.Offset(a.ID)
	require.True(t, ok)
	wantB, ok := log.Offset(b.ID)
	require.True(t, ok)
	require.NoError(t, log.Close())

	reopened, err := OpenLog(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	gotA, ok := reopened.Offset(a.ID)
	require.True(t, ok)
	assert.Equal(t, wantA, gotA)
	gotB, ok := reopened.Offset(b.ID)
	require.True(t, ok)
	assert.Equal(t, wantB, gotB)
}

func TestOffsetTracksLatestRecord(t *testing.T) {
	dir := t.TempDir()
	store, log := loggedStore(t, dir)

	n := mkNode(t, store, "user.car", "value", []float64{1, 0, 0, 0})
	first, _ := log.Offset(n.ID)

	// Pinning rewrites the record; the offset table tracks the newest copy.
	require.NoError(t, store.SetPinned("user.car", true))
	second, _ := log.Offset(n.ID)
	assert.Greater(t, second, first)

	require.NoError(t, log.Sync())
	restored := graph.NewStore(graph.Options{Dims: 4, Seed: 1})
	require.NoError(t, Replay(dir, restored))
	got, ok := restored.Node(n.ID)
	require.True(t, ok)
	assert.True(t, got.Pinned)
}

func TestPinningHibernatedNodeKeepsValueOnReplay(t *testing.T) {
	dir := t.TempDir()
	store, log := loggedStore(t, dir)

	n := mkNode(t, store, "user.name", "Zoe", []float64{1, 0, 0, 0})
	require.NoError(t, log.Sync())

	mapped, err := OpenMapped(log.NodeLogPath())
	require.NoError(t, err)
	defer mapped.Close()
	store.SetPager(mapped)

	off, ok := log.Offset(n.ID)
	require.True(t, ok)
	store.SetTier(n.ID, graph.TierCold, off)

	// Pinning appends a fresh record while the arena copy has no value.
	// The latest record per id wins on replay, so it must carry the
	// paged-in value rather than the empty placeholder.
	require.NoError(t, store.SetPinned("user.name", true))
	require.NoError(t, log.Sync())

	restored := graph.NewStore(graph.Options{Dims: 4, Seed: 1})
	require.NoError(t, Replay(dir, restored))

	got, ok := restored.FindByConceptKey("user.name")
	require.True(t, ok)
	assert.Equal(t, "Zoe", got.Value)
	assert.True(t, got.Pinned)
	require.Len(t, got.Embedding, 4)
	assert.InDelta(t, 1.0, got.Embedding[0], 1e-6)
}
