package retrieve

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmem/synapse/internal/config"
	"github.com/quillmem/synapse/internal/graph"
)

type fakeEmbedder struct {
	vecs map[string][]float64
	err  error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 0, 1}, nil
}

func (f *fakeEmbedder) Model() string   { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return 4 }

var testNow = time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

func testRetriever(t *testing.T, emb *fakeEmbedder, opts Options) (*Retriever, *graph.Store) {
	t.Helper()
	store := graph.NewStore(graph.Options{Dims: 4, Seed: 1, Now: func() time.Time { return testNow }})
	opts.Now = func() time.Time { return testNow }
	gate := NewDomainGate(config.DefaultPatterns().Domains)
	return New(store, emb, gate, opts, nil), store
}

func addFact(t *testing.T, s *graph.Store, label, value string, salience float64, vec []float64) int64 {
	t.Helper()
	n, err := s.CreateNode(graph.NodeSpec{
		Type:      graph.NodeFact,
		Label:     label,
		Value:     value,
		Salience:  salience,
		Source:    graph.SourceUser,
		Embedding: vec,
	})
	require.NoError(t, err)
	return n.ID
}

func TestRetrievePriorityOrder(t *testing.T) {
	emb := &fakeEmbedder{vecs: map[string][]float64{"topic": {1, 0, 0, 0}}}
	r, store := testRetriever(t, emb, Options{})

	// aligned + salient > unaligned salient > aligned weak
	addFact(t, store, "fact", "aligned weak", 0.5, []float64{1, 0, 0, 0})
	addFact(t, store, "fact", "unaligned strong", 0.9, []float64{0, 1, 0, 0})
	addFact(t, store, "fact", "aligned strong", 0.9, []float64{1, 0, 0, 0})

	res, err := r.Retrieve(context.Background(), "topic", 0)
	require.NoError(t, err)
	require.Len(t, res.Nodes, 3)
	assert.Equal(t, "aligned strong", res.Nodes[0].Value)
	assert.Equal(t, "unaligned strong", res.Nodes[1].Value)
	assert.Equal(t, "aligned weak", res.Nodes[2].Value)
}

func TestRetrievePacketMarkers(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{})
	addFact(t, store, "user_name", "Zoe", 0.9, []float64{1, 0, 0, 0})

	res, err := r.Retrieve(context.Background(), "hello", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Packet, "[FACTS]\n"))
	assert.True(t, strings.HasSuffix(res.Packet, "[/FACTS]"))
	assert.Contains(t, res.Packet, "- user_name: Zoe")
}

func TestRetrieveBudgetEnforced(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{TokenBudget: 200, MaxNodes: 50})

	long := strings.Repeat("x", 180) // ~51 tokens each
	for i := 0; i < 20; i++ {
		addFact(t, store, "fact", long, 0.9, []float64{1, 0, 0, 0})
	}

	res, err := r.Retrieve(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Tokens, 200)
	assert.Len(t, res.Nodes, 3)
}

func TestRetrieveMaxNodesEnforced(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{MaxNodes: 6})
	for i := 0; i < 30; i++ {
		addFact(t, store, "fact", "short value", 0.9, []float64{1, 0, 0, 0})
	}

	res, err := r.Retrieve(context.Background(), "anything", 0.5)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 6)
}

func TestRetrieveRawMemoryBoost(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{})

	addFact(t, store, "fact", "ordinary", 0.6, []float64{1, 0, 0, 0})
	addFact(t, store, "raw_memory", "raw note", 0.3, []float64{0, 1, 0, 0})

	res, err := r.Retrieve(context.Background(), "anything", 0)
	require.NoError(t, err)
	require.NotEmpty(t, res.Nodes)
	assert.Equal(t, "raw note", res.Nodes[0].Value)
}

func TestRetrieveLabelLiteralMatch(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{})

	addFact(t, store, "user_car", "a Tesla", 0.4, []float64{1, 0, 0, 0})
	addFact(t, store, "fact", "something else", 0.6, []float64{1, 0, 0, 0})

	res, err := r.Retrieve(context.Background(), "tell me about user_car please", 0)
	require.NoError(t, err)
	require.NotEmpty(t, res.Nodes)
	assert.Equal(t, "a Tesla", res.Nodes[0].Value)
}

func TestRetrieveEvictThreshold(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{})
	addFact(t, store, "fact", "barely there", 0.05, []float64{1, 0, 0, 0})

	res, err := r.Retrieve(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)
	assert.Equal(t, "[FACTS]\n[/FACTS]", res.Packet)
}

func TestRetrieveCredentialsGate(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{})
	addFact(t, store, "fact", "the password is a secret token", 1.0, []float64{1, 0, 0, 0})

	res, err := r.Retrieve(context.Background(), "what is my name", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)

	res, err = r.Retrieve(context.Background(), "which password or credential do I use", 0)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 1)
}

type mapPager struct {
	values map[int64]string
	vecs   map[int64][]float64
}

func (p *mapPager) Load(offset int64) (string, []float64, error) {
	v, ok := p.values[offset]
	if !ok {
		return "", nil, errors.New("no record at offset")
	}
	return v, p.vecs[offset], nil
}

func TestRetrieveHibernatedCredentialsStayGated(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{})
	id := addFact(t, store, "fact", "the password is a secret token", 1.0, []float64{1, 0, 0, 0})

	// Hibernate the node; the arena copy keeps only the log offset.
	store.SetPager(&mapPager{
		values: map[int64]string{42: "the password is a secret token"},
		vecs:   map[int64][]float64{42: {1, 0, 0, 0}},
	})
	store.SetTier(id, graph.TierCold, 42)

	// The gate must see the paged-in value; the empty placeholder
	// classifies as general and would leak the credential.
	res, err := r.Retrieve(context.Background(), "what is my name", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)

	res, err = r.Retrieve(context.Background(), "which password or credential do I use", 0)
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "the password is a secret token", res.Nodes[0].Value)
}

func TestRetrieveDomainSalienceOverride(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{})

	addFact(t, store, "fact", "the project deadline for the team", 0.5, []float64{1, 0, 0, 0})
	addFact(t, store, "fact", "a project deadline everyone remembers from the team", 0.95, []float64{1, 0, 0, 0})

	res, err := r.Retrieve(context.Background(), "what is my name", 0)
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
	assert.Contains(t, res.Nodes[0].Value, "everyone remembers")
}

func TestRetrieveServedDecay(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{})
	id := addFact(t, store, "fact", "served once", 1.0, []float64{1, 0, 0, 0})

	_, err := r.Retrieve(context.Background(), "anything", 0)
	require.NoError(t, err)

	n, ok := store.Node(id)
	require.True(t, ok)
	assert.InDelta(t, 0.8, n.Salience, 1e-9)
}

func TestRetrieveEmbedderDegrades(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("embedder down")}
	r, store := testRetriever(t, emb, Options{})
	addFact(t, store, "fact", "still reachable", 0.9, []float64{1, 0, 0, 0})

	res, err := r.Retrieve(context.Background(), "anything", 0)
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "still reachable", res.Nodes[0].Value)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	emb := &fakeEmbedder{}
	r, _ := testRetriever(t, emb, Options{})

	_, err := r.Retrieve(context.Background(), "   ", 0)
	assert.ErrorIs(t, err, graph.ErrBadInput)
}

func TestRetrieveCancellation(t *testing.T) {
	emb := &fakeEmbedder{}
	r, store := testRetriever(t, emb, Options{})
	addFact(t, store, "fact", "anything at all", 0.9, []float64{1, 0, 0, 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := r.Retrieve(ctx, "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, (4+5+20)/4, EstimateTokens("fact", "hello"))
}
