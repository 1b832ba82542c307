package tier

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmem/synapse/internal/graph"
)

func TestNodeRecordRoundTrip(t *testing.T) {
	in := graph.Node{
		ID:           7,
		Type:         graph.NodeFact,
		Label:        "user_name",
		Value:        "Zoe",
		Embedding:    []float64{0.5, -0.5, 0.5, 0.5},
		Salience:     0.75,
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		LastAccessed: time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC),
		Source:       graph.SourceUser,
		ConceptKey:   "user.name",
		SupersededBy: 9,
		Pinned:       true,
		Status:       graph.StatusSuperseded,
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeNode(&buf, in))
	assert.Equal(t, "ZNOD", string(buf.Bytes()[:4]))

	out, err := DecodeNode(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Label, out.Label)
	assert.Equal(t, in.Value, out.Value)
	assert.Equal(t, in.ConceptKey, out.ConceptKey)
	assert.Equal(t, in.SupersededBy, out.SupersededBy)
	assert.Equal(t, in.Status, out.Status)
	assert.True(t, out.Pinned)
	assert.InDelta(t, in.Salience, out.Salience, 1e-6)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.Len(t, out.Embedding, 4)
	assert.InDelta(t, -0.5, out.Embedding[1], 1e-6)
}

func TestEdgeRecordRoundTrip(t *testing.T) {
	in := graph.Edge{
		ID:        3,
		SourceID:  1,
		TargetID:  2,
		Type:      graph.EdgeCauses,
		Weight:    0.85,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Version:   2,
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeEdge(&buf, in))
	assert.Equal(t, "ZEDG", string(buf.Bytes()[:4]))

	out, err := DecodeEdge(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.SourceID, out.SourceID)
	assert.Equal(t, in.TargetID, out.TargetID)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Version, out.Version)
	assert.InDelta(t, in.Weight, out.Weight, 1e-6)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := DecodeNode(bytes.NewReader([]byte("XXXX-not-a-record")))
	assert.ErrorIs(t, err, ErrBadRecord)

	_, err = DecodeEdge(bytes.NewReader([]byte("ZNOD-wrong-stream")))
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestLongLabelTruncated(t *testing.T) {
	in := graph.Node{
		ID:    1,
		Label: "this_label_is_far_longer_than_the_fixed_record_field",
		Value: "v",
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeNode(&buf, in))
	out, err := DecodeNode(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Label[:labelSize], out.Label)
}
