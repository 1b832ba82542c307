// Package causal classifies statements into cause/prevention relations by
// comparing their embeddings against anchor phrase embeddings, then
// materializes the relation as Entity nodes joined by a typed edge.
package causal

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/config"
	"github.com/quillmem/synapse/internal/embed"
	"github.com/quillmem/synapse/internal/graph"
)

// RelationType is the classified relation class.
type RelationType int

const (
	RelNone RelationType = iota
	RelCauses
	RelPrevents
)

func (r RelationType) String() string {
	switch r {
	case RelCauses:
		return "causes"
	case RelPrevents:
		return "prevents"
	default:
		return "none"
	}
}

// Relation is a classified subject/object pair with its confidence.
type Relation struct {
	Type       RelationType
	Subject    string
	Object     string
	Sentence   string
	Confidence float64
}

// Classifier scores statements against anchor embeddings.
type Classifier struct {
	embedder    embed.Embedder
	markers     []string
	causes      [][]float64
	prevents    [][]float64
	tauCauses   float64
	tauPrevents float64
	logger      *zap.Logger
}

// New embeds the anchor phrases up front so classification is a pure
// cosine pass per statement.
func New(ctx context.Context, embedder embed.Embedder, p *config.Patterns, tauCauses, tauPrevents float64, logger *zap.Logger) (*Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		embedder:    embedder,
		markers:     p.CausalMarkers,
		tauCauses:   tauCauses,
		tauPrevents: tauPrevents,
		logger:      logger,
	}
	for _, phrase := range p.Anchors.Causes {
		v, err := embedder.Embed(ctx, phrase)
		if err != nil {
			return nil, fmt.Errorf("embed causes anchor: %w", err)
		}
		c.causes = append(c.causes, v)
	}
	for _, phrase := range p.Anchors.Prevents {
		v, err := embedder.Embed(ctx, phrase)
		if err != nil {
			return nil, fmt.Errorf("embed prevents anchor: %w", err)
		}
		c.prevents = append(c.prevents, v)
	}
	return c, nil
}

// Classify scores a sentence against both anchor sets and splits it into
// subject and object. Returns nil when no relation clears its threshold or
// the sentence has no usable verb-phrase split.
func (c *Classifier) Classify(ctx context.Context, sentence string) (*Relation, error) {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return nil, nil
	}

	vec, err := c.embedder.Embed(ctx, sentence)
	if err != nil {
		return nil, fmt.Errorf("embed sentence: %w", err)
	}

	maxC := maxCosine(vec, c.causes)
	maxP := maxCosine(vec, c.prevents)

	var rel RelationType
	var conf float64
	switch {
	case maxP > c.tauPrevents && maxP > maxC:
		rel, conf = RelPrevents, maxP
	case maxC > c.tauCauses:
		rel, conf = RelCauses, maxC
	default:
		return nil, nil
	}

	subject, object, ok := c.split(sentence)
	if !ok {
		c.logger.Debug("causal hit without verb split",
			zap.String("sentence", sentence),
			zap.String("relation", rel.String()))
		return nil, nil
	}

	return &Relation{
		Type:       rel,
		Subject:    subject,
		Object:     object,
		Sentence:   sentence,
		Confidence: conf,
	}, nil
}

// Apply writes the relation into the graph: dedup-or-create Entity nodes for
// subject and object, a Causes/Prevents edge between them, and a Fact node
// holding the full sentence linked to both entities.
func (c *Classifier) Apply(ctx context.Context, store *graph.Store, rel *Relation, source graph.Source, dupThreshold float64) error {
	subjID, err := c.entityNode(ctx, store, rel.Subject, source, rel.Confidence, dupThreshold)
	if err != nil {
		return fmt.Errorf("subject node: %w", err)
	}
	objID, err := c.entityNode(ctx, store, rel.Object, source, rel.Confidence, dupThreshold)
	if err != nil {
		return fmt.Errorf("object node: %w", err)
	}

	edgeType := graph.EdgeCauses
	factLabel := "causes_relation"
	if rel.Type == RelPrevents {
		edgeType = graph.EdgePrevents
		factLabel = "prevents_relation"
	}
	if _, err := store.CreateEdgeDedup(subjID, objID, edgeType, rel.Confidence); err != nil {
		return fmt.Errorf("relation edge: %w", err)
	}

	sentVec, err := c.embedder.Embed(ctx, rel.Sentence)
	if err != nil {
		return fmt.Errorf("embed relation fact: %w", err)
	}
	fact, err := store.CreateNode(graph.NodeSpec{
		Type:      graph.NodeFact,
		Label:     factLabel,
		Value:     rel.Sentence,
		Salience:  rel.Confidence,
		Source:    source,
		Embedding: sentVec,
	})
	if err != nil {
		return fmt.Errorf("relation fact: %w", err)
	}
	if _, err := store.CreateEdgeDedup(fact.ID, subjID, graph.EdgeRelated, rel.Confidence); err != nil {
		return err
	}
	if _, err := store.CreateEdgeDedup(fact.ID, objID, graph.EdgeRelated, rel.Confidence); err != nil {
		return err
	}

	c.logger.Debug("causal relation stored",
		zap.String("relation", rel.Type.String()),
		zap.String("subject", rel.Subject),
		zap.String("object", rel.Object),
		zap.Float64("confidence", rel.Confidence))
	return nil
}

// entityNode reuses an existing entity whose embedding clears the dedup
// threshold, reinforcing its salience, otherwise creates a fresh one.
func (c *Classifier) entityNode(ctx context.Context, store *graph.Store, text string, source graph.Source, salience, dupThreshold float64) (int64, error) {
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("embed entity: %w", err)
	}
	if id, _ := store.DedupLookup("causal_agent", text, vec, dupThreshold); id != 0 {
		// The lookup is type-agnostic; a Fact with the same wording must
		// not stand in for the entity or the relation edge is rejected.
		if n, ok := store.Node(id); ok && n.Type == graph.NodeEntity {
			store.BoostSalience(id, 0.05)
			return id, nil
		}
	}
	n, err := store.CreateNode(graph.NodeSpec{
		Type:      graph.NodeEntity,
		Label:     "causal_agent",
		Value:     text,
		Salience:  salience,
		Source:    source,
		Embedding: vec,
	})
	if err != nil {
		return 0, err
	}
	return n.ID, nil
}

// split cuts the sentence at the first verb-phrase marker. The earliest
// match wins; on a tie the longer marker wins so "leads to" beats "leads".
func (c *Classifier) split(sentence string) (subject, object string, ok bool) {
	lower := " " + strings.ToLower(sentence) + " "
	best, bestLen := -1, 0
	for _, m := range c.markers {
		i := strings.Index(lower, " "+m+" ")
		if i < 0 {
			continue
		}
		if best == -1 || i < best || (i == best && len(m) > bestLen) {
			best, bestLen = i, len(m)
		}
	}
	if best < 0 {
		return "", "", false
	}

	subject = cleanEntity(sentence[:best])
	rest := best + bestLen
	if rest >= len(sentence) {
		return "", "", false
	}
	object = cleanEntity(sentence[rest:])
	if len(subject) < 2 || len(object) < 2 {
		return "", "", false
	}
	return subject, object, true
}

// cleanEntity trims punctuation, leading articles, and trailing
// subordinate clauses ("before it could attack").
func cleanEntity(s string) string {
	s = strings.Trim(s, " .,!?")
	lower := strings.ToLower(s)
	for _, clause := range []string{" before ", " after ", " so that ", " which ", " because "} {
		if i := strings.Index(lower, clause); i >= 0 {
			s = s[:i]
			lower = lower[:i]
		}
	}
	for _, art := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(lower, art) {
			s = s[len(art):]
			break
		}
	}
	return strings.Trim(s, " .,!?")
}

func maxCosine(vec []float64, anchors [][]float64) float64 {
	best := -1.0
	for _, a := range anchors {
		if c := embed.Cosine(vec, a); c > best {
			best = c
		}
	}
	return best
}
