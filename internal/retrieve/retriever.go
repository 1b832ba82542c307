// Package retrieve surfaces memory under a hard token budget. The retriever
// scores active nodes by salience, recency, momentum, and semantic
// similarity, widens the candidate set through edge tunneling, gates by
// domain, and emits a priority-ordered packet.
package retrieve

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/embed"
	"github.com/quillmem/synapse/internal/graph"
)

const (
	packetOpen  = "[FACTS]"
	packetClose = "[/FACTS]"
)

// Options tunes the retriever. Zero values fall back to defaults.
type Options struct {
	DecayLambda    float64       // recency decay per hour
	EvictThreshold float64       // minimum admissible priority
	TokenBudget    int           // hard budget per packet
	MaxNodes       int           // K_max per packet
	MaxHops        int           // tunneling depth
	RawMemoryLabel string        // label given the x3 boost
	EmbedTimeout   time.Duration // soft timeout before the semantic path degrades
	Now            func() time.Time
}

func (o *Options) defaults() {
	if o.DecayLambda <= 0 {
		o.DecayLambda = 0.35
	}
	if o.EvictThreshold <= 0 {
		o.EvictThreshold = 0.1
	}
	if o.TokenBudget <= 0 {
		o.TokenBudget = 600
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = 6
	}
	if o.MaxHops <= 0 {
		o.MaxHops = 5
	}
	if o.RawMemoryLabel == "" {
		o.RawMemoryLabel = "raw_memory"
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = 2 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Retriever assembles context packets from the graph.
type Retriever struct {
	store    *graph.Store
	embedder embed.Embedder
	gate     *DomainGate
	opts     Options
	logger   *zap.Logger
}

// New creates a Retriever over the given store.
func New(store *graph.Store, embedder embed.Embedder, gate *DomainGate, opts Options, logger *zap.Logger) *Retriever {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, embedder: embedder, gate: gate, opts: opts, logger: logger}
}

// Result is one retrieval outcome.
type Result struct {
	Packet string
	Nodes  []graph.Node
	Tokens int
	Domain string
}

// EstimateTokens approximates the packet cost of serving a node.
func EstimateTokens(label, value string) int {
	return (len(label) + len(value) + 20) / 4
}

type candidate struct {
	node     graph.Node
	priority float64
	tokens   int
}

// Retrieve surfaces at most MaxNodes active nodes within the token budget,
// priority-descending, wrapped in packet markers. Momentum m narrows the
// tunneling beam and raises every node's base priority.
func (r *Retriever) Retrieve(ctx context.Context, query string, momentum float64) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", graph.ErrBadInput)
	}
	momentum = clamp01(momentum)

	queryVec := r.embedQuery(ctx, query)
	domain := r.gate.Classify(query)
	now := r.opts.Now()
	lowerQuery := strings.ToLower(query)

	// Score every active node once.
	var cands []candidate
	r.store.ForEachStatus(graph.StatusActive, func(n graph.Node) bool {
		p := r.priority(n, queryVec, momentum, now, lowerQuery)
		cands = append(cands, candidate{node: n, priority: p})
		return true
	})

	// Tunneling widens reach from the best seeds and multiplies priority
	// for neighbors the walk admits.
	sortCandidates(cands)
	seeds := make([]int64, 0, r.opts.MaxNodes)
	for i := 0; i < len(cands) && i < r.opts.MaxNodes; i++ {
		seeds = append(seeds, cands[i].node.ID)
	}
	boosts := Tunnel(ctx, r.store, seeds, queryVec, momentum, r.opts.MaxHops)
	if len(boosts) > 0 {
		for i := range cands {
			if b, ok := boosts[cands[i].node.ID]; ok {
				cands[i].priority *= b
			}
		}
		sortCandidates(cands)
	}

	// Greedy admission under the budget, checking cancellation between
	// iterations.
	result := &Result{Domain: domain}
	remaining := r.opts.TokenBudget
	for _, c := range cands {
		if ctx.Err() != nil {
			break
		}
		if len(result.Nodes) >= r.opts.MaxNodes {
			break
		}
		if c.priority < r.opts.EvictThreshold {
			break // priority-sorted, nothing below is admissible
		}
		node := c.node
		if node.Value == "" {
			// Cold node, page the value in.
			full, ok := r.store.Node(node.ID)
			if !ok || full.Value == "" {
				continue
			}
			node = full
		}
		// Gate on the resident value; a hibernated node classifies as
		// general on its empty placeholder.
		if !r.gate.Admit(domain, r.gate.Classify(node.Value), node.Salience) {
			continue
		}
		cost := EstimateTokens(node.Label, node.Value)
		if cost > remaining {
			continue
		}

		remaining -= cost
		result.Nodes = append(result.Nodes, node)
		result.Tokens += cost
		r.store.MarkServed(node.ID)
	}

	result.Packet = renderPacket(result.Nodes)
	r.logger.Debug("retrieval served",
		zap.String("domain", domain),
		zap.Int("nodes", len(result.Nodes)),
		zap.Int("tokens", result.Tokens),
		zap.Float64("momentum", momentum))
	return result, nil
}

// embedQuery embeds under a soft timeout. On failure retrieval degrades to
// the non-semantic path.
func (r *Retriever) embedQuery(ctx context.Context, query string) []float64 {
	ectx, cancel := context.WithTimeout(ctx, r.opts.EmbedTimeout)
	defer cancel()
	vec, err := r.embedder.Embed(ectx, query)
	if err != nil {
		r.logger.Warn("embedder degraded, retrieval is non-semantic", zap.Error(err))
		return nil
	}
	return vec
}

// priority implements the scoring formula. With no query vector the
// similarity term sits at its midpoint.
func (r *Retriever) priority(n graph.Node, queryVec []float64, momentum float64, now time.Time, lowerQuery string) float64 {
	ageHours := now.Sub(n.LastAccessed).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-r.opts.DecayLambda * ageHours)
	base := 0.7*n.Salience*recency + 0.3*momentum

	simBoost := 0.5
	if len(queryVec) > 0 && len(n.Embedding) > 0 {
		simBoost = (1 + embed.Cosine(queryVec, n.Embedding)) / 2
	}
	p := base * (0.5 + simBoost)

	if n.Label == r.opts.RawMemoryLabel {
		p *= 3
	}
	if n.Label != "" && strings.Contains(lowerQuery, strings.ToLower(n.Label)) {
		p += 0.5
	}
	return p
}

// sortCandidates orders by priority descending, id ascending on ties, so a
// fixed (graph, query, momentum, now) always yields the same packet.
func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].priority != cands[j].priority {
			return cands[i].priority > cands[j].priority
		}
		return cands[i].node.ID < cands[j].node.ID
	})
}

func renderPacket(nodes []graph.Node) string {
	var b strings.Builder
	b.WriteString(packetOpen)
	b.WriteByte('\n')
	for _, n := range nodes {
		b.WriteString("- ")
		if n.Label != "" {
			b.WriteString(n.Label)
			b.WriteString(": ")
		}
		b.WriteString(n.Value)
		b.WriteByte('\n')
	}
	b.WriteString(packetClose)
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
