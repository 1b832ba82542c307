// Package engine assembles the memory core: extraction, the graph arena,
// dedup, causal classification, streaming retrieval, the background
// correlator, tiered persistence, and the conflict guardrail, behind one
// facade.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/causal"
	"github.com/quillmem/synapse/internal/config"
	"github.com/quillmem/synapse/internal/correlate"
	"github.com/quillmem/synapse/internal/embed"
	"github.com/quillmem/synapse/internal/extract"
	"github.com/quillmem/synapse/internal/graph"
	"github.com/quillmem/synapse/internal/guard"
	"github.com/quillmem/synapse/internal/llm"
	"github.com/quillmem/synapse/internal/retrieve"
	"github.com/quillmem/synapse/internal/store"
	"github.com/quillmem/synapse/internal/tier"
)

// maxIngestLen bounds a single ingested statement.
const maxIngestLen = 4096

// rawMemorySalience is the initial salience of fallback whole-statement
// nodes, below every extraction confidence.
const rawMemorySalience = 0.4

// Options configures a new Engine.
type Options struct {
	Config   config.Config
	Patterns func() *config.Patterns // nil uses the built-in tables
	Embedder embed.Embedder
	LLM      llm.Client // nil disables model-assisted extraction
	DB       *store.DB  // nil disables turn history and the audit trail
	Logger   *zap.Logger
	Now      func() time.Time
}

// Engine is one memory instance: a foreground request path plus one
// background correlator worker.
type Engine struct {
	cfg      config.Config
	patterns func() *config.Patterns
	embedder embed.Embedder
	logger   *zap.Logger
	now      func() time.Time
	metrics  *Metrics

	// mu guards the components Restore swaps; request paths hold it for
	// read so a restore never races a handler onto a stopped correlator.
	mu         sync.RWMutex
	store      *graph.Store
	log        *tier.Log
	mapped     *tier.MappedLog
	tiers      *tier.Manager
	extractor  *extract.Extractor
	causal     *causal.Classifier
	retriever  *retrieve.Retriever
	correlator *correlate.Correlator
	guard      *guard.Guardrail
	ring       *retrieve.Ring
	db         *store.DB
}

// New builds an engine. With a configured data dir, existing logs are
// replayed before the engine accepts traffic; with an empty data dir the
// engine is purely in-memory.
func New(opts Options) (*Engine, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Patterns == nil {
		p := config.DefaultPatterns()
		opts.Patterns = func() *config.Patterns { return p }
	}

	e := &Engine{
		cfg:      opts.Config,
		patterns: opts.Patterns,
		embedder: opts.Embedder,
		logger:   opts.Logger,
		now:      opts.Now,
		metrics:  NewMetrics(),
		db:       opts.DB,
		ring:     retrieve.NewRing(opts.Config.Engine.ConversationRingSize),
	}

	cls, err := causal.New(context.Background(), opts.Embedder, opts.Patterns(),
		opts.Config.Engine.CausesThreshold, opts.Config.Engine.PreventsThreshold, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("causal anchors: %w", err)
	}
	e.causal = cls
	e.extractor = extract.New(opts.Patterns, opts.LLM, opts.Logger)

	s := e.newStore()
	if dir := opts.Config.Storage.DataDir; dir != "" {
		log, err := tier.OpenLog(dir, opts.Logger)
		if err != nil {
			return nil, err
		}
		if err := tier.Replay(dir, s); err != nil {
			log.Close()
			return nil, err
		}
		mapped, err := tier.OpenMapped(log.NodeLogPath())
		if err != nil {
			log.Close()
			return nil, err
		}
		e.log = log
		e.mapped = mapped
		log.SetFailureHook(s.SetReadOnly)
	}

	e.attach(s)
	e.correlator.Start()
	return e, nil
}

func (e *Engine) newStore() *graph.Store {
	return graph.NewStore(graph.Options{
		Dims:     e.cfg.Engine.EmbedDim,
		Seed:     e.cfg.Engine.LSHSeed,
		MaxNodes: e.cfg.Engine.MaxNodes,
		PinFloor: e.cfg.Engine.PinFloor,
		Now:      e.now,
	})
}

// attach wires every component to the given store and makes it current.
func (e *Engine) attach(s *graph.Store) {
	e.store = s
	if e.log != nil {
		s.SetAppendHooks(e.log.AppendNode, e.log.AppendEdge)
		s.SetPager(e.mapped)
		e.tiers = tier.NewManager(s, e.log, e.cfg.Engine.HotThreshold, e.cfg.Engine.WarmThreshold, e.logger)
	}

	gate := retrieve.NewDomainGate(e.patterns().Domains)
	e.retriever = retrieve.New(s, e.embedder, gate, retrieve.Options{
		DecayLambda:    e.cfg.Engine.DecayLambda,
		EvictThreshold: e.cfg.Engine.EvictThreshold,
		TokenBudget:    e.cfg.Engine.TokenBudget,
		MaxNodes:       e.cfg.Engine.MaxNodesPerTurn,
		MaxHops:        e.cfg.Engine.TunnelMaxHops,
		RawMemoryLabel: e.patterns().RawMemoryLabel,
		EmbedTimeout:   time.Duration(e.cfg.Embedder.TimeoutMS) * time.Millisecond,
		Now:            e.now,
	}, e.logger)

	e.correlator = correlate.New(s, correlate.Options{
		QueueDepth:   e.cfg.Engine.CorrelatorQueueDepth,
		RefCap:       e.cfg.Engine.CorrelatorRefCap,
		Affirmations: e.patterns().Affirmations,
		Maintenance:  func() { e.maintain(s) },
	}, e.logger)

	e.guard = guard.New(s, e.patterns().Negations, e.patterns().Categories,
		e.cfg.Engine.OverridePhrase, e.logger)
	e.guard.SetNow(e.now)
	e.guard.SetEventSink(e.recordGuardEvent)
}

// maintain runs on the correlator thread between queue items.
func (e *Engine) maintain(s *graph.Store) {
	s.DecaySweep(e.cfg.Engine.DecayLambda)
	s.PruneEdges(e.cfg.Engine.PruneWeight)
	if e.tiers != nil {
		e.tiers.Maintain()
	}
	if err := s.CheckInvariants(); err != nil {
		e.logger.Error("invariant violation, writes disabled", zap.Error(err))
	}
	e.metrics.ActiveNodes.Set(float64(s.Stats().ByStatus[graph.StatusActive.String()]))
}

// Ingest runs extraction and the causal classifier over a statement and
// queues it for correlation. Returns the ids of nodes created or reinforced.
// Questions seed retrieval elsewhere and create nothing here.
func (e *Engine) Ingest(ctx context.Context, text string, source graph.Source) ([]int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", graph.ErrBadInput)
	}
	if len(text) > maxIngestLen {
		return nil, fmt.Errorf("%w: statement exceeds %d bytes", graph.ErrBadInput, maxIngestLen)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store.ReadOnly() {
		return nil, graph.ErrReadOnly
	}
	e.metrics.Ingests.Inc()

	role := "user"
	if source == graph.SourceModel {
		role = "assistant"
	}
	e.recordTurn(role, text, 0)
	// Only user turns become the correlation input; model text must never
	// pose as the user side of a turn.
	if source == graph.SourceUser {
		e.correlator.PushInput(text, 0)
		e.metrics.QueueDepth.Set(float64(e.correlator.Pending()))
	}

	if e.extractor.IsQuestion(text) {
		return nil, nil
	}

	var ids []int64
	for _, f := range e.extractor.Extract(ctx, text) {
		e.metrics.FactsExtracted.Inc()
		id, err := e.ingestFact(ctx, f, source)
		if err != nil {
			if e.store.ReadOnly() {
				return ids, err
			}
			e.logger.Warn("fact rejected", zap.String("label", f.Label), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}

	causalHits := 0
	for _, sentence := range extract.SplitSentences(text) {
		rel, err := e.causal.Classify(ctx, sentence)
		if err != nil {
			e.logger.Warn("causal classification degraded", zap.Error(err))
			break
		}
		if rel == nil {
			continue
		}
		if err := e.causal.Apply(ctx, e.store, rel, source, e.cfg.Engine.DupThreshold); err != nil {
			e.logger.Warn("causal relation rejected", zap.Error(err))
			continue
		}
		causalHits++
		e.metrics.CausalHits.Inc()
	}

	// Nothing structured came out: keep the statement whole so recall can
	// still find it.
	if len(ids) == 0 && causalHits == 0 {
		if id, err := e.rawMemory(ctx, text, source); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ingestFact resolves one extracted fact against the graph: exact concept
// keys supersede, near-identical values consolidate, duplicates reinforce.
func (e *Engine) ingestFact(ctx context.Context, f extract.Fact, source graph.Source) (int64, error) {
	vec, err := e.embedder.Embed(ctx, f.Value)
	if err != nil {
		e.logger.Warn("embedder degraded on ingest", zap.Error(err))
		vec = nil
	}

	if f.ConceptKey != "" {
		if cur, ok := e.store.FindByConceptKey(f.ConceptKey); ok {
			if strings.EqualFold(cur.Value, f.Value) {
				e.store.BoostSalience(cur.ID, 0.05)
				e.metrics.DedupHits.Inc()
				return cur.ID, nil
			}
			e.metrics.Supersessions.Inc()
		}
		n, err := e.store.CreateNode(graph.NodeSpec{
			Type:       graph.NodeFact,
			Label:      f.Label,
			Value:      f.Value,
			Salience:   f.Confidence,
			Source:     source,
			ConceptKey: f.ConceptKey,
			Embedding:  vec,
		})
		if err != nil {
			return 0, err
		}
		return n.ID, nil
	}

	if id, sim := e.store.DedupLookup(f.Label, f.Value, vec, e.cfg.Engine.DupThreshold); id != 0 {
		existing, _ := e.store.Node(id)
		if sim < e.cfg.Engine.MergeThreshold || strings.EqualFold(existing.Value, f.Value) {
			e.store.BoostSalience(id, 0.05)
			e.metrics.DedupHits.Inc()
			return id, nil
		}
		// Same meaning, richer wording: the new node consolidates the old.
		n, err := e.store.CreateNode(graph.NodeSpec{
			Type:      graph.NodeFact,
			Label:     f.Label,
			Value:     f.Value,
			Salience:  f.Confidence,
			Source:    source,
			Embedding: vec,
		})
		if err != nil {
			return 0, err
		}
		if err := e.store.Supersede(id, n.ID); err != nil {
			return 0, err
		}
		e.metrics.Merges.Inc()
		return n.ID, nil
	}

	n, err := e.store.CreateNode(graph.NodeSpec{
		Type:      graph.NodeFact,
		Label:     f.Label,
		Value:     f.Value,
		Salience:  f.Confidence,
		Source:    source,
		Embedding: vec,
	})
	if err != nil {
		return 0, err
	}
	return n.ID, nil
}

func (e *Engine) rawMemory(ctx context.Context, text string, source graph.Source) (int64, error) {
	if len(text) > graph.MaxValueLen {
		text = text[:graph.MaxValueLen]
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		vec = nil
	}
	label := e.patterns().RawMemoryLabel
	if id, _ := e.store.DedupLookup(label, text, vec, e.cfg.Engine.DupThreshold); id != 0 {
		e.store.BoostSalience(id, 0.05)
		e.metrics.DedupHits.Inc()
		return id, nil
	}
	n, err := e.store.CreateNode(graph.NodeSpec{
		Type:      graph.NodeFact,
		Label:     label,
		Value:     text,
		Salience:  rawMemorySalience,
		Source:    source,
		Embedding: vec,
	})
	if err != nil {
		return 0, err
	}
	return n.ID, nil
}

// Retrieve surfaces a context packet for the query under the token budget.
func (e *Engine) Retrieve(ctx context.Context, query string, momentum float64) (*retrieve.Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, err := e.retriever.Retrieve(ctx, query, momentum)
	if err != nil {
		return nil, err
	}
	e.metrics.Retrievals.Inc()
	e.metrics.NodesServed.Add(float64(len(res.Nodes)))
	return res, nil
}

// ObserveOutput feeds generated text back for correlation. No identity
// nodes are created from model output.
func (e *Engine) ObserveOutput(text string, momentum float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.recordTurn("assistant", text, momentum)
	e.correlator.PushOutput(text, momentum)
	e.metrics.QueueDepth.Set(float64(e.correlator.Pending()))
}

// Guardrail screens generated output against remembered user facts and
// returns it, possibly annotated.
func (e *Engine) Guardrail(output string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	checked, events := e.guard.Check(output)
	e.metrics.GuardConflicts.Add(float64(len(events)))
	return checked
}

// Pin fixes or releases the salience floor of the active node for a key.
func (e *Engine) Pin(conceptKey string, pinned bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.SetPinned(conceptKey, pinned)
}

// Retract marks a node retracted.
func (e *Engine) Retract(id int64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Retract(id)
}

// Snapshot writes a compacted full dump of the graph into dir.
func (e *Engine) Snapshot(dir string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.log != nil {
		if err := e.log.Sync(); err != nil {
			return err
		}
	}
	return tier.Dump(e.store, dir)
}

// Restore replaces the live graph with the contents of a dump. The swap
// holds the component lock exclusively, so in-flight requests finish
// against the old store and later ones see only the new one.
func (e *Engine) Restore(dir string) error {
	s := e.newStore()
	if err := tier.Restore(dir, s); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.correlator.Stop()
	e.attach(s)
	e.correlator.Start()
	e.logger.Info("graph restored", zap.String("dir", dir), zap.Int("nodes", s.Stats().Nodes))
	return nil
}

// Ring returns the short-term conversation buffer.
func (e *Engine) Ring() *retrieve.Ring { return e.ring }

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Store exposes the graph for read paths (stats, history).
func (e *Engine) Store() *graph.Store {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store
}

// Drain blocks until the correlator queue is empty.
func (e *Engine) Drain() {
	e.mu.RLock()
	c := e.correlator
	e.mu.RUnlock()
	c.Drain()
}

// Stats summarizes engine state.
type Stats struct {
	Graph            graph.Stats
	CorrelatorDrops  int64
	ConversationSize int
}

// Stats returns current counts.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Graph:            e.store.Stats(),
		CorrelatorDrops:  e.correlator.Dropped(),
		ConversationSize: e.ring.Len(),
	}
}

// Close stops the worker and flushes persistence.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.correlator.Stop()
	var err error
	if e.log != nil {
		err = e.log.Close()
	}
	if e.mapped != nil {
		if cerr := e.mapped.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (e *Engine) recordTurn(role, text string, momentum float64) {
	e.ring.Push(retrieve.Turn{Role: role, Text: text, At: e.now()})
	if e.db == nil {
		return
	}
	if _, err := e.db.RecordTurn(role, text, momentum); err != nil {
		e.logger.Warn("turn not persisted", zap.Error(err))
	}
}

func (e *Engine) recordGuardEvent(ev guard.Event) {
	if e.db == nil {
		return
	}
	err := e.db.RecordGuardEvent(store.GuardEvent{
		NodeID:        ev.NodeID,
		Label:         ev.Label,
		StoredValue:   ev.StoredValue,
		OutputExcerpt: ev.Excerpt,
		Kind:          ev.Kind,
		Overridden:    ev.Overridden,
		CreatedAt:     ev.At.UnixMilli(),
	})
	if err != nil {
		e.logger.Warn("guard event not persisted", zap.Error(err))
	}
}
