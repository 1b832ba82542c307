// Package correlate runs the background worker that links memories to the
// conversation as it happens. Model output never creates identity nodes;
// it only strengthens Related edges between nodes the turn actually
// referenced, and nudges salience when the output affirms them.
package correlate

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/graph"
)

// minRefLen keeps trivial substrings ("a", "is") from matching as node
// references.
const minRefLen = 3

// Item is one queued correlation entry.
type Item struct {
	Text     string
	IsInput  bool
	At       time.Time
	Momentum float64
}

// Options tunes the correlator.
type Options struct {
	QueueDepth   int      // bounded FIFO capacity
	RefCap       int      // per-side reference cap (RefCap x RefCap edges max)
	Affirmations []string // output markers that boost matched nodes
	// Maintenance runs between queue items while the queue is idle:
	// decay sweeps, tier moves, edge pruning.
	Maintenance func()
}

func (o *Options) defaults() {
	if o.QueueDepth <= 0 {
		o.QueueDepth = 64
	}
	if o.RefCap <= 0 {
		o.RefCap = 5
	}
}

// Correlator is the single background worker per engine instance.
type Correlator struct {
	store  *graph.Store
	opts   Options
	logger *zap.Logger

	// qmu guards queue sends against the close in Stop.
	qmu     sync.RWMutex
	closed  bool
	queue   chan Item
	pending atomic.Int64
	dropped atomic.Int64

	mu        sync.Mutex
	lastInput string

	wg      sync.WaitGroup
	started atomic.Bool
}

// New creates a stopped correlator.
func New(store *graph.Store, opts Options, logger *zap.Logger) *Correlator {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		store:  store,
		opts:   opts,
		logger: logger,
		queue:  make(chan Item, opts.QueueDepth),
	}
}

// Start launches the worker goroutine.
func (c *Correlator) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go c.run()
}

// Stop drains the queue and waits for the worker to exit. Concurrent
// pushes either land before the close or are dropped.
func (c *Correlator) Stop() {
	if !c.started.CompareAndSwap(true, false) {
		return
	}
	c.qmu.Lock()
	c.closed = true
	close(c.queue)
	c.qmu.Unlock()
	c.wg.Wait()
}

// Push enqueues an item. When the queue is full or the worker has been
// stopped the item is dropped rather than stalling the foreground turn;
// correlation is best-effort.
func (c *Correlator) Push(item Item) bool {
	c.qmu.RLock()
	defer c.qmu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return false
	}
	c.pending.Add(1)
	select {
	case c.queue <- item:
		return true
	default:
		c.pending.Add(-1)
		c.dropped.Add(1)
		c.logger.Warn("correlator queue full, dropping item", zap.Bool("is_input", item.IsInput))
		return false
	}
}

// PushInput queues a user turn before generation.
func (c *Correlator) PushInput(text string, momentum float64) bool {
	return c.Push(Item{Text: text, IsInput: true, At: time.Now(), Momentum: momentum})
}

// PushOutput queues a model turn after generation.
func (c *Correlator) PushOutput(text string, momentum float64) bool {
	return c.Push(Item{Text: text, IsInput: false, At: time.Now(), Momentum: momentum})
}

// LastInput returns the most recent consumed user input.
func (c *Correlator) LastInput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInput
}

// Dropped reports items rejected by the bounded queue.
func (c *Correlator) Dropped() int64 { return c.dropped.Load() }

// Pending reports items queued but not yet consumed.
func (c *Correlator) Pending() int64 { return c.pending.Load() }

// Drain blocks until every queued item has been consumed. Test and
// shutdown helper.
func (c *Correlator) Drain() {
	for c.pending.Load() > 0 {
		time.Sleep(time.Millisecond)
	}
}

func (c *Correlator) run() {
	defer c.wg.Done()
	for item := range c.queue {
		c.process(item)

		// Maintenance runs only while the queue is idle so it never
		// delays a pending correlation.
		if len(c.queue) == 0 && c.opts.Maintenance != nil {
			c.opts.Maintenance()
		}
		c.pending.Add(-1)
	}
}

func (c *Correlator) process(item Item) {
	if item.IsInput {
		c.mu.Lock()
		c.lastInput = item.Text
		c.mu.Unlock()
		return
	}
	c.correlateOutput(item)
}

type ref struct {
	id       int64
	salience float64
}

// correlateOutput finds nodes the turn referenced on both sides and links
// them. Each (query, output) pair gets a Related edge weighted by momentum;
// an affirming output additionally boosts the referenced output nodes.
func (c *Correlator) correlateOutput(item Item) {
	c.mu.Lock()
	input := c.lastInput
	c.mu.Unlock()
	if input == "" || item.Text == "" {
		return
	}

	lowerInput := strings.ToLower(input)
	lowerOutput := strings.ToLower(item.Text)

	var queryRefs, outputRefs []ref
	c.store.ForEachStatus(graph.StatusActive, func(n graph.Node) bool {
		if len(n.Value) < minRefLen {
			return true
		}
		value := strings.ToLower(n.Value)
		if strings.Contains(lowerInput, value) {
			queryRefs = append(queryRefs, ref{n.ID, n.Salience})
		}
		if strings.Contains(lowerOutput, value) {
			outputRefs = append(outputRefs, ref{n.ID, n.Salience})
		}
		return true
	})

	queryRefs = topRefs(queryRefs, c.opts.RefCap)
	outputRefs = topRefs(outputRefs, c.opts.RefCap)

	weight := 0.5 + 0.5*item.Momentum
	edges := 0
	for _, q := range queryRefs {
		for _, o := range outputRefs {
			if q.id == o.id {
				continue
			}
			if _, err := c.store.CreateEdgeDedup(q.id, o.id, graph.EdgeRelated, weight); err != nil {
				c.logger.Debug("correlation edge rejected", zap.Error(err))
				continue
			}
			edges++
		}
	}

	if c.affirms(lowerOutput) {
		for _, o := range outputRefs {
			c.store.BoostSalience(o.id, 0.1)
		}
	}

	if edges > 0 {
		c.logger.Debug("output correlated",
			zap.Int("edges", edges),
			zap.Int("query_refs", len(queryRefs)),
			zap.Int("output_refs", len(outputRefs)))
	}
}

func (c *Correlator) affirms(lowerOutput string) bool {
	for _, marker := range c.opts.Affirmations {
		if strings.Contains(lowerOutput, marker) {
			return true
		}
	}
	return false
}

// topRefs keeps the highest-salience references, id-ordered on ties.
func topRefs(refs []ref, n int) []ref {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].salience != refs[j].salience {
			return refs[i].salience > refs[j].salience
		}
		return refs[i].id < refs[j].id
	})
	if len(refs) > n {
		refs = refs[:n]
	}
	return refs
}
