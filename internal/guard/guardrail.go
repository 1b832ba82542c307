// Package guard checks generated output against high-salience user facts
// before it reaches the caller. A contradiction prepends a bracketed
// warning; a configured override phrase downgrades the warning but the
// event is still recorded.
package guard

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/graph"
)

// Only user-sourced facts at or above this salience participate.
const minSalience = 0.7

// negationWindow is how close (in characters) a negation must sit to a
// referenced token to count as a contradiction.
const negationWindow = 50

// Kind of conflict detected.
const (
	KindNegation     = "negation"
	KindSubstitution = "substitution"
)

// Event records one detected conflict for the audit trail.
type Event struct {
	NodeID      int64
	Label       string
	StoredValue string
	Excerpt     string
	Kind        string
	Overridden  bool
	At          time.Time
}

// Guardrail screens output text against the graph.
type Guardrail struct {
	store          *graph.Store
	negations      []string
	categories     map[string][]string
	overridePhrase string
	now            func() time.Time
	onEvent        func(Event)
	logger         *zap.Logger
}

// New creates a guardrail. negations and categories come from the pattern
// tables; overridePhrase may be empty to disable overrides.
func New(store *graph.Store, negations []string, categories map[string][]string, overridePhrase string, logger *zap.Logger) *Guardrail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guardrail{
		store:          store,
		negations:      negations,
		categories:     categories,
		overridePhrase: overridePhrase,
		now:            time.Now,
		logger:         logger,
	}
}

// SetEventSink installs the audit callback, invoked once per conflict.
func (g *Guardrail) SetEventSink(fn func(Event)) { g.onEvent = fn }

// SetNow overrides the clock, for tests.
func (g *Guardrail) SetNow(fn func() time.Time) { g.now = fn }

// Check screens the output and returns it, possibly with a prepended
// warning, together with the conflicts found.
func (g *Guardrail) Check(output string) (string, []Event) {
	if strings.TrimSpace(output) == "" {
		return output, nil
	}
	lowerOutput := strings.ToLower(output)
	overridden := g.overridePhrase != "" &&
		strings.Contains(lowerOutput, strings.ToLower(g.overridePhrase))

	var events []Event
	g.store.ForEachStatus(graph.StatusActive, func(n graph.Node) bool {
		if n.Source != graph.SourceUser || n.Salience < minSalience || n.Value == "" {
			return true
		}
		if kind, excerpt := g.conflict(n, output, lowerOutput); kind != "" {
			events = append(events, Event{
				NodeID:      n.ID,
				Label:       n.Label,
				StoredValue: n.Value,
				Excerpt:     excerpt,
				Kind:        kind,
				Overridden:  overridden,
				At:          g.now(),
			})
		}
		return true
	})

	if len(events) == 0 {
		return output, nil
	}
	for _, ev := range events {
		if g.onEvent != nil {
			g.onEvent(ev)
		}
		g.logger.Info("guardrail conflict",
			zap.Int64("node_id", ev.NodeID),
			zap.String("kind", ev.Kind),
			zap.Bool("overridden", ev.Overridden))
	}

	if overridden {
		return "[override accepted]\n" + output, events
	}
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "[conflict: remembered %s = %q]\n", ev.Label, ev.StoredValue)
	}
	b.WriteString(output)
	return b.String(), events
}

// conflict checks one node against the output. Negation is checked first;
// a categorical value substitution is the fallback.
func (g *Guardrail) conflict(n graph.Node, output, lowerOutput string) (string, string) {
	for _, token := range referenceTokens(n.Value) {
		if excerpt, ok := g.negatedNear(lowerOutput, strings.ToLower(token)); ok {
			return KindNegation, excerpt
		}
	}
	if excerpt, ok := g.substituted(strings.ToLower(n.Value), lowerOutput); ok {
		return KindSubstitution, excerpt
	}
	return "", ""
}

// negatedNear reports whether the token occurs in the output within the
// window of a negation pattern.
func (g *Guardrail) negatedNear(lowerOutput, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	from := 0
	for {
		i := strings.Index(lowerOutput[from:], token)
		if i < 0 {
			return "", false
		}
		i += from

		lo := i - negationWindow
		if lo < 0 {
			lo = 0
		}
		hi := i + len(token) + negationWindow
		if hi > len(lowerOutput) {
			hi = len(lowerOutput)
		}
		window := lowerOutput[lo:hi]
		for _, neg := range g.negations {
			if strings.Contains(window, neg) {
				return window, true
			}
		}
		from = i + len(token)
	}
}

// substituted reports whether the output names a different member of a
// category the stored value belongs to.
func (g *Guardrail) substituted(lowerValue, lowerOutput string) (string, bool) {
	for _, members := range g.categories {
		stored := ""
		for _, m := range members {
			if strings.Contains(lowerValue, m) {
				stored = m
				break
			}
		}
		if stored == "" {
			continue
		}
		for _, m := range members {
			if m == stored {
				continue
			}
			if strings.Contains(lowerOutput, m) {
				return m, true
			}
		}
	}
	return "", false
}

// referenceTokens extracts the capitalized and double-quoted tokens of a
// stored value. These are the entity names worth scanning the output for.
func referenceTokens(value string) []string {
	var tokens []string
	seen := map[string]bool{}

	add := func(tok string) {
		tok = strings.Trim(tok, ".,!?;:'\"")
		if len(tok) > 1 && !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	for _, f := range strings.Fields(value) {
		r := []rune(strings.Trim(f, ".,!?;:'\""))
		if len(r) > 0 && unicode.IsUpper(r[0]) {
			add(f)
		}
	}

	// Quoted spans count whole.
	for rest := value; ; {
		start := strings.IndexByte(rest, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start+1:], '"')
		if end < 0 {
			break
		}
		add(rest[start+1 : start+1+end])
		rest = rest[start+1+end+1:]
	}
	return tokens
}
