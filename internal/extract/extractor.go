// Package extract turns raw statements into candidate facts. Two strategies
// run and union: template matching against the configured prefix patterns,
// and (when a client is available) a model-assisted structured completion.
package extract

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/config"
	"github.com/quillmem/synapse/internal/llm"
)

// maxFactsPerStatement caps the union of both strategies.
const maxFactsPerStatement = 8

// Fact is one candidate (entity, value, importance) tuple.
type Fact struct {
	Label      string
	Value      string
	ConceptKey string
	Importance int // 1..4
	Confidence float64
	FromModel  bool
}

// Extractor extracts facts from statements.
type Extractor struct {
	patterns func() *config.Patterns
	client   llm.Client
	logger   *zap.Logger
}

// New creates an Extractor. patterns is called per statement so live
// pattern reloads take effect; client may be nil.
func New(patterns func() *config.Patterns, client llm.Client, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{patterns: patterns, client: client, logger: logger}
}

// IsQuestion reports whether the statement is interrogative. Questions may
// seed retrieval but never create identity nodes.
func (e *Extractor) IsQuestion(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if strings.HasSuffix(t, "?") {
		return true
	}
	first := strings.ToLower(firstWord(t))
	for _, w := range e.patterns().Interrogatives {
		if first == w {
			return true
		}
	}
	return false
}

// Extract runs both strategies and unions the results. Questions
// short-circuit to nil.
func (e *Extractor) Extract(ctx context.Context, text string) []Fact {
	if e.IsQuestion(text) {
		return nil
	}

	facts := e.templateMatch(text)

	if e.client != nil {
		modelFacts, err := e.modelAssisted(ctx, text)
		if err != nil {
			e.logger.Debug("model-assisted extraction failed", zap.Error(err))
		} else {
			facts = append(facts, modelFacts...)
		}
	}

	facts = dedupFacts(facts)
	if len(facts) > maxFactsPerStatement {
		facts = facts[:maxFactsPerStatement]
	}
	return facts
}

// templateMatch applies the prefix patterns to each sentence.
func (e *Extractor) templateMatch(text string) []Fact {
	p := e.patterns()
	var facts []Fact

	for _, sentence := range SplitSentences(text) {
		lower := strings.ToLower(sentence)
		for _, pat := range p.Extraction {
			if !strings.HasPrefix(lower, pat.Prefix) {
				continue
			}
			value := sentence[len(pat.Prefix):]
			value = cutAtBreak(value)
			value = strings.Trim(value, " .,!")
			if len(value) < 2 {
				continue
			}
			facts = append(facts, Fact{
				Label:      pat.Label,
				Value:      value,
				ConceptKey: pat.ConceptKey,
				Importance: clampImportance(pat.Importance),
				Confidence: confidence(pat.Importance),
			})
			break // first matching pattern per sentence wins
		}
	}
	return facts
}

// modelAssisted issues a structured completion and parses
// ENTITY|VALUE|IMPORTANCE lines.
func (e *Extractor) modelAssisted(ctx context.Context, text string) ([]Fact, error) {
	resp, err := e.client.Complete(ctx, llm.FactExtractionPrompt(text))
	if err != nil {
		return nil, err
	}

	p := e.patterns()
	var facts []Fact
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "NONE") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			continue
		}
		label := sanitizeLabel(parts[0])
		value := strings.TrimSpace(parts[1])
		if label == "" || len(value) < 2 {
			continue
		}
		imp := clampImportance(parseImportance(parts[2]))
		facts = append(facts, Fact{
			Label:      label,
			Value:      value,
			ConceptKey: keyForLabel(p, label),
			Importance: imp,
			Confidence: confidence(imp),
			FromModel:  true,
		})
	}
	return facts, nil
}

func confidence(importance int) float64 {
	return 0.7 + 0.075*float64(clampImportance(importance))
}

func clampImportance(v int) int {
	if v < 1 {
		return 1
	}
	if v > 4 {
		return 4
	}
	return v
}

func parseImportance(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// keyForLabel maps a model-produced label onto a template concept key when
// one exists, so model facts join the same version chains.
func keyForLabel(p *config.Patterns, label string) string {
	for _, pat := range p.Extraction {
		if pat.Label == label && pat.ConceptKey != "" {
			return pat.ConceptKey
		}
	}
	return ""
}

// sanitizeLabel normalizes a label to snake_case [a-z0-9_].
func sanitizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// dedupFacts removes repeated (label, lowercased value) pairs, keeping the
// first occurrence. The store's dedup index handles semantic overlap.
func dedupFacts(facts []Fact) []Fact {
	seen := make(map[string]bool, len(facts))
	out := facts[:0]
	for _, f := range facts {
		k := f.Label + "|" + strings.ToLower(f.Value)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

// SplitSentences splits text on sentence boundaries (. ! ? and newlines),
// keeping each sentence trimmed.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// cutAtBreak truncates a value at the first conjunction break.
func cutAtBreak(s string) string {
	for _, sep := range []string{", and ", ", but "} {
		if i := strings.Index(strings.ToLower(s), sep); i >= 0 {
			s = s[:i]
		}
	}
	return s
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' {
			return s[:i]
		}
	}
	return s
}
