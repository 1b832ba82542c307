package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExtractionPattern matches a statement prefix to an entity label and an
// importance rank in 1..4.
type ExtractionPattern struct {
	Prefix     string `yaml:"prefix"`
	Label      string `yaml:"label"`
	ConceptKey string `yaml:"concept_key"`
	Importance int    `yaml:"importance"`
}

// CausalAnchors are exemplar sentences whose embeddings classify new input.
type CausalAnchors struct {
	Causes   []string `yaml:"causes"`
	Prevents []string `yaml:"prevents"`
}

// Patterns holds every phrase table the core consumes. The engine is
// parametric in these; built-in defaults cover English.
type Patterns struct {
	Extraction     []ExtractionPattern `yaml:"extraction"`
	Anchors        CausalAnchors       `yaml:"causal_anchors"`
	CausalMarkers  []string            `yaml:"causal_markers"`
	Interrogatives []string            `yaml:"interrogatives"`
	Domains        map[string][]string `yaml:"domains"`
	Negations      []string            `yaml:"negations"`
	Affirmations   []string            `yaml:"affirmations"`
	Categories     map[string][]string `yaml:"categories"`
	RawMemoryLabel string              `yaml:"raw_memory_label"`
}

// DefaultPatterns returns the built-in English phrase tables.
func DefaultPatterns() *Patterns {
	return &Patterns{
		Extraction: []ExtractionPattern{
			{Prefix: "my name is", Label: "user_name", ConceptKey: "user.name", Importance: 4},
			{Prefix: "actually my name is", Label: "user_name", ConceptKey: "user.name", Importance: 4},
			{Prefix: "call me", Label: "user_name", ConceptKey: "user.name", Importance: 4},
			{Prefix: "i am called", Label: "user_name", ConceptKey: "user.name", Importance: 4},
			{Prefix: "my car is", Label: "user_car", ConceptKey: "user.car", Importance: 3},
			{Prefix: "i drive", Label: "user_car", ConceptKey: "user.car", Importance: 3},
			{Prefix: "i love", Label: "user_preference", Importance: 3},
			{Prefix: "i really enjoy", Label: "user_preference", Importance: 3},
			{Prefix: "i enjoy", Label: "user_preference", Importance: 3},
			{Prefix: "i like", Label: "user_preference", Importance: 3},
			{Prefix: "i hate", Label: "user_dislike", Importance: 3},
			{Prefix: "i prefer", Label: "user_preference", Importance: 3},
			{Prefix: "my favorite", Label: "user_preference", Importance: 3},
			{Prefix: "i work on", Label: "user_project", Importance: 2},
			{Prefix: "i am working on", Label: "user_project", Importance: 2},
			{Prefix: "my project is", Label: "user_project", Importance: 2},
			{Prefix: "i am building", Label: "user_project", Importance: 2},
			{Prefix: "i live in", Label: "user_location", ConceptKey: "user.location", Importance: 1},
			{Prefix: "i am from", Label: "user_location", ConceptKey: "user.location", Importance: 1},
			{Prefix: "i moved to", Label: "user_location", ConceptKey: "user.location", Importance: 1},
		},
		Anchors: CausalAnchors{
			Causes: []string{
				"one thing causes another thing to happen",
				"the event triggers the outcome",
				"the sun wakes the giant",
				"this leads to that result",
				"the spark ignites the fire",
				"the action produces the effect",
			},
			Prevents: []string{
				"one thing prevents another from happening",
				"the guard stops the intruder before harm",
				"the hero slayed the monster before it could attack",
				"this blocks that outcome",
				"the vaccine protects against the disease",
				"the action averts the disaster",
			},
		},
		CausalMarkers: []string{
			"causes", "caused", "wakes", "woke", "makes", "made", "triggers",
			"triggered", "leads to", "led to", "produces", "ignites", "eats",
			"ate", "burns", "burned", "creates", "created", "prevents",
			"prevented", "stops", "stopped", "blocks", "blocked", "slayed",
			"slew", "killed", "averts", "averted", "protects",
		},
		Interrogatives: []string{
			"what", "who", "where", "when", "why", "how", "which", "whose",
			"is", "are", "was", "were", "do", "does", "did", "can", "could",
			"will", "would", "should",
		},
		Domains: map[string][]string{
			"identity":    {"name", "called", "age", "birthday", "i am"},
			"possessions": {"car", "house", "own", "bought", "drive", "bike", "phone"},
			"preferences": {"love", "like", "enjoy", "hate", "prefer", "favorite", "hobby"},
			"work":        {"project", "job", "work", "deadline", "meeting", "team", "code"},
			"temporal":    {"yesterday", "tomorrow", "today", "week", "month", "schedule"},
			"credentials": {"password", "token", "secret", "api key", "credential", "passphrase"},
		},
		Negations: []string{
			"not", "never", "no longer", "isn't", "isnt", "aren't", "wasn't",
			"don't", "dont", "doesn't", "doesnt", "didn't", "won't", "cannot",
			"can't",
		},
		Affirmations: []string{"yes,", "correct", "exactly", "right,"},
		Categories: map[string][]string{
			"vehicle_brand": {
				"tesla", "toyota", "honda", "ford", "bmw", "audi", "subaru",
				"volvo", "mazda", "kia", "hyundai", "jeep", "chevrolet",
			},
			"os": {"linux", "macos", "windows", "freebsd"},
		},
		RawMemoryLabel: "raw_memory",
	}
}

// LoadPatterns reads pattern tables from a YAML file. Missing sections fall
// back to the built-in defaults, so a data file can override just one table.
func LoadPatterns(path string) (*Patterns, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns: %w", err)
	}

	p := &Patterns{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse patterns: %w", err)
	}

	def := DefaultPatterns()
	if len(p.Extraction) == 0 {
		p.Extraction = def.Extraction
	}
	if len(p.Anchors.Causes) == 0 {
		p.Anchors.Causes = def.Anchors.Causes
	}
	if len(p.Anchors.Prevents) == 0 {
		p.Anchors.Prevents = def.Anchors.Prevents
	}
	if len(p.CausalMarkers) == 0 {
		p.CausalMarkers = def.CausalMarkers
	}
	if len(p.Interrogatives) == 0 {
		p.Interrogatives = def.Interrogatives
	}
	if len(p.Domains) == 0 {
		p.Domains = def.Domains
	}
	if len(p.Negations) == 0 {
		p.Negations = def.Negations
	}
	if len(p.Affirmations) == 0 {
		p.Affirmations = def.Affirmations
	}
	if len(p.Categories) == 0 {
		p.Categories = def.Categories
	}
	if p.RawMemoryLabel == "" {
		p.RawMemoryLabel = def.RawMemoryLabel
	}
	return p, nil
}
