// Package config holds the engine configuration and the extraction pattern
// tables. Configuration comes from a YAML file with environment overrides
// for paths; pattern tables live in their own data file so the core stays
// parametric in them.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all synapse configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Engine   EngineConfig   `yaml:"engine"`
	Embedder EmbedderConfig `yaml:"embedder"`
	LLM      LLMConfig      `yaml:"llm"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type StorageConfig struct {
	// DataDir holds nodes.log, edges.log, index.snapshot and synapse.db.
	DataDir string `yaml:"data_dir"`
	// PatternsPath points at the YAML pattern tables; empty uses built-ins.
	PatternsPath string `yaml:"patterns_path"`
}

// EngineConfig carries the tunable thresholds of the memory core.
type EngineConfig struct {
	EmbedDim             int     `yaml:"embed_dim"`
	HotThreshold         float64 `yaml:"hot_threshold"`
	WarmThreshold        float64 `yaml:"warm_threshold"`
	DecayLambda          float64 `yaml:"decay_lambda"`
	EvictThreshold       float64 `yaml:"evict_threshold"`
	DupThreshold         float64 `yaml:"dup_threshold"`
	MergeThreshold       float64 `yaml:"merge_threshold"`
	TokenBudget          int     `yaml:"token_budget"`
	MaxNodesPerTurn      int     `yaml:"max_nodes_per_turn"`
	TunnelMaxHops        int     `yaml:"tunnel_max_hops"`
	CorrelatorQueueDepth int     `yaml:"correlator_queue_depth"`
	CorrelatorRefCap     int     `yaml:"correlator_ref_cap"`
	ConversationRingSize int     `yaml:"conversation_ring_size"`
	PinFloor             float64 `yaml:"pin_floor"`
	OverridePhrase       string  `yaml:"override_phrase"`
	MaxNodes             int     `yaml:"max_nodes"`
	PruneWeight          float64 `yaml:"prune_weight"`
	CausesThreshold      float64 `yaml:"causes_threshold"`
	PreventsThreshold    float64 `yaml:"prevents_threshold"`
	LSHSeed              int64   `yaml:"lsh_seed"`
}

type EmbedderConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"`
	// TimeoutMS is the soft embed timeout; past it retrieval degrades to
	// the non-semantic path for that query.
	TimeoutMS int `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Provider     string `yaml:"provider"` // "ollama", "anthropic", "" = disabled
	Model        string `yaml:"model"`
	OllamaURL    string `yaml:"ollama_url"`
	AnthropicKey string `yaml:"anthropic_key"`
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38300,
		},
		Storage: StorageConfig{
			DataDir: "", // resolved at runtime via DefaultDataDir()
		},
		Engine: EngineConfig{
			EmbedDim:             256,
			HotThreshold:         0.96,
			WarmThreshold:        0.50,
			DecayLambda:          0.35,
			EvictThreshold:       0.1,
			DupThreshold:         0.85,
			MergeThreshold:       0.90,
			TokenBudget:          600,
			MaxNodesPerTurn:      6,
			TunnelMaxHops:        5,
			CorrelatorQueueDepth: 64,
			CorrelatorRefCap:     5,
			ConversationRingSize: 8,
			PinFloor:             0.6,
			MaxNodes:             1 << 20,
			PruneWeight:          0.05,
			CausesThreshold:      0.55,
			PreventsThreshold:    0.60,
			LSHSeed:              1,
		},
		Embedder: EmbedderConfig{
			OllamaURL: "http://localhost:11434",
			Model:     "nomic-embed-text",
			TimeoutMS: 5000,
		},
		LLM: LLMConfig{
			Provider: "",
			Model:    "llama3.2",
		},
	}
}

// DefaultDataDir returns the default data directory: ~/.synapse
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".synapse"), nil
}

// Load reads a YAML config file over the defaults. A missing file returns
// the defaults. SYNAPSE_DATA_DIR and OLLAMA_URL override the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if dir := os.Getenv("SYNAPSE_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		cfg.Embedder.OllamaURL = url
		cfg.LLM.OllamaURL = url
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.AnthropicKey = key
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.EmbedDim <= 0 || c.Engine.EmbedDim > 3072 {
		return fmt.Errorf("embed_dim %d out of range (1..3072)", c.Engine.EmbedDim)
	}
	if c.Engine.DupThreshold > c.Engine.MergeThreshold {
		return fmt.Errorf("dup_threshold %.2f above merge_threshold %.2f", c.Engine.DupThreshold, c.Engine.MergeThreshold)
	}
	if c.Engine.TokenBudget <= 0 {
		return fmt.Errorf("token_budget must be positive")
	}
	if c.Engine.CorrelatorQueueDepth <= 0 {
		return fmt.Errorf("correlator_queue_depth must be positive")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
