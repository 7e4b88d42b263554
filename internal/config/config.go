// Package config loads the kernel's YAML configuration, following the
// nested-struct-per-concern shape used throughout the teacher repo.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the reference HTTP listener in cmd/rmkd.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GraphConfig selects and configures the C1 Graph Store Adapter backend.
type GraphConfig struct {
	Backend string `yaml:"backend"` // "memory" | "postgres"
	DSN     string `yaml:"dsn"`
}

// VectorConfig selects and configures the C2 Vector Index backend.
type VectorConfig struct {
	Backend    string `yaml:"backend"` // "memory" | "postgres" | "qdrant"
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"` // "cosine" | "l2" | "ip"
}

// IdentityConfig selects and configures the C3 Namespace & Identity backend.
type IdentityConfig struct {
	Backend         string `yaml:"backend"` // "memory" | "postgres"
	DSN             string `yaml:"dsn"`
	ShareTokenTTLHr int    `yaml:"share_token_ttl_hours"`
	OIDCIssuer      string `yaml:"oidc_issuer"`    // bearer-token verification only; no login flow
	OIDCClientID    string `yaml:"oidc_client_id"`
}

// PolicyConfig tunes the C4 Policy Engine decision cache.
type PolicyConfig struct {
	DecisionCacheSize int    `yaml:"decision_cache_size"`
	RedisAddr         string `yaml:"redis_addr"` // optional distributed cache
}

// ActivationConfig tunes the C5 Activation Engine decay model.
type ActivationConfig struct {
	DecayHalfLifeHours float64 `yaml:"decay_half_life_hours"`
	AccessBoostWeight  float64 `yaml:"access_boost_weight"`
	MinActivation      float64 `yaml:"min_activation"`
}

// ChunkerConfig tunes the C6 Chunker defaults.
type ChunkerConfig struct {
	ChunkSize       int    `yaml:"chunk_size"`
	Delimiters      string `yaml:"delimiters"`
	PrefixMode      bool   `yaml:"prefix_mode"`
	ForwardFallback bool   `yaml:"forward_fallback"`
}

// ExtractorConfig tunes the C7 Extractor tiered document mode.
type ExtractorConfig struct {
	Model             string `yaml:"model"`
	RepresentativeOne int    `yaml:"representative_sampling"` // 1-in-N
	MaxLLMCalls       int    `yaml:"max_llm_calls"`
}

// IngestionConfig tunes the C9 Ingestion Coordinator.
type IngestionConfig struct {
	MaxWorkers  int    `yaml:"max_workers"`
	QueueDepth  int    `yaml:"queue_depth"`
	KafkaBroker string `yaml:"kafka_broker"` // optional event emission
	KafkaTopic  string `yaml:"kafka_topic"`
	// VisionTreeBranching bounds the C12 Vision-Tree Indexer's k-means
	// fan-out for math-mode document jobs. 0 uses visiontree.DefaultBranching.
	VisionTreeBranching int `yaml:"vision_tree_branching"`
}

// ConsultConfig tunes the C10 Consultation Engine ranking.
type ConsultConfig struct {
	Alpha         float64 `yaml:"alpha"` // activation vs similarity weight
	SpreadGamma   float64 `yaml:"spread_gamma"`
	MaxHops       int     `yaml:"max_hops"`
	DefaultTopK   int     `yaml:"default_top_k"`
	QueryTimeoutM int     `yaml:"query_timeout_ms"`
}

// ReflectionConfig tunes the C11 background reflection loop.
type ReflectionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	SampleN  int           `yaml:"sample_n"`
}

// EmbeddingConfig describes the HTTP-based embedding endpoint.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	Path       string `yaml:"path"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	APIHeader  string `yaml:"api_header"`
	Dimensions int    `yaml:"dimensions"`
	Timeout    int    `yaml:"timeout_seconds"`
}

// LLMConfig selects the provider used for extraction/curation/reflection.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "anthropic" | "openai" | "google"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// TelemetryConfig mirrors the teacher's OTel toggles.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Config aggregates the full kernel configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Graph      GraphConfig      `yaml:"graph"`
	Vector     VectorConfig     `yaml:"vector"`
	Identity   IdentityConfig   `yaml:"identity"`
	Policy     PolicyConfig     `yaml:"policy"`
	Activation ActivationConfig `yaml:"activation"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Consult    ConsultConfig    `yaml:"consult"`
	Reflection ReflectionConfig `yaml:"reflection"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// LoadConfig reads and parses a YAML config file, applying defaults for any
// zero-valued fields that require one to run.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", filename, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", filename, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8089
		log.Warn().Int("port", cfg.Server.Port).Msg("server.port not set, using default")
	}
	if cfg.Graph.Backend == "" {
		cfg.Graph.Backend = "memory"
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = "cosine"
	}
	if cfg.Identity.Backend == "" {
		cfg.Identity.Backend = "memory"
	}
	if cfg.Identity.ShareTokenTTLHr == 0 {
		cfg.Identity.ShareTokenTTLHr = 168
	}
	if cfg.Policy.DecisionCacheSize == 0 {
		cfg.Policy.DecisionCacheSize = 256
	}
	if cfg.Activation.DecayHalfLifeHours == 0 {
		cfg.Activation.DecayHalfLifeHours = 72
	}
	if cfg.Activation.AccessBoostWeight == 0 {
		cfg.Activation.AccessBoostWeight = 0.1
	}
	if cfg.Activation.MinActivation == 0 {
		cfg.Activation.MinActivation = 0.05
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 2048
	}
	if cfg.Chunker.Delimiters == "" {
		cfg.Chunker.Delimiters = "\n.?!"
	}
	if cfg.Extractor.RepresentativeOne == 0 {
		cfg.Extractor.RepresentativeOne = 5
	}
	if cfg.Extractor.MaxLLMCalls == 0 {
		cfg.Extractor.MaxLLMCalls = 10
	}
	if cfg.Ingestion.MaxWorkers == 0 {
		cfg.Ingestion.MaxWorkers = 4
		log.Warn().Int("max_workers", cfg.Ingestion.MaxWorkers).Msg("ingestion.max_workers not set, using default")
	}
	if cfg.Ingestion.QueueDepth == 0 {
		cfg.Ingestion.QueueDepth = 1024
	}
	if cfg.Consult.Alpha == 0 {
		cfg.Consult.Alpha = 0.7
	}
	if cfg.Consult.SpreadGamma == 0 {
		cfg.Consult.SpreadGamma = 0.5
	}
	if cfg.Consult.MaxHops == 0 {
		cfg.Consult.MaxHops = 2
	}
	if cfg.Consult.DefaultTopK == 0 {
		cfg.Consult.DefaultTopK = 10
	}
	if cfg.Consult.QueryTimeoutM == 0 {
		cfg.Consult.QueryTimeoutM = 2000
	}
	if cfg.Reflection.Interval == 0 {
		cfg.Reflection.Interval = 10 * time.Minute
	}
	if cfg.Reflection.SampleN == 0 {
		cfg.Reflection.SampleN = 20
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "singularity-rmk"
		log.Warn().Str("service_name", cfg.Telemetry.ServiceName).Msg("telemetry.service_name not set, using default")
	}
}
