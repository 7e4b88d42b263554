// Package kernel wires the twelve memory components together into a single
// process-lifetime service, grounded on the teacher's persistence/databases
// factory (backend selection from config) and its service-locator style
// main.go wiring, generalized here into an explicit constructor rather than
// a package-level singleton.
package kernel

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"singularity-rmk/internal/activation"
	"singularity-rmk/internal/chunker"
	"singularity-rmk/internal/config"
	"singularity-rmk/internal/consult"
	"singularity-rmk/internal/curator"
	"singularity-rmk/internal/embedding"
	"singularity-rmk/internal/extractor"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/identity"
	"singularity-rmk/internal/ingest"
	"singularity-rmk/internal/llm"
	"singularity-rmk/internal/policy"
	"singularity-rmk/internal/reflection"
	"singularity-rmk/internal/vectorindex"
)

// Kernel is the assembled reflective memory kernel: every component plus
// the ambient plumbing (config, LLM provider, embedder) it was built from.
type Kernel struct {
	Config *config.Config

	Graph      graph.Store
	Vector     vectorindex.Index
	Identity   identity.Registry
	Principals *identity.PrincipalDecoder
	Policy     *policy.Engine
	Audit      *policy.MemoryAudit
	Activation *activation.Engine
	Extractor  *extractor.Extractor
	Curator    *curator.Curator
	Ingest     *ingest.Coordinator
	Consult    *consult.Engine
	Reflection *reflection.Loop

	ChunkerCfg chunker.Config

	pgPool *pgxpool.Pool
	emitter *ingest.KafkaEmitter
}

// New builds every component per cfg, selecting backends the way the
// teacher's persistence factory does (a string switch per store, shared
// pgxpool.Pool reused across Graph/Vector/Identity when all three point at
// Postgres).
func New(ctx context.Context, cfg *config.Config) (*Kernel, error) {
	k := &Kernel{Config: cfg}

	graphStore, err := newGraphStore(ctx, k, cfg.Graph)
	if err != nil {
		return nil, fmt.Errorf("kernel: graph store: %w", err)
	}
	k.Graph = graphStore

	vecIndex, err := newVectorIndex(ctx, k, cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("kernel: vector index: %w", err)
	}
	k.Vector = vecIndex

	identityRegistry, err := newIdentityRegistry(ctx, k, cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("kernel: identity registry: %w", err)
	}
	k.Identity = identityRegistry

	if cfg.Identity.OIDCIssuer != "" {
		decoder, err := identity.NewPrincipalDecoder(ctx, cfg.Identity.OIDCIssuer, cfg.Identity.OIDCClientID)
		if err != nil {
			log.Warn().Err(err).Msg("kernel: oidc principal decoder unavailable, requests will decode as anonymous")
		} else {
			k.Principals = decoder
		}
	}

	polStore := policy.NewMemoryStore()
	k.Audit = policy.NewMemoryAudit()
	k.Policy = policy.NewEngine(polStore, k.Audit)
	if cfg.Policy.RedisAddr != "" {
		k.Policy = k.Policy.WithDistributedCache(policy.NewRedisCache(cfg.Policy.RedisAddr, "rmk:policy:", time.Hour))
	}

	k.Activation = activation.NewEngine(k.Graph,
		activation.WithDailyRate(activationDailyRate(cfg.Activation)),
	)

	embedder := embedding.NewHTTPEmbedder(cfg.Embedding)

	provider, err := llm.NewProviderFromConfig(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("kernel: llm provider: %w", err)
	}

	k.Extractor = extractor.New(provider, cfg.Extractor.Model,
		extractor.WithRepresentativeSampling(cfg.Extractor.RepresentativeOne),
		extractor.WithMaxLLMCalls(cfg.Extractor.MaxLLMCalls),
	)
	k.Curator = curator.New(k.Graph, k.Vector, embedder, provider, cfg.LLM.Model)

	k.ChunkerCfg = chunker.Config{
		ChunkSize:       cfg.Chunker.ChunkSize,
		Delimiters:      chunker.DelimitersFromString(cfg.Chunker.Delimiters),
		PrefixMode:      cfg.Chunker.PrefixMode,
		ForwardFallback: cfg.Chunker.ForwardFallback,
	}

	var emitter ingest.EventEmitter
	if cfg.Ingestion.KafkaBroker != "" {
		kafkaEmitter := ingest.NewKafkaEmitter(cfg.Ingestion.KafkaBroker, cfg.Ingestion.KafkaTopic)
		k.emitter = kafkaEmitter
		emitter = kafkaEmitter
	}

	k.Ingest = ingest.New(ingest.Deps{
		Extractor:  k.Extractor,
		Curator:    k.Curator,
		Activation: k.Activation,
		ChunkCfg:   k.ChunkerCfg,
		Events:     emitter,
		QueueDepth: cfg.Ingestion.QueueDepth,
		Workers:    cfg.Ingestion.MaxWorkers,
		Store:      k.Graph,
		Index:      k.Vector,
		Embedder:   embedder,
		Branching:  cfg.Ingestion.VisionTreeBranching,
	})

	k.Consult = consult.New(k.Graph, k.Vector, embedder, k.Policy, k.Activation, provider, cfg.LLM.Model,
		consult.WithAlpha(cfg.Consult.Alpha),
		consult.WithGamma(cfg.Consult.SpreadGamma),
		consult.WithDepth(cfg.Consult.MaxHops),
	)

	if cfg.Reflection.Enabled {
		k.Reflection = reflection.New(k.Graph, k.Activation, provider, cfg.LLM.Model, k.activeNamespaces,
			reflection.WithDecayInterval(cfg.Reflection.Interval),
			reflection.WithSampleN(cfg.Reflection.SampleN),
		)
	}

	return k, nil
}

// Run starts the background reflection loop, if configured, and blocks
// until ctx is cancelled. Ingestion and consultation need no Run call: the
// Coordinator's workers start in ingest.New and Consult.Consult is called
// per-request.
func (k *Kernel) Run(ctx context.Context) {
	if k.Reflection == nil {
		<-ctx.Done()
		return
	}
	k.Reflection.Run(ctx)
}

// DecodePrincipal extracts the caller's Principal from r's bearer token,
// falling back to identity.Anonymous() when no OIDC issuer is configured or
// the request carries no valid token.
func (k *Kernel) DecodePrincipal(r *http.Request) identity.Principal {
	return k.Principals.DecodeRequest(r)
}

// Close releases pooled connections and background goroutines.
func (k *Kernel) Close() {
	k.Ingest.Stop()
	if k.emitter != nil {
		if err := k.emitter.Close(); err != nil {
			log.Warn().Err(err).Msg("kernel: failed to close kafka emitter")
		}
	}
	if k.pgPool != nil {
		k.pgPool.Close()
	}
}

// activeNamespaces feeds the Reflection Loop the set of namespaces to
// decay/probe each tick. The identity registry is the source of truth for
// which namespaces exist; a store-level listing is deliberately avoided so
// reflection never walks namespaces that have no registered owner.
func (k *Kernel) activeNamespaces() []string {
	namespaces, err := k.Identity.ListNamespaces(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("kernel: failed to list namespaces for reflection")
		return nil
	}
	return namespaces
}

func activationDailyRate(cfg config.ActivationConfig) float64 {
	if cfg.DecayHalfLifeHours <= 0 {
		return 0
	}
	// half-life H implies a daily decay fraction of 1 - 0.5^(24/H).
	return 1 - math.Pow(0.5, 24.0/cfg.DecayHalfLifeHours)
}

func newGraphStore(ctx context.Context, k *Kernel, cfg config.GraphConfig) (graph.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return graph.NewMemoryStore(), nil
	case "postgres":
		pool, err := k.sharedPgPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return graph.NewPostgresStore(ctx, pool)
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Backend)
	}
}

func newVectorIndex(ctx context.Context, k *Kernel, cfg config.VectorConfig) (vectorindex.Index, error) {
	switch cfg.Backend {
	case "", "memory":
		return vectorindex.NewMemoryIndex(cfg.Dimensions), nil
	case "postgres":
		pool, err := k.sharedPgPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return vectorindex.NewPgvectorIndex(ctx, pool, cfg.Dimensions, cfg.Metric)
	case "qdrant":
		return vectorindex.NewQdrantIndex(cfg.DSN, cfg.Collection, cfg.Dimensions, cfg.Metric)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

func newIdentityRegistry(ctx context.Context, k *Kernel, cfg config.IdentityConfig) (identity.Registry, error) {
	switch cfg.Backend {
	case "", "memory":
		return identity.NewMemoryRegistry(k.Graph), nil
	case "postgres":
		pool, err := k.sharedPgPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return identity.NewPostgresRegistry(ctx, k.Graph, pool)
	default:
		return nil, fmt.Errorf("unknown identity backend %q", cfg.Backend)
	}
}

// sharedPgPool opens one pool on first use and returns it to every later
// Graph/Vector/Identity caller, matching the teacher's persistence factory's
// pooling. A later caller's DSN is not compared, so every Postgres-backed
// component uses the first DSN.
func (k *Kernel) sharedPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if k.pgPool != nil {
		return k.pgPool, nil
	}
	pgCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pgCfg.MaxConns = 8
	pgCfg.MinConns = 0
	pgCfg.MaxConnLifetime = time.Hour
	pgCfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	k.pgPool = pool
	return pool, nil
}
