// Package ingest implements the Ingestion Coordinator (C9): the state
// machine and bounded job queue driving a single turn/document through
// chunking, extraction, curation, and indexing, grounded on the teacher's
// internal/rag/ingest request/response/idempotency shapes.
package ingest

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"singularity-rmk/internal/activation"
	"singularity-rmk/internal/chunker"
	"singularity-rmk/internal/curator"
	"singularity-rmk/internal/embedding"
	"singularity-rmk/internal/extractor"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/rmkerrors"
	"singularity-rmk/internal/vectorindex"
	"singularity-rmk/internal/visiontree"
)

// State is a job's position in the ingestion state machine.
type State string

const (
	StateNew       State = "NEW"
	StateChunked   State = "CHUNKED"
	StateExtracted State = "EXTRACTED"
	StateCurated   State = "CURATED"
	StateIndexed   State = "INDEXED"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// JobKind distinguishes the three ingestion entry points.
type JobKind string

const (
	KindConversationTurn JobKind = "ConversationTurn"
	KindDocumentText     JobKind = "DocumentText"
	KindDocumentBlob     JobKind = "DocumentBlob"
)

// Job describes one ingestion request.
type Job struct {
	Kind          JobKind
	Namespace     string
	UserText      string
	AssistantText string
	DocumentText  string
	DocumentBlob  []byte
	DocumentName  string
	// MathMode routes a document job through the Vision-Tree Indexer
	// (C12) in addition to ordinary entity extraction: chunk embeddings
	// are k-means clustered into a hierarchy and materialized as
	// Document/Chunk nodes plus vector-index entries. Conversation turns
	// ignore this flag.
	MathMode bool

	result chan Stats
}

// Stats is returned to the caller once a job reaches DONE or FAILED.
type Stats struct {
	State           State
	ChunksProcessed int
	ChunksFailed    int
	DraftsExtracted int
	NodesCreated    int
	NodesMerged     int
	EntityStats     extractor.DocumentStats
	Err             error
}

// EventEmitter is the optional event sink (kafka-go in production) fired on
// every state transition. Nil disables emission.
type EventEmitter interface {
	Emit(ctx context.Context, namespace string, job JobKind, state State)
}

// Coordinator runs the ingestion pipeline over a bounded job queue.
type Coordinator struct {
	extractor *extractor.Extractor
	curator   *curator.Curator
	activ     *activation.Engine
	chunkCfg  chunker.Config
	events    EventEmitter

	// store, index, and embedder back the Vision-Tree Indexer (C12) math
	// mode path only; the Curator owns its own copies for the ordinary
	// CURATED→INDEXED transition.
	store     graph.Store
	index     vectorindex.Index
	embedder  embedding.Embedder
	branching int

	queue chan *Job

	nsMu   sync.Mutex
	nsLock map[string]*sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Deps bundles the collaborators a Coordinator is built over.
type Deps struct {
	Extractor  *extractor.Extractor
	Curator    *curator.Curator
	Activation *activation.Engine
	ChunkCfg   chunker.Config
	Events     EventEmitter
	QueueDepth int
	Workers    int

	// Store, Index, Embedder, and Branching configure the Vision-Tree
	// Indexer's math-mode path (internal/visiontree). Leaving Store or
	// Index nil disables math mode even if a job requests it.
	Store     graph.Store
	Index     vectorindex.Index
	Embedder  embedding.Embedder
	Branching int
}

// New builds a Coordinator and starts its worker pool. Call Stop to drain.
func New(deps Deps) *Coordinator {
	if deps.QueueDepth <= 0 {
		deps.QueueDepth = 1024
	}
	if deps.Workers <= 0 {
		deps.Workers = 4
	}
	if deps.Branching <= 0 {
		deps.Branching = visiontree.DefaultBranching
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		extractor: deps.Extractor,
		curator:   deps.Curator,
		activ:     deps.Activation,
		chunkCfg:  deps.ChunkCfg,
		events:    deps.Events,
		store:     deps.Store,
		index:     deps.Index,
		embedder:  deps.Embedder,
		branching: deps.Branching,
		queue:     make(chan *Job, deps.QueueDepth),
		nsLock:    make(map[string]*sync.Mutex),
		cancel:    cancel,
	}
	for i := 0; i < deps.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	return c
}

// Stop cancels outstanding workers and waits for them to exit.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Submit enqueues job and blocks until it completes, returning its final
// Stats. Returns Overloaded immediately if the queue is full.
func (c *Coordinator) Submit(ctx context.Context, job *Job) (Stats, error) {
	job.result = make(chan Stats, 1)
	select {
	case c.queue <- job:
	default:
		return Stats{}, rmkerrors.New(rmkerrors.Overloaded, "ingestion queue full")
	}
	select {
	case st := <-job.result:
		return st, st.Err
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.queue:
			st := c.run(ctx, job)
			job.result <- st
		}
	}
}

// namespaceLock returns the per-namespace mutex used to serialize the
// EXTRACTED→CURATED→INDEXED transitions, per the kernel's dedup invariant.
func (c *Coordinator) namespaceLock(namespace string) *sync.Mutex {
	c.nsMu.Lock()
	defer c.nsMu.Unlock()
	m, ok := c.nsLock[namespace]
	if !ok {
		m = &sync.Mutex{}
		c.nsLock[namespace] = m
	}
	return m
}

func (c *Coordinator) emit(ctx context.Context, job *Job, state State) {
	if c.events != nil {
		c.events.Emit(ctx, job.Namespace, job.Kind, state)
	}
}

func (c *Coordinator) run(ctx context.Context, job *Job) Stats {
	state := StateNew
	stats := Stats{State: state}

	chunks := c.chunkJob(job)
	state = StateChunked
	c.emit(ctx, job, state)
	stats.State = state
	if len(chunks) == 0 {
		stats.State = StateDone
		c.emit(ctx, job, StateDone)
		return stats
	}

	drafts, docStats, failures := c.extractChunks(ctx, job, chunks)
	stats.EntityStats = docStats
	stats.ChunksFailed = failures
	stats.DraftsExtracted = len(drafts)
	if failures == len(chunks) {
		stats.State = StateFailed
		stats.Err = rmkerrors.New(rmkerrors.Internal, "all chunks failed extraction")
		c.emit(ctx, job, StateFailed)
		return stats
	}
	state = StateExtracted
	c.emit(ctx, job, state)

	lock := c.namespaceLock(job.Namespace)
	lock.Lock()
	created, merged, err := c.curateDrafts(ctx, job.Namespace, drafts)
	lock.Unlock()
	if err != nil {
		stats.State = StateFailed
		stats.Err = err
		c.emit(ctx, job, StateFailed)
		return stats
	}
	stats.NodesCreated = created
	stats.NodesMerged = merged
	state = StateCurated
	c.emit(ctx, job, state)

	if job.MathMode && job.Kind != KindConversationTurn {
		if err := c.buildVisionTree(ctx, job, chunks); err != nil {
			log.Warn().Err(err).Str("namespace", job.Namespace).Msg("ingest: vision-tree indexing failed, entity extraction already committed")
		}
	}

	state = StateIndexed
	c.emit(ctx, job, state)

	stats.State = StateDone
	stats.ChunksProcessed = len(chunks) - failures
	c.emit(ctx, job, StateDone)
	return stats
}

// documentText resolves a document job's text regardless of whether it
// arrived as DocumentText or a DocumentBlob of already-extracted text bytes
// (PDF/image/OCR parsing is a producer-side concern per spec §Non-goals; the
// kernel only ever sees text).
func documentText(job *Job) string {
	if job.DocumentText != "" {
		return job.DocumentText
	}
	return string(job.DocumentBlob)
}

func (c *Coordinator) chunkJob(job *Job) []string {
	switch job.Kind {
	case KindConversationTurn:
		if job.UserText == "" && job.AssistantText == "" {
			return nil
		}
		return []string{job.UserText + "\n" + job.AssistantText}
	default:
		text := documentText(job)
		if text == "" {
			return nil
		}
		pieces := chunker.Split(text, c.chunkCfg)
		out := make([]string, len(pieces))
		for i, p := range pieces {
			out[i] = p.Text
		}
		return out
	}
}

// extractChunks runs extraction for the job. Turns get a single one-shot
// call; documents run the Extractor's tiered pipeline, which already
// tolerates individual representative-chunk LLM failures internally (see
// ExtractDocument), satisfying the "job fails only if all chunks fail" rule
// since tier1's regex pass alone guarantees a non-empty result whenever the
// document contains any matchable free entity.
func (c *Coordinator) extractChunks(ctx context.Context, job *Job, chunks []string) ([]extractor.EntityDraft, extractor.DocumentStats, int) {
	if job.Kind == KindConversationTurn {
		drafts := c.extractor.Extract(ctx, job.UserText, job.AssistantText)
		return drafts, extractor.DocumentStats{}, 0
	}
	result := c.extractor.ExtractDocument(ctx, documentText(job), chunks)
	return result.Drafts, result.Stats, 0
}

func (c *Coordinator) curateDrafts(ctx context.Context, namespace string, drafts []extractor.EntityDraft) (created, merged int, err error) {
	for _, d := range drafts {
		res, cerr := c.curator.Curate(ctx, namespace, d)
		if cerr != nil {
			log.Warn().Err(cerr).Str("draft", d.Name).Msg("ingest: curation failed for draft, skipping")
			continue
		}
		switch res.Outcome {
		case curator.OutcomeCreated:
			created++
		case curator.OutcomeMerged:
			merged++
		}
		if c.activ != nil {
			_ = c.activ.Boost(ctx, namespace, []string{res.NodeID}, activation.DefaultBoostAmount)
		}
	}
	return created, merged, nil
}

// buildVisionTree runs the Vision-Tree Indexer (C12) math-mode path over a
// document job's chunks: embed, k-means cluster into a hierarchy, and
// materialize the result as a Document node, per-chunk Chunk nodes, and
// vector-index entries for every tree node (leaves and aggregates alike) so
// the hierarchy is queryable by similarity at any depth.
func (c *Coordinator) buildVisionTree(ctx context.Context, job *Job, chunks []string) error {
	if c.embedder == nil || c.store == nil || c.index == nil {
		return nil
	}
	vecs, err := c.embedder.Embed(ctx, chunks)
	if err != nil {
		return rmkerrors.Wrap(rmkerrors.Internal, "embed chunks for vision tree", err)
	}
	leaves := make([]visiontree.Leaf, len(chunks))
	for i, text := range chunks {
		leaves[i] = visiontree.Leaf{ID: uuid.NewString(), Vector: vecs[i], Text: text}
	}
	tree := visiontree.Build(leaves, c.branching)
	if tree.Root == "" {
		return nil
	}

	docName := job.DocumentName
	if docName == "" {
		docName = "document-" + uuid.NewString()
	}
	docID, err := c.store.Upsert(ctx, &graph.Node{
		Namespace:  job.Namespace,
		Name:       docName,
		Kind:       graph.KindDocument,
		Activation: 0.5,
	})
	if err != nil {
		return rmkerrors.Wrap(rmkerrors.Internal, "upsert document node", err)
	}

	for id, n := range tree.Nodes {
		attrs := map[string]string{"vision_tree_depth": strconv.Itoa(n.Depth)}
		description := ""
		if n.LeafText != nil {
			description = *n.LeafText
		} else {
			attrs["vision_tree_aggregate"] = "true"
		}
		nodeID, err := c.store.Upsert(ctx, &graph.Node{
			ID:          id,
			Namespace:   job.Namespace,
			Name:        id,
			Kind:        graph.KindChunk,
			Description: description,
			Attributes:  attrs,
			Activation:  0.5,
			Embedding:   n.Vector,
		})
		if err != nil {
			log.Warn().Err(err).Str("node", id).Msg("ingest: vision-tree node upsert failed, skipping")
			continue
		}
		if err := c.index.Add(ctx, job.Namespace, nodeID, n.Vector, attrs); err != nil {
			log.Warn().Err(err).Str("node", id).Msg("ingest: vision-tree vector index add failed")
		}
		for _, childID := range n.ChildIDs {
			if err := c.store.UpsertEdge(ctx, graph.Edge{Source: nodeID, Rel: graph.EdgeHasChunk, Target: childID}); err != nil {
				log.Warn().Err(err).Str("parent", nodeID).Str("child", childID).Msg("ingest: vision-tree edge upsert failed")
			}
		}
	}
	if err := c.store.UpsertEdge(ctx, graph.Edge{Source: docID, Rel: graph.EdgeHasChunk, Target: tree.Root}); err != nil {
		return rmkerrors.Wrap(rmkerrors.Internal, "link document to vision tree root", err)
	}
	return nil
}
