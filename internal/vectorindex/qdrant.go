package vectorindex

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"singularity-rmk/internal/rmkerrors"
)

// namespaceField and originalIDField store the kernel's id fields inside the
// Qdrant point payload, since Qdrant point ids must be UUIDs or integers.
const (
	namespaceField = "_namespace"
	originalIDField = "_original_id"
)

// qdrantIndex is grounded on the teacher's qdrantVector, adapted to scope
// every point to a namespace via a payload field + filter rather than
// separate collections, so a single collection serves every tenant.
type qdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrantIndex builds an Index backed by a Qdrant collection.
func NewQdrantIndex(dsn, collection string, dimensions int, metric string) (Index, error) {
	if collection == "" {
		return nil, rmkerrors.New(rmkerrors.InvalidInput, "qdrant collection name is required")
	}
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.InvalidInput, "parse qdrant dsn", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.InvalidInput, "invalid qdrant port", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "create qdrant client", err)
	}
	q := &qdrantIndex{client: client, collection: collection, dimension: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *qdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return rmkerrors.Wrap(rmkerrors.StoreUnavailable, "check qdrant collection", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return rmkerrors.New(rmkerrors.InvalidInput, "qdrant index requires dimensions > 0")
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig:  qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: uint64(q.dimension), Distance: distance}),
	})
	if err != nil {
		return rmkerrors.Wrap(rmkerrors.StoreUnavailable, "create qdrant collection", err)
	}
	return nil
}

func (q *qdrantIndex) Dimensions() int { return q.dimension }

func pointUUID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"\x00"+id)).String()
}

func (q *qdrantIndex) Add(ctx context.Context, namespace, id string, vector []float32, metadata map[string]string) error {
	payload := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		payload[k] = v
	}
	payload[namespaceField] = namespace
	payload[originalIDField] = id
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID(namespace, id)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return rmkerrors.Wrap(rmkerrors.StoreUnavailable, "qdrant upsert", err)
	}
	return nil
}

func (q *qdrantIndex) Remove(ctx context.Context, namespace, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointUUID(namespace, id))),
	})
	if err != nil {
		return rmkerrors.Wrap(rmkerrors.StoreUnavailable, "qdrant delete", err)
	}
	return nil
}

func (q *qdrantIndex) Search(ctx context.Context, namespace string, vector []float32, k int, minScore float64, filter map[string]string) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	must := []*qdrant.Condition{qdrant.NewMatch(namespaceField, namespace)}
	for key, v := range filter {
		must = append(must, qdrant.NewMatch(key, v))
	}
	limit := uint64(k)
	scoreThreshold := float32(minScore)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: must},
		ScoreThreshold: &scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "qdrant query", err)
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		metadata := make(map[string]string)
		var originalID string
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				switch k {
				case originalIDField:
					originalID = v.GetStringValue()
				case namespaceField:
				default:
					metadata[k] = v.GetStringValue()
				}
			}
		}
		id := originalID
		if id == "" {
			id = hit.Id.GetUuid()
		}
		out = append(out, Result{ID: id, Score: float64(hit.Score), Metadata: metadata})
	}
	return out, nil
}
