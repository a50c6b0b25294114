package retrieval

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantGRPC talks to Qdrant over gRPC using the official client.
type QdrantGRPC struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantGRPC dials addr (host:port, default port 6334).
func NewQdrantGRPC(addr, collection, apiKey string) (*QdrantGRPC, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host, portStr = addr, "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}
	return &QdrantGRPC{client: client, collection: collection}, nil
}

func (q *QdrantGRPC) Close() error {
	return q.client.Close()
}

func (q *QdrantGRPC) Search(ctx context.Context, vector []float32, limit int) ([]Passage, error) {
	l := uint64(limit)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	passages := make([]Passage, 0, len(points))
	for _, p := range points {
		passage := Passage{Score: p.Score}
		if p.Id != nil {
			if id := p.Id.GetUuid(); id != "" {
				passage.ID = id
			} else {
				passage.ID = strconv.FormatUint(p.Id.GetNum(), 10)
			}
		}
		if v, ok := p.Payload["text"]; ok {
			passage.Text = v.GetStringValue()
		}
		if v, ok := p.Payload["source"]; ok {
			passage.Source = v.GetStringValue()
		}
		passages = append(passages, passage)
	}
	return passages, nil
}

func (q *QdrantGRPC) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(points[0].Vector)),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload, err := qdrant.TryValueMap(p.payload())
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", p.ID, err)
		}
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         structs,
	}); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}
