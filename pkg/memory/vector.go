// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/llm"
)

const contentPayloadKey = "content"

// VectorStore is a semantic backend over Qdrant: entries are embedded on
// write and queries run as nearest-neighbour searches.
type VectorStore struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	embedder    llm.Embedder
}

// DialVector connects to a Qdrant instance over gRPC.
func DialVector(_ context.Context, addr, collection string, embedder llm.Embedder) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "cannot connect to vector store", err)
	}
	return &VectorStore{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		embedder:    embedder,
	}, nil
}

// EnsureCollection creates the backing collection if it does not exist.
func (s *VectorStore) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return errors.New(errors.CodeMemoryError, "cannot create collection", err)
	}
	return nil
}

// Store embeds the entry and upserts it as a single point.
func (s *VectorStore) Store(ctx context.Context, entry core.MemoryEntry) error {
	vector, err := s.embedder.Embed(ctx, entry.Content)
	if err != nil {
		return errors.New(errors.CodeMemoryError, "cannot embed memory entry", err)
	}

	payload := map[string]*pb.Value{
		contentPayloadKey: {Kind: &pb.Value_StringValue{StringValue: entry.Content}},
	}
	for k, v := range entry.Metadata {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}

	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.NewString()}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
			Payload: payload,
		}},
	})
	if err != nil {
		return errors.New(errors.CodeMemoryError, "cannot upsert memory point", err)
	}
	return nil
}

// Query embeds the criteria and searches for the nearest entries.
func (s *VectorStore) Query(ctx context.Context, criteria string, limit int) ([]core.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	vector, err := s.embedder.Embed(ctx, criteria)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "cannot embed query", err)
	}

	enable := true
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: enable}},
	})
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "vector search failed", err)
	}

	entries := make([]core.MemoryEntry, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		entries = append(entries, entryFromPayload(hit.GetPayload(), hit.GetScore()))
	}
	return entries, nil
}

// entryFromPayload rebuilds a memory entry from a point payload.
func entryFromPayload(payload map[string]*pb.Value, score float32) core.MemoryEntry {
	entry := core.MemoryEntry{Score: score}
	for k, v := range payload {
		text := v.GetStringValue()
		if k == contentPayloadKey {
			entry.Content = text
			continue
		}
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]string)
		}
		entry.Metadata[k] = text
	}
	return entry
}
