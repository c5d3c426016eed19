package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 1024
	scrollPageSize         = 256
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without API Key
	VectorDimension int
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository handles similarity-index operations against Qdrant. Each
// point holds the transcript content vector plus a payload carrying the
// consultation metadata and the serialized prior analysis result.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantRepository creates a new QdrantRepository.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption

	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(r.vectorDimension) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
			}
		}
		return nil // Collection exists
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func optionalUint32(v uint32) *uint32 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}
	config := info.GetConfig()
	if config == nil {
		return 0, false
	}
	params := config.GetParams()
	if params == nil {
		return 0, false
	}
	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}
	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams == nil {
				continue
			}
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}
	return 0, false
}

// ConsultationPayload is the payload stored with each transcript vector.
// AnalysisResult holds the serialized seven-field result so retrieved
// matches can be annotated with prior outcomes at prompt-assembly time.
type ConsultationPayload struct {
	ConsultationNumber string `json:"consultation_number"`
	Consultant         string `json:"consultant"`
	Content            string `json:"content"`
	AnalysisResult     string `json:"analysis_result"`
	ConsultationTime   string `json:"consultation_time"`
}

// InsertDocument inserts a vector with its consultation payload. Callers are
// expected to run the existence check first; duplicates are prevented there,
// not by key semantics here.
func (r *QdrantRepository) InsertDocument(ctx context.Context, pointID string, vector []float32, payload *ConsultationPayload) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	points := []*pb.PointStruct{
		{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: map[string]*pb.Value{
				"consultation_number": {Kind: &pb.Value_StringValue{StringValue: payload.ConsultationNumber}},
				"consultant":          {Kind: &pb.Value_StringValue{StringValue: payload.Consultant}},
				"content":             {Kind: &pb.Value_StringValue{StringValue: payload.Content}},
				"analysis_result":     {Kind: &pb.Value_StringValue{StringValue: payload.AnalysisResult}},
				"consultation_time":   {Kind: &pb.Value_StringValue{StringValue: payload.ConsultationTime}},
			},
		},
	}

	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to insert point: %w", err)
	}

	return nil
}

// SearchResult represents a similarity search hit from Qdrant.
type SearchResult struct {
	ID      string
	Score   float32
	Payload *ConsultationPayload
}

// Search performs a vector similarity search returning at most topK hits at
// or above scoreThreshold.
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = &scoreThreshold
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, scored := range resp.Result {
		results[i] = SearchResult{
			ID:      scored.Id.GetUuid(),
			Score:   scored.Score,
			Payload: parsePayload(scored.Payload),
		}
	}

	return results, nil
}

// HasConsultation reports whether the index already holds an entry for the
// consultation number.
func (r *QdrantRepository) HasConsultation(ctx context.Context, consultationNumber string) (bool, error) {
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Filter:         consultationNumberFilter(consultationNumber),
		Exact:          optionalBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("failed to count points: %w", err)
	}
	return resp.GetResult().GetCount() > 0, nil
}

// ExistingConsultationNumbers scrolls the whole collection and returns the
// set of consultation numbers already indexed.
func (r *QdrantRepository) ExistingConsultationNumbers(ctx context.Context) (map[string]struct{}, error) {
	existing := make(map[string]struct{})

	var offset *pb.PointId
	for {
		resp, err := r.pointsClient.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: r.collectionName,
			Limit:          optionalUint32(scrollPageSize),
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Include{
					Include: &pb.PayloadIncludeSelector{Fields: []string{"consultation_number"}},
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		for _, point := range resp.GetResult() {
			if v, ok := point.GetPayload()["consultation_number"]; ok {
				if no := v.GetStringValue(); no != "" {
					existing[no] = struct{}{}
				}
			}
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	return existing, nil
}

func optionalBool(v bool) *bool {
	return &v
}

func consultationNumberFilter(consultationNumber string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: "consultation_number",
						Match: &pb.Match{
							MatchValue: &pb.Match_Keyword{Keyword: consultationNumber},
						},
					},
				},
			},
		},
	}
}

func parsePayload(payload map[string]*pb.Value) *ConsultationPayload {
	if payload == nil {
		return nil
	}

	p := &ConsultationPayload{}
	if v, ok := payload["consultation_number"]; ok {
		p.ConsultationNumber = v.GetStringValue()
	}
	if v, ok := payload["consultant"]; ok {
		p.Consultant = v.GetStringValue()
	}
	if v, ok := payload["content"]; ok {
		p.Content = v.GetStringValue()
	}
	if v, ok := payload["analysis_result"]; ok {
		p.AnalysisResult = v.GetStringValue()
	}
	if v, ok := payload["consultation_time"]; ok {
		p.ConsultationTime = v.GetStringValue()
	}

	return p
}
