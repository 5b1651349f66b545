// Package semantic owns all vector store operations: one Store per collection,
// backed by Qdrant over gRPC or by an in-process cosine index.
package semantic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultGRPCPort is Qdrant's gRPC port. Cloud URLs usually name the REST port.
const DefaultGRPCPort = "6334"

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is a Qdrant-backed Store for one collection.
type VectorStore struct {
	conn        *grpc.ClientConn // nil when the connection is shared or injected
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// Dial opens a gRPC connection to Qdrant. An https URL enables TLS; a non-empty
// apiKey is sent as the api-key header on every call.
func Dial(rawURL, apiKey string) (*grpc.ClientConn, error) {
	target, useTLS, err := grpcTarget(rawURL)
	if err != nil {
		return nil, err
	}
	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if apiKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(apiKey)))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", target, err)
	}
	return conn, nil
}

// New creates a VectorStore with its own connection. Close releases it.
func New(rawURL, apiKey, collection string) (*VectorStore, error) {
	conn, err := Dial(rawURL, apiKey)
	if err != nil {
		return nil, err
	}
	vs := NewFromConn(conn, collection)
	vs.conn = conn
	return vs, nil
}

// NewFromConn creates a VectorStore over a shared connection. Close is a no-op.
func NewFromConn(conn grpc.ClientConnInterface, collection string) *VectorStore {
	return &VectorStore{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}
}

// NewWithClients creates a VectorStore over injected clients (tests).
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

func grpcTarget(rawURL string) (string, bool, error) {
	if rawURL == "" {
		return "", false, &domain.ConfigError{Missing: []string{"QDRANT_URL"}}
	}
	if !strings.Contains(rawURL, "://") {
		host, port, err := net.SplitHostPort(rawURL)
		if err != nil {
			return net.JoinHostPort(rawURL, DefaultGRPCPort), false, nil
		}
		return net.JoinHostPort(host, port), false, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, &domain.ConfigError{Reason: fmt.Sprintf("invalid QDRANT_URL %q: %v", rawURL, err)}
	}
	port := u.Port()
	if port == "" || port == "6333" {
		port = DefaultGRPCPort
	}
	return net.JoinHostPort(u.Hostname(), port), u.Scheme == "https", nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// wrap prefixes err and marks transport outages with domain.ErrStoreUnavailable.
func wrap(op string, err error) error {
	if status.Code(err) == codes.Unavailable {
		return fmt.Errorf("semantic: %s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("semantic: %s: %w", op, err)
}

// Name returns the collection name.
func (v *VectorStore) Name() string { return v.collection }

// Close closes the underlying gRPC connection if this store owns it.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection with Cosine distance if it doesn't
// exist. An existing collection of a different size is a DimensionMismatchError.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return wrap("list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() != v.collection {
			continue
		}
		info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
		if err != nil {
			return wrap("get collection "+v.collection, err)
		}
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if int(size) != dims {
			return &domain.DimensionMismatchError{Collection: v.collection, Want: dims, Got: int(size)}
		}
		return nil
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return wrap("create collection "+v.collection, err)
	}
	return nil
}

// DeleteCollection drops the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	if _, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection}); err != nil {
		return wrap("delete collection "+v.collection, err)
	}
	return nil
}

// Upsert stores points and waits for the write to be applied.
func (v *VectorStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	out := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		if p.ID == "" {
			return fmt.Errorf("semantic: upsert: point %d has no id", i)
		}
		out[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
			},
			Payload: toPayload(p.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         out,
	})
	if err != nil {
		return wrap(fmt.Sprintf("upsert %d points", len(points)), err)
	}
	return nil
}

// Search performs k-NN similarity search. Qdrant's score_threshold is inclusive.
func (v *VectorStore) Search(ctx context.Context, vector []float32, threshold float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		ScoreThreshold: &threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, wrap("search "+v.collection, err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = Hit{
			ID:      r.GetId().GetUuid(),
			Score:   r.GetScore(),
			Payload: fromPayload(r.GetPayload()),
		}
	}
	return hits, nil
}

// Count returns the exact number of points in the collection.
func (v *VectorStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{CollectionName: v.collection, Exact: &exact})
	if err != nil {
		return 0, wrap("count "+v.collection, err)
	}
	return resp.GetResult().GetCount(), nil
}

// DeleteByRoles removes all points whose role is any of roles.
func (v *VectorStore) DeleteByRoles(ctx context.Context, roles ...string) error {
	if len(roles) == 0 {
		return nil
	}
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{anyMatch(KeyRole, roles)}},
			},
		},
	})
	if err != nil {
		return wrap("delete roles "+strings.Join(roles, ","), err)
	}
	return nil
}

func anyMatch(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}

func toPayload(in map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(in))
	for k, val := range in {
		switch tv := val.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		case fmt.Stringer:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv.String()}}
		default:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return out
}

func fromPayload(in map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(in))
	for k, val := range in {
		switch kind := val.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = fmt.Sprint(kind.IntegerValue)
		case *pb.Value_DoubleValue:
			out[k] = fmt.Sprint(kind.DoubleValue)
		case *pb.Value_BoolValue:
			out[k] = fmt.Sprint(kind.BoolValue)
		}
	}
	return out
}

// IsUnavailable reports whether err means the store cannot be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable)
}
