// Package rpc exposes the cache to other processes as the
// stash.RenderCache gRPC service: a closed, typed set of operations
// (Get, Set, Delete, Clear, Stats, MakeKey) instead of stringly-typed
// message dispatch. It uses [grpc.ServiceDesc] registration so that no
// protobuf code generation is required.
//
// Because the request/response types are plain Go structs (not generated
// protobuf messages), the package registers a thin codec wrapper that
// JSON-encodes stash types while delegating all other messages to the
// standard proto codec. Import this package (or call [Register]) to
// activate the codec automatically.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gonutstash "github.com/Keksclan/goNutStash"
	"github.com/Keksclan/goNutStash/keygen"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcEncoding "google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/proto" // ensure default proto codec is registered first
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Backend is the cache contract the service forwards to. *gonutstash.Manager
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, entryType string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context, limit int) (gonutstash.Stats, error)
}

// GetRequest is the input for the Get method.
type GetRequest struct {
	Key string `json:"key"`
}

// GetResponse is the output of the Get method. Found distinguishes a miss
// from a cached empty value; a miss is a normal response, never an error.
type GetResponse struct {
	Found bool   `json:"found"`
	Value []byte `json:"value,omitempty"`
}

// SetRequest is the input for the Set method.
type SetRequest struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	EntryType string `json:"entry_type"`
}

// SetResponse is the output of the Set method.
type SetResponse struct{}

// DeleteRequest is the input for the Delete method.
type DeleteRequest struct {
	Key string `json:"key"`
}

// DeleteResponse is the output of the Delete method.
type DeleteResponse struct{}

// ClearRequest is the input for the Clear method.
type ClearRequest struct{}

// ClearResponse is the output of the Clear method.
type ClearResponse struct{}

// StatsRequest is the input for the Stats method. Limit caps the number
// of recent persistent entries reported.
type StatsRequest struct {
	Limit int `json:"limit"`
}

// StatsResponse is the output of the Stats method.
type StatsResponse struct {
	Stats gonutstash.Stats `json:"stats"`
}

// MakeKeyRequest is the input for the MakeKey method. Context carries
// render settings (e.g. font family/size) that affect the output and must
// therefore be part of the key.
type MakeKeyRequest struct {
	Content   []byte            `json:"content"`
	EntryType string            `json:"entry_type"`
	Context   map[string]string `json:"context,omitempty"`
}

// MakeKeyResponse is the output of the MakeKey method.
type MakeKeyResponse struct {
	Key string `json:"key"`
}

// stashMsg is a marker interface satisfied by all stash request/response
// types.
type stashMsg interface {
	isStashMsg()
}

func (*GetRequest) isStashMsg()      {}
func (*GetResponse) isStashMsg()     {}
func (*SetRequest) isStashMsg()      {}
func (*SetResponse) isStashMsg()     {}
func (*DeleteRequest) isStashMsg()   {}
func (*DeleteResponse) isStashMsg()  {}
func (*ClearRequest) isStashMsg()    {}
func (*ClearResponse) isStashMsg()   {}
func (*StatsRequest) isStashMsg()    {}
func (*StatsResponse) isStashMsg()   {}
func (*MakeKeyRequest) isStashMsg()  {}
func (*MakeKeyResponse) isStashMsg() {}

// Handler is the interface a RenderCache service implementation must
// satisfy. [Register] installs the default implementation backed by a
// [Backend].
type Handler interface {
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	Set(ctx context.Context, req *SetRequest) (*SetResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
	Clear(ctx context.Context, req *ClearRequest) (*ClearResponse, error)
	Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error)
	MakeKey(ctx context.Context, req *MakeKeyRequest) (*MakeKeyResponse, error)
}

// service adapts a Backend to the RenderCache method set.
type service struct {
	backend Backend
}

func (s *service) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	v, ok, err := s.backend.Get(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetResponse{Found: ok, Value: v}, nil
}

func (s *service) Set(ctx context.Context, req *SetRequest) (*SetResponse, error) {
	if err := s.backend.Set(ctx, req.Key, req.Value, req.EntryType); err != nil {
		return nil, toStatus(err)
	}
	return &SetResponse{}, nil
}

func (s *service) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	if err := s.backend.Delete(ctx, req.Key); err != nil {
		return nil, toStatus(err)
	}
	return &DeleteResponse{}, nil
}

func (s *service) Clear(ctx context.Context, _ *ClearRequest) (*ClearResponse, error) {
	if err := s.backend.Clear(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &ClearResponse{}, nil
}

func (s *service) Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	st, err := s.backend.Stats(ctx, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &StatsResponse{Stats: st}, nil
}

func (s *service) MakeKey(_ context.Context, req *MakeKeyRequest) (*MakeKeyResponse, error) {
	return &MakeKeyResponse{Key: keygen.KeyWithContext(req.Content, req.EntryType, req.Context)}, nil
}

// toStatus maps cache errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, gonutstash.ErrStorageUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, gonutstash.ErrTransactionFailed):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ServiceDesc is the grpc.ServiceDesc for the stash.RenderCache service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "stash.RenderCache",
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Set", Handler: setHandler},
		{MethodName: "Delete", Handler: deleteHandler},
		{MethodName: "Clear", Handler: clearHandler},
		{MethodName: "Stats", Handler: statsHandler},
		{MethodName: "MakeKey", Handler: makeKeyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stash/rendercache.proto",
}

// unary wires one method into the grpc.MethodDesc handler shape.
func unary[Req, Resp any](
	method string,
	call func(Handler, context.Context, *Req) (*Resp, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	full := "/stash.RenderCache/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		h := srv.(Handler)
		if interceptor == nil {
			return call(h, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		handler := func(ctx context.Context, r any) (any, error) {
			return call(h, ctx, r.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

var (
	getHandler     = unary("Get", Handler.Get)
	setHandler     = unary("Set", Handler.Set)
	deleteHandler  = unary("Delete", Handler.Delete)
	clearHandler   = unary("Clear", Handler.Clear)
	statsHandler   = unary("Stats", Handler.Stats)
	makeKeyHandler = unary("MakeKey", Handler.MakeKey)
)

// Register registers the RenderCache service for backend on the given
// gRPC server.
func Register(s *grpc.Server, backend Backend) {
	s.RegisterService(&ServiceDesc, &service{backend: backend})
}

var _ Handler = (*service)(nil)

// ---------- codec wrapper ----------

func init() {
	// Replace the default proto codec with a thin wrapper that JSON-encodes
	// stash types and delegates all other (protobuf) messages to proto.Marshal.
	grpcEncoding.RegisterCodec(stashCodec{})
}

// stashCodec wraps the default proto codec. It handles stash
// request/response types via JSON and delegates all other types to
// proto.Marshal/Unmarshal.
type stashCodec struct{}

func (stashCodec) Name() string { return "proto" }

func (stashCodec) Marshal(v any) ([]byte, error) {
	if _, ok := v.(stashMsg); ok {
		return json.Marshal(v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("stash codec: unsupported message type %T", v)
}

func (stashCodec) Unmarshal(data []byte, v any) error {
	if _, ok := v.(stashMsg); ok {
		return json.Unmarshal(data, v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("stash codec: unsupported message type %T", v)
}
