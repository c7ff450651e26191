// Package keyrpc declares the keyshop.v1.KeyService gRPC service. Messages
// travel as JSON using the "json" content subtype.
package keyrpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	ServiceName = "keyshop.v1.KeyService"

	ClaimMethod    = "/" + ServiceName + "/Claim"
	GetStockMethod = "/" + ServiceName + "/GetStock"

	codecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return codecName }

type Key struct {
	ProductID string `json:"productId"`
	Key       string `json:"key"`
}

type ClaimRequest struct {
	SessionID string `json:"sessionId"`
}

type ClaimResponse struct {
	Success        bool   `json:"success"`
	Keys           []Key  `json:"keys,omitempty"`
	Email          string `json:"email,omitempty"`
	AlreadyClaimed bool   `json:"alreadyClaimed,omitempty"`
	Error          string `json:"error,omitempty"`
	ClaimedKeys    []Key  `json:"claimedKeys,omitempty"`
}

// StockRequest asks for one product, or every product when ProductID is empty.
type StockRequest struct {
	ProductID string `json:"productId,omitempty"`
}

type StockResponse struct {
	Success bool           `json:"success"`
	Stock   map[string]int `json:"stock,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type KeyServiceServer interface {
	Claim(ctx context.Context, req *ClaimRequest) (*ClaimResponse, error)
	GetStock(ctx context.Context, req *StockRequest) (*StockResponse, error)
}

func RegisterKeyServiceServer(s grpc.ServiceRegistrar, srv KeyServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KeyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Claim", Handler: claimHandler},
		{MethodName: "GetStock", Handler: getStockHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keyshop/v1/key_service",
}

func claimHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ClaimRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KeyServiceServer).Claim(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ClaimMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KeyServiceServer).Claim(ctx, req.(*ClaimRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getStockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KeyServiceServer).GetStock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStockMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KeyServiceServer).GetStock(ctx, req.(*StockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type KeyServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewKeyServiceClient(cc grpc.ClientConnInterface) *KeyServiceClient {
	return &KeyServiceClient{cc: cc}
}

func (c *KeyServiceClient) Claim(ctx context.Context, in *ClaimRequest, opts ...grpc.CallOption) (*ClaimResponse, error) {
	out := new(ClaimResponse)
	if err := c.cc.Invoke(ctx, ClaimMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KeyServiceClient) GetStock(ctx context.Context, in *StockRequest, opts ...grpc.CallOption) (*StockResponse, error) {
	out := new(StockResponse)
	if err := c.cc.Invoke(ctx, GetStockMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}
