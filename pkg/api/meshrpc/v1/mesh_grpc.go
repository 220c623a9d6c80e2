package meshrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "ledgervault.mesh.v1.Mesh"

const (
	Mesh_Announce_FullMethodName   = "/" + ServiceName + "/Announce"
	Mesh_GetHeads_FullMethodName   = "/" + ServiceName + "/GetHeads"
	Mesh_GetCommits_FullMethodName = "/" + ServiceName + "/GetCommits"
	Mesh_GetPiece_FullMethodName   = "/" + ServiceName + "/GetPiece"
)

// MeshClient 是网格服务的客户端
type MeshClient interface {
	Announce(ctx context.Context, in *AnnounceRequest, opts ...grpc.CallOption) (*AnnounceResponse, error)
	GetHeads(ctx context.Context, in *GetHeadsRequest, opts ...grpc.CallOption) (*GetHeadsResponse, error)
	GetCommits(ctx context.Context, in *GetCommitsRequest, opts ...grpc.CallOption) (*GetCommitsResponse, error)
	GetPiece(ctx context.Context, in *GetPieceRequest, opts ...grpc.CallOption) (*GetPieceResponse, error)
}

type meshClient struct {
	cc grpc.ClientConnInterface
}

func NewMeshClient(cc grpc.ClientConnInterface) MeshClient {
	return &meshClient{cc: cc}
}

// callOpts 强制使用 CBOR 编码
func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *meshClient) Announce(ctx context.Context, in *AnnounceRequest, opts ...grpc.CallOption) (*AnnounceResponse, error) {
	out := new(AnnounceResponse)
	if err := c.cc.Invoke(ctx, Mesh_Announce_FullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshClient) GetHeads(ctx context.Context, in *GetHeadsRequest, opts ...grpc.CallOption) (*GetHeadsResponse, error) {
	out := new(GetHeadsResponse)
	if err := c.cc.Invoke(ctx, Mesh_GetHeads_FullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshClient) GetCommits(ctx context.Context, in *GetCommitsRequest, opts ...grpc.CallOption) (*GetCommitsResponse, error) {
	out := new(GetCommitsResponse)
	if err := c.cc.Invoke(ctx, Mesh_GetCommits_FullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshClient) GetPiece(ctx context.Context, in *GetPieceRequest, opts ...grpc.CallOption) (*GetPieceResponse, error) {
	out := new(GetPieceResponse)
	if err := c.cc.Invoke(ctx, Mesh_GetPiece_FullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// MeshServer 是网格服务的服务端实现
type MeshServer interface {
	Announce(context.Context, *AnnounceRequest) (*AnnounceResponse, error)
	GetHeads(context.Context, *GetHeadsRequest) (*GetHeadsResponse, error)
	GetCommits(context.Context, *GetCommitsRequest) (*GetCommitsResponse, error)
	GetPiece(context.Context, *GetPieceRequest) (*GetPieceResponse, error)
}

// UnimplementedMeshServer 可以嵌入到实现里，未实现的方法返回 Unimplemented
type UnimplementedMeshServer struct{}

func (UnimplementedMeshServer) Announce(context.Context, *AnnounceRequest) (*AnnounceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Announce not implemented")
}
func (UnimplementedMeshServer) GetHeads(context.Context, *GetHeadsRequest) (*GetHeadsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetHeads not implemented")
}
func (UnimplementedMeshServer) GetCommits(context.Context, *GetCommitsRequest) (*GetCommitsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCommits not implemented")
}
func (UnimplementedMeshServer) GetPiece(context.Context, *GetPieceRequest) (*GetPieceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetPiece not implemented")
}

func RegisterMeshServer(s grpc.ServiceRegistrar, srv MeshServer) {
	s.RegisterService(&Mesh_ServiceDesc, srv)
}

func _Mesh_Announce_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AnnounceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).Announce(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Mesh_Announce_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MeshServer).Announce(ctx, req.(*AnnounceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mesh_GetHeads_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetHeadsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).GetHeads(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Mesh_GetHeads_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MeshServer).GetHeads(ctx, req.(*GetHeadsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mesh_GetCommits_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetCommitsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).GetCommits(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Mesh_GetCommits_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MeshServer).GetCommits(ctx, req.(*GetCommitsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mesh_GetPiece_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetPieceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).GetPiece(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Mesh_GetPiece_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MeshServer).GetPiece(ctx, req.(*GetPieceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Mesh_ServiceDesc 是 Mesh 服务的 grpc.ServiceDesc
var Mesh_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeshServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Announce", Handler: _Mesh_Announce_Handler},
		{MethodName: "GetHeads", Handler: _Mesh_GetHeads_Handler},
		{MethodName: "GetCommits", Handler: _Mesh_GetCommits_Handler},
		{MethodName: "GetPiece", Handler: _Mesh_GetPiece_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshrpc/v1",
}
