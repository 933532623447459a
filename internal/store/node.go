package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "teradrop.store.v1.AssetStore"

	// MaxMessageSize bounds a single asset carried over the node protocol.
	MaxMessageSize = 256 << 20

	mdAssetID      = "asset-id"
	mdAssetSize    = "asset-size"
	mdAssetModTime = "asset-mod-time"
)

// AssetStoreServer is the gRPC surface of a storage node.
type AssetStoreServer interface {
	Put(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	List(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// NodeServer serves an FSStore to remote NWStore clients. The node applies the
// same temp-then-rename discipline as a local writer.
type NodeServer struct {
	fs     *FSStore
	logger *zap.Logger
}

var _ AssetStoreServer = (*NodeServer)(nil)

func NewNodeServer(fs *FSStore, logger *zap.Logger) *NodeServer {
	return &NodeServer{fs: fs, logger: logger}
}

// NewGRPCServer returns a gRPC server with the node service registered and
// message limits raised to fit whole assets.
func NewGRPCServer(node *NodeServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterAssetStoreServer(s, node)
	return s
}

func (n *NodeServer) Put(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	ids := md.Get(mdAssetID)
	if len(ids) != 1 {
		return nil, status.Errorf(codes.InvalidArgument, "expected exactly one %s header", mdAssetID)
	}
	a, err := n.fs.Put(ctx, ids[0], bytes.NewReader(req.GetValue()))
	if err != nil {
		n.logger.Warn("put failed", zap.String("asset", ids[0]), zap.Error(err))
		return nil, toStatus(err)
	}
	n.logger.Debug("put", zap.String("asset", a.ID), zap.Int64("size", a.Size))
	return assetToStruct(a)
}

func (n *NodeServer) Get(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	data, a, err := n.fs.Get(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	header := metadata.Pairs(
		mdAssetSize, strconv.FormatInt(a.Size, 10),
		mdAssetModTime, a.ModTime.Format(time.RFC3339Nano),
	)
	if err := grpc.SetHeader(ctx, header); err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(data), nil
}

func (n *NodeServer) List(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	assets, err := n.fs.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(assets))}
	for _, a := range assets {
		s, err := assetToStruct(a)
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, structpb.NewStructValue(s))
	}
	return out, nil
}

func (n *NodeServer) Delete(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := n.fs.Delete(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	n.logger.Debug("delete", zap.String("asset", req.GetValue()))
	return &emptypb.Empty{}, nil
}

func toStatus(err error) error {
	if s, ok := status.FromError(err); ok {
		return s.Err()
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, ErrAssetNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, syscall.ENOSPC):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func fromStatus(id string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidID, status.Convert(err).Message())
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", syscall.ENOSPC, status.Convert(err).Message())
	}
	return err
}

func assetToStruct(a Asset) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":       a.ID,
		"size":     a.Size,
		"mod_time": a.ModTime.Format(time.RFC3339Nano),
		"sha256":   a.SHA256,
	})
}

func structToAsset(s *structpb.Struct) (Asset, error) {
	f := s.GetFields()
	mod, err := time.Parse(time.RFC3339Nano, f["mod_time"].GetStringValue())
	if err != nil {
		return Asset{}, fmt.Errorf("decode mod_time: %w", err)
	}
	return Asset{
		ID:      f["id"].GetStringValue(),
		Size:    int64(f["size"].GetNumberValue()),
		ModTime: mod,
		SHA256:  f["sha256"].GetStringValue(),
	}, nil
}

// RegisterAssetStoreServer attaches srv to s under the node service name.
func RegisterAssetStoreServer(s grpc.ServiceRegistrar, srv AssetStoreServer) {
	s.RegisterService(&assetStoreServiceDesc, srv)
}

var assetStoreServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AssetStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Put", Handler: unaryHandler(fullMethod(serviceName, "Put"), func(ctx context.Context, srv AssetStoreServer, in *wrapperspb.BytesValue) (any, error) {
			return srv.Put(ctx, in)
		})},
		{MethodName: "Get", Handler: unaryHandler(fullMethod(serviceName, "Get"), func(ctx context.Context, srv AssetStoreServer, in *wrapperspb.StringValue) (any, error) {
			return srv.Get(ctx, in)
		})},
		{MethodName: "List", Handler: unaryHandler(fullMethod(serviceName, "List"), func(ctx context.Context, srv AssetStoreServer, in *emptypb.Empty) (any, error) {
			return srv.List(ctx, in)
		})},
		{MethodName: "Delete", Handler: unaryHandler(fullMethod(serviceName, "Delete"), func(ctx context.Context, srv AssetStoreServer, in *wrapperspb.StringValue) (any, error) {
			return srv.Delete(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "teradrop/store/v1",
}

func fullMethod(service, method string) string { return "/" + service + "/" + method }

type protoMessage[T any] interface {
	*T
}

// unaryHandler adapts a typed method to grpc.MethodHandler, mirroring what
// protoc-gen-go-grpc emits for each unary method.
func unaryHandler[S any, T any, PT protoMessage[T]](method string, call func(context.Context, S, PT) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PT(new(T))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, srv.(S), in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(ctx, srv.(S), req.(PT))
		}
		return interceptor(ctx, in, info, handler)
	}
}
