package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const adminServiceName = "teradrop.store.v1.Admin"

// AdminService is the gRPC surface for changing storage node membership.
type AdminService interface {
	ListNodes(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	AddNode(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int32Value, error)
	RemoveNode(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int32Value, error)
}

// AdminServer lets an operator grow or shrink the node set behind an NWStore
// while it serves traffic. Membership changes are serialized.
type AdminServer struct {
	store  *NWStore
	logger *zap.Logger
	mu     sync.Mutex
}

var _ AdminService = (*AdminServer)(nil)

func NewAdminServer(st *NWStore, logger *zap.Logger) *AdminServer {
	return &AdminServer{store: st, logger: logger}
}

func (a *AdminServer) ListNodes(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	nodes := a.store.Ring.Nodes()
	values := make([]any, len(nodes))
	for i, n := range nodes {
		values[i] = n
	}
	return structpb.NewList(values)
}

func (a *AdminServer) AddNode(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int32Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := req.GetValue()
	if addr == "" {
		return nil, status.Error(codes.InvalidArgument, "empty node address")
	}
	moved, err := a.store.AddNode(ctx, addr)
	if err != nil {
		a.logger.Error("add node failed", zap.String("node", addr), zap.Int("migrated", moved), zap.Error(err))
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	a.logger.Info("node added", zap.String("node", addr), zap.Int("migrated", moved))
	return wrapperspb.Int32(int32(moved)), nil
}

func (a *AdminServer) RemoveNode(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int32Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := req.GetValue()
	moved, err := a.store.RemoveNode(ctx, addr)
	if err != nil {
		a.logger.Error("remove node failed", zap.String("node", addr), zap.Int("migrated", moved), zap.Error(err))
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	a.logger.Info("node removed", zap.String("node", addr), zap.Int("migrated", moved))
	return wrapperspb.Int32(int32(moved)), nil
}

func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminService) {
	s.RegisterService(&adminServiceDesc, srv)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListNodes", Handler: unaryHandler(fullMethod(adminServiceName, "ListNodes"), func(ctx context.Context, srv AdminService, in *emptypb.Empty) (any, error) {
			return srv.ListNodes(ctx, in)
		})},
		{MethodName: "AddNode", Handler: unaryHandler(fullMethod(adminServiceName, "AddNode"), func(ctx context.Context, srv AdminService, in *wrapperspb.StringValue) (any, error) {
			return srv.AddNode(ctx, in)
		})},
		{MethodName: "RemoveNode", Handler: unaryHandler(fullMethod(adminServiceName, "RemoveNode"), func(ctx context.Context, srv AdminService, in *wrapperspb.StringValue) (any, error) {
			return srv.RemoveNode(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "teradrop/store/v1",
}

// AdminClient calls the Admin service of a web process.
type AdminClient struct {
	conn grpc.ClientConnInterface
}

func NewAdminClient(conn grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{conn: conn}
}

func (c *AdminClient) ListNodes(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, fullMethod(adminServiceName, "ListNodes"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	nodes := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		nodes = append(nodes, v.GetStringValue())
	}
	return nodes, nil
}

// AddNode returns the number of assets migrated onto addr.
func (c *AdminClient) AddNode(ctx context.Context, addr string) (int, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.conn.Invoke(ctx, fullMethod(adminServiceName, "AddNode"), wrapperspb.String(addr), out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}

// RemoveNode returns the number of assets migrated off addr.
func (c *AdminClient) RemoveNode(ctx context.Context, addr string) (int, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.conn.Invoke(ctx, fullMethod(adminServiceName, "RemoveNode"), wrapperspb.String(addr), out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}
