package grpc

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
)

const (
	serviceName     = "inventory.v1.InventoryService"
	checkStockRoute = "/" + serviceName + "/CheckStock"
)

type StockChecker interface {
	CheckStock(ctx context.Context, storeID string, lines []domain.Line) ([]domain.Shortage, error)
}

// InventoryServer is the read-only availability API other services query
// before they try to reserve.
type InventoryServer interface {
	CheckStock(ctx context.Context, req *CheckStockRequest) (*CheckStockResponse, error)
}

type Server struct {
	log     *slog.Logger
	checker StockChecker
}

func NewServer(log *slog.Logger, checker StockChecker) *Server {
	return &Server{log: log, checker: checker}
}

func (s *Server) CheckStock(ctx context.Context, req *CheckStockRequest) (*CheckStockResponse, error) {
	if req.StoreID == "" || len(req.Items) == 0 {
		return nil, status.Error(codes.InvalidArgument, "store id and items are required")
	}
	lines := make([]domain.Line, 0, len(req.Items))
	for _, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "invalid item %q", it.ProductID)
		}
		lines = append(lines, domain.Line{ProductID: it.ProductID, Quantity: int(it.Quantity)})
	}

	shortages, err := s.checker.CheckStock(ctx, req.StoreID, lines)
	if err != nil {
		s.log.Error("check stock failed", "store_id", req.StoreID, "err", err)
		return nil, status.Error(codes.Unavailable, "inventory unavailable")
	}

	resp := &CheckStockResponse{Available: len(shortages) == 0}
	for _, sh := range shortages {
		resp.Shortages = append(resp.Shortages, Shortage{
			ProductID: sh.ProductID,
			Requested: int32(sh.Requested),
			Available: int32(sh.Available),
		})
	}
	return resp, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckStock", Handler: checkStockHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory.proto",
}

func checkStockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckStockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).CheckStock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkStockRoute}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).CheckStock(ctx, req.(*CheckStockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func Register(gs *grpc.Server, srv InventoryServer) {
	gs.RegisterService(&serviceDesc, srv)
}

func Run(addr string, srv InventoryServer) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer()
	Register(gs, srv)
	go func() {
		_ = gs.Serve(lis)
	}()
	return gs, nil
}
