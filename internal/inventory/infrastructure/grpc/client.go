package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
)

// InventoryClient queries a remote inventory-service for availability.
type InventoryClient struct {
	log  *slog.Logger
	conn *grpc.ClientConn
}

func NewInventoryClient(log *slog.Logger, addr string, opts ...grpc.DialOption) (*InventoryClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &InventoryClient{
		log:  log,
		conn: conn,
	}, nil
}

func (c *InventoryClient) CheckStock(ctx context.Context, storeID string, lines []domain.Line) ([]domain.Shortage, error) {
	req := &CheckStockRequest{StoreID: storeID, Items: make([]Item, 0, len(lines))}
	for _, line := range lines {
		req.Items = append(req.Items, Item{ProductID: line.ProductID, Quantity: int32(line.Quantity)})
	}

	resp := new(CheckStockResponse)
	if err := c.conn.Invoke(ctx, checkStockRoute, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		c.log.Error("inventory check stock failed", "store_id", storeID, "err", err)
		return nil, err
	}

	shortages := make([]domain.Shortage, 0, len(resp.Shortages))
	for _, sh := range resp.Shortages {
		shortages = append(shortages, domain.Shortage{
			ProductID: sh.ProductID,
			Requested: int(sh.Requested),
			Available: int(sh.Available),
		})
	}
	return shortages, nil
}

func (c *InventoryClient) Close() error {
	return c.conn.Close()
}
