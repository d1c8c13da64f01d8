package cart

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type HTTPClient struct {
	log  *slog.Logger
	http *resty.Client
}

func NewHTTPClient(log *slog.Logger, baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		log: log,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(100 * time.Millisecond),
	}
}

// GetCartWithTotals returns an empty cart when the cart service has none.
func (c *HTTPClient) GetCartWithTotals(ctx context.Context, userID, storeID string) (Cart, error) {
	var out Cart
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"userID": userID, "storeID": storeID}).
		SetResult(&out).
		Get("/api/v1/users/{userID}/carts/{storeID}")
	if err != nil {
		return Cart{}, fmt.Errorf("get cart: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return out, nil
	case http.StatusNotFound:
		return Cart{UserID: userID, StoreID: storeID}, nil
	default:
		return Cart{}, fmt.Errorf("get cart: cart service returned %d", resp.StatusCode())
	}
}

func (c *HTTPClient) Clear(ctx context.Context, userID, storeID string) error {
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"userID": userID, "storeID": storeID}).
		Delete("/api/v1/users/{userID}/carts/{storeID}")
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("clear cart: cart service returned %d", resp.StatusCode())
	}
	return nil
}

func (c *HTTPClient) request(ctx context.Context) *resty.Request {
	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return c.http.R().SetContext(ctx).SetHeaders(headers)
}
