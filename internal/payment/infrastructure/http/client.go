package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/dmehra2102/multistore-checkout/internal/payment/domain"
)

// Client talks to the payment gateway service. Transport failures and
// timeouts come back as errors; a decline is a ChargeResult.
type Client struct {
	log  *slog.Logger
	http *resty.Client
}

func NewClient(log *slog.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		log: log,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	var out domain.ChargeResult
	if err := c.post(ctx, "/v1/charges", req, &out); err != nil {
		return domain.ChargeResult{}, fmt.Errorf("charge order %s: %w", req.OrderID, err)
	}
	return out, nil
}

func (c *Client) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	var out domain.RefundResult
	if err := c.post(ctx, "/v1/refunds", req, &out); err != nil {
		return domain.RefundResult{}, fmt.Errorf("refund order %s: %w", req.OrderID, err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return err
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
		return nil
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, apiErr.Error)
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrNotRefundable, apiErr.Error)
	default:
		c.log.Warn("payment gateway error", "path", path, "status", code, "error", apiErr.Error)
		return fmt.Errorf("payment gateway returned %d", code)
	}
}
