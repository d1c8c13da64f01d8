// Package catalog resolves product display names from the external content
// system. Names are cosmetic: lookups never block a checkout.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("product not found")

type Lookup interface {
	ProductName(ctx context.Context, productID string) (string, error)
}

type HTTPClient struct {
	http *resty.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{http: resty.New().SetBaseURL(baseURL).SetTimeout(timeout)}
}

func (c *HTTPClient) ProductName(ctx context.Context, productID string) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("productID", productID).
		SetResult(&out).
		Get("/api/v1/products/{productID}")
	if err != nil {
		return "", err
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		if out.Name == "" {
			return "", ErrNotFound
		}
		return out.Name, nil
	case http.StatusNotFound:
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("catalog returned %d", resp.StatusCode())
	}
}

// Cached keeps names in Redis for ttl in front of another Lookup.
type Cached struct {
	log  *slog.Logger
	next Lookup
	rdb  redis.Cmdable
	ttl  time.Duration
}

func NewCached(log *slog.Logger, next Lookup, rdb redis.Cmdable, ttl time.Duration) *Cached {
	return &Cached{log: log, next: next, rdb: rdb, ttl: ttl}
}

func (c *Cached) ProductName(ctx context.Context, productID string) (string, error) {
	key := "catalog:name:" + productID
	name, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.log.Warn("catalog cache read failed", "product_id", productID, "err", err)
	}

	name, err = c.next.ProductName(ctx, productID)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, name, c.ttl).Err(); err != nil {
		c.log.Warn("catalog cache write failed", "product_id", productID, "err", err)
	}
	return name, nil
}

// Static serves names from a fixed map, for local runs.
type Static map[string]string

func (s Static) ProductName(ctx context.Context, productID string) (string, error) {
	if name, ok := s[productID]; ok {
		return name, nil
	}
	return "", ErrNotFound
}

// Names resolves display names and falls back to a placeholder on any
// lookup failure.
type Names struct {
	log     *slog.Logger
	lookup  Lookup
	timeout time.Duration
}

func NewNames(log *slog.Logger, lookup Lookup, timeout time.Duration) *Names {
	return &Names{log: log, lookup: lookup, timeout: timeout}
}

func (n *Names) Resolve(ctx context.Context, productID string) string {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	name, err := n.lookup.ProductName(ctx, productID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			n.log.Warn("product name lookup failed", "product_id", productID, "err", err)
		}
		return Placeholder(productID)
	}
	return name
}

func Placeholder(productID string) string {
	return "Product " + productID
}
