package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype both sides use ("application/grpc+json").
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type CheckStockRequest struct {
	StoreID string `json:"storeId"`
	Items   []Item `json:"items"`
}

type Shortage struct {
	ProductID string `json:"productId"`
	Requested int32  `json:"requested"`
	Available int32  `json:"available"`
}

type CheckStockResponse struct {
	Available bool       `json:"available"`
	Shortages []Shortage `json:"shortages,omitempty"`
}
