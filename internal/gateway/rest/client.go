// Package rest is the concrete RawClient talking to the exchange's REST
// order API. It normalizes inputs to exchange-native form before transport
// and classifies every failure into the gateway's closed error-kind set.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pms-engine/execcore/internal/gateway"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// Client is a net/http-backed RawClient. Signing and listen-key management
// are out of this spec's scope — the exchange's signing middleware is
// assumed to wrap httpClient via its Transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a REST RawClient against baseURL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type orderWire struct {
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price,omitempty"`
	StopPrice     float64 `json:"stopPrice,omitempty"`
	ReduceOnly    bool    `json:"reduceOnly,omitempty"`
}

type orderAck struct {
	ExchangeOrderID string `json:"orderId"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"msg,omitempty"`
}

// Place submits an order. The exchange-native symbol and buy/sell side
// conversion happens once, here, at the REST boundary.
func (c *Client) Place(ctx context.Context, req gateway.PlaceRequest) (gateway.PlaceResponse, error) {
	wire := orderWire{
		ClientOrderID: req.ClientOrderID,
		Symbol:        symbolfmt.Join(req.Symbol),
		Side:          string(req.Side),
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		ReduceOnly:    req.ReduceOnly,
	}

	var ack orderAck
	if err := c.doJSON(ctx, http.MethodPost, "/v1/order", wire, &ack); err != nil {
		return gateway.PlaceResponse{}, err
	}
	if ack.Code != "" {
		return gateway.PlaceResponse{}, &gateway.TransportError{
			Kind: gateway.ClassifyCode(ack.Code),
			Code: ack.Code,
			Err:  fmt.Errorf("%s", ack.Message),
		}
	}
	return gateway.PlaceResponse{ExchangeOrderID: ack.ExchangeOrderID}, nil
}

// Cancel cancels an order by exchange id.
func (c *Client) Cancel(ctx context.Context, exchangeOrderID, symbol string) error {
	var ack orderAck
	path := fmt.Sprintf("/v1/order?orderId=%s&symbol=%s", exchangeOrderID, symbolfmt.Join(symbol))
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &ack); err != nil {
		return err
	}
	if ack.Code != "" {
		return &gateway.TransportError{
			Kind: gateway.ClassifyCode(ack.Code),
			Code: ack.Code,
			Err:  fmt.Errorf("%s", ack.Message),
		}
	}
	return nil
}

// ServerTime fetches the exchange's clock for the startup offset computation.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var out struct {
		ServerTimeMs int64 `json:"serverTime"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/time", nil, &out); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(out.ServerTimeMs), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &gateway.TransportError{Kind: gateway.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &gateway.TransportError{Kind: gateway.KindTransient, Code: resp.Status, Err: fmt.Errorf("server error")}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
