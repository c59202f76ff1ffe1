// Package gateway talks to the external marketplace platform. Calls either
// succeed or report a failure; the client timeout bounds every request and the
// circuit breaker fails fast while the platform is unhealthy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ShipmentResult is the gateway's verdict for one arrange_shipment call.
type ShipmentResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Gateway interface {
	ArrangeShipment(ctx context.Context, channel domain.Channel, orderIDs []string) (ShipmentResult, error)
}

// NoopGateway accepts everything. It is used when no platform is configured.
type NoopGateway struct{}

func (NoopGateway) ArrangeShipment(ctx context.Context, channel domain.Channel, orderIDs []string) (ShipmentResult, error) {
	return ShipmentResult{Success: true, Message: "gateway disabled"}, nil
}

// New returns an HTTP gateway when enabled, otherwise a NoopGateway.
func New(cfg config.GatewayConfig) Gateway {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return NoopGateway{}
	}
	return NewHTTPGateway(cfg, nil)
}

type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type arrangeRequest struct {
	Channel  domain.Channel `json:"channel"`
	OrderIDs []string       `json:"order_ids"`
}

// NewHTTPGateway builds the client. A nil httpClient gets one with the
// configured timeout.
func NewHTTPGateway(cfg config.GatewayConfig, httpClient *http.Client) *HTTPGateway {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openFor := time.Duration(cfg.OpenSeconds) * time.Second
	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "platform-gateway",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient,
		breaker: breaker,
	}
}

// ArrangeShipment asks the platform to arrange pickup for orderIDs. A declined
// request comes back as Success=false without an error; transport failures and
// 5xx responses return an error and count against the breaker.
func (g *HTTPGateway) ArrangeShipment(ctx context.Context, channel domain.Channel, orderIDs []string) (ShipmentResult, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.post(ctx, arrangeRequest{Channel: channel, OrderIDs: orderIDs})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ShipmentResult{}, fmt.Errorf("platform gateway unavailable: %w", err)
	}
	if err != nil {
		return ShipmentResult{}, err
	}
	return out.(ShipmentResult), nil
}

func (g *HTTPGateway) post(ctx context.Context, body arrangeRequest) (ShipmentResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return ShipmentResult{}, fmt.Errorf("encode arrange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/shipments/arrange", bytes.NewReader(payload))
	if err != nil {
		return ShipmentResult{}, fmt.Errorf("build arrange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return ShipmentResult{}, fmt.Errorf("arrange shipment: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ShipmentResult{}, fmt.Errorf("read arrange response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return ShipmentResult{}, fmt.Errorf("arrange shipment: platform returned %d", resp.StatusCode)
	}

	var result ShipmentResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return ShipmentResult{}, fmt.Errorf("decode arrange response: %w", err)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		result.Success = false
		if result.Message == "" {
			result.Message = fmt.Sprintf("platform returned %d", resp.StatusCode)
		}
	}
	return result, nil
}
