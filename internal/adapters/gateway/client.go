package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
)

// Config holds the payment collector endpoint and credentials.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client talks JSON over HTTP to the external payment collector.
// Order references issued by the collector are opaque to this service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

type createOrderRequest struct {
	ReceiptID   string `json:"receiptId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	Purpose     string `json:"purpose"`
}

type createOrderResponse struct {
	Reference     string `json:"reference"`
	SessionHandle string `json:"sessionHandle"`
}

type orderStatusResponse struct {
	Status string `json:"status"`
}

func (c *Client) CreateOrder(ctx context.Context, orderID uuid.UUID, amountCents int64, currency string, purpose domain.PaymentPurpose) (ports.GatewayOrder, error) {
	body := createOrderRequest{
		ReceiptID:   orderID.String(),
		AmountCents: amountCents,
		Currency:    currency,
		Purpose:     string(purpose),
	}
	var res createOrderResponse
	if err := c.postJSON(ctx, "/v1/orders", body, &res); err != nil {
		return ports.GatewayOrder{}, err
	}
	if res.Reference == "" {
		return ports.GatewayOrder{}, errors.New("gateway returned empty order reference")
	}
	return ports.GatewayOrder{
		Reference:     res.Reference,
		SessionHandle: res.SessionHandle,
	}, nil
}

func (c *Client) OrderStatus(ctx context.Context, reference string) (ports.GatewayStatus, error) {
	if strings.TrimSpace(reference) == "" {
		return "", errors.New("order reference is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orders/"+reference, nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway status lookup: unexpected status %d", resp.StatusCode)
	}

	var res orderStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode gateway status: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(res.Status)) {
	case "succeeded", "paid", "captured":
		return ports.GatewayStatusSucceeded, nil
	case "failed", "cancelled", "expired":
		return ports.GatewayStatusFailed, nil
	default:
		return ports.GatewayStatusPending, nil
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body, dst any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
