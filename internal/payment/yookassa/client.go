// Package yookassa is a minimal YooKassa API client implementing the payment
// gateway contract.
package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"stepbystep_bot/internal/domain"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.yookassa.ru/v3"

const maxErrorBody = 4 << 10

// Config holds the shop credentials and invoice parameters.
type Config struct {
	ShopID      string
	SecretKey   string
	ReturnURL   string
	Amount      string
	Currency    string
	Description string
	BaseURL     string
}

// Client talks to the YooKassa payments API.
type Client struct {
	cfg     Config
	http    *http.Client
	newKey  func() string
	baseURL string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.http = c
		}
	}
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ShopID) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("yookassa shop id and secret key are required")
	}
	if _, err := strconv.ParseFloat(cfg.Amount, 64); err != nil {
		return nil, fmt.Errorf("invalid payment amount %q: %w", cfg.Amount, err)
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return nil, errors.New("payment currency is required")
	}

	base := strings.TrimRight(firstNonEmpty(cfg.BaseURL, DefaultBaseURL), "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid yookassa base url: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		newKey:  func() string { return uuid.NewString() },
		baseURL: base,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type createRequest struct {
	Amount       amount            `json:"amount"`
	Confirmation confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type paymentResponse struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	Confirmation confirmation `json:"confirmation"`
}

// Create opens a redirect payment for the user and returns its id and
// confirmation URL. Every call uses a fresh idempotence key.
func (c *Client) Create(ctx context.Context, userID int64) (domain.Invoice, error) {
	if c == nil {
		return domain.Invoice{}, errors.New("yookassa client is not initialized")
	}

	body := createRequest{
		Amount:       amount{Value: c.cfg.Amount, Currency: c.cfg.Currency},
		Confirmation: confirmation{Type: "redirect", ReturnURL: c.cfg.ReturnURL},
		Capture:      true,
		Description:  c.cfg.Description,
		Metadata:     map[string]string{"user_id": strconv.FormatInt(userID, 10)},
	}

	var resp paymentResponse
	if err := c.do(ctx, http.MethodPost, "/payments", body, &resp); err != nil {
		return domain.Invoice{}, fmt.Errorf("create payment: %w", err)
	}
	if resp.ID == "" || resp.Confirmation.ConfirmationURL == "" {
		return domain.Invoice{}, errors.New("create payment: response is missing id or confirmation url")
	}

	return domain.Invoice{Reference: resp.ID, URL: resp.Confirmation.ConfirmationURL}, nil
}

// Status fetches the payment and maps its status.
func (c *Client) Status(ctx context.Context, reference string) (domain.PaymentStatus, error) {
	if c == nil {
		return domain.PaymentUnknown, errors.New("yookassa client is not initialized")
	}
	if reference == "" {
		return domain.PaymentUnknown, errors.New("payment reference is required")
	}

	var resp paymentResponse
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(reference), nil, &resp); err != nil {
		return domain.PaymentUnknown, fmt.Errorf("get payment: %w", err)
	}

	return mapStatus(resp.Status), nil
}

func mapStatus(status string) domain.PaymentStatus {
	switch status {
	case "pending", "waiting_for_capture":
		return domain.PaymentPending
	case "succeeded":
		return domain.PaymentSucceeded
	case "canceled":
		return domain.PaymentCanceled
	default:
		return domain.PaymentUnknown
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode  int
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("yookassa: http %d: %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("yookassa: http %d", e.StatusCode)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", c.newKey())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
