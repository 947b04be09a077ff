package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/paidflow/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
)

// Config holds payment service settings
type Config struct {
	BaseURL            string
	APIKey             string
	AgentIdentifier    string
	Network            string
	PayByWindow        time.Duration
	SubmitResultWindow time.Duration
	PollInterval       time.Duration
	RequestTimeout     time.Duration
	Clock              clockwork.Clock
}

// Client is a Bridge backed by the payment service HTTP API.
type Client struct {
	config *Config
	http   *http.Client
	clock  clockwork.Clock
	logger *slog.Logger

	mu       sync.Mutex
	monitors map[string]*monitor
}

// confirmedStates are on-chain states meaning the purchaser's funds are locked.
var confirmedStates = map[string]bool{
	"fundslocked":     true,
	"resultsubmitted": true,
}

// NewClient creates a new payment service client
func NewClient(config *Config, logger *slog.Logger) *Client {
	cfg := *config
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Client{
		config:   &cfg,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		clock:    clock,
		logger:   logger,
		monitors: make(map[string]*monitor),
	}
}

// CreatePaymentRequest opens a payment for req.
func (c *Client) CreatePaymentRequest(ctx context.Context, req Request) (*PaymentRequest, error) {
	now := c.clock.Now().UTC()
	body := map[string]any{
		"agentIdentifier":         c.config.AgentIdentifier,
		"network":                 c.config.Network,
		"inputHash":               req.InputHash,
		"identifierFromPurchaser": req.PurchaserID,
		"payByTime":               now.Add(c.config.PayByWindow).Format(time.RFC3339),
		"submitResultTime":        now.Add(c.config.SubmitResultWindow).Format(time.RFC3339),
		"metadata":                "",
	}

	resp, err := c.post(ctx, "/payment/", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentRequest, err)
	}

	if gjson.GetBytes(resp, "status").String() != "success" {
		return nil, fmt.Errorf("%w: unexpected response: %s", domain.ErrPaymentRequest, truncate(string(resp)))
	}
	data := gjson.GetBytes(resp, "data")
	reference := data.Get("blockchainIdentifier").String()
	if reference == "" {
		return nil, fmt.Errorf("%w: blockchainIdentifier missing from response", domain.ErrPaymentRequest)
	}

	c.logger.Info("Payment request created",
		slog.String("payment_reference", truncate(reference)),
		slog.String("purchaser_id", req.PurchaserID),
	)

	return &PaymentRequest{
		Reference: reference,
		Window: domain.PaymentWindow{
			PayByTime:                 data.Get("payByTime").String(),
			SubmitResultTime:          data.Get("submitResultTime").String(),
			UnlockTime:                data.Get("unlockTime").String(),
			ExternalDisputeUnlockTime: data.Get("externalDisputeUnlockTime").String(),
		},
	}, nil
}

// MarkComplete submits the hash of evidence as the job result.
func (c *Client) MarkComplete(ctx context.Context, reference string, evidence []byte) error {
	sum := sha256.Sum256(evidence)
	body := map[string]any{
		"network":              c.config.Network,
		"blockchainIdentifier": reference,
		"submitResultHash":     hex.EncodeToString(sum[:]),
	}

	if _, err := c.post(ctx, "/payment/submit-result", body); err != nil {
		return fmt.Errorf("failed to mark payment complete: %w", err)
	}

	c.logger.Info("Payment marked complete",
		slog.String("payment_reference", truncate(reference)),
	)
	return nil
}

// onChainState returns the lower-cased on-chain state of reference.
func (c *Client) onChainState(ctx context.Context, reference string) (string, error) {
	body := map[string]any{
		"blockchainIdentifier": reference,
		"network":              c.config.Network,
		"includeHistory":       "false",
	}

	resp, err := c.post(ctx, "/payment/resolve-blockchain-identifier", body)
	if err != nil {
		return "", err
	}

	return strings.ToLower(gjson.GetBytes(resp, "data.onChainState").String()), nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("token", c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read payment service response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("payment service returned status %d: %s", resp.StatusCode, truncate(string(data)))
	}

	return data, nil
}

func truncate(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
