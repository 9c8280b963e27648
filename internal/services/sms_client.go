package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type SMSConfig struct {
	BaseURL string
	APIKey  string
	Sender  string
	// RateLimit is messages per second; 0 means 5.
	RateLimit float64
	Client    *http.Client
	Logger    *slog.Logger
}

// SMSClient posts plain text messages to the SMS gateway. Sends are not retried.
type SMSClient struct {
	baseURL    string
	apiKey     string
	sender     string
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSMSClient(cfg SMSConfig) *SMSClient {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 5
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SMSClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		sender:     cfg.Sender,
		limiter:    rate.NewLimiter(rate.Limit(limit), int(limit)+1),
		httpClient: client,
		logger:     logger,
	}
}

func (c *SMSClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

type smsRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	From string `json:"from,omitempty"`
}

func (c *SMSClient) Send(ctx context.Context, phone, text string) error {
	if !c.Configured() {
		return errors.New("sms: not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(smsRequest{To: phone, Text: text, From: c.sender})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ExternalError{Service: "sms", StatusCode: resp.StatusCode, Body: string(b)}
	}
	c.logger.Debug("sms accepted")
	return nil
}
