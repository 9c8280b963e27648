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

const defaultWhatsAppBaseURL = "https://graph.facebook.com/v19.0"

type WhatsAppConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Language      string
	// RateLimit is messages per second; 0 means 10.
	RateLimit float64
	Client    *http.Client
	Logger    *slog.Logger
}

// WhatsAppClient sends template messages through the WhatsApp Business Cloud API.
// Sends are not retried: the API has no idempotency key.
type WhatsAppClient struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	language      string
	limiter       *rate.Limiter
	httpClient    *http.Client
	logger        *slog.Logger
}

func NewWhatsAppClient(cfg WhatsAppConfig) *WhatsAppClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultWhatsAppBaseURL
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lang := cfg.Language
	if lang == "" {
		lang = "ru"
	}
	return &WhatsAppClient{
		baseURL:       base,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		language:      lang,
		limiter:       rate.NewLimiter(rate.Limit(limit), int(limit)+1),
		httpClient:    client,
		logger:        logger,
	}
}

func (c *WhatsAppClient) Configured() bool {
	return c != nil && c.phoneNumberID != "" && c.accessToken != ""
}

type waParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type waComponent struct {
	Type       string        `json:"type"`
	Parameters []waParameter `json:"parameters"`
}

type waTemplate struct {
	Name     string `json:"name"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	Components []waComponent `json:"components,omitempty"`
}

type waMessage struct {
	MessagingProduct string     `json:"messaging_product"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Template         waTemplate `json:"template"`
}

func (c *WhatsAppClient) SendTemplate(ctx context.Context, phone, template string, params []string) error {
	if !c.Configured() {
		return errors.New("whatsapp: not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := waMessage{MessagingProduct: "whatsapp", To: phone, Type: "template"}
	msg.Template.Name = template
	msg.Template.Language.Code = c.language
	if len(params) > 0 {
		comp := waComponent{Type: "body"}
		for _, p := range params {
			comp.Parameters = append(comp.Parameters, waParameter{Type: "text", Text: p})
		}
		msg.Template.Components = []waComponent{comp}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ExternalError{Service: "whatsapp", StatusCode: resp.StatusCode, Body: string(b)}
	}
	c.logger.Debug("whatsapp message accepted", "template", template)
	return nil
}
