package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v18.0"
	DefaultTimeout    = 10 * time.Second

	maxAPIResponseBytes = 1 << 20
)

// Sender delivers a text message to a recipient.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
}

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	StatusCode int
	Code       int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph api returned status %d: %s (type=%s code=%d)", e.StatusCode, e.Message, e.Type, e.Code)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL         string
	APIVersion      string
	PageAccessToken string
	HTTPClient      *http.Client
}

// Client is a Sender backed by the Graph Send API.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewClient creates a Send API client.
func NewClient(cfg ClientConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		endpoint: fmt.Sprintf("%s/%s/me/messages", base, version),
		token:    cfg.PageAccessToken,
		client:   httpClient,
	}
}

type sendRequest struct {
	Recipient     recipient   `json:"recipient"`
	MessagingType string      `json:"messaging_type"`
	Message       sendMessage `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type sendMessage struct {
	Text string `json:"text"`
}

type graphErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts one text message. It makes a single attempt.
func (c *Client) Send(ctx context.Context, recipientID, text string) error {
	data, err := json.Marshal(sendRequest{
		Recipient:     recipient{ID: recipientID},
		MessagingType: "RESPONSE",
		Message:       sendMessage{Text: text},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	target := c.endpoint + "?access_token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", c.scrub(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", c.scrub(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body graphErrorBody
		if json.Unmarshal(respBody, &body) == nil {
			apiErr.Code = body.Error.Code
			apiErr.Type = body.Error.Type
			apiErr.Message = body.Error.Message
		}
		return apiErr
	}

	return nil
}

// scrub keeps the access token out of transport errors.
func (c *Client) scrub(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = c.endpoint
	}
	return err
}
