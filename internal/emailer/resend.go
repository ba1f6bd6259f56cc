// Package emailer sends transactional email through the Resend REST
// API with a fixed sender address and application tagging.
package emailer

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

	"go.uber.org/zap"
)

// DefaultBaseURL is the Resend API endpoint.
const DefaultBaseURL = "https://api.resend.com"

// DefaultFromAddress is used until a verified sender is configured.
const DefaultFromAddress = "onboarding@resend.dev"

// appTagValue tags every outbound message with the owning application.
const appTagValue = "faddlmatch"

var (
	// ErrMissingAPIKey indicates the client was configured without credentials.
	ErrMissingAPIKey = errors.New("emailer.missing_api_key")
	// ErrNoRecipients indicates a send without any recipient address.
	ErrNoRecipients = errors.New("emailer.no_recipients")
)

// ProviderError reports a non-2xx response from the email provider.
// The message is safe to surface; credentials never appear in it.
type ProviderError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (providerErr *ProviderError) Error() string {
	return fmt.Sprintf("emailer.provider: status %d: %s", providerErr.Status, providerErr.Message)
}

// Tag labels a message for provider-side analytics.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is one transactional email.
type Message struct {
	To        []string
	Subject   string
	HTML      string
	Text      string
	EmailType string
}

// SendResult reports a delivered message.
type SendResult struct {
	MessageID  string
	StatusCode int
}

// Config configures the Client.
type Config struct {
	APIKey      string
	FromAddress string
	BaseURL     string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client is a Resend API client.
type Client struct {
	apiKey      string
	fromAddress string
	baseURL     string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient constructs a Client.
func NewClient(configuration Config) (*Client, error) {
	if strings.TrimSpace(configuration.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	fromAddress := configuration.FromAddress
	if fromAddress == "" {
		fromAddress = DefaultFromAddress
	}
	baseURL := configuration.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiKey:      configuration.APIKey,
		fromAddress: fromAddress,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// FromAddress returns the configured sender.
func (client *Client) FromAddress() string {
	return client.fromAddress
}

// Send delivers one message through the provider.
func (client *Client) Send(ctx context.Context, message Message) (*SendResult, error) {
	if len(message.To) == 0 {
		return nil, ErrNoRecipients
	}
	emailType := message.EmailType
	if emailType == "" {
		emailType = "general"
	}
	payload := map[string]any{
		"from":    client.fromAddress,
		"to":      message.To,
		"subject": message.Subject,
		"html":    message.HTML,
		"tags": []Tag{
			{Name: "app", Value: appTagValue},
			{Name: "type", Value: emailType},
		},
	}
	if message.Text != "" {
		payload["text"] = message.Text
	}
	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		return nil, fmt.Errorf("emailer.send.encode: %w", encodeErr)
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/emails", bytes.NewReader(encoded))
	if requestErr != nil {
		return nil, fmt.Errorf("emailer.send.request: %w", requestErr)
	}
	request.Header.Set("Authorization", "Bearer "+client.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return nil, fmt.Errorf("emailer.send: %w", doErr)
	}
	defer func() { _ = response.Body.Close() }()

	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if readErr != nil {
		return nil, fmt.Errorf("emailer.send.read: %w", readErr)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		var parsed struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(rawBody, &parsed)
		message := parsed.Message
		if message == "" {
			message = response.Status
		}
		return nil, &ProviderError{Status: response.StatusCode, Message: message}
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("emailer.send.decode: %w", err)
	}
	client.logger.Info("email sent",
		zap.String("code", "emailer.sent"),
		zap.String("message_id", parsed.ID),
		zap.String("type", emailType))
	return &SendResult{MessageID: parsed.ID, StatusCode: response.StatusCode}, nil
}
