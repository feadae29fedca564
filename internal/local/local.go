// Package local talks to self-hosted model servers on the local
// network. No authentication or catalog resolution is involved; the
// two supported dialects differ in streaming format and image
// encoding. An unreachable server is an expected steady state, so
// connection probes report a structured status instead of failing.
package local

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"refpilot/pkg/models"
)

// Provider selects the wire dialect of a local server.
type Provider string

const (
	// ProviderOllama is the native Ollama API: NDJSON streaming,
	// images as bare base64 strings per message.
	ProviderOllama Provider = "ollama"
	// ProviderOpenAICompat is the OpenAI-compatible API served by
	// LM Studio and similar: SSE streaming, multi-part image content.
	ProviderOpenAICompat Provider = "openai-compat"
)

// Default base URLs for the supported providers.
const (
	DefaultOllamaURL       = "http://localhost:11434"
	DefaultOpenAICompatURL = "http://localhost:1234/v1"
)

// ErrUnknownProvider is returned for a provider value outside the two
// supported dialects.
var ErrUnknownProvider = errors.New("unknown local provider")

// ConnectionStatus is the outcome of probing a local server.
type ConnectionStatus struct {
	Connected bool
	Models    []string
	Err       string
}

// Request is one local completion call; it mirrors the remote client's
// request minus authentication concerns.
type Request struct {
	Provider Provider
	Model    string
	Messages []models.ChatMessage
	Stream   bool
	OnChunk  func(delta, accumulated string)

	Temperature *float64
	MaxTokens   int
}

// Result is the completed response.
type Result struct {
	Content string
	Model   string
}

// Doer is the HTTP capability the client needs.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client issues chat requests against local providers.
type Client struct {
	client          Doer
	ollamaURL       string
	openAICompatURL string
}

// NewClient creates a local-provider client. Empty URLs fall back to
// the conventional localhost ports.
func NewClient(client Doer, ollamaURL, openAICompatURL string) *Client {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if ollamaURL == "" {
		ollamaURL = DefaultOllamaURL
	}
	if openAICompatURL == "" {
		openAICompatURL = DefaultOpenAICompatURL
	}
	return &Client{
		client:          client,
		ollamaURL:       strings.TrimSuffix(ollamaURL, "/"),
		openAICompatURL: strings.TrimSuffix(openAICompatURL, "/"),
	}
}

// CheckConnection probes the provider's well-known endpoint and parses
// its model list. A server that is not running yields
// {Connected: false, Err: ...} rather than an error.
func (c *Client) CheckConnection(ctx context.Context, provider Provider) ConnectionStatus {
	switch provider {
	case ProviderOllama:
		return c.probe(ctx, c.ollamaURL+"/api/tags", "models.#.name")
	case ProviderOpenAICompat:
		return c.probe(ctx, c.openAICompatURL+"/models", "data.#.id")
	default:
		return ConnectionStatus{Err: fmt.Sprintf("unknown local provider %q", provider)}
	}
}

// Chat dispatches to the provider's dialect. Image attachments are
// rewritten into the dialect's expected shape; streaming deltas are
// accumulated and forwarded to OnChunk as they arrive.
func (c *Client) Chat(ctx context.Context, req Request) (*Result, error) {
	switch req.Provider {
	case ProviderOllama:
		return c.chatOllama(ctx, req)
	case ProviderOpenAICompat:
		return c.chatOpenAICompat(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}
}

func encodeImage(img models.ImageAttachment) string {
	return base64.StdEncoding.EncodeToString(img.Data)
}
