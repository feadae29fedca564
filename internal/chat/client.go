// Package chat sends chat-completion requests to GitHub Copilot,
// decoding either a single JSON response or an incrementally streamed
// event sequence into accumulated text. The requested model is resolved
// against the live catalog first, and a model-rejection response is
// retried exactly once against a ranked fallback.
package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"refpilot/internal/auth"
	"refpilot/pkg/models"
)

const (
	// CompletionURL is the Copilot chat completions endpoint.
	CompletionURL = "https://api.githubcopilot.com/chat/completions"

	defaultEditorVersion = "vscode/1.99.2"
	defaultPluginVersion = "copilot-chat/0.26.3"

	// maxErrorBodyChars bounds raw error text surfaced to callers when
	// the body is not a JSON error object.
	maxErrorBodyChars = 200
)

var (
	// ErrProviderUnavailable wraps transport-level failures.
	ErrProviderUnavailable = errors.New("could not reach GitHub Copilot")
	// ErrModelUnavailable marks a rejection of the requested model; the
	// client retries it once internally before surfacing it.
	ErrModelUnavailable = errors.New("the requested model is not available")
)

// StatusError is a provider rejection with a user-displayable message.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Message)
}

// Doer is the HTTP capability the client needs.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// TokenSource supplies a session token valid for the duration of one
// request, refreshing it when needed.
type TokenSource interface {
	SessionToken(ctx context.Context) (auth.SessionToken, error)
}

// ModelResolver maps requested models onto servable ones.
type ModelResolver interface {
	Resolve(ctx context.Context, requested string) string
	FallbackFor(ctx context.Context, rejected string) string
}

// Request is one chat-completion call. Messages are sent in exactly the
// order given.
type Request struct {
	Model    string
	Messages []models.ChatMessage
	// Stream selects incremental delivery; OnChunk then receives each
	// content delta together with the accumulated text so far. Chunk
	// boundaries carry no meaning.
	Stream  bool
	OnChunk func(delta, accumulated string)

	Temperature *float64
	MaxTokens   int
}

// Result is the completed response.
type Result struct {
	Content string
	Model   string
}

// Client is the streaming completion client for the remote provider.
type Client struct {
	client   Doer
	tokens   TokenSource
	resolver ModelResolver
	endpoint string

	editorVersion string
	pluginVersion string
}

// NewClient creates a client against the production completion
// endpoint.
func NewClient(client Doer, tokens TokenSource, resolver ModelResolver) *Client {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		client:        client,
		tokens:        tokens,
		resolver:      resolver,
		endpoint:      CompletionURL,
		editorVersion: defaultEditorVersion,
		pluginVersion: defaultPluginVersion,
	}
}

// Chat performs one completion. The session token is obtained (and
// refreshed if stale) first, the model resolved against the catalog,
// and a model-rejection response retried exactly once with a distinct
// fallback. All other rejections surface immediately. Cancelling ctx
// aborts the in-flight call and returns the context error, distinct
// from any provider failure.
func (c *Client) Chat(ctx context.Context, req Request) (*Result, error) {
	token, err := c.tokens.SessionToken(ctx)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if c.resolver != nil {
		model = c.resolver.Resolve(ctx, req.Model)
	}

	payload, vision, err := buildPayload(model, req)
	if err != nil {
		return nil, err
	}

	result, err := c.attempt(ctx, token.Value, payload, req, model, vision)
	if err == nil || !errors.Is(err, ErrModelUnavailable) || c.resolver == nil {
		return result, err
	}

	fallback := c.resolver.FallbackFor(ctx, model)
	if fallback == "" || fallback == model {
		return nil, err
	}

	log.Warnf("chat: model %q rejected, retrying once with %q", model, fallback)
	payload, setErr := sjson.SetBytes(payload, "model", fallback)
	if setErr != nil {
		return nil, err
	}
	return c.attempt(ctx, token.Value, payload, req, fallback, vision)
}

// attempt sends one request and decodes its response.
func (c *Client) attempt(ctx context.Context, token string, payload []byte, req Request, model string, vision bool) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq, token, vision)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeErrorResponse(resp)
	}

	if req.Stream {
		content, err := ScanEventStream(ctx, resp.Body, req.OnChunk)
		if err != nil {
			return nil, err
		}
		return &Result{Content: content, Model: model}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
			return nil, &StatusError{Code: resp.StatusCode, Message: msg}
		}
		return nil, errors.New("completion response carried no choices")
	}
	return &Result{Content: content.String(), Model: model}, nil
}

// setHeaders applies the header set the Copilot API requires. The
// vision header is sent only when the outgoing messages carry an image
// part.
func (c *Client) setHeaders(req *http.Request, token string, vision bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Editor-Version", c.editorVersion)
	req.Header.Set("Editor-Plugin-Version", c.pluginVersion)
	req.Header.Set("Copilot-Integration-Id", "vscode-chat")
	req.Header.Set("User-Agent", "GitHubCopilotChat/"+strings.TrimPrefix(c.pluginVersion, "copilot-chat/"))
	req.Header.Set("OpenAI-Intent", "conversation-agent")
	req.Header.Set("X-GitHub-API-Version", "2025-04-01")
	req.Header.Set("X-Initiator", "user")
	req.Header.Set("X-Interaction-Type", "conversation-agent")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if vision {
		req.Header.Set("Copilot-Vision-Request", "true")
	}
}

type wirePayload struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

// buildPayload serializes the request, rewriting messages with image
// attachments into multi-part content. It reports whether any image
// part went out, which decides the vision header.
func buildPayload(model string, req Request) ([]byte, bool, error) {
	vision := false
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if !m.HasImages() {
			messages = append(messages, wireMessage{Role: string(m.Role), Content: m.Text})
			continue
		}
		vision = true
		parts := []wirePart{{Type: "text", Text: m.Text}}
		for _, img := range m.Images {
			parts = append(parts, wirePart{
				Type:     "image_url",
				ImageURL: &wireImageURL{URL: dataURL(img)},
			})
		}
		messages = append(messages, wireMessage{Role: string(m.Role), Content: parts})
	}

	payload, err := json.Marshal(wirePayload{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	})
	if err != nil {
		return nil, false, err
	}
	return payload, vision, nil
}

func dataURL(img models.ImageAttachment) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// decodeErrorResponse turns a non-200 response into a typed error.
// 401 and 403 get fixed, user-actionable copy; a model-rejection 4xx
// becomes ErrModelUnavailable so Chat can retry it; everything else
// carries the JSON error message, else the raw body truncated.
func decodeErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &StatusError{Code: resp.StatusCode, Message: "GitHub Copilot rejected the session token; sign in again"}
	case http.StatusForbidden:
		return &StatusError{Code: resp.StatusCode, Message: "this GitHub account does not have access to Copilot chat"}
	}

	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = truncate(strings.TrimSpace(string(body)), maxErrorBodyChars)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && looksLikeModelRejection(body, msg) {
		return fmt.Errorf("%w: %s", ErrModelUnavailable, msg)
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

func looksLikeModelRejection(body []byte, msg string) bool {
	code := gjson.GetBytes(body, "error.code").String()
	return strings.Contains(strings.ToLower(code), "model") ||
		strings.Contains(strings.ToLower(msg), "model")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
