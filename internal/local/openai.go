package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"refpilot/internal/chat"
)

// openAIMessage carries either a plain string or multi-part content,
// matching the OpenAI-compatible dialect.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

func (c *Client) chatOpenAICompat(ctx context.Context, req Request) (*Result, error) {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if !m.HasImages() {
			messages = append(messages, openAIMessage{Role: string(m.Role), Content: m.Text})
			continue
		}
		parts := []openAIPart{{Type: "text", Text: m.Text}}
		for _, img := range m.Images {
			mime := img.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			parts = append(parts, openAIPart{
				Type:     "image_url",
				ImageURL: &openAIImageURL{URL: "data:" + mime + ";base64," + encodeImage(img)},
			})
		}
		messages = append(messages, openAIMessage{Role: string(m.Role), Content: parts})
	}

	payload, err := json.Marshal(openAIPayload{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, c.openAICompatURL+"/chat/completions", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	if req.Stream {
		content, err := chat.ScanEventStream(ctx, resp.Body, req.OnChunk)
		if err != nil {
			return nil, err
		}
		return &Result{Content: content, Model: req.Model}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	if errMsg := gjson.GetBytes(body, "error.message").String(); errMsg != "" {
		return nil, fmt.Errorf("local provider error: %s", errMsg)
	}
	return &Result{Content: gjson.GetBytes(body, "choices.0.message.content").String(), Model: req.Model}, nil
}
