package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ollamaMessage is the native Ollama message shape: plain content with
// images as bare base64 strings alongside it.
type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaPayload struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

func (c *Client) chatOllama(ctx context.Context, req Request) (*Result, error) {
	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := ollamaMessage{Role: string(m.Role), Content: m.Text}
		for _, img := range m.Images {
			msg.Images = append(msg.Images, encodeImage(img))
		}
		messages = append(messages, msg)
	}

	payload, err := json.Marshal(ollamaPayload{Model: req.Model, Messages: messages, Stream: req.Stream})
	if err != nil {
		return nil, err
	}
	if req.Temperature != nil {
		payload, _ = sjson.SetBytes(payload, "options.temperature", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		payload, _ = sjson.SetBytes(payload, "options.num_predict", req.MaxTokens)
	}

	resp, err := c.post(ctx, c.ollamaURL+"/api/chat", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	if req.Stream {
		content, err := scanOllamaStream(ctx, resp.Body, req.OnChunk)
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
	if errMsg := gjson.GetBytes(body, "error").String(); errMsg != "" {
		return nil, fmt.Errorf("ollama error: %s", errMsg)
	}
	return &Result{Content: gjson.GetBytes(body, "message.content").String(), Model: req.Model}, nil
}

// scanOllamaStream decodes the native Ollama stream: one JSON object
// per line, content under message.content, terminated by done:true.
func scanOllamaStream(ctx context.Context, body io.Reader, onChunk func(delta, accumulated string)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var accumulated strings.Builder
	for scanner.Scan() {
		if ctx.Err() != nil {
			return accumulated.String(), ctx.Err()
		}
		line := scanner.Text()
		if line == "" || !gjson.Valid(line) {
			continue
		}
		frame := gjson.Parse(line)
		if errMsg := frame.Get("error").String(); errMsg != "" {
			return accumulated.String(), fmt.Errorf("ollama error: %s", errMsg)
		}
		if delta := frame.Get("message.content").String(); delta != "" {
			accumulated.WriteString(delta)
			if onChunk != nil {
				onChunk(delta, accumulated.String())
			}
		}
		if frame.Get("done").Bool() {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return accumulated.String(), ctx.Err()
		}
		return accumulated.String(), fmt.Errorf("read stream: %w", err)
	}
	return accumulated.String(), nil
}

func (c *Client) post(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("local provider unreachable: %w", err)
	}
	return resp, nil
}

// probe fetches a model-list endpoint and extracts identifiers with the
// given gjson path. Failures come back as a disconnected status.
func (c *Client) probe(ctx context.Context, url, idPath string) ConnectionStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ConnectionStatus{Err: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.Debugf("local: probe %s failed: %v", url, err)
		return ConnectionStatus{Err: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ConnectionStatus{Err: fmt.Sprintf("server returned status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ConnectionStatus{Err: err.Error()}
	}

	var ids []string
	for _, entry := range gjson.GetBytes(body, idPath).Array() {
		if id := entry.String(); id != "" {
			ids = append(ids, id)
		}
	}
	return ConnectionStatus{Connected: true, Models: ids}
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "error").String()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	return fmt.Errorf("local provider returned status %d: %s", resp.StatusCode, msg)
}
