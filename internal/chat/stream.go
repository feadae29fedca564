package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// streamDataPrefix starts every event frame carrying a payload.
	streamDataPrefix = "data: "
	// streamDoneSentinel terminates the event stream.
	streamDoneSentinel = "[DONE]"
)

// ScanEventStream decodes a newline-delimited event stream of chat
// completion chunks into accumulated content. Each content delta is
// appended to the accumulator and forwarded to onChunk synchronously as
// it arrives. Blank and unparsable frames are skipped; an error object
// embedded in a frame is captured and surfaced only if the stream ends
// with nothing accumulated. Context cancellation returns the context
// error with whatever content had accumulated by then.
func ScanEventStream(ctx context.Context, body io.Reader, onChunk func(delta, accumulated string)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var accumulated strings.Builder
	var embeddedErr string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return accumulated.String(), ctx.Err()
		}

		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, streamDataPrefix) {
			continue
		}
		data := strings.TrimPrefix(line, streamDataPrefix)
		if data == streamDoneSentinel {
			break
		}
		if !gjson.Valid(data) {
			continue
		}

		frame := gjson.Parse(data)
		if errField := frame.Get("error"); errField.Exists() {
			if msg := errField.Get("message").String(); msg != "" {
				embeddedErr = msg
			} else {
				embeddedErr = errField.String()
			}
			continue
		}

		delta := frame.Get("choices.0.delta.content").String()
		if delta == "" {
			continue
		}
		accumulated.WriteString(delta)
		if onChunk != nil {
			onChunk(delta, accumulated.String())
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return accumulated.String(), ctx.Err()
		}
		return accumulated.String(), fmt.Errorf("read event stream: %w", err)
	}
	if accumulated.Len() == 0 && embeddedErr != "" {
		return "", fmt.Errorf("provider stream error: %s", embeddedErr)
	}
	return accumulated.String(), nil
}
