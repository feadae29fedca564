package chat

import (
	"context"
	"strings"
	"testing"
)

func TestScanEventStreamAccumulates(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
		"data: [DONE]\n"

	var deltas []string
	var lastAccumulated string
	content, err := ScanEventStream(context.Background(), strings.NewReader(input), func(delta, accumulated string) {
		deltas = append(deltas, delta)
		lastAccumulated = accumulated
	})
	if err != nil {
		t.Fatalf("ScanEventStream() error = %v", err)
	}
	if content != "Hello" {
		t.Errorf("content = %q, want %q", content, "Hello")
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Errorf("deltas = %v, want [Hel lo]", deltas)
	}
	if lastAccumulated != "Hello" {
		t.Errorf("last accumulated = %q, want %q", lastAccumulated, "Hello")
	}
}

func TestScanEventStreamSkipsNoise(t *testing.T) {
	input := "\n" +
		": comment frame\n" +
		"data: not-json-at-all\n" +
		"data: {\"choices\":[{\"delta\":{}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: [DONE]\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"after done\"}}]}\n"

	content, err := ScanEventStream(context.Background(), strings.NewReader(input), nil)
	if err != nil {
		t.Fatalf("ScanEventStream() error = %v", err)
	}
	if content != "ok" {
		t.Errorf("content = %q, want %q", content, "ok")
	}
}

func TestScanEventStreamEmbeddedError(t *testing.T) {
	// With no content accumulated, the embedded error is the outcome.
	input := "data: {\"error\":{\"message\":\"rate limited\"}}\n" +
		"data: [DONE]\n"
	_, err := ScanEventStream(context.Background(), strings.NewReader(input), nil)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %v, want embedded provider error", err)
	}

	// With content accumulated, the stream still succeeds.
	input = "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n" +
		"data: {\"error\":{\"message\":\"rate limited\"}}\n" +
		"data: [DONE]\n"
	content, err := ScanEventStream(context.Background(), strings.NewReader(input), nil)
	if err != nil {
		t.Fatalf("ScanEventStream() error = %v", err)
	}
	if content != "partial" {
		t.Errorf("content = %q, want %q", content, "partial")
	}
}

func TestScanEventStreamStringError(t *testing.T) {
	input := "data: {\"error\":\"something broke\"}\n"
	_, err := ScanEventStream(context.Background(), strings.NewReader(input), nil)
	if err == nil || !strings.Contains(err.Error(), "something broke") {
		t.Errorf("error = %v, want embedded provider error", err)
	}
}
