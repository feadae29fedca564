package main

import (
	"os"
	"path/filepath"
	"testing"

	"refpilot/pkg/models"
)

func TestBuildMessages(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "figure.jpg")
	if err := os.WriteFile(imgPath, []byte{0xff, 0xd8, 0xff}, 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := ChatCmd{
		Prompt: []string{"describe", "this"},
		System: "be terse",
		Image:  []string{imgPath},
	}
	msgs, err := cmd.buildMessages()
	if err != nil {
		t.Fatalf("buildMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem || msgs[0].Text != "be terse" {
		t.Errorf("unexpected system message: %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleUser || msgs[1].Text != "describe this" {
		t.Errorf("unexpected user message: %+v", msgs[1])
	}
	if len(msgs[1].Images) != 1 || msgs[1].Images[0].MIMEType != "image/jpeg" {
		t.Errorf("unexpected image attachment: %+v", msgs[1].Images)
	}
}

func TestMimeTypeForFile(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.jpg", "image/jpeg"},
		{"a.JPEG", "image/jpeg"},
		{"a.gif", "image/gif"},
		{"a.webp", "image/webp"},
		{"a.png", "image/png"},
		{"noext", "image/png"},
	}
	for _, tt := range tests {
		if got := mimeTypeForFile(tt.path); got != tt.want {
			t.Errorf("mimeTypeForFile(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
