// Package models defines the plain data types exchanged between the
// provider clients and their collaborators: chat messages, image
// attachments, and provider identity.
package models

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem marks instructions that frame the conversation.
	RoleSystem Role = "system"
	// RoleUser marks messages authored by the person driving the chat.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the model.
	RoleAssistant Role = "assistant"
)

// ImageAttachment carries raw image bytes attached to a chat message.
// Each wire dialect encodes the bytes itself (base64 data URL or bare
// base64), so the attachment stays encoding-agnostic.
type ImageAttachment struct {
	// MIMEType is the image media type, e.g. "image/png".
	MIMEType string
	// Data holds the raw, un-encoded image bytes.
	Data []byte
}

// ChatMessage is one entry of a conversation. Messages are immutable
// once appended to a request; their order is the conversational order
// and must be preserved exactly on the wire.
type ChatMessage struct {
	Role   Role
	Text   string
	Images []ImageAttachment
}

// HasImages reports whether the message carries at least one attachment.
func (m ChatMessage) HasImages() bool {
	return len(m.Images) > 0
}

// User describes the authenticated provider account. Identity is
// cosmetic; every field may be empty.
type User struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}
