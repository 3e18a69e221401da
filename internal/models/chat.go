package models

import (
	"bytes"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Chat represents a conversation container in the chat system.
type Chat struct {
	ID    string
	Title string

	// ConversationID is an opaque upstream conversation reference threaded
	// through streaming requests for multi-turn context. Its structure is not
	// interpreted here.
	ConversationID string

	// LastResponseID chains the next streaming request to the most recent
	// completed response.
	LastResponseID string
}

// Message is an individual entry within a chat. Assistant messages are only
// committed once their stream completes; a failed or cancelled stream commits
// nothing.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Role represents the role of a message participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("monokai"),
		),
	),
	goldmark.WithRendererOptions(
		goldmarkhtml.WithHardWraps(),
	),
)

// RenderContent converts a message's markdown content into HTML for the chat
// partials.
func RenderContent(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
