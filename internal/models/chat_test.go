package models_test

import (
	"strings"
	"testing"

	"github.com/cadencehq/llm-web-chat/internal/models"
)

func TestRenderContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "plain text",
			content: "hello world",
			want:    "<p>hello world</p>",
		},
		{
			name:    "emphasis",
			content: "this is *important*",
			want:    "<em>important</em>",
		},
		{
			name:    "code fence",
			content: "```\nfmt.Println(\"hi\")\n```",
			want:    "fmt.Println",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.RenderContent(tt.content)
			if err != nil {
				t.Fatalf("RenderContent() error = %v", err)
			}
			if !strings.Contains(string(got), tt.want) {
				t.Errorf("RenderContent() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
