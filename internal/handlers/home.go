package handlers

import (
	"log/slog"
	"net/http"

	"github.com/cadencehq/llm-web-chat/internal/models"
)

type homePageData struct {
	Chats         []chatView
	CurrentChatID string
	Messages      []messageView
}

// HandleHome renders the home page with the list of chats and, when a chat_id
// query parameter is present, that chat's messages.
func (m *Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	chats, err := m.store.Chats(r.Context())
	if err != nil {
		m.logger.Error("Failed to get chats", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	currentChatID := r.URL.Query().Get("chat_id")

	chatViews := make([]chatView, len(chats))
	for i, ch := range chats {
		chatViews[i] = chatView{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == currentChatID,
		}
	}

	var msgs []messageView
	if currentChatID != "" {
		messages, err := m.store.Messages(r.Context(), currentChatID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("chatID", currentChatID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		msgs = make([]messageView, len(messages))
		for i := range messages {
			content, err := models.RenderContent(messages[i].Content)
			if err != nil {
				m.logger.Error("Failed to render content",
					slog.String("messageID", messages[i].ID),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			msgs[i] = messageView{
				ID:             messages[i].ID,
				Role:           string(messages[i].Role),
				Content:        content,
				Timestamp:      messages[i].Timestamp,
				StreamingState: "ended",
			}
		}
	}

	data := homePageData{
		Chats:         chatViews,
		CurrentChatID: currentChatID,
		Messages:      msgs,
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
