package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cadencehq/llm-web-chat/internal/models"
	"github.com/cadencehq/llm-web-chat/internal/stream"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

type chatView struct {
	ID    string
	Title string

	Active bool
}

type messageView struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
}

// HandleChats processes chat interactions through HTTP POST requests, managing
// both new chat creation and message handling. It accepts a "message" form
// field and an optional "chat_id" field; without a chat_id it creates a new
// chat. The user message is committed synchronously, a placeholder assistant
// message is created, and the streaming session runs asynchronously, pushing
// updates to the browser over SSE.
//
// Only one stream may be in flight per chat; a send against a chat that is
// already streaming is rejected with 409.
func (m *Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	input := r.FormValue("message")
	if input == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	var err error

	chatID := r.FormValue("chat_id")
	// Track whether this is a new chat to pick the template rendering strategy.
	isNewChat := false
	if chatID == "" {
		chatID, err = m.newChat()
		if err != nil {
			m.logger.Error("Failed to create new chat", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		isNewChat = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	if !m.tryAcquire(chatID, cancel) {
		cancel()
		http.Error(w, "A response is already streaming for this chat", http.StatusConflict)
		return
	}
	// Until the streaming goroutine takes over, failures must free the slot.
	started := false
	defer func() {
		if !started {
			cancel()
			m.release(chatID)
		}
	}()

	um := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   input,
		Timestamp: time.Now(),
	}
	userMsgID, err := m.store.AddMessage(r.Context(), chatID, um)
	if err != nil {
		m.logger.Error("Failed to add user message",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	um.ID = userMsgID

	// Empty assistant placeholder; its content streams in over SSE and is only
	// committed once the session completes.
	am := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
	}
	aiMsgID, err := m.store.AddMessage(r.Context(), chatID, am)
	if err != nil {
		m.logger.Error("Failed to add assistant message",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	am.ID = aiMsgID

	started = true
	go m.streamResponse(ctx, cancel, chatID, am, input)

	if isNewChat {
		go m.generateChatTitle(chatID, input)

		messages, err := m.store.Messages(r.Context(), chatID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("chatID", chatID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		msgs := make([]messageView, len(messages))
		for i := range messages {
			// Only the assistant placeholder is still loading.
			streamingState := "ended"
			if messages[i].ID == aiMsgID {
				streamingState = "loading"
			}
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
				StreamingState: streamingState,
			}
		}

		data := homePageData{
			CurrentChatID: chatID,
			Messages:      msgs,
		}
		if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	userContent, err := models.RenderContent(um.Content)
	if err != nil {
		m.logger.Error("Failed to render content", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "user_message", messageView{
		ID:             um.ID,
		Role:           string(um.Role),
		Content:        userContent,
		Timestamp:      um.Timestamp,
		StreamingState: "ended",
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "ai_message", messageView{
		ID:             am.ID,
		Role:           string(am.Role),
		Timestamp:      am.Timestamp,
		StreamingState: "loading",
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleCancel stops the in-flight stream of the given chat. Cancelling a chat
// with nothing streaming is a no-op.
func (m *Main) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if chatID == "" {
		http.Error(w, "Chat ID is required", http.StatusBadRequest)
		return
	}

	m.cancelActive(chatID)
	w.WriteHeader(http.StatusNoContent)
}

// streamResponse runs one streaming session for the chat. Released deltas feed
// a frame buffer that coalesces browser updates to one publish per flush
// interval; the assistant message is committed from the buffer's authoritative
// text on completion and discarded on any other terminal status.
func (m *Main) streamResponse(ctx context.Context, cancel context.CancelFunc, chatID string, aiMsg models.Message, input string) {
	defer func() {
		cancel()
		m.release(chatID)

		e := &sse.Message{Type: sse.Type("closeMessage")}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e, messageIDTopic(aiMsg.ID))
	}()

	fb := stream.NewFrameBuffer(m.flushInterval, func(text string) {
		m.publishContent(aiMsg.ID, text)
	})
	defer fb.Clear()

	chat, err := m.store.Chat(ctx, chatID)
	if err != nil {
		m.logger.Error("Failed to load chat",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		m.discardPlaceholder(chatID, aiMsg.ID)
		m.publishNotice(aiMsg.ID, "error", "Something went wrong while generating the response.")
		return
	}

	var failDetail string
	onStatus := func(st stream.Status, detail string) {
		switch st {
		case stream.StatusStreaming:
			if detail != "" {
				m.publishNotice(aiMsg.ID, "streaming", detail)
			}
		case stream.StatusError, stream.StatusTimeout, stream.StatusCancelled:
			failDetail = detail
		}
	}

	respID, st := m.streamer.Stream(ctx, stream.Request{
		Input:              input,
		Conversation:       chat.ConversationID,
		PreviousResponseID: chat.LastResponseID,
		Extra:              m.extraOptions,
	}, fb.Append, onStatus)

	if st != stream.StatusCompleted {
		m.discardPlaceholder(chatID, aiMsg.ID)
		switch st {
		case stream.StatusTimeout:
			m.publishNotice(aiMsg.ID, "timeout", "The model took too long to respond.")
		case stream.StatusCancelled:
			m.publishNotice(aiMsg.ID, "cancelled", "Generation stopped.")
		default:
			m.logger.Error("Stream failed",
				slog.String("chatID", chatID),
				slog.String(errLoggerKey, failDetail))
			m.publishNotice(aiMsg.ID, "error", "Something went wrong while generating the response.")
		}
		return
	}

	// Commit from the authoritative accumulation, not the display snapshot, so
	// a final delta that has not flushed yet is never dropped.
	aiMsg.Content = fb.FullText()
	if err := m.store.UpdateMessage(context.Background(), chatID, aiMsg); err != nil {
		m.logger.Error("Failed to commit assistant message",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		m.publishNotice(aiMsg.ID, "error", "Something went wrong while saving the response.")
		return
	}

	if respID != "" {
		chat.LastResponseID = respID
		if err := m.store.UpdateChat(context.Background(), chat); err != nil {
			m.logger.Error("Failed to update chat response chain",
				slog.String("chatID", chatID),
				slog.String(errLoggerKey, err.Error()))
		}
	}

	m.publishContent(aiMsg.ID, aiMsg.Content)
	m.publishNotice(aiMsg.ID, "ended", "")
}

// discardPlaceholder removes the assistant placeholder so a partial message is
// never kept after a failed, timed out, or cancelled stream.
func (m *Main) discardPlaceholder(chatID, messageID string) {
	if err := m.store.DeleteMessage(context.Background(), chatID, messageID); err != nil {
		m.logger.Error("Failed to delete placeholder message",
			slog.String("chatID", chatID),
			slog.String("messageID", messageID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Main) publishContent(messageID, content string) {
	html, err := models.RenderContent(content)
	if err != nil {
		m.logger.Error("Failed to render content",
			slog.String("messageID", messageID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: messagesSSEType}
	msg.AppendData(string(html))
	if err := m.sseSrv.Publish(&msg, messageIDTopic(messageID)); err != nil {
		m.logger.Error("Failed to publish message",
			slog.String("messageID", messageID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// publishNotice pushes a streaming-state change or advisory to the message's
// subscribers. The browser uses the state to distinguish timeout and
// cancellation from a generic error.
func (m *Main) publishNotice(messageID, state, text string) {
	payload, err := json.Marshal(map[string]string{
		"state": state,
		"text":  text,
	})
	if err != nil {
		return
	}

	msg := sse.Message{Type: statusSSEType}
	msg.AppendData(string(payload))
	if err := m.sseSrv.Publish(&msg, messageIDTopic(messageID)); err != nil {
		m.logger.Error("Failed to publish notice",
			slog.String("messageID", messageID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Main) newChat() (string, error) {
	newChat := models.Chat{
		ID: uuid.New().String(),
	}
	newChatID, err := m.store.AddChat(context.Background(), newChat)
	if err != nil {
		return "", fmt.Errorf("failed to add chat: %w", err)
	}
	newChat.ID = newChatID

	divs, err := m.chatDivs(newChat.ID)
	if err != nil {
		return "", fmt.Errorf("failed to create chat divs: %w", err)
	}

	msg := sse.Message{Type: chatsSSEType}
	msg.AppendData(divs)

	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		return "", fmt.Errorf("failed to publish chats: %w", err)
	}

	return newChat.ID, nil
}

func (m *Main) generateChatTitle(chatID string, message string) {
	title, err := m.titleGen.GenerateTitle(context.Background(), message)
	if err != nil {
		m.logger.Error("Error generating chat title",
			slog.String("message", message),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	chat, err := m.store.Chat(context.Background(), chatID)
	if err != nil {
		m.logger.Error("Failed to load chat for title update",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	chat.Title = title
	if err := m.store.UpdateChat(context.Background(), chat); err != nil {
		m.logger.Error("Failed to update chat title",
			slog.String(errLoggerKey, err.Error()))
		return
	}

	divs, err := m.chatDivs(chatID)
	if err != nil {
		m.logger.Error("Failed to generate chat divs",
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: chatsSSEType}
	msg.AppendData(divs)
	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		m.logger.Error("Failed to publish chats",
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Main) chatDivs(activeID string) (string, error) {
	chats, err := m.store.Chats(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get chats: %w", err)
	}

	var sb strings.Builder
	for _, ch := range chats {
		err := m.templates.ExecuteTemplate(&sb, "chat_title", chatView{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == activeID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to execute chat_title template: %w", err)
		}
	}
	return sb.String(), nil
}
