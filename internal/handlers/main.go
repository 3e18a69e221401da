package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	llmwebchat "github.com/cadencehq/llm-web-chat"
	"github.com/cadencehq/llm-web-chat/internal/models"
	"github.com/cadencehq/llm-web-chat/internal/stream"
	"github.com/tmaxmax/go-sse"
)

const errLoggerKey = "err"

// Streamer runs one streaming session against the language model API. In-order
// deltas go to onChunk and state transitions to onStatus; the returned status
// is terminal and failures never escape as errors.
type Streamer interface {
	Stream(ctx context.Context, req stream.Request, onChunk stream.ChunkFunc, onStatus stream.StatusFunc) (string, stream.Status)
}

// TitleGenerator produces a short title for a new chat from its first message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Store defines the interface for managing chat and message persistence.
type Store interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	Chat(ctx context.Context, id string) (models.Chat, error)
	AddChat(ctx context.Context, chat models.Chat) (string, error)
	UpdateChat(ctx context.Context, chat models.Chat) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, chatID string, message models.Message) error
	DeleteMessage(ctx context.Context, chatID string, messageID string) error
}

// Main handles the core functionality of the chat application: it owns the
// server-sent events fan-out to browsers, the HTML templates, and the per-chat
// streaming sessions against the Streamer.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	streamer Streamer
	titleGen TitleGenerator
	store    Store

	flushInterval time.Duration
	extraOptions  map[string]any

	logger *slog.Logger

	// active holds the cancel function of each chat's in-flight stream. At
	// most one stream runs per chat at a time.
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

const chatsSSETopic = "chats"

// SSE event types for real-time updates.
var (
	chatsSSEType    = sse.Type("chats")
	messagesSSEType = sse.Type("messages")
	statusSSEType   = sse.Type("messageStatus")
)

// Options carries the optional knobs for NewMain.
type Options struct {
	// FlushInterval is how often streamed content is published to the
	// browser; stream.DefaultFlushInterval when zero.
	FlushInterval time.Duration

	// ExtraOptions is merged into every streaming request body,
	// last-write-wins on key collision.
	ExtraOptions map[string]any

	Logger *slog.Logger
}

// NewMain creates a new Main instance with the provided Streamer,
// TitleGenerator, and Store implementations. It initializes the SSE server and
// parses the HTML templates from the embedded filesystem. Clients subscribe to
// the default and chats topics, plus a message-specific topic when they follow
// a streaming message.
func NewMain(streamer Streamer, titleGen TitleGenerator, store Store, opts Options) (*Main, error) {
	tmpl, err := template.ParseFS(
		llmwebchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic, chatsSSETopic}

				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:     tmpl,
		streamer:      streamer,
		titleGen:      titleGen,
		store:         store,
		flushInterval: opts.FlushInterval,
		extraOptions:  opts.ExtraOptions,
		logger:        logger.With(slog.String("module", "handlers")),
		active:        make(map[string]context.CancelFunc),
	}, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// HandleSSE serves the server-sent events endpoints the browser subscribes to.
func (m *Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Streaming reports whether chatID has a stream in flight.
func (m *Main) Streaming(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[chatID]
	return ok
}

func (m *Main) tryAcquire(chatID string, cancel context.CancelFunc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[chatID]; ok {
		return false
	}
	m.active[chatID] = cancel
	return true
}

func (m *Main) release(chatID string) {
	m.mu.Lock()
	delete(m.active, chatID)
	m.mu.Unlock()
}

// cancelActive signals cancellation on the chat's in-flight stream. It is an
// idempotent no-op when none is active.
func (m *Main) cancelActive(chatID string) {
	m.mu.Lock()
	cancel, ok := m.active[chatID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels every in-flight stream and gracefully terminates the SSE
// server. It broadcasts a close message to all connected clients and waits up
// to 5 seconds for connections to terminate.
func (m *Main) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// The SSE spec requires data on every message, even a goodbye.
	e.AppendData("bye")

	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
