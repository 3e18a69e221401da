package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a whole streaming session, from request to terminal
// event. It is the only backstop against a reassembly gap that never closes.
const DefaultTimeout = 60 * time.Second

const defaultBaseURL = "https://api.openai.com/v1"

// errSessionTimeout is attached as the cancellation cause when the session
// timeout expires, so the terminal status can tell a timeout apart from a
// caller-initiated cancellation.
var errSessionTimeout = errors.New("stream session timed out")

// ChunkFunc receives each in-order released text delta.
type ChunkFunc func(text string)

// StatusFunc receives every state transition, plus advisory Streaming pings
// whose detail describes sub-status progress. Terminal statuses carry a
// human-readable detail describing the failure, empty on completion.
type StatusFunc func(st Status, detail string)

// Config holds the per-client parameters for streaming sessions.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Instructions string

	// Tools are passed through verbatim as the request's tool declarations.
	Tools []map[string]any

	// Timeout bounds each session; DefaultTimeout when zero.
	Timeout time.Duration

	// MaxAhead caps the reorder window; zero or less means unbounded.
	MaxAhead int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client issues streaming requests against a Responses-style endpoint and
// drives the parse/reorder pipeline over the response body.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a streaming client from cfg, applying defaults for the
// base URL, HTTP client, and logger.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: httpClient,
		logger: logger.With(slog.String("module", "stream")),
	}
}

// Request carries the per-session parameters.
type Request struct {
	Input string

	// Conversation is an opaque identifier threaded through for multi-turn
	// context; its structure is not interpreted here.
	Conversation string

	// PreviousResponseID chains this request to a prior response.
	PreviousResponseID string

	// Timeout overrides the client timeout when positive.
	Timeout time.Duration

	// Extra is merged into the request body last, overwriting colliding keys.
	Extra map[string]any
}

// Stream runs one streaming session. Every in-order delta is handed to onChunk
// and every state transition to onStatus; all failures are converted to a
// terminal status rather than escaping to the caller. It returns the final
// response identifier (empty if the upstream never sent one) and the terminal
// status reached. Cancelling ctx ends the session with StatusCancelled; the
// armed timeout ends it with StatusTimeout. The timer and the response body are
// released on every exit path.
func (c *Client) Stream(ctx context.Context, req Request, onChunk ChunkFunc, onStatus StatusFunc) (string, Status) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, errSessionTimeout)
	defer cancel()

	onStatus(StatusStarting, "")

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		onStatus(StatusError, err.Error())
		return "", StatusError
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", c.failure(ctx, err, onStatus)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("unexpected status code: %d, body: %s", resp.StatusCode, body)
		c.logger.Error("Request rejected", slog.Int("status", resp.StatusCode))
		onStatus(StatusError, msg)
		return "", StatusError
	}

	onStatus(StatusStreaming, "")

	reasm := NewReassembler(c.cfg.MaxAhead, func(f Fragment) {
		if f.Delta != "" {
			onChunk(f.Delta)
		}
	})
	parser := &Parser{}

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, frag := range parser.Feed(buf[:n]) {
				done, id, err := c.handleFragment(frag, reasm, onStatus)
				if err != nil {
					onStatus(StatusError, err.Error())
					return "", StatusError
				}
				if done {
					onStatus(StatusCompleted, "")
					return id, StatusCompleted
				}
			}
		}
		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) {
			return "", c.failure(ctx, readErr, onStatus)
		}

		// Body exhausted without an explicit completion event. The remainder
		// may still hold one unterminated final line.
		var finalID string
		for _, frag := range parser.Flush() {
			done, id, err := c.handleFragment(frag, reasm, onStatus)
			if err != nil {
				onStatus(StatusError, err.Error())
				return "", StatusError
			}
			if done {
				finalID = id
			}
		}
		if reasm.Pending() > 0 {
			c.logger.Warn("Stream ended with unreleased fragments",
				slog.Int("pending", reasm.Pending()))
		}
		onStatus(StatusCompleted, "")
		return finalID, StatusCompleted
	}
}

// handleFragment routes one fragment: sequenced fragments (and unsequenced
// text) go through the reassembler, while the event type drives a side channel
// independent of ordering. It reports done when the session should terminate,
// along with the final response identifier.
func (c *Client) handleFragment(f Fragment, reasm *Reassembler, onStatus StatusFunc) (bool, string, error) {
	if f.Seq > 0 || f.Delta != "" {
		if err := reasm.Offer(f); err != nil {
			return false, "", err
		}
	}

	switch f.Type {
	case eventResponseCompleted:
		return true, f.Response.ID, nil
	case eventWebSearchSearching:
		// Advisory ping only; the formal state stays Streaming.
		onStatus(StatusStreaming, "Searching the web...")
	}
	return false, "", nil
}

func (c *Client) failure(ctx context.Context, err error, onStatus StatusFunc) Status {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errSessionTimeout):
		onStatus(StatusTimeout, errSessionTimeout.Error())
		return StatusTimeout
	case errors.Is(cause, context.Canceled):
		onStatus(StatusCancelled, "stream cancelled")
		return StatusCancelled
	default:
		msg := "stream failed"
		if err != nil {
			msg = err.Error()
		}
		onStatus(StatusError, msg)
		return StatusError
	}
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	body := map[string]any{
		"model":        c.cfg.Model,
		"input":        req.Input,
		"stream":       true,
		"instructions": c.cfg.Instructions,
	}
	if len(c.cfg.Tools) > 0 {
		body["tools"] = c.cfg.Tools
	}
	if req.Conversation != "" {
		body["conversation"] = req.Conversation
	}
	if req.PreviousResponseID != "" {
		body["previous_response_id"] = req.PreviousResponseID
	}
	for k, v := range req.Extra {
		body[k] = v
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	c.logger.Debug("Request body", slog.String("body", string(jsonBody)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/responses", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return httpReq, nil
}
