package stream_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cadencehq/llm-web-chat/internal/stream"
)

type statusRecord struct {
	st     stream.Status
	detail string
}

type sessionRecorder struct {
	chunks   []string
	statuses []statusRecord
}

func (r *sessionRecorder) onChunk(text string) {
	r.chunks = append(r.chunks, text)
}

func (r *sessionRecorder) onStatus(st stream.Status, detail string) {
	r.statuses = append(r.statuses, statusRecord{st: st, detail: detail})
}

func (r *sessionRecorder) states() []stream.Status {
	states := make([]stream.Status, len(r.statuses))
	for i, s := range r.statuses {
		states[i] = s.st
	}
	return states
}

func (r *sessionRecorder) text() string {
	return strings.Join(r.chunks, "")
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, line := range lines {
			_, _ = io.WriteString(w, line)
			fl.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL string, maxAhead int) *stream.Client {
	return stream.NewClient(stream.Config{
		APIKey:   "test-key",
		BaseURL:  baseURL,
		Model:    "test-model",
		MaxAhead: maxAhead,
	})
}

func TestStreamCleanCompletion(t *testing.T) {
	srv := sseServer(t,
		"data: {\"sequence_number\":1,\"type\":\"response.output_text.delta\",\"delta\":\"Hello, \"}\n",
		"data: {\"sequence_number\":2,\"type\":\"response.output_text.delta\",\"delta\":\"there\"}\n",
		"data: {\"sequence_number\":3,\"type\":\"response.completed\",\"response\":{\"id\":\"r1\"}}\n",
	)

	rec := &sessionRecorder{}
	id, st := newTestClient(srv.URL, 0).Stream(context.Background(),
		stream.Request{Input: "hi"}, rec.onChunk, rec.onStatus)

	if id != "r1" {
		t.Errorf("response id = %q, want %q", id, "r1")
	}
	if st != stream.StatusCompleted {
		t.Errorf("terminal status = %v, want %v", st, stream.StatusCompleted)
	}
	wantStates := []stream.Status{stream.StatusStarting, stream.StatusStreaming, stream.StatusCompleted}
	if !reflect.DeepEqual(rec.states(), wantStates) {
		t.Errorf("status sequence = %v, want %v", rec.states(), wantStates)
	}
	if rec.text() != "Hello, there" {
		t.Errorf("streamed text = %q, want %q", rec.text(), "Hello, there")
	}
}

func TestStreamOutOfOrderDelivery(t *testing.T) {
	srv := sseServer(t,
		"data: {\"sequence_number\":2,\"delta\":\"world\"}\n",
		"data: {\"sequence_number\":1,\"delta\":\"hello \"}\n",
		"data: {\"sequence_number\":3,\"delta\":\"!\"}\n",
		"data: {\"sequence_number\":4,\"type\":\"response.completed\",\"response\":{\"id\":\"r2\"}}\n",
	)

	rec := &sessionRecorder{}
	_, st := newTestClient(srv.URL, 0).Stream(context.Background(),
		stream.Request{Input: "hi"}, rec.onChunk, rec.onStatus)

	if st != stream.StatusCompleted {
		t.Fatalf("terminal status = %v, want %v", st, stream.StatusCompleted)
	}
	wantChunks := []string{"hello ", "world", "!"}
	if !reflect.DeepEqual(rec.chunks, wantChunks) {
		t.Errorf("chunks = %v, want %v", rec.chunks, wantChunks)
	}
	if rec.text() != "hello world!" {
		t.Errorf("final text = %q, want %q", rec.text(), "hello world!")
	}
}

func TestStreamMalformedLineIsSkipped(t *testing.T) {
	srv := sseServer(t,
		"data: {\"sequence_number\":1,\"delta\":\"ok \"}\n",
		"data: {not valid json\n",
		"data: {\"sequence_number\":2,\"delta\":\"still ok\"}\n",
		"data: {\"sequence_number\":3,\"type\":\"response.completed\",\"response\":{\"id\":\"r3\"}}\n",
	)

	rec := &sessionRecorder{}
	id, st := newTestClient(srv.URL, 0).Stream(context.Background(),
		stream.Request{Input: "hi"}, rec.onChunk, rec.onStatus)

	if st != stream.StatusCompleted {
		t.Fatalf("terminal status = %v, want %v", st, stream.StatusCompleted)
	}
	if id != "r3" {
		t.Errorf("response id = %q, want %q", id, "r3")
	}
	if rec.text() != "ok still ok" {
		t.Errorf("streamed text = %q, want %q", rec.text(), "ok still ok")
	}
}

func TestStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	rec := &sessionRecorder{}
	id, st := newTestClient(srv.URL, 0).Stream(context.Background(),
		stream.Request{Input: "hi"}, rec.onChunk, rec.onStatus)

	if st != stream.StatusError {
		t.Errorf("terminal status = %v, want %v", st, stream.StatusError)
	}
	if id != "" {
		t.Errorf("response id = %q, want empty", id)
	}
	wantStates := []stream.Status{stream.StatusStarting, stream.StatusError}
	if !reflect.DeepEqual(rec.states(), wantStates) {
		t.Errorf("status sequence = %v, want %v", rec.states(), wantStates)
	}
	last := rec.statuses[len(rec.statuses)-1]
	if !strings.Contains(last.detail, "500") {
		t.Errorf("error detail = %q, want it to mention the status code", last.detail)
	}
}

func TestStreamEOFWithoutCompletionEvent(t *testing.T) {
	srv := sseServer(t,
		"data: {\"sequence_number\":1,\"delta\":\"partial \"}\n",
		"data: {\"sequence_number\":2,\"delta\":\"answer\"}\n",
	)

	rec := &sessionRecorder{}
	id, st := newTestClient(srv.URL, 0).Stream(context.Background(),
		stream.Request{Input: "hi"}, rec.onChunk, rec.onStatus)

	if st != stream.StatusCompleted {
		t.Errorf("terminal status = %v, want %v", st, stream.StatusCompleted)
	}
	if id != "" {
		t.Errorf("response id = %q, want empty", id)
	}
	if rec.text() != "partial answer" {
		t.Errorf("streamed text = %q, want %q", rec.text(), "partial answer")
	}
}

func TestStreamAdvisoryPing(t *testing.T) {
	srv := sseServer(t,
		"data: {\"type\":\"response.web_search_call.searching\"}\n",
		"data: {\"sequence_number\":1,\"delta\":\"found it\"}\n",
		"data: {\"sequence_number\":2,\"type\":\"response.completed\",\"response\":{\"id\":\"r4\"}}\n",
	)

	rec := &sessionRecorder{}
	_, st := newTestClient(srv.URL, 0).Stream(context.Background(),
		stream.Request{Input: "hi"}, rec.onChunk, rec.onStatus)

	if st != stream.StatusCompleted {
		t.Fatalf("terminal status = %v, want %v", st, stream.StatusCompleted)
	}

	advisory := false
	for _, s := range rec.statuses {
		if s.st == stream.StatusStreaming && s.detail != "" {
			advisory = true
		}
	}
	if !advisory {
		t.Error("expected an advisory streaming ping with a detail message")
	}
}

func TestStreamTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"sequence_number\":1,\"delta\":\"stall\"}\n")
		fl.Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	rec := &sessionRecorder{}
	_, st := newTestClient(srv.URL, 0).Stream(context.Background(),
		stream.Request{Input: "hi", Timeout: 80 * time.Millisecond}, rec.onChunk, rec.onStatus)

	if st != stream.StatusTimeout {
		t.Errorf("terminal status = %v, want %v", st, stream.StatusTimeout)
	}
	wantStates := []stream.Status{stream.StatusStarting, stream.StatusStreaming, stream.StatusTimeout}
	if !reflect.DeepEqual(rec.states(), wantStates) {
		t.Errorf("status sequence = %v, want %v", rec.states(), wantStates)
	}
}

func TestStreamCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"sequence_number\":1,\"delta\":\"first\"}\n")
		fl.Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &sessionRecorder{}
	onChunk := func(text string) {
		rec.onChunk(text)
		// Caller stops the stream after the first delta lands.
		cancel()
	}

	_, st := newTestClient(srv.URL, 0).Stream(ctx,
		stream.Request{Input: "hi"}, onChunk, rec.onStatus)

	if st != stream.StatusCancelled {
		t.Errorf("terminal status = %v, want %v", st, stream.StatusCancelled)
	}
	wantStates := []stream.Status{stream.StatusStarting, stream.StatusStreaming, stream.StatusCancelled}
	if !reflect.DeepEqual(rec.states(), wantStates) {
		t.Errorf("status sequence = %v, want %v", rec.states(), wantStates)
	}
	if rec.text() != "first" {
		t.Errorf("streamed text = %q, want %q", rec.text(), "first")
	}
}

func TestStreamReorderWindowExceeded(t *testing.T) {
	srv := sseServer(t,
		"data: {\"sequence_number\":9,\"delta\":\"way ahead\"}\n",
	)

	rec := &sessionRecorder{}
	_, st := newTestClient(srv.URL, 2).Stream(context.Background(),
		stream.Request{Input: "hi"}, rec.onChunk, rec.onStatus)

	if st != stream.StatusError {
		t.Errorf("terminal status = %v, want %v", st, stream.StatusError)
	}
	if len(rec.chunks) != 0 {
		t.Errorf("chunks = %v, want none", rec.chunks)
	}
}
