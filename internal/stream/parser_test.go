package stream_test

import (
	"reflect"
	"testing"

	"github.com/cadencehq/llm-web-chat/internal/stream"
)

func TestParserFeed(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []stream.Fragment
	}{
		{
			name:   "single data line",
			chunks: []string{"data: {\"sequence_number\":1,\"type\":\"response.output_text.delta\",\"delta\":\"hi\"}\n"},
			want: []stream.Fragment{
				{Seq: 1, Type: "response.output_text.delta", Delta: "hi"},
			},
		},
		{
			name: "ignores non-data lines",
			chunks: []string{
				"event: message\n",
				": keepalive\n",
				"\n",
				"data: {\"delta\":\"a\"}\n",
			},
			want: []stream.Fragment{{Delta: "a"}},
		},
		{
			name: "malformed json is skipped",
			chunks: []string{
				"data: {not valid json\n",
				"data: {\"delta\":\"b\"}\n",
			},
			want: []stream.Fragment{{Delta: "b"}},
		},
		{
			name: "line split across chunk boundary",
			chunks: []string{
				"data: {\"sequence_",
				"number\":2,\"delta\":\"wor",
				"ld\"}\ndata: {\"sequence_number\":3,\"delta\":\"!\"}\n",
			},
			want: []stream.Fragment{
				{Seq: 2, Delta: "world"},
				{Seq: 3, Delta: "!"},
			},
		},
		{
			name:   "crlf line endings",
			chunks: []string{"data: {\"delta\":\"c\"}\r\n"},
			want:   []stream.Fragment{{Delta: "c"}},
		},
		{
			name:   "completion payload",
			chunks: []string{"data: {\"type\":\"response.completed\",\"response\":{\"id\":\"r1\"}}\n"},
			want: []stream.Fragment{
				{Type: "response.completed", Response: stream.ResponseInfo{ID: "r1"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stream.Parser{}
			var got []stream.Fragment
			for _, chunk := range tt.chunks {
				got = append(got, p.Feed([]byte(chunk))...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Feed() fragments = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParserFlush(t *testing.T) {
	p := &stream.Parser{}

	if got := p.Feed([]byte("data: {\"delta\":\"tail\"}")); got != nil {
		t.Fatalf("Feed() released unterminated line early: %+v", got)
	}

	got := p.Flush()
	want := []stream.Fragment{{Delta: "tail"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Flush() = %+v, want %+v", got, want)
	}

	if got := p.Flush(); got != nil {
		t.Errorf("second Flush() = %+v, want nil", got)
	}
}
