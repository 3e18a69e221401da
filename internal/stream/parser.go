package stream

import (
	"encoding/json"
	"strings"
)

// Fragment is one decoded unit of the upstream event stream. It carries an
// optional ordering key, a text delta, and the event type used for side-channel
// handling. A Seq of zero means the event arrived without a sequence number and
// bypasses reordering.
type Fragment struct {
	Seq      int
	Type     string
	Delta    string
	Response ResponseInfo
}

// ResponseInfo is the subset of the completion payload the session cares about.
type ResponseInfo struct {
	ID string `json:"id"`
}

// Event types the session controller reacts to. Anything else is ignored for
// forward compatibility.
const (
	eventResponseCompleted  = "response.completed"
	eventWebSearchSearching = "response.web_search_call.searching"
)

const dataPrefix = "data: "

type wireEvent struct {
	SequenceNumber int           `json:"sequence_number"`
	Type           string        `json:"type"`
	Delta          string        `json:"delta"`
	Response       *ResponseInfo `json:"response"`
}

// Parser splits the raw response body into newline-delimited event lines and
// decodes the JSON payload of every line starting with "data: ". Reads are not
// guaranteed to end on a line boundary, so an unterminated trailing line is
// carried over and prepended to the next chunk. Only the data field of the SSE
// framing is implemented; every other line is ignored, and a payload that fails
// to decode is skipped without aborting the stream.
type Parser struct {
	carry string
}

// Feed consumes one chunk of the response body and returns the fragments
// decoded from every complete line it contains.
func (p *Parser) Feed(chunk []byte) []Fragment {
	text := p.carry + string(chunk)
	lines := strings.Split(text, "\n")
	p.carry = lines[len(lines)-1]

	var frags []Fragment
	for _, line := range lines[:len(lines)-1] {
		if f, ok := parseLine(line); ok {
			frags = append(frags, f)
		}
	}
	return frags
}

// Flush decodes whatever trailing line is still held after the body is
// exhausted. A well-formed stream ends with a newline and flushes nothing.
func (p *Parser) Flush() []Fragment {
	line := p.carry
	p.carry = ""
	if f, ok := parseLine(line); ok {
		return []Fragment{f}
	}
	return nil
}

func parseLine(line string) (Fragment, bool) {
	line = strings.TrimSuffix(line, "\r")
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return Fragment{}, false
	}

	var ev wireEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Fragment{}, false
	}

	f := Fragment{
		Seq:   ev.SequenceNumber,
		Type:  ev.Type,
		Delta: ev.Delta,
	}
	if ev.Response != nil {
		f.Response = *ev.Response
	}
	return f, true
}
