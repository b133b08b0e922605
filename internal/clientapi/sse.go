package clientapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
)

const maxFrameBytes = 1024 * 1024

// Reader decodes the chat event stream.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(source io.Reader) *Reader {
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next event, or io.EOF at the end of the stream.
// Comment lines and keep-alives are skipped.
func (r *Reader) Next() (workflow.Event, error) {
	if r == nil || r.scanner == nil {
		return nil, io.EOF
	}

	var kind string
	var data []string
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				kind = ""
				continue
			}
			return decodeEvent(kind, strings.Join(data, "\n"))
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			return nil, fmt.Errorf("decode stream event: unsupported SSE field %q", line)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		return decodeEvent(kind, strings.Join(data, "\n"))
	}
	return nil, io.EOF
}

func decodeEvent(kind, payload string) (workflow.Event, error) {
	var (
		ev  workflow.Event
		err error
	)
	switch kind {
	case workflow.ProgressEvent{}.Kind():
		var p workflow.ProgressEvent
		err = json.Unmarshal([]byte(payload), &p)
		ev = p
	case workflow.FinalEvent{}.Kind():
		var f workflow.FinalEvent
		err = json.Unmarshal([]byte(payload), &f)
		ev = f
	case workflow.ErrorEvent{}.Kind():
		var e workflow.ErrorEvent
		err = json.Unmarshal([]byte(payload), &e)
		ev = e
	default:
		return nil, fmt.Errorf("decode stream event: unknown event %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	return ev, nil
}
