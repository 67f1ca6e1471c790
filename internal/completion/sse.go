package completion

import (
	"bufio"
	"io"
	"strings"
)

type sseEvent struct {
	Event string
	Data  string
}

// sseReader pulls Server-Sent Events from r one at a time.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: scanner}
}

// Next returns the next event with a non-empty data field, or io.EOF once the
// body is exhausted.
func (s *sseReader) Next() (sseEvent, error) {
	var name string
	var data strings.Builder
	hasData := false

	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if hasData {
				return sseEvent{Event: name, Data: data.String()}, nil
			}
			name = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line[len("data:"):], " "))
			hasData = true
		}
	}
	if err := s.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	if hasData {
		return sseEvent{Event: name, Data: data.String()}, nil
	}
	return sseEvent{}, io.EOF
}
