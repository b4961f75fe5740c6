package openai

import (
	"bufio"
	"io"
	"strings"
)

// maxFrameLine bounds a single SSE line. Response events with a full
// response object can exceed bufio's 64KiB default.
const maxFrameLine = 4 << 20

type sseFrame struct {
	Event string
	Data  string
}

// sseReader splits a text/event-stream body into frames. Comment lines are
// dropped and a frame with no data lines is never returned.
type sseReader struct {
	sc *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameLine)
	return &sseReader{sc: sc}
}

// Next returns the next frame, or io.EOF once the body ends. A final frame
// without its trailing blank line is still delivered.
func (r *sseReader) Next() (sseFrame, error) {
	var (
		f    sseFrame
		data []string
	)
	for r.sc.Scan() {
		line := strings.TrimSuffix(r.sc.Text(), "\r")
		if line == "" {
			if len(data) > 0 {
				f.Data = strings.Join(data, "\n")
				return f, nil
			}
			f = sseFrame{}
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "":
			// comment
		case "event":
			f.Event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := r.sc.Err(); err != nil {
		return sseFrame{}, err
	}
	if len(data) > 0 {
		f.Data = strings.Join(data, "\n")
		return f, nil
	}
	return sseFrame{}, io.EOF
}
