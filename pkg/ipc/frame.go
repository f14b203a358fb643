package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// WriteFrame encodes v as one JSON document followed by a newline, in a single write.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

// LineSplitter turns an arbitrarily chunked byte stream into complete lines.
// An incomplete trailing line is held until a later Feed completes it.
type LineSplitter struct {
	buf []byte
}

// Feed appends chunk and returns every line it completed, without the newline.
// Blank lines are skipped.
func (s *LineSplitter) Feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)
	var lines [][]byte
	start := 0
	for {
		idx := bytes.IndexByte(s.buf[start:], '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(s.buf[start:start+idx], "\r")
		start += idx + 1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if start > 0 {
		rest := make([]byte, len(s.buf)-start)
		copy(rest, s.buf[start:])
		s.buf = rest
	}
	return lines
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (s *LineSplitter) Pending() int {
	return len(s.buf)
}

// Flush returns the unterminated remainder, if any, and resets the buffer.
func (s *LineSplitter) Flush() []byte {
	rest := bytes.TrimSpace(s.buf)
	s.buf = nil
	if len(rest) == 0 {
		return nil
	}
	return rest
}

// LineReader reads NDJSON lines of unbounded length from r.
type LineReader struct {
	r     io.Reader
	split LineSplitter
	queue [][]byte
	chunk []byte
	err   error
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, chunk: make([]byte, 32*1024)}
}

// Next returns the next complete line. At EOF an unterminated final line is
// returned before io.EOF.
func (lr *LineReader) Next() ([]byte, error) {
	for len(lr.queue) == 0 {
		if lr.err != nil {
			if rest := lr.split.Flush(); rest != nil && errors.Is(lr.err, io.EOF) {
				return rest, nil
			}
			return nil, lr.err
		}
		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.queue = append(lr.queue, lr.split.Feed(lr.chunk[:n])...)
		}
		if err != nil {
			lr.err = err
		}
	}
	line := lr.queue[0]
	lr.queue = lr.queue[1:]
	return line, nil
}
