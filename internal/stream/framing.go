package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// LineReader reads newline-terminated messages. Lines of any length are
// supported.
type LineReader struct {
	r   *bufio.Reader
	eof bool
}

// NewLineReader wraps r for line-at-a-time reads.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine consumes exactly one line and returns it without the trailing
// newline (and without a trailing carriage return). ok is false once the
// stream has ended; end of stream is never reported as an error. A final
// unterminated line is returned before end of stream is signalled.
func (lr *LineReader) ReadLine() (line []byte, ok bool, err error) {
	if lr.eof {
		return nil, false, nil
	}
	data, err := lr.r.ReadBytes('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, false, fmt.Errorf("reading line: %w", err)
		}
		lr.eof = true
		if len(data) == 0 {
			return nil, false, nil
		}
		return bytes.TrimRight(data, "\r"), true, nil
	}
	data = bytes.TrimSuffix(data, []byte{'\n'})
	return bytes.TrimRight(data, "\r"), true, nil
}

// WriteLine encodes v as JSON and writes it as exactly one line.
func WriteLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return WriteRawLine(w, data)
}

// WriteRawLine writes data followed by a newline in a single write. data
// must not contain a newline.
func WriteRawLine(w io.Writer, data []byte) error {
	if bytes.IndexByte(data, '\n') >= 0 {
		return errors.New("message contains a newline")
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}
	return nil
}
