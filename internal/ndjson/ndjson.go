// Package ndjson frames newline-delimited JSON streams.
package ndjson

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// DefaultMaxLineSize bounds a single line. Agent runtimes stream large tool
// output through single messages, so the ceiling is generous.
const DefaultMaxLineSize = 8 << 20

// ErrLineTooLong is returned when a line exceeds the reader's limit. The
// oversized line is consumed so the next ReadLine starts on a fresh line.
var ErrLineTooLong = errors.New("ndjson: line exceeds maximum size")

// Reader reads newline-delimited lines from an underlying stream.
type Reader struct {
	br      *bufio.Reader
	maxSize int
}

// NewReader returns a Reader with the default line size limit.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r), maxSize: DefaultMaxLineSize}
}

// NewReaderSize returns a Reader with an explicit line size limit.
func NewReaderSize(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxLineSize
	}
	return &Reader{br: bufio.NewReader(r), maxSize: maxSize}
}

// ReadLine returns the next line without its trailing newline. A final
// unterminated line before EOF is returned with a nil error; the EOF
// surfaces on the following call.
func (r *Reader) ReadLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			if len(line) > r.maxSize {
				r.discardLine()
				return nil, ErrLineTooLong
			}
			continue
		}
		if err == io.EOF && len(line) > 0 {
			break
		}
		return nil, err
	}
	if len(line) > r.maxSize {
		return nil, ErrLineTooLong
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// discardLine consumes the remainder of an oversized line.
func (r *Reader) discardLine() {
	for {
		_, err := r.br.ReadSlice('\n')
		if err != bufio.ErrBufferFull {
			return
		}
	}
}

// Writer writes newline-terminated lines to an underlying stream. Each line
// is issued as a single Write call so concurrent writers cannot interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteJSON marshals v and writes it as one line.
func (w *Writer) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteRaw(data)
}

// WriteRaw writes an already-encoded line, appending the newline if absent.
func (w *Writer) WriteRaw(line []byte) error {
	buf := line
	if len(buf) == 0 || buf[len(buf)-1] != '\n' {
		buf = make([]byte, 0, len(line)+1)
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf)
	return err
}
