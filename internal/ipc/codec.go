// ABOUTME: Line framing for the supervisor/worker protocol.
// ABOUTME: Encoder serializes concurrent writers; Decoder tolerates bad lines.

package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxLineSize bounds a single protocol line.
const MaxLineSize = 1 << 20

// ErrMalformed is returned by Decoder.Next for a line that is not a valid
// message. The decoder stays usable after it.
var ErrMalformed = errors.New("malformed protocol line")

// Encoder writes one message per line. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes msg followed by a newline in a single Write call.
func (e *Encoder) Encode(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", msg.Type, err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("writing %s message: %w", msg.Type, err)
	}
	return nil
}

// Decoder reads messages line by line.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// errLineTooLong marks a line that was discarded for exceeding MaxLineSize.
var errLineTooLong = fmt.Errorf("line exceeds %d bytes", MaxLineSize)

// Next returns the next message. Blank lines are skipped. It returns io.EOF
// when the stream ends and an error wrapping ErrMalformed for lines that do
// not decode, lack a type or exceed MaxLineSize. An overlong line is
// discarded up to its newline so the following line still decodes.
func (d *Decoder) Next() (*Message, error) {
	for {
		line, err := d.readLine()
		if errors.Is(err, errLineTooLong) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if msg.Type == "" {
			return nil, fmt.Errorf("%w: missing type", ErrMalformed)
		}
		return &msg, nil
	}
}

// readLine returns one line without its terminator. A final line without a
// newline is returned before io.EOF.
func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(bytes.TrimRight(chunk, "\r\n")) > MaxLineSize {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return nil, errLineTooLong
			}
			if len(line) == 0 {
				return nil, io.EOF
			}
			return bytes.TrimRight(line, "\r\n"), nil
		case err != nil:
			return nil, err
		}
		if tooLong {
			return nil, errLineTooLong
		}
		return bytes.TrimRight(line, "\r\n"), nil
	}
}
