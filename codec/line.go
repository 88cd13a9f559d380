package codec

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultDelimiter ends a line when none is configured.
const DefaultDelimiter = "\r\n"

// DefaultMaxLine bounds how much a LineDecoder buffers while waiting for a
// delimiter.
const DefaultMaxLine = 4096

// ErrLineTooLong is passed to a LineDecoder's error callback when a line is
// dropped for exceeding its limit.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// LineDecoder splits a byte stream into delimiter terminated lines.
type LineDecoder struct {
	delim   []byte
	onLine  func(string)
	onError func(error)
	max     int
	buf     []byte
	discard bool
}

// NewLineDecoder returns a decoder that calls onLine for every complete
// line, without its delimiter. An empty delim selects DefaultDelimiter.
// Lines longer than DefaultMaxLine are dropped.
func NewLineDecoder(delim string, onLine func(string)) *LineDecoder {
	if delim == "" {
		delim = DefaultDelimiter
	}
	return &LineDecoder{
		delim:   []byte(delim),
		onLine:  onLine,
		onError: func(error) {},
		max:     DefaultMaxLine,
	}
}

// SetLimit changes the longest line the decoder buffers. onError, if not
// nil, is told about every line dropped for being longer.
func (d *LineDecoder) SetLimit(max int, onError func(error)) *LineDecoder {
	if max > 0 {
		d.max = max
	}
	if onError != nil {
		d.onError = onError
	}
	return d
}

// Decode consumes b.
func (d *LineDecoder) Decode(b []byte) {
	// only the tail of the old buffer can hold the start of a delimiter
	from := len(d.buf) - len(d.delim) + 1
	if from < 0 {
		from = 0
	}
	d.buf = append(d.buf, b...)

	start := 0
	for {
		idx := bytes.Index(d.buf[from:], d.delim)
		if idx < 0 {
			break
		}
		end := from + idx
		if d.discard {
			d.discard = false
		} else {
			d.onLine(string(d.buf[start:end]))
		}
		start = end + len(d.delim)
		from = start
	}
	d.buf = append(d.buf[:0], d.buf[start:]...)

	if len(d.buf) > d.max {
		if !d.discard {
			d.onError(fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, d.max))
			d.discard = true
		}
		keep := len(d.delim) - 1
		d.buf = append(d.buf[:0], d.buf[len(d.buf)-keep:]...)
	}
}

// Pending returns the bytes received after the last complete line.
func (d *LineDecoder) Pending() string {
	if d.discard {
		return ""
	}
	return string(d.buf)
}

// EncodeLine appends delim to line. An empty delim selects DefaultDelimiter.
func EncodeLine(line, delim string) []byte {
	if delim == "" {
		delim = DefaultDelimiter
	}
	return []byte(line + delim)
}
