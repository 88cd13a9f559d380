package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dim13/cobs"
	"github.com/kjx98/crc16"
)

// Frame errors passed to a FrameDecoder's error callback.
var (
	ErrFrameTooShort  = errors.New("frame too short")
	ErrFrameCRC       = errors.New("frame CRC mismatch")
	ErrFrameTooLong   = errors.New("frame exceeds maximum length")
	ErrFrameMalformed = errors.New("malformed COBS frame")
)

// DefaultMaxFrame bounds how much a FrameDecoder buffers while waiting for
// a frame delimiter.
const DefaultMaxFrame = 1024

// EncodeFrame wraps payload for the wire: a little endian CCITT CRC16 is
// appended, the result is COBS encoded and enclosed in zero delimiters so a
// receiver can resynchronize at any frame boundary.
func EncodeFrame(payload []byte) []byte {
	var body bytes.Buffer
	body.Write(payload)
	_ = binary.Write(&body, binary.LittleEndian, crc16.ChecksumCCITT(payload))

	enc := cobs.Encode(body.Bytes())
	ret := make([]byte, 0, len(enc)+2)
	ret = append(ret, 0)
	ret = append(ret, enc...)
	if len(enc) == 0 || enc[len(enc)-1] != 0 {
		ret = append(ret, 0)
	}
	return ret
}

// FrameDecoder reassembles frames written by EncodeFrame.
type FrameDecoder struct {
	onFrame func([]byte)
	onError func(error)
	max     int
	buf     []byte
	discard bool
}

// NewFrameDecoder returns a decoder that calls onFrame with each verified
// payload and onError, if not nil, for each frame it has to drop.
func NewFrameDecoder(onFrame func([]byte), onError func(error)) *FrameDecoder {
	if onError == nil {
		onError = func(error) {}
	}
	return &FrameDecoder{onFrame: onFrame, onError: onError, max: DefaultMaxFrame}
}

// Decode consumes b.
func (d *FrameDecoder) Decode(b []byte) {
	for _, c := range b {
		if c != 0 {
			if d.discard {
				continue
			}
			if len(d.buf) >= d.max {
				d.onError(fmt.Errorf("%w: more than %d bytes", ErrFrameTooLong, d.max))
				d.buf = d.buf[:0]
				d.discard = true
				continue
			}
			d.buf = append(d.buf, c)
			continue
		}
		if len(d.buf) > 0 && !d.discard {
			d.frame(d.buf)
		}
		d.buf = d.buf[:0]
		d.discard = false
	}
}

func (d *FrameDecoder) frame(enc []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.onError(fmt.Errorf("%w: %v", ErrFrameMalformed, r))
		}
	}()
	body := cobs.Decode(append(append([]byte(nil), enc...), 0))
	if len(body) < 2 {
		d.onError(fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(body)))
		return
	}
	payload := body[:len(body)-2]
	want := binary.LittleEndian.Uint16(body[len(body)-2:])
	if got := crc16.ChecksumCCITT(payload); got != want {
		d.onError(fmt.Errorf("%w: got %04x, want %04x", ErrFrameCRC, got, want))
		return
	}
	d.onFrame(append([]byte(nil), payload...))
}
