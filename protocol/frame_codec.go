// File: protocol/frame_codec.go
// Package protocol implements the STOMP byte-stream framer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Codec accumulates raw socket bytes into NUL-terminated frame text and encodes
// outgoing frame text back to wire bytes. A Codec belongs to exactly one
// connection and is not safe for concurrent use.

package protocol

// Terminator ends every frame on the wire.
const Terminator byte = 0x00

// initialBufferSize is the starting capacity of the decode buffer.
const initialBufferSize = 1 << 10

// DefaultMaxFrameSize bounds a single inbound frame.
const DefaultMaxFrameSize = 1 << 20 // 1 MiB

// Codec is a stateful, single-connection frame decoder/encoder.
type Codec struct {
	buf     []byte
	n       int
	maxSize int
	err     error
}

// NewCodec returns a codec limited to maxFrameSize bytes per frame.
// maxFrameSize <= 0 disables the limit.
func NewCodec(maxFrameSize int) *Codec {
	return &Codec{
		buf:     make([]byte, initialBufferSize),
		maxSize: maxFrameSize,
	}
}

// DecodeNext consumes one byte. When b is the terminator it returns the
// buffered text and resets the buffer.
func (c *Codec) DecodeNext(b byte) (string, bool) {
	if b == Terminator {
		text := string(c.buf[:c.n])
		c.n = 0
		return text, true
	}
	if c.maxSize > 0 && c.n >= c.maxSize {
		c.err = ErrFrameTooLarge
		return "", false
	}
	if c.n >= len(c.buf) {
		grown := make([]byte, len(c.buf)*2)
		copy(grown, c.buf[:c.n])
		c.buf = grown
	}
	c.buf[c.n] = b
	c.n++
	return "", false
}

// Decode feeds a whole read chunk and returns every frame it completes.
// Decoding stops at the first error; see Err.
func (c *Codec) Decode(p []byte) []string {
	var frames []string
	for _, b := range p {
		if c.err != nil {
			break
		}
		if text, ok := c.DecodeNext(b); ok {
			frames = append(frames, text)
		}
	}
	return frames
}

// Err reports a sticky decode failure such as ErrFrameTooLarge.
func (c *Codec) Err() error {
	return c.err
}

// Buffered returns the number of bytes of the current partial frame.
func (c *Codec) Buffered() int {
	return c.n
}

// Encode converts frame text to wire bytes: text, a trailing newline and the terminator.
func Encode(text string) []byte {
	out := make([]byte, 0, len(text)+2)
	out = append(out, text...)
	out = append(out, '\n', Terminator)
	return out
}

// Encode is the method form of the package-level Encode.
func (c *Codec) Encode(text string) []byte {
	return Encode(text)
}
