// Package protocol
// Author: momentics <momentics@gmail.com>
//
// STOMP frame model: parsing decoded frame text into command, headers and body,
// and serializing server frames back to text.

package protocol

import (
	"strconv"
	"strings"
)

// Header is a single key:value pair.
type Header struct {
	Key   string
	Value string
}

// Headers keeps headers in insertion order. Lookups return the first match.
type Headers []Header

// Get returns the first value stored under key.
func (h Headers) Get(key string) (string, bool) {
	for _, hdr := range h {
		if hdr.Key == key {
			return hdr.Value, true
		}
	}
	return "", false
}

// Value returns the header value or "" when absent.
func (h Headers) Value(key string) string {
	v, _ := h.Get(key)
	return v
}

// Has reports whether key is present, even with an empty value.
func (h Headers) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Frame is one parsed protocol unit.
type Frame struct {
	Command string
	Headers Headers
	Body    string
}

// NewFrame builds a frame with no headers.
func NewFrame(command string) *Frame {
	return &Frame{Command: command}
}

// Set appends a header, or replaces the value when key already exists.
func (f *Frame) Set(key, value string) *Frame {
	for i := range f.Headers {
		if f.Headers[i].Key == key {
			f.Headers[i].Value = value
			return f
		}
	}
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
	return f
}

// Header is shorthand for f.Headers.Get.
func (f *Frame) Header(key string) (string, bool) {
	return f.Headers.Get(key)
}

// String renders the frame text without the trailing newline and terminator;
// Encode adds those.
func (f *Frame) String() string {
	var sb strings.Builder
	sb.Grow(len(f.Command) + len(f.Body) + 16*len(f.Headers) + 2)
	sb.WriteString(f.Command)
	sb.WriteByte('\n')
	for _, h := range f.Headers {
		sb.WriteString(h.Key)
		sb.WriteByte(':')
		sb.WriteString(h.Value)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(f.Body)
	return sb.String()
}

// Bytes returns the encoded wire form of f.
func (f *Frame) Bytes() []byte {
	return Encode(f.String())
}

// ParseFrame splits decoded frame text into command, headers and body.
//
// EOLs preceding the command are skipped, trailing newlines are dropped, a
// trailing '\r' on the command and header lines is trimmed and headers are
// split on the first colon. Repeated headers keep their first value.
func ParseFrame(text string) (*Frame, error) {
	text = strings.TrimLeft(text, "\r\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil, ErrEmptyFrame
	}

	lines := strings.Split(text, "\n")
	f := &Frame{Command: strings.TrimSuffix(lines[0], "\r")}

	i := 1
	for ; i < len(lines); i++ {
		line := strings.TrimSuffix(lines[i], "\r")
		if line == "" {
			i++
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return f, &MalformedHeaderError{Line: line}
		}
		if !f.Headers.Has(key) {
			f.Headers = append(f.Headers, Header{Key: key, Value: value})
		}
	}
	if i < len(lines) {
		f.Body = strings.Join(lines[i:], "\n")
	}
	return f, nil
}

// Connected builds the CONNECTED reply.
func Connected(version, session string) *Frame {
	f := NewFrame(CmdConnected).Set(HdrVersion, version)
	if session != "" {
		f.Set(HdrSession, session)
	}
	return f
}

// Receipt builds a RECEIPT reply for the given receipt id.
func Receipt(receiptID string) *Frame {
	return NewFrame(CmdReceipt).Set(HdrReceiptID, receiptID)
}

// Message builds the MESSAGE frame delivered to one subscriber.
func Message(subscriptionID int, messageID int64, destination, body string) *Frame {
	f := NewFrame(CmdMessage).
		Set(HdrSubscription, strconv.Itoa(subscriptionID)).
		Set(HdrMessageID, strconv.FormatInt(messageID, 10)).
		Set(HdrDestination, destination)
	f.Body = body
	return f
}

// Error builds an ERROR frame. The body quotes the offending frame text
// followed by the detailed description.
func Error(summary, description, original, receipt string) *Frame {
	f := NewFrame(CmdError)
	if receipt != "" {
		f.Set(HdrReceiptID, receipt)
	}
	f.Set(HdrMessage, summary)

	var sb strings.Builder
	sb.WriteString("The message:\n-----\n")
	sb.WriteString(original)
	sb.WriteString("\n-----\n")
	sb.WriteString(description)
	f.Body = sb.String()
	return f
}
