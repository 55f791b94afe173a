package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-stomp/protocol"
)

func TestParseFrame(t *testing.T) {
	f, err := protocol.ParseFrame("\r\n\nSEND\r\ndestination:/a:b\r\nreceipt:1\nreceipt:2\n\nline one\nline two\n\n")
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdSend, f.Command)
	assert.Equal(t, "/a:b", f.Headers.Value(protocol.HdrDestination))
	assert.Equal(t, "1", f.Headers.Value(protocol.HdrReceipt), "first repeated header wins")
	assert.Len(t, f.Headers, 2)
	assert.Equal(t, "line one\nline two", f.Body)
}

func TestParseFrame_EmptyHeaderValue(t *testing.T) {
	f, err := protocol.ParseFrame("SUBSCRIBE\nid:\n\n")
	require.NoError(t, err)
	v, ok := f.Header(protocol.HdrID)
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.Empty(t, f.Body)
}

func TestParseFrame_Errors(t *testing.T) {
	_, err := protocol.ParseFrame("\n\r\n")
	assert.ErrorIs(t, err, protocol.ErrEmptyFrame)

	f, err := protocol.ParseFrame("SEND\nno colon here\n\n")
	assert.ErrorIs(t, err, protocol.ErrMalformedHeader)
	var mh *protocol.MalformedHeaderError
	require.ErrorAs(t, err, &mh)
	assert.Equal(t, "no colon here", mh.Line)
	assert.Equal(t, protocol.CmdSend, f.Command)
}

func TestFrame_StringRoundTrip(t *testing.T) {
	orig := protocol.Message(5, 42, protocol.Destination("news"), "hi")
	parsed, err := protocol.ParseFrame(orig.String())
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestServerFrames(t *testing.T) {
	c := protocol.Connected("1.2", "")
	assert.Equal(t, "CONNECTED\nversion:1.2\n\n", c.String())

	r := protocol.Receipt("77")
	assert.Equal(t, "RECEIPT\nreceipt-id:77\n\n", r.String())

	e := protocol.Error("malformed frame received", "Did not contain a id header.", "SUBSCRIBE\n", "9")
	assert.Equal(t, "9", e.Headers.Value(protocol.HdrReceiptID))
	assert.Equal(t, "malformed frame received", e.Headers.Value(protocol.HdrMessage))
	assert.Contains(t, e.Body, "-----\nSUBSCRIBE\n\n-----\nDid not contain a id header.")

	s := protocol.NewFrame(protocol.CmdSend).Set("k", "1").Set("k", "2")
	assert.Equal(t, "2", s.Headers.Value("k"))
	assert.Len(t, s.Headers, 1)
}

func TestDestinationMapping(t *testing.T) {
	assert.Equal(t, "news", protocol.ChannelName("/news"))
	assert.Equal(t, "news", protocol.ChannelName("news"))
	assert.Equal(t, "", protocol.ChannelName(""))
	assert.Equal(t, "/news", protocol.Destination("news"))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, protocol.ActionSilent, protocol.Respond(nil).Action)
	assert.False(t, protocol.Respond(protocol.Receipt("1")).Closes())
	assert.True(t, protocol.RespondAndClose(protocol.Receipt("1")).Closes())
	assert.True(t, protocol.CloseSilently().Closes())
	assert.Equal(t, "respond-and-close", protocol.ActionRespondAndClose.String())
}
