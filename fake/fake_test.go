package fake

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-stomp/api"
	"github.com/momentics/hioload-stomp/protocol"
)

var (
	_ api.ConnectionHandler = (*Conn)(nil)
	_ api.Executor          = (*Executor)(nil)
)

func TestConn_RecordsAndFails(t *testing.T) {
	c := NewConn(3)
	assert.Equal(t, int64(3), c.ID())
	assert.NoError(t, c.Send(protocol.Receipt("1")))
	assert.NoError(t, c.Send(protocol.Message(1, 1, "/a", "x")))
	assert.Len(t, c.Frames(), 2)
	assert.Len(t, c.Messages(), 1)

	boom := errors.New("boom")
	c.SetSendError(boom)
	assert.ErrorIs(t, c.Send(protocol.Receipt("2")), boom)

	c.Reset()
	assert.Empty(t, c.Frames())
	assert.NoError(t, c.Close())
	assert.True(t, c.Closed())
	c.SetSendError(nil)
	assert.ErrorIs(t, c.Send(protocol.Receipt("3")), api.ErrConnectionClosed)
}

func TestSink_Discards(t *testing.T) {
	s := NewSink(1)
	assert.NoError(t, s.Send(protocol.Receipt("1")))
	assert.Empty(t, s.Frames())
}

func TestExecutor_RunsInline(t *testing.T) {
	var e Executor
	ran := false
	assert.NoError(t, e.Submit(func() { ran = true }))
	assert.True(t, ran)
	assert.Equal(t, int64(1), e.Runs())
}
