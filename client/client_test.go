package client_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/momentics/hioload-stomp/client"
	"github.com/momentics/hioload-stomp/internal/session"
	"github.com/momentics/hioload-stomp/protocol"
	"github.com/momentics/hioload-stomp/server"
)

func startBroker(t *testing.T) (string, *session.Registry) {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	reg := session.NewRegistry(session.WithPasswordCost(bcrypt.MinCost))
	srv, err := server.New(server.ModeThreadPerConnection, cfg, reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
	})
	return srv.Addr().String(), reg
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), client.DefaultConfig(addr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type events struct {
	mu       sync.Mutex
	sessions []string
	closed   int
	errs     []error
}

func (e *events) OnConnect(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = append(e.sessions, s)
}

func (e *events) OnClose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
}

func (e *events) OnError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func TestClient_PublishSubscribe(t *testing.T) {
	addr, reg := startBroker(t)
	ctx := timeout(t)

	pub := dial(t, addr)
	sub := dial(t, addr)
	ev := &events{}
	sub.RegisterHandler(ev)

	_, err := pub.Connect(ctx, "alice", "secret")
	require.NoError(t, err)
	sess, err := sub.Connect(ctx, "bob", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, sess)
	assert.Equal(t, sess, sub.Session())

	require.NoError(t, sub.Subscribe(ctx, "/germany_spain", 12))
	require.NoError(t, pub.Subscribe(ctx, "/germany_spain", 1))
	require.NoError(t, pub.Send(ctx, "/germany_spain", "goal!"))

	m, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "12", m.Headers.Value(protocol.HdrSubscription))
	assert.Equal(t, "/germany_spain", m.Headers.Value(protocol.HdrDestination))
	assert.Equal(t, "goal!", m.Body)

	require.NoError(t, sub.Unsubscribe(ctx, 12))
	assert.Len(t, reg.SubscribersOf("germany_spain"), 1)

	require.NoError(t, sub.Disconnect(ctx))
	<-sub.Done()
	assert.ErrorIs(t, sub.Err(), client.ErrClosed)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Equal(t, []string{sess}, ev.sessions)
	assert.Equal(t, 1, ev.closed)
	assert.Empty(t, ev.errs)
}

func TestClient_ServerErrorEndsConnection(t *testing.T) {
	addr, _ := startBroker(t)
	ctx := timeout(t)
	c := dial(t, addr)

	err := c.Subscribe(ctx, "/news", 1)
	var se *client.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.CmdError, se.Frame.Command)
	assert.Contains(t, se.Error(), "Not connected")

	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("connection not closed after ERROR")
	}
	_, err = c.Receive(ctx)
	assert.ErrorIs(t, err, client.ErrClosed)
	assert.ErrorIs(t, c.SendFrame(protocol.NewFrame(protocol.CmdDisconnect)), client.ErrClosed)
}

func TestClient_WrongPassword(t *testing.T) {
	addr, _ := startBroker(t)
	ctx := timeout(t)

	first := dial(t, addr)
	_, err := first.Connect(ctx, "carol", "right")
	require.NoError(t, err)
	require.NoError(t, first.Disconnect(ctx))

	second := dial(t, addr)
	_, err = second.Connect(ctx, "carol", "wrong")
	var se *client.ServerError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "Wrong password")
}

func TestClient_ReceiveHonorsContext(t *testing.T) {
	addr, _ := startBroker(t)
	c := dial(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_DialFailure(t *testing.T) {
	cfg := client.DefaultConfig("127.0.0.1:1")
	cfg.DialTimeout = 200 * time.Millisecond
	_, err := client.Dial(context.Background(), cfg)
	assert.Error(t, err)
}
