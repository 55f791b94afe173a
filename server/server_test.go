package server_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/momentics/hioload-stomp/control"
	"github.com/momentics/hioload-stomp/internal/session"
	"github.com/momentics/hioload-stomp/protocol"
	"github.com/momentics/hioload-stomp/server"
)

const ioTimeout = 3 * time.Second

func modes() []server.Mode {
	m := []server.Mode{server.ModeThreadPerConnection}
	if runtime.GOOS == "linux" {
		m = append(m, server.ModeReactor)
	}
	return m
}

type fixture struct {
	srv     server.Server
	reg     *session.Registry
	metrics *control.MetricsRegistry
}

func testConfig() *server.Config {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.WSAddr = "127.0.0.1:0"
	cfg.Workers = 4
	cfg.Loops = 2
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newRegistry() *session.Registry {
	return session.NewRegistry(session.WithPasswordCost(bcrypt.MinCost))
}

// serve runs srv until the test ends and checks that Serve returns cleanly.
func serve(t *testing.T, srv server.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
}

func start(t *testing.T, mode server.Mode) *fixture {
	t.Helper()
	f := &fixture{reg: newRegistry(), metrics: control.NewMetricsRegistry()}
	srv, err := server.New(mode, testConfig(), f.reg, server.WithMetrics(f.metrics))
	require.NoError(t, err)
	f.srv = srv
	serve(t, srv)
	return f
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr net.Addr) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), ioTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) write(raw string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(ioTimeout)))
	_, err := io.WriteString(c.conn, raw)
	require.NoError(c.t, err)
}

func (c *client) send(text string) {
	c.t.Helper()
	c.write(text + "\x00")
}

func (c *client) read() *protocol.Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(ioTimeout)))
	raw, err := c.r.ReadBytes(protocol.Terminator)
	require.NoError(c.t, err)
	f, err := protocol.ParseFrame(string(bytes.TrimSuffix(raw, []byte{protocol.Terminator})))
	require.NoError(c.t, err)
	return f
}

func (c *client) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(ioTimeout)))
	_, err := c.r.ReadByte()
	require.Error(c.t, err)
	var ne net.Error
	assert.False(c.t, errors.As(err, &ne) && ne.Timeout(), "connection still open: %v", err)
}

func connectText(login, pass string) string {
	return "CONNECT\naccept-version:1.2\nhost:stomp.cs.bgu.ac.il\nlogin:" + login + "\npasscode:" + pass + "\n\n"
}

func (c *client) login(name string) {
	c.t.Helper()
	c.send(connectText(name, "pw"))
	f := c.read()
	require.Equal(c.t, protocol.CmdConnected, f.Command, f.Body)
	assert.Equal(c.t, "1.2", f.Headers.Value(protocol.HdrVersion))
}

func (c *client) subscribe(dest, id, receipt string) {
	c.t.Helper()
	c.send("SUBSCRIBE\ndestination:" + dest + "\nid:" + id + "\nreceipt:" + receipt + "\n\n")
	f := c.read()
	require.Equal(c.t, protocol.CmdReceipt, f.Command, f.Body)
	assert.Equal(c.t, receipt, f.Headers.Value(protocol.HdrReceiptID))
}

func TestNew_UnknownMode(t *testing.T) {
	_, err := server.New("poll", testConfig(), newRegistry())
	assert.ErrorIs(t, err, server.ErrUnknownMode)

	_, err = server.New(server.ModeThreadPerConnection, testConfig(), nil)
	assert.Error(t, err)
}

func TestEngines_PublishFanOut(t *testing.T) {
	for _, mode := range modes() {
		t.Run(string(mode), func(t *testing.T) {
			fx := start(t, mode)
			alice := dial(t, fx.srv.Addr())
			bob := dial(t, fx.srv.Addr())
			alice.login("alice")
			bob.login("bob")

			bob.subscribe("/news", "7", "r1")
			alice.subscribe("/news", "3", "r2")

			alice.send("SEND\ndestination:/news\nreceipt:r3\n\nhello")
			own := alice.read()
			require.Equal(t, protocol.CmdMessage, own.Command)
			assert.Equal(t, "3", own.Headers.Value(protocol.HdrSubscription))
			rc := alice.read()
			require.Equal(t, protocol.CmdReceipt, rc.Command)
			assert.Equal(t, "r3", rc.Headers.Value(protocol.HdrReceiptID))

			got := bob.read()
			require.Equal(t, protocol.CmdMessage, got.Command)
			assert.Equal(t, "7", got.Headers.Value(protocol.HdrSubscription))
			assert.Equal(t, "/news", got.Headers.Value(protocol.HdrDestination))
			assert.Equal(t, "hello", got.Body)
			assert.Equal(t, own.Headers.Value(protocol.HdrMessageID), got.Headers.Value(protocol.HdrMessageID))

			assert.Equal(t, int64(2), fx.metrics.Counter(control.MetricConnectionsAccepted))
			assert.Equal(t, int64(2), fx.metrics.Counter(control.MetricMessagesPublished))
			assert.GreaterOrEqual(t, fx.metrics.Counter(control.MetricFramesIn), int64(5))
		})
	}
}

func TestEngines_SplitAndCoalescedFrames(t *testing.T) {
	for _, mode := range modes() {
		t.Run(string(mode), func(t *testing.T) {
			fx := start(t, mode)
			c := dial(t, fx.srv.Addr())

			text := connectText("carol", "pw") + "\x00"
			c.write(text[:10])
			time.Sleep(20 * time.Millisecond)
			c.write(text[10:])
			require.Equal(t, protocol.CmdConnected, c.read().Command)

			c.write("\n" +
				"SUBSCRIBE\ndestination:/a\nid:1\nreceipt:s1\n\n\x00" +
				"SUBSCRIBE\ndestination:/b\nid:2\nreceipt:s2\n\n\x00")
			assert.Equal(t, "s1", c.read().Headers.Value(protocol.HdrReceiptID))
			assert.Equal(t, "s2", c.read().Headers.Value(protocol.HdrReceiptID))
		})
	}
}

func TestEngines_ErrorClosesConnection(t *testing.T) {
	for _, mode := range modes() {
		t.Run(string(mode), func(t *testing.T) {
			fx := start(t, mode)
			sub := dial(t, fx.srv.Addr())
			sub.login("dave")
			sub.subscribe("/x", "1", "r1")

			sub.send("SUBSCRIBE\ndestination:/y\nreceipt:r2\n\n")
			f := sub.read()
			require.Equal(t, protocol.CmdError, f.Command)
			assert.Equal(t, "r2", f.Headers.Value(protocol.HdrReceiptID))
			assert.Contains(t, f.Body, "id")
			sub.expectClosed()

			assert.Eventually(t, func() bool {
				st := fx.reg.Stats()
				return st.Connections == 0 && st.LoggedIn == 0
			}, ioTimeout, 10*time.Millisecond)
			assert.Empty(t, fx.reg.SubscribersOf("x"))
			assert.Equal(t, int64(1), fx.metrics.Counter(control.MetricErrorsSent))
			assert.False(t, fx.reg.IsLoggedIn("dave"))
		})
	}
}

func TestEngines_DisconnectThenReconnect(t *testing.T) {
	for _, mode := range modes() {
		t.Run(string(mode), func(t *testing.T) {
			fx := start(t, mode)
			c := dial(t, fx.srv.Addr())
			c.login("erin")

			c.send("DISCONNECT\nreceipt:77\n\n")
			f := c.read()
			require.Equal(t, protocol.CmdReceipt, f.Command)
			assert.Equal(t, "77", f.Headers.Value(protocol.HdrReceiptID))
			assert.False(t, fx.reg.IsLoggedIn("erin"))

			c.login("erin")
			assert.True(t, fx.reg.IsLoggedIn("erin"))
		})
	}
}

func TestEngines_PeerCloseLogsOut(t *testing.T) {
	for _, mode := range modes() {
		t.Run(string(mode), func(t *testing.T) {
			fx := start(t, mode)
			c := dial(t, fx.srv.Addr())
			c.login("frank")
			require.NoError(t, c.conn.Close())

			assert.Eventually(t, func() bool { return !fx.reg.IsLoggedIn("frank") }, ioTimeout, 10*time.Millisecond)

			again := dial(t, fx.srv.Addr())
			again.login("frank")
		})
	}
}

func TestEngines_ShutdownClosesClients(t *testing.T) {
	for _, mode := range modes() {
		t.Run(string(mode), func(t *testing.T) {
			fx := start(t, mode)
			c := dial(t, fx.srv.Addr())
			c.login("gina")

			require.NoError(t, fx.srv.Shutdown())
			c.expectClosed()
			assert.Zero(t, fx.reg.Stats().Connections)
			require.NoError(t, fx.srv.Shutdown())
		})
	}
}

func TestEngines_LargeMessageIsFlushed(t *testing.T) {
	for _, mode := range modes() {
		t.Run(string(mode), func(t *testing.T) {
			fx := start(t, mode)
			pub := dial(t, fx.srv.Addr())
			pub.login("hank")
			pub.subscribe("/big", "1", "r1")

			body := strings.Repeat("x", 512<<10)
			pub.send("SEND\ndestination:/big\n\n" + body)
			f := pub.read()
			require.Equal(t, protocol.CmdMessage, f.Command)
			assert.Len(t, f.Body, len(body))
		})
	}
}

func TestEngines_HalfCloseFlushesPendingReplies(t *testing.T) {
	for _, mode := range modes() {
		t.Run(string(mode), func(t *testing.T) {
			fx := start(t, mode)
			for i := 0; i < 20; i++ {
				c := dial(t, fx.srv.Addr())
				c.login("erin")

				// pipeline three frames and stop writing before any reply arrives
				c.write("SUBSCRIBE\ndestination:/h\nid:1\nreceipt:s\n\n\x00" +
					"SEND\ndestination:/h\nreceipt:p\n\nping\x00" +
					"DISCONNECT\nreceipt:77\n\n\x00")
				require.NoError(t, c.conn.(*net.TCPConn).CloseWrite())

				f := c.read()
				require.Equal(t, protocol.CmdReceipt, f.Command, "round %d", i)
				assert.Equal(t, "s", f.Headers.Value(protocol.HdrReceiptID))
				f = c.read()
				require.Equal(t, protocol.CmdMessage, f.Command, "round %d", i)
				assert.Equal(t, "ping", f.Body)
				f = c.read()
				assert.Equal(t, "p", f.Headers.Value(protocol.HdrReceiptID))
				f = c.read()
				require.Equal(t, protocol.CmdReceipt, f.Command, "round %d", i)
				assert.Equal(t, "77", f.Headers.Value(protocol.HdrReceiptID))
				c.expectClosed()

				require.Eventually(t, func() bool { return !fx.reg.IsLoggedIn("erin") },
					ioTimeout, 5*time.Millisecond)
			}
		})
	}
}

func TestEngines_TornDownConnectionDoesNotReadNewPeers(t *testing.T) {
	burst := "NOPE\n\n\x00" + strings.Repeat("SEND\ndestination:/z\n\nx\x00", 500)
	for _, mode := range modes() {
		t.Run(string(mode), func(t *testing.T) {
			fx := start(t, mode)
			for i := 0; i < 30; i++ {
				bad := dial(t, fx.srv.Addr())
				bad.login("bad" + strconv.Itoa(i))
				bad.write(burst)

				good := dial(t, fx.srv.Addr())
				good.login("good" + strconv.Itoa(i))
				good.subscribe("/g", "1", "r"+strconv.Itoa(i))
				good.send("SEND\ndestination:/g\nreceipt:done\n\nbody" + strconv.Itoa(i))
				msg := good.read()
				require.Equal(t, protocol.CmdMessage, msg.Command, "round %d", i)
				assert.Equal(t, "body"+strconv.Itoa(i), msg.Body)
				assert.Equal(t, "done", good.read().Headers.Value(protocol.HdrReceiptID))

				// the server may reset a socket closed with unread input, so only
				// wait for the end of the stream
				require.NoError(t, bad.conn.SetReadDeadline(time.Now().Add(ioTimeout)))
				_, err := io.Copy(io.Discard, bad.r)
				var ne net.Error
				assert.False(t, errors.As(err, &ne) && ne.Timeout(), "errored connection left open")
				_ = good.conn.Close()
			}
		})
	}
}
