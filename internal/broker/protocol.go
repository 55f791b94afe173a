// File: internal/broker/protocol.go
// Package broker
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Protocol is the per-connection STOMP state machine. It turns one decoded
// frame into a protocol.Outcome and applies the command to the shared
// session registry. A Protocol is not reentrant: the dispatch engine must
// feed it frames of one connection strictly serially.

package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/momentics/hioload-stomp/internal/session"
	"github.com/momentics/hioload-stomp/protocol"
)

const (
	// DefaultHost is the virtual host CONNECT frames must name.
	DefaultHost = "stomp.cs.bgu.ac.il"
	// DefaultVersion is the only accepted protocol version.
	DefaultVersion = "1.2"

	// MetricMessagesPublished counts MESSAGE frames delivered by SEND fan-out.
	MetricMessagesPublished = "messages.published"
)

const summaryMalformed = "malformed frame received"

// Counter receives broker counters. control.MetricsRegistry satisfies it.
type Counter interface {
	Add(name string, delta int64)
}

// required lists the headers every command must carry with a non-empty value.
var required = map[string][]string{
	protocol.CmdConnect:     {protocol.HdrAcceptVersion, protocol.HdrHost, protocol.HdrLogin, protocol.HdrPasscode},
	protocol.CmdStomp:       {protocol.HdrAcceptVersion, protocol.HdrHost, protocol.HdrLogin, protocol.HdrPasscode},
	protocol.CmdSend:        {protocol.HdrDestination},
	protocol.CmdSubscribe:   {protocol.HdrDestination, protocol.HdrID},
	protocol.CmdUnsubscribe: {protocol.HdrID},
	protocol.CmdDisconnect:  {protocol.HdrReceipt},
}

// Protocol processes the frames of one connection.
type Protocol struct {
	id       int64
	registry *session.Registry

	host    string
	version string
	log     *slog.Logger
	counter Counter

	session    string
	terminated bool
}

// Option customizes a Protocol.
type Option func(*Protocol)

// WithHost sets the host string compared against CONNECT's host header.
func WithHost(host string) Option {
	return func(p *Protocol) {
		if host != "" {
			p.host = host
		}
	}
}

// WithVersion sets the version compared against accept-version.
func WithVersion(version string) Option {
	return func(p *Protocol) {
		if version != "" {
			p.version = version
		}
	}
}

// WithLogger sets the base logger; conn_id is attached automatically.
func WithLogger(l *slog.Logger) Option {
	return func(p *Protocol) {
		if l != nil {
			p.log = l
		}
	}
}

// WithCounter reports broker counters to c.
func WithCounter(c Counter) Option {
	return func(p *Protocol) {
		p.counter = c
	}
}

// NewProtocol binds a state machine to connection id and the shared registry.
func NewProtocol(id int64, registry *session.Registry, opts ...Option) *Protocol {
	p := &Protocol{
		id:       id,
		registry: registry,
		host:     DefaultHost,
		version:  DefaultVersion,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("conn_id", id)
	return p
}

// ID returns the connection id.
func (p *Protocol) ID() int64 { return p.id }

// Session returns the session id issued by the last successful CONNECT.
func (p *Protocol) Session() string { return p.session }

// Terminated reports whether an ERROR has ended the session.
func (p *Protocol) Terminated() bool { return p.terminated }

// Process handles one decoded frame.
func (p *Protocol) Process(text string) protocol.Outcome {
	if p.terminated {
		return protocol.CloseSilently()
	}

	f, err := protocol.ParseFrame(text)
	if errors.Is(err, protocol.ErrEmptyFrame) {
		return protocol.Silent()
	}
	if err != nil {
		return p.fail(f, text, summaryMalformed, err.Error())
	}

	if problem := p.validate(f); problem != "" {
		return p.fail(f, text, summaryMalformed, problem)
	}

	switch f.Command {
	case protocol.CmdConnect, protocol.CmdStomp:
		return p.connect(f, text)
	case protocol.CmdSend:
		return p.send(f, text)
	case protocol.CmdSubscribe:
		return p.subscribe(f, text)
	case protocol.CmdUnsubscribe:
		return p.unsubscribe(f, text)
	case protocol.CmdDisconnect:
		return p.disconnect(f)
	default:
		return p.fail(f, text, "Unknown command", fmt.Sprintf("The command %q is not supported.", f.Command))
	}
}

// validate checks the fixed required-header list of f's command and
// describes the first violation, or returns "".
func (p *Protocol) validate(f *protocol.Frame) string {
	for _, key := range required[f.Command] {
		v, ok := f.Header(key)
		if !ok {
			return fmt.Sprintf("Did not contain a %s header, which is REQUIRED for %s propagation.",
				key, strings.ToLower(f.Command))
		}
		if v == "" {
			return fmt.Sprintf("The %s header is empty, which is REQUIRED for %s propagation.",
				key, strings.ToLower(f.Command))
		}
	}
	return ""
}

func (p *Protocol) connect(f *protocol.Frame, text string) protocol.Outcome {
	if info, ok := p.registry.UserFor(p.id); ok {
		return p.fail(f, text, "Already connected",
			fmt.Sprintf("This connection is already logged in as %s.", info.Name))
	}
	if host := f.Headers.Value(protocol.HdrHost); host != p.host {
		return p.fail(f, text, "Wrong host",
			fmt.Sprintf("The host %q is not served here; expected %q.", host, p.host))
	}
	if v := f.Headers.Value(protocol.HdrAcceptVersion); v != p.version {
		return p.fail(f, text, "Wrong version",
			fmt.Sprintf("Version %q is not supported; expected %q.", v, p.version))
	}

	login := f.Headers.Value(protocol.HdrLogin)
	passcode := f.Headers.Value(protocol.HdrPasscode)

	created := false
	if p.registry.IsUniqueUsername(login) {
		switch err := p.registry.CreateUser(p.id, login, passcode); {
		case err == nil:
			created = true
		case errors.Is(err, session.ErrUserExists):
			// lost a registration race; treat the name as an existing account
		default:
			p.log.Warn("user registration failed", "user", login, "error", err)
			return p.fail(f, text, "Registration failed", err.Error())
		}
	}
	if !created && !p.registry.CheckCredentials(p.id, login, passcode) {
		return p.fail(f, text, "Wrong password", "The passcode does not match the stored one.")
	}

	if err := p.registry.Login(p.id, login); err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyLoggedIn):
			return p.fail(f, text, "User already logged in",
				fmt.Sprintf("User %s holds a session on another connection.", login))
		case errors.Is(err, session.ErrConnectionBound):
			return p.fail(f, text, "Already connected", err.Error())
		default:
			return p.fail(f, text, "Login failed", err.Error())
		}
	}

	p.session = uuid.NewString()
	p.log.Debug("user logged in", "user", login, "session", p.session, "registered", created)
	return protocol.Respond(protocol.Connected(p.version, p.session))
}

func (p *Protocol) send(f *protocol.Frame, text string) protocol.Outcome {
	destination := f.Headers.Value(protocol.HdrDestination)
	channel := protocol.ChannelName(destination)
	if !p.registry.IsSubscribed(channel, p.id) {
		return p.fail(f, text, "User is not subscribed to the destination",
			fmt.Sprintf("Subscribe to %s before sending to it.", destination))
	}

	target := protocol.Destination(channel)
	msgID, delivered := p.registry.Publish(channel, func(subID int, msgID int64) *protocol.Frame {
		return protocol.Message(subID, msgID, target, f.Body)
	})
	if p.counter != nil {
		p.counter.Add(MetricMessagesPublished, int64(delivered))
	}
	p.log.Debug("message published", "channel", channel, "message_id", msgID, "recipients", delivered)
	return p.receipt(f)
}

func (p *Protocol) subscribe(f *protocol.Frame, text string) protocol.Outcome {
	channel := protocol.ChannelName(f.Headers.Value(protocol.HdrDestination))
	subID, err := strconv.Atoi(f.Headers.Value(protocol.HdrID))
	if err != nil {
		return p.fail(f, text, summaryMalformed,
			fmt.Sprintf("The id header must be an integer, got %q.", f.Headers.Value(protocol.HdrID)))
	}

	if err := p.registry.Subscribe(p.id, channel, subID); err != nil {
		switch {
		case errors.Is(err, session.ErrNotLoggedIn):
			return p.notConnected(f, text)
		case errors.Is(err, session.ErrAlreadySubscribed):
			return p.fail(f, text, "The user is already subscribed to the channel", err.Error())
		case errors.Is(err, session.ErrDuplicateSubscriptionID):
			return p.fail(f, text, "Subscription id already in use", err.Error())
		default:
			return p.fail(f, text, "Subscription rejected", err.Error())
		}
	}
	return p.receipt(f)
}

func (p *Protocol) unsubscribe(f *protocol.Frame, text string) protocol.Outcome {
	subID, err := strconv.Atoi(f.Headers.Value(protocol.HdrID))
	if err != nil {
		return p.fail(f, text, summaryMalformed,
			fmt.Sprintf("The id header must be an integer, got %q.", f.Headers.Value(protocol.HdrID)))
	}
	if _, err := p.registry.Unsubscribe(p.id, subID); err != nil {
		if errors.Is(err, session.ErrNotLoggedIn) {
			return p.notConnected(f, text)
		}
		return p.fail(f, text, "User is not subscribed to the destination",
			fmt.Sprintf("No subscription is registered under id %d.", subID))
	}
	return p.receipt(f)
}

// disconnect logs the user out and acknowledges; the socket stays open until
// the client closes it.
func (p *Protocol) disconnect(f *protocol.Frame) protocol.Outcome {
	if p.registry.Logout(p.id) {
		p.log.Debug("user logged out")
	}
	p.session = ""
	return protocol.Respond(protocol.Receipt(f.Headers.Value(protocol.HdrReceipt)))
}

// receipt acknowledges f when the client asked for it.
func (p *Protocol) receipt(f *protocol.Frame) protocol.Outcome {
	if id, ok := f.Header(protocol.HdrReceipt); ok {
		return protocol.Respond(protocol.Receipt(id))
	}
	return protocol.Silent()
}

func (p *Protocol) notConnected(f *protocol.Frame, text string) protocol.Outcome {
	return p.fail(f, text, "Not connected", "Send a CONNECT frame before "+f.Command+".")
}

// fail terminates the session with an ERROR frame. Unless the failing
// command was CONNECT, the connection is removed from the registry before
// the frame leaves, so no further fan-out reaches it.
func (p *Protocol) fail(f *protocol.Frame, text, summary, description string) protocol.Outcome {
	p.terminated = true

	var receipt, command string
	if f != nil {
		receipt = f.Headers.Value(protocol.HdrReceipt)
		command = f.Command
	}
	if command != protocol.CmdConnect && command != protocol.CmdStomp {
		p.registry.Disconnect(p.id)
	}
	p.log.Debug("session terminated", "command", command, "reason", summary)
	return protocol.RespondAndClose(protocol.Error(summary, description, text, receipt))
}
