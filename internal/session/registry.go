// File: internal/session/registry.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry is constructed once at startup and passed by reference to every
// dispatch engine and protocol instance.

package session

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"

	"github.com/momentics/hioload-stomp/api"
	"github.com/momentics/hioload-stomp/protocol"
)

// DefaultShards is the shard count of every registry table.
const DefaultShards = 32

// Registry tracks live connection handles, user accounts and channel
// membership. All methods are safe for concurrent use.
type Registry struct {
	handles  *shardedMap[int64, api.ConnectionHandler]
	users    *shardedMap[string, *User]
	byConn   *shardedMap[int64, string]
	channels *shardedMap[string, *channel]

	messageID atomic.Int64

	passwordCost int
	log          *slog.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithPasswordCost sets the bcrypt cost used to hash passwords.
func WithPasswordCost(cost int) Option {
	return func(r *Registry) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			r.passwordCost = cost
		}
	}
}

// WithLogger attaches a logger for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry builds an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handles:      newShardedMap[int64, api.ConnectionHandler](DefaultShards, idHash),
		users:        newShardedMap[string, *User](DefaultShards, fnv32),
		byConn:       newShardedMap[int64, string](DefaultShards, idHash),
		channels:     newShardedMap[string, *channel](DefaultShards, fnv32),
		passwordCost: bcrypt.DefaultCost,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterHandle stores the handle for a freshly accepted connection.
func (r *Registry) RegisterHandle(id int64, h api.ConnectionHandler) error {
	if h == nil {
		return api.ErrInvalidArgument
	}
	if _, created := r.handles.LoadOrCreate(id, func() api.ConnectionHandler { return h }); !created {
		return fmt.Errorf("connection %d: %w", id, api.ErrAlreadyExists)
	}
	return nil
}

// Handle returns the live handle for id.
func (r *Registry) Handle(id int64) (api.ConnectionHandler, bool) {
	return r.handles.Load(id)
}

// Unicast delivers f to connection id. It reports false when id is not live
// or the write failed.
func (r *Registry) Unicast(id int64, f *protocol.Frame) bool {
	h, ok := r.handles.Load(id)
	if !ok {
		return false
	}
	if err := h.Send(f); err != nil {
		r.log.Debug("unicast failed", "conn_id", id, "error", err)
		return false
	}
	return true
}

// Broadcast delivers f to every subscriber of channel at call time and
// returns the number of successful deliveries.
func (r *Registry) Broadcast(channel string, f *protocol.Frame) int {
	delivered := 0
	for _, id := range r.SubscribersOf(channel) {
		if r.Unicast(id, f) {
			delivered++
		}
	}
	return delivered
}

// Disconnect forgets connection id: its handle, its channel memberships and,
// when it carries a logged-in user, that user's session. Idempotent.
func (r *Registry) Disconnect(id int64) {
	r.handles.LoadAndDelete(id)
	r.Logout(id)
}

// Logout ends the session bound to connection id and drops its channel
// memberships while keeping the handle registered, so the same connection
// may log in again. It reports whether a session was bound.
func (r *Registry) Logout(id int64) bool {
	name, ok := r.byConn.LoadAndDelete(id)
	if !ok {
		return false
	}
	if u, ok := r.users.Load(name); ok {
		r.logout(u, id)
	}
	return true
}

// logout clears u's session if it is still bound to id.
func (r *Registry) logout(u *User, id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.boundTo(id) {
		return
	}
	for name := range u.subs {
		if c, ok := r.channels.Load(name); ok {
			c.remove(id)
		}
	}
	u.subs = make(map[string]int)
	u.loggedIn = false
	u.connID = noConnection
}

// IsUniqueUsername reports whether no account exists under name.
func (r *Registry) IsUniqueUsername(name string) bool {
	_, ok := r.users.Load(name)
	return !ok
}

// CreateUser registers a logged-out account. The check and the insert are
// atomic: when two connections race on one name the second gets ErrUserExists.
func (r *Registry) CreateUser(id int64, name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.passwordCost)
	if err != nil {
		return fmt.Errorf("hash password for %q: %w", name, err)
	}
	if _, created := r.users.LoadOrCreate(name, func() *User { return newUser(name, hash) }); !created {
		return ErrUserExists
	}
	r.log.Debug("user registered", "conn_id", id, "user", name)
	return nil
}

// Login marks the account logged in and binds connection id to it.
func (r *Registry) Login(id int64, name string) error {
	u, ok := r.users.Load(name)
	if !ok {
		return ErrUnknownUser
	}
	if bound, ok := r.byConn.Load(id); ok {
		return fmt.Errorf("%w as %q", ErrConnectionBound, bound)
	}

	u.mu.Lock()
	if u.loggedIn {
		u.mu.Unlock()
		return ErrAlreadyLoggedIn
	}
	u.loggedIn = true
	u.connID = id
	r.byConn.Store(id, name)
	u.mu.Unlock()

	// A concurrent Disconnect removes the handle before the reverse index;
	// re-checking here means one of the two always undoes the login.
	if _, ok := r.handles.Load(id); !ok {
		r.byConn.DeleteIf(id, func(v string) bool { return v == name })
		r.logout(u, id)
		return ErrUnknownConnection
	}
	return nil
}

// CheckCredentials reports whether name exists and password matches it.
func (r *Registry) CheckCredentials(id int64, name, password string) bool {
	u, ok := r.users.Load(name)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(u.hash, []byte(password)) == nil
}

// IsLoggedIn reports whether name exists and currently holds a session.
func (r *Registry) IsLoggedIn(name string) bool {
	u, ok := r.users.Load(name)
	if !ok {
		return false
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.loggedIn
}

// userFor resolves the logged-in user behind connection id.
func (r *Registry) userFor(id int64) (*User, bool) {
	name, ok := r.byConn.Load(id)
	if !ok {
		return nil, false
	}
	return r.users.Load(name)
}

// UserFor returns a snapshot of the user logged in through id.
func (r *Registry) UserFor(id int64) (UserInfo, bool) {
	u, ok := r.userFor(id)
	if !ok {
		return UserInfo{}, false
	}
	info := u.snapshot()
	if !info.LoggedIn || info.ConnectionID != id {
		return UserInfo{}, false
	}
	return info, true
}

// Subscribe adds channel to the user's subscriptions under subID and id to
// the channel's subscriber set, atomically.
func (r *Registry) Subscribe(id int64, channel string, subID int) error {
	u, ok := r.userFor(id)
	if !ok {
		return ErrNotLoggedIn
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.boundTo(id) {
		return ErrNotLoggedIn
	}
	if _, ok := u.subs[channel]; ok {
		return ErrAlreadySubscribed
	}
	if other, ok := u.channelFor(subID); ok {
		return fmt.Errorf("%w by %q", ErrDuplicateSubscriptionID, other)
	}
	c, _ := r.channels.LoadOrCreate(channel, newChannel)
	c.add(id)
	u.subs[channel] = subID
	return nil
}

// Unsubscribe removes the subscription registered under subID and returns
// its channel.
func (r *Registry) Unsubscribe(id int64, subID int) (string, error) {
	u, ok := r.userFor(id)
	if !ok {
		return "", ErrNotLoggedIn
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.boundTo(id) {
		return "", ErrNotLoggedIn
	}
	name, ok := u.channelFor(subID)
	if !ok {
		return "", ErrNotSubscribed
	}
	delete(u.subs, name)
	if c, ok := r.channels.Load(name); ok {
		c.remove(id)
	}
	return name, nil
}

// IsSubscribed reports whether connection id subscribes to channel.
func (r *Registry) IsSubscribed(channel string, id int64) bool {
	_, ok := r.SubscriptionIDFor(channel, id)
	return ok
}

// SubscriptionIDFor returns the subscription id connection id uses for channel.
func (r *Registry) SubscriptionIDFor(channel string, id int64) (int, bool) {
	u, ok := r.userFor(id)
	if !ok {
		return 0, false
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	if !u.boundTo(id) {
		return 0, false
	}
	subID, ok := u.subs[channel]
	return subID, ok
}

// SubscribersOf returns a snapshot of the connection ids subscribed to channel.
func (r *Registry) SubscribersOf(channel string) []int64 {
	c, ok := r.channels.Load(channel)
	if !ok {
		return nil
	}
	return c.snapshot()
}

// Publish allocates one message id and delivers build(subID, msgID) to every
// current subscriber of channel, each with its own subscription id. Concurrent
// publishes to one channel are serialized, so ids reach each subscriber in
// increasing order. It returns the id used and the number of deliveries; an
// unknown channel yields (0, 0) and consumes no id.
func (r *Registry) Publish(channel string, build func(subID int, msgID int64) *protocol.Frame) (int64, int) {
	c, ok := r.channels.Load(channel)
	if !ok {
		return 0, 0
	}
	c.publish.Lock()
	defer c.publish.Unlock()

	msgID := r.NextMessageID()
	delivered := 0
	for _, id := range c.snapshot() {
		subID, ok := r.SubscriptionIDFor(channel, id)
		if !ok {
			continue
		}
		if r.Unicast(id, build(subID, msgID)) {
			delivered++
		}
	}
	return msgID, delivered
}

// NextMessageID increments the global message counter and returns the new value.
func (r *Registry) NextMessageID() int64 {
	return r.messageID.Add(1)
}

// Stats summarizes the registry for debug probes.
type Stats struct {
	Connections   int   `json:"connections"`
	Users         int   `json:"users"`
	LoggedIn      int   `json:"logged_in"`
	Channels      int   `json:"channels"`
	LastMessageID int64 `json:"last_message_id"`
}

// Stats returns current table sizes.
func (r *Registry) Stats() Stats {
	return Stats{
		Connections:   r.handles.Len(),
		Users:         r.users.Len(),
		LoggedIn:      r.byConn.Len(),
		Channels:      r.channels.Len(),
		LastMessageID: r.messageID.Load(),
	}
}
