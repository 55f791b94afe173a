// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// User accounts and channel membership sets.

package session

import (
	"maps"
	"sync"
)

// noConnection marks a user without a live connection.
const noConnection int64 = -1

// User is a registered account. It is created on first successful
// registration and lives for the process lifetime; logout only clears the
// connection link and subscriptions.
type User struct {
	name string
	hash []byte

	mu       sync.RWMutex
	loggedIn bool
	connID   int64
	subs     map[string]int // channel -> subscription id
}

func newUser(name string, hash []byte) *User {
	return &User{
		name:   name,
		hash:   hash,
		connID: noConnection,
		subs:   make(map[string]int),
	}
}

// boundTo reports whether u is logged in through connection id.
// Caller holds u.mu.
func (u *User) boundTo(id int64) bool {
	return u.loggedIn && u.connID == id
}

// channelFor finds the channel subscribed under subID. Caller holds u.mu.
func (u *User) channelFor(subID int) (string, bool) {
	for ch, sid := range u.subs {
		if sid == subID {
			return ch, true
		}
	}
	return "", false
}

// UserInfo is a point-in-time copy of a User.
type UserInfo struct {
	Name          string
	LoggedIn      bool
	ConnectionID  int64
	Subscriptions map[string]int
}

func (u *User) snapshot() UserInfo {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return UserInfo{
		Name:          u.name,
		LoggedIn:      u.loggedIn,
		ConnectionID:  u.connID,
		Subscriptions: maps.Clone(u.subs),
	}
}

// channel holds the connection ids subscribed to one destination.
// publish serializes fan-out so every subscriber observes the channel's
// message ids in increasing order. Membership mutations never take it.
type channel struct {
	publish sync.Mutex
	mu      sync.RWMutex
	subs    map[int64]struct{}
}

func newChannel() *channel {
	return &channel{subs: make(map[int64]struct{})}
}

func (c *channel) add(id int64) {
	c.mu.Lock()
	c.subs[id] = struct{}{}
	c.mu.Unlock()
}

func (c *channel) remove(id int64) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *channel) snapshot() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	return ids
}
