// Package session
// Author: momentics <momentics@gmail.com>
//
// Session registry: the single shared, concurrently mutated state of the broker.
// It owns user accounts, channel membership, the connection-id to username
// reverse index and the global message-id counter, and holds connection
// handles by reference.
//
// Tables are sharded with one lock per shard; users and channels carry their
// own locks so compound operations serialize per key. Lock order is always
// user before channel.

package session
