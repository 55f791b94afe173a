// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for the session registry.

package session

import "errors"

var (
	// ErrUserExists is returned when registering a username that is taken.
	ErrUserExists = errors.New("username already registered")

	// ErrUnknownUser indicates no account exists under the name.
	ErrUnknownUser = errors.New("unknown user")

	// ErrAlreadyLoggedIn indicates the account holds another live session.
	ErrAlreadyLoggedIn = errors.New("user already logged in")

	// ErrConnectionBound indicates the connection is already logged in as some user.
	ErrConnectionBound = errors.New("connection already logged in")

	// ErrUnknownConnection indicates no handle is registered under the id.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrNotLoggedIn indicates the connection has no logged-in user.
	ErrNotLoggedIn = errors.New("connection is not logged in")

	// ErrAlreadySubscribed indicates the user already subscribes to the channel.
	ErrAlreadySubscribed = errors.New("already subscribed to the channel")

	// ErrDuplicateSubscriptionID indicates the subscription id is in use for another channel.
	ErrDuplicateSubscriptionID = errors.New("subscription id already in use")

	// ErrNotSubscribed indicates no subscription matches the request.
	ErrNotSubscribed = errors.New("not subscribed")
)
