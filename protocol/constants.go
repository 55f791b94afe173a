// Package protocol
// Author: momentics <momentics@gmail.com>
//
// STOMP wire protocol constants

package protocol

const (
	// Client commands
	CmdConnect     = "CONNECT"
	CmdStomp       = "STOMP"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"

	// Server commands
	CmdConnected = "CONNECTED"
	CmdMessage   = "MESSAGE"
	CmdReceipt   = "RECEIPT"
	CmdError     = "ERROR"

	// Header names
	HdrAcceptVersion = "accept-version"
	HdrHost          = "host"
	HdrLogin         = "login"
	HdrPasscode      = "passcode"
	HdrVersion       = "version"
	HdrSession       = "session"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrMessage       = "message"

	// DestinationSeparator prefixes channel names in destination headers.
	DestinationSeparator = '/'
)

// ChannelName strips the leading separator from a destination header value.
func ChannelName(destination string) string {
	if len(destination) > 0 && destination[0] == DestinationSeparator {
		return destination[1:]
	}
	return destination
}

// Destination re-prefixes a channel name with the separator.
func Destination(channel string) string {
	return string(DestinationSeparator) + channel
}
