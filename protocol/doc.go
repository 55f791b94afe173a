// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the STOMP text framing used by the broker.
//
// Includes:
//   - Incremental NUL-terminated frame decoding (Codec)
//   - Frame parsing and serialization (Frame, ParseFrame)
//   - Server frame constructors (CONNECTED, MESSAGE, RECEIPT, ERROR)
//   - The tagged processing Outcome shared by the state machine and dispatch engines
package protocol
