// Package protocol defines the boundary to the wire-protocol client library
// that implements the remote messaging platform's handshake and encoding.
// The bridge core only depends on these interfaces; the concrete client is
// wired in at startup.
package protocol

import (
	"context"

	"github.com/pitabwire/frame/data"
)

// EventType identifies a lifecycle event emitted by a live session.
type EventType int

const (
	// EventOpened is emitted when the connection to the platform is fully
	// established and authenticated.
	EventOpened EventType = iota
	// EventCredentialsRotated is emitted when the platform replaces
	// signing/session key material; the snapshot must be persisted.
	EventCredentialsRotated
	// EventClosed is emitted when the connection drops, with a reason.
	EventClosed
)

// Event is a lifecycle event from a live session. For a single account the
// bridge observes events strictly in emission order.
type Event struct {
	Type EventType

	// Creds carries the latest credential snapshot on EventCredentialsRotated.
	Creds data.JSONMap

	// Reason describes an EventClosed cause for logs.
	Reason string
	// AuthRejected marks an EventClosed caused by the platform permanently
	// invalidating the credential. No reconnection may be attempted.
	AuthRejected bool
}

// Session is a live protocol connection for one account.
type Session interface {
	// Registered reports whether the session's credential is already bound
	// to the remote platform. Unregistered sessions need pairing.
	Registered() bool

	// RequestPairingCode asks the platform for a one-time pairing code the
	// end user enters on their primary device.
	RequestPairingCode(ctx context.Context, accountID string) (string, error)

	// SendText delivers a plain text notice to a platform user.
	SendText(ctx context.Context, recipientAccountID, text string) error

	// Events returns the lifecycle event stream. The channel is closed when
	// the session is torn down.
	Events() <-chan Event

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens protocol sessions bound to account-scoped credential storage.
type Dialer interface {
	// Restore materializes a previously persisted credential snapshot into
	// the storage the client library reads during Dial. A nil creds map is
	// a no-op: Dial will produce a fresh, unregistered session.
	Restore(ctx context.Context, accountID string, creds data.JSONMap) error

	// Dial opens a session for the account using whatever credential state
	// Restore (or a prior pairing) left behind.
	Dial(ctx context.Context, accountID string) (Session, error)
}
