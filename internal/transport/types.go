package transport

import "context"

// ConnState is the delivery channel's connection state as seen by the
// dispatcher. Anything other than StateConnected means "not ready".
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateConnecting   ConnState = "connecting"
	StateDisconnected ConnState = "disconnected"
	StateAuthFailed   ConnState = "auth_failed"
)

func (s ConnState) Ready() bool { return s == StateConnected }

// Channel is the outbound delivery transport. The dispatcher depends on the
// state query and the send operation only, never on transport internals.
//
// Recipients are opaque channel-specific addresses (for Telegram, chat IDs).
type Channel interface {
	Name() string
	State(ctx context.Context) ConnState
	SendToAll(ctx context.Context, recipients []string, text string) error
}
