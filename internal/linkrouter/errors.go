package linkrouter

import "errors"

var (
	ErrChannelExists   = errors.New("linkrouter: channel already exists for this endpoint pair")
	ErrChannelNotFound = errors.New("linkrouter: no channel for this endpoint pair")
	ErrChannelClosed   = errors.New("linkrouter: channel is closed")
	ErrNoRoute         = errors.New("linkrouter: no channel matches message source/destination")
	ErrTimeout         = errors.New("linkrouter: request timed out")
	ErrNoMessage       = errors.New("linkrouter: no message available")
	ErrUnknownRequest  = errors.New("linkrouter: response does not correlate to a pending request")
	ErrNotParticipant  = errors.New("linkrouter: caller is not an endpoint of this channel")
	ErrMessageTooLarge = errors.New("linkrouter: inline payload exceeds the channel's max message size")

	// ErrInvalidCapability is surfaced by embedders that gate channel
	// creation on a capability check; the router itself attaches no
	// semantics to capability tokens.
	ErrInvalidCapability = errors.New("linkrouter: invalid capability")
)
