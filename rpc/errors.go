package rpc

import "errors"

// ErrDisposed is returned by public entry points once Dispose has been
// initiated on this peer.
var ErrDisposed = errors.New("rpc: buffer disposed")

// ErrChannelClosed is returned when either underlying ring reports that
// the other peer began teardown.
var ErrChannelClosed = errors.New("rpc: channel closed")

// ErrCapacityOutOfRange is returned at construction for buffer capacities
// outside [MinCapacity, MaxCapacity].
var ErrCapacityOutOfRange = errors.New("rpc: buffer capacity out of range")

// ErrUnsupportedVersion is returned at construction for protocol versions
// other than V1.
var ErrUnsupportedVersion = errors.New("rpc: unsupported protocol version")

// errNoHandler is converted into an outbound ERROR packet when a request
// arrives and no handler is configured.
var errNoHandler = errors.New("rpc: no handler configured")
