// internal/websocket/errors.go
package websocket

import "errors"

var (
	ErrHubBusy       = errors.New("websocket hub queue is full")
	ErrClientSlow    = errors.New("client send buffer is full")
	ErrChannelDenied = errors.New("channel not available to this client")
)
