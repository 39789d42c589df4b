package client

import (
	"errors"
)

var (
	// ErrAllocation is returned by NewSyncClient if the transport cannot be
	// created. It is the only failure surfaced to the caller.
	ErrAllocation = errors.New("failed to allocate transport")

	errResolution     = errors.New("failed to resolve server address")
	errRequestTimeout = errors.New("no reply within request timeout")
	errMalformedReply = errors.New("malformed reply")
	errWrite          = errors.New("failed to write packet")
)
