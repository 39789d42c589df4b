package config

import "time"

// DSCP is the default Differentiated Services Codepoint value to be used by
// senders of time synchronization packets. Valid values must be in range [0, 63].
const DSCP = 0

const DefaultServer = "pool.ntp.org"

const (
	// RequestTimeout bounds the wait for a reply to a single request.
	RequestTimeout = 1 * time.Second

	// SyncInterval is the pause between two successful synchronizations.
	SyncInterval = 60 * time.Second

	// MinRetryInterval and MaxRetryInterval bound the exponential backoff
	// applied after failed synchronization attempts.
	MinRetryInterval = 30 * time.Second
	MaxRetryInterval = 180 * time.Second

	PollInterval = 10 * time.Millisecond

	ResolverTimeout    = 5 * time.Second
	ResolverCacheSize  = 64
	ResolverMinTTL     = 30 * time.Second
	ResolverConfigFile = "/etc/resolv.conf"
)
