package metrics

const (
	ClientReqsSentH        = "The total number of time requests sent"
	ClientReqsSentN        = "timesync_client_reqs_sent"
	ClientRespsAcceptedH   = "The total number of replies accepted"
	ClientRespsAcceptedN   = "timesync_client_resps_accepted"
	ClientRespsRejectedH   = "The total number of replies rejected by validation"
	ClientRespsRejectedN   = "timesync_client_resps_rejected"
	ClientPktsUnsolicitedH = "The total number of datagrams received outside of a pending request"
	ClientPktsUnsolicitedN = "timesync_client_pkts_unsolicited"
	ClientReqTimeoutsH     = "The total number of requests without reply in time"
	ClientReqTimeoutsN     = "timesync_client_req_timeouts"
	ClientResolveFailuresH = "The total number of failed server name resolutions"
	ClientResolveFailuresN = "timesync_client_resolve_failures"
	ClientRetryIntervalH   = "The current backoff interval in seconds"
	ClientRetryIntervalN   = "timesync_client_retry_interval_seconds"
	ClientRoundTripDelayH  = "The round trip delay of accepted requests in seconds"
	ClientRoundTripDelayN  = "timesync_client_round_trip_delay_seconds"

	ResolverLookupsH   = "The total number of DNS lookups issued"
	ResolverLookupsN   = "timesync_resolver_lookups"
	ResolverCacheHitsH = "The total number of name resolutions served from cache"
	ResolverCacheHitsN = "timesync_resolver_cache_hits"
)
