package client

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/timesync/base/crypto"
	"example.com/timesync/base/metrics"

	"example.com/timesync/core/config"

	"example.com/timesync/net/ntp"
	"example.com/timesync/net/udp"
)

// Resolver resolves host names. If the address is known, Resolve returns it
// right away. Otherwise it reports pending and calls done exactly once later,
// possibly from another goroutine.
type Resolver interface {
	Resolve(host string, done func(netip.Addr, error)) (addr netip.Addr, pending bool, err error)
}

// Transport sends datagrams and hands out received ones without blocking.
type Transport interface {
	WriteTo(b []byte, addr netip.AddrPort) error
	TryRead() (udp.Datagram, bool)
	Close() error
}

type syncClientMetrics struct {
	reqsSent        prometheus.Counter
	respsAccepted   prometheus.Counter
	respsRejected   prometheus.Counter
	pktsUnsolicited prometheus.Counter
	reqTimeouts     prometheus.Counter
	resolveFailures prometheus.Counter
	retryInterval   prometheus.Gauge
	roundTripDelay  prometheus.Histogram
}

func newSyncClientMetrics() *syncClientMetrics {
	return &syncClientMetrics{
		reqsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientReqsSentN,
			Help: metrics.ClientReqsSentH,
		}),
		respsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientRespsAcceptedN,
			Help: metrics.ClientRespsAcceptedH,
		}),
		respsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientRespsRejectedN,
			Help: metrics.ClientRespsRejectedH,
		}),
		pktsUnsolicited: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientPktsUnsolicitedN,
			Help: metrics.ClientPktsUnsolicitedH,
		}),
		reqTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientReqTimeoutsN,
			Help: metrics.ClientReqTimeoutsH,
		}),
		resolveFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientResolveFailuresN,
			Help: metrics.ClientResolveFailuresH,
		}),
		retryInterval: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.ClientRetryIntervalN,
			Help: metrics.ClientRetryIntervalH,
		}),
		roundTripDelay: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    metrics.ClientRoundTripDelayN,
			Help:    metrics.ClientRoundTripDelayH,
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 11),
		}),
	}
}

var (
	syncMetrics atomic.Pointer[syncClientMetrics]
)

func init() {
	syncMetrics.Store(newSyncClientMetrics())
}

type resolution struct {
	addr netip.Addr
	err  error
}

// localClock pairs a local clock reading with the server time accepted at
// that moment. It is replaced as a whole on each accepted reply.
type localClock struct {
	refPoint time.Time
	refTime  time.Time
}

// SyncClient keeps a best-effort wall clock synchronized to a time server.
// Progress is made exclusively by calling Poll from the host's loop.
type SyncClient struct {
	log      *zap.Logger
	clk      clock.Clock
	resolver Resolver
	conn     Transport
	host     string
	port     uint16
	tz       *time.Location
	tzOffset int
	mtrcs    *syncClientMetrics

	// Single-slot mailbox for resolution results
	resolved chan resolution

	mu          sync.Mutex
	state       SyncState
	serverAddr  netip.Addr
	req         ntp.Packet
	buf         []byte
	txTime      time.Time
	deadline    time.Time
	nextAttempt time.Time
	retry       retryPolicy
	lclk        localClock
	valid       bool
}

func splitServerName(serverName string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(serverName)
	if err != nil {
		host = serverName
		if len(host) > 2 && host[0] == '[' && host[len(host)-1] == ']' {
			host = host[1 : len(host)-1]
		}
		return host, ntp.ServerPort, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid server port %q: %w", portStr, err)
	}
	return host, uint16(port), nil
}

// NewSyncClient creates a client for the time server serverName ("host" or
// "host:port") presenting time with a fixed offset of tzOffset seconds east
// of UTC. No network I/O takes place until the first Poll.
func NewSyncClient(log *zap.Logger, clk clock.Clock, resolver Resolver,
	newTransport func() (Transport, error), serverName string, tzOffset int) (
	*SyncClient, error) {
	if serverName == "" {
		serverName = config.DefaultServer
	}
	host, port, err := splitServerName(serverName)
	if err != nil {
		return nil, err
	}
	conn, err := newTransport()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	c := &SyncClient{
		log:      log,
		clk:      clk,
		resolver: resolver,
		conn:     conn,
		host:     host,
		port:     port,
		tz:       time.FixedZone("", tzOffset),
		tzOffset: tzOffset,
		mtrcs:    syncMetrics.Load(),
		resolved: make(chan resolution, 1),
		state:    ResolvingAddress,
		buf:      make([]byte, ntp.PacketLen),
		retry:    newRetryPolicy(config.MinRetryInterval, config.MaxRetryInterval),
	}
	c.mtrcs.retryInterval.Set(c.retry.interval.Seconds())
	return c, nil
}

func (c *SyncClient) Close() error {
	return c.conn.Close()
}

func (c *SyncClient) setState(s SyncState) {
	c.log.Debug("state transition",
		zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
}

// Poll advances the state machine by at most one transition. It never blocks.
func (c *SyncClient) Poll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	if c.state != AwaitingResponse {
		c.discardPackets()
	}
	switch c.state {
	case ResolvingAddress:
		c.resolveAddress()
	case AwaitingAddress:
		select {
		case r := <-c.resolved:
			c.handleResolution(r)
		default:
		}
	case RequestTime:
		c.requestTime(now)
	case AwaitingResponse:
		c.awaitResponse(now)
	case WaitingNextAttempt:
		if !now.Before(c.nextAttempt) {
			c.setState(ResolvingAddress)
		}
	case Failed:
		d := c.retry.next()
		c.mtrcs.retryInterval.Set(c.retry.interval.Seconds())
		c.nextAttempt = now.Add(d)
		c.log.Debug("next attempt scheduled", zap.Duration("in", d))
		c.setState(WaitingNextAttempt)
	default:
		panic("unexpected sync state")
	}
}

func (c *SyncClient) onResolved(addr netip.Addr, err error) {
	select {
	case c.resolved <- resolution{addr: addr, err: err}:
	default:
		c.log.Info("unexpected resolution result, dropping",
			zap.Stringer("addr", addr), zap.Error(err))
	}
}

func (c *SyncClient) resolveAddress() {
	addr, pending, err := c.resolver.Resolve(c.host, c.onResolved)
	switch {
	case err != nil:
		c.handleResolution(resolution{err: err})
	case pending:
		c.setState(AwaitingAddress)
	default:
		c.handleResolution(resolution{addr: addr})
	}
}

func (c *SyncClient) handleResolution(r resolution) {
	if r.err != nil {
		c.mtrcs.resolveFailures.Inc()
		err := fmt.Errorf("%w: %w", errResolution, r.err)
		if c.serverAddr.IsValid() {
			c.log.Info("using cached server address", zap.String("server", c.host),
				zap.Stringer("addr", c.serverAddr), zap.Error(err))
			c.setState(RequestTime)
		} else {
			c.log.Info("failed to synchronize", zap.String("server", c.host), zap.Error(err))
			c.setState(Failed)
		}
		return
	}
	addr := r.addr.Unmap()
	if addr != c.serverAddr {
		c.log.Debug("server address", zap.String("server", c.host), zap.Stringer("addr", addr))
	}
	c.serverAddr = addr
	c.setState(RequestTime)
}

func (c *SyncClient) estimate(now time.Time) time.Time {
	if !c.valid {
		return now
	}
	return c.lclk.refTime.Add(now.Sub(c.lclk.refPoint))
}

func (c *SyncClient) requestTime(now time.Time) {
	token := ntp.Time64FromTime(c.estimate(now))
	nonce, err := crypto.RandUint32()
	if err == nil {
		token.Fraction = nonce
	}
	c.req = ntp.NewRequest(token)
	ntp.EncodePacket(&c.buf, &c.req)

	raddr := netip.AddrPortFrom(c.serverAddr, c.port)
	err = c.conn.WriteTo(c.buf, raddr)
	if err != nil {
		// The response timeout routes this attempt to Failed
		c.log.Info("failed to send request", zap.Stringer("to", raddr),
			zap.Error(fmt.Errorf("%w: %w", errWrite, err)))
	} else {
		c.mtrcs.reqsSent.Inc()
		c.log.Debug("sent request", zap.Stringer("to", raddr),
			zap.Object("data", ntp.PacketMarshaler{Pkt: &c.req}))
	}
	c.txTime = now
	c.deadline = now.Add(config.RequestTimeout)
	c.setState(AwaitingResponse)
}

func (c *SyncClient) fromServer(src netip.AddrPort) bool {
	return src.Addr().Unmap() == c.serverAddr && src.Port() == c.port
}

func (c *SyncClient) discardPackets() {
	for {
		dg, ok := c.conn.TryRead()
		if !ok {
			return
		}
		c.mtrcs.pktsUnsolicited.Inc()
		c.log.Debug("discarding unsolicited packet", zap.Stringer("from", dg.Src))
	}
}

func (c *SyncClient) awaitResponse(now time.Time) {
	for {
		dg, ok := c.conn.TryRead()
		if !ok {
			break
		}
		if !c.fromServer(dg.Src) {
			c.mtrcs.pktsUnsolicited.Inc()
			c.log.Debug("discarding packet from unexpected source", zap.Stringer("from", dg.Src))
			continue
		}
		err := c.handleResponse(now, dg.Data)
		if err != nil {
			c.mtrcs.respsRejected.Inc()
			c.log.Info("failed to synchronize", zap.String("server", c.host), zap.Error(err))
			c.setState(Failed)
			return
		}
		c.setState(WaitingNextAttempt)
		return
	}
	if !now.Before(c.deadline) {
		c.mtrcs.reqTimeouts.Inc()
		c.log.Info("failed to synchronize", zap.String("server", c.host), zap.Error(errRequestTimeout))
		c.setState(Failed)
	}
}

func (c *SyncClient) handleResponse(now time.Time, b []byte) error {
	var resp ntp.Packet
	err := ntp.DecodePacket(&resp, b)
	if err != nil {
		return fmt.Errorf("%w: %w", errMalformedReply, err)
	}
	c.log.Debug("received response", zap.Object("data", ntp.PacketMarshaler{Pkt: &resp}))
	err = ntp.ValidateResponse(&resp, &c.req)
	if err != nil {
		return fmt.Errorf("%w: %w", errMalformedReply, err)
	}

	// Only whole seconds of the server's transmit timestamp are used
	sTxTime := ntp.TimeFromTime64(ntp.Time64{Seconds: resp.TransmitTime.Seconds}, c.estimate(now))
	c.lclk = localClock{
		refPoint: now,
		refTime:  sTxTime,
	}
	c.valid = true
	c.retry.reset()
	c.nextAttempt = now.Add(config.SyncInterval)

	rtd := now.Sub(c.txTime)
	c.mtrcs.respsAccepted.Inc()
	c.mtrcs.retryInterval.Set(c.retry.interval.Seconds())
	c.mtrcs.roundTripDelay.Observe(rtd.Seconds())
	c.log.Info("synchronized", zap.String("server", c.host),
		zap.Time("time", sTxTime), zap.Duration("roundTripDelay", rtd))
	return nil
}

// CurrentTime returns the synchronized time in the configured fixed zone, or
// the zero time if no reply has been accepted yet.
func (c *SyncClient) CurrentTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return time.Time{}
	}
	return c.estimate(c.clk.Now()).In(c.tz)
}

// Timestamp returns the synchronized time as Unix seconds shifted by the
// timezone offset, or 0 if no reply has been accepted yet.
func (c *SyncClient) Timestamp() int64 {
	t := c.CurrentTime()
	if t.IsZero() {
		return 0
	}
	return t.Unix() + int64(c.tzOffset)
}

func (c *SyncClient) HasValidTime() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

func (c *SyncClient) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryInterval returns the wait that the next failure will schedule.
func (c *SyncClient) RetryInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry.interval
}

// NextAttempt returns when the next synchronization cycle starts.
func (c *SyncClient) NextAttempt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextAttempt
}
