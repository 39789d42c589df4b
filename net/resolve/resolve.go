package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"go.uber.org/zap"

	"example.com/timesync/base/metrics"
	"example.com/timesync/core/config"
)

var (
	errNameNotFound    = errors.New("name not found")
	errNoAddress       = errors.New("no address records")
	errNoServers       = errors.New("no DNS servers configured")
	errUnexpectedRcode = errors.New("unexpected DNS response code")
)

type resolverMetrics struct {
	lookups   prometheus.Counter
	cacheHits prometheus.Counter
}

var mtrcs = &resolverMetrics{
	lookups: promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ResolverLookupsN,
		Help: metrics.ResolverLookupsH,
	}),
	cacheHits: promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ResolverCacheHitsN,
		Help: metrics.ResolverCacheHitsH,
	}),
}

type cacheEntry struct {
	addr    netip.Addr
	expires time.Time
}

// Resolver looks up host addresses asynchronously. Answers are cached for
// their TTL, so repeated resolutions of the same name usually complete
// synchronously.
type Resolver struct {
	log     *zap.Logger
	clk     clock.Clock
	client  *dns.Client
	servers []string
	cache   *lru.Cache[string, cacheEntry]
	group   singleflight.Group
}

// NewResolver creates a resolver querying the given DNS servers ("host" or
// "host:port"). Without servers, the system resolver configuration is used.
func NewResolver(log *zap.Logger, clk clock.Clock, servers []string) (*Resolver, error) {
	if len(servers) == 0 {
		cfg, err := dns.ClientConfigFromFile(config.ResolverConfigFile)
		if err != nil {
			return nil, err
		}
		for _, s := range cfg.Servers {
			servers = append(servers, net.JoinHostPort(s, cfg.Port))
		}
	} else {
		ss := make([]string, len(servers))
		for i, s := range servers {
			if _, _, err := net.SplitHostPort(s); err != nil {
				s = net.JoinHostPort(s, "53")
			}
			ss[i] = s
		}
		servers = ss
	}
	if len(servers) == 0 {
		return nil, errNoServers
	}
	cache, err := lru.New[string, cacheEntry](config.ResolverCacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		log:     log,
		clk:     clk,
		client:  &dns.Client{Net: "udp", Timeout: config.ResolverTimeout},
		servers: servers,
		cache:   cache,
	}, nil
}

// Resolve returns the address of host immediately if it is an IP literal or a
// cached answer. Otherwise it starts a lookup, reports pending and later calls
// done exactly once, from another goroutine, with the result.
func (r *Resolver) Resolve(host string, done func(netip.Addr, error)) (
	addr netip.Addr, pending bool, err error) {
	addr, err = netip.ParseAddr(host)
	if err == nil {
		return addr.Unmap(), false, nil
	}
	e, ok := r.cache.Get(host)
	if ok && r.clk.Now().Before(e.expires) {
		mtrcs.cacheHits.Inc()
		return e.addr, false, nil
	}
	go func() {
		v, err, _ := r.group.Do(host, func() (interface{}, error) {
			return r.lookup(host)
		})
		if err != nil {
			done(netip.Addr{}, err)
			return
		}
		done(v.(netip.Addr), nil)
	}()
	return netip.Addr{}, true, nil
}

func (r *Resolver) lookup(host string) (netip.Addr, error) {
	ctx, cancel := context.WithTimeout(context.Background(), config.ResolverTimeout)
	defer cancel()

	name := dns.Fqdn(host)
	var lastErr error = errNoAddress
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		for _, server := range r.servers {
			m := new(dns.Msg)
			m.SetQuestion(name, qtype)
			m.RecursionDesired = true

			mtrcs.lookups.Inc()
			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				r.log.Debug("DNS exchange failed", zap.String("server", server), zap.Error(err))
				lastErr = err
				continue
			}
			if resp.Rcode == dns.RcodeNameError {
				return netip.Addr{}, fmt.Errorf("%s: %w", host, errNameNotFound)
			}
			if resp.Rcode != dns.RcodeSuccess {
				lastErr = fmt.Errorf("%s: %w: %s", host, errUnexpectedRcode, dns.RcodeToString[resp.Rcode])
				continue
			}
			addr, ttl, ok := firstAddr(resp.Answer, qtype)
			if !ok {
				// Authoritative empty answer, try the next record type
				lastErr = fmt.Errorf("%s: %w", host, errNoAddress)
				break
			}
			if ttl < config.ResolverMinTTL {
				ttl = config.ResolverMinTTL
			}
			r.cache.Add(host, cacheEntry{addr: addr, expires: r.clk.Now().Add(ttl)})
			r.log.Debug("resolved", zap.String("host", host), zap.Stringer("addr", addr),
				zap.Duration("ttl", ttl))
			return addr, nil
		}
	}
	return netip.Addr{}, lastErr
}

func firstAddr(rrs []dns.RR, qtype uint16) (netip.Addr, time.Duration, bool) {
	for _, rr := range rrs {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				ip = v.A
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				ip = v.AAAA
			}
		}
		if ip == nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		return addr.Unmap(), time.Duration(rr.Header().Ttl) * time.Second, true
	}
	return netip.Addr{}, 0, false
}
