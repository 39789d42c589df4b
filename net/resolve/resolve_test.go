package resolve_test

import (
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/miekg/dns"

	"go.uber.org/zap"

	"example.com/timesync/net/resolve"
)

type result struct {
	addr netip.Addr
	err  error
}

func startServer(t *testing.T, queries *atomic.Int32) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			queries.Add(1)
			m := new(dns.Msg)
			q := req.Question[0]
			switch {
			case q.Name == "time.example." && q.Qtype == dns.TypeA:
				m.SetReply(req)
				m.Answer = append(m.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
					A:   net.ParseIP("192.0.2.1").To4(),
				})
			case q.Name == "v6.example." && q.Qtype == dns.TypeAAAA:
				m.SetReply(req)
				m.Answer = append(m.Answer, &dns.AAAA{
					Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 1},
					AAAA: net.ParseIP("2001:db8::1"),
				})
			case q.Name == "v6.example.":
				m.SetReply(req)
			default:
				m.SetRcode(req, dns.RcodeNameError)
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() {
		_ = srv.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func resolveAsync(t *testing.T, r *resolve.Resolver, host string) result {
	t.Helper()
	ch := make(chan result, 1)
	addr, pending, err := r.Resolve(host, func(a netip.Addr, err error) {
		ch <- result{a, err}
	})
	if !pending {
		return result{addr, err}
	}
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("resolution of %s did not complete", host)
		return result{}
	}
}

func TestResolveLiteral(t *testing.T) {
	r, err := resolve.NewResolver(zap.NewNop(), clock.NewMock(), []string{"127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	addr, pending, err := r.Resolve("192.0.2.7", func(netip.Addr, error) {
		t.Errorf("callback must not be called for literal addresses")
	})
	if err != nil || pending {
		t.Fatalf("Resolve() = %v, %v, %v", addr, pending, err)
	}
	if addr != netip.MustParseAddr("192.0.2.7") {
		t.Errorf("unexpected address %v", addr)
	}
}

func TestResolveQueuedThenCached(t *testing.T) {
	var queries atomic.Int32
	server := startServer(t, &queries)
	clk := clock.NewMock()
	r, err := resolve.NewResolver(zap.NewNop(), clk, []string{server})
	if err != nil {
		t.Fatal(err)
	}

	res := resolveAsync(t, r, "time.example")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.addr != netip.MustParseAddr("192.0.2.1") {
		t.Errorf("unexpected address %v", res.addr)
	}

	addr, pending, err := r.Resolve("time.example", func(netip.Addr, error) {
		t.Errorf("callback must not be called on cache hit")
	})
	if err != nil || pending || addr != res.addr {
		t.Errorf("cached Resolve() = %v, %v, %v", addr, pending, err)
	}
	n := queries.Load()

	clk.Add(301 * time.Second)
	res = resolveAsync(t, r, "time.example")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if queries.Load() == n {
		t.Errorf("expired entry must trigger a new query")
	}
}

func TestResolveAAAAFallback(t *testing.T) {
	var queries atomic.Int32
	server := startServer(t, &queries)
	r, err := resolve.NewResolver(zap.NewNop(), clock.NewMock(), []string{server})
	if err != nil {
		t.Fatal(err)
	}
	res := resolveAsync(t, r, "v6.example")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.addr != netip.MustParseAddr("2001:db8::1") {
		t.Errorf("unexpected address %v", res.addr)
	}
}

func TestResolveNXDomain(t *testing.T) {
	var queries atomic.Int32
	server := startServer(t, &queries)
	r, err := resolve.NewResolver(zap.NewNop(), clock.NewMock(), []string{server})
	if err != nil {
		t.Fatal(err)
	}
	res := resolveAsync(t, r, "missing.example")
	if res.err == nil {
		t.Errorf("resolution of unknown name must fail, got %v", res.addr)
	}
	if queries.Load() != 1 {
		t.Errorf("NXDOMAIN must end the lookup, got %d queries", queries.Load())
	}
}

func TestConcurrentLookupsAreMerged(t *testing.T) {
	var queries atomic.Int32
	release := make(chan struct{})
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			queries.Add(1)
			<-release
			m := new(dns.Msg)
			m.SetReply(req)
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
				A:   net.ParseIP("192.0.2.9").To4(),
			})
			_ = w.WriteMsg(m)
		}),
	}
	go func() {
		_ = srv.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	r, err := resolve.NewResolver(zap.NewNop(), clock.NewMock(), []string{pc.LocalAddr().String()})
	if err != nil {
		t.Fatal(err)
	}

	const n = 2
	ch := make(chan result, n)
	for range n {
		_, pending, err := r.Resolve("slow.example", func(a netip.Addr, err error) {
			ch <- result{a, err}
		})
		if err != nil || !pending {
			t.Fatalf("Resolve() = %v, %v, want pending", pending, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for queries.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// Give the second lookup time to join the one in flight
	time.Sleep(100 * time.Millisecond)
	close(release)

	for range n {
		select {
		case res := <-ch:
			if res.err != nil || res.addr != netip.MustParseAddr("192.0.2.9") {
				t.Errorf("lookup result = %v, %v", res.addr, res.err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("lookup did not complete")
		}
	}
	if got := queries.Load(); got != 1 {
		t.Errorf("concurrent lookups sent %d queries, want 1", got)
	}
}
