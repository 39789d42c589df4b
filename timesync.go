// SNTP time synchronization client

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beevik/ntp"
	"github.com/benbjohnson/clock"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/timesync/base/timemath"

	"example.com/timesync/benchmark"

	"example.com/timesync/core/client"
	"example.com/timesync/core/config"

	"example.com/timesync/net/resolve"
	"example.com/timesync/net/udp"
)

const (
	displayLayout = "02/01 15:04:05"

	toolTimeout    = 10 * time.Second
	compareSamples = 3
)

type svcConfig struct {
	Server         string   `toml:"server,omitempty"`
	TimezoneOffset int      `toml:"timezone_offset,omitempty"`
	LocalAddr      string   `toml:"local_address,omitempty"`
	DNSServers     []string `toml:"dns_servers,omitempty"`
	DSCP           uint8    `toml:"dscp,omitempty"`
	ReusePort      bool     `toml:"reuse_port,omitempty"`
	MetricsAddr    string   `toml:"metrics_address,omitempty"`
}

var (
	log *zap.Logger
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
}

func runMonitor(log *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, mux)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func loadConfig(configFile string) svcConfig {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	cfg, err := decodeConfig(raw)
	if err != nil {
		log.Fatal("failed to decode configuration", zap.Error(err))
	}
	return cfg
}

func decodeConfig(raw []byte) (svcConfig, error) {
	cfg := svcConfig{
		Server: config.DefaultServer,
		DSCP:   config.DSCP,
	}
	err := toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		return svcConfig{}, err
	}
	if cfg.DSCP > 63 {
		return svcConfig{}, fmt.Errorf("dscp out of range: %d", cfg.DSCP)
	}
	const maxOffset = 14 * 3600
	if cfg.TimezoneOffset < -maxOffset || cfg.TimezoneOffset > maxOffset {
		return svcConfig{}, fmt.Errorf("timezone_offset out of range: %d", cfg.TimezoneOffset)
	}
	return cfg, nil
}

func newSyncClient(cfg svcConfig) *client.SyncClient {
	clk := clock.New()
	r, err := resolve.NewResolver(log, clk, cfg.DNSServers)
	if err != nil {
		log.Fatal("failed to create resolver", zap.Error(err))
	}
	newTransport := func() (client.Transport, error) {
		conn, err := udp.Listen(log, cfg.LocalAddr, udp.Options{
			DSCP:      cfg.DSCP,
			ReusePort: cfg.ReusePort,
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	c, err := client.NewSyncClient(log, clk, r, newTransport, cfg.Server, cfg.TimezoneOffset)
	if err != nil {
		log.Fatal("failed to create client", zap.Error(err))
	}
	return c
}

func runClient(configFile string) {
	cfg := loadConfig(configFile)
	if cfg.MetricsAddr != "" {
		go runMonitor(log, cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newSyncClient(cfg)
	defer c.Close()

	var displayed int64
	for ctx.Err() == nil {
		c.Poll()
		time.Sleep(config.PollInterval)
		if c.HasValidTime() {
			now := c.Timestamp()
			if now != displayed {
				displayed = now
				log.Info("local time", zap.String("time", c.CurrentTime().Format(displayLayout)))
			}
		}
	}
}

func runTool(cfg svcConfig, compare bool) {
	c := newSyncClient(cfg)
	defer c.Close()

	deadline := time.Now().Add(toolTimeout)
	for !c.HasValidTime() {
		if c.State() == client.Failed || time.Now().After(deadline) {
			log.Fatal("failed to synchronize", zap.String("server", cfg.Server))
		}
		c.Poll()
		time.Sleep(config.PollInterval)
	}
	t := c.CurrentTime()
	fmt.Println(t.Format(time.RFC3339))

	if compare {
		compareWithReference(c, cfg.Server)
	}
}

func compareWithReference(c *client.SyncClient, server string) {
	var diffs, rtts []time.Duration
	for range compareSamples {
		resp, err := ntp.Query(server)
		if err != nil {
			log.Info("failed to query reference", zap.String("server", server), zap.Error(err))
			continue
		}
		err = resp.Validate()
		if err != nil {
			log.Info("invalid reference response", zap.String("server", server), zap.Error(err))
			continue
		}
		diffs = append(diffs, c.CurrentTime().Sub(time.Now().Add(resp.ClockOffset)))
		rtts = append(rtts, resp.RTT)
	}
	if len(diffs) == 0 {
		log.Fatal("no reference responses", zap.String("server", server))
	}
	diff := timemath.Median(diffs)
	log.Info("compared to reference",
		zap.Int("samples", len(diffs)),
		zap.Duration("difference", diff),
		zap.Duration("rtt", timemath.Median(rtts)),
	)
	if timemath.Abs(diff) > time.Second {
		log.Warn("difference exceeds resolution of synchronized time", zap.Duration("difference", diff))
	}
}

func runBenchmark(localAddr, remoteAddr string, n int) {
	var laddr *net.UDPAddr
	if localAddr != "" {
		var err error
		laddr, err = net.ResolveUDPAddr("udp", localAddr)
		if err != nil {
			log.Fatal("failed to parse local address", zap.Error(err))
		}
	}
	if _, _, err := net.SplitHostPort(remoteAddr); err != nil {
		remoteAddr = net.JoinHostPort(remoteAddr, "123")
	}
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		log.Fatal("failed to parse remote address", zap.Error(err))
	}
	_, err = benchmark.RunIPProbe(log, os.Stdout, laddr, raddr, n)
	if err != nil {
		log.Fatal("benchmark failed", zap.Stringer("to", raddr), zap.Error(err))
	}
}

func exitWithUsage() {
	fmt.Println("<usage>")
	os.Exit(1)
}

func main() {
	var (
		verbose    bool
		configFile string
		server     string
		tzOffset   int
		dnsServer  string
		compare    bool
		localAddr  string
		remoteAddr string
		count      int
	)

	clientFlags := flag.NewFlagSet("client", flag.ExitOnError)
	toolFlags := flag.NewFlagSet("tool", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)

	clientFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	clientFlags.StringVar(&configFile, "config", "", "Config file")

	toolFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	toolFlags.StringVar(&server, "server", config.DefaultServer, "Time server")
	toolFlags.IntVar(&tzOffset, "tz", 0, "Timezone offset in seconds")
	toolFlags.StringVar(&dnsServer, "dns", "", "DNS server")
	toolFlags.BoolVar(&compare, "compare", false, "Compare with a reference query")

	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.StringVar(&localAddr, "local", "", "Local address")
	benchmarkFlags.StringVar(&remoteAddr, "remote", "", "Remote address")
	benchmarkFlags.IntVar(&count, "count", 1000, "Number of requests")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case clientFlags.Name():
		err := clientFlags.Parse(os.Args[2:])
		if err != nil || clientFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runClient(configFile)
	case toolFlags.Name():
		err := toolFlags.Parse(os.Args[2:])
		if err != nil || toolFlags.NArg() != 0 {
			exitWithUsage()
		}
		cfg := svcConfig{
			Server:         server,
			TimezoneOffset: tzOffset,
		}
		if dnsServer != "" {
			cfg.DNSServers = []string{dnsServer}
		}
		initLogger(verbose)
		runTool(cfg, compare)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if remoteAddr == "" || count <= 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runBenchmark(localAddr, remoteAddr, count)
	default:
		exitWithUsage()
	}
}
