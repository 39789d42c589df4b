package udp

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/libp2p/go-reuseport"

	"go.uber.org/zap"
)

const (
	// Replies larger than an NTP packet with a few extension fields are of
	// no interest to the client.
	maxDatagramLen = 1024
	rxQueueLen     = 16

	readErrorPause = 10 * time.Millisecond
)

var (
	errShortWrite         = errors.New("failed to write packet: short write")
	errUnexpectedConnType = errors.New("unexpected connection type")
)

type Datagram struct {
	Data []byte
	Src  netip.AddrPort
}

type Options struct {
	DSCP      uint8
	ReusePort bool
}

type packetConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Conn is a connectionless UDP endpoint. A reader goroutine moves incoming
// datagrams into a bounded queue that is drained without blocking via TryRead.
type Conn struct {
	log  *zap.Logger
	conn packetConn
	rx   chan Datagram
	done chan struct{}
	once sync.Once
}

func Listen(log *zap.Logger, localAddr string, opts Options) (*Conn, error) {
	if localAddr == "" {
		localAddr = ":0"
	}
	var conn *net.UDPConn
	if opts.ReusePort {
		pc, err := reuseport.ListenPacket("udp", localAddr)
		if err != nil {
			return nil, err
		}
		var ok bool
		conn, ok = pc.(*net.UDPConn)
		if !ok {
			_ = pc.Close()
			return nil, errUnexpectedConnType
		}
	} else {
		laddr, err := net.ResolveUDPAddr("udp", localAddr)
		if err != nil {
			return nil, err
		}
		conn, err = net.ListenUDP("udp", laddr)
		if err != nil {
			return nil, err
		}
	}
	if opts.DSCP != 0 {
		err := SetDSCP(conn, opts.DSCP)
		if err != nil {
			log.Info("failed to set DSCP", zap.Error(err))
		}
	}
	return newConn(log, conn), nil
}

func newConn(log *zap.Logger, pc packetConn) *Conn {
	c := &Conn{
		log:  log,
		conn: pc,
		rx:   make(chan Datagram, rxQueueLen),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		buf := make([]byte, maxDatagramLen)
		n, src, err := c.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Debug("failed to read packet", zap.Error(err))
			time.Sleep(readErrorPause)
			continue
		}
		select {
		case c.rx <- Datagram{Data: buf[:n], Src: src}:
		default:
			c.log.Debug("receive queue full, dropping packet", zap.Stringer("from", src))
		}
	}
}

func (c *Conn) LocalAddr() netip.AddrPort {
	return c.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (c *Conn) WriteTo(b []byte, addr netip.AddrPort) error {
	n, err := c.conn.WriteToUDPAddrPort(b, addr)
	if err != nil {
		return err
	}
	if n != len(b) {
		return errShortWrite
	}
	return nil
}

// TryRead returns the oldest queued datagram, if any.
func (c *Conn) TryRead() (Datagram, bool) {
	select {
	case d := <-c.rx:
		return d, true
	default:
		return Datagram{}, false
	}
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
		<-c.done
	})
	return err
}
