package benchmark

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"go.uber.org/zap"

	"example.com/timesync/base/crypto"

	"example.com/timesync/core/config"

	"example.com/timesync/net/ntp"
)

var (
	errNoReplies = errors.New("no valid replies received")
)

func exchange(conn *net.UDPConn, buf []byte) (time.Duration, error) {
	cTxTime := time.Now()
	token := ntp.Time64FromTime(cTxTime)
	nonce, err := crypto.RandUint32()
	if err != nil {
		return 0, err
	}
	token.Fraction = nonce
	ntpreq := ntp.NewRequest(token)
	ntp.EncodePacket(&buf, &ntpreq)

	_, err = conn.Write(buf)
	if err != nil {
		return 0, err
	}
	err = conn.SetReadDeadline(cTxTime.Add(config.RequestTimeout))
	if err != nil {
		return 0, err
	}
	buf = buf[:cap(buf)]
	n, err := conn.Read(buf)
	if err != nil {
		return 0, err
	}
	cRxTime := time.Now()

	var ntpresp ntp.Packet
	err = ntp.DecodePacket(&ntpresp, buf[:n])
	if err != nil {
		return 0, err
	}
	err = ntp.ValidateResponse(&ntpresp, &ntpreq)
	if err != nil {
		return 0, err
	}

	sRxTime := ntp.TimeFromTime64(ntpresp.ReceiveTime, cTxTime)
	sTxTime := ntp.TimeFromTime64(ntpresp.TransmitTime, cTxTime)
	return ntp.RoundTripDelay(cTxTime, sRxTime, sTxTime, cRxTime), nil
}

// RunIPProbe sends n sequential requests to remoteAddr and records the round
// trip delay of every valid reply, in microseconds. Percentiles are written
// to w.
func RunIPProbe(log *zap.Logger, w io.Writer, localAddr, remoteAddr *net.UDPAddr, n int) (
	*hdrhistogram.Histogram, error) {
	hg := hdrhistogram.New(1, 50000, 5)

	conn, err := net.DialUDP("udp", localAddr, remoteAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	buf := make([]byte, ntp.PacketLen, 1024)
	var failures int
	for i := n; i > 0; i-- {
		rtd, err := exchange(conn, buf)
		if err != nil {
			failures++
			log.Debug("request failed", zap.Stringer("to", remoteAddr), zap.Error(err))
			continue
		}
		err = hg.RecordValue(rtd.Microseconds())
		if err != nil {
			log.Info("failed to record histogram value", zap.Duration("rtd", rtd), zap.Error(err))
		}
	}
	log.Info("probe finished", zap.Stringer("to", remoteAddr),
		zap.Int("requests", n), zap.Int("failures", failures))
	if hg.TotalCount() == 0 {
		return hg, errNoReplies
	}
	_, err = hg.PercentilesPrint(w, 1, 1.0)
	if err != nil {
		return hg, err
	}
	return hg, nil
}
