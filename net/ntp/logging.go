package ntp

import (
	"go.uber.org/zap/zapcore"
)

type Time32Marshaler struct {
	T Time32
}

func (m Time32Marshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint16("Seconds", m.T.Seconds)
	enc.AddUint16("Fraction", m.T.Fraction)
	return nil
}

type Time64Marshaler struct {
	T Time64
}

func (m Time64Marshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("Seconds", m.T.Seconds)
	enc.AddUint32("Fraction", m.T.Fraction)
	return nil
}

type PacketMarshaler struct {
	Pkt *Packet
}

func (m PacketMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	var err error
	p := m.Pkt
	enc.AddUint8("LI", p.LeapIndicator())
	enc.AddUint8("VN", p.Version())
	enc.AddUint8("Mode", p.Mode())
	enc.AddUint8("Stratum", p.Stratum)
	enc.AddInt8("Poll", p.Poll)
	enc.AddInt8("Precision", p.Precision)
	err = enc.AddObject("RootDelay", Time32Marshaler{T: p.RootDelay})
	if err != nil {
		return err
	}
	err = enc.AddObject("RootDispersion", Time32Marshaler{T: p.RootDispersion})
	if err != nil {
		return err
	}
	enc.AddUint32("ReferenceID", p.ReferenceID)
	for _, f := range []struct {
		key string
		t   Time64
	}{
		{"ReferenceTime", p.ReferenceTime},
		{"OriginTime", p.OriginTime},
		{"ReceiveTime", p.ReceiveTime},
		{"TransmitTime", p.TransmitTime},
	} {
		err = enc.AddObject(f.key, Time64Marshaler{T: f.t})
		if err != nil {
			return err
		}
	}
	return nil
}
