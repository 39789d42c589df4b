package ntp_test

import (
	"errors"
	"testing"

	"example.com/timesync/net/ntp"
)

func validResponse(req *ntp.Packet) ntp.Packet {
	resp := ntp.Packet{
		Stratum:      2,
		OriginTime:   req.TransmitTime,
		ReceiveTime:  ntp.Time64{Seconds: 3900000000},
		TransmitTime: ntp.Time64{Seconds: 3900000000},
	}
	resp.SetVersion(ntp.VersionMax)
	resp.SetMode(ntp.ModeServer)
	return resp
}

func TestValidateResponse(t *testing.T) {
	req := ntp.NewRequest(ntp.Time64{Seconds: 3899999999, Fraction: 0xcafe})

	tests := []struct {
		name   string
		modify func(p *ntp.Packet)
		err    error
	}{
		{"valid", func(p *ntp.Packet) {}, nil},
		{"leap second pending", func(p *ntp.Packet) { p.SetLeapIndicator(ntp.LeapIndicatorDeleteSecond) }, nil},
		{"version 3", func(p *ntp.Packet) { p.SetVersion(3) }, ntp.ErrUnexpectedMode},
		{"client mode", func(p *ntp.Packet) { p.SetMode(ntp.ModeClient) }, ntp.ErrUnexpectedMode},
		{"broadcast mode", func(p *ntp.Packet) { p.SetMode(ntp.ModeBroadcast) }, ntp.ErrUnexpectedMode},
		{"alarm", func(p *ntp.Packet) { p.SetLeapIndicator(ntp.LeapIndicatorUnknown) }, ntp.ErrUnsynchronized},
		{"stratum 0", func(p *ntp.Packet) { p.Stratum = 0 }, ntp.ErrKissOfDeath},
		{"stale origin", func(p *ntp.Packet) { p.OriginTime.Seconds-- }, ntp.ErrUnexpectedOrigin},
		{"origin fraction", func(p *ntp.Packet) { p.OriginTime.Fraction = 0 }, ntp.ErrUnexpectedOrigin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := validResponse(&req)
			tt.modify(&resp)
			err := ntp.ValidateResponse(&resp, &req)
			if !errors.Is(err, tt.err) {
				t.Errorf("ValidateResponse() = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestValidateResponseChecksOriginLast(t *testing.T) {
	req := ntp.NewRequest(ntp.Time64{Seconds: 1})
	resp := validResponse(&req)
	resp.Stratum = 0
	resp.OriginTime = ntp.Time64{}
	err := ntp.ValidateResponse(&resp, &req)
	if !errors.Is(err, ntp.ErrKissOfDeath) {
		t.Errorf("ValidateResponse() = %v, want %v", err, ntp.ErrKissOfDeath)
	}
}
