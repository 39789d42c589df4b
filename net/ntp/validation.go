package ntp

import (
	"errors"
)

var (
	ErrUnexpectedMode   = errors.New("unexpected version or mode")
	ErrUnsynchronized   = errors.New("server clock not synchronized")
	ErrKissOfDeath      = errors.New("kiss-of-death stratum")
	ErrUnexpectedOrigin = errors.New("origin timestamp does not match request")
)

const responseVM = VersionMax<<3 | ModeServer

// ValidateResponse checks a reply against the request it is supposed to
// answer. The origin timestamp must echo all 64 bits of the request's
// transmit timestamp.
func ValidateResponse(resp, req *Packet) error {
	if resp.LVM&0b0011_1111 != responseVM {
		return ErrUnexpectedMode
	}
	if resp.LeapIndicator() == LeapIndicatorUnknown {
		return ErrUnsynchronized
	}
	if resp.Stratum == 0 {
		return ErrKissOfDeath
	}
	if resp.OriginTime != req.TransmitTime {
		return ErrUnexpectedOrigin
	}
	return nil
}
