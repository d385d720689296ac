package sim

import "errors"

var ErrAHT20Protocol = errors.New("sim: aht20 protocol error")

// AHT20 models the humidity/temperature sensor's command set: status
// (0x71), initialise (0xBE), trigger (0xAC) and the 7-byte data read. After
// a trigger the next BusyReads data reads report the busy bit.
type AHT20 struct {
	Calibrated bool
	BusyReads  int
	RawHum     uint32
	RawTemp    uint32

	pending  int
	Triggers int
}

// NewAHT20 returns a calibrated sensor reading 25.0 C and 55.0 %RH.
func NewAHT20() *AHT20 {
	return &AHT20{Calibrated: true, BusyReads: 1, RawHum: 576_717, RawTemp: 393_216}
}

func (s *AHT20) status() byte {
	var st byte
	if s.Calibrated {
		st |= 0x08
	}
	if s.pending > 0 {
		st |= 0x80
	}
	return st
}

func (s *AHT20) Tx(w, r []byte) error {
	switch {
	case len(w) == 1 && w[0] == 0x71 && len(r) == 1:
		r[0] = s.status()
	case len(w) == 3 && w[0] == 0xBE:
		s.Calibrated = true
	case len(w) == 3 && w[0] == 0xAC:
		s.Triggers++
		s.pending = s.BusyReads
	case len(w) == 0 && len(r) == 7:
		r[0] = s.status()
		if s.pending > 0 {
			s.pending--
		}
		h, t := s.RawHum, s.RawTemp
		r[1] = byte(h >> 12)
		r[2] = byte(h >> 4)
		r[3] = byte((h&0xF)<<4 | (t>>16)&0x0F)
		r[4] = byte(t >> 8)
		r[5] = byte(t)
		r[6] = 0
	default:
		return ErrAHT20Protocol
	}
	return nil
}
