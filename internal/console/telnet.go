package console

// Telnet protocol bytes. GNS3 consoles are mostly raw TCP, but some
// emulators open with option negotiation; the filter strips it from the
// data stream and refuses every offer.
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWILL = 251
	telnetWONT = 252
	telnetDO   = 253
	telnetDONT = 254
	telnetIAC  = 255
)

type telnetState int

const (
	stateData telnetState = iota
	stateIAC
	stateVerb
	stateSub
	stateSubIAC
)

// telnetFilter removes in-band telnet negotiation from received data and
// produces the refusal replies owed to the peer. State carries across
// reads so sequences split over chunk boundaries are still handled.
type telnetFilter struct {
	state telnetState
	verb  byte
}

func (f *telnetFilter) process(in []byte) (data, reply []byte) {
	data = make([]byte, 0, len(in))
	for _, b := range in {
		switch f.state {
		case stateData:
			if b == telnetIAC {
				f.state = stateIAC
			} else {
				data = append(data, b)
			}
		case stateIAC:
			switch b {
			case telnetIAC:
				// Escaped 0xFF data byte.
				data = append(data, b)
				f.state = stateData
			case telnetWILL, telnetWONT, telnetDO, telnetDONT:
				f.verb = b
				f.state = stateVerb
			case telnetSB:
				f.state = stateSub
			default:
				f.state = stateData
			}
		case stateVerb:
			switch f.verb {
			case telnetDO:
				reply = append(reply, telnetIAC, telnetWONT, b)
			case telnetWILL:
				reply = append(reply, telnetIAC, telnetDONT, b)
			}
			f.state = stateData
		case stateSub:
			if b == telnetIAC {
				f.state = stateSubIAC
			}
		case stateSubIAC:
			if b == telnetSE {
				f.state = stateData
			} else {
				f.state = stateSub
			}
		}
	}
	return data, reply
}
