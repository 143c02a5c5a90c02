package nci

// PollA holds the parsed mode parameters of a passive or active poll-A
// activation (SENS_RES, NFCID1, SEL_RES).
type PollA struct {
	SensRes   [2]byte
	NFCID1    []byte // 4, 7 or 10 bytes
	SelResLen uint8
	SelRes    uint8
}

// PollB holds the parsed mode parameters of a passive poll-B activation.
type PollB struct {
	NFCID0   [4]byte
	FSC      uint16
	AppData  [4]byte
	ProtInfo []byte
}

// PollF holds the parsed mode parameters of a poll-F activation. BitRate is
// the raw NCI bit rate code.
type PollF struct {
	BitRate uint8
	NFCID2  [8]byte
}

// Bit rate codes from the NCI 1.0 specification. Everything else is RFU.
const (
	BitRate212 uint8 = 0x01
	BitRate424 uint8 = 0x02
)

// ListenF holds the parsed mode parameters of a listen-F activation.
type ListenF struct {
	NFCID2 []byte
}

// ModeParam is the parsed mode parameter of an activation. Exactly the field
// matching the activation mode is set; the rest are nil.
type ModeParam struct {
	PollA   *PollA
	PollB   *PollB
	PollF   *PollF
	ListenF *ListenF
}

// Clone returns a deep copy of the mode parameter.
func (p *ModeParam) Clone() *ModeParam {
	if p == nil {
		return nil
	}
	out := &ModeParam{}
	if p.PollA != nil {
		a := *p.PollA
		a.NFCID1 = append([]byte(nil), p.PollA.NFCID1...)
		out.PollA = &a
	}
	if p.PollB != nil {
		b := *p.PollB
		b.ProtInfo = append([]byte(nil), p.PollB.ProtInfo...)
		out.PollB = &b
	}
	if p.PollF != nil {
		f := *p.PollF
		out.PollF = &f
	}
	if p.ListenF != nil {
		f := *p.ListenF
		f.NFCID2 = append([]byte(nil), p.ListenF.NFCID2...)
		out.ListenF = &f
	}
	return out
}

// IsoDepPollA holds the parsed activation parameters of an ISO-DEP poll-A
// activation (RATS response).
type IsoDepPollA struct {
	FSC uint16
	T0  uint8
	TA  uint8
	TB  uint8
	TC  uint8
	T1  []byte // historical bytes
}

// IsoDepPollB holds the parsed activation parameters of an ISO-DEP poll-B
// activation (ATTRIB response).
type IsoDepPollB struct {
	MBLI uint8
	DID  uint8
	HLR  []byte // higher layer response
}

// NfcDepPoll holds the parsed activation parameters of an NFC-DEP poll-side
// activation (ATR_RES general bytes).
type NfcDepPoll struct {
	G []byte
}

// NfcDepListen holds the parsed activation parameters of an NFC-DEP
// listen-side activation (ATR_REQ general bytes).
type NfcDepListen struct {
	G []byte
}

// ActivationParam is the parsed activation parameter of an activation.
// Exactly the field matching the interface/mode combination is set.
type ActivationParam struct {
	IsoDepPollA  *IsoDepPollA
	IsoDepPollB  *IsoDepPollB
	NfcDepPoll   *NfcDepPoll
	NfcDepListen *NfcDepListen
}

// IntfActivationNtf is an already-parsed RF_INTF_ACTIVATED notification.
// The raw parameter blobs are carried alongside the parsed forms; the
// adapter matches reappearing devices on both.
type IntfActivationNtf struct {
	RfIntf               RfInterface
	Protocol             Protocol
	Mode                 Mode
	ModeParamBytes       []byte
	ActivationParamBytes []byte
	ModeParam            *ModeParam
	ActivationParam      *ActivationParam
}

// ParamValue is the value of a configurable core parameter.
type ParamValue struct {
	NFCID1 []byte
}

// Param pairs a parameter key with its value for SetParams.
type Param struct {
	Key   ParamKey
	Value ParamValue
}
