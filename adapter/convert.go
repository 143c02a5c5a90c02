package adapter

import "github.com/dotside-studios/nci-agent/nci"

// Service-facing parameter structs handed to the Delegate factories. These
// mirror the NCI-side parsed parameters, with NCI encoding details (raw bit
// rate codes, fixed-size buffers) translated away.

// ParamPollA describes a poll-A target as seen by the service.
type ParamPollA struct {
	SelRes uint8
	NFCID1 []byte
}

// ParamPollB describes a poll-B target as seen by the service.
type ParamPollB struct {
	FSC      uint16
	NFCID0   []byte
	AppData  [4]byte
	ProtInfo []byte
}

// ParamPollF describes a poll-F target. BitRate is in kbit/s (212 or 424;
// 0 for values the NCI spec reserves).
type ParamPollF struct {
	BitRate int
	NFCID2  []byte
}

// ParamListenF describes a listen-F activation.
type ParamListenF struct {
	NFCID2 []byte
}

// ParamIsoDepPollA carries the RATS response of an ISO-DEP poll-A target.
type ParamIsoDepPollA struct {
	FSC uint16
	T0  uint8
	TA  uint8
	TB  uint8
	TC  uint8
	T1  []byte
}

// ParamIsoDepPollB carries the ATTRIB response of an ISO-DEP poll-B target.
type ParamIsoDepPollB struct {
	MBLI uint8
	DID  uint8
	HLR  []byte
}

// ParamNfcDepInitiator carries the ATR_RES general bytes of a poll-side
// NFC-DEP activation.
type ParamNfcDepInitiator struct {
	ATRResG []byte
}

// ParamNfcDepTarget carries the ATR_REQ general bytes of a listen-side
// NFC-DEP activation.
type ParamNfcDepTarget struct {
	ATRReqG []byte
}

// ParamPoll is the mode parameter of a generic polled target; exactly one
// field is set.
type ParamPoll struct {
	A *ParamPollA
	B *ParamPollB
}

func convertPollA(mp *nci.ModeParam) *ParamPollA {
	if mp == nil || mp.PollA == nil {
		return nil
	}
	return &ParamPollA{
		SelRes: mp.PollA.SelRes,
		NFCID1: mp.PollA.NFCID1,
	}
}

func convertPollB(mp *nci.ModeParam) *ParamPollB {
	if mp == nil || mp.PollB == nil {
		return nil
	}
	return &ParamPollB{
		FSC:      mp.PollB.FSC,
		NFCID0:   mp.PollB.NFCID0[:],
		AppData:  mp.PollB.AppData,
		ProtInfo: mp.PollB.ProtInfo,
	}
}

func convertPollF(mp *nci.ModeParam) *ParamPollF {
	if mp == nil || mp.PollF == nil {
		return nil
	}
	out := &ParamPollF{NFCID2: mp.PollF.NFCID2[:]}
	switch mp.PollF.BitRate {
	case nci.BitRate212:
		out.BitRate = 212
	case nci.BitRate424:
		out.BitRate = 424
	}
	return out
}

func convertListenF(mp *nci.ModeParam) *ParamListenF {
	if mp == nil || mp.ListenF == nil {
		return nil
	}
	return &ParamListenF{NFCID2: mp.ListenF.NFCID2}
}

func convertIsoDepPollA(ap *nci.ActivationParam) *ParamIsoDepPollA {
	if ap == nil || ap.IsoDepPollA == nil {
		return nil
	}
	src := ap.IsoDepPollA
	return &ParamIsoDepPollA{
		FSC: src.FSC,
		T0:  src.T0,
		TA:  src.TA,
		TB:  src.TB,
		TC:  src.TC,
		T1:  src.T1,
	}
}

func convertIsoDepPollB(ap *nci.ActivationParam) *ParamIsoDepPollB {
	if ap == nil || ap.IsoDepPollB == nil {
		return nil
	}
	src := ap.IsoDepPollB
	return &ParamIsoDepPollB{
		MBLI: src.MBLI,
		DID:  src.DID,
		HLR:  src.HLR,
	}
}

func convertNfcDepPoll(ap *nci.ActivationParam) *ParamNfcDepInitiator {
	if ap == nil || ap.NfcDepPoll == nil {
		return nil
	}
	return &ParamNfcDepInitiator{ATRResG: ap.NfcDepPoll.G}
}

func convertNfcDepListen(ap *nci.ActivationParam) *ParamNfcDepTarget {
	if ap == nil || ap.NfcDepListen == nil {
		return nil
	}
	return &ParamNfcDepTarget{ATRReqG: ap.NfcDepListen.G}
}

// convertPoll builds the generic poll parameter for "other" tags. Only
// passive poll-A and poll-B activations carry one.
func convertPoll(ntf *nci.IntfActivationNtf) *ParamPoll {
	switch ntf.Mode {
	case nci.ModePassivePollA:
		if a := convertPollA(ntf.ModeParam); a != nil {
			return &ParamPoll{A: a}
		}
	case nci.ModePassivePollB:
		if b := convertPollB(ntf.ModeParam); b != nil {
			return &ParamPoll{B: b}
		}
	}
	return nil
}

// technologyOf maps an activation mode to the user-facing technology.
func technologyOf(mode nci.Mode) Technology {
	switch mode {
	case nci.ModePassivePollA, nci.ModeActivePollA,
		nci.ModePassiveListenA, nci.ModeActiveListenA:
		return TechnologyA
	case nci.ModePassivePollB, nci.ModePassiveListenB:
		return TechnologyB
	case nci.ModePassivePollF, nci.ModeActivePollF,
		nci.ModePassiveListenF, nci.ModeActiveListenF:
		return TechnologyF
	}
	return TechnologyUnknown
}
