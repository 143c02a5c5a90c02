package adapter

import (
	"bytes"

	"github.com/dotside-studios/nci-agent/nci"
)

// intfInfo is an immutable snapshot of an activated RF interface, kept for
// deciding whether a later activation is the same device reappearing.
type intfInfo struct {
	rfIntf          nci.RfInterface
	protocol        nci.Protocol
	mode            nci.Mode
	modeParam       []byte
	activationParam []byte
	modeParamParsed *nci.ModeParam
}

func newIntfInfo(ntf *nci.IntfActivationNtf) *intfInfo {
	if ntf == nil {
		return nil
	}
	return &intfInfo{
		rfIntf:          ntf.RfIntf,
		protocol:        ntf.Protocol,
		mode:            ntf.Mode,
		modeParam:       append([]byte(nil), ntf.ModeParamBytes...),
		activationParam: append([]byte(nil), ntf.ActivationParamBytes...),
		modeParamParsed: ntf.ModeParam.Clone(),
	}
}

func matchPollA(pa1, pa2 *nci.PollA) bool {
	if pa1.SelRes != pa2.SelRes ||
		pa1.SelResLen != pa2.SelResLen ||
		len(pa1.NFCID1) != len(pa2.NFCID1) ||
		pa1.SensRes != pa2.SensRes {
		return false
	}

	// As specified in NFCForum-TS-DigitalProtocol-1.0, in case of a single
	// size NFCID1 (4 bytes), a value of nfcid10 set to 08h indicates that
	// nfcid11 to nfcid13 SHALL be dynamically generated.
	if len(pa1.NFCID1) == randomUIDSize &&
		len(pa2.NFCID1) == randomUIDSize &&
		pa1.NFCID1[0] == pa2.NFCID1[0] &&
		pa2.NFCID1[0] == randomUIDStartByte {
		return true
	}
	// Otherwise UID should fully match
	return bytes.Equal(pa1.NFCID1, pa2.NFCID1)
}

func matchPollB(pb1, pb2 *nci.PollB) bool {
	// Compare all fields except UID 'cause UID may be changed after losing
	// field
	return pb1.FSC == pb2.FSC &&
		pb1.AppData == pb2.AppData &&
		bytes.Equal(pb1.ProtInfo, pb2.ProtInfo)
}

func (info *intfInfo) modeParamsMatch(ntf *nci.IntfActivationNtf) bool {
	mp1 := info.modeParamParsed
	mp2 := ntf.ModeParam

	if mp1 != nil && mp2 != nil {
		// Mode params criteria depends on type of tag
		switch ntf.Mode {
		case nci.ModePassivePollA:
			switch ntf.RfIntf {
			case nci.RfInterfaceFrame, nci.RfInterfaceIsoDep:
				// Type 2 Tag or ISO-DEP Type 4A
				if mp1.PollA != nil && mp2.PollA != nil {
					return matchPollA(mp1.PollA, mp2.PollA)
				}
			}
		case nci.ModePassivePollB:
			if ntf.RfIntf == nci.RfInterfaceIsoDep {
				// ISO-DEP Type 4B
				if mp1.PollB != nil && mp2.PollB != nil {
					return matchPollB(mp1.PollB, mp2.PollB)
				}
			}
		}
	}
	// Full match is expected in other cases
	return bytes.Equal(info.modeParam, ntf.ModeParamBytes)
}

// matches reports whether the activation looks like the same device this
// snapshot was taken from.
func (info *intfInfo) matches(ntf *nci.IntfActivationNtf) bool {
	return info != nil &&
		info.rfIntf == ntf.RfIntf &&
		info.protocol == ntf.Protocol &&
		info.mode == ntf.Mode &&
		info.modeParamsMatch(ntf) &&
		bytes.Equal(info.activationParam, ntf.ActivationParamBytes)
}
