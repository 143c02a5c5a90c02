// Package nci defines the types exchanged with an NFC Controller Interface
// core: RF states, interfaces, protocols and modes, activation notifications,
// and the Core contract the adapter drives.
package nci

// State is an RF state of the NCI state machine, as reported by the core.
// The ordering matters: states above StateIdle mean the controller is active.
type State int

const (
	StateIdle State = iota
	StateDiscovery
	StateW4AllDiscoveries
	StateW4HostSelect
	StatePollActive
	StateListenActive
	StateListenSleep
)

// String returns the RFST_* style name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDiscovery:
		return "DISCOVERY"
	case StateW4AllDiscoveries:
		return "W4_ALL_DISCOVERIES"
	case StateW4HostSelect:
		return "W4_HOST_SELECT"
	case StatePollActive:
		return "POLL_ACTIVE"
	case StateListenActive:
		return "LISTEN_ACTIVE"
	case StateListenSleep:
		return "LISTEN_SLEEP"
	}
	return "?"
}

// Known returns false for states this package does not model. The adapter
// treats an unknown next state as fatal.
func (s State) Known() bool {
	return s >= StateIdle && s <= StateListenSleep
}

// RfInterface identifies the RF interface of an activation.
type RfInterface uint8

const (
	RfInterfaceFrame RfInterface = iota
	RfInterfaceIsoDep
	RfInterfaceNfcDep
	RfInterfaceNfceeDirect
	RfInterfaceProprietary
)

func (i RfInterface) String() string {
	switch i {
	case RfInterfaceFrame:
		return "FRAME"
	case RfInterfaceIsoDep:
		return "ISO-DEP"
	case RfInterfaceNfcDep:
		return "NFC-DEP"
	case RfInterfaceNfceeDirect:
		return "NFCEE-DIRECT"
	case RfInterfaceProprietary:
		return "PROPRIETARY"
	}
	return "?"
}

// Protocol is the RF protocol of an activated interface.
type Protocol uint8

const (
	ProtocolUndetermined Protocol = iota
	ProtocolT1T
	ProtocolT2T
	ProtocolT3T
	ProtocolT5T
	ProtocolIsoDep
	ProtocolNfcDep
	ProtocolProprietary
)

func (p Protocol) String() string {
	switch p {
	case ProtocolT1T:
		return "T1T"
	case ProtocolT2T:
		return "T2T"
	case ProtocolT3T:
		return "T3T"
	case ProtocolT5T:
		return "T5T"
	case ProtocolIsoDep:
		return "ISO-DEP"
	case ProtocolNfcDep:
		return "NFC-DEP"
	case ProtocolProprietary:
		return "PROPRIETARY"
	}
	return "UNDETERMINED"
}

// Mode is the RF technology and mode of an activation.
type Mode uint8

const (
	ModePassivePollA Mode = iota
	ModePassivePollB
	ModePassivePollF
	ModePassivePoll15693
	ModeActivePollA
	ModeActivePollF
	ModePassiveListenA
	ModePassiveListenB
	ModePassiveListenF
	ModePassiveListen15693
	ModeActiveListenA
	ModeActiveListenF
)

// Poll reports whether the mode is a poll-side mode.
func (m Mode) Poll() bool {
	switch m {
	case ModePassivePollA, ModePassivePollB, ModePassivePollF,
		ModePassivePoll15693, ModeActivePollA, ModeActivePollF:
		return true
	}
	return false
}

func (m Mode) String() string {
	switch m {
	case ModePassivePollA:
		return "PASSIVE_POLL_A"
	case ModePassivePollB:
		return "PASSIVE_POLL_B"
	case ModePassivePollF:
		return "PASSIVE_POLL_F"
	case ModePassivePoll15693:
		return "PASSIVE_POLL_15693"
	case ModeActivePollA:
		return "ACTIVE_POLL_A"
	case ModeActivePollF:
		return "ACTIVE_POLL_F"
	case ModePassiveListenA:
		return "PASSIVE_LISTEN_A"
	case ModePassiveListenB:
		return "PASSIVE_LISTEN_B"
	case ModePassiveListenF:
		return "PASSIVE_LISTEN_F"
	case ModePassiveListen15693:
		return "PASSIVE_LISTEN_15693"
	case ModeActiveListenA:
		return "ACTIVE_LISTEN_A"
	case ModeActiveListenF:
		return "ACTIVE_LISTEN_F"
	}
	return "?"
}

// Status codes carried in the trailing status octet of Frame RF interface
// data messages (NCI 1.0, section 8.2.1.2).
const (
	StatusOK               uint8 = 0x00
	StatusRfFrameCorrupted uint8 = 0x02
	StatusOK1Bit           uint8 = 0xA1
	StatusOK2Bit           uint8 = 0xA2
	StatusOK3Bit           uint8 = 0xA3
	StatusOK4Bit           uint8 = 0xA4
	StatusOK5Bit           uint8 = 0xA5
	StatusOK6Bit           uint8 = 0xA6
	StatusOK7Bit           uint8 = 0xA7
)

// StaticRfConnID is the NCI static RF connection used for target data
// exchange.
const StaticRfConnID uint8 = 0

// Tech is a bitmask of RF technologies split by role.
type Tech uint16

const (
	TechAPoll Tech = 1 << iota
	TechAListen
	TechBPoll
	TechBListen
	TechFPoll
	TechFListen
	TechVPoll
	TechVListen
)

const (
	TechNone Tech = 0
	TechA         = TechAPoll | TechAListen
	TechB         = TechBPoll | TechBListen
	TechF         = TechFPoll | TechFListen
	TechV         = TechVPoll | TechVListen
	TechAll       = TechA | TechB | TechF | TechV
)

// OpMode is a bitmask of controller operating mode flags.
type OpMode uint8

const (
	OpModeRW OpMode = 1 << iota
	OpModePeer
	OpModeCE
	OpModePoll
	OpModeListen
)

const OpModeNone OpMode = 0

// ParamKey identifies a configurable NCI core parameter.
type ParamKey int

const (
	ParamLaNfcid1 ParamKey = iota
)

func (k ParamKey) String() string {
	if k == ParamLaNfcid1 {
		return "LA_NFCID1"
	}
	return "?"
}
