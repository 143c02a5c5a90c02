package adapter

import "time"

const (
	// PresenceCheckPeriod is the default interval between liveness probes
	// on a polled tag.
	PresenceCheckPeriod = 250 * time.Millisecond

	// CEReactivationTimeout bounds how long a lost card-emulation link may
	// stay in the reactivating state before the initiator is dropped.
	CEReactivationTimeout = 1500 * time.Millisecond

	// ISO-DEP cards can be slow, and interface error notifications for
	// them have been seen to take many seconds. Use a longer transmit
	// timeout when the ISO-DEP interface is active.
	isoDepTransmitTimeout = 2500 * time.Millisecond

	// defaultTransmitTimeout applies to frame-interface targets.
	defaultTransmitTimeout = 500 * time.Millisecond

	t2tCmdRead = 0x30

	randomUIDSize      = 4
	randomUIDStartByte = 0x08
)

// internalState is the position of the adapter state machine.
type internalState int

const (
	stateIdle internalState = iota
	stateHaveTarget
	stateHaveInitiator
	stateReactivatingTarget
	stateReactivatingCE
	stateReactivatedCE
)

func (s internalState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateHaveTarget:
		return "HAVE_TARGET"
	case stateHaveInitiator:
		return "HAVE_INITIATOR"
	case stateReactivatingTarget:
		return "REACTIVATING_TARGET"
	case stateReactivatingCE:
		return "REACTIVATING_CE"
	case stateReactivatedCE:
		return "REACTIVATED_CE"
	}
	return "?"
}

// Mode is a bitmask of user-facing adapter operating modes.
type Mode uint8

const (
	ModeReaderWriter Mode = 1 << iota
	ModeP2PInitiator
	ModeP2PTarget
	ModeCardEmulation
)

// ModeNone means the adapter is not participating in any RF activity.
const ModeNone Mode = 0

// Names returns the user-facing names of the modes set in the mask.
func (m Mode) Names() []string {
	var names []string
	if m&ModeReaderWriter != 0 {
		names = append(names, "reader-writer")
	}
	if m&ModeP2PInitiator != 0 {
		names = append(names, "p2p-initiator")
	}
	if m&ModeP2PTarget != 0 {
		names = append(names, "p2p-target")
	}
	if m&ModeCardEmulation != 0 {
		names = append(names, "card-emulation")
	}
	return names
}

// Technology is a bitmask of user-facing RF technologies.
type Technology uint8

const (
	TechnologyA Technology = 1 << iota
	TechnologyB
	TechnologyF
)

// TechnologyUnknown is the zero technology mask.
const TechnologyUnknown Technology = 0

func (t Technology) String() string {
	switch t {
	case TechnologyA:
		return "A"
	case TechnologyB:
		return "B"
	case TechnologyF:
		return "F"
	}
	return "unknown"
}

// Protocol is a bitmask of tag/peer protocols a target can speak.
type Protocol uint8

const (
	ProtocolT1 Protocol = 1 << iota
	ProtocolT2
	ProtocolT3
	ProtocolT4A
	ProtocolT4B
	ProtocolNfcDep
)

// ProtocolUnknown is the zero protocol mask.
const ProtocolUnknown Protocol = 0

func (p Protocol) String() string {
	switch p {
	case ProtocolT1:
		return "T1"
	case ProtocolT2:
		return "T2"
	case ProtocolT3:
		return "T3"
	case ProtocolT4A:
		return "T4A"
	case ProtocolT4B:
		return "T4B"
	case ProtocolNfcDep:
		return "NFC-DEP"
	}
	return "unknown"
}

// Param identifies a configurable adapter parameter.
type Param int

const (
	// ParamLaNfcid1 is the NFCID1 the controller presents on listen-A.
	ParamLaNfcid1 Param = iota
)

// ParamValue is the value of a configurable adapter parameter.
type ParamValue struct {
	NFCID1 []byte
}

// ParamSetting pairs a parameter with a value for SetParams.
type ParamSetting struct {
	ID    Param
	Value ParamValue
}

// TransmitStatus is the outcome of a target transmit.
type TransmitStatus int

const (
	TransmitStatusOK TransmitStatus = iota
	TransmitStatusError
	TransmitStatusTimeout
)

func (s TransmitStatus) String() string {
	switch s {
	case TransmitStatusOK:
		return "ok"
	case TransmitStatusError:
		return "error"
	case TransmitStatusTimeout:
		return "timeout"
	}
	return "?"
}

// SequenceFlags describe what the current transmit sequence of a target
// permits.
type SequenceFlags uint8

const (
	// SequenceAllowPresenceCheck permits liveness probes to be interleaved
	// with the sequence's own transmits.
	SequenceAllowPresenceCheck SequenceFlags = 1 << iota
)
