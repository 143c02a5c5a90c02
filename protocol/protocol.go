// Package protocol provides the message types of the monitor feed.
// This package is designed to be importable by external tools without
// pulling in server dependencies.
package protocol

import "time"

// EventType identifies a lifecycle event on the monitor feed.
type EventType string

const (
	EventTargetFound          EventType = "target.found"
	EventTargetGone           EventType = "target.gone"
	EventTargetReactivated    EventType = "target.reactivated"
	EventInitiatorFound       EventType = "initiator.found"
	EventInitiatorGone        EventType = "initiator.gone"
	EventInitiatorReactivated EventType = "initiator.reactivated"
	EventModeChanged          EventType = "mode.changed"
	EventParamChanged         EventType = "param.changed"
)

// Event is one message on the monitor feed.
type Event struct {
	// Type identifies the event.
	Type EventType `json:"type"`

	// Timestamp is when the agent emitted the event.
	Timestamp time.Time `json:"timestamp"`

	// Target is set for target.* events.
	Target *TargetInfo `json:"target,omitempty"`

	// Initiator is set for initiator.* events.
	Initiator *InitiatorInfo `json:"initiator,omitempty"`

	// Mode is set for mode.changed events.
	Mode *ModeInfo `json:"mode,omitempty"`

	// Param is the parameter name for param.changed events.
	Param string `json:"param,omitempty"`
}

// TargetInfo describes a poll-side object.
type TargetInfo struct {
	// Technology is the RF technology ("A", "B", "F").
	Technology string `json:"technology"`

	// Protocol is the tag/peer protocol ("T2", "T4A", "T4B", "NFC-DEP", ...).
	Protocol string `json:"protocol"`

	// Kind is the detected object kind ("t2", "t4a", "t4b", "peer", "other").
	Kind string `json:"kind,omitempty"`

	// UID is the identifier of the remote device in hex, when one exists.
	UID string `json:"uid,omitempty"`
}

// InitiatorInfo describes a listen-side object.
type InitiatorInfo struct {
	// Technology is the RF technology the remote initiator used.
	Technology string `json:"technology"`

	// Kind is the detected object kind ("host", "peer").
	Kind string `json:"kind,omitempty"`
}

// ModeInfo describes an operating mode change.
type ModeInfo struct {
	// Modes lists the active user modes ("reader-writer", "p2p-initiator",
	// "p2p-target", "card-emulation").
	Modes []string `json:"modes"`

	// Requested is true when the change confirms a submitted request.
	Requested bool `json:"requested"`
}
