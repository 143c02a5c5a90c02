package nci

// Subscription is a scoped registration on a Core event. Closing it removes
// the handler; closing twice is harmless.
type Subscription interface {
	Close()
}

// Core is the NCI protocol engine the adapter drives. Implementations wrap a
// HAL transport; MockCore provides a scripted in-memory one.
//
// Handlers registered through the On* methods may be invoked from arbitrary
// goroutines, depending on the transport underneath the implementation.
type Core interface {
	// CurrentState and NextState expose the RF state machine position.
	CurrentState() State
	NextState() State

	// SetState asks the core to move the RF state machine to the given
	// state (typically StateIdle or StateDiscovery).
	SetState(s State)

	// SetOpMode configures the controller operating mode flags.
	SetOpMode(m OpMode)

	// Tech returns the technologies the controller supports; SetTech
	// restricts discovery to a subset of them.
	Tech() Tech
	SetTech(t Tech)

	// GetParam reads a configurable parameter; ok is false if the core
	// does not know the key.
	GetParam(key ParamKey) (value ParamValue, ok bool)

	// SetParams writes the given parameters. With reset, parameters not
	// in the list revert to their defaults.
	SetParams(params []Param, reset bool)

	// SendDataMsg queues a data message on the given connection. The
	// returned id can be passed to Cancel; sent fires once the message
	// has left the controller. An error means nothing was queued.
	SendDataMsg(connID uint8, payload []byte, sent func(ok bool)) (id string, err error)

	// Cancel drops a queued data message. The sent callback of a
	// cancelled message never fires.
	Cancel(id string)

	OnCurrentState(fn func()) Subscription
	OnNextState(fn func()) Subscription
	OnIntfActivated(fn func(ntf *IntfActivationNtf)) Subscription
	OnParamChanged(fn func(key ParamKey)) Subscription
	OnDataPacket(fn func(connID uint8, payload []byte)) Subscription
}
