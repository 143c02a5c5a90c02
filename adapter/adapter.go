// Package adapter bridges an NCI protocol engine to a higher-level NFC
// service. It correlates RF-state transitions and interface activations with
// tag, peer, and host lifecycles, keeps polled tags alive with periodic
// presence checks, runs the card-emulation reactivation protocol, and
// reconciles requested and effective operating modes.
package adapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dotside-studios/nci-agent/nci"
)

/*
 * Adapter state machine
 *
 *              Poll side                         Listen side
 *              ---------                         -----------
 *
 *                              +------+
 *        /---------+---------> | IDLE | <------------------------------\
 *        |         |           +------+                     card       |
 *        |         |            |    ^                    emulation ---|--v
 *        |         |            |    |                    (ISO-DEP)    |  |
 *        |         |            |    |     Does the          /         |  |
 *        |         |            | Unknown  interface ---- yes          |  |
 *        |   Deactivation       |  object  info match?       \         |  |
 *        |         |            v    |    /       |        Anything    |  |
 *        |         |      Activation |   no    Activation    else      |  |
 *        |         |        ^    \   /  /         ^           |        |  |
 *        |         |       /      \ /  /          |           v        |  |
 *        |  +-------------+      Object        +----------------+      |  |
 *        |  | HAVE_TARGET | <-- detection ---> | HAVE_INITIATOR |      |  |
 *        |  +-------------+        ^           +----------------+      |  |
 *        |         |     ^         |                   |               |  |
 *        |         |      \        |                   v               |  |
 *        |         |       \       |              Deactivation         |  |
 *        |  service-driven  |      |                /      \           |  |
 *        |   reactivation   |      |               /        \          |  |
 *        |         |        |      |             Card       Anything --+  |
 *        |         |        |      |           emulation      else    /   |
 *  service-driven  |        |      |           (ISO-DEP)             /    |
 *   deactivation   |        |      |               |          Timeout     |
 *        ^         |        |      |               |             ^        |
 *        |         v        |      |               v             |        |
 *  +---------------------+  |      |            +-----------------+       |
 *  | REACTIVATING_TARGET |  |      |            | REACTIVATING_CE |       |
 *  +---------------------+  ^      |            +-----------------+       |
 *             |            /       |              |              ^        |
 *             v           /        ^              v              |        |
 *        Activation      /        / \        Activation          |        |
 *             |         /        /   no        /                 |        |
 *             |       yes       /      \      /             Deactivation  |
 *           Does the  /        /       Does the                  |        |
 *           interface ------- no       interface --- Activation  |        |
 *           info match?                info match?       ^       |        |
 *                                             |          |       |        |
 *                                             |     +----------------+    |
 *                                            yes--->| REACTIVATED_CE |<---/
 *                                                   +----------------+
 */

// Config carries the collaborators and tunables of an Adapter.
type Config struct {
	// Core is the NCI protocol engine to drive. Required.
	Core nci.Core

	// Delegate is the NFC service side. Required.
	Delegate Delegate

	// Log receives structured adapter logging. Defaults to the standard
	// logrus logger.
	Log logrus.FieldLogger

	// PresenceCheckPeriod overrides the presence probe interval.
	PresenceCheckPeriod time.Duration

	// CEReactivationTimeout overrides the card-emulation reactivation
	// deadline.
	CEReactivationTimeout time.Duration
}

// Adapter is the state machine correlating NCI events with object
// lifecycles. All event handling is serialized; lifecycle notifications and
// transmit completions are delivered outside the critical section, in order.
type Adapter struct {
	mu       sync.Mutex
	deferred []func()

	log      logrus.FieldLogger
	core     nci.Core
	delegate Delegate
	subs     []nci.Subscription

	state      internalState
	target     *Target
	initiator  *Initiator
	activeIntf *intfInfo

	tag  handleSlot
	peer handleSlot
	host handleSlot

	presencePeriod time.Duration
	presenceTimer  *time.Timer
	presenceGen    uint64
	probeInFlight  bool

	ceTimeout time.Duration
	ceTimer   *time.Timer
	ceGen     uint64

	desiredMode       Mode
	currentMode       Mode
	modeChangePending bool
	modeCheckPending  bool

	supportedTechs nci.Tech
	activeTechs    nci.Tech
	activeTechMask nci.Tech

	enabled        bool
	powered        bool
	powerRequested bool

	closed bool
}

// New builds an Adapter on top of the given NCI core and subscribes to its
// events. The adapter starts enabled and powered, in the IDLE state, with
// all supported technologies active.
func New(cfg Config) (*Adapter, error) {
	if cfg.Core == nil {
		return nil, fmt.Errorf("adapter: Core is required")
	}
	if cfg.Delegate == nil {
		return nil, fmt.Errorf("adapter: Delegate is required")
	}

	a := &Adapter{
		log:            cfg.Log,
		core:           cfg.Core,
		delegate:       cfg.Delegate,
		state:          stateIdle,
		presencePeriod: cfg.PresenceCheckPeriod,
		ceTimeout:      cfg.CEReactivationTimeout,
		activeTechMask: nci.TechAll,
		enabled:        true,
		powered:        true,
		powerRequested: true,
	}
	if a.log == nil {
		a.log = logrus.StandardLogger()
	}
	if a.presencePeriod <= 0 {
		a.presencePeriod = PresenceCheckPeriod
	}
	if a.ceTimeout <= 0 {
		a.ceTimeout = CEReactivationTimeout
	}
	a.supportedTechs = a.core.Tech()
	a.activeTechs = a.supportedTechs

	a.subs = []nci.Subscription{
		a.core.OnCurrentState(func() {
			a.run(a.currentStateChangedLocked)
		}),
		a.core.OnNextState(func() {
			a.run(a.nextStateChangedLocked)
		}),
		a.core.OnIntfActivated(func(ntf *nci.IntfActivationNtf) {
			a.run(func() { a.activationLocked(ntf) })
		}),
		a.core.OnParamChanged(func(key nci.ParamKey) {
			if key == nci.ParamLaNfcid1 {
				a.run(func() {
					a.queue(func() { a.delegate.ParamChanged(ParamLaNfcid1) })
				})
			}
		}),
	}
	return a, nil
}

// Close drops all objects, stops the timers, and tears down the NCI event
// subscriptions.
func (a *Adapter) Close() {
	a.run(func() {
		if a.closed {
			return
		}
		a.closed = true
		a.setStateLocked(stateIdle)
		a.dropAllLocked()
		a.stopPresenceLocked()
		a.stopCETimerLocked()
	})
	for _, sub := range a.subs {
		sub.Close()
	}
	a.subs = nil
}

// SupportedModes returns the user-facing modes this adapter can run in.
func (a *Adapter) SupportedModes() Mode {
	return ModeReaderWriter | ModeP2PInitiator | ModeP2PTarget | ModeCardEmulation
}

// SupportedProtocols returns the tag/peer protocols this adapter detects.
func (a *Adapter) SupportedProtocols() Protocol {
	return ProtocolT2 | ProtocolT4A | ProtocolT4B | ProtocolNfcDep
}

// SetEnabled flips the enabled flag consulted by the idle recovery check.
func (a *Adapter) SetEnabled(enabled bool) {
	a.run(func() {
		a.enabled = enabled
		a.stateCheckLocked()
	})
}

// SetPowered reports whether the controller is powered.
func (a *Adapter) SetPowered(powered bool) {
	a.run(func() {
		a.powered = powered
		a.stateCheckLocked()
	})
}

// SetPowerRequested reports whether the service wants the controller up.
func (a *Adapter) SetPowerRequested(requested bool) {
	a.run(func() {
		a.powerRequested = requested
		a.stateCheckLocked()
	})
}

// Reactivate runs the reactivation protocol for the current target: the
// controller is sent back to discovery and the adapter expects the same
// device to reappear. Returns false if t is not the current target or the
// controller is not sitting stably in an active state.
func (a *Adapter) Reactivate(t *Target) bool {
	ok := false
	a.run(func() {
		if t == nil || t != a.target || a.activeIntf == nil ||
			a.state != stateHaveTarget {
			return
		}
		cur, next := a.core.CurrentState(), a.core.NextState()
		if (cur == nci.StatePollActive && next == nci.StatePollActive) ||
			(cur == nci.StateListenActive && next == nci.StateListenActive) {
			a.log.Debug("Reactivating the interface")
			a.setStateLocked(stateReactivatingTarget)
			// Stop presence checks for the time being
			a.stopPresenceLocked()
			// Switch to discovery and expect the same target to reappear
			a.queue(func() { a.core.SetState(nci.StateDiscovery) })
			ok = true
		}
	})
	if !ok {
		a.log.Warn("Can't reactivate the tag in this state")
	}
	return ok
}

// DeactivateTarget drops the given target if it is the current one and
// resumes discovery while powered.
func (a *Adapter) DeactivateTarget(t *Target) {
	a.run(func() { a.deactivateTargetLocked(t) })
}

func (a *Adapter) deactivateTargetLocked(t *Target) {
	if t == nil || t != a.target {
		return
	}
	a.dropTargetLocked()
	if a.powered {
		a.queue(func() { a.core.SetState(nci.StateDiscovery) })
	}
}

// DeactivateInitiator drops the given initiator if it is the current one and
// resumes discovery while powered.
func (a *Adapter) DeactivateInitiator(i *Initiator) {
	a.run(func() {
		if i == nil || i != a.initiator {
			return
		}
		a.dropInitiatorLocked()
		if a.powered {
			a.queue(func() { a.core.SetState(nci.StateDiscovery) })
		}
	})
}

/*
 * Serialization. Every entry point (NCI event, timer expiry, public API
 * call) runs under the adapter mutex; callbacks queued during the turn are
 * delivered in FIFO order after the mutex is released, so they may freely
 * re-enter the adapter.
 */

func (a *Adapter) run(fn func()) {
	a.mu.Lock()
	fn()
	q := a.deferred
	a.deferred = nil
	a.mu.Unlock()
	for _, f := range q {
		f()
	}
}

// queue schedules fn to run after the current turn. Must be called with the
// adapter lock held.
func (a *Adapter) queue(fn func()) {
	a.deferred = append(a.deferred, fn)
}

func (a *Adapter) setStateLocked(s internalState) {
	if a.state != s {
		a.log.Debugf("Internal state %s => %s", a.state, s)
		a.state = s
	}
}

func (a *Adapter) setActiveIntfLocked(ntf *nci.IntfActivationNtf) {
	a.activeIntf = newIntfInfo(ntf)
}

func (a *Adapter) clearActiveIntfLocked() {
	a.activeIntf = nil
}

/*
 * NCI core events
 */

func (a *Adapter) currentStateChangedLocked() {
	a.stateCheckLocked()
	a.modeCheckLocked()
}

func (a *Adapter) nextStateChangedLocked() {
	next := a.core.NextState()
	switch next {
	case nci.StateIdle:
		if a.core.CurrentState() > nci.StateIdle {
			a.deactivationLocked()
		}
	case nci.StateDiscovery:
		if a.core.CurrentState() != nci.StateIdle {
			a.deactivationLocked()
		}
	case nci.StateW4AllDiscoveries, nci.StateW4HostSelect,
		nci.StatePollActive, nci.StateListenActive, nci.StateListenSleep:
	default:
		a.setStateLocked(stateIdle)
		a.dropAllLocked()
	}
	a.stateCheckLocked()
	a.modeCheckLocked()
}

// stateCheckLocked kicks the controller back to discovery when a mode or
// tech change transiently dropped it to idle.
func (a *Adapter) stateCheckLocked() {
	if a.core.CurrentState() == nci.StateIdle &&
		a.core.NextState() == nci.StateIdle &&
		a.enabled && a.powered && a.powerRequested {
		a.queue(func() { a.core.SetState(nci.StateDiscovery) })
	}
}

/*
 * Activation
 */

func (a *Adapter) activationLocked(ntf *nci.IntfActivationNtf) {
	// Any activation stops the CE reactivation timer if it's running
	a.stopCETimerLocked()

	switch a.state {
	case stateIdle:
		// Continue to object detection

	case stateHaveTarget:
		a.setStateLocked(stateIdle)
		a.dropTargetLocked()
		// Continue to object detection

	case stateHaveInitiator:
		if a.activeIntf.matches(ntf) {
			if a.host.handle != nil {
				a.log.Debug("CE host spontaneously reactivated")
				a.setStateLocked(stateReactivatedCE)
				a.queueInitiatorReactivatedLocked()
			} else {
				a.log.Debug("Keeping initiator alive")
			}
		} else {
			a.log.Debug("Different initiator has arrived, dropping the old one")
			a.setStateLocked(stateIdle)
			a.dropInitiatorLocked()
			// Continue to object detection
		}

	case stateReactivatingCE, stateReactivatedCE:
		if a.activeIntf.matches(ntf) {
			if a.state == stateReactivatedCE {
				a.log.Debug("Keeping CE initiator alive")
			} else {
				a.log.Debug("CE initiator reactivated")
				a.setStateLocked(stateReactivatedCE)
			}
			a.queueInitiatorReactivatedLocked()
		} else {
			a.log.Debug("Different initiator has arrived, dropping the old one")
			a.setStateLocked(stateIdle)
			a.dropInitiatorLocked()
			// Continue to object detection
		}

	case stateReactivatingTarget:
		if a.activeIntf.matches(ntf) {
			a.log.Debug("Target reactivated")
			a.setStateLocked(stateHaveTarget)
			t := a.target
			a.queue(func() { a.delegate.TargetReactivated(t) })
		} else {
			a.log.Debug("Different tag has arrived, dropping the old one")
			a.setStateLocked(stateIdle)
			a.dropTargetLocked()
			// Continue to object detection
		}
	}

	// Object detection
	if a.target == nil && a.initiator == nil {
		if t := newTarget(a, ntf); t != nil {
			a.target = t
			a.setStateLocked(stateHaveTarget)
			a.setActiveIntfLocked(ntf)

			// Check if it's a peer interface
			if a.createPeerInitiatorLocked(t, ntf) == nil {
				// Otherwise assume a tag
				if a.createKnownTagLocked(t, ntf) == nil {
					a.tag.set(a, a.delegate.AddOtherTag(t, convertPoll(ntf)))
				}
			}
		} else if i := newInitiator(a, ntf); i != nil {
			if a.createPeerTargetLocked(i, ntf) != nil ||
				a.createHostLocked(i, ntf) != nil {
				// Keep the initiator
				a.initiator = i
				a.setActiveIntfLocked(ntf)
				a.setStateLocked(stateHaveInitiator)
			}
		}
	}

	// Start periodic presence checks
	if a.needPresenceChecksLocked() {
		a.startPresenceLocked()
	} else {
		a.stopPresenceLocked()
	}

	// If we don't know what this is, switch back to idle
	if a.target == nil && a.initiator == nil {
		a.log.Debug("No idea what this is")
		a.queue(func() { a.core.SetState(nci.StateIdle) })
	}
}

func (a *Adapter) queueInitiatorReactivatedLocked() {
	i := a.initiator
	a.queue(func() { a.delegate.InitiatorReactivated(i) })
}

// createKnownTagLocked tries the tag types the adapter knows how to wrap.
func (a *Adapter) createKnownTagLocked(t *Target, ntf *nci.IntfActivationNtf) Tag {
	var tag Tag
	switch ntf.Protocol {
	case nci.ProtocolT2T:
		if ntf.RfIntf == nci.RfInterfaceFrame {
			switch ntf.Mode {
			case nci.ModePassivePollA, nci.ModeActivePollA:
				// Type 2 Tag
				tag = a.delegate.AddTagT2(t, convertPollA(ntf.ModeParam))
			}
		}
	case nci.ProtocolIsoDep:
		if ntf.RfIntf == nci.RfInterfaceIsoDep {
			switch ntf.Mode {
			case nci.ModePassivePollA:
				// ISO-DEP Type 4A
				tag = a.delegate.AddTagT4A(t, convertPollA(ntf.ModeParam),
					convertIsoDepPollA(ntf.ActivationParam))
			case nci.ModePassivePollB:
				// ISO-DEP Type 4B
				tag = a.delegate.AddTagT4B(t, convertPollB(ntf.ModeParam),
					convertIsoDepPollB(ntf.ActivationParam))
			}
		}
	}
	a.tag.set(a, tag)
	return tag
}

func (a *Adapter) createPeerInitiatorLocked(t *Target, ntf *nci.IntfActivationNtf) Peer {
	var peer Peer
	if ntf.Protocol == nci.ProtocolNfcDep && ntf.RfIntf == nci.RfInterfaceNfcDep {
		switch ntf.Mode {
		case nci.ModeActivePollA, nci.ModePassivePollA:
			// NFC-DEP (Poll side)
			peer = a.delegate.AddPeerInitiatorA(t, convertPollA(ntf.ModeParam),
				convertNfcDepPoll(ntf.ActivationParam))
		case nci.ModeActivePollF, nci.ModePassivePollF:
			// NFC-DEP (Poll side)
			peer = a.delegate.AddPeerInitiatorF(t, convertPollF(ntf.ModeParam),
				convertNfcDepPoll(ntf.ActivationParam))
		}
	}
	a.peer.set(a, peer)
	return peer
}

func (a *Adapter) createPeerTargetLocked(i *Initiator, ntf *nci.IntfActivationNtf) Peer {
	var peer Peer
	if ntf.RfIntf == nci.RfInterfaceNfcDep {
		switch ntf.Mode {
		case nci.ModeActiveListenA, nci.ModePassiveListenA:
			// NFC-DEP (Listen side)
			peer = a.delegate.AddPeerTargetA(i,
				convertNfcDepListen(ntf.ActivationParam))
		case nci.ModePassiveListenF, nci.ModeActiveListenF:
			// NFC-DEP (Listen side)
			peer = a.delegate.AddPeerTargetF(i, convertListenF(ntf.ModeParam),
				convertNfcDepListen(ntf.ActivationParam))
		}
	}
	a.peer.set(a, peer)
	return peer
}

func (a *Adapter) createHostLocked(i *Initiator, ntf *nci.IntfActivationNtf) Host {
	var host Host
	if ntf.RfIntf == nci.RfInterfaceIsoDep {
		host = a.delegate.AddHost(i)
	}
	a.host.set(a, host)
	return host
}

/*
 * Deactivation
 */

func (a *Adapter) deactivationLocked() {
	switch a.state {
	case stateReactivatingTarget:
		// Already mid-reactivation

	case stateReactivatingCE:
		// Most likely a reset to lock the CE tech

	case stateReactivatedCE:
		a.setStateLocked(stateReactivatingCE)
		a.startCETimerLocked()

	case stateHaveInitiator:
		if a.host.handle != nil {
			ceTech := nci.TechNone

			// Lock the card emulation tech. Technology F gets no lock.
			switch a.initiator.technology {
			case TechnologyA:
				ceTech = nci.TechAListen
			case TechnologyB:
				ceTech = nci.TechBListen
			}

			a.setStateLocked(stateReactivatingCE)
			a.startCETimerLocked()

			// The same technology must be used for reactivation,
			// otherwise the peer may not (and most likely won't)
			// recognize us as the same card.
			if ceTech != nci.TechNone {
				tech := a.activeTechs & ceTech
				a.activeTechMask = ceTech
				a.core.SetTech(tech)
			}
			break
		}
		fallthrough

	case stateIdle, stateHaveTarget:
		a.setStateLocked(stateIdle)
		a.dropAllLocked()
	}
}

/*
 * CE reactivation timer
 */

func (a *Adapter) startCETimerLocked() {
	if a.ceTimer != nil {
		a.log.Debug("Restarting CE reactivation timer")
		a.ceTimer.Stop()
	} else {
		a.log.Debug("Starting CE reactivation timer")
	}
	a.ceGen++
	gen := a.ceGen
	a.ceTimer = time.AfterFunc(a.ceTimeout, func() {
		a.run(func() { a.ceTimerExpiredLocked(gen) })
	})
}

func (a *Adapter) stopCETimerLocked() {
	if a.ceTimer != nil {
		a.ceTimer.Stop()
		a.ceTimer = nil
		a.ceGen++
	}
}

func (a *Adapter) ceTimerExpiredLocked(gen uint64) {
	if gen != a.ceGen || a.ceTimer == nil {
		return
	}
	a.log.Debug("CE reactivation timeout has expired")
	a.ceTimer = nil
	a.setStateLocked(stateIdle)
	a.dropAllLocked()
}

/*
 * Object teardown
 */

func (a *Adapter) dropTargetLocked() {
	t := a.target
	if t == nil {
		return
	}
	a.target = nil
	a.clearActiveIntfLocked()
	a.stopPresenceLocked()
	a.peer.clear(a)
	a.tag.clear(a)
	a.probeInFlight = false
	t.cancelTransmitLocked()
	t.detachLocked()
	a.log.Info("Target is gone")
	a.queue(func() { a.delegate.TargetGone(t) })
}

func (a *Adapter) dropInitiatorLocked() {
	i := a.initiator
	if i == nil {
		return
	}
	a.initiator = nil
	a.activeTechMask = nci.TechAll
	a.clearActiveIntfLocked()
	a.stopCETimerLocked()
	a.peer.clear(a)
	a.host.clear(a)
	a.core.SetTech(a.activeTechs)
	i.detached = true
	a.log.Info("Initiator is gone")
	a.queue(func() { a.delegate.InitiatorGone(i) })
}

func (a *Adapter) dropAllLocked() {
	a.dropTargetLocked()
	a.dropInitiatorLocked()
}
