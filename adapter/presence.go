package adapter

import (
	"time"

	"github.com/dotside-studios/nci-agent/nci"
)

// Presence scheduler: periodic liveness probes on a polled target. NFC-DEP
// targets are excluded; their liveness is maintained at the LLCP level by
// the peer layer.

func (a *Adapter) needPresenceChecksLocked() bool {
	return a.target != nil && a.activeIntf != nil &&
		a.activeIntf.protocol != nci.ProtocolNfcDep
}

func (a *Adapter) startPresenceLocked() {
	if a.presenceTimer != nil {
		return
	}
	a.presenceGen++
	gen := a.presenceGen
	a.presenceTimer = time.AfterFunc(a.presencePeriod, func() {
		a.run(func() { a.presenceTickLocked(gen) })
	})
}

func (a *Adapter) stopPresenceLocked() {
	if a.presenceTimer != nil {
		a.presenceTimer.Stop()
		a.presenceTimer = nil
		a.presenceGen++
	}
}

func (a *Adapter) presenceTickLocked(gen uint64) {
	if gen != a.presenceGen || a.presenceTimer == nil {
		return
	}
	t := a.target
	if t == nil {
		a.presenceTimer = nil
		return
	}

	allowed := t.seqFlags&SequenceAllowPresenceCheck != 0
	if !a.probeInFlight && allowed && !t.busyLocked() {
		if t.presenceProbe == nil {
			a.log.Debug("Target has no presence check")
		} else if err := t.presenceProbe(t, a.presenceCheckDone); err != nil {
			a.log.Debugf("Failed to start presence check: %v", err)
			a.presenceTimer = nil
			a.queue(func() { a.core.SetState(nci.StateDiscovery) })
			return
		} else {
			a.probeInFlight = true
		}
	} else {
		a.log.Debug("Skipped presence check")
	}

	a.presenceTimer = time.AfterFunc(a.presencePeriod, func() {
		a.run(func() { a.presenceTickLocked(gen) })
	})
}

// presenceCheckDone runs outside the adapter lock, as a queued transmit
// completion.
func (a *Adapter) presenceCheckDone(ok bool) {
	a.run(func() {
		status := "failed"
		if ok {
			status = "ok"
		}
		a.log.Debugf("Presence check %s", status)
		a.probeInFlight = false
		if !ok {
			a.deactivateTargetLocked(a.target)
		}
	})
}
