package adapter

import (
	"time"

	"github.com/dotside-studios/nci-agent/nci"
)

// TransmitFunc receives the outcome of a Transmit. With TransmitStatusOK the
// payload is the received response, already stripped of interface framing.
type TransmitFunc func(status TransmitStatus, payload []byte)

// Target is the poll-side session with an activated remote device. It
// serializes transmits: at most one is outstanding at any instant.
//
// A Target is created by the adapter during object detection and handed to
// the service through the Delegate tag/peer factories. After the adapter
// drops it, Transmit fails with a target-gone error and Reactivate returns
// false.
type Target struct {
	a          *Adapter
	technology Technology
	protocol   Protocol
	txTimeout  time.Duration // 0 means no local timeout
	seqFlags   SequenceFlags

	// presenceProbe issues one protocol-specific liveness probe, or is nil
	// when the protocol has no local probe.
	presenceProbe func(t *Target, done func(ok bool)) error

	// transmitFinish applies interface-specific framing to a received
	// payload. Returning false fails the transmit.
	transmitFinish func(t *Target, payload []byte) bool

	detached           bool
	sendID             string
	transmitInProgress bool
	pendingReply       []byte
	txDone             TransmitFunc
	txTimer            *time.Timer
	txGen              uint64
	dataSub            nci.Subscription
}

// newTarget classifies an activation and builds the session for it, or
// returns nil when the technology, protocol, or interface combination is not
// one the poll side supports. Called with the adapter lock held.
func newTarget(a *Adapter, ntf *nci.IntfActivationNtf) *Target {
	var tech Technology
	switch ntf.Mode {
	case nci.ModePassivePollA, nci.ModeActivePollA:
		tech = TechnologyA
	case nci.ModePassivePollB:
		tech = TechnologyB
	case nci.ModePassivePollF, nci.ModeActivePollF:
		tech = TechnologyF
	default:
		return nil
	}

	var protocol Protocol
	var probe func(*Target, func(ok bool)) error
	switch ntf.Protocol {
	case nci.ProtocolT1T:
		protocol = ProtocolT1
	case nci.ProtocolT2T:
		protocol = ProtocolT2
		probe = presenceProbeT2
	case nci.ProtocolT3T:
		protocol = ProtocolT3
	case nci.ProtocolIsoDep:
		probe = presenceProbeT4
		switch tech {
		case TechnologyA:
			protocol = ProtocolT4A
		case TechnologyB:
			protocol = ProtocolT4B
		default:
			a.log.Debug("Unexpected ISO-DEP technology")
			return nil
		}
	case nci.ProtocolNfcDep:
		protocol = ProtocolNfcDep
	default:
		a.log.Debugf("Unsupported protocol %s", ntf.Protocol)
		return nil
	}

	var finish func(*Target, []byte) bool
	txTimeout := defaultTransmitTimeout
	switch ntf.RfIntf {
	case nci.RfInterfaceFrame:
		switch ntf.Protocol {
		case nci.ProtocolNfcDep:
			a.log.Debug("Frame interface not supported for NFC-DEP")
		case nci.ProtocolIsoDep:
			a.log.Debug("Frame interface not supported for ISO-DEP")
		default:
			finish = transmitFinishFrame
		}
	case nci.RfInterfaceIsoDep:
		txTimeout = isoDepTransmitTimeout
		finish = transmitFinishIsoDep
	case nci.RfInterfaceNfcDep:
		txTimeout = 0 // rely on interface error notifications
		finish = transmitFinishNfcDep
	default:
		a.log.Debugf("Unsupported RF interface %s", ntf.RfIntf)
	}
	if finish == nil {
		return nil
	}

	t := &Target{
		a:              a,
		technology:     tech,
		protocol:       protocol,
		txTimeout:      txTimeout,
		seqFlags:       SequenceAllowPresenceCheck,
		presenceProbe:  probe,
		transmitFinish: finish,
	}
	t.dataSub = a.core.OnDataPacket(t.onDataPacket)
	return t
}

// Technology returns the RF technology of the target.
func (t *Target) Technology() Technology { return t.technology }

// Protocol returns the protocol of the target.
func (t *Target) Protocol() Protocol { return t.protocol }

// SetSequenceFlags declares what the service's current transmit sequence
// permits. The presence scheduler honors SequenceAllowPresenceCheck.
func (t *Target) SetSequenceFlags(flags SequenceFlags) {
	t.a.run(func() { t.seqFlags = flags })
}

// Transmit queues one transmit. done fires exactly once unless the transmit
// is cancelled or the target is dropped first. The error return is
// synchronous: a lower-layer send failure enters no in-flight state.
func (t *Target) Transmit(payload []byte, done TransmitFunc) error {
	var err error
	t.a.run(func() { err = t.transmitLocked(payload, done) })
	return err
}

// CancelTransmit drops the in-flight transmit, if any, and discards any
// buffered reply. The done callback of the cancelled transmit never fires.
func (t *Target) CancelTransmit() {
	t.a.run(func() { t.cancelTransmitLocked() })
}

// Deactivate asks the adapter to drop this target and resume discovery.
func (t *Target) Deactivate() {
	t.a.DeactivateTarget(t)
}

// Reactivate asks the adapter to run the reactivation protocol, expecting
// this same target to reappear. Returns false if the adapter state does not
// allow it.
func (t *Target) Reactivate() bool {
	return t.a.Reactivate(t)
}

func (t *Target) transmitLocked(payload []byte, done TransmitFunc) error {
	if t.detached {
		return NewTargetGoneError("Transmit")
	}
	if t.transmitInProgress || t.sendID != "" {
		return NewTransmitBusyError("Transmit")
	}
	id, err := t.a.core.SendDataMsg(nci.StaticRfConnID, payload, func(ok bool) {
		t.a.run(func() { t.dataSentLocked(ok) })
	})
	if err != nil {
		return NewTransmitFailedError("Transmit", err)
	}
	t.sendID = id
	t.transmitInProgress = true
	t.txDone = done
	if t.txTimeout > 0 {
		t.txGen++
		gen := t.txGen
		t.txTimer = time.AfterFunc(t.txTimeout, func() {
			t.a.run(func() { t.transmitTimeoutLocked(gen) })
		})
	}
	return nil
}

func (t *Target) busyLocked() bool {
	return t.transmitInProgress || t.sendID != ""
}

func (t *Target) dataSentLocked(ok bool) {
	t.sendID = ""
	if t.pendingReply != nil {
		// We have been waiting for this send to complete
		t.a.log.Debug("Send completed")
		reply := t.pendingReply
		t.pendingReply = nil
		t.finishTransmitLocked(reply)
	}
}

func (t *Target) onDataPacket(connID uint8, payload []byte) {
	data := append([]byte(nil), payload...)
	t.a.run(func() { t.dataPacketLocked(connID, data) })
}

func (t *Target) dataPacketLocked(connID uint8, payload []byte) {
	if connID == nci.StaticRfConnID && t.transmitInProgress && t.pendingReply == nil {
		if t.sendID != "" {
			// Multithreaded lower drivers sometimes deliver the reply
			// before the send completion callback has been invoked.
			// Postpone transfer completion until then.
			t.a.log.Debug("Waiting for send to complete")
			t.pendingReply = payload
		} else {
			t.finishTransmitLocked(payload)
		}
	} else {
		t.a.log.Debugf("Unhandled data packet, cid=0x%02x %d byte(s)", connID, len(payload))
	}
}

func (t *Target) transmitTimeoutLocked(gen uint64) {
	if gen != t.txGen || !t.transmitInProgress {
		return
	}
	t.stopTxTimerLocked()
	t.transmitInProgress = false
	t.cancelSendLocked()
	t.deliverLocked(TransmitStatusTimeout, nil)
}

func (t *Target) finishTransmitLocked(payload []byte) {
	t.stopTxTimerLocked()
	t.transmitInProgress = false
	if t.transmitFinish == nil || !t.transmitFinish(t, payload) {
		t.deliverLocked(TransmitStatusError, nil)
	}
}

func (t *Target) deliverLocked(status TransmitStatus, payload []byte) {
	done := t.txDone
	t.txDone = nil
	if done != nil {
		t.a.queue(func() { done(status, payload) })
	}
}

func (t *Target) cancelTransmitLocked() {
	t.transmitInProgress = false
	t.stopTxTimerLocked()
	t.cancelSendLocked()
	t.txDone = nil
	t.pendingReply = nil
}

func (t *Target) cancelSendLocked() {
	if t.sendID != "" {
		t.a.core.Cancel(t.sendID)
		t.sendID = ""
		t.pendingReply = nil
	}
}

func (t *Target) stopTxTimerLocked() {
	t.txGen++
	if t.txTimer != nil {
		t.txTimer.Stop()
		t.txTimer = nil
	}
}

// detachLocked severs the target from the adapter after it has been dropped.
func (t *Target) detachLocked() {
	if t.detached {
		return
	}
	t.detached = true
	if t.dataSub != nil {
		t.dataSub.Close()
		t.dataSub = nil
	}
}

// transmitFinishFrame handles Frame RF interface responses: the last octet
// is an NCI status (NCI 1.0, 8.2.1.2). Short-frame OK_n_BIT statuses are
// accepted; a corrupted frame fails the transmit; anything else is logged
// and passed through.
func transmitFinishFrame(t *Target, payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	status := payload[len(payload)-1]
	if status == nci.StatusRfFrameCorrupted {
		t.a.log.Debugf("Transmission status 0x%02x", status)
		return false
	}
	switch status {
	case nci.StatusOK,
		nci.StatusOK1Bit, nci.StatusOK2Bit, nci.StatusOK3Bit,
		nci.StatusOK4Bit, nci.StatusOK5Bit, nci.StatusOK6Bit,
		nci.StatusOK7Bit:
	default:
		t.a.log.Debugf("Hmm... transmission status 0x%02x", status)
	}
	t.deliverLocked(TransmitStatusOK, payload[:len(payload)-1])
	return true
}

// transmitFinishIsoDep delivers ISO-DEP payloads verbatim (NCI 1.0, 8.3.1.2).
func transmitFinishIsoDep(t *Target, payload []byte) bool {
	t.deliverLocked(TransmitStatusOK, payload)
	return true
}

// transmitFinishNfcDep delivers NFC-DEP payloads verbatim (NCI 1.0, 8.4.1.2).
func transmitFinishNfcDep(t *Target, payload []byte) bool {
	t.deliverLocked(TransmitStatusOK, payload)
	return true
}

// presenceProbeT2 reads block 0, the cheapest command a Type 2 tag answers.
func presenceProbeT2(t *Target, done func(ok bool)) error {
	return t.transmitLocked([]byte{t2tCmdRead, 0x00},
		func(status TransmitStatus, _ []byte) {
			done(status == TransmitStatusOK)
		})
}

// presenceProbeT4 sends an empty ISO-DEP payload.
func presenceProbeT4(t *Target, done func(ok bool)) error {
	return t.transmitLocked(nil,
		func(status TransmitStatus, _ []byte) {
			done(status == TransmitStatusOK)
		})
}
