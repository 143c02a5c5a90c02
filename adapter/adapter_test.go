package adapter

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dotside-studios/nci-agent/nci"
)

// testDelegate records factory calls and lifecycle notifications.
type testDelegate struct {
	mu     sync.Mutex
	events []string

	declineTags  bool
	declinePeers bool
	declineHosts bool

	lastTarget    *Target
	lastInitiator *Initiator
}

type testHandle struct {
	HandleBase
	kind string
}

func (d *testDelegate) record(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

// Events returns a copy of the recorded event names.
func (d *testDelegate) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *testDelegate) Count(event string) int {
	n := 0
	for _, e := range d.Events() {
		if e == event {
			n++
		}
	}
	return n
}

func (d *testDelegate) addTag(t *Target, kind string) Tag {
	d.mu.Lock()
	d.lastTarget = t
	d.mu.Unlock()
	if d.declineTags {
		return nil
	}
	d.record("tag:" + kind)
	return &testHandle{kind: kind}
}

func (d *testDelegate) AddTagT2(t *Target, poll *ParamPollA) Tag {
	return d.addTag(t, "t2")
}

func (d *testDelegate) AddTagT4A(t *Target, poll *ParamPollA, act *ParamIsoDepPollA) Tag {
	return d.addTag(t, "t4a")
}

func (d *testDelegate) AddTagT4B(t *Target, poll *ParamPollB, act *ParamIsoDepPollB) Tag {
	return d.addTag(t, "t4b")
}

func (d *testDelegate) AddOtherTag(t *Target, poll *ParamPoll) Tag {
	return d.addTag(t, "other")
}

func (d *testDelegate) AddPeerInitiatorA(t *Target, poll *ParamPollA, act *ParamNfcDepInitiator) Peer {
	d.mu.Lock()
	d.lastTarget = t
	d.mu.Unlock()
	if d.declinePeers {
		return nil
	}
	d.record("peer:initiator-a")
	return &testHandle{kind: "peer"}
}

func (d *testDelegate) AddPeerInitiatorF(t *Target, poll *ParamPollF, act *ParamNfcDepInitiator) Peer {
	d.mu.Lock()
	d.lastTarget = t
	d.mu.Unlock()
	if d.declinePeers {
		return nil
	}
	d.record("peer:initiator-f")
	return &testHandle{kind: "peer"}
}

func (d *testDelegate) AddPeerTargetA(i *Initiator, act *ParamNfcDepTarget) Peer {
	d.mu.Lock()
	d.lastInitiator = i
	d.mu.Unlock()
	if d.declinePeers {
		return nil
	}
	d.record("peer:target-a")
	return &testHandle{kind: "peer"}
}

func (d *testDelegate) AddPeerTargetF(i *Initiator, listen *ParamListenF, act *ParamNfcDepTarget) Peer {
	d.mu.Lock()
	d.lastInitiator = i
	d.mu.Unlock()
	if d.declinePeers {
		return nil
	}
	d.record("peer:target-f")
	return &testHandle{kind: "peer"}
}

func (d *testDelegate) AddHost(i *Initiator) Host {
	d.mu.Lock()
	d.lastInitiator = i
	d.mu.Unlock()
	if d.declineHosts {
		return nil
	}
	d.record("host")
	return &testHandle{kind: "host"}
}

func (d *testDelegate) TargetGone(t *Target)           { d.record("target-gone") }
func (d *testDelegate) InitiatorGone(i *Initiator)     { d.record("initiator-gone") }
func (d *testDelegate) TargetReactivated(t *Target)    { d.record("target-reactivated") }
func (d *testDelegate) InitiatorReactivated(i *Initiator) {
	d.record("initiator-reactivated")
}

func (d *testDelegate) ModeChanged(mode Mode, requested bool) {
	if requested {
		d.record("mode-confirmed")
	} else {
		d.record("mode-spontaneous")
	}
}

func (d *testDelegate) ParamChanged(id Param) { d.record("param-changed") }

func (d *testDelegate) Target() *Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTarget
}

func (d *testDelegate) Initiator() *Initiator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastInitiator
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	log.SetOutput(discardWriter{})
	return log
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestAdapter(t *testing.T, cfg Config) (*Adapter, *nci.MockCore, *testDelegate) {
	t.Helper()
	core := nci.NewMockCore()
	delegate := &testDelegate{}
	cfg.Core = core
	cfg.Delegate = delegate
	cfg.Log = testLogger()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(a.Close)
	return a, core, delegate
}

func snapshot(a *Adapter) (internalState, bool, bool) {
	var state internalState
	var hasTarget, hasInitiator bool
	a.run(func() {
		state = a.state
		hasTarget = a.target != nil
		hasInitiator = a.initiator != nil
	})
	return state, hasTarget, hasInitiator
}

// t2tActivation builds a FRAME/T2T/passive-poll-A activation.
func t2tActivation(nfcid1 []byte) *nci.IntfActivationNtf {
	return &nci.IntfActivationNtf{
		RfIntf:         nci.RfInterfaceFrame,
		Protocol:       nci.ProtocolT2T,
		Mode:           nci.ModePassivePollA,
		ModeParamBytes: append([]byte{0x44, 0x00}, nfcid1...),
		ModeParam: &nci.ModeParam{PollA: &nci.PollA{
			SensRes:   [2]byte{0x44, 0x00},
			NFCID1:    nfcid1,
			SelResLen: 1,
			SelRes:    0x00,
		}},
	}
}

// t4aActivation builds an ISO-DEP/passive-poll-A activation.
func t4aActivation(nfcid1 []byte) *nci.IntfActivationNtf {
	return &nci.IntfActivationNtf{
		RfIntf:         nci.RfInterfaceIsoDep,
		Protocol:       nci.ProtocolIsoDep,
		Mode:           nci.ModePassivePollA,
		ModeParamBytes: append([]byte{0x44, 0x00}, nfcid1...),
		ModeParam: &nci.ModeParam{PollA: &nci.PollA{
			SensRes:   [2]byte{0x44, 0x00},
			NFCID1:    nfcid1,
			SelResLen: 1,
			SelRes:    0x20,
		}},
		ActivationParam: &nci.ActivationParam{IsoDepPollA: &nci.IsoDepPollA{
			FSC: 256,
			T0:  0x78,
		}},
	}
}

// ceActivation builds a listen-side ISO-DEP activation (card emulation).
func ceActivation() *nci.IntfActivationNtf {
	return &nci.IntfActivationNtf{
		RfIntf:               nci.RfInterfaceIsoDep,
		Protocol:             nci.ProtocolIsoDep,
		Mode:                 nci.ModePassiveListenA,
		ActivationParamBytes: []byte{0xd0},
	}
}

// peerListenActivation builds a listen-side NFC-DEP activation.
func peerListenActivation() *nci.IntfActivationNtf {
	return &nci.IntfActivationNtf{
		RfIntf:   nci.RfInterfaceNfcDep,
		Protocol: nci.ProtocolNfcDep,
		Mode:     nci.ModePassiveListenF,
		ModeParam: &nci.ModeParam{ListenF: &nci.ListenF{
			NFCID2: []byte{0x01, 0xfe, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		}},
		ActivationParam: &nci.ActivationParam{NfcDepListen: &nci.NfcDepListen{
			G: []byte{0x46, 0x66, 0x6d},
		}},
	}
}

func TestT2TActivation(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(t2tActivation([]byte{0x04, 0xa1, 0xb2, 0xc3, 0xd4, 0xe5, 0xf6}))

	state, hasTarget, hasInitiator := snapshot(a)
	if state != stateHaveTarget {
		t.Errorf("state = %s, want HAVE_TARGET", state)
	}
	if !hasTarget || hasInitiator {
		t.Errorf("hasTarget = %v, hasInitiator = %v", hasTarget, hasInitiator)
	}
	if delegate.Count("tag:t2") != 1 {
		t.Errorf("events = %v, want one tag:t2", delegate.Events())
	}

	// Presence checks must be armed for a polled non-NFC-DEP target.
	armed := false
	a.run(func() { armed = a.presenceTimer != nil })
	if !armed {
		t.Error("presence scheduler not armed")
	}
}

func TestActivationSupersedesTarget(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(t2tActivation([]byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}))
	first := delegate.Target()
	core.FireIntfActivated(t2tActivation([]byte{0x04, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}))

	if delegate.Count("target-gone") != 1 {
		t.Errorf("events = %v, want one target-gone", delegate.Events())
	}
	if delegate.Count("tag:t2") != 2 {
		t.Errorf("events = %v, want two tag:t2", delegate.Events())
	}
	if delegate.Target() == first {
		t.Error("second activation did not produce a new target")
	}
	if state, hasTarget, _ := snapshot(a); state != stateHaveTarget || !hasTarget {
		t.Errorf("state = %s, hasTarget = %v", state, hasTarget)
	}
}

func TestUnclassifiableActivationReturnsToIdle(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})
	delegate.declineTags = true
	delegate.declinePeers = true
	delegate.declineHosts = true

	// A listen activation nothing claims: no peer, no host.
	core.FireIntfActivated(peerListenActivation())

	if state, hasTarget, hasInitiator := snapshot(a); state != stateIdle || hasTarget || hasInitiator {
		t.Errorf("state = %s, hasTarget = %v, hasInitiator = %v", state, hasTarget, hasInitiator)
	}
	found := false
	for _, call := range core.CallLog {
		if call == "SetState(IDLE)" {
			found = true
		}
	}
	if !found {
		t.Errorf("core calls = %v, want SetState(IDLE)", core.CallLog)
	}
}

func TestTargetReactivationRandomUID(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(t4aActivation([]byte{0x08, 0x00, 0x00, 0x00}))
	target := delegate.Target()
	if target == nil {
		t.Fatal("no target detected")
	}

	if !a.Reactivate(target) {
		t.Fatal("Reactivate refused")
	}
	if state, _, _ := snapshot(a); state != stateReactivatingTarget {
		t.Fatalf("state = %s, want REACTIVATING_TARGET", state)
	}

	// The same tag reappears with a regenerated random UID.
	core.FireIntfActivated(t4aActivation([]byte{0x08, 0x11, 0x22, 0x33}))

	if delegate.Count("target-reactivated") != 1 {
		t.Errorf("events = %v, want one target-reactivated", delegate.Events())
	}
	if delegate.Count("target-gone") != 0 {
		t.Errorf("events = %v, want no target-gone", delegate.Events())
	}
	if state, _, _ := snapshot(a); state != stateHaveTarget {
		t.Errorf("state = %s, want HAVE_TARGET", state)
	}
}

func TestTargetReactivationMismatchDrops(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(t4aActivation([]byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}))
	if !a.Reactivate(delegate.Target()) {
		t.Fatal("Reactivate refused")
	}

	// A different tag arrives instead.
	core.FireIntfActivated(t4aActivation([]byte{0x04, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}))

	if delegate.Count("target-gone") != 1 {
		t.Errorf("events = %v, want one target-gone", delegate.Events())
	}
	if delegate.Count("tag:t4a") != 2 {
		t.Errorf("events = %v, want a fresh tag", delegate.Events())
	}
	if state, _, _ := snapshot(a); state != stateHaveTarget {
		t.Errorf("state = %s, want HAVE_TARGET", state)
	}
}

func TestReactivateRefusedOutsideActiveState(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(t4aActivation([]byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}))
	target := delegate.Target()

	core.FireNextState(nci.StateListenSleep)
	if a.Reactivate(target) {
		t.Error("Reactivate succeeded while the controller is leaving POLL_ACTIVE")
	}
}

func TestCEReactivationBeforeTimeout(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{CEReactivationTimeout: 300 * time.Millisecond})

	core.FireIntfActivated(ceActivation())
	if state, _, hasInitiator := snapshot(a); state != stateHaveInitiator || !hasInitiator {
		t.Fatalf("state = %s, hasInitiator = %v", state, hasInitiator)
	}
	if delegate.Count("host") != 1 {
		t.Fatalf("events = %v, want one host", delegate.Events())
	}

	// Field loss: the reader dropped us.
	core.FireNextState(nci.StateIdle)
	if state, _, _ := snapshot(a); state != stateReactivatingCE {
		t.Fatalf("state = %s, want REACTIVATING_CE", state)
	}
	// Tech clamped to listen-A while waiting.
	if core.ActiveTech() != nci.TechAListen {
		t.Errorf("active tech = 0x%04x, want listen-A lock", uint16(core.ActiveTech()))
	}

	// The same reader comes back in time.
	time.Sleep(100 * time.Millisecond)
	core.FireIntfActivated(ceActivation())

	if state, _, _ := snapshot(a); state != stateReactivatedCE {
		t.Errorf("state = %s, want REACTIVATED_CE", state)
	}
	if delegate.Count("initiator-reactivated") != 1 {
		t.Errorf("events = %v, want one initiator-reactivated", delegate.Events())
	}
	if delegate.Count("initiator-gone") != 0 {
		t.Errorf("events = %v, want no initiator-gone", delegate.Events())
	}
}

func TestCEReactivationTimeout(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{CEReactivationTimeout: 100 * time.Millisecond})

	core.FireIntfActivated(ceActivation())
	core.FireNextState(nci.StateIdle)
	if state, _, _ := snapshot(a); state != stateReactivatingCE {
		t.Fatalf("state = %s, want REACTIVATING_CE", state)
	}

	time.Sleep(250 * time.Millisecond)

	if state, _, hasInitiator := snapshot(a); state != stateIdle || hasInitiator {
		t.Errorf("state = %s, hasInitiator = %v, want IDLE without initiator", state, hasInitiator)
	}
	if delegate.Count("initiator-gone") != 1 {
		t.Errorf("events = %v, want one initiator-gone", delegate.Events())
	}
	// Tech mask reset on drop.
	if core.ActiveTech() != (nci.TechA | nci.TechB | nci.TechF) {
		t.Errorf("active tech = 0x%04x, want full set restored", uint16(core.ActiveTech()))
	}
}

func TestCEMatchingActivationCancelsTimer(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{CEReactivationTimeout: 100 * time.Millisecond})

	core.FireIntfActivated(ceActivation())
	core.FireNextState(nci.StateIdle)
	core.FireIntfActivated(ceActivation())

	// Long after the timeout would have fired, the initiator must survive.
	time.Sleep(250 * time.Millisecond)
	if state, _, hasInitiator := snapshot(a); state != stateReactivatedCE || !hasInitiator {
		t.Errorf("state = %s, hasInitiator = %v", state, hasInitiator)
	}
	if delegate.Count("initiator-gone") != 0 {
		t.Errorf("events = %v, want no initiator-gone", delegate.Events())
	}
}

func TestCESpontaneousReactivation(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(ceActivation())
	// A matching activation in HAVE_INITIATOR with a bound host counts as a
	// spontaneous reactivation.
	core.FireIntfActivated(ceActivation())

	if state, _, _ := snapshot(a); state != stateReactivatedCE {
		t.Errorf("state = %s, want REACTIVATED_CE", state)
	}
	if delegate.Count("initiator-reactivated") != 1 {
		t.Errorf("events = %v, want one initiator-reactivated", delegate.Events())
	}
}

func TestPeerTargetKeptWithoutHost(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(peerListenActivation())
	if delegate.Count("peer:target-f") != 1 {
		t.Fatalf("events = %v, want one peer:target-f", delegate.Events())
	}

	// A matching activation without a bound host keeps the initiator and
	// stays in HAVE_INITIATOR.
	core.FireIntfActivated(peerListenActivation())
	if state, _, hasInitiator := snapshot(a); state != stateHaveInitiator || !hasInitiator {
		t.Errorf("state = %s, hasInitiator = %v", state, hasInitiator)
	}
	if delegate.Count("initiator-reactivated") != 0 {
		t.Errorf("events = %v, want no initiator-reactivated", delegate.Events())
	}

	// Deactivation without a host drops everything.
	core.FireNextState(nci.StateIdle)
	if delegate.Count("initiator-gone") != 1 {
		t.Errorf("events = %v, want one initiator-gone", delegate.Events())
	}
	if state, _, hasInitiator := snapshot(a); state != stateIdle || hasInitiator {
		t.Errorf("state = %s, hasInitiator = %v", state, hasInitiator)
	}
}

func TestUnknownNextStateResets(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(t2tActivation([]byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}))
	core.FireNextState(nci.State(99))

	if state, hasTarget, _ := snapshot(a); state != stateIdle || hasTarget {
		t.Errorf("state = %s, hasTarget = %v, want clean IDLE", state, hasTarget)
	}
	if delegate.Count("target-gone") != 1 {
		t.Errorf("events = %v, want one target-gone", delegate.Events())
	}
}

func TestObjectCardinality(t *testing.T) {
	a, core, _ := newTestAdapter(t, Config{})

	activations := []*nci.IntfActivationNtf{
		t2tActivation([]byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}),
		ceActivation(),
		peerListenActivation(),
		t4aActivation([]byte{0x08, 0x00, 0x00, 0x00}),
	}
	for _, ntf := range activations {
		core.FireIntfActivated(ntf)
		_, hasTarget, hasInitiator := snapshot(a)
		if hasTarget && hasInitiator {
			t.Fatalf("both target and initiator held after %s activation", ntf.Mode)
		}
	}
}

func TestDeactivateTargetResumesDiscovery(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(t2tActivation([]byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}))
	target := delegate.Target()

	a.DeactivateTarget(target)

	if delegate.Count("target-gone") != 1 {
		t.Errorf("events = %v, want one target-gone", delegate.Events())
	}
	if core.CurrentState() != nci.StateDiscovery {
		t.Errorf("core state = %s, want DISCOVERY", core.CurrentState())
	}
	if state, hasTarget, _ := snapshot(a); state != stateIdle || hasTarget {
		t.Errorf("state = %s, hasTarget = %v after deactivation", state, hasTarget)
	}
}

func TestIdleRecoveryKick(t *testing.T) {
	a, core, _ := newTestAdapter(t, Config{})

	// Both states settle at IDLE while enabled, powered, and requested:
	// the adapter kicks the controller back to discovery.
	core.SetStates(nci.StateIdle, nci.StateIdle)
	if core.CurrentState() != nci.StateDiscovery {
		t.Errorf("core state = %s, want DISCOVERY", core.CurrentState())
	}

	// Not while unpowered.
	a.SetPowered(false)
	core.SetStates(nci.StateIdle, nci.StateIdle)
	if core.CurrentState() != nci.StateIdle {
		t.Errorf("core state = %s, want IDLE while unpowered", core.CurrentState())
	}
}

func TestHandleReleaseClearsSlot(t *testing.T) {
	a, core, delegate := newTestAdapter(t, Config{})

	core.FireIntfActivated(ceActivation())

	// The service finalizes the host; the weak slot self-nulls, so the next
	// deactivation is no longer treated as a CE reactivation.
	var host *testHandle
	a.run(func() { host = a.host.handle.(*testHandle) })
	host.Release()

	core.FireNextState(nci.StateIdle)
	if state, _, _ := snapshot(a); state != stateIdle {
		t.Errorf("state = %s, want IDLE after deactivation without host", state)
	}
	if delegate.Count("initiator-gone") != 1 {
		t.Errorf("events = %v, want one initiator-gone", delegate.Events())
	}
}
