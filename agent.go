// Package main runs the NCI adapter daemon: the adapter core wired to an
// NCI core implementation, with lifecycle events broadcast on a WebSocket
// monitor feed.
package main

import (
	"encoding/hex"

	"github.com/sirupsen/logrus"

	"github.com/dotside-studios/nci-agent/adapter"
	"github.com/dotside-studios/nci-agent/config"
	"github.com/dotside-studios/nci-agent/nci"
	"github.com/dotside-studios/nci-agent/protocol"
	"github.com/dotside-studios/nci-agent/server"
)

// Agent wires the adapter core to the monitor feed.
type Agent struct {
	Logger  logrus.FieldLogger
	Adapter *adapter.Adapter
	Monitor *server.Monitor

	advertiser *server.Advertiser
	cfg        config.Config
}

// NewAgent builds the daemon on top of the given NCI core.
func NewAgent(core nci.Core, cfg config.Config, log logrus.FieldLogger) (*Agent, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	agent := &Agent{
		Logger:  log,
		Monitor: server.NewMonitor(log),
		cfg:     cfg,
	}

	a, err := adapter.New(adapter.Config{
		Core:                  core,
		Delegate:              &monitorDelegate{agent: agent},
		Log:                   log,
		PresenceCheckPeriod:   cfg.PresenceCheckPeriod.Std(),
		CEReactivationTimeout: cfg.CEReactivationTimeout.Std(),
	})
	if err != nil {
		return nil, err
	}
	agent.Adapter = a
	return agent, nil
}

// Start brings up the monitor feed and, when configured, the mDNS
// advertisement. It returns only when the listener fails; Stop does not
// close the listener.
func (a *Agent) Start() error {
	if a.cfg.Zeroconf {
		adv, err := server.NewAdvertiser(a.Logger, a.cfg.MonitorPort)
		if err != nil {
			a.Logger.Warnf("mDNS advertisement unavailable: %v", err)
		} else {
			a.advertiser = adv
		}
	}
	a.Logger.Infof("Monitor feed listening on :%d/ws", a.cfg.MonitorPort)
	return a.Monitor.ListenAndServe(a.cfg.MonitorPort)
}

// Stop tears the daemon down.
func (a *Agent) Stop() {
	if a.advertiser != nil {
		a.advertiser.Shutdown()
		a.advertiser = nil
	}
	a.Monitor.CloseAll()
	a.Adapter.Close()
}

// monitorDelegate is the service side of the adapter: it wraps detected
// objects in minimal handles and renders lifecycle notifications onto the
// monitor feed.
type monitorDelegate struct {
	agent *Agent
}

// monitorTag, monitorPeer and monitorHost are the service objects of the
// daemon. They exist to carry identity onto the feed; real NFC services
// replace them with full tag/peer/host implementations.
type monitorTag struct {
	adapter.HandleBase
	kind string
	uid  []byte
}

type monitorPeer struct {
	adapter.HandleBase
}

type monitorHost struct {
	adapter.HandleBase
}

func (d *monitorDelegate) broadcastTarget(typ protocol.EventType, t *adapter.Target, kind string, uid []byte) {
	info := &protocol.TargetInfo{
		Technology: t.Technology().String(),
		Protocol:   t.Protocol().String(),
		Kind:       kind,
	}
	if len(uid) > 0 {
		info.UID = hex.EncodeToString(uid)
	}
	d.agent.Monitor.Broadcast(protocol.Event{Type: typ, Target: info})
}

func (d *monitorDelegate) AddTagT2(t *adapter.Target, poll *adapter.ParamPollA) adapter.Tag {
	var uid []byte
	if poll != nil {
		uid = poll.NFCID1
	}
	d.broadcastTarget(protocol.EventTargetFound, t, "t2", uid)
	return &monitorTag{kind: "t2", uid: uid}
}

func (d *monitorDelegate) AddTagT4A(t *adapter.Target, poll *adapter.ParamPollA, act *adapter.ParamIsoDepPollA) adapter.Tag {
	var uid []byte
	if poll != nil {
		uid = poll.NFCID1
	}
	d.broadcastTarget(protocol.EventTargetFound, t, "t4a", uid)
	return &monitorTag{kind: "t4a", uid: uid}
}

func (d *monitorDelegate) AddTagT4B(t *adapter.Target, poll *adapter.ParamPollB, act *adapter.ParamIsoDepPollB) adapter.Tag {
	var uid []byte
	if poll != nil {
		uid = poll.NFCID0
	}
	d.broadcastTarget(protocol.EventTargetFound, t, "t4b", uid)
	return &monitorTag{kind: "t4b", uid: uid}
}

func (d *monitorDelegate) AddOtherTag(t *adapter.Target, poll *adapter.ParamPoll) adapter.Tag {
	var uid []byte
	if poll != nil {
		switch {
		case poll.A != nil:
			uid = poll.A.NFCID1
		case poll.B != nil:
			uid = poll.B.NFCID0
		}
	}
	d.broadcastTarget(protocol.EventTargetFound, t, "other", uid)
	return &monitorTag{kind: "other", uid: uid}
}

func (d *monitorDelegate) AddPeerInitiatorA(t *adapter.Target, poll *adapter.ParamPollA, act *adapter.ParamNfcDepInitiator) adapter.Peer {
	d.broadcastTarget(protocol.EventTargetFound, t, "peer", nil)
	return &monitorPeer{}
}

func (d *monitorDelegate) AddPeerInitiatorF(t *adapter.Target, poll *adapter.ParamPollF, act *adapter.ParamNfcDepInitiator) adapter.Peer {
	d.broadcastTarget(protocol.EventTargetFound, t, "peer", nil)
	return &monitorPeer{}
}

func (d *monitorDelegate) broadcastInitiator(typ protocol.EventType, i *adapter.Initiator, kind string) {
	d.agent.Monitor.Broadcast(protocol.Event{Type: typ, Initiator: &protocol.InitiatorInfo{
		Technology: i.Technology().String(),
		Kind:       kind,
	}})
}

func (d *monitorDelegate) AddPeerTargetA(i *adapter.Initiator, act *adapter.ParamNfcDepTarget) adapter.Peer {
	d.broadcastInitiator(protocol.EventInitiatorFound, i, "peer")
	return &monitorPeer{}
}

func (d *monitorDelegate) AddPeerTargetF(i *adapter.Initiator, listen *adapter.ParamListenF, act *adapter.ParamNfcDepTarget) adapter.Peer {
	d.broadcastInitiator(protocol.EventInitiatorFound, i, "peer")
	return &monitorPeer{}
}

func (d *monitorDelegate) AddHost(i *adapter.Initiator) adapter.Host {
	d.broadcastInitiator(protocol.EventInitiatorFound, i, "host")
	return &monitorHost{}
}

func (d *monitorDelegate) TargetGone(t *adapter.Target) {
	d.broadcastTarget(protocol.EventTargetGone, t, "", nil)
}

func (d *monitorDelegate) InitiatorGone(i *adapter.Initiator) {
	d.broadcastInitiator(protocol.EventInitiatorGone, i, "")
}

func (d *monitorDelegate) TargetReactivated(t *adapter.Target) {
	d.broadcastTarget(protocol.EventTargetReactivated, t, "", nil)
}

func (d *monitorDelegate) InitiatorReactivated(i *adapter.Initiator) {
	d.broadcastInitiator(protocol.EventInitiatorReactivated, i, "")
}

func (d *monitorDelegate) ModeChanged(mode adapter.Mode, requested bool) {
	d.agent.Monitor.Broadcast(protocol.Event{
		Type: protocol.EventModeChanged,
		Mode: &protocol.ModeInfo{Modes: mode.Names(), Requested: requested},
	})
}

func (d *monitorDelegate) ParamChanged(id adapter.Param) {
	name := "unknown"
	if id == adapter.ParamLaNfcid1 {
		name = "LA_NFCID1"
	}
	d.agent.Monitor.Broadcast(protocol.Event{
		Type:  protocol.EventParamChanged,
		Param: name,
	})
}
