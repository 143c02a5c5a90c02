package adapter

import "sync"

// Handle is implemented by service-owned objects the adapter keeps weak
// references to (tags, peers, hosts). The adapter registers a release hook
// through OnRelease; when the service finalizes the object it runs the hook,
// and the adapter's slot clears itself. The returned cancel func unregisters
// the hook without firing it.
type Handle interface {
	OnRelease(fn func()) (cancel func())
}

// Tag is a service-owned tag object.
type Tag interface {
	Handle
}

// Peer is a service-owned NFC-DEP peer object.
type Peer interface {
	Handle
}

// Host is a service-owned card-emulation host object.
type Host interface {
	Handle
}

// Delegate is the NFC service side of the adapter: factories for typed
// objects plus lifecycle notifications.
//
// Factory methods run with the adapter serialized and must not call back
// into the adapter or its targets synchronously; a factory may return nil to
// decline an object. Notification methods run after the adapter has finished
// the triggering event and may call adapter methods freely.
type Delegate interface {
	// AddTagT2 wraps a Type 2 tag reached over the frame interface.
	AddTagT2(t *Target, poll *ParamPollA) Tag

	// AddTagT4A wraps an ISO-DEP Type 4A tag.
	AddTagT4A(t *Target, poll *ParamPollA, act *ParamIsoDepPollA) Tag

	// AddTagT4B wraps an ISO-DEP Type 4B tag.
	AddTagT4B(t *Target, poll *ParamPollB, act *ParamIsoDepPollB) Tag

	// AddOtherTag wraps a polled target no specific tag type claims.
	AddOtherTag(t *Target, poll *ParamPoll) Tag

	// AddPeerInitiatorA and AddPeerInitiatorF wrap poll-side NFC-DEP
	// peers on technology A and F respectively.
	AddPeerInitiatorA(t *Target, poll *ParamPollA, act *ParamNfcDepInitiator) Peer
	AddPeerInitiatorF(t *Target, poll *ParamPollF, act *ParamNfcDepInitiator) Peer

	// AddPeerTargetA and AddPeerTargetF wrap listen-side NFC-DEP peers.
	AddPeerTargetA(i *Initiator, act *ParamNfcDepTarget) Peer
	AddPeerTargetF(i *Initiator, listen *ParamListenF, act *ParamNfcDepTarget) Peer

	// AddHost wraps a card-emulation host behind a listen-side ISO-DEP
	// activation.
	AddHost(i *Initiator) Host

	// TargetGone and InitiatorGone fire exactly once per dropped object.
	TargetGone(t *Target)
	InitiatorGone(i *Initiator)

	// TargetReactivated and InitiatorReactivated fire when a lost link to
	// the same device has been re-established.
	TargetReactivated(t *Target)
	InitiatorReactivated(i *Initiator)

	// ModeChanged reports the effective operating mode. requested is true
	// when the change confirms a submitted mode request, false when the
	// mode drifted spontaneously.
	ModeChanged(mode Mode, requested bool)

	// ParamChanged reports a controller-side parameter change.
	ParamChanged(id Param)
}

// HandleBase is a ready-made Handle implementation for service objects.
// Embed it and call Release when the object is finalized.
type HandleBase struct {
	mu       sync.Mutex
	hooks    map[int]func()
	nextHook int
	released bool
}

// OnRelease registers a release hook. If the object is already released the
// hook fires immediately.
func (h *HandleBase) OnRelease(fn func()) (cancel func()) {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		fn()
		return func() {}
	}
	if h.hooks == nil {
		h.hooks = make(map[int]func())
	}
	id := h.nextHook
	h.nextHook++
	h.hooks[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.hooks, id)
		h.mu.Unlock()
	}
}

// Release fires the registered hooks once and marks the object released.
func (h *HandleBase) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// handleSlot is a weak reference to a service-owned object. The slot clears
// itself when the service releases the object.
type handleSlot struct {
	handle Handle
	cancel func()
}

// set replaces the slot contents, moving the release hook to the new handle.
// Must be called with the adapter lock held.
func (s *handleSlot) set(a *Adapter, h Handle) Handle {
	if s.handle == h {
		return h
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.handle = h
	if h != nil {
		slot := s
		s.cancel = h.OnRelease(func() {
			a.run(func() {
				if slot.handle == h {
					slot.handle = nil
					slot.cancel = nil
				}
			})
		})
	}
	return h
}

func (s *handleSlot) clear(a *Adapter) {
	s.set(a, nil)
}
