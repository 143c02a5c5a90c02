package adapter

import "github.com/dotside-studios/nci-agent/nci"

// Initiator is the listen-side session with a remote reader or peer that
// activated us. The adapter owns it until the link is lost for good; the
// service reaches it through the Delegate peer-target and host factories.
type Initiator struct {
	a          *Adapter
	technology Technology
	detached   bool
}

// newInitiator builds the listen-side session for an activation, or returns
// nil for poll-side modes. Called with the adapter lock held.
func newInitiator(a *Adapter, ntf *nci.IntfActivationNtf) *Initiator {
	switch ntf.Mode {
	case nci.ModePassiveListenA, nci.ModeActiveListenA:
		return &Initiator{a: a, technology: TechnologyA}
	case nci.ModePassiveListenB:
		return &Initiator{a: a, technology: TechnologyB}
	case nci.ModePassiveListenF, nci.ModeActiveListenF:
		return &Initiator{a: a, technology: TechnologyF}
	case nci.ModePassiveListen15693:
		return &Initiator{a: a, technology: TechnologyUnknown}
	}
	return nil
}

// Technology returns the RF technology the remote initiator used.
func (i *Initiator) Technology() Technology { return i.technology }

// Deactivate asks the adapter to drop this initiator and resume discovery.
func (i *Initiator) Deactivate() {
	i.a.DeactivateInitiator(i)
}
