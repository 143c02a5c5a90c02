package adapter

import "github.com/dotside-studios/nci-agent/nci"

// Mode and technology coordinator: reconciles requested and effective
// operating modes and narrows the controller technology set.

// SubmitModeRequest records the desired operating mode, pushes the composed
// op-mode flags to the core, and schedules a deferred mode check. The
// confirmation arrives through Delegate.ModeChanged.
func (a *Adapter) SubmitModeRequest(mode Mode) bool {
	a.run(func() {
		op := nci.OpModeNone
		if mode&ModeReaderWriter != 0 {
			op |= nci.OpModeRW | nci.OpModePoll
		}
		if mode&ModeP2PInitiator != 0 {
			op |= nci.OpModePeer | nci.OpModePoll
		}
		if mode&ModeP2PTarget != 0 {
			op |= nci.OpModePeer | nci.OpModeListen
		}
		if mode&ModeCardEmulation != 0 {
			op |= nci.OpModeCE | nci.OpModeListen
		}

		a.desiredMode = mode
		a.modeChangePending = true
		a.core.SetOpMode(op)
		if op != nci.OpModeNone && a.powered {
			a.queue(func() { a.core.SetState(nci.StateDiscovery) })
		}
		a.scheduleModeCheckLocked()
	})
	return true
}

// CancelModeRequest abandons a pending mode request without changing the
// desired mode.
func (a *Adapter) CancelModeRequest() {
	a.run(func() {
		a.modeChangePending = false
		a.scheduleModeCheckLocked()
	})
}

// CurrentMode returns the last effective operating mode.
func (a *Adapter) CurrentMode() Mode {
	var mode Mode
	a.run(func() { mode = a.currentMode })
	return mode
}

// SupportedTechs reports the technologies the controller supports, in
// user-facing terms.
func (a *Adapter) SupportedTechs() Technology {
	techs := TechnologyUnknown
	if a.supportedTechs&nci.TechA != 0 {
		techs |= TechnologyA
	}
	if a.supportedTechs&nci.TechB != 0 {
		techs |= TechnologyB
	}
	if a.supportedTechs&nci.TechF != 0 {
		techs |= TechnologyF
	}
	return techs
}

// SetAllowedTechs restricts discovery to the intersection of the allowed
// and supported technologies. Bits outside A/B/F are left as the controller
// supports them.
func (a *Adapter) SetAllowedTechs(techs Technology) {
	a.run(func() {
		affected := nci.TechA | nci.TechB | nci.TechF

		a.activeTechs = a.supportedTechs &^ affected
		if techs&TechnologyA != 0 {
			a.activeTechs |= a.supportedTechs & nci.TechA
		}
		if techs&TechnologyB != 0 {
			a.activeTechs |= a.supportedTechs & nci.TechB
		}
		if techs&TechnologyF != 0 {
			a.activeTechs |= a.supportedTechs & nci.TechF
		}
		a.core.SetTech(a.activeTechs & a.activeTechMask)
	})
}

// ListParams enumerates the configurable adapter parameters.
func (a *Adapter) ListParams() []Param {
	return []Param{ParamLaNfcid1}
}

// GetParam reads a configurable parameter from the core.
func (a *Adapter) GetParam(id Param) (ParamValue, bool) {
	if id != ParamLaNfcid1 {
		return ParamValue{}, false
	}
	value, ok := a.core.GetParam(nci.ParamLaNfcid1)
	if !ok {
		return ParamValue{}, false
	}
	return ParamValue{NFCID1: append([]byte(nil), value.NFCID1...)}, true
}

// SetParams forwards parameter settings to the core. With reset, parameters
// not in the list revert to their defaults.
func (a *Adapter) SetParams(params []ParamSetting, reset bool) {
	var laNfcid1 *ParamValue
	for i := range params {
		if params[i].ID == ParamLaNfcid1 {
			laNfcid1 = &params[i].Value
		}
	}

	if laNfcid1 != nil {
		a.core.SetParams([]nci.Param{{
			Key:   nci.ParamLaNfcid1,
			Value: nci.ParamValue{NFCID1: append([]byte(nil), laNfcid1.NFCID1...)},
		}}, reset)
	} else if reset {
		a.core.SetParams(nil, reset)
	}
}

// scheduleModeCheckLocked defers a mode check to its own turn. At most one
// deferred check is outstanding; a direct check supersedes it.
func (a *Adapter) scheduleModeCheckLocked() {
	if a.modeCheckPending {
		return
	}
	a.modeCheckPending = true
	go a.run(func() {
		if !a.modeCheckPending {
			return
		}
		a.modeCheckLocked()
	})
}

func (a *Adapter) modeCheckLocked() {
	mode := ModeNone
	if a.core.CurrentState() > nci.StateIdle {
		mode = a.desiredMode
	}

	a.modeCheckPending = false
	if a.modeChangePending {
		if mode == a.desiredMode {
			a.modeChangePending = false
			a.currentMode = mode
			a.queue(func() { a.delegate.ModeChanged(mode, true) })
		}
	} else if a.currentMode != mode {
		a.currentMode = mode
		a.queue(func() { a.delegate.ModeChanged(mode, false) })
	}
}
