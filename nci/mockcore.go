package nci

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockCore is a scripted in-memory implementation of Core for tests and for
// running the agent without controller hardware.
//
// Tests drive it by calling the Fire* methods and inspecting CallLog and the
// recorded state. Event handlers are invoked synchronously from the Fire*
// caller, which mimics a transport delivering events on its own goroutine.
//
// Example:
//
//	core := NewMockCore()
//	core.FireIntfActivated(&IntfActivationNtf{...})
type MockCore struct {
	// SupportedTechs is returned by Tech().
	SupportedTechs Tech

	// SendError, if set, will be returned by SendDataMsg().
	SendError error

	// Params holds the configurable parameter values.
	Params map[ParamKey]ParamValue

	// CallLog tracks state-changing calls for verification in tests.
	CallLog []string

	current State
	next    State
	opMode  OpMode
	tech    Tech

	sent map[string]func(ok bool)

	currentSubs map[int]func()
	nextSubs    map[int]func()
	actSubs     map[int]func(*IntfActivationNtf)
	paramSubs   map[int]func(ParamKey)
	dataSubs    map[int]func(uint8, []byte)
	nextSubID   int

	mu sync.Mutex
}

// NewMockCore creates a MockCore supporting technologies A, B and F, sitting
// in RFST_IDLE.
func NewMockCore() *MockCore {
	return &MockCore{
		SupportedTechs: TechA | TechB | TechF,
		Params:         make(map[ParamKey]ParamValue),
		sent:           make(map[string]func(bool)),
		currentSubs:    make(map[int]func()),
		nextSubs:       make(map[int]func()),
		actSubs:        make(map[int]func(*IntfActivationNtf)),
		paramSubs:      make(map[int]func(ParamKey)),
		dataSubs:       make(map[int]func(uint8, []byte)),
	}
}

func (m *MockCore) log(format string, args ...any) {
	m.CallLog = append(m.CallLog, fmt.Sprintf(format, args...))
}

// CurrentState returns the simulated current RF state.
func (m *MockCore) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// NextState returns the simulated next RF state.
func (m *MockCore) NextState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// SetState records the requested state and immediately completes the
// transition, firing both state change events.
func (m *MockCore) SetState(s State) {
	m.mu.Lock()
	m.log("SetState(%s)", s)
	m.next = s
	m.current = s
	nextSubs := handlers(m.nextSubs)
	curSubs := handlers(m.currentSubs)
	m.mu.Unlock()

	for _, fn := range nextSubs {
		fn()
	}
	for _, fn := range curSubs {
		fn()
	}
}

// SetOpMode records the requested operating mode.
func (m *MockCore) SetOpMode(op OpMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SetOpMode(0x%02x)", uint8(op))
	m.opMode = op
}

// OpMode returns the last operating mode set.
func (m *MockCore) OpMode() OpMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opMode
}

// Tech returns the supported technology mask.
func (m *MockCore) Tech() Tech {
	return m.SupportedTechs
}

// SetTech records the active technology mask.
func (m *MockCore) SetTech(t Tech) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SetTech(0x%04x)", uint16(t))
	m.tech = t
}

// ActiveTech returns the last technology mask set.
func (m *MockCore) ActiveTech() Tech {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tech
}

// GetParam reads a simulated parameter value.
func (m *MockCore) GetParam(key ParamKey) (ParamValue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Params[key]
	return v, ok
}

// SetParams writes simulated parameter values.
func (m *MockCore) SetParams(params []Param, reset bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SetParams(%d params, reset=%v)", len(params), reset)
	if reset {
		m.Params = make(map[ParamKey]ParamValue)
	}
	for _, p := range params {
		m.Params[p.Key] = p.Value
	}
}

// SendDataMsg queues a simulated data message. The sent callback fires when
// the test calls CompleteSend.
func (m *MockCore) SendDataMsg(connID uint8, payload []byte, sent func(ok bool)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SendDataMsg(cid=%d, %d bytes)", connID, len(payload))
	if m.SendError != nil {
		return "", m.SendError
	}
	id := uuid.NewString()
	m.sent[id] = sent
	return id, nil
}

// Cancel drops a queued message; its sent callback never fires.
func (m *MockCore) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("Cancel(%s)", id)
	delete(m.sent, id)
}

// PendingSends returns the ids of messages whose sent callback has not fired.
func (m *MockCore) PendingSends() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sent))
	for id := range m.sent {
		ids = append(ids, id)
	}
	return ids
}

// CompleteSend fires the sent callback of a queued message.
func (m *MockCore) CompleteSend(id string, ok bool) {
	m.mu.Lock()
	fn := m.sent[id]
	delete(m.sent, id)
	m.mu.Unlock()
	if fn != nil {
		fn(ok)
	}
}

// CompleteAllSends fires the sent callbacks of every queued message.
func (m *MockCore) CompleteAllSends(ok bool) {
	for _, id := range m.PendingSends() {
		m.CompleteSend(id, ok)
	}
}

// SetStates moves the simulated state machine without going through SetState,
// firing the next-state event first, then the current-state event, the order
// a real core reports transitions in.
func (m *MockCore) SetStates(current, next State) {
	m.mu.Lock()
	m.next = next
	m.current = current
	nextSubs := handlers(m.nextSubs)
	curSubs := handlers(m.currentSubs)
	m.mu.Unlock()

	for _, fn := range nextSubs {
		fn()
	}
	for _, fn := range curSubs {
		fn()
	}
}

// FireNextState sets the next state and fires the next-state event only.
func (m *MockCore) FireNextState(next State) {
	m.mu.Lock()
	m.next = next
	subs := handlers(m.nextSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// FireIntfActivated delivers an interface activation notification and moves
// the state machine to the matching active state.
func (m *MockCore) FireIntfActivated(ntf *IntfActivationNtf) {
	m.mu.Lock()
	if ntf.Mode.Poll() {
		m.current = StatePollActive
		m.next = StatePollActive
	} else {
		m.current = StateListenActive
		m.next = StateListenActive
	}
	subs := handlers(m.actSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(ntf)
	}
}

// FireParamChanged delivers a parameter change notification.
func (m *MockCore) FireParamChanged(key ParamKey) {
	m.mu.Lock()
	subs := handlers(m.paramSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(key)
	}
}

// FireDataPacket delivers an inbound data packet.
func (m *MockCore) FireDataPacket(connID uint8, payload []byte) {
	m.mu.Lock()
	subs := handlers(m.dataSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(connID, payload)
	}
}

func handlers[T any](m map[int]T) []T {
	out := make([]T, 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

type mockSub struct {
	remove func()
	once   sync.Once
}

func (s *mockSub) Close() { s.once.Do(s.remove) }

func (m *MockCore) subscribe(register func(id int)) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	register(id)
	return &mockSub{remove: func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.currentSubs, id)
		delete(m.nextSubs, id)
		delete(m.actSubs, id)
		delete(m.paramSubs, id)
		delete(m.dataSubs, id)
	}}
}

// OnCurrentState registers a current-state change handler.
func (m *MockCore) OnCurrentState(fn func()) Subscription {
	return m.subscribe(func(id int) { m.currentSubs[id] = fn })
}

// OnNextState registers a next-state change handler.
func (m *MockCore) OnNextState(fn func()) Subscription {
	return m.subscribe(func(id int) { m.nextSubs[id] = fn })
}

// OnIntfActivated registers an activation handler.
func (m *MockCore) OnIntfActivated(fn func(*IntfActivationNtf)) Subscription {
	return m.subscribe(func(id int) { m.actSubs[id] = fn })
}

// OnParamChanged registers a parameter change handler.
func (m *MockCore) OnParamChanged(fn func(ParamKey)) Subscription {
	return m.subscribe(func(id int) { m.paramSubs[id] = fn })
}

// OnDataPacket registers an inbound data packet handler.
func (m *MockCore) OnDataPacket(fn func(uint8, []byte)) Subscription {
	return m.subscribe(func(id int) { m.dataSubs[id] = fn })
}
