package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient for controller tests. It keeps an in-memory
// state table, records every service call, and applies climate service calls
// to the target entity so tests observe realistic state echoes.
type MockClient struct {
	states   map[string]*State
	statesMu sync.RWMutex

	subscribers map[string][]subscriberEntry
	nextSubID   int
	subsMu      sync.Mutex

	connected bool
	connMu    sync.RWMutex

	serviceCalls []ServiceCall
	failing      map[string]error
	callsMu      sync.Mutex
}

// ServiceCall records one CallService invocation.
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		states:      make(map[string]*State),
		subscribers: make(map[string][]subscriberEntry),
		failing:     make(map[string]error),
	}
}

// Connect marks the mock connected.
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect marks the mock disconnected and drops subscriptions.
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subscribers = make(map[string][]subscriberEntry)
	m.subsMu.Unlock()
	return nil
}

// IsConnected reports the mock connection flag.
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState returns a previously set state.
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

// GetAllStates returns every state in the table.
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

// FailService makes subsequent calls to domain.service return err.
// Pass nil to clear the failure.
func (m *MockClient) FailService(domain, service string, err error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	key := domain + "." + service
	if err == nil {
		delete(m.failing, key)
		return
	}
	m.failing[key] = err
}

// CallService records the call and applies climate service semantics to the
// in-memory state so subscribers see the resulting state change.
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	err := m.failing[domain+"."+service]
	m.callsMu.Unlock()
	if err != nil {
		return err
	}

	if entityID, ok := data["entity_id"].(string); ok {
		m.applyServiceCall(entityID, domain, service, data)
	}
	return nil
}

func (m *MockClient) applyServiceCall(entityID, domain, service string, data map[string]interface{}) {
	m.statesMu.Lock()
	oldState := m.states[entityID]

	stateValue := ""
	attributes := make(map[string]interface{})
	if oldState != nil {
		stateValue = oldState.State
		for k, v := range oldState.Attributes {
			attributes[k] = v
		}
	}

	switch domain {
	case "climate":
		switch service {
		case "set_hvac_mode":
			if mode, ok := data["hvac_mode"].(string); ok {
				stateValue = mode
			}
		case "turn_off":
			stateValue = "off"
		case "turn_on":
			// A real device resumes its previous mode; the mock leaves the
			// state for a following set_hvac_mode to settle.
		case "set_temperature":
			attributes["temperature"] = data["temperature"]
		case "set_fan_mode":
			attributes["fan_mode"] = data["fan_mode"]
		case "set_swing_mode":
			attributes["swing_mode"] = data["swing_mode"]
		case "set_swing_horizontal_mode":
			attributes["swing_horizontal_mode"] = data["swing_horizontal_mode"]
		}
	case "switch", "humidifier", "light":
		switch service {
		case "turn_on":
			stateValue = "on"
		case "turn_off":
			stateValue = "off"
		}
	}

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// SubscribeStateChanges registers a handler for an entity.
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.subsMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockSubscription{entityID: entityID, subID: subID, mock: m}, nil
}

type mockSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	s.mock.removeSubscriber(s.entityID, s.subID)
	return nil
}

func (m *MockClient) removeSubscriber(entityID string, subID int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	entries := m.subscribers[entityID]
	for i, entry := range entries {
		if entry.subID == subID {
			m.subscribers[entityID] = append(entries[:i], entries[i+1:]...)
			if len(m.subscribers[entityID]) == 0 {
				delete(m.subscribers, entityID)
			}
			return
		}
	}
}

// SetState sets an entity state and notifies subscribers.
func (m *MockClient) SetState(entityID, stateValue string, attributes map[string]interface{}) {
	m.statesMu.Lock()
	oldState := m.states[entityID]
	if attributes == nil {
		attributes = make(map[string]interface{})
	}
	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// SimulateStateChange changes only the state string, keeping attributes.
func (m *MockClient) SimulateStateChange(entityID, newStateValue string) {
	m.statesMu.Lock()
	oldState := m.states[entityID]
	attributes := make(map[string]interface{})
	if oldState != nil {
		attributes = oldState.Attributes
	}
	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       newStateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// ServiceCalls returns a copy of the recorded service calls.
func (m *MockClient) ServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls resets the recorded call history.
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = nil
}

func (m *MockClient) notifySubscribers(entityID string, oldState, newState *State) {
	m.subsMu.Lock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.Unlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}
