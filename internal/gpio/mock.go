package gpio

import "sync"

// MockPin implements Pin for testing
type MockPin struct {
	PinName  string
	SetError error

	mu      sync.Mutex
	history []Level
}

// NewMockPin creates a MockPin with the given name
func NewMockPin(name string) *MockPin {
	return &MockPin{PinName: name}
}

func (m *MockPin) Name() string {
	return m.PinName
}

func (m *MockPin) Set(level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetError != nil {
		return m.SetError
	}
	m.history = append(m.history, level)
	return nil
}

// History returns every level written, oldest first
func (m *MockPin) History() []Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Level, len(m.history))
	copy(out, m.history)
	return out
}

// Last returns the most recent level and whether any was written
func (m *MockPin) Last() (Level, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Low, false
	}
	return m.history[len(m.history)-1], true
}
