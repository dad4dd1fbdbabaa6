package git

import (
	"context"
	"strings"
	"sync"
)

// MockCommandRunner is a CommandRunner whose behaviour is supplied by funcs.
type MockCommandRunner struct {
	RunFunc    func(dir string, name string, args ...string) error
	OutputFunc func(dir string, name string, args ...string) ([]byte, error)
	InputFunc  func(dir string, input Input, name string, args ...string) ([]byte, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockCommandRunner) record(name string, args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, name+" "+strings.Join(args, " "))
}

func (m *MockCommandRunner) Run(_ context.Context, dir string, name string, args ...string) error {
	m.record(name, args)
	if m.RunFunc != nil {
		return m.RunFunc(dir, name, args...)
	}
	if m.OutputFunc != nil {
		_, err := m.OutputFunc(dir, name, args...)
		return err
	}
	return nil
}

func (m *MockCommandRunner) Output(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	m.record(name, args)
	if m.OutputFunc != nil {
		return m.OutputFunc(dir, name, args...)
	}
	return []byte{}, nil
}

func (m *MockCommandRunner) OutputWithInput(_ context.Context, dir string, input Input, name string, args ...string) ([]byte, error) {
	m.record(name, args)
	if m.InputFunc != nil {
		return m.InputFunc(dir, input, name, args...)
	}
	if m.OutputFunc != nil {
		return m.OutputFunc(dir, name, args...)
	}
	return []byte{}, nil
}
