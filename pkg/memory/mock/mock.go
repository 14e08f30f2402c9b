// Package mock provides an in-memory test double for [memory.WorkingMemory].
//
// The mock stores replaced memories so that a later Read returns them, records
// every call, and can be told to fail individual operations.
//
//	wm := &mock.WorkingMemory{}
//	wm.ReadErr = errors.New("unavailable")
//	// inject wm into the system under test …
//	if got := wm.CallCount("Replace"); got != 1 { … }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ana/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method    string
	SessionID string
	Namespace string
	Memory    memory.Memory
}

// WorkingMemory is a configurable test double for [memory.WorkingMemory].
type WorkingMemory struct {
	mu    sync.Mutex
	calls []Call
	docs  map[string]memory.Memory

	// ReadErr, ReplaceErr and DeleteErr are returned by the respective method
	// when non-nil.
	ReadErr    error
	ReplaceErr error
	DeleteErr  error

	// OnReplace, when set, is called after every successful Replace. Tests use
	// it to wait for fire-and-forget writers.
	OnReplace func(sessionID, namespace string, m memory.Memory)
}

var _ memory.WorkingMemory = (*WorkingMemory)(nil)

func key(sessionID, namespace string) string { return namespace + "\x00" + sessionID }

// Seed stores m for sessionID/namespace without recording a call.
func (w *WorkingMemory) Seed(sessionID, namespace string, m memory.Memory) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.docs == nil {
		w.docs = make(map[string]memory.Memory)
	}
	w.docs[key(sessionID, namespace)] = m
}

// Read implements [memory.WorkingMemory].
func (w *WorkingMemory) Read(_ context.Context, sessionID, namespace string) (memory.Memory, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, Call{Method: "Read", SessionID: sessionID, Namespace: namespace})
	if w.ReadErr != nil {
		return memory.Memory{}, w.ReadErr
	}
	return w.docs[key(sessionID, namespace)], nil
}

// Replace implements [memory.WorkingMemory].
func (w *WorkingMemory) Replace(_ context.Context, sessionID, namespace string, m memory.Memory) error {
	w.mu.Lock()
	w.calls = append(w.calls, Call{Method: "Replace", SessionID: sessionID, Namespace: namespace, Memory: m})
	if w.ReplaceErr != nil {
		err := w.ReplaceErr
		w.mu.Unlock()
		return err
	}
	if w.docs == nil {
		w.docs = make(map[string]memory.Memory)
	}
	w.docs[key(sessionID, namespace)] = m
	hook := w.OnReplace
	w.mu.Unlock()

	if hook != nil {
		hook(sessionID, namespace, m)
	}
	return nil
}

// Delete implements [memory.WorkingMemory].
func (w *WorkingMemory) Delete(_ context.Context, sessionID, namespace string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, Call{Method: "Delete", SessionID: sessionID, Namespace: namespace})
	if w.DeleteErr != nil {
		return w.DeleteErr
	}
	delete(w.docs, key(sessionID, namespace))
	return nil
}

// Stored returns the memory currently held for sessionID/namespace.
func (w *WorkingMemory) Stored(sessionID, namespace string) memory.Memory {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.docs[key(sessionID, namespace)]
}

// Calls returns a snapshot of all recorded calls.
func (w *WorkingMemory) Calls() []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Call, len(w.calls))
	copy(out, w.calls)
	return out
}

// CallCount returns the number of calls recorded for method.
func (w *WorkingMemory) CallCount(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
