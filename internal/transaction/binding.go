package transaction

import (
	"context"
	"sync"
)

type scopeKey struct{}

// scope is the execution-context binding of one worker: the current
// transaction per manager and the manager that was activated last.
type scope struct {
	mu     sync.Mutex
	slots  map[*Manager]*Transaction
	active *Manager
}

// binding is a snapshot taken before running a unit of work so the exact
// prior state can be put back afterwards.
type binding struct {
	active  *Manager
	manager *Manager
	tx      *Transaction
}

// WithExecutionContext returns a context carrying a fresh execution context,
// or ctx itself when it already carries one. A context carrying an execution
// context must not be shared by goroutines running concurrently.
func WithExecutionContext(ctx context.Context) context.Context {
	if scopeFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, &scope{slots: make(map[*Manager]*Transaction)})
}

// DetachExecutionContext returns ctx with a new, empty execution context in
// place of the one it carries. Goroutines started inside a unit of work use
// it to run their own transactions while keeping ctx's deadline and values.
func DetachExecutionContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scope{slots: make(map[*Manager]*Transaction)})
}

func scopeFrom(ctx context.Context) *scope {
	sc, _ := ctx.Value(scopeKey{}).(*scope)
	return sc
}

// Current returns the transaction of the most recently activated manager in
// ctx's execution context, or nil.
func Current(ctx context.Context) *Transaction {
	sc := scopeFrom(ctx)
	if sc == nil {
		return nil
	}
	return sc.current()
}

func (s *scope) get(m *Manager) *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[m]
}

// set binds tx to m. A nil tx removes the slot entirely.
func (s *scope) set(m *Manager, tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx == nil {
		delete(s.slots, m)
		return
	}
	s.slots[m] = tx
}

func (s *scope) activate(m *Manager) {
	s.mu.Lock()
	s.active = m
	s.mu.Unlock()
}

func (s *scope) current() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return s.slots[s.active]
}

func (s *scope) save(m *Manager) binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return binding{active: s.active, manager: m, tx: s.slots[m]}
}

func (s *scope) restore(b binding) {
	s.set(b.manager, b.tx)
	s.activate(b.active)
}
