// Package fsm provides a small transition-table state machine shared by the
// sync job and authentication engines. A machine is built from an explicit
// list of (from, event) -> to rules that is validated once at construction;
// firing an event that has no rule for the current state returns a typed
// error instead of silently doing nothing.
package fsm

import (
	"errors"
	"fmt"
	stdsync "sync"
)

// ErrInvalidTransition is the sentinel wrapped by every TransitionError.
var ErrInvalidTransition = errors.New("fsm: invalid transition")

// Rule is one edge of the transition table.
type Rule[S, E comparable] struct {
	From  S
	Event E
	To    S
}

// Transition describes an applied rule. Listeners receive it after the state
// has changed.
type Transition[S, E comparable] struct {
	From  S
	Event E
	To    S
}

// TransitionError reports an event fired in a state that has no rule for it.
type TransitionError[S, E comparable] struct {
	From  S
	Event E
}

func (e *TransitionError[S, E]) Error() string {
	return fmt.Sprintf("fsm: no transition for event %v in state %v", e.Event, e.From)
}

func (e *TransitionError[S, E]) Unwrap() error {
	return ErrInvalidTransition
}

type ruleKey[S, E comparable] struct {
	from  S
	event E
}

// Table is an immutable, validated transition table. One Table is shared by
// every Machine of the same kind.
type Table[S, E comparable] struct {
	rules  map[ruleKey[S, E]]S
	states map[S]bool
}

// NewTable validates rules against the declared state and event sets. Every
// rule must reference declared states and events, no (from, event) pair may
// appear twice, and every declared event must be used by at least one rule.
func NewTable[S, E comparable](states []S, events []E, rules []Rule[S, E]) (*Table[S, E], error) {
	t := &Table[S, E]{
		rules:  make(map[ruleKey[S, E]]S, len(rules)),
		states: make(map[S]bool, len(states)),
	}

	for _, s := range states {
		t.states[s] = true
	}

	knownEvents := make(map[E]bool, len(events))
	for _, e := range events {
		knownEvents[e] = false
	}

	var errs []error

	for _, r := range rules {
		if !t.states[r.From] {
			errs = append(errs, fmt.Errorf("fsm: rule %v -[%v]-> %v: undeclared source state", r.From, r.Event, r.To))
		}

		if !t.states[r.To] {
			errs = append(errs, fmt.Errorf("fsm: rule %v -[%v]-> %v: undeclared target state", r.From, r.Event, r.To))
		}

		if _, ok := knownEvents[r.Event]; !ok {
			errs = append(errs, fmt.Errorf("fsm: rule %v -[%v]-> %v: undeclared event", r.From, r.Event, r.To))
		} else {
			knownEvents[r.Event] = true
		}

		key := ruleKey[S, E]{from: r.From, event: r.Event}
		if _, dup := t.rules[key]; dup {
			errs = append(errs, fmt.Errorf("fsm: duplicate rule for event %v in state %v", r.Event, r.From))

			continue
		}

		t.rules[key] = r.To
	}

	for _, e := range events {
		if !knownEvents[e] {
			errs = append(errs, fmt.Errorf("fsm: event %v is declared but never used", e))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return t, nil
}

// MustTable is NewTable for package-level tables; it panics on an invalid
// table so a broken rule set fails at program start.
func MustTable[S, E comparable](states []S, events []E, rules []Rule[S, E]) *Table[S, E] {
	t, err := NewTable(states, events, rules)
	if err != nil {
		panic(err)
	}

	return t
}

// Lookup returns the target state for event in state from.
func (t *Table[S, E]) Lookup(from S, event E) (S, bool) {
	to, ok := t.rules[ruleKey[S, E]{from: from, event: event}]
	return to, ok
}

// Machine is a goroutine-safe instance of a Table. Listeners are invoked
// after the machine's lock is released, on a snapshot of the listener list,
// so a listener may subscribe or unsubscribe without corrupting iteration.
// Listeners must not fire events on the same machine inline.
type Machine[S, E comparable] struct {
	table *Table[S, E]

	mu        stdsync.Mutex
	state     S
	listeners map[int]func(Transition[S, E])
	nextID    int
}

// New creates a machine in the initial state.
func New[S, E comparable](table *Table[S, E], initial S) *Machine[S, E] {
	return &Machine[S, E]{
		table:     table,
		state:     initial,
		listeners: make(map[int]func(Transition[S, E])),
	}
}

// State returns the current state.
func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Can reports whether event has a rule for the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.table.Lookup(m.state, event)

	return ok
}

// Fire applies event. apply, when non-nil, runs under the machine lock after
// the rule is found and before the new state becomes visible, so data that
// must change together with the state (a download URL, device-code data) is
// never observed half-updated. Returning an error from apply aborts the
// transition.
func (m *Machine[S, E]) Fire(event E, apply func() error) (Transition[S, E], error) {
	m.mu.Lock()

	from := m.state

	to, ok := m.table.Lookup(from, event)
	if !ok {
		m.mu.Unlock()
		return Transition[S, E]{}, &TransitionError[S, E]{From: from, Event: event}
	}

	if apply != nil {
		if err := apply(); err != nil {
			m.mu.Unlock()
			return Transition[S, E]{}, err
		}
	}

	m.state = to
	tr := Transition[S, E]{From: from, Event: event, To: to}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	for _, fn := range snapshot {
		fn(tr)
	}

	return tr, nil
}

// Subscribe registers fn for every applied transition and returns a function
// that removes it.
func (m *Machine[S, E]) Subscribe(fn func(Transition[S, E])) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.listeners, id)
	}
}

// snapshotLocked copies the listeners in registration order. Caller holds mu.
func (m *Machine[S, E]) snapshotLocked() []func(Transition[S, E]) {
	if len(m.listeners) == 0 {
		return nil
	}

	out := make([]func(Transition[S, E]), 0, len(m.listeners))

	for id := range m.nextID {
		if fn, ok := m.listeners[id]; ok {
			out = append(out, fn)
		}
	}

	return out
}
