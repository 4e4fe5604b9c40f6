package domain

import "fmt"

// Machine is an immutable finite-state machine definition. It is created once
// by the generator, persisted per instance, and never modified afterwards.
type Machine struct {
	States       []string                     `json:"states"`
	Actions      []string                     `json:"actions"`
	Transitions  map[string]map[string]string `json:"transitions"`
	InitialState string                       `json:"initial_state"`
}

// Validate checks structural validity: non-empty state and action sets, a known
// initial state, transition endpoints drawn from the declared sets, and at
// least one outgoing transition per state. It is enforced at construction and
// not re-checked later.
func (m *Machine) Validate() error {
	if len(m.States) == 0 {
		return fmt.Errorf("machine has no states")
	}
	if len(m.Actions) == 0 {
		return fmt.Errorf("machine has no actions")
	}

	states := make(map[string]bool, len(m.States))
	for _, s := range m.States {
		if states[s] {
			return fmt.Errorf("duplicate state %q", s)
		}
		states[s] = true
	}
	actions := make(map[string]bool, len(m.Actions))
	for _, a := range m.Actions {
		if actions[a] {
			return fmt.Errorf("duplicate action %q", a)
		}
		actions[a] = true
	}

	if !states[m.InitialState] {
		return fmt.Errorf("initial state %q is not a known state", m.InitialState)
	}

	for from, edges := range m.Transitions {
		if !states[from] {
			return fmt.Errorf("transition from unknown state %q", from)
		}
		for action, to := range edges {
			if !actions[action] {
				return fmt.Errorf("transition on unknown action %q", action)
			}
			if !states[to] {
				return fmt.Errorf("transition to unknown state %q", to)
			}
		}
	}

	for _, s := range m.States {
		if len(m.Transitions[s]) == 0 {
			return fmt.Errorf("state %q has no outgoing transitions", s)
		}
	}

	return nil
}

// Apply performs a single transition step. ok is false when no transition is
// defined for the pair.
func (m *Machine) Apply(state, action string) (next string, ok bool) {
	edges, ok := m.Transitions[state]
	if !ok {
		return "", false
	}
	next, ok = edges[action]
	return next, ok
}

// Follow replays an action sequence from the given state and returns the end
// state. It fails on the first undefined transition.
func (m *Machine) Follow(state string, actions []string) (string, error) {
	for i, action := range actions {
		next, ok := m.Apply(state, action)
		if !ok {
			return "", fmt.Errorf("no transition from %q on %q (step %d)", state, action, i+1)
		}
		state = next
	}
	return state, nil
}

// TransitionCount returns the number of defined (state, action) pairs.
func (m *Machine) TransitionCount() int {
	n := 0
	for _, edges := range m.Transitions {
		n += len(edges)
	}
	return n
}

// AvailableActions returns the actions defined for a state, or nil when the
// state is unknown or has no outgoing transitions.
func (m *Machine) AvailableActions(state string) []string {
	edges := m.Transitions[state]
	if len(edges) == 0 {
		return nil
	}
	actions := make([]string, 0, len(edges))
	for a := range edges {
		actions = append(actions, a)
	}
	return actions
}
