package fsm

import (
	"math/rand"
	"sort"

	"github.com/hochfrequenz/fsm-bench/internal/domain"
)

// Simulate walks up to steps transitions from start, picking a uniformly
// random available action at each step, and returns the action sequence and
// the state it ends in. It never mutates the machine. If the current state is
// unknown or has no outgoing transitions the walk stops early and the returned
// sequence is shorter than requested; that is expected, not an error.
//
// The experiment driver always passes the agent's last reported state here,
// not its own trajectory pointer, so a wrong answer shifts what the next turn
// scripts. Walker is the stateful variant for interactive use.
func Simulate(m *domain.Machine, start string, steps int) ([]string, string) {
	return simulateWith(globalRand{}, m, start, steps)
}

// intner is the subset of *rand.Rand the simulation needs. The seeded form is
// what keeps rendered prompts byte-for-byte reproducible.
type intner interface {
	Intn(n int) int
}

type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

func simulateWith(r intner, m *domain.Machine, start string, steps int) ([]string, string) {
	var sequence []string
	state := start

	for i := 0; i < steps; i++ {
		edges := m.Transitions[state]
		if len(edges) == 0 {
			break
		}
		actions := make([]string, 0, len(edges))
		for a := range edges {
			actions = append(actions, a)
		}
		// Map iteration order is random; sorting keeps seeded runs stable.
		sort.Strings(actions)

		action := actions[r.Intn(len(actions))]
		sequence = append(sequence, action)
		state = edges[action]
	}

	return sequence, state
}

// Walker advances a persisted current-state pointer across calls. It exists
// for interactive exploration outside the experiment loop; the loop itself
// uses the stateless Simulate with an explicit start state.
type Walker struct {
	machine *domain.Machine
	current string
}

// NewWalker starts a walker at the machine's initial state.
func NewWalker(m *domain.Machine) *Walker {
	return &Walker{machine: m, current: m.InitialState}
}

// Advance simulates steps from the current state and moves the pointer to the
// end state.
func (w *Walker) Advance(steps int) ([]string, string) {
	sequence, end := Simulate(w.machine, w.current, steps)
	w.current = end
	return sequence, end
}

// State returns the current state.
func (w *Walker) State() string {
	return w.current
}

// Reset moves the pointer back to the initial state.
func (w *Walker) Reset() {
	w.current = w.machine.InitialState
}
