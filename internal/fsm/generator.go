package fsm

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/hochfrequenz/fsm-bench/internal/domain"
)

// Generation failure taxonomy. Both are non-retryable: the caller must fix the
// requested dimensions.
var (
	// ErrPoolExhausted means a requested count exceeds the name pool for that
	// category.
	ErrPoolExhausted = errors.New("name pool exhausted")
	// ErrTransitionRange means the transition count is outside
	// [states, states*actions].
	ErrTransitionRange = errors.New("transition count out of range")
)

// GenConfig holds the dimensions and optional name pools for one machine.
// Empty pools fall back to the built-in vocabularies; supplied pools must be
// disjoint between states and actions.
type GenConfig struct {
	States      int
	Actions     int
	Transitions int

	StatePool  []string
	ActionPool []string
}

// Generate builds a random, structurally valid machine. Every state is
// guaranteed at least one outgoing transition and the machine has exactly
// cfg.Transitions transitions. The randomness source is not seeded here;
// reproducibility is the caller's concern.
func Generate(cfg GenConfig) (*domain.Machine, error) {
	statePool := cfg.StatePool
	if len(statePool) == 0 {
		statePool = defaultStatePool
	}
	actionPool := cfg.ActionPool
	if len(actionPool) == 0 {
		actionPool = defaultActionPool
	}

	if cfg.States > len(statePool) {
		return nil, fmt.Errorf("%w: requested %d states, pool holds %d",
			ErrPoolExhausted, cfg.States, len(statePool))
	}
	if cfg.Actions > len(actionPool) {
		return nil, fmt.Errorf("%w: requested %d actions, pool holds %d",
			ErrPoolExhausted, cfg.Actions, len(actionPool))
	}
	if cfg.States < 1 || cfg.Actions < 1 {
		return nil, fmt.Errorf("%w: need at least one state and one action",
			ErrTransitionRange)
	}

	maxTransitions := cfg.States * cfg.Actions
	if cfg.Transitions < cfg.States || cfg.Transitions > maxTransitions {
		return nil, fmt.Errorf("%w: with %d states and %d actions the count must be in [%d, %d], got %d",
			ErrTransitionRange, cfg.States, cfg.Actions, cfg.States, maxTransitions, cfg.Transitions)
	}

	states := sampleNames(statePool, cfg.States)
	actions := sampleNames(actionPool, cfg.Actions)

	transitions := make(map[string]map[string]string, cfg.States)
	for _, s := range states {
		transitions[s] = make(map[string]string)
	}

	// Candidate pool of every unused (state, action) slot.
	type slot struct{ state, action string }
	unused := make(map[slot]bool, maxTransitions)
	for _, s := range states {
		for _, a := range actions {
			unused[slot{s, a}] = true
		}
	}

	// Stage 1: visit states in random order and give each one outgoing edge,
	// which satisfies the no-dead-end invariant with exactly len(states)
	// transitions.
	order := append([]string(nil), states...)
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	for _, from := range order {
		var free []string
		for _, a := range actions {
			if unused[slot{from, a}] {
				free = append(free, a)
			}
		}
		action := free[rand.Intn(len(free))]
		to := states[rand.Intn(len(states))] // self-loops allowed
		transitions[from][action] = to
		delete(unused, slot{from, action})
	}

	// Stage 2: fill the remainder by sampling surviving slots without
	// replacement.
	if remaining := cfg.Transitions - cfg.States; remaining > 0 {
		free := make([]slot, 0, len(unused))
		for s := range unused {
			free = append(free, s)
		}
		rand.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
		for _, s := range free[:remaining] {
			transitions[s.state][s.action] = states[rand.Intn(len(states))]
		}
	}

	m := &domain.Machine{
		States:       states,
		Actions:      actions,
		Transitions:  transitions,
		InitialState: states[rand.Intn(len(states))],
	}
	return m, nil
}

// sampleNames draws n distinct names from the pool without replacement.
func sampleNames(pool []string, n int) []string {
	perm := rand.Perm(len(pool))
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = pool[perm[i]]
	}
	return names
}
