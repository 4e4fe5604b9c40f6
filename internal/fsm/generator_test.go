package fsm

import (
	"errors"
	"testing"
)

func TestGenerate_Valid(t *testing.T) {
	cases := []struct {
		name        string
		states      int
		actions     int
		transitions int
	}{
		{"minimum transitions", 5, 3, 5},
		{"full grid", 4, 5, 20},
		{"partial grid", 6, 4, 15},
		{"single state", 1, 1, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Generate(GenConfig{States: tc.states, Actions: tc.actions, Transitions: tc.transitions})
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}

			if err := m.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if len(m.States) != tc.states {
				t.Errorf("len(States) = %d, want %d", len(m.States), tc.states)
			}
			if len(m.Actions) != tc.actions {
				t.Errorf("len(Actions) = %d, want %d", len(m.Actions), tc.actions)
			}
			if got := m.TransitionCount(); got != tc.transitions {
				t.Errorf("TransitionCount() = %d, want %d", got, tc.transitions)
			}
			for _, s := range m.States {
				if len(m.Transitions[s]) == 0 {
					t.Errorf("state %q has no outgoing transitions", s)
				}
			}
		})
	}
}

func TestGenerate_RangeErrors(t *testing.T) {
	cases := []struct {
		name        string
		states      int
		actions     int
		transitions int
	}{
		{"below lower bound", 5, 2, 3},
		{"above full grid", 3, 2, 7},
		{"zero states", 0, 2, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Generate(GenConfig{States: tc.states, Actions: tc.actions, Transitions: tc.transitions})
			if !errors.Is(err, ErrTransitionRange) {
				t.Errorf("Generate() error = %v, want ErrTransitionRange", err)
			}
		})
	}
}

func TestGenerate_PoolExhausted(t *testing.T) {
	_, err := Generate(GenConfig{States: len(defaultStatePool) + 1, Actions: 2, Transitions: 100})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("state overflow error = %v, want ErrPoolExhausted", err)
	}

	_, err = Generate(GenConfig{States: 2, Actions: len(defaultActionPool) + 1, Transitions: 2})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("action overflow error = %v, want ErrPoolExhausted", err)
	}
}

func TestGenerate_CustomPools(t *testing.T) {
	m, err := Generate(GenConfig{
		States:      2,
		Actions:     2,
		Transitions: 4,
		StatePool:   []string{"alpha", "beta", "gamma"},
		ActionPool:  []string{"up", "down"},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	allowed := map[string]bool{"alpha": true, "beta": true, "gamma": true}
	for _, s := range m.States {
		if !allowed[s] {
			t.Errorf("state %q not drawn from custom pool", s)
		}
	}
}

func TestGenerate_FullGridNeverTerminatesEarly(t *testing.T) {
	// With every (state, action) pair defined, a simulation from any state for
	// any length runs to full length.
	m, err := Generate(GenConfig{States: 4, Actions: 5, Transitions: 20})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	for _, start := range m.States {
		sequence, _ := Simulate(m, start, 25)
		if len(sequence) != 25 {
			t.Errorf("Simulate(%q, 25) length = %d, want 25", start, len(sequence))
		}
	}
}
