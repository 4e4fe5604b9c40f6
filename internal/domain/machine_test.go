package domain

import (
	"strings"
	"testing"
)

func validMachine() *Machine {
	return &Machine{
		States:  []string{"cat", "dog", "frog"},
		Actions: []string{"red", "blue"},
		Transitions: map[string]map[string]string{
			"cat":  {"red": "dog"},
			"dog":  {"red": "cat", "blue": "frog"},
			"frog": {"blue": "frog"},
		},
		InitialState: "cat",
	}
}

func TestMachineValidate(t *testing.T) {
	if err := validMachine().Validate(); err != nil {
		t.Errorf("Validate() error = %v for a valid machine", err)
	}

	cases := []struct {
		name   string
		mutate func(*Machine)
		want   string
	}{
		{"no states", func(m *Machine) { m.States = nil }, "state"},
		{"duplicate state", func(m *Machine) { m.States = append(m.States, "cat") }, "duplicate"},
		{"initial not a state", func(m *Machine) { m.InitialState = "zebra" }, "initial"},
		{"unknown action", func(m *Machine) { m.Transitions["cat"]["green"] = "dog" }, "action"},
		{"unknown destination", func(m *Machine) { m.Transitions["cat"]["red"] = "zebra" }, "state"},
		{"dead-end state", func(m *Machine) { delete(m.Transitions, "frog") }, "outgoing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validMachine()
			tc.mutate(m)
			err := m.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestMachineApply(t *testing.T) {
	m := validMachine()

	next, ok := m.Apply("cat", "red")
	if !ok || next != "dog" {
		t.Errorf("Apply(cat, red) = %q, %v; want dog, true", next, ok)
	}
	if _, ok := m.Apply("cat", "blue"); ok {
		t.Error("Apply(cat, blue) ok = true, want false for undefined transition")
	}
	if _, ok := m.Apply("zebra", "red"); ok {
		t.Error("Apply(zebra, red) ok = true, want false for unknown state")
	}
}

func TestMachineFollow(t *testing.T) {
	m := validMachine()

	end, err := m.Follow("cat", []string{"red", "blue", "blue"})
	if err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if end != "frog" {
		t.Errorf("Follow() = %q, want frog", end)
	}

	if _, err := m.Follow("cat", []string{"blue"}); err == nil {
		t.Error("Follow() = nil error, want failure on undefined transition")
	}
}

func TestMachineHelpers(t *testing.T) {
	m := validMachine()

	if n := m.TransitionCount(); n != 4 {
		t.Errorf("TransitionCount() = %d, want 4", n)
	}
	got := m.AvailableActions("dog")
	if len(got) != 2 {
		t.Errorf("AvailableActions(dog) = %v, want 2 actions", got)
	}
}
