package fsm

import (
	"strings"
	"testing"
)

func TestRenderTaskPrompt_Deterministic(t *testing.T) {
	m, err := Generate(GenConfig{States: 4, Actions: 3, Transitions: 8})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	first := RenderTaskPrompt(m)
	for i := 0; i < 5; i++ {
		if got := RenderTaskPrompt(m); got != first {
			t.Fatalf("render %d differs from the first render", i+1)
		}
	}
}

func TestRenderTaskPrompt_Contents(t *testing.T) {
	m := testMachine()
	prompt := RenderTaskPrompt(m)

	// Sorted state listing and the initial state declaration.
	if !strings.Contains(prompt, "States: cat, dog, frog") {
		t.Errorf("prompt missing sorted state list:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Initial State: cat") {
		t.Errorf("prompt missing initial state")
	}

	// Every transition appears as a sorted triple line.
	for _, line := range []string{
		"From cat, on action blue, go to cat.",
		"From cat, on action red, go to dog.",
		"From dog, on action red, go to frog.",
		"From frog, on action blue, go to cat.",
	} {
		if !strings.Contains(prompt, line) {
			t.Errorf("prompt missing transition line %q", line)
		}
	}

	// The blue/red lines for cat must appear in action order.
	if strings.Index(prompt, "From cat, on action blue") > strings.Index(prompt, "From cat, on action red") {
		t.Errorf("transitions not sorted by action within a state")
	}

	if !strings.Contains(prompt, "Example Conversation Flow:") {
		t.Errorf("prompt missing worked example")
	}
	if !strings.Contains(prompt, "<state>") {
		t.Errorf("prompt missing output delimiter instructions")
	}
}

func TestRenderTaskPrompt_ExampleIsValid(t *testing.T) {
	m := testMachine()
	prompt := RenderTaskPrompt(m)

	// Walk the worked example and check each assistant state is reachable by
	// replaying the preceding user sequence.
	state := m.InitialState
	lines := strings.Split(prompt, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "User: ") {
			continue
		}
		actions := strings.Split(strings.TrimPrefix(line, "User: "), ", ")
		end, err := m.Follow(state, actions)
		if err != nil {
			t.Fatalf("example sequence invalid from %q: %v", state, err)
		}
		want := "Assistant: <state>" + end + "</state>"
		if i+1 >= len(lines) || lines[i+1] != want {
			t.Errorf("example answer = %q, want %q", lines[i+1], want)
		}
		state = end
	}
}
