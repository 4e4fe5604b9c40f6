package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hochfrequenz/fsm-bench/internal/domain"
)

// A two-state cycle with one action makes every walk deterministic.
func cycleMachine() *domain.Machine {
	return &domain.Machine{
		States:  []string{"cat", "dog"},
		Actions: []string{"red"},
		Transitions: map[string]map[string]string{
			"cat": {"red": "dog"},
			"dog": {"red": "cat"},
		},
		InitialState: "cat",
	}
}

func TestRunWalkerSession_StatePersistsAcrossAdvances(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("1\n1\nq\n")

	if err := runWalkerSession(cycleMachine(), in, &out, 1); err != nil {
		t.Fatalf("runWalkerSession() error = %v", err)
	}

	got := out.String()
	if !strings.HasPrefix(got, "state: cat\n") {
		t.Errorf("session did not announce the initial state:\n%s", got)
	}
	// The second advance must start from dog, not restart at cat.
	first := strings.Index(got, "red -> dog")
	second := strings.Index(got, "red -> cat")
	if first == -1 || second == -1 || second < first {
		t.Errorf("advances did not chain through the persisted state:\n%s", got)
	}
}

func TestRunWalkerSession_ResetAndBadInput(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("1\nr\nbogus\n1\nq\n")

	if err := runWalkerSession(cycleMachine(), in, &out, 1); err != nil {
		t.Fatalf("runWalkerSession() error = %v", err)
	}

	got := out.String()
	if strings.Count(got, "state: cat\n") != 2 {
		t.Errorf("reset did not move the walker back to the initial state:\n%s", got)
	}
	if !strings.Contains(got, "enter a step count") {
		t.Errorf("bad input not rejected:\n%s", got)
	}
	// After the reset the next advance starts from cat again.
	if strings.Count(got, "red -> dog") != 2 {
		t.Errorf("post-reset advance did not restart from cat:\n%s", got)
	}
}

func TestRunWalkerSession_EOFEndsCleanly(t *testing.T) {
	var out bytes.Buffer
	if err := runWalkerSession(cycleMachine(), strings.NewReader(""), &out, 1); err != nil {
		t.Fatalf("runWalkerSession() error = %v on EOF", err)
	}
}
