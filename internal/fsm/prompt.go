package fsm

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"

	"github.com/hochfrequenz/fsm-bench/internal/domain"
)

// RenderTaskPrompt renders the natural-language task description handed to the
// agent under test. The encoding is deterministic: the same machine always
// produces the same bytes, including the worked example, so downstream
// comparisons can assume a stable priming message.
func RenderTaskPrompt(m *domain.Machine) string {
	var def strings.Builder
	def.WriteString("FSM Definition:\n\n")

	states := append([]string(nil), m.States...)
	sort.Strings(states)
	fmt.Fprintf(&def, "States: %s\n", strings.Join(states, ", "))
	fmt.Fprintf(&def, "Initial State: %s\n", m.InitialState)
	def.WriteString("Transitions:")

	froms := make([]string, 0, len(m.Transitions))
	for from := range m.Transitions {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		edges := m.Transitions[from]
		actions := make([]string, 0, len(edges))
		for a := range edges {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, action := range actions {
			fmt.Fprintf(&def, "\nFrom %s, on action %s, go to %s.", from, action, edges[action])
		}
	}

	return fmt.Sprintf(`Role & Goal: You are a meticulous Finite State Machine (FSM) executor. Your sole purpose is to function as a stateful processor based on the FSM definition and rules below. For each user message you receive, you will process it as a sequence of actions, update your internal state, and provide only the final state as your response.

%s

Core Operating Rules:

Your initial state at the beginning of this conversation is %s.
Each user prompt will contain a comma-separated string of one or more actions (e.g., action1,action2). All provided actions and sequences are guaranteed to be valid according to the transitions defined above.
You must process the actions sequentially. The resulting state from one action becomes the starting state for the next action in the sequence.
The final state at the end of processing one user prompt becomes your starting state for the next user prompt. You must maintain this state across the entire conversation.

Output Format & Constraints:

Your response must ONLY contain the final state after processing the entire action sequence.
Enclose the final state in <state> tags.
ABSOLUTELY DO NOT provide any other text, explanation, or conversational filler. Your entire response must be, for example, <state>%s</state>.

%s

Your configuration is complete. You will now strictly follow these rules for all subsequent user inputs. Begin.
`, def.String(), m.InitialState, m.InitialState, renderExampleFlow(m))
}

// renderExampleFlow produces the worked 3-turn example. The walk is driven by
// a source seeded from the definition itself, so the example varies between
// machines but never between renders of the same machine.
func renderExampleFlow(m *domain.Machine) string {
	r := rand.New(rand.NewSource(machineSeed(m)))

	var lines []string
	lines = append(lines, "Example Conversation Flow:\n")

	state := m.InitialState
	intros := []string{
		fmt.Sprintf("(You begin silently in the %s state. The user provides the first prompt.)", state),
		"(Your internal state is now %s. The user provides the second prompt.)",
		"(Your internal state is now %s. The user provides the third prompt.)",
	}

	for turn := 0; turn < 3; turn++ {
		intro := intros[turn]
		if turn > 0 {
			intro = fmt.Sprintf(intro, state)
		}
		sequence, end := simulateWith(r, m, state, 1+r.Intn(2))
		lines = append(lines, intro)
		lines = append(lines, fmt.Sprintf("User: %s", strings.Join(sequence, ", ")))
		lines = append(lines, fmt.Sprintf("Assistant: <state>%s</state>", end))
		state = end
	}

	return strings.Join(lines, "\n")
}

// machineSeed hashes the canonical transition listing into a seed.
func machineSeed(m *domain.Machine) int64 {
	h := fnv.New64a()
	fmt.Fprint(h, m.InitialState)

	froms := make([]string, 0, len(m.Transitions))
	for from := range m.Transitions {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		edges := m.Transitions[from]
		actions := make([]string, 0, len(edges))
		for a := range edges {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, action := range actions {
			fmt.Fprintf(h, "|%s>%s>%s", from, action, edges[action])
		}
	}
	return int64(h.Sum64())
}
