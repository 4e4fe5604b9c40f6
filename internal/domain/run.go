package domain

// Message roles in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunRecord tracks one run identifier's progress on one FSM instance.
// CurrentTurn only increases; IsTaskCorrect latches to false on the first
// failed turn and never resets; IsComplete is only cleared again by an
// explicit turn-budget extension.
type RunRecord struct {
	InstanceID   int
	RunID        string
	Conversation []Message
	CurrentTurn  int

	// GroundTruthState is where the scripted trajectory itself ended.
	// LastLLMState is where the agent claims to be; it, not the ground truth,
	// seeds the next turn's script.
	GroundTruthState string
	LastLLMState     string

	IsTaskCorrect bool
	IsComplete    bool
}

// FailureType classifies a failed turn in the error log.
type FailureType string

const (
	// FailureDecode means the response carried no well-formed <state> tag.
	FailureDecode FailureType = "decode_error"
	// FailureMismatch means the reported state was valid syntax but wrong.
	FailureMismatch FailureType = "state_mismatch"
	// FailureInit means the priming turn reported the wrong initial state.
	FailureInit FailureType = "initialization_failed"
)

// ErrorEntry is one append-only error-log row for a failed turn.
type ErrorEntry struct {
	RunID         string
	InstanceID    int
	TurnNumber    int
	TaskLength    int
	ExpectedState string
	RawResponse   string
	FailureType   FailureType
}

// AggregateRow holds the rolled-up counters for one (run identifier,
// task length) cell. Derived data: always reconstructible from run records
// plus the error log.
type AggregateRow struct {
	RunID         string
	TaskLength    int
	TurnSuccesses int
	TaskSuccesses int
	TotalRuns     int
}
