package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/fsm-bench/internal/domain"
	"github.com/hochfrequenz/fsm-bench/internal/fsm"
	"github.com/hochfrequenz/fsm-bench/internal/llm"
	"github.com/hochfrequenz/fsm-bench/internal/runstore"
)

// sessionNamespace is a fixed UUID namespace for generating deterministic session IDs
var sessionNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Config holds the dimensions of one experiment pass.
type Config struct {
	RunID            string
	TotalInstances   int
	TurnsPerInstance int
	StepsPerTurn     int
	Workers          int
	TurnDelay        time.Duration
	SupportsPriming  bool
	Machine          fsm.GenConfig
}

// Event is one progress observation emitted while an instance advances.
type Event struct {
	SessionID   string `json:"session_id"`
	RunID       string `json:"run_id"`
	InstanceID  int    `json:"instance_id"`
	Turn        int    `json:"turn"`
	TaskLength  int    `json:"task_length"`
	GroundTruth string `json:"ground_truth"`
	Reported    string `json:"reported"`
	TurnCorrect bool   `json:"turn_correct"`
	Complete    bool   `json:"complete"`
	Failure     string `json:"failure,omitempty"`
}

// Summary reports the outcome of one Run call.
type Summary struct {
	Pending   int
	Completed int
	Failed    int
	// InstanceErrors maps failed instance ids to the error that stopped them.
	InstanceErrors map[int]error
}

// Runner drives every pending instance of a run through its turn budget.
type Runner struct {
	store  *runstore.Store
	client llm.Completer
	cfg    Config
	events func(Event)
}

// New creates a Runner. events may be nil.
func New(store *runstore.Store, client llm.Completer, cfg Config, events func(Event)) *Runner {
	return &Runner{store: store, client: client, cfg: cfg, events: events}
}

// SessionID returns the deterministic correlation id for one instance of a run.
func SessionID(runID string, instanceID int) string {
	return uuid.NewSHA1(sessionNamespace, []byte(fmt.Sprintf("%s/%d", runID, instanceID))).String()
}

func (r *Runner) emit(ev Event) {
	if r.events != nil {
		ev.RunID = r.cfg.RunID
		ev.SessionID = SessionID(r.cfg.RunID, ev.InstanceID)
		r.events(ev)
	}
}

// Run processes every pending instance and blocks until the pool drains or
// the context is cancelled. Instance failures are isolated: they land in the
// summary, not in the returned error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{InstanceErrors: make(map[int]error)}

	created, err := r.store.EnsureDefinitions(r.cfg.TotalInstances, func(int) (*domain.Machine, error) {
		return fsm.Generate(r.cfg.Machine)
	})
	if err != nil {
		return summary, fmt.Errorf("ensuring definitions: %w", err)
	}
	if created > 0 {
		fmt.Printf("Generated %d new FSM definition(s)\n", created)
	}

	// A raised turn budget reopens finished runs before we list the work.
	reopened, err := r.store.PrepareExtension(r.cfg.RunID, r.cfg.TurnsPerInstance)
	if err != nil {
		return summary, fmt.Errorf("preparing extension: %w", err)
	}
	if reopened > 0 {
		fmt.Printf("Reopened %d run(s) below the %d-turn budget\n", reopened, r.cfg.TurnsPerInstance)
	}

	pending, err := r.store.RunsToProcess(r.cfg.TotalInstances, r.cfg.RunID)
	if err != nil {
		return summary, fmt.Errorf("listing pending runs: %w", err)
	}
	summary.Pending = len(pending)
	if len(pending) == 0 {
		return summary, nil
	}

	ids := make(chan int)
	var mu sync.Mutex

	// The group context only scopes the workers; Wait cancels it, so the
	// caller's context decides what Run ultimately returns.
	g, gctx := errgroup.WithContext(ctx)
	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for id := range ids {
				err := r.runInstance(gctx, id)
				mu.Lock()
				if err != nil {
					summary.Failed++
					summary.InstanceErrors[id] = err
					fmt.Printf("Warning: instance %d failed: %v\n", id, err)
				} else {
					summary.Completed++
				}
				mu.Unlock()
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}

feed:
	for _, id := range pending {
		select {
		case ids <- id:
		case <-gctx.Done():
			break feed
		}
	}
	close(ids)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}
	return summary, ctx.Err()
}

// runInstance resumes one instance from its checkpoint and advances it to the
// turn budget.
func (r *Runner) runInstance(ctx context.Context, instanceID int) error {
	machine, err := r.store.GetDefinition(instanceID)
	if err != nil {
		return err
	}

	rec, err := r.store.GetOrCreateRun(instanceID, r.cfg.RunID, r.cfg.SupportsPriming)
	if err != nil {
		return err
	}

	if !r.cfg.SupportsPriming && rec.CurrentTurn == 0 && len(rec.Conversation) == 1 {
		if err := r.primeRun(ctx, machine, rec); err != nil {
			return err
		}
	}

	for rec.CurrentTurn < r.cfg.TurnsPerInstance {
		if err := sleepCtx(ctx, r.cfg.TurnDelay); err != nil {
			return err
		}
		if err := r.advanceTurn(ctx, machine, rec); err != nil {
			return err
		}
	}

	if !rec.IsComplete {
		rec.IsComplete = true
		if err := r.store.UpdateRun(rec); err != nil {
			return err
		}
	}
	r.emit(Event{
		InstanceID:  instanceID,
		Turn:        rec.CurrentTurn,
		TaskLength:  rec.CurrentTurn * r.cfg.StepsPerTurn,
		GroundTruth: rec.GroundTruthState,
		Reported:    rec.LastLLMState,
		TurnCorrect: rec.IsTaskCorrect,
		Complete:    true,
	})
	return nil
}

// primeRun sends the task prompt as a plain user message and checks that the
// agent acknowledges with the initial state. A wrong answer disqualifies the
// whole task, and whatever state the agent claimed seeds turn 1; only an
// undecodable answer falls back to the true initial state.
func (r *Runner) primeRun(ctx context.Context, machine *domain.Machine, rec *domain.RunRecord) error {
	raw, err := r.client.Complete(ctx, rec.Conversation)
	if err != nil {
		return fmt.Errorf("priming instance %d: %w", rec.InstanceID, err)
	}
	rec.Conversation = append(rec.Conversation, domain.Message{Role: domain.RoleAssistant, Content: raw})

	decoded, ok := llm.DecodeState(raw)
	if !ok || decoded != machine.InitialState {
		rec.IsTaskCorrect = false
		logErr := r.store.LogError(domain.ErrorEntry{
			RunID:         r.cfg.RunID,
			InstanceID:    rec.InstanceID,
			TurnNumber:    0,
			TaskLength:    0,
			ExpectedState: fmt.Sprintf("<state>%s</state>", machine.InitialState),
			RawResponse:   raw,
			FailureType:   domain.FailureInit,
		})
		if logErr != nil {
			return logErr
		}
	}
	if ok {
		rec.LastLLMState = decoded
	} else {
		rec.LastLLMState = machine.InitialState
	}
	rec.GroundTruthState = machine.InitialState

	if err := r.store.UpdateRun(rec); err != nil {
		return err
	}
	r.emit(Event{
		InstanceID:  rec.InstanceID,
		Turn:        0,
		GroundTruth: machine.InitialState,
		Reported:    decoded,
		TurnCorrect: ok && decoded == machine.InitialState,
		Failure:     primingFailure(ok, decoded, machine.InitialState),
	})
	return nil
}

func primingFailure(ok bool, decoded, initial string) string {
	if ok && decoded == initial {
		return ""
	}
	return string(domain.FailureInit)
}

// advanceTurn runs one scripted turn: simulate from the agent's last reported
// state, send the action list, grade the answer, checkpoint.
func (r *Runner) advanceTurn(ctx context.Context, machine *domain.Machine, rec *domain.RunRecord) error {
	turn := rec.CurrentTurn + 1
	taskLength := turn * r.cfg.StepsPerTurn

	seed := rec.LastLLMState
	if _, known := machine.Transitions[seed]; !known {
		// The agent drifted into a state the machine does not have; the
		// script cannot continue from there, so restart from ground truth.
		seed = rec.GroundTruthState
	}
	actions, endState := fsm.Simulate(machine, seed, r.cfg.StepsPerTurn)
	if len(actions) == 0 {
		return fmt.Errorf("instance %d: no actions from state %q", rec.InstanceID, seed)
	}

	rec.Conversation = append(rec.Conversation, domain.Message{
		Role:    domain.RoleUser,
		Content: strings.Join(actions, ", "),
	})

	raw, err := r.client.Complete(ctx, rec.Conversation)
	if err != nil {
		return fmt.Errorf("turn %d of instance %d: %w", turn, rec.InstanceID, err)
	}
	rec.Conversation = append(rec.Conversation, domain.Message{Role: domain.RoleAssistant, Content: raw})

	decoded, ok := llm.DecodeState(raw)
	turnCorrect := ok && decoded == endState

	var failure domain.FailureType
	switch {
	case !ok:
		failure = domain.FailureDecode
	case decoded != endState:
		failure = domain.FailureMismatch
	}
	if failure != "" {
		rec.IsTaskCorrect = false
		if err := r.store.LogError(domain.ErrorEntry{
			RunID:         r.cfg.RunID,
			InstanceID:    rec.InstanceID,
			TurnNumber:    turn,
			TaskLength:    taskLength,
			ExpectedState: fmt.Sprintf("<state>%s</state>", endState),
			RawResponse:   raw,
			FailureType:   failure,
		}); err != nil {
			return err
		}
	}

	rec.GroundTruthState = endState
	if ok {
		rec.LastLLMState = decoded
	}
	rec.CurrentTurn = turn

	if err := r.store.UpdateAggregate(r.cfg.RunID, taskLength, turnCorrect, rec.IsTaskCorrect); err != nil {
		return err
	}
	if err := r.store.UpdateRun(rec); err != nil {
		return err
	}

	r.emit(Event{
		InstanceID:  rec.InstanceID,
		Turn:        turn,
		TaskLength:  taskLength,
		GroundTruth: endState,
		Reported:    decoded,
		TurnCorrect: turnCorrect,
		Failure:     string(failure),
	})
	return nil
}

// FailedInstances returns the ids from InstanceErrors in ascending order.
func (s Summary) FailedInstances() []int {
	ids := make([]int, 0, len(s.InstanceErrors))
	for id := range s.InstanceErrors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
