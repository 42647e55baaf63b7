// Package statemachine implements the Run/Session/Step state diagrams and
// their dict-serialisable persistence contract. Grounded on the teacher's
// internal/tasks status-constant naming (ExecutionStatusPending/Failed/...)
// generalised to the three-entity diagram spec.md §3/§4.I describes.
package statemachine

import (
	"time"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

type RunStatus string

const (
	RunRunning     RunStatus = "RUNNING"
	RunDegraded    RunStatus = "DEGRADED"
	RunHalted      RunStatus = "HALTED"
	RunQuarantined RunStatus = "QUARANTINED"
	RunSucceeded   RunStatus = "SUCCEEDED"
	RunFailed      RunStatus = "FAILED"
	RunCanceled    RunStatus = "CANCELED"
)

var runTransitions = map[RunStatus]map[RunStatus]bool{
	RunRunning: {
		RunDegraded:    true,
		RunHalted:      true,
		RunQuarantined: true,
		RunSucceeded:   true,
		RunFailed:      true,
		RunCanceled:    true,
	},
	RunDegraded: {
		RunRunning: true,
	},
	RunHalted: {
		RunFailed:   true,
		RunCanceled: true,
	},
}

var runTerminal = map[RunStatus]bool{
	RunSucceeded: true,
	RunFailed:    true,
	RunCanceled:  true,
}

type SessionStatus string

const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionHalted    SessionStatus = "HALTED"
	SessionSucceeded SessionStatus = "SUCCEEDED"
	SessionFailed    SessionStatus = "FAILED"
	SessionCanceled  SessionStatus = "CANCELED"
)

var sessionTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionRunning: {
		SessionHalted:    true,
		SessionSucceeded: true,
		SessionFailed:    true,
		SessionCanceled:  true,
	},
	SessionHalted: {
		SessionFailed:   true,
		SessionCanceled: true,
	},
}

var sessionTerminal = map[SessionStatus]bool{
	SessionSucceeded: true,
	SessionFailed:    true,
	SessionCanceled:  true,
}

type StepStatus string

const (
	StepStarted   StepStatus = "STARTED"
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	StepCanceled  StepStatus = "CANCELED"
)

var stepTransitions = map[StepStatus]map[StepStatus]bool{
	StepStarted: {
		StepSucceeded: true,
		StepFailed:    true,
		StepCanceled:  true,
	},
}

var stepTerminal = map[StepStatus]bool{
	StepSucceeded: true,
	StepFailed:    true,
	StepCanceled:  true,
}

// Run is a long-running orchestration's top-level record.
type Run struct {
	RunID      string
	Status     RunStatus
	Reason     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Session is one conversational or agentic episode within a Run.
type Session struct {
	SessionID  string
	RunID      string
	Status     SessionStatus
	Reason     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Step is one LLM/tool call within a Session.
type Step struct {
	StepID     string
	SessionID  string
	Status     StepStatus
	Reason     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// TransitionRun validates and applies newStatus to run in place, raising
// InvalidTransitionError for a combination absent from the table.
func TransitionRun(run *Run, newStatus RunStatus, reason string) error {
	allowed := runTransitions[run.Status]
	if allowed == nil || !allowed[newStatus] {
		return safetytypes.NewInvalidTransition("run", string(run.Status), string(newStatus))
	}
	run.Status = newStatus
	run.Reason = reason
	if runTerminal[newStatus] {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	return nil
}

func TransitionSession(session *Session, newStatus SessionStatus, reason string) error {
	allowed := sessionTransitions[session.Status]
	if allowed == nil || !allowed[newStatus] {
		return safetytypes.NewInvalidTransition("session", string(session.Status), string(newStatus))
	}
	session.Status = newStatus
	session.Reason = reason
	if sessionTerminal[newStatus] {
		now := time.Now().UTC()
		session.FinishedAt = &now
	}
	return nil
}

func TransitionStep(step *Step, newStatus StepStatus, reason string) error {
	allowed := stepTransitions[step.Status]
	if allowed == nil || !allowed[newStatus] {
		return safetytypes.NewInvalidTransition("step", string(step.Status), string(newStatus))
	}
	step.Status = newStatus
	step.Reason = reason
	if stepTerminal[newStatus] {
		now := time.Now().UTC()
		step.FinishedAt = &now
	}
	return nil
}

// RunSnapshot renders run as a plain map keyed by the persistence
// contract's expectation of enum-string values, suitable for any
// save(data map) backend.
func RunSnapshot(run *Run) map[string]any {
	m := map[string]any{
		"run_id":     run.RunID,
		"status":     string(run.Status),
		"reason":     run.Reason,
		"started_at": run.StartedAt.Format(time.RFC3339Nano),
	}
	if run.FinishedAt != nil {
		m["finished_at"] = run.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func SessionSnapshot(session *Session) map[string]any {
	m := map[string]any{
		"session_id": session.SessionID,
		"run_id":     session.RunID,
		"status":     string(session.Status),
		"reason":     session.Reason,
		"started_at": session.StartedAt.Format(time.RFC3339Nano),
	}
	if session.FinishedAt != nil {
		m["finished_at"] = session.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func StepSnapshot(step *Step) map[string]any {
	m := map[string]any{
		"step_id":    step.StepID,
		"session_id": step.SessionID,
		"status":     string(step.Status),
		"reason":     step.Reason,
		"started_at": step.StartedAt.Format(time.RFC3339Nano),
	}
	if step.FinishedAt != nil {
		m["finished_at"] = step.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}
