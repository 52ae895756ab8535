package schemas

import "time"

// -- Flow Reporting Schemas --

// OutcomeStatus classifies what happened to one field during a pass.
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// FieldOutcome records the result of driving one field.
type FieldOutcome struct {
	Key    string        `json:"key"`
	Type   ControlType   `json:"type"`
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Value  string        `json:"value,omitempty"`
}

// PassSummary aggregates the outcomes of one fill pass.
type PassSummary struct {
	Step       int            `json:"step"`
	Correction bool           `json:"correction"`
	Scope      string         `json:"scope,omitempty"`
	Outcomes   []FieldOutcome `json:"outcomes"`
}

// Count returns how many outcomes carry the given status.
func (p PassSummary) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range p.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Decision is the navigation verdict after a proceed attempt.
type Decision string

const (
	DecisionContinue Decision = "CONTINUE"
	DecisionCorrect  Decision = "CORRECT"
	DecisionStopped  Decision = "STOPPED"
)

// RunStatus tracks a flow run from the host's point of view.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// FlowReport is the complete record of one autonomous run.
type FlowReport struct {
	RunID       string        `json:"runId"`
	StartURL    string        `json:"startUrl"`
	FinalURL    string        `json:"finalUrl"`
	Status      RunStatus     `json:"status"`
	Steps       int           `json:"steps"`
	Corrections int           `json:"corrections"`
	StopReason  string        `json:"stopReason"`
	Error       string        `json:"error,omitempty"`
	Passes      []PassSummary `json:"passes"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
}
