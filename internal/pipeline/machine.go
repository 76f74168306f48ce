package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/fitment-ingest/internal/apperr"
)

// Stage is one ordered step of the pipeline.
type Stage int

const (
	StageUpload Stage = iota
	StageAIMapping
	StageTransform
	StageValidate
	StageReview
)

// NumStages is the number of stages in a run.
const NumStages = 5

var stageNames = [NumStages]string{"upload", "ai_mapping", "transform", "validate", "review"}

func (s Stage) String() string {
	if s < 0 || int(s) >= NumStages {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

func (s Stage) Valid() bool { return s >= 0 && int(s) < NumStages }

// ParseStage accepts a stage name or its index.
func ParseStage(v string) (Stage, error) {
	for i, n := range stageNames {
		if n == v {
			return Stage(i), nil
		}
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err == nil && Stage(i).Valid() {
		return Stage(i), nil
	}
	return 0, apperr.Validation("unknown stage %q", v)
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ErrPrecondition marks a fatal precondition failure, such as mapping without an upload id.
var ErrPrecondition = errors.New("pipeline: precondition failed")

// StageState is the status record of one stage.
type StageState struct {
	Stage     Stage     `json:"-"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Outcome is the result handed to Advance.
type Outcome struct {
	Err     error
	Message string
}

// Machine owns stage ordering. It is not safe for concurrent use.
type Machine struct {
	states   [NumStages]StageState
	uploadID string
	now      func() time.Time
}

// NewMachine returns a machine with every stage pending. now may be nil.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	m := &Machine{now: now}
	for i := range m.states {
		m.states[i] = StageState{Stage: Stage(i), Name: Stage(i).String(), Status: StatusPending}
	}
	return m
}

// Active returns the stage currently in progress.
func (m *Machine) Active() (Stage, bool) {
	for _, st := range m.states {
		if st.Status == StatusInProgress {
			return st.Stage, true
		}
	}
	return 0, false
}

func (m *Machine) State(s Stage) StageState { return m.states[s] }

func (m *Machine) Status(s Stage) Status { return m.states[s].Status }

// Completed reports whether every stage up to and including s is completed.
func (m *Machine) Completed(s Stage) bool {
	for i := StageUpload; i <= s; i++ {
		if m.states[i].Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (m *Machine) UploadID() string { return m.uploadID }

// SetUploadID records the id produced by the Upload stage.
func (m *Machine) SetUploadID(id string) { m.uploadID = id }

// Enter moves s to in_progress. Every earlier stage must be completed and no stage may be running.
// Re-entering a finished stage resets only that stage.
func (m *Machine) Enter(s Stage) error {
	if !s.Valid() {
		return apperr.Sequence("unknown stage %d", int(s))
	}
	if active, ok := m.Active(); ok {
		if active == s {
			return apperr.Sequence("%s is already in progress", s)
		}
		return apperr.Sequence("cannot start %s while %s is in progress", s, active)
	}
	for p := StageUpload; p < s; p++ {
		if m.states[p].Status != StatusCompleted {
			return apperr.Sequence("cannot start %s before %s is completed", s, p)
		}
	}
	if s == StageAIMapping && m.uploadID == "" {
		return fmt.Errorf("%w: %s requires an upload id", ErrPrecondition, s)
	}
	m.set(s, StatusInProgress, "")
	return nil
}

// Advance finishes the in-progress stage s with outcome.
func (m *Machine) Advance(s Stage, o Outcome) error {
	if !s.Valid() {
		return apperr.Sequence("unknown stage %d", int(s))
	}
	if m.states[s].Status != StatusInProgress {
		return apperr.Sequence("cannot advance %s: it is %s", s, m.states[s].Status)
	}
	if o.Err != nil {
		msg := o.Message
		if msg == "" {
			msg = apperr.Message(o.Err)
		}
		m.set(s, StatusError, msg)
		return nil
	}
	m.set(s, StatusCompleted, o.Message)
	return nil
}

// Revert restores an in-progress stage to the state it had before Enter.
// It is used when a result is discarded rather than committed.
func (m *Machine) Revert(s Stage, prev StageState) error {
	if m.states[s].Status != StatusInProgress {
		return apperr.Sequence("cannot revert %s: it is %s", s, m.states[s].Status)
	}
	prev.Stage, prev.Name = s, s.String()
	m.states[s] = prev
	return nil
}

func (m *Machine) set(s Stage, st Status, msg string) {
	m.states[s].Status = st
	m.states[s].Message = msg
	m.states[s].UpdatedAt = m.now()
}

// Snapshot returns a copy of every stage state in order.
func (m *Machine) Snapshot() []StageState {
	out := make([]StageState, NumStages)
	copy(out, m.states[:])
	return out
}

// Restore loads states previously returned by Snapshot.
func (m *Machine) Restore(states []StageState, uploadID string) error {
	if len(states) != NumStages {
		return fmt.Errorf("restore: want %d stages, got %d", NumStages, len(states))
	}
	var next [NumStages]StageState
	running := 0
	for i, st := range states {
		st.Stage, st.Name = Stage(i), Stage(i).String()
		if st.Status == StatusInProgress {
			running++
		}
		next[i] = st
	}
	if running > 1 {
		return apperr.Sequence("restore: %d stages in progress", running)
	}
	m.states = next
	m.uploadID = uploadID
	return nil
}
