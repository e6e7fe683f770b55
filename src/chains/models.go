// Package chains is the client for the IntelliRouter chain API: typed chain
// entities, their validating constructors, and blocking, streaming and
// asynchronous operations over a transports.Transport.
package chains

import (
	"errors"
	"fmt"

	"github.com/lspecian/intellirouter-go/src/json"
)

// DependencyType is the kind of edge between two steps.
type DependencyType string

const (
	DependencySimple      DependencyType = "simple"
	DependencyConditional DependencyType = "conditional"
)

// Valid reports whether t is a known dependency type.
func (t DependencyType) Valid() bool {
	return t == DependencySimple || t == DependencyConditional
}

// ExecutionStatus is the server-reported state of a run.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EventType tags a ChainExecutionEvent.
type EventType string

const (
	EventStepStarted    EventType = "step_started"
	EventStepCompleted  EventType = "step_completed"
	EventStepFailed     EventType = "step_failed"
	EventChainCompleted EventType = "chain_completed"
	EventChainFailed    EventType = "chain_failed"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventStepStarted, EventStepCompleted, EventStepFailed, EventChainCompleted, EventChainFailed:
		return true
	}
	return false
}

// IsStepEvent reports whether the event concerns a single step.
func (t EventType) IsStepEvent() bool {
	return t == EventStepStarted || t == EventStepCompleted || t == EventStepFailed
}

// ChainStep is one node of a chain. A nil pointer or map means the field is
// unset and is left out of requests; a non-nil empty value is sent as is.
type ChainStep struct {
	ID          string
	Type        string
	Name        *string
	Description *string
	Inputs      map[string]any
	Outputs     map[string]string
	Config      map[string]any
}

// Validate checks that the required fields are set.
func (s ChainStep) Validate() error {
	if s.ID == "" {
		return errors.New(`missing required field "id"`)
	}
	if s.Type == "" {
		return errors.New(`missing required field "type"`)
	}
	return nil
}

// ToMap returns the wire form, omitting unset optional fields.
func (s ChainStep) ToMap() map[string]any {
	m := map[string]any{"id": s.ID, "type": s.Type}
	putString(m, "name", s.Name)
	putString(m, "description", s.Description)
	if s.Inputs != nil {
		m["inputs"] = s.Inputs
	}
	if s.Outputs != nil {
		m["outputs"] = s.Outputs
	}
	if s.Config != nil {
		m["config"] = s.Config
	}
	return m
}

func (s ChainStep) MarshalJSON() ([]byte, error) { return json.Marshal(s.ToMap()) }

func (s *ChainStep) UnmarshalJSON(b []byte) error {
	return unmarshalVia(b, ParseChainStep, s)
}

// ChainDependency is a directed edge: DependentStep runs after RequiredStep.
// A zero Type means simple.
type ChainDependency struct {
	DependentStep string
	RequiredStep  string
	Type          DependencyType
	Condition     map[string]any
}

// Validate checks required fields, the type, and that conditional edges carry a condition.
func (d ChainDependency) Validate() error {
	if d.DependentStep == "" {
		return errors.New(`missing required field "dependent_step"`)
	}
	if d.RequiredStep == "" {
		return errors.New(`missing required field "required_step"`)
	}
	t := d.normalized().Type
	if !t.Valid() {
		return fmt.Errorf("field \"type\": unknown dependency type %q", t)
	}
	if t == DependencyConditional && d.Condition == nil {
		return errors.New(`conditional dependency requires "condition"`)
	}
	return nil
}

func (d ChainDependency) normalized() ChainDependency {
	if d.Type == "" {
		d.Type = DependencySimple
	}
	return d
}

// ToMap returns the wire form with Type defaulted to simple.
func (d ChainDependency) ToMap() map[string]any {
	d = d.normalized()
	m := map[string]any{
		"dependent_step": d.DependentStep,
		"required_step":  d.RequiredStep,
		"type":           string(d.Type),
	}
	if d.Condition != nil {
		m["condition"] = d.Condition
	}
	return m
}

func (d ChainDependency) MarshalJSON() ([]byte, error) { return json.Marshal(d.ToMap()) }

func (d *ChainDependency) UnmarshalJSON(b []byte) error {
	return unmarshalVia(b, ParseChainDependency, d)
}

// Chain is the server-persisted aggregate of steps and dependencies.
type Chain struct {
	ID           string
	Name         *string
	Description  *string
	Steps        map[string]ChainStep
	Dependencies []ChainDependency
	Config       map[string]any
}

// ToMap returns the wire form, nesting steps and dependencies as maps.
func (c Chain) ToMap() map[string]any {
	m := map[string]any{"id": c.ID}
	putString(m, "name", c.Name)
	putString(m, "description", c.Description)
	if c.Steps != nil {
		steps := make(map[string]any, len(c.Steps))
		for id, s := range c.Steps {
			steps[id] = s.ToMap()
		}
		m["steps"] = steps
	}
	if c.Dependencies != nil {
		deps := make([]any, 0, len(c.Dependencies))
		for _, d := range c.Dependencies {
			deps = append(deps, d.ToMap())
		}
		m["dependencies"] = deps
	}
	if c.Config != nil {
		m["config"] = c.Config
	}
	return m
}

func (c Chain) MarshalJSON() ([]byte, error) { return json.Marshal(c.ToMap()) }

func (c *Chain) UnmarshalJSON(b []byte) error {
	return unmarshalVia(b, ParseChain, c)
}

// ChainExecutionStepResult is the outcome of one step within a run.
type ChainExecutionStepResult struct {
	StepID        string
	Outputs       map[string]any
	Error         *string
	ExecutionTime *float64
}

// ToMap returns the wire form, omitting unset optional fields.
func (r ChainExecutionStepResult) ToMap() map[string]any {
	m := map[string]any{"step_id": r.StepID}
	if r.Outputs != nil {
		m["outputs"] = r.Outputs
	}
	putString(m, "error", r.Error)
	if r.ExecutionTime != nil {
		m["execution_time"] = *r.ExecutionTime
	}
	return m
}

func (r ChainExecutionStepResult) MarshalJSON() ([]byte, error) { return json.Marshal(r.ToMap()) }

func (r *ChainExecutionStepResult) UnmarshalJSON(b []byte) error {
	return unmarshalVia(b, ParseChainExecutionStepResult, r)
}

// ChainExecution is a completed or in-flight run as reported by the server.
type ChainExecution struct {
	ChainID       string
	Status        ExecutionStatus
	StepResults   map[string]ChainExecutionStepResult
	Outputs       map[string]any
	Error         *string
	ExecutionTime *float64
}

// ToMap returns the wire form, nesting step results as maps.
func (e ChainExecution) ToMap() map[string]any {
	m := map[string]any{"chain_id": e.ChainID, "status": string(e.Status)}
	if e.StepResults != nil {
		results := make(map[string]any, len(e.StepResults))
		for id, r := range e.StepResults {
			results[id] = r.ToMap()
		}
		m["step_results"] = results
	}
	if e.Outputs != nil {
		m["outputs"] = e.Outputs
	}
	putString(m, "error", e.Error)
	if e.ExecutionTime != nil {
		m["execution_time"] = *e.ExecutionTime
	}
	return m
}

func (e ChainExecution) MarshalJSON() ([]byte, error) { return json.Marshal(e.ToMap()) }

func (e *ChainExecution) UnmarshalJSON(b []byte) error {
	return unmarshalVia(b, ParseChainExecution, e)
}

// ChainExecutionEvent is one notification of a streamed run. StepID is set
// for step_* events only.
type ChainExecutionEvent struct {
	EventType EventType
	ChainID   string
	StepID    *string
	Data      map[string]any
}

// ToMap returns the wire form, omitting unset optional fields.
func (e ChainExecutionEvent) ToMap() map[string]any {
	m := map[string]any{"event_type": string(e.EventType), "chain_id": e.ChainID}
	putString(m, "step_id", e.StepID)
	if e.Data != nil {
		m["data"] = e.Data
	}
	return m
}

func (e ChainExecutionEvent) MarshalJSON() ([]byte, error) { return json.Marshal(e.ToMap()) }

func (e *ChainExecutionEvent) UnmarshalJSON(b []byte) error {
	return unmarshalVia(b, ParseChainExecutionEvent, e)
}

// Outputs returns data["outputs"] when it is an object.
func (e ChainExecutionEvent) Outputs() map[string]any {
	out, _ := e.Data["outputs"].(map[string]any)
	return out
}

func putString(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

func unmarshalVia[T any](b []byte, parse func(map[string]any) (T, error), dst *T) error {
	raw, err := json.DecodeObject(b)
	if err != nil {
		return err
	}
	v, err := parse(raw)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// String returns a pointer to s, for optional fields.
func String(s string) *string { return &s }

// Int returns a pointer to n, for optional parameters.
func Int(n int) *int { return &n }
