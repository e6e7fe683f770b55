package chains

import (
	"fmt"

	"github.com/spf13/cast"

	ierrors "github.com/lspecian/intellirouter-go/src/errors"
)

// ParseChainStep builds a ChainStep from a decoded JSON object.
func ParseChainStep(raw map[string]any) (ChainStep, error) {
	s, err := parseStep(raw)
	if err != nil {
		return ChainStep{}, ierrors.Validationf(err, "invalid chain step")
	}
	return s, nil
}

// ParseChainDependency builds a ChainDependency from a decoded JSON object.
func ParseChainDependency(raw map[string]any) (ChainDependency, error) {
	d, err := parseDependency(raw)
	if err != nil {
		return ChainDependency{}, ierrors.Validationf(err, "invalid chain dependency")
	}
	return d, nil
}

// ParseChain builds a Chain. Steps and dependencies are parsed element-wise
// and the first invalid element fails the whole chain.
func ParseChain(raw map[string]any) (Chain, error) {
	c, err := parseChain(raw)
	if err != nil {
		return Chain{}, ierrors.Validationf(err, "invalid chain")
	}
	return c, nil
}

// ParseChainExecutionStepResult builds a step result. execution_time may be
// a number or a numeric string.
func ParseChainExecutionStepResult(raw map[string]any) (ChainExecutionStepResult, error) {
	r, err := parseStepResult(raw)
	if err != nil {
		return ChainExecutionStepResult{}, ierrors.Validationf(err, "invalid chain step result")
	}
	return r, nil
}

// ParseChainExecution builds an execution, parsing step_results element-wise.
func ParseChainExecution(raw map[string]any) (ChainExecution, error) {
	e, err := parseExecution(raw)
	if err != nil {
		return ChainExecution{}, ierrors.Validationf(err, "invalid chain execution")
	}
	return e, nil
}

// ParseChainExecutionEvent builds an event. Unknown event types are rejected.
func ParseChainExecutionEvent(raw map[string]any) (ChainExecutionEvent, error) {
	e, err := parseEvent(raw)
	if err != nil {
		return ChainExecutionEvent{}, ierrors.Validationf(err, "invalid chain execution event")
	}
	return e, nil
}

func parseStep(raw map[string]any) (s ChainStep, err error) {
	if raw == nil {
		return s, fmt.Errorf("expected object, got null")
	}
	if s.ID, err = requiredString(raw, "id"); err != nil {
		return s, err
	}
	if s.Type, err = requiredString(raw, "type"); err != nil {
		return s, err
	}
	if s.Name, err = optionalString(raw, "name"); err != nil {
		return s, err
	}
	if s.Description, err = optionalString(raw, "description"); err != nil {
		return s, err
	}
	if s.Inputs, err = optionalObject(raw, "inputs"); err != nil {
		return s, err
	}
	if s.Outputs, err = optionalStringMap(raw, "outputs"); err != nil {
		return s, err
	}
	if s.Config, err = optionalObject(raw, "config"); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func parseDependency(raw map[string]any) (d ChainDependency, err error) {
	if raw == nil {
		return d, fmt.Errorf("expected object, got null")
	}
	if d.DependentStep, err = requiredString(raw, "dependent_step"); err != nil {
		return d, err
	}
	if d.RequiredStep, err = requiredString(raw, "required_step"); err != nil {
		return d, err
	}
	t, err := optionalString(raw, "type")
	if err != nil {
		return d, err
	}
	d.Type = DependencySimple
	if t != nil {
		d.Type = DependencyType(*t)
	}
	if d.Condition, err = optionalObject(raw, "condition"); err != nil {
		return d, err
	}
	return d, d.Validate()
}

func parseChain(raw map[string]any) (c Chain, err error) {
	if raw == nil {
		return c, fmt.Errorf("expected object, got null")
	}
	if c.ID, err = requiredString(raw, "id"); err != nil {
		return c, err
	}
	if c.Name, err = optionalString(raw, "name"); err != nil {
		return c, err
	}
	if c.Description, err = optionalString(raw, "description"); err != nil {
		return c, err
	}

	steps, err := optionalObject(raw, "steps")
	if err != nil {
		return c, err
	}
	if steps != nil {
		c.Steps = make(map[string]ChainStep, len(steps))
		for id, v := range steps {
			obj, ok := v.(map[string]any)
			if !ok {
				return c, fmt.Errorf("steps[%q]: expected object, got %s", id, typeName(v))
			}
			s, err := parseStep(obj)
			if err != nil {
				return c, fmt.Errorf("steps[%q]: %w", id, err)
			}
			c.Steps[id] = s
		}
	}

	deps, err := optionalArray(raw, "dependencies")
	if err != nil {
		return c, err
	}
	if deps != nil {
		c.Dependencies = make([]ChainDependency, 0, len(deps))
		for i, v := range deps {
			obj, ok := v.(map[string]any)
			if !ok {
				return c, fmt.Errorf("dependencies[%d]: expected object, got %s", i, typeName(v))
			}
			d, err := parseDependency(obj)
			if err != nil {
				return c, fmt.Errorf("dependencies[%d]: %w", i, err)
			}
			c.Dependencies = append(c.Dependencies, d)
		}
	}

	if c.Config, err = optionalObject(raw, "config"); err != nil {
		return c, err
	}
	return c, nil
}

func parseStepResult(raw map[string]any) (r ChainExecutionStepResult, err error) {
	if raw == nil {
		return r, fmt.Errorf("expected object, got null")
	}
	if r.StepID, err = requiredString(raw, "step_id"); err != nil {
		return r, err
	}
	if r.Outputs, err = optionalObject(raw, "outputs"); err != nil {
		return r, err
	}
	if r.Error, err = optionalString(raw, "error"); err != nil {
		return r, err
	}
	if r.ExecutionTime, err = optionalSeconds(raw, "execution_time"); err != nil {
		return r, err
	}
	return r, nil
}

func parseExecution(raw map[string]any) (e ChainExecution, err error) {
	if raw == nil {
		return e, fmt.Errorf("expected object, got null")
	}
	if e.ChainID, err = requiredString(raw, "chain_id"); err != nil {
		return e, err
	}
	status, err := requiredString(raw, "status")
	if err != nil {
		return e, err
	}
	e.Status = ExecutionStatus(status)
	if !e.Status.Valid() {
		return e, fmt.Errorf("field \"status\": unknown execution status %q", status)
	}

	results, err := optionalObject(raw, "step_results")
	if err != nil {
		return e, err
	}
	if results != nil {
		e.StepResults = make(map[string]ChainExecutionStepResult, len(results))
		for id, v := range results {
			obj, ok := v.(map[string]any)
			if !ok {
				return e, fmt.Errorf("step_results[%q]: expected object, got %s", id, typeName(v))
			}
			r, err := parseStepResult(obj)
			if err != nil {
				return e, fmt.Errorf("step_results[%q]: %w", id, err)
			}
			e.StepResults[id] = r
		}
	}

	if e.Outputs, err = optionalObject(raw, "outputs"); err != nil {
		return e, err
	}
	if e.Error, err = optionalString(raw, "error"); err != nil {
		return e, err
	}
	if e.ExecutionTime, err = optionalSeconds(raw, "execution_time"); err != nil {
		return e, err
	}
	return e, nil
}

func parseEvent(raw map[string]any) (e ChainExecutionEvent, err error) {
	if raw == nil {
		return e, fmt.Errorf("expected object, got null")
	}
	t, err := requiredString(raw, "event_type")
	if err != nil {
		return e, err
	}
	e.EventType = EventType(t)
	if !e.EventType.Valid() {
		return e, fmt.Errorf("field \"event_type\": unknown event type %q", t)
	}
	if e.ChainID, err = requiredString(raw, "chain_id"); err != nil {
		return e, err
	}
	if e.StepID, err = optionalString(raw, "step_id"); err != nil {
		return e, err
	}
	if e.Data, err = optionalObject(raw, "data"); err != nil {
		return e, err
	}
	return e, nil
}

func requiredString(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %s", key, typeName(v))
	}
	return s, nil
}

// Optional fields treat an explicit null the same as an absent key.

func optionalString(raw map[string]any, key string) (*string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("field %q: expected string, got %s", key, typeName(v))
	}
	return &s, nil
}

func optionalObject(raw map[string]any, key string) (map[string]any, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected object, got %s", key, typeName(v))
	}
	return m, nil
}

func optionalArray(raw map[string]any, key string) ([]any, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	a, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected array, got %s", key, typeName(v))
	}
	return a, nil
}

func optionalStringMap(raw map[string]any, key string) (map[string]string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, item := range m {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("field %q: value for %q: expected string, got %s", key, k, typeName(item))
			}
			out[k] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("field %q: expected object, got %s", key, typeName(v))
}

// optionalSeconds accepts JSON numbers and numeric strings.
func optionalSeconds(raw map[string]any, key string) (*float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	if _, isBool := v.(bool); isBool {
		return nil, fmt.Errorf("field %q: expected number, got boolean", key)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, fmt.Errorf("field %q: expected number, got %s", key, typeName(v))
	}
	return &f, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
