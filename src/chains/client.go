package chains

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	ierrors "github.com/lspecian/intellirouter-go/src/errors"
	"github.com/lspecian/intellirouter-go/src/transports"
)

const chainsPath = "/v1/chains"

// CreateParams describes a new chain. Nil fields are left out of the request.
type CreateParams struct {
	Name         string
	Description  *string
	Steps        map[string]StepInput
	Dependencies []DependencyInput
	Config       map[string]any
}

// UpdateParams is a partial update: only non-nil fields are sent, so fields
// left nil keep their server-side value.
type UpdateParams struct {
	Name         *string
	Description  *string
	Steps        map[string]StepInput
	Dependencies []DependencyInput
	Config       map[string]any
}

// ListParams paginates List. Nil values are omitted so the server defaults apply.
type ListParams struct {
	Limit  *int
	Offset *int
}

// RunParams configures Run. With Stream set, Run returns an event stream
// instead of a completed execution.
type RunParams struct {
	Inputs map[string]any
	Config map[string]any
	Stream bool
}

// RunResult holds exactly one of Execution or Events.
type RunResult struct {
	Execution *ChainExecution
	Events    *EventStream
}

// AsyncRun holds exactly one of Execution or Events.
type AsyncRun struct {
	Execution *Future[*ChainExecution]
	Events    *AsyncEventStream
}

// Client is the chain API client. It holds no state besides its transport
// and never retries; retry policy belongs to the transport.
type Client struct {
	transport transports.Transport
	async     transports.AsyncTransport
}

// NewClient wraps t. If t also implements transports.AsyncTransport its
// asynchronous methods back the *Async operations.
func NewClient(t transports.Transport) *Client {
	return &Client{transport: t, async: transports.NewAsync(t)}
}

// Create validates every step and dependency, then creates the chain. Invalid
// input fails with a *errors.ValidationError before any request is made.
func (c *Client) Create(ctx context.Context, p CreateParams) (*Chain, error) {
	body, err := createBody(p)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Request(ctx, http.MethodPost, chainsPath, nil, body)
	if err != nil {
		return nil, err
	}
	return decodeChain(resp)
}

// Get fetches the chain with the given ID.
func (c *Client) Get(ctx context.Context, chainID string) (*Chain, error) {
	path, err := chainPath(chainID, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeChain(resp)
}

// List returns one page of chains. Any malformed element fails the call.
func (c *Client) List(ctx context.Context, p ListParams) ([]Chain, error) {
	resp, err := c.transport.Request(ctx, http.MethodGet, chainsPath, listQuery(p), nil)
	if err != nil {
		return nil, err
	}
	return decodeChainList(resp)
}

// Update patches the chain. Only fields set in p are sent.
func (c *Client) Update(ctx context.Context, chainID string, p UpdateParams) (*Chain, error) {
	path, err := chainPath(chainID, "")
	if err != nil {
		return nil, err
	}
	body, err := updateBody(p)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Request(ctx, http.MethodPatch, path, nil, body)
	if err != nil {
		return nil, err
	}
	return decodeChain(resp)
}

// Delete removes the chain. Any response body is ignored.
func (c *Client) Delete(ctx context.Context, chainID string) error {
	path, err := chainPath(chainID, "")
	if err != nil {
		return err
	}
	_, err = c.transport.Request(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// Run executes the chain. With p.Stream set it behaves exactly like Stream
// and no other request is made.
func (c *Client) Run(ctx context.Context, chainID string, p RunParams) (*RunResult, error) {
	if p.Stream {
		events, err := c.Stream(ctx, chainID, p.Inputs, p.Config)
		if err != nil {
			return nil, err
		}
		return &RunResult{Events: events}, nil
	}
	path, err := chainPath(chainID, "/run")
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Request(ctx, http.MethodPost, path, nil, runBody(p.Inputs, p.Config, false))
	if err != nil {
		return nil, err
	}
	exec, err := decodeExecution(resp)
	if err != nil {
		return nil, err
	}
	return &RunResult{Execution: exec}, nil
}

// Stream executes the chain and returns its events in server order. The
// caller must drain or Close the stream.
func (c *Client) Stream(ctx context.Context, chainID string, inputs, config map[string]any) (*EventStream, error) {
	path, err := chainPath(chainID, "/run")
	if err != nil {
		return nil, err
	}
	sr, err := c.transport.Stream(ctx, http.MethodPost, path, nil, runBody(inputs, config, true))
	if err != nil {
		return nil, err
	}
	return newEventStream(sr), nil
}

// CreateAsync is the non-blocking form of Create.
func (c *Client) CreateAsync(ctx context.Context, p CreateParams) *Future[*Chain] {
	body, err := createBody(p)
	if err != nil {
		return failedFuture[*Chain](err)
	}
	return newFuture(c.async.RequestAsync(ctx, http.MethodPost, chainsPath, nil, body), decodeChain)
}

// GetAsync is the non-blocking form of Get.
func (c *Client) GetAsync(ctx context.Context, chainID string) *Future[*Chain] {
	path, err := chainPath(chainID, "")
	if err != nil {
		return failedFuture[*Chain](err)
	}
	return newFuture(c.async.RequestAsync(ctx, http.MethodGet, path, nil, nil), decodeChain)
}

// ListAsync is the non-blocking form of List.
func (c *Client) ListAsync(ctx context.Context, p ListParams) *Future[[]Chain] {
	return newFuture(c.async.RequestAsync(ctx, http.MethodGet, chainsPath, listQuery(p), nil), decodeChainList)
}

// UpdateAsync is the non-blocking form of Update.
func (c *Client) UpdateAsync(ctx context.Context, chainID string, p UpdateParams) *Future[*Chain] {
	path, err := chainPath(chainID, "")
	if err != nil {
		return failedFuture[*Chain](err)
	}
	body, err := updateBody(p)
	if err != nil {
		return failedFuture[*Chain](err)
	}
	return newFuture(c.async.RequestAsync(ctx, http.MethodPatch, path, nil, body), decodeChain)
}

// DeleteAsync is the non-blocking form of Delete.
func (c *Client) DeleteAsync(ctx context.Context, chainID string) *Future[struct{}] {
	path, err := chainPath(chainID, "")
	if err != nil {
		return failedFuture[struct{}](err)
	}
	return newFuture(c.async.RequestAsync(ctx, http.MethodDelete, path, nil, nil), func(map[string]any) (struct{}, error) {
		return struct{}{}, nil
	})
}

// RunAsync is the non-blocking form of Run. Exactly one of the result's fields is set.
func (c *Client) RunAsync(ctx context.Context, chainID string, p RunParams) *AsyncRun {
	if p.Stream {
		return &AsyncRun{Events: c.StreamAsync(ctx, chainID, p.Inputs, p.Config)}
	}
	path, err := chainPath(chainID, "/run")
	if err != nil {
		return &AsyncRun{Execution: failedFuture[*ChainExecution](err)}
	}
	resp := c.async.RequestAsync(ctx, http.MethodPost, path, nil, runBody(p.Inputs, p.Config, false))
	return &AsyncRun{Execution: newFuture(resp, decodeExecution)}
}

// StreamAsync opens the event stream without blocking. Cancelling ctx or
// calling Close on the result closes the connection.
func (c *Client) StreamAsync(ctx context.Context, chainID string, inputs, config map[string]any) *AsyncEventStream {
	path, err := chainPath(chainID, "/run")
	if err != nil {
		return failedAsyncEventStream(err)
	}
	ctx, cancel := context.WithCancel(ctx)
	frames := c.async.StreamAsync(ctx, http.MethodPost, path, nil, runBody(inputs, config, true))
	return newAsyncEventStream(ctx, frames, cancel)
}

func chainPath(chainID, suffix string) (string, error) {
	if chainID == "" {
		return "", ierrors.Validationf(errors.New("chain id is empty"), "invalid chain id")
	}
	return chainsPath + "/" + url.PathEscape(chainID) + suffix, nil
}

func createBody(p CreateParams) (map[string]any, error) {
	if p.Name == "" {
		return nil, ierrors.Validationf(errors.New(`missing required field "name"`), "invalid chain")
	}
	body := map[string]any{"name": p.Name}
	if p.Description != nil {
		body["description"] = *p.Description
	}
	if err := putGraph(body, p.Steps, p.Dependencies, p.Config); err != nil {
		return nil, err
	}
	return body, nil
}

func updateBody(p UpdateParams) (map[string]any, error) {
	body := map[string]any{}
	if p.Name != nil {
		body["name"] = *p.Name
	}
	if p.Description != nil {
		body["description"] = *p.Description
	}
	if err := putGraph(body, p.Steps, p.Dependencies, p.Config); err != nil {
		return nil, err
	}
	return body, nil
}

func putGraph(body map[string]any, steps map[string]StepInput, deps []DependencyInput, config map[string]any) error {
	if steps != nil {
		encoded, err := encodeSteps(steps)
		if err != nil {
			return err
		}
		body["steps"] = encoded
	}
	if deps != nil {
		encoded, err := encodeDependencies(deps)
		if err != nil {
			return err
		}
		body["dependencies"] = encoded
	}
	if config != nil {
		body["config"] = config
	}
	return nil
}

func listQuery(p ListParams) map[string]any {
	if p.Limit == nil && p.Offset == nil {
		return nil
	}
	q := map[string]any{}
	if p.Limit != nil {
		q["limit"] = *p.Limit
	}
	if p.Offset != nil {
		q["offset"] = *p.Offset
	}
	return q
}

func runBody(inputs, config map[string]any, stream bool) map[string]any {
	if inputs == nil {
		inputs = map[string]any{}
	}
	body := map[string]any{"inputs": inputs, "stream": stream}
	if config != nil {
		body["config"] = config
	}
	return body
}

func decodeChain(resp map[string]any) (*Chain, error) {
	if resp == nil {
		return nil, ierrors.Validationf(errors.New("empty response body"), "invalid chain response")
	}
	ch, err := parseChain(resp)
	if err != nil {
		return nil, ierrors.Validationf(err, "invalid chain response")
	}
	return &ch, nil
}

func decodeChainList(resp map[string]any) ([]Chain, error) {
	raw, ok := resp["chains"]
	if !ok {
		return nil, ierrors.Validationf(errors.New(`missing field "chains"`), "invalid chain list response")
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, ierrors.Validationf(fmt.Errorf(`field "chains": expected array, got %s`, typeName(raw)), "invalid chain list response")
	}
	out := make([]Chain, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, ierrors.Validationf(fmt.Errorf("chains[%d]: expected object, got %s", i, typeName(item)), "invalid chain list response")
		}
		ch, err := parseChain(obj)
		if err != nil {
			return nil, ierrors.Validationf(fmt.Errorf("chains[%d]: %w", i, err), "invalid chain list response")
		}
		out = append(out, ch)
	}
	return out, nil
}

func decodeExecution(resp map[string]any) (*ChainExecution, error) {
	if resp == nil {
		return nil, ierrors.Validationf(errors.New("empty response body"), "invalid chain execution response")
	}
	exec, err := parseExecution(resp)
	if err != nil {
		return nil, ierrors.Validationf(err, "invalid chain execution response")
	}
	return &exec, nil
}
