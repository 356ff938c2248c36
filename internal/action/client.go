// Package action runs one-shot requests where only the latest submission
// counts, such as price predictions for a set of properties.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"market-dashboard/internal/apiclient"
	"market-dashboard/internal/market"
)

// DefaultServiceName prefixes user-facing failure messages.
const DefaultServiceName = "Prediction API"

// ErrNoInputs is returned when Act is called with nothing to predict.
var ErrNoInputs = fmt.Errorf("%w: at least one prediction input is required", market.ErrInvalidInput)

// State is a point-in-time view of a Client.
type State struct {
	Result  []float64
	Loading bool
	Error   string
}

// Option configures a Client.
type Option func(*Client)

// WithServiceName sets the name used in failure messages.
func WithServiceName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.service = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client posts prediction inputs and keeps the latest result.
type Client struct {
	client  *apiclient.Client
	target  apiclient.Target
	service string
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
}

// New creates a Client that posts to target.URL. Headers on target are sent
// with every action.
func New(client *apiclient.Client, target apiclient.Target, opts ...Option) *Client {
	c := &Client{
		client:  client,
		target:  target,
		service: DefaultServiceName,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "action"), slog.String("service", c.service))
	return c
}

// Act cancels any in-flight action and submits inputs. It returns the numeric
// predictions, or nil and an error: *apiclient.Error for request failures, or
// an error wrapping market.ErrInvalidInput when inputs are rejected before
// sending. A superseded or canceled action returns a KindCanceled error and
// leaves the state to its successor.
func (c *Client) Act(ctx context.Context, inputs []market.PredictionInput) ([]float64, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.logger.Debug("superseded in-flight action", slog.Uint64("generation", c.generation))
	}
	c.generation++
	gen := c.generation
	callCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state.Loading = true
	c.state.Error = ""
	c.mu.Unlock()
	defer cancel()

	values, err := c.post(callCtx, inputs)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil, &apiclient.Error{Kind: apiclient.KindCanceled, Message: apiclient.MsgCanceled}
	}
	c.cancel = nil
	c.state.Loading = false
	if err != nil {
		c.state.Result = nil
		c.state.Error = err.Error()
		if apiclient.KindOf(err) != apiclient.KindCanceled {
			c.logger.Warn("action failed", slog.String("error", err.Error()))
		}
		return nil, err
	}
	c.state.Result = values
	c.state.Error = ""
	return append([]float64(nil), values...), nil
}

func (c *Client) post(ctx context.Context, inputs []market.PredictionInput) ([]float64, error) {
	if err := validate(inputs); err != nil {
		return nil, err
	}

	target, err := apiclient.PostJSON(c.target.URL, inputs)
	if err != nil {
		return nil, &apiclient.Error{Kind: apiclient.KindTransport, Message: err.Error()}
	}
	for k, vs := range c.target.Header {
		if target.Header.Get(k) == "" {
			target.Header[k] = append([]string(nil), vs...)
		}
	}

	out := apiclient.Do[any](ctx, c.client, target)
	if !out.Success {
		if out.Kind == apiclient.KindHTTP {
			return nil, &apiclient.Error{
				Kind:       out.Kind,
				StatusCode: out.StatusCode,
				Message:    fmt.Sprintf("%s error %d: %s", c.service, out.StatusCode, out.ErrorMessage),
			}
		}
		return nil, out.Err()
	}

	values := numericPredictions(out.Payload)
	if len(values) == 0 {
		return nil, &apiclient.Error{
			Kind:       apiclient.KindShape,
			StatusCode: out.StatusCode,
			Message:    fmt.Sprintf("%s did not return any numeric predictions", c.service),
		}
	}
	return values, nil
}

// numericPredictions returns the numbers in body.predictions. Anything else in
// the array is dropped.
func numericPredictions(body any) []float64 {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := obj["predictions"].([]any)
	if !ok {
		return nil
	}
	values := make([]float64, 0, len(raw))
	for _, v := range raw {
		n, ok := v.(float64)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			continue
		}
		values = append(values, n)
	}
	return values
}

func validate(inputs []market.PredictionInput) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}
	for i, in := range inputs {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

// Cancel aborts the in-flight action. Result and Error are kept.
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.generation++
	c.state.Loading = false
}

// Reset clears Result and Error. Loading is left alone.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Result = nil
	c.state.Error = ""
}

// State returns a copy of the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.Result != nil {
		s.Result = append([]float64(nil), s.Result...)
	}
	return s
}
