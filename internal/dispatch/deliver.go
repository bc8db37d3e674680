package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pitbosshq/pitboss/internal/events"
	"github.com/pitbosshq/pitboss/internal/types"
)

// ToolName is the executor tool invoked to file an escalation
const ToolName = "pitcrew_dispatch"

// Executor is the injected async boundary that files an escalation with
// the external tracker. args is the JSON-encodable dispatch payload.
type Executor func(ctx context.Context, toolName string, args any) (*ExecutorResult, error)

// ExecutorResult is the raw envelope an executor returns
type ExecutorResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// executorContent mirrors the tool-result shape: a list of typed blocks
// whose text block carries the JSON-encoded dispatch result
type executorContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Deliverer owns the executor seam: it calls the injected executor,
// parses the result contract, and rate-limits outbound escalations
type Deliverer struct {
	mu       sync.Mutex
	executor Executor
	limiter  *rate.Limiter
	events   *events.Emitter
}

// NewDeliverer creates a deliverer. ratePerSecond <= 0 disables the
// outbound rate guard.
func NewDeliverer(emitter *events.Emitter, ratePerSecond float64, burst int) *Deliverer {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &Deliverer{limiter: limiter, events: emitter}
}

// SetExecutor installs or replaces the escalation executor
func (d *Deliverer) SetExecutor(fn Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executor = fn
}

// Configured reports whether an executor has been injected
func (d *Deliverer) Configured() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.executor != nil
}

// Deliver files one dispatch through the executor. A missing executor
// or a rate-guard rejection skips with a warning and returns (nil, nil);
// executor failures come back as errors and never panic.
func (d *Deliverer) Deliver(ctx context.Context, dispatch *types.PitCrewDispatch) (*types.DispatchResult, error) {
	d.mu.Lock()
	executor := d.executor
	d.mu.Unlock()

	if executor == nil {
		fmt.Printf("[dispatch] Executor not configured, skipping escalation %q\n", dispatch.Title)
		return nil, nil
	}
	if d.limiter != nil && !d.limiter.Allow() {
		fmt.Printf("[dispatch] Rate guard rejected escalation %q\n", dispatch.Title)
		return nil, nil
	}

	envelope, err := executor(ctx, ToolName, dispatch)
	if err != nil {
		return nil, fmt.Errorf("executor call failed: %w", err)
	}
	if envelope == nil {
		return nil, fmt.Errorf("executor returned no envelope")
	}
	if !envelope.Success {
		if envelope.Error != "" {
			return nil, fmt.Errorf("executor returned failure: %s", envelope.Error)
		}
		return nil, fmt.Errorf("executor returned failure")
	}

	result, err := parseResult(envelope.Result)
	if err != nil {
		return nil, err
	}

	if d.events != nil {
		d.events.Emit(events.NewDispatchSentEvent(dispatch, result))
	}
	fmt.Printf("[dispatch] Escalation filed: %s (discussion %s)\n", dispatch.Title, result.DiscussionID)
	return result, nil
}

// parseResult extracts the dispatch result from the executor's content
// blocks. A successful result without a notion_url is itself an error.
func parseResult(raw json.RawMessage) (*types.DispatchResult, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("executor result is empty")
	}

	var content executorContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("failed to parse executor result: %w", err)
	}

	var text string
	for _, block := range content.Content {
		if block.Type == "text" && block.Text != "" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("executor result has no text content block")
	}

	var result types.DispatchResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("failed to parse dispatch result: %w", err)
	}

	if !result.Success {
		if result.Error != "" {
			return nil, fmt.Errorf("dispatch rejected: %s", result.Error)
		}
		return nil, fmt.Errorf("dispatch rejected")
	}
	if result.NotionURL == "" {
		return nil, fmt.Errorf("dispatch succeeded but returned no notion_url")
	}
	return &result, nil
}
