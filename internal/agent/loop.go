package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/events"
	"github.com/porterlabs/porter-agent/internal/extract"
	"github.com/porterlabs/porter-agent/internal/llm"
	"github.com/porterlabs/porter-agent/internal/tools"
)

// Exhaustion reason constants.
const (
	ExhaustMaxIterations = "max_iterations"
	ExhaustToolCeiling   = "tool_failure_ceiling"
	ExhaustDuplicate     = "duplicate_tool_call"
	ExhaustToolError     = "terminal_tool_error"
)

// Result is the outcome of one loop run.
type Result struct {
	Text          string `json:"text"`
	Profile       string `json:"profile"`
	Iterations    int    `json:"iterations"`
	ToolsCalled   int    `json:"tools_called"`
	Exhausted     bool   `json:"exhausted"`
	ExhaustReason string `json:"exhaust_reason,omitempty"`
	InputTokens   int    `json:"input_tokens"`
	OutputTokens  int    `json:"output_tokens"`
}

// Loop runs specialist conversations against the reasoning model.
type Loop struct {
	logger    *slog.Logger
	llm       llm.Client
	parentReg *tools.Registry
	profiles  map[string]*Profile
	bus       *events.Bus
}

// NewLoop creates the agent loop over the full tool registry. Each run
// sees only its profile's slice of the registry.
func NewLoop(logger *slog.Logger, client llm.Client, reg *tools.Registry, bus *events.Bus) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:    logger,
		llm:       client,
		parentReg: reg,
		profiles:  builtinProfiles(),
		bus:       bus,
	}
}

// ProfileNames returns the registered profile names, sorted.
func (l *Loop) ProfileNames() []string {
	names := make([]string, 0, len(l.profiles))
	for name := range l.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// runState tracks per-run tool accounting.
type runState struct {
	failures  map[string]int    // failures per tool name, parse failures included
	memo      map[string]string // tool name -> payload of its one allowed success
	successes []tools.Outcome   // successful outcomes in order
	primary   bool              // the profile's primary tool has succeeded
}

func newRunState() *runState {
	return &runState{
		failures: make(map[string]int),
		memo:     make(map[string]string),
	}
}

// distinctSuccesses counts distinct tool names among the successes.
func (s *runState) distinctSuccesses() int {
	seen := make(map[string]bool)
	for _, o := range s.successes {
		seen[o.Tool] = true
	}
	return len(seen)
}

// Run executes the bounded tool-calling loop for one inbound message.
// It always produces non-empty reply text; model and tool failures
// degrade the reply, they never lose it.
func (l *Loop) Run(ctx context.Context, profileName, userMessage string, history []convo.Turn, user *convo.UserContext) (*Result, error) {
	profile := l.profiles[profileName]
	if profile == nil {
		profile = l.profiles["general"]
	}

	runID, _ := uuid.NewV7()
	rid := runID.String()

	reg := l.parentReg.FilteredCopy(profile.Tools)
	toolDefs := reg.List()

	l.logger.Info("loop started",
		"run_id", rid,
		"profile", profile.Name,
		"history_turns", len(history),
		"tools_available", len(toolDefs),
	)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindLoopStart,
		Data:   map[string]any{"run_id": rid, "profile": profile.Name},
	})

	messages := make([]llm.Message, 0, len(history)+2)
	for _, t := range history {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Text})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})

	state := newRunState()
	startTime := time.Now()
	var totalInput, totalOutput int
	var iterations int

	for i := 0; i < maxIterations; i++ {
		iterations = i + 1

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("loop cancelled: %w", err)
		}

		callTools := toolDefs
		if l.shouldWithdraw(profile, state, i) {
			callTools = nil
		}

		resp, err := l.llm.Complete(ctx, &llm.Request{
			Instructions: profile.Instructions,
			Messages:     messages,
			Tools:        callTools,
			Effort:       llm.EffortMedium,
			Verbosity:    llm.VerbosityLow,
		})
		if err != nil {
			return nil, fmt.Errorf("loop llm call failed (iter %d): %w", i, err)
		}
		totalInput += resp.InputTokens
		totalOutput += resp.OutputTokens

		l.logger.Debug("loop llm response",
			"run_id", rid,
			"profile", profile.Name,
			"iter", i,
			"tool_calls", len(resp.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		// No invocation requested, or tools were withheld: this is the
		// final answer.
		if len(resp.ToolCalls) == 0 || callTools == nil {
			return l.complete(ctx, rid, profile, resp, state, iterations, totalInput, totalOutput, startTime, false, ""), nil
		}

		// Only the first invocation of a turn executes. Models sometimes
		// emit speculative batches; executing them all multiplies
		// provider load for answers the model may never use.
		call := resp.ToolCalls[0]
		if len(resp.ToolCalls) > 1 {
			l.logger.Debug("loop dropping extra tool calls",
				"run_id", rid, "kept", call.Name, "dropped", len(resp.ToolCalls)-1)
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: []llm.ToolInvocation{call},
		})

		args, parseErr := parseArgs(call.RawArguments)
		if parseErr != nil {
			state.failures[call.Name]++
			l.logger.Warn("loop tool arguments unparseable",
				"run_id", rid, "tool", call.Name, "error", parseErr)
			messages = append(messages, toolResultMessage(call,
				fmt.Sprintf("Error: arguments were not valid JSON: %v", parseErr)))
			if state.failures[call.Name] >= toolFailureCeiling {
				return l.finalize(ctx, rid, profile, messages, state, iterations, totalInput, totalOutput, startTime, ExhaustToolCeiling), nil
			}
			continue
		}
		if len(args) == 0 {
			// The model asked for the tool but gave it nothing to work
			// with. Recover arguments from the caller's own words; a dry
			// extraction is a failure for this tool, not a blank call.
			args = extract.ToolParams(call.Name, userMessage)
			if len(args) == 0 {
				state.failures[call.Name]++
				l.logger.Warn("loop could not recover tool arguments, skipping",
					"run_id", rid, "tool", call.Name)
				messages = append(messages, toolResultMessage(call,
					"Error: no usable arguments for this tool. Supply them or answer without it."))
				if state.failures[call.Name] >= toolFailureCeiling {
					return l.finalize(ctx, rid, profile, messages, state, iterations, totalInput, totalOutput, startTime, ExhaustToolCeiling), nil
				}
				continue
			}
			l.logger.Debug("loop recovered tool arguments",
				"run_id", rid, "tool", call.Name, "args", args)
		}

		// One successful execution per tool name per run. A repeat request,
		// same arguments or not, means the model is circling.
		if _, dup := state.memo[call.Name]; dup {
			l.logger.Info("loop repeated tool call, finalizing",
				"run_id", rid, "tool", call.Name)
			messages = append(messages, toolResultMessage(call,
				"This tool already ran successfully. Use the earlier result."))
			return l.finalize(ctx, rid, profile, messages, state, iterations, totalInput, totalOutput, startTime, ExhaustDuplicate), nil
		}
		if state.failures[call.Name] >= toolFailureCeiling {
			l.logger.Info("loop tool failure ceiling reached, finalizing",
				"run_id", rid, "tool", call.Name)
			messages = append(messages, toolResultMessage(call,
				"This tool has failed repeatedly. Answer with what you have."))
			return l.finalize(ctx, rid, profile, messages, state, iterations, totalInput, totalOutput, startTime, ExhaustToolCeiling), nil
		}

		toolStart := time.Now()
		l.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindToolCall,
			Data:   map[string]any{"run_id": rid, "tool": call.Name},
		})

		outcome, err := reg.Execute(ctx, call.Name, args, user)

		l.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindToolDone,
			Data: map[string]any{
				"run_id":      rid,
				"tool":        call.Name,
				"ok":          err == nil && outcome.Success,
				"duration_ms": time.Since(toolStart).Milliseconds(),
			},
		})

		if err != nil {
			state.failures[call.Name]++
			l.logger.Error("loop tool handler failed",
				"run_id", rid, "tool", call.Name, "error", err)
			if profile.TerminalOnToolError {
				messages = append(messages, toolResultMessage(call,
					"Error: the data backend failed. Apologize briefly and suggest trying again later."))
				return l.finalize(ctx, rid, profile, messages, state, iterations, totalInput, totalOutput, startTime, ExhaustToolError), nil
			}
			messages = append(messages, toolResultMessage(call, "Error: "+err.Error()))
			continue
		}

		if !outcome.Success {
			state.failures[call.Name]++
			l.logger.Debug("loop tool unsuccessful",
				"run_id", rid, "tool", call.Name, "err_kind", outcome.ErrKind)
			messages = append(messages, toolResultMessage(call, unsuccessfulResult(outcome)))
			continue
		}

		state.memo[call.Name] = outcome.Payload
		state.successes = append(state.successes, outcome)
		if call.Name == profile.PrimaryTool {
			state.primary = true
		}
		messages = append(messages, toolResultMessage(call, successfulResult(outcome)))
	}

	// Iteration budget spent without a text answer.
	l.logger.Warn("loop max iterations reached", "run_id", rid, "profile", profile.Name)
	return l.finalize(ctx, rid, profile, messages, state, iterations, totalInput, totalOutput, startTime, ExhaustMaxIterations), nil
}

// shouldWithdraw decides whether this iteration's reasoning call gets
// tools at all. Iteration 0 always offers tools.
func (l *Loop) shouldWithdraw(profile *Profile, state *runState, iter int) bool {
	if iter == 0 {
		return false
	}
	if state.primary {
		return true
	}
	if state.distinctSuccesses() >= 2 {
		return true
	}
	return iter >= profile.WithdrawAfter
}

// finalize makes one last reasoning call with tools withheld and
// extracts reply text, falling back to the run's tool outcomes.
func (l *Loop) finalize(ctx context.Context, rid string, profile *Profile, messages []llm.Message, state *runState, iterations, totalInput, totalOutput int, startTime time.Time, reason string) *Result {
	resp, err := l.llm.Complete(ctx, &llm.Request{
		Instructions: profile.Instructions,
		Messages:     messages,
		Effort:       llm.EffortLow,
		Verbosity:    llm.VerbosityLow,
	})
	if err != nil {
		l.logger.Warn("loop finalize call failed", "run_id", rid, "error", err)
		resp = nil
	} else {
		totalInput += resp.InputTokens
		totalOutput += resp.OutputTokens
	}
	return l.complete(ctx, rid, profile, resp, state, iterations, totalInput, totalOutput, startTime, true, reason)
}

// complete assembles the Result and publishes completion telemetry.
func (l *Loop) complete(ctx context.Context, rid string, profile *Profile, resp *llm.Response, state *runState, iterations, totalInput, totalOutput int, startTime time.Time, exhausted bool, reason string) *Result {
	text := extract.ResponseText(resp, state.successes)

	l.logger.Info("loop completed",
		"run_id", rid,
		"profile", profile.Name,
		"iterations", iterations,
		"tools_called", len(state.successes),
		"exhausted", exhausted,
		"exhaust_reason", reason,
		"input_tokens", totalInput,
		"output_tokens", totalOutput,
		"elapsed", time.Since(startTime).Round(time.Millisecond),
	)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindLoopComplete,
		Data: map[string]any{
			"run_id":     rid,
			"profile":    profile.Name,
			"iterations": iterations,
			"exhausted":  exhausted,
		},
	})

	return &Result{
		Text:          text,
		Profile:       profile.Name,
		Iterations:    iterations,
		ToolsCalled:   len(state.successes),
		Exhausted:     exhausted,
		ExhaustReason: reason,
		InputTokens:   totalInput,
		OutputTokens:  totalOutput,
	}
}

// parseArgs decodes a raw argument payload. Empty payloads decode to an
// empty map; malformed payloads are an error the caller counts as a
// tool failure.
func parseArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func toolResultMessage(call llm.ToolInvocation, content string) llm.Message {
	return llm.Message{Role: "tool", Content: content, ToolCallID: call.ID}
}

func successfulResult(o tools.Outcome) string {
	if o.Payload != "" {
		return o.Payload
	}
	if o.Message != "" {
		return o.Message
	}
	return "OK"
}

func unsuccessfulResult(o tools.Outcome) string {
	msg := o.Message
	if msg == "" {
		msg = "the tool did not return a result"
	}
	if o.ErrKind != "" {
		return fmt.Sprintf("Unsuccessful (%s): %s", o.ErrKind, msg)
	}
	return "Unsuccessful: " + msg
}
