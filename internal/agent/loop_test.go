package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/llm"
	"github.com/porterlabs/porter-agent/internal/tools"
)

// scriptedClient replays canned responses in order. Requests are
// recorded so tests can assert on tool withholding and transcripts.
type scriptedClient struct {
	responses []*llm.Response
	errs      []error
	requests  []*llm.Request
}

func (s *scriptedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &llm.Response{Text: "default final answer"}, nil
}

func (s *scriptedClient) Ping(ctx context.Context) error { return nil }

func toolCall(name, args string) *llm.Response {
	return &llm.Response{
		ToolCalls: []llm.ToolInvocation{{ID: "call-1", Name: name, RawArguments: args}},
	}
}

// countingTool wraps a canned outcome and counts handler executions.
type countingTool struct {
	outcome tools.Outcome
	err     error
	calls   int
	args    []map[string]any
}

func (c *countingTool) handler(ctx context.Context, args map[string]any, user *convo.UserContext) (tools.Outcome, error) {
	c.calls++
	c.args = append(c.args, args)
	return c.outcome, c.err
}

func registryWith(t *testing.T, name string, ct *countingTool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name:       name,
		Parameters: map[string]any{"type": "object"},
		Handler:    ct.handler,
	})
	if err := reg.Verify(); err != nil {
		t.Fatalf("Verify() = %v", err)
	}
	return reg
}

func TestRunPlainTextAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "Hi! How can I help?"}}}
	loop := NewLoop(nil, client, tools.NewRegistry(), nil)

	res, err := loop.Run(context.Background(), "general", "hello", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Text != "Hi! How can I help?" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Iterations != 1 || res.Exhausted {
		t.Errorf("got %+v, want 1 clean iteration", res)
	}
}

func TestRunToolSuccessThenAnswer(t *testing.T) {
	ct := &countingTool{outcome: tools.Outcome{
		Tool: "market_search", Success: true,
		Payload: `[{"title":"Rates up 2%"}]`, Message: "Found 1 result.",
	}}
	client := &scriptedClient{responses: []*llm.Response{
		toolCall("market_search", `{"query":"cap rates Chicago"}`),
		{Text: "Cap rates in Chicago are up about 2% this quarter."},
	}}
	loop := NewLoop(nil, client, registryWith(t, "market_search", ct), nil)

	res, err := loop.Run(context.Background(), "general", "how are cap rates in Chicago?", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != 1 {
		t.Errorf("handler calls = %d, want 1", ct.calls)
	}
	if res.ToolsCalled != 1 {
		t.Errorf("ToolsCalled = %d, want 1", res.ToolsCalled)
	}
	if !strings.Contains(res.Text, "Cap rates") {
		t.Errorf("Text = %q", res.Text)
	}

	// Primary success withdraws tools from the follow-up call.
	if len(client.requests) != 2 {
		t.Fatalf("llm calls = %d, want 2", len(client.requests))
	}
	if client.requests[1].Tools != nil {
		t.Error("second call still offered tools after primary success")
	}
}

func TestRunOnlyFirstInvocationExecutes(t *testing.T) {
	ct := &countingTool{outcome: tools.Outcome{Tool: "market_search", Success: true, Message: "ok"}}
	multi := &llm.Response{ToolCalls: []llm.ToolInvocation{
		{ID: "c1", Name: "market_search", RawArguments: `{"query":"a"}`},
		{ID: "c2", Name: "market_search", RawArguments: `{"query":"b"}`},
	}}
	client := &scriptedClient{responses: []*llm.Response{multi, {Text: "done"}}}
	loop := NewLoop(nil, client, registryWith(t, "market_search", ct), nil)

	if _, err := loop.Run(context.Background(), "general", "q", nil, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != 1 {
		t.Errorf("handler calls = %d, want only the first invocation", ct.calls)
	}
	if ct.args[0]["query"] != "a" {
		t.Errorf("executed args = %v, want the first call's", ct.args[0])
	}
}

func TestRunDuplicateCallFinalizes(t *testing.T) {
	// property_search is not the general profile's primary tool, so one
	// success leaves tools on the table and the repeat can arrive.
	ct := &countingTool{outcome: tools.Outcome{Tool: "property_search", Success: true, Message: "Found it."}}
	same := `{"query":"vacancy rates"}`
	client := &scriptedClient{responses: []*llm.Response{
		toolCall("property_search", same),
		toolCall("property_search", same), // exact repeat
		{Text: "final after duplicate"},
	}}
	loop := NewLoop(nil, client, registryWith(t, "property_search", ct), nil)

	res, err := loop.Run(context.Background(), "general", "vacancy?", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != 1 {
		t.Errorf("handler calls = %d, duplicate must not re-execute", ct.calls)
	}
	if !res.Exhausted || res.ExhaustReason != ExhaustDuplicate {
		t.Errorf("got %+v, want duplicate exhaustion", res)
	}
	if strings.TrimSpace(res.Text) == "" {
		t.Error("reply must not be empty")
	}
}

func TestRunRepeatCallDifferentArgsFinalizes(t *testing.T) {
	// Memoization is per tool name: once a tool succeeded, asking for it
	// again with fresh arguments is still a repeat.
	ct := &countingTool{outcome: tools.Outcome{Tool: "property_search", Success: true, Message: "Found it."}}
	client := &scriptedClient{responses: []*llm.Response{
		toolCall("property_search", `{"query":"vacancy rates"}`),
		toolCall("property_search", `{"query":"vacancy rates downtown"}`),
		{Text: "final after repeat"},
	}}
	loop := NewLoop(nil, client, registryWith(t, "property_search", ct), nil)

	res, err := loop.Run(context.Background(), "general", "vacancy?", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != 1 {
		t.Errorf("handler calls = %d, repeat with new args must not re-execute", ct.calls)
	}
	if !res.Exhausted || res.ExhaustReason != ExhaustDuplicate {
		t.Errorf("got %+v, want duplicate exhaustion", res)
	}
}

func TestRunUnrecoverableEmptyArgsSkipsTool(t *testing.T) {
	// business_lookup with no metric vocabulary in the caller's words:
	// extraction yields nothing, so the invocation is skipped and counted
	// as a failure rather than executed with empty arguments.
	ct := &countingTool{outcome: tools.Outcome{Tool: "business_lookup", Success: true, Message: "ok"}}
	client := &scriptedClient{responses: []*llm.Response{
		toolCall("business_lookup", ""),
		toolCall("business_lookup", "{}"),
		{Text: "answered without data"},
	}}
	loop := NewLoop(nil, client, registryWith(t, "business_lookup", ct), nil)

	res, err := loop.Run(context.Background(), "business", "hello there", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != 0 {
		t.Errorf("handler calls = %d, empty unrecoverable args must not execute", ct.calls)
	}
	if !res.Exhausted || res.ExhaustReason != ExhaustToolCeiling {
		t.Errorf("got %+v, want ceiling exhaustion from skipped invocations", res)
	}
}

func TestRunFailureCeilingFinalizes(t *testing.T) {
	ct := &countingTool{outcome: tools.Outcome{
		Tool: "market_search", Success: false,
		ErrKind: tools.ErrKindNotFound, Message: "nothing found",
	}}
	client := &scriptedClient{responses: []*llm.Response{
		toolCall("market_search", `{"query":"a"}`),
		toolCall("market_search", `{"query":"b"}`),
		toolCall("market_search", `{"query":"c"}`), // ceiling already hit
		{Text: "giving up gracefully"},
	}}
	loop := NewLoop(nil, client, registryWith(t, "market_search", ct), nil)

	res, err := loop.Run(context.Background(), "general", "q", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != toolFailureCeiling {
		t.Errorf("handler calls = %d, want %d (ceiling)", ct.calls, toolFailureCeiling)
	}
	if !res.Exhausted || res.ExhaustReason != ExhaustToolCeiling {
		t.Errorf("got %+v, want ceiling exhaustion", res)
	}
}

func TestRunParseFailureCountsTowardCeiling(t *testing.T) {
	ct := &countingTool{outcome: tools.Outcome{Tool: "market_search", Success: true, Message: "ok"}}
	client := &scriptedClient{responses: []*llm.Response{
		toolCall("market_search", `{broken`),
		toolCall("market_search", `{still broken`),
		{Text: "never reached with tools"},
	}}
	loop := NewLoop(nil, client, registryWith(t, "market_search", ct), nil)

	res, err := loop.Run(context.Background(), "general", "q", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != 0 {
		t.Errorf("handler calls = %d, unparseable args must not execute", ct.calls)
	}
	if !res.Exhausted || res.ExhaustReason != ExhaustToolCeiling {
		t.Errorf("got %+v, want ceiling exhaustion from parse failures", res)
	}
}

func TestRunEmptyArgsRecovered(t *testing.T) {
	ct := &countingTool{outcome: tools.Outcome{Tool: "market_search", Success: true, Message: "ok"}}
	client := &scriptedClient{responses: []*llm.Response{
		toolCall("market_search", ""),
		{Text: "answered"},
	}}
	loop := NewLoop(nil, client, registryWith(t, "market_search", ct), nil)

	_, err := loop.Run(context.Background(), "general", "How are trends in Chicago?", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != 1 {
		t.Fatalf("handler calls = %d, want 1", ct.calls)
	}
	query, _ := ct.args[0]["query"].(string)
	if !strings.Contains(query, "Chicago") {
		t.Errorf("recovered query = %q, want the caller's place name", query)
	}
}

func TestRunTerminalOnToolError(t *testing.T) {
	ct := &countingTool{err: errors.New("backend down")}
	client := &scriptedClient{responses: []*llm.Response{
		toolCall("business_lookup", `{"metric":"occupancy"}`),
		{Text: "Sorry, I couldn't reach your account data just now."},
	}}
	loop := NewLoop(nil, client, registryWith(t, "business_lookup", ct), nil)

	res, err := loop.Run(context.Background(), "business", "what's our occupancy?", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != 1 {
		t.Errorf("handler calls = %d, terminal policy must not retry", ct.calls)
	}
	if !res.Exhausted || res.ExhaustReason != ExhaustToolError {
		t.Errorf("got %+v, want terminal tool error", res)
	}
}

func TestRunNonTerminalToolErrorContinues(t *testing.T) {
	ct := &countingTool{err: errors.New("flaky")}
	client := &scriptedClient{responses: []*llm.Response{
		toolCall("market_search", `{"query":"a"}`),
		{Text: "answered without the tool"},
	}}
	loop := NewLoop(nil, client, registryWith(t, "market_search", ct), nil)

	res, err := loop.Run(context.Background(), "general", "q", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Exhausted {
		t.Errorf("got %+v, general profile should continue past a handler error", res)
	}
	if res.Text != "answered without the tool" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestRunFinalizeFailureStillReplies(t *testing.T) {
	ct := &countingTool{outcome: tools.Outcome{Tool: "property_search", Success: true, Message: "Found 2 listings."}}
	same := `{"query":"x"}`
	client := &scriptedClient{
		responses: []*llm.Response{
			toolCall("property_search", same),
			toolCall("property_search", same),
			nil,
		},
		errs: []error{nil, nil, errors.New("model down")},
	}
	loop := NewLoop(nil, client, registryWith(t, "property_search", ct), nil)

	res, err := loop.Run(context.Background(), "general", "q", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Text != "Found 2 listings." {
		t.Errorf("Text = %q, want the successful tool's message", res.Text)
	}
}

func TestRunUnknownProfileFallsBackToGeneral(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "hello"}}}
	loop := NewLoop(nil, client, tools.NewRegistry(), nil)

	res, err := loop.Run(context.Background(), "no-such-profile", "hi", nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Profile != "general" {
		t.Errorf("Profile = %q, want general", res.Profile)
	}
}

func TestRunHistoryIncludedInTranscript(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "ok"}}}
	loop := NewLoop(nil, client, tools.NewRegistry(), nil)

	history := []convo.Turn{
		{Role: "user", Text: "earlier question"},
		{Role: "assistant", Text: "earlier answer"},
	}
	if _, err := loop.Run(context.Background(), "general", "follow-up", history, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	msgs := client.requests[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "earlier question" || msgs[2].Content != "follow-up" {
		t.Errorf("transcript order wrong: %+v", msgs)
	}
}
