// Package router classifies inbound messages to a specialist.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/events"
	"github.com/porterlabs/porter-agent/internal/llm"
)

// Specialist names the agent profile that handles a message.
type Specialist string

const (
	SpecialistBusiness Specialist = "business"
	SpecialistProperty Specialist = "property"
	SpecialistGeneral  Specialist = "general"
)

const classifyInstructions = `You route inbound messages for a commercial real estate assistant.
Reply with exactly one word: business, property, or general.

Decision rules, in order:
1. If the message asks about the sender's own data ("my", "our", their account,
   their portfolio, their leases), reply: business
2. If the message names a specific property or street address, or asks about
   listings or availability in a specific place, reply: property
3. If the message continues the previous topic (a follow-up like "what about
   last year?"), keep the previous classification shown in the history.
4. Everything else (market questions, greetings, small talk), reply: general

Reply with the single word only. No punctuation, no explanation.`

// decision is one audit entry.
type decision struct {
	When       time.Time
	Message    string
	Specialist Specialist
	Raw        string
}

// Router asks the reasoning model to classify a message and normalizes
// the answer. Anything unexpected lands on the general specialist.
type Router struct {
	client llm.Client
	logger *slog.Logger
	bus    *events.Bus

	mu    sync.Mutex
	audit []decision // bounded ring, newest last
}

const auditLimit = 50

// New creates a router over the given reasoning client.
func New(client llm.Client, logger *slog.Logger, bus *events.Bus) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{client: client, logger: logger, bus: bus}
}

// Classify picks the specialist for a message. Recent turns give the
// model follow-up context. Classification never fails: a model error or
// an unrecognized answer routes to general.
func (r *Router) Classify(ctx context.Context, message string, recent []convo.Turn) Specialist {
	message = strings.TrimSpace(message)
	if message == "" {
		r.record(message, SpecialistGeneral, "")
		return SpecialistGeneral
	}

	req := &llm.Request{
		Instructions: classifyInstructions,
		Messages:     classifyMessages(message, recent),
		Effort:       llm.EffortLow,
		Verbosity:    llm.VerbosityLow,
	}

	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		r.logger.Warn("intent classification failed, defaulting to general", "error", err)
		r.record(message, SpecialistGeneral, "")
		return SpecialistGeneral
	}

	raw := resp.Text
	sp := normalize(raw)
	r.record(message, sp, raw)

	r.bus.Publish(events.Event{
		Source: events.SourceRouter,
		Kind:   events.KindRouted,
		Data:   map[string]any{"specialist": string(sp)},
	})
	return sp
}

// classifyMessages builds the classification transcript: a few recent
// turns for follow-up context, then the message under classification.
func classifyMessages(message string, recent []convo.Turn) []llm.Message {
	const contextTurns = 4
	start := 0
	if len(recent) > contextTurns {
		start = len(recent) - contextTurns
	}

	msgs := make([]llm.Message, 0, contextTurns+1)
	for _, t := range recent[start:] {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Text})
	}
	msgs = append(msgs, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("Classify this message: %s", message),
	})
	return msgs
}

// normalize maps the model's raw answer to a specialist. The answer may
// arrive with whitespace, casing, or trailing punctuation; anything
// that doesn't match a known specialist routes to general.
func normalize(raw string) Specialist {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, ".!\"'")

	switch Specialist(cleaned) {
	case SpecialistBusiness:
		return SpecialistBusiness
	case SpecialistProperty:
		return SpecialistProperty
	case SpecialistGeneral:
		return SpecialistGeneral
	}
	return SpecialistGeneral
}

func (r *Router) record(message string, sp Specialist, raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, decision{
		When:       time.Now(),
		Message:    message,
		Specialist: sp,
		Raw:        raw,
	})
	if len(r.audit) > auditLimit {
		r.audit = r.audit[len(r.audit)-auditLimit:]
	}
}

// RecentDecisions returns a copy of the audit log, newest last.
func (r *Router) RecentDecisions() []struct {
	When       time.Time
	Message    string
	Specialist Specialist
} {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]struct {
		When       time.Time
		Message    string
		Specialist Specialist
	}, len(r.audit))
	for i, d := range r.audit {
		out[i].When = d.When
		out[i].Message = d.Message
		out[i].Specialist = d.Specialist
	}
	return out
}
