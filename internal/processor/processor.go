// Package processor orchestrates the inbound message pipeline: dedup,
// identity resolution, interim acknowledgment, routing, the agent loop,
// and chunked outbound delivery. Every accepted message produces
// exactly one reply, even when everything downstream fails.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/porterlabs/porter-agent/internal/agent"
	"github.com/porterlabs/porter-agent/internal/archive"
	"github.com/porterlabs/porter-agent/internal/contacts"
	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/events"
	"github.com/porterlabs/porter-agent/internal/outbound"
	"github.com/porterlabs/porter-agent/internal/render"
	"github.com/porterlabs/porter-agent/internal/router"
	"github.com/porterlabs/porter-agent/internal/tasks"
)

// Inbound is one webhook delivery.
type Inbound struct {
	SenderID    string
	RecipientID string
	Body        string
	DeliveryID  string
}

const failureApology = "Sorry, something went wrong on my end. Please try again in a minute."

const ackText = "Got it, give me a moment to look into that."

// Options configure the processor pipeline.
type Options struct {
	ChunkLimit int
	ChunkDelay time.Duration
	// RateLimit is messages per sender per minute; 0 disables limiting.
	RateLimit int
	// AckEnabled sends the interim acknowledgment before processing.
	AckEnabled bool
}

// Processor runs the inbound pipeline.
type Processor struct {
	logger   *slog.Logger
	guard    *convo.Guard
	resolver contacts.Resolver // may be nil: all senders anonymous
	store    *convo.Store
	router   *router.Router
	loop     *agent.Loop
	sender   outbound.Sender
	tasks    *tasks.Store   // may be nil: follow-up tracking disabled
	archive  *archive.Store // may be nil: archiving disabled
	bus      *events.Bus
	opts     Options

	// identityLocks serializes processing per identity so interleaved
	// deliveries from one sender cannot race the conversation record.
	lockMu        sync.Mutex
	identityLocks map[string]*sync.Mutex

	rateMu   sync.Mutex
	rateSeen map[string][]time.Time
}

// New assembles the processor.
func New(logger *slog.Logger, guard *convo.Guard, resolver contacts.Resolver, store *convo.Store, rtr *router.Router, loop *agent.Loop, sender outbound.Sender, taskStore *tasks.Store, arch *archive.Store, bus *events.Bus, opts Options) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChunkLimit <= 0 {
		opts.ChunkLimit = 300
	}
	return &Processor{
		logger:        logger,
		guard:         guard,
		resolver:      resolver,
		store:         store,
		router:        rtr,
		loop:          loop,
		sender:        sender,
		tasks:         taskStore,
		archive:       arch,
		bus:           bus,
		opts:          opts,
		identityLocks: make(map[string]*sync.Mutex),
		rateSeen:      make(map[string][]time.Time),
	}
}

// Handle processes one inbound message end to end. It is safe to call
// concurrently; deliveries from the same identity serialize.
func (p *Processor) Handle(ctx context.Context, in Inbound) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor panic recovered",
				"delivery_id", in.DeliveryID, "panic", r)
			p.sendAll(ctx, in.SenderID, failureApology)
		}
	}()

	if !p.guard.Claim(in.DeliveryID) {
		p.logger.Info("duplicate delivery dropped",
			"delivery_id", in.DeliveryID, "sender", in.SenderID)
		p.bus.Publish(events.Event{
			Source: events.SourceProcessor,
			Kind:   events.KindMessageDuplicate,
			Data:   map[string]any{"delivery_id": in.DeliveryID, "sender": in.SenderID},
		})
		return
	}

	if p.rateLimited(in.SenderID) {
		p.logger.Warn("sender rate limited",
			"sender", in.SenderID, "limit_per_min", p.opts.RateLimit)
		return
	}

	p.bus.Publish(events.Event{
		Source: events.SourceProcessor,
		Kind:   events.KindMessageReceived,
		Data: map[string]any{
			"delivery_id": in.DeliveryID,
			"sender":      in.SenderID,
			"message_len": len(in.Body),
		},
	})

	uctx := p.resolveIdentity(ctx, in.SenderID)

	unlock := p.lockIdentity(uctx.IdentityID)
	defer unlock()

	if p.opts.AckEnabled {
		// Best effort: a failed ack never blocks the real reply.
		if err := p.sender.Send(ctx, in.SenderID, ackText); err != nil {
			p.logger.Warn("interim ack failed", "sender", in.SenderID, "error", err)
		}
	}

	// Follow-up tasks open before this exchange; a tool-backed answer
	// below resolves them. Tasks filed during the run itself stay open.
	var pendingTasks []string
	if p.tasks != nil {
		for _, t := range p.tasks.ForIdentity(uctx.IdentityID) {
			pendingTasks = append(pendingTasks, t.ID)
		}
	}

	reply, result := p.converse(ctx, in, uctx)

	if result != nil && result.ToolsCalled > 0 && !result.Exhausted && len(pendingTasks) > 0 {
		for _, id := range pendingTasks {
			p.tasks.Remove(id)
		}
		p.logger.Info("cleared resolved follow-up tasks",
			"identity", uctx.IdentityID, "count", len(pendingTasks))
	}

	p.store.Append(uctx.IdentityID, convo.Turn{Role: convo.RoleUser, Text: in.Body})
	p.store.Append(uctx.IdentityID, convo.Turn{Role: convo.RoleAssistant, Text: reply})

	if p.archive != nil && result != nil {
		id, _ := uuid.NewV7()
		if err := p.archive.Record(&archive.Exchange{
			ID:            id.String(),
			IdentityID:    uctx.IdentityID,
			Specialist:    result.Profile,
			Inbound:       in.Body,
			Reply:         reply,
			Iterations:    result.Iterations,
			ToolsCalled:   result.ToolsCalled,
			Exhausted:     result.Exhausted,
			ExhaustReason: result.ExhaustReason,
			InputTokens:   result.InputTokens,
			OutputTokens:  result.OutputTokens,
		}); err != nil {
			p.logger.Warn("archive write failed", "error", err)
		}
	}

	p.sendAll(ctx, in.SenderID, reply)
}

// converse routes the message and runs the loop. Any failure collapses
// to the apology text so the caller always hears back.
func (p *Processor) converse(ctx context.Context, in Inbound, uctx *convo.UserContext) (string, *agent.Result) {
	recent := p.store.RecentTurns(uctx.IdentityID, 10)
	specialist := p.router.Classify(ctx, in.Body, recent)

	result, err := p.loop.Run(ctx, string(specialist), in.Body, recent, uctx)
	if err != nil {
		p.logger.Error("agent loop failed",
			"delivery_id", in.DeliveryID, "specialist", specialist, "error", err)
		return failureApology, nil
	}

	return render.PlainText(result.Text), result
}

// resolveIdentity returns the conversation's user context, resolving
// through the directory once per conversation lifetime.
func (p *Processor) resolveIdentity(ctx context.Context, sender string) *convo.UserContext {
	identity := contacts.NormalizePhone(sender)
	if cached := p.store.Context(identity); cached != nil {
		return cached
	}

	var uctx *convo.UserContext
	if p.resolver != nil {
		resolved, err := p.resolver.Resolve(ctx, sender)
		if err != nil {
			p.logger.Warn("identity resolution failed, treating sender as anonymous",
				"sender", sender, "error", err)
		} else {
			uctx = resolved
		}
	}
	if uctx == nil {
		uctx = contacts.Anonymous(sender)
	}

	// Keyed by the normalized sender so redeliveries find the same
	// conversation even when the directory assigned a different UID.
	uctx.IdentityID = identity
	p.store.SetContext(identity, *uctx)
	return uctx
}

// sendAll chunks the reply and delivers the pieces in order with the
// configured pause between them.
func (p *Processor) sendAll(ctx context.Context, to, text string) {
	chunks := Chunk(text, p.opts.ChunkLimit)
	for i, c := range chunks {
		if i > 0 && p.opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				p.logger.Warn("send cancelled mid-reply", "to", to, "sent", i, "total", len(chunks))
				return
			case <-time.After(p.opts.ChunkDelay):
			}
		}
		if err := p.sender.Send(ctx, to, c); err != nil {
			p.logger.Error("chunk send failed",
				"to", to, "chunk", fmt.Sprintf("%d/%d", i+1, len(chunks)), "error", err)
			return
		}
	}
}

func (p *Processor) lockIdentity(identity string) func() {
	p.lockMu.Lock()
	mu, ok := p.identityLocks[identity]
	if !ok {
		mu = &sync.Mutex{}
		p.identityLocks[identity] = mu
	}
	p.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// rateLimited reports whether the sender exceeded the per-minute limit.
func (p *Processor) rateLimited(sender string) bool {
	if p.opts.RateLimit <= 0 {
		return false
	}

	p.rateMu.Lock()
	defer p.rateMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	seen := p.rateSeen[sender]
	kept := seen[:0]
	for _, t := range seen {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= p.opts.RateLimit {
		p.rateSeen[sender] = kept
		return true
	}
	p.rateSeen[sender] = append(kept, now)
	return false
}
