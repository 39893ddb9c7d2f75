package processor

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/porterlabs/porter-agent/internal/agent"
	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/llm"
	"github.com/porterlabs/porter-agent/internal/router"
	"github.com/porterlabs/porter-agent/internal/tasks"
	"github.com/porterlabs/porter-agent/internal/tools"
)

// fixedClient always answers with the same text and classification.
type fixedClient struct {
	reply string
}

func (f *fixedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: f.reply}, nil
}

func (f *fixedClient) Ping(ctx context.Context) error { return nil }

// recordingSender captures every outbound send.
type recordingSender struct {
	mu    sync.Mutex
	sends []string
	tos   []string
}

func (r *recordingSender) Send(ctx context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tos = append(r.tos, to)
	r.sends = append(r.sends, body)
	return nil
}

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sends))
	copy(out, r.sends)
	return out
}

func testProcessor(t *testing.T, sender *recordingSender, opts Options) (*Processor, *convo.Store) {
	t.Helper()
	client := &fixedClient{reply: "general"}
	store := convo.NewStore(40, time.Hour)
	guard := convo.NewGuard(time.Hour)
	rtr := router.New(client, nil, nil)
	loop := agent.NewLoop(nil, &fixedClient{reply: "Here's your answer."}, tools.NewRegistry(), nil)
	return New(nil, guard, nil, store, rtr, loop, sender, nil, nil, nil, opts), store
}

func TestHandleSendsReply(t *testing.T) {
	sender := &recordingSender{}
	p, store := testProcessor(t, sender, Options{ChunkLimit: 300})

	p.Handle(context.Background(), Inbound{
		SenderID:   "+13125550142",
		Body:       "hello there",
		DeliveryID: "d-1",
	})

	sends := sender.sent()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want exactly 1", len(sends))
	}
	if sends[0] != "Here's your answer." {
		t.Errorf("reply = %q", sends[0])
	}

	turns := store.RecentTurns("+13125550142", 10)
	if len(turns) != 2 {
		t.Fatalf("stored turns = %d, want user + assistant", len(turns))
	}
	if turns[0].Role != convo.RoleUser || turns[1].Role != convo.RoleAssistant {
		t.Errorf("turn roles = %s, %s", turns[0].Role, turns[1].Role)
	}
}

func TestHandleDuplicateDeliveryDropped(t *testing.T) {
	sender := &recordingSender{}
	p, _ := testProcessor(t, sender, Options{ChunkLimit: 300})

	in := Inbound{SenderID: "+13125550142", Body: "hello", DeliveryID: "dup-1"}
	p.Handle(context.Background(), in)
	p.Handle(context.Background(), in)

	if got := len(sender.sent()); got != 1 {
		t.Errorf("sends = %d, duplicate must produce no second reply", got)
	}
}

func TestHandleAckPrecedesReply(t *testing.T) {
	sender := &recordingSender{}
	p, _ := testProcessor(t, sender, Options{ChunkLimit: 300, AckEnabled: true})

	p.Handle(context.Background(), Inbound{
		SenderID: "+13125550142", Body: "question", DeliveryID: "d-2",
	})

	sends := sender.sent()
	if len(sends) != 2 {
		t.Fatalf("sends = %d, want ack + reply", len(sends))
	}
	if sends[0] != ackText {
		t.Errorf("first send = %q, want the interim ack", sends[0])
	}
}

func TestHandleRateLimit(t *testing.T) {
	sender := &recordingSender{}
	p, _ := testProcessor(t, sender, Options{ChunkLimit: 300, RateLimit: 2})

	for _, id := range []string{"r-1", "r-2", "r-3"} {
		p.Handle(context.Background(), Inbound{
			SenderID: "+13125550142", Body: "spam", DeliveryID: id,
		})
	}

	if got := len(sender.sent()); got != 2 {
		t.Errorf("sends = %d, third message should be dropped", got)
	}
}

func TestHandleAnonymousIdentity(t *testing.T) {
	sender := &recordingSender{}
	p, store := testProcessor(t, sender, Options{ChunkLimit: 300})

	p.Handle(context.Background(), Inbound{
		SenderID: "+1 (312) 555-0142", Body: "hi", DeliveryID: "d-3",
	})

	uctx := store.Context("+13125550142")
	if uctx == nil {
		t.Fatal("context not stored under normalized identity")
	}
	if uctx.OrganizationID != "" {
		t.Errorf("anonymous sender got org %q", uctx.OrganizationID)
	}
}

// toolOnceClient requests one tool call, then answers with text.
type toolOnceClient struct{ calls int }

func (c *toolOnceClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.calls++
	if c.calls == 1 {
		return &llm.Response{ToolCalls: []llm.ToolInvocation{
			{ID: "c1", Name: "market_search", RawArguments: `{"query":"cap rates"}`},
		}}, nil
	}
	return &llm.Response{Text: "Cap rates are up."}, nil
}

func (c *toolOnceClient) Ping(ctx context.Context) error { return nil }

func TestHandleClearsResolvedTasks(t *testing.T) {
	sender := &recordingSender{}
	store := convo.NewStore(40, time.Hour)
	guard := convo.NewGuard(time.Hour)
	rtr := router.New(&fixedClient{reply: "general"}, nil, nil)

	taskStore := tasks.NewStore(time.Hour)
	taskStore.Add(tasks.Task{
		ID: "t-old", IdentityID: "+13125550142", Category: "missing_data", Note: "Q3 vacancy",
	})

	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name:       "market_search",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any, user *convo.UserContext) (tools.Outcome, error) {
			taskStore.Add(tasks.Task{
				ID: "t-new", IdentityID: user.IdentityID, Category: "missing_data", Note: "filed mid-run",
			})
			return tools.Outcome{Tool: "market_search", Success: true, Message: "Found it."}, nil
		},
	})

	loop := agent.NewLoop(nil, &toolOnceClient{}, reg, nil)
	p := New(nil, guard, nil, store, rtr, loop, sender, taskStore, nil, nil, Options{ChunkLimit: 300})

	p.Handle(context.Background(), Inbound{
		SenderID: "+13125550142", Body: "cap rates in Chicago?", DeliveryID: "d-task",
	})

	remaining := taskStore.ForIdentity("+13125550142")
	if len(remaining) != 1 || remaining[0].ID != "t-new" {
		t.Errorf("tasks after exchange = %+v, want only the one filed mid-run", remaining)
	}
}

func TestChunkShortTextSinglePiece(t *testing.T) {
	got := Chunk("short reply", 300)
	if len(got) != 1 || got[0] != "short reply" {
		t.Errorf("Chunk() = %v", got)
	}
}

func TestChunkLongTextMarked(t *testing.T) {
	long := strings.Repeat("seven wordy tokens keep arriving here ", 20)
	got := Chunk(long, 300)
	if len(got) < 2 {
		t.Fatalf("Chunk() = %d pieces, want several", len(got))
	}
	for i, c := range got {
		if len(c) > 300 {
			t.Errorf("chunk %d length %d exceeds limit", i, len(c))
		}
		if !strings.Contains(c, "/") {
			t.Errorf("chunk %d missing marker: %q", i, c)
		}
	}
	if !strings.HasSuffix(got[0], "(1/"+strconv.Itoa(len(got))+")") {
		t.Errorf("first marker wrong: %q", got[0])
	}
}

func TestChunkReassembly(t *testing.T) {
	long := strings.Repeat("alpha beta gamma ", 40)
	got := Chunk(long, 120)

	var rebuilt strings.Builder
	for _, c := range got {
		if idx := strings.LastIndex(c, " ("); idx > 0 {
			c = c[:idx]
		}
		rebuilt.WriteString(c)
		rebuilt.WriteString(" ")
	}
	if strings.Join(strings.Fields(rebuilt.String()), " ") != strings.TrimSpace(long) {
		t.Error("chunks do not reassemble to the original text")
	}
}

func TestChunkEmpty(t *testing.T) {
	if got := Chunk("   ", 300); got != nil {
		t.Errorf("Chunk(blank) = %v", got)
	}
}
