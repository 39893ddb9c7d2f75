package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/porterlabs/porter-agent/internal/agent"
	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/llm"
	"github.com/porterlabs/porter-agent/internal/processor"
	"github.com/porterlabs/porter-agent/internal/router"
	"github.com/porterlabs/porter-agent/internal/tasks"
	"github.com/porterlabs/porter-agent/internal/tools"
)

type silentClient struct{}

func (silentClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: "general"}, nil
}

func (silentClient) Ping(ctx context.Context) error { return nil }

type nullSender struct{}

func (nullSender) Send(ctx context.Context, to, body string) error { return nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	store := convo.NewStore(40, time.Hour)
	guard := convo.NewGuard(time.Hour)
	rtr := router.New(silentClient{}, nil, nil)
	loop := agent.NewLoop(nil, silentClient{}, tools.NewRegistry(), nil)
	proc := processor.New(nil, guard, nil, store, rtr, loop, nullSender{}, nil, nil, nil, processor.Options{})
	return NewServer(nil, proc, store, tasks.NewStore(0), nil, "127.0.0.1:0")
}

func TestWebhookAccepted(t *testing.T) {
	s := testServer(t)

	body := `{"senderId":"+13125550142","recipientId":"+15550100","body":"hi","deliveryId":"d-1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
}

func TestWebhookRejectsBadJSON(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{nope"))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebhookRequiresSender(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"body":"hi"}`))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestStatusSnapshot(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, key := range []string{"version", "uptime", "active_conversations", "open_tasks"} {
		if !strings.Contains(body, key) {
			t.Errorf("status body missing %q: %s", key, body)
		}
	}
}

func TestWSDisabledWithoutBus(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when bus is nil", w.Code)
	}
}
