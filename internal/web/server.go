// Package web exposes Porter's HTTP surface: the inbound webhook, a
// health endpoint, an operational status snapshot, and a WebSocket
// stream of pipeline events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/porterlabs/porter-agent/internal/buildinfo"
	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/events"
	"github.com/porterlabs/porter-agent/internal/processor"
	"github.com/porterlabs/porter-agent/internal/tasks"
)

// webhookPayload is the channel provider's delivery format.
type webhookPayload struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Body        string `json:"body"`
	DeliveryID  string `json:"deliveryId"`
}

// Server hosts the HTTP endpoints.
type Server struct {
	logger *slog.Logger
	proc   *processor.Processor
	store  *convo.Store
	tasks  *tasks.Store
	bus    *events.Bus

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer assembles the HTTP server. The listener is not started
// until Serve.
func NewServer(logger *slog.Logger, proc *processor.Processor, store *convo.Store, taskStore *tasks.Store, bus *events.Bus, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger: logger,
		proc:   proc,
		store:  store,
		tasks:  taskStore,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve listens until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// handleWebhook accepts a delivery and processes it asynchronously.
// The provider only needs to know we have it; 202 goes out immediately.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if payload.SenderID == "" {
		http.Error(w, "senderId is required", http.StatusBadRequest)
		return
	}

	go s.proc.Handle(context.Background(), processor.Inbound{
		SenderID:    payload.SenderID,
		RecipientID: payload.RecipientID,
		Body:        payload.Body,
		DeliveryID:  payload.DeliveryID,
	})

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version":              buildinfo.Version,
		"uptime":               buildinfo.Uptime().Round(time.Second).String(),
		"active_conversations": s.store.ActiveConversations(),
	}
	if s.tasks != nil {
		status["open_tasks"] = s.tasks.Len()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task store disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tasks.All())
}

// handleWS streams pipeline events to the client as JSON frames until
// either side disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "event stream disabled", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(sub)

	// Reader goroutine: we never expect client frames, but reading is
	// how close frames and dead peers are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
