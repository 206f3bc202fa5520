package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zecflow/core/model"
)

// Hub is the in-process run-status pub/sub backing GET /runs/:id/stream
// (SPEC_FULL.md §5.1). It implements engine.Publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string][]chan *model.Run // runId -> subscriber channels
}

func NewHub() *Hub {
	return &Hub{subscribers: map[string][]chan *model.Run{}}
}

// Publish fans a run's new state out to every subscriber of runID,
// dropping it for any subscriber whose channel is full rather than
// blocking the engine's execution path.
func (h *Hub) Publish(runID string, run *model.Run) {
	h.mu.Lock()
	subs := append([]chan *model.Run{}, h.subscribers[runID]...)
	h.mu.Unlock()
	cp := *run
	for _, ch := range subs {
		select {
		case ch <- &cp:
		default:
		}
	}
}

func (h *Hub) subscribe(runID string) chan *model.Run {
	ch := make(chan *model.Run, 8)
	h.mu.Lock()
	h.subscribers[runID] = append(h.subscribers[runID], ch)
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(runID string, ch chan *model.Run) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[runID]
	for i, c := range subs {
		if c == ch {
			h.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamRun upgrades to a websocket and pushes a JSON frame on every
// status transition of the run, closing once it reaches a terminal state
// or the client disconnects (SPEC_FULL.md §5.1).
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, ps params) {
	runID := ps.ByName("id")
	run, err := s.Runs.Get(r.Context(), runID)
	if err != nil || run.TenantID != TenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if run.Status.Terminal() {
		_ = conn.WriteJSON(run)
		return
	}

	ch := s.Hub.subscribe(runID)
	defer s.Hub.unsubscribe(runID, ch)

	conn.SetReadDeadline(time.Now().Add(24 * time.Hour))
	go drainClientReads(conn)

	for update := range ch {
		if err := conn.WriteJSON(update); err != nil {
			return
		}
		if update.Status.Terminal() {
			return
		}
	}
}

// drainClientReads discards inbound frames so the connection's read
// pump keeps the control channel alive and notices client disconnects.
func drainClientReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
