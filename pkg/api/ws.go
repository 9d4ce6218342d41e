package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/metrics"
	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/registry"
)

const (
	wsWriteWait  = 5 * time.Second
	wsSendBuffer = 4
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SnapshotFrame is pushed to every subscriber after a snapshot swap.
type SnapshotFrame struct {
	Cycle   string                    `json:"cycle"`
	TakenAt time.Time                 `json:"taken_at"`
	Nodes   map[string]map[string]int `json:"nodes"`
}

func frameOf(s *registry.Snapshot) SnapshotFrame {
	f := SnapshotFrame{Cycle: s.ID, TakenAt: s.TakenAt.UTC(), Nodes: map[string]map[string]int{}}
	for _, b := range nodes.Buckets() {
		if f.Nodes[string(b.Kind)] == nil {
			f.Nodes[string(b.Kind)] = map[string]int{}
		}
		f.Nodes[string(b.Kind)][string(b.Network)] = s.Len(b)
	}
	return f
}

// WS fans snapshot summaries out to websocket subscribers. Slow clients
// drop frames rather than stall the publisher.
type WS struct {
	Reg    *registry.Registry
	Logger *zap.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func NewWS(reg *registry.Registry, logger *zap.Logger) *WS {
	return &WS{Reg: reg, Logger: logger, clients: make(map[chan []byte]struct{})}
}

// Publish is meant to be registered with the scheduler's OnPublish hook.
func (w *WS) Publish(s *registry.Snapshot) {
	msg, err := json.Marshal(frameOf(s))
	if err != nil {
		w.Logger.Warn("ws_frame_encode_failed", zap.Error(err))
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.clients {
		select {
		case ch <- msg:
		default:
			w.Logger.Debug("ws_frame_dropped", zap.String("cycle", s.ID))
		}
	}
}

func (w *WS) Subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

func (w *WS) subscribe() chan []byte {
	ch := make(chan []byte, wsSendBuffer)
	w.mu.Lock()
	w.clients[ch] = struct{}{}
	w.mu.Unlock()
	return ch
}

func (w *WS) unsubscribe(ch chan []byte) {
	w.mu.Lock()
	delete(w.clients, ch)
	w.mu.Unlock()
}

// GET /ws/snapshots
func (w *WS) ServeWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.Logger.Warn("ws_upgrade_failed", zap.Error(err))
		metrics.WSError.Inc()
		return
	}
	defer conn.Close()

	ch := w.subscribe()
	defer w.unsubscribe(ch)

	metrics.WSConnected.Inc()
	w.Logger.Info("ws_subscriber_connected", zap.String("remote", r.RemoteAddr))

	// the reader only exists to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	first, _ := json.Marshal(frameOf(w.Reg.Snapshot()))
	if err := w.write(conn, first); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			w.Logger.Info("ws_subscriber_closed", zap.String("remote", r.RemoteAddr))
			return
		case <-r.Context().Done():
			return
		case msg := <-ch:
			if err := w.write(conn, msg); err != nil {
				return
			}
		}
	}
}

func (w *WS) write(conn *websocket.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		w.Logger.Warn("ws_client_write_error", zap.Error(err))
		metrics.WSError.Inc()
		return err
	}
	return nil
}
