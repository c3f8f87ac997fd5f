package ipc

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Per-connection send buffer. A consumer that falls this far behind is
// dropped rather than allowed to stall the publisher.
const sendBuffer = 16

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Loopback-only listener; browser origins are irrelevant here.
		return true
	},
}

// Hub streams StatusSnapshot JSON frames to connected WebSocket clients.
// Each new client immediately receives the latest snapshot, then every
// subsequent broadcast.
type Hub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]chan []byte
	last   []byte
	closed bool

	listener net.Listener
	server   *http.Server
	errLog   *log.Logger
}

// NewHub creates a hub that is not yet listening.
func NewHub(errLog *log.Logger) *Hub {
	return &Hub{
		conns:  make(map[*websocket.Conn]chan []byte),
		errLog: errLog,
	}
}

// Start listens on the loopback address (port 0 picks a free port) and
// returns the bound address.
func (h *Hub) Start(addr string) (string, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("ipc hub listen: %w", err)
	}
	h.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/status", h.handleStatus)
	h.server = &http.Server{Handler: mux}

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.errLog.Printf("ipc hub server: %v", err)
		}
	}()
	return listener.Addr().String(), nil
}

// Broadcast sends the snapshot to every connected client. Never blocks:
// a client with a full send buffer is disconnected.
func (h *Hub) Broadcast(status *StatusSnapshot) {
	data, err := json.Marshal(status)
	if err != nil {
		h.errLog.Printf("ipc hub encode: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for conn, send := range h.conns {
		select {
		case send <- data:
		default:
			h.errLog.Printf("ipc client too slow, dropping %s", conn.RemoteAddr())
			delete(h.conns, conn)
			close(send)
		}
	}
}

// Close disconnects all clients and stops the listener.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for conn, send := range h.conns {
		delete(h.conns, conn)
		close(send)
	}
	h.mu.Unlock()

	if h.server != nil {
		_ = h.server.Close()
	}
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.errLog.Printf("ipc hub upgrade: %v", err)
		return
	}

	send := make(chan []byte, sendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if h.last != nil {
		send <- h.last
	}
	h.conns[conn] = send
	h.mu.Unlock()

	go h.writeLoop(conn, send)
	h.readLoop(conn, send)
}

// writeLoop drains the send channel into the socket; it exits when the
// channel is closed by Broadcast, Close, or readLoop.
func (h *Hub) writeLoop(conn *websocket.Conn, send chan []byte) {
	defer conn.Close()
	for data := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop exists to detect client disconnects; inbound frames carry no
// meaning and are discarded.
func (h *Hub) readLoop(conn *websocket.Conn, send chan []byte) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(send)
	}
	h.mu.Unlock()
	conn.Close()
}

// ClientCount reports connected clients. Used by tests and status output.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
