package logging

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// LogHub fans recent log entries out to attached WebSocket clients and
// keeps a ring buffer so late subscribers can catch up. Only mounted when
// debug mode is on.
type LogHub struct {
	clients    map[*websocket.Conn]*clientInfo
	broadcast  chan LogMessage
	mu         sync.RWMutex
	stopCh     chan struct{}
	stopOnce   sync.Once
	history    []LogMessage
	historyMu  sync.RWMutex
	seq        uint64
	historyCap int
	maxClients int
	idleLimit  time.Duration
}

type clientInfo struct {
	lastActivity time.Time
}

// LogMessage is one broadcast entry.
type LogMessage struct {
	ID        uint64                 `json:"id,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var ErrHubFull = errors.New("maximum websocket log clients reached")

var (
	globalHub *LogHub
	hubOnce   sync.Once
)

// Hub returns the process-wide log hub, starting it on first use.
func Hub() *LogHub {
	hubOnce.Do(func() {
		globalHub = NewLogHub()
		globalHub.Start()
	})
	return globalHub
}

func NewLogHub() *LogHub {
	return &LogHub{
		clients:    make(map[*websocket.Conn]*clientInfo),
		broadcast:  make(chan LogMessage, 100),
		stopCh:     make(chan struct{}),
		history:    make([]LogMessage, 0, 500),
		historyCap: 500,
		maxClients: 20,
		idleLimit:  30 * time.Minute,
	}
}

// Start launches the broadcast and idle-cleanup goroutines.
func (h *LogHub) Start() {
	go func() {
		for {
			select {
			case msg := <-h.broadcast:
				h.mu.RLock()
				for conn, info := range h.clients {
					go func(c *websocket.Conn, m LogMessage) {
						if err := c.WriteJSON(m); err != nil {
							h.Detach(c)
						}
					}(conn, msg)
					info.lastActivity = time.Now()
				}
				h.mu.RUnlock()
			case <-h.stopCh:
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.dropIdle()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop closes all client connections and halts the hub.
func (h *LogHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*clientInfo)
}

// Attach registers a WebSocket client.
func (h *LogHub) Attach(conn *websocket.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.maxClients {
		return ErrHubFull
	}
	h.clients[conn] = &clientInfo{lastActivity: time.Now()}
	log.Debugf("log tail client connected (total: %d)", len(h.clients))
	return nil
}

// Detach removes and closes a WebSocket client.
func (h *LogHub) Detach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

func (h *LogHub) dropIdle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for conn, info := range h.clients {
		if now.Sub(info.lastActivity) > h.idleLimit {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// ClientCount returns the number of attached clients.
func (h *LogHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish records one entry in the ring buffer and broadcasts it. Slow
// consumers never block logging: the channel drops when full.
func (h *LogHub) Publish(level, message string, fields map[string]interface{}) {
	msg := LogMessage{
		ID:        atomic.AddUint64(&h.seq, 1),
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Fields:    fields,
	}
	h.appendHistory(msg)

	select {
	case h.broadcast <- msg:
	default:
	}
}

func (h *LogHub) appendHistory(msg LogMessage) {
	if h.historyCap <= 0 {
		return
	}
	h.historyMu.Lock()
	defer h.historyMu.Unlock()
	h.history = append(h.history, msg)
	if len(h.history) > h.historyCap {
		excess := len(h.history) - h.historyCap
		h.history = append([]LogMessage(nil), h.history[excess:]...)
	}
}

// FetchSince returns entries newer than the cursor, oldest first, plus the
// next cursor and whether more remain. Cursor 0 means "latest window".
func (h *LogHub) FetchSince(cursor uint64, limit int) ([]LogMessage, uint64, bool) {
	h.historyMu.RLock()
	defer h.historyMu.RUnlock()

	if limit <= 0 || limit > h.historyCap {
		limit = h.historyCap
	}
	total := len(h.history)
	if total == 0 {
		return []LogMessage{}, cursor, false
	}

	start := 0
	if cursor == 0 {
		if total > limit {
			start = total - limit
		}
	} else {
		start = total
		for i, msg := range h.history {
			if msg.ID > cursor {
				start = i
				break
			}
		}
		if start >= total {
			return []LogMessage{}, cursor, false
		}
	}

	end := start + limit
	if end > total {
		end = total
	}
	out := make([]LogMessage, end-start)
	copy(out, h.history[start:end])

	next := cursor
	if len(out) > 0 {
		next = out[len(out)-1].ID
	}
	return out, next, end < total
}

// HubHook bridges logrus entries into the hub.
type HubHook struct {
	hub *LogHub
}

func NewHubHook() *HubHook {
	return &HubHook{hub: Hub()}
}

func (hook *HubHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook *HubHook) Fire(entry *log.Entry) error {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}
	hook.hub.Publish(entry.Level.String(), entry.Message, fields)
	return nil
}

// InstallHubHook attaches the hub hook to the global logger.
func InstallHubHook() {
	log.AddHook(NewHubHook())
}
