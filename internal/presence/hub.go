package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/pulseboard/internal/backend"
	"github.com/hitoshi/pulseboard/internal/metrics"
	"github.com/hitoshi/pulseboard/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 8
	queryTimeout   = 5 * time.Second
)

// Querier はスナップショットの再取得に使う読み取りクエリ。*dashboard.Serviceが満たす。
type Querier interface {
	OnlineUsers(ctx context.Context) ([]model.Profile, error)
	AllUsers(ctx context.Context) ([]model.Profile, error)
}

// Snapshot はクライアントに送るプレゼンス状態。
type Snapshot struct {
	Type   string          `json:"type"`
	Online []model.Profile `json:"online_users"`
	Users  []model.Profile `json:"all_users"`
	Change *backend.Change `json:"change,omitempty"`
	At     time.Time       `json:"at"`
}

// client はWebSocket接続1本を表す。
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// Hub は変更通知のたびにユーザー一覧を再取得し、全クライアントへ配信する。
type Hub struct {
	querier  Querier
	metrics  metrics.MetricsCollector
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	// refresh は未処理の変更通知を最大1件保持する。連続した通知は1回の再取得にまとめる。
	refresh chan backend.Change
}

// NewHub はHubを生成する。allowedOriginが空の場合はOriginを検査しない。
func NewHub(querier Querier, collector metrics.MetricsCollector, allowedOrigin string) *Hub {
	if collector == nil {
		collector = metrics.Nop{}
	}
	h := &Hub{
		querier: querier,
		metrics: collector,
		clients: make(map[*client]struct{}),
		refresh: make(chan backend.Change, 1),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || origin == "" || origin == allowedOrigin
		},
	}
	return h
}

// Notify は変更通知を受け付ける。ブロックしない。
func (h *Hub) Notify(change backend.Change) {
	h.metrics.RecordPresenceChange(change.Operation)
	select {
	case h.refresh <- change:
	default:
	}
}

// Run は変更通知を処理する。ctxがキャンセルされると全クライアントを切断して戻る。
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-h.refresh:
			h.broadcastSnapshot(ctx, &change)
		}
	}
}

// broadcastSnapshot はスナップショットを再取得して全クライアントに送る。
func (h *Hub) broadcastSnapshot(ctx context.Context, change *backend.Change) {
	if h.ClientCount() == 0 {
		return
	}

	msg, err := h.snapshot(ctx, change)
	if err != nil {
		slog.Error("failed to build presence snapshot", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// 送信が詰まっているクライアントは切断する
			h.removeLocked(c)
		}
	}
}

// snapshot はオンラインユーザーと全ユーザーを取得してJSONにする。
func (h *Hub) snapshot(ctx context.Context, change *backend.Change) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	online, err := h.querier.OnlineUsers(ctx)
	if err != nil {
		return nil, err
	}
	users, err := h.querier.AllUsers(ctx)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Snapshot{
		Type:   "presence",
		Online: online,
		Users:  users,
		Change: change,
		At:     time.Now().UTC(),
	})
}

// Serve はHTTP接続をWebSocketにアップグレードし、クライアントとして登録する。
// 接続直後に現在のスナップショットを1回送る。
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("presence websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), userID: userID}

	if msg, err := h.snapshot(r.Context(), nil); err == nil {
		c.send <- msg
	} else {
		slog.Error("failed to build initial presence snapshot", slog.String("error", err.Error()))
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetPresenceClients(count)

	slog.Debug("presence client connected", slog.String("user_id", userID))

	go h.writePump(c)
	h.readPump(c)
}

// readPump はクライアントからのメッセージを読み捨て、切断を検知する。
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("presence client read error",
					slog.String("user_id", c.userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// writePump はsendチャネルのメッセージを送信し、定期的にpingを送る。
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// remove はクライアントの登録を解除する。
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked はh.muを保持した状態でクライアントを削除する。
// sendを閉じるのは登録を削除した1回のみ。
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.SetPresenceClients(len(h.clients))
}

// closeAll は全クライアントを切断する。
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// ClientCount は接続中のクライアント数を返す。
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
