package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// 変更通知のチャネル名は "realtime_<table>"。データベースのトリガーが送信する。
const channelPrefix = "realtime_"

// 購読時に指定するイベント種別。
const (
	EventAll    = "*"
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"

	// OpReconnect はリスナーの再接続を表す。再接続中の変更は失われ得るため、受信側は再取得する。
	OpReconnect = "RECONNECT"
)

// pingInterval は通知待ちの間に接続の生存を確認する間隔。
const pingInterval = 90 * time.Second

// Change はテーブルの行変更通知。
type Change struct {
	Table     string `json:"table"`
	Operation string `json:"op"`
	RecordID  string `json:"id"`
}

// ChangeHandler は変更通知の受け取り先。
type ChangeHandler func(Change)

// NotificationSource はLISTEN/NOTIFYの通知元。*pq.Listenerが満たす。
type NotificationSource interface {
	Listen(channel string) error
	Unlisten(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// NewListener はデータベースへの通知用接続を生成する。
// 接続状態の変化はログに出力する。
func NewListener(databaseURL string, minReconnect, maxReconnect time.Duration) *pq.Listener {
	return pq.NewListener(databaseURL, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			slog.Info("realtime listener connected")
		case pq.ListenerEventDisconnected:
			slog.Warn("realtime listener disconnected", slog.Any("error", err))
		case pq.ListenerEventReconnected:
			slog.Info("realtime listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			slog.Error("realtime listener connection attempt failed", slog.Any("error", err))
		}
	})
}

// Channel はテーブル変更の購読ハンドル。
type Channel struct {
	id      uint64
	table   string
	event   string
	handler ChangeHandler
	rt      *Realtime
	once    sync.Once
}

// Unsubscribe は購読を解除する。複数回呼び出しても安全。
func (c *Channel) Unsubscribe() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.rt.remove(c)
	})
}

func (c *Channel) matches(op string) bool {
	return c.event == EventAll || op == OpReconnect || strings.EqualFold(c.event, op)
}

// Realtime はテーブル変更通知を購読者に配信する。
type Realtime struct {
	source NotificationSource

	mu       sync.Mutex
	next     uint64
	channels map[string]map[uint64]*Channel
}

// NewRealtime はRealtimeを生成する。
func NewRealtime(source NotificationSource) *Realtime {
	return &Realtime{
		source:   source,
		channels: make(map[string]map[uint64]*Channel),
	}
}

// Subscribe はテーブルの変更を購読する。eventは "*", "INSERT", "UPDATE", "DELETE" のいずれか。
func (r *Realtime) Subscribe(table, event string, handler ChangeHandler) (*Channel, error) {
	switch event {
	case EventAll, EventInsert, EventUpdate, EventDelete:
	default:
		return nil, fmt.Errorf("unsupported realtime event: %q", event)
	}
	if table == "" {
		return nil, errors.New("realtime table must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.channels[table]
	if !ok {
		if err := r.source.Listen(channelPrefix + table); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return nil, fmt.Errorf("failed to listen on %s: %w", table, err)
		}
		subs = make(map[uint64]*Channel)
		r.channels[table] = subs
	}

	r.next++
	ch := &Channel{id: r.next, table: table, event: event, handler: handler, rt: r}
	subs[ch.id] = ch
	return ch, nil
}

// remove は購読を削除し、テーブルの購読者がいなくなればUNLISTENする。
func (r *Realtime) remove(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.channels[ch.table]
	if !ok {
		return
	}
	delete(subs, ch.id)
	if len(subs) > 0 {
		return
	}
	delete(r.channels, ch.table)
	if err := r.source.Unlisten(channelPrefix + ch.table); err != nil && !errors.Is(err, pq.ErrChannelNotOpen) {
		slog.Warn("failed to unlisten realtime channel",
			slog.String("table", ch.table),
			slog.String("error", err.Error()),
		)
	}
}

// Run は通知を受信して購読者に配信する。ctxがキャンセルされるまでブロックする。
func (r *Realtime) Run(ctx context.Context) error {
	notifications := r.source.NotificationChannel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("realtime notification channel closed")
			}
			r.handle(n)
		case <-ticker.C:
			go func() {
				if err := r.source.Ping(); err != nil {
					slog.Warn("realtime listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// handle は1件の通知を購読者に配信する。nilの通知は再接続を表す。
func (r *Realtime) handle(n *pq.Notification) {
	if n == nil {
		for _, ch := range r.snapshot("") {
			ch.handler(Change{Table: ch.table, Operation: OpReconnect})
		}
		return
	}

	var change Change
	if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
		slog.Warn("invalid realtime payload",
			slog.String("channel", n.Channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if change.Table == "" {
		change.Table = strings.TrimPrefix(n.Channel, channelPrefix)
	}

	for _, ch := range r.snapshot(change.Table) {
		if ch.matches(change.Operation) {
			ch.handler(change)
		}
	}
}

// snapshot はテーブルの購読者一覧を返す。tableが空なら全購読者を返す。
func (r *Realtime) snapshot(table string) []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Channel
	for t, subs := range r.channels {
		if table != "" && t != table {
			continue
		}
		for _, ch := range subs {
			out = append(out, ch)
		}
	}
	return out
}

// Close は通知用接続を閉じる。
func (r *Realtime) Close() error {
	return r.source.Close()
}
