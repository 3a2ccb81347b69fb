package auth

import (
	"sync"

	"github.com/hitoshi/pulseboard/internal/backend"
)

// EventSource は認証イベントの購読元。*backend.Clientが満たす。
type EventSource interface {
	OnAuthStateChange(cb backend.AuthCallback) *backend.Subscription
}

// SubscriptionManager は認証イベントの購読を最大1つだけ保持する。
// 再登録時は前の購読を先に解除する。
type SubscriptionManager struct {
	source EventSource

	mu      sync.Mutex
	current *backend.Subscription
}

// NewSubscriptionManager はSubscriptionManagerを生成する。
func NewSubscriptionManager(source EventSource) *SubscriptionManager {
	return &SubscriptionManager{source: source}
}

// OnAuthStateChanged はコールバックを登録する。既存の購読は解除される。
func (m *SubscriptionManager) OnAuthStateChanged(cb backend.AuthCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Unsubscribe()
	}
	m.current = m.source.OnAuthStateChange(cb)
}

// Unsubscribe は現在の購読を解除する。購読がなくても安全に呼び出せる。
func (m *SubscriptionManager) Unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Unsubscribe()
		m.current = nil
	}
}

// Active は購読中かどうかを返す。
func (m *SubscriptionManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}
