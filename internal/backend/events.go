package backend

import (
	"sync"

	"github.com/hitoshi/pulseboard/internal/model"
)

// AuthEvent は認証状態の変化の種別。
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthCallback は認証イベントの通知先。SIGNED_OUTではsessionがnilになり得る。
type AuthCallback func(event AuthEvent, session *model.AuthSession)

// Subscription は認証イベントの購読ハンドル。
type Subscription struct {
	id   uint64
	bus  *eventBus
	once sync.Once
}

// Unsubscribe は購読を解除する。複数回呼び出しても安全。
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

// eventBus は認証イベントの購読者を管理する。
type eventBus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]AuthCallback
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[uint64]AuthCallback)}
}

func (b *eventBus) subscribe(cb AuthCallback) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.subs[b.next] = cb
	return &Subscription{id: b.next, bus: b}
}

func (b *eventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// emit は登録済みの全購読者にイベントを同期的に通知する。
// コールバック内での購読解除を許すため、ロック外で呼び出す。
func (b *eventBus) emit(event AuthEvent, session *model.AuthSession) {
	b.mu.RLock()
	callbacks := make([]AuthCallback, 0, len(b.subs))
	for _, cb := range b.subs {
		callbacks = append(callbacks, cb)
	}
	b.mu.RUnlock()

	for _, cb := range callbacks {
		cb(event, session)
	}
}

// count は現在の購読者数を返す。
func (b *eventBus) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
