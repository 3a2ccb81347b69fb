// Package presence はuser_profilesの変更通知を購読し、接続中のブラウザへ
// オンライン状況のスナップショットを配信する。
package presence

import (
	"fmt"

	"github.com/hitoshi/pulseboard/internal/backend"
)

// ProfilesTable はプレゼンスの変更を監視するテーブル。
const ProfilesTable = "user_profiles"

// Subscriber はテーブル変更の購読元。*backend.Realtimeが満たす。
type Subscriber interface {
	Subscribe(table, event string, handler backend.ChangeHandler) (*backend.Channel, error)
}

// Feed はプロフィールテーブルの変更フィード。
type Feed struct {
	source Subscriber
}

// NewFeed はFeedを生成する。
func NewFeed(source Subscriber) *Feed {
	return &Feed{source: source}
}

// Subscribe はプロフィールテーブルのすべての変更（INSERT/UPDATE/DELETE）でcbを呼び出す。
// ペイロードによる絞り込みは行わない。返されたChannelのUnsubscribeは何度呼んでも安全。
func (f *Feed) Subscribe(cb backend.ChangeHandler) (*backend.Channel, error) {
	ch, err := f.source.Subscribe(ProfilesTable, backend.EventAll, cb)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to presence feed: %w", err)
	}
	return ch, nil
}
