package auth

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/hitoshi/pulseboard/internal/model"
)

// IdentityCache はアクセストークンからidentityへの解決結果を短時間保持する。
// nilのIdentityCacheは常にミスする。
type IdentityCache struct {
	cache *ristretto.Cache[string, *model.Identity]
	ttl   time.Duration
}

// NewIdentityCache はIdentityCacheを生成する。ttlが0以下の場合はnilを返す。
func NewIdentityCache(ttl time.Duration) (*IdentityCache, error) {
	if ttl <= 0 {
		return nil, nil
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *model.Identity]{
		NumCounters:        1e6,
		MaxCost:            1e5, // 1エントリ=コスト1
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}

	return &IdentityCache{cache: cache, ttl: ttl}, nil
}

// Get はキャッシュされたidentityを返す。
func (c *IdentityCache) Get(accessToken string) (*model.Identity, bool) {
	if c == nil || accessToken == "" {
		return nil, false
	}
	return c.cache.Get(accessToken)
}

// Set はidentityをキャッシュする。書き込みは即座に読み出せる。
func (c *IdentityCache) Set(accessToken string, identity *model.Identity) {
	if c == nil || accessToken == "" || identity == nil {
		return
	}
	c.cache.SetWithTTL(accessToken, identity, 1, c.ttl)
	c.cache.Wait()
}

// Invalidate はトークンのキャッシュを破棄する。
func (c *IdentityCache) Invalidate(accessToken string) {
	if c == nil || accessToken == "" {
		return
	}
	c.cache.Del(accessToken)
}

// Close はキャッシュを停止する。
func (c *IdentityCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
