package platform

import (
	"context"
	"sync"
	"time"
)

// CredentialsLookup — порт поиска access-токенов платформ по пользователю.
// Реализуется repo.CredentialsRepo; отсутствие аккаунта — repo.ErrNotFound.
type CredentialsLookup interface {
	PlatformMToken(ctx context.Context, userID string) (string, error)
	PlatformGToken(ctx context.Context, userID string) (string, error)
}

// cacheTTL — время жизни закешированного токена.
const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	token     string
	expiresAt time.Time
}

// CachingLookup оборачивает CredentialsLookup in-memory кешем с TTL.
// Кешируются только успешные ответы: отсутствие аккаунта перепроверяется
// на каждом действии.
type CachingLookup struct {
	inner CredentialsLookup
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCachingLookup создаёт кеширующую обёртку.
func NewCachingLookup(inner CredentialsLookup) *CachingLookup {
	return &CachingLookup{
		inner:   inner,
		ttl:     cacheTTL,
		entries: make(map[string]cacheEntry),
	}
}

// PlatformMToken возвращает токен платформы M, используя кеш.
func (c *CachingLookup) PlatformMToken(ctx context.Context, userID string) (string, error) {
	return c.lookup(ctx, "m:"+userID, func() (string, error) {
		return c.inner.PlatformMToken(ctx, userID)
	})
}

// PlatformGToken возвращает токен платформы G, используя кеш.
func (c *CachingLookup) PlatformGToken(ctx context.Context, userID string) (string, error) {
	return c.lookup(ctx, "g:"+userID, func() (string, error) {
		return c.inner.PlatformGToken(ctx, userID)
	})
}

func (c *CachingLookup) lookup(_ context.Context, key string, fetch func() (string, error)) (string, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.token, nil
	}

	token, err := fetch()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{token: token, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return token, nil
}

// Invalidate сбрасывает кеш пользователя (например, после переподключения
// аккаунта).
func (c *CachingLookup) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, "m:"+userID)
	delete(c.entries, "g:"+userID)
	c.mu.Unlock()
}
