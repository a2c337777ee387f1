package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
)

type entry struct {
	results   []domain.SearchResult
	userID    string
	createdAt time.Time
	expiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// SearchCache memoizes search responses per user, query and limit. Entries
// expire after the TTL and are dropped eagerly when a user gains newly
// searchable content.
type SearchCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	userKeys   map[string]map[string]struct{}
	ttl        time.Duration
	maxEntries int
}

func NewSearchCache(config Config) *SearchCache {
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	return &SearchCache{
		entries:    make(map[string]entry),
		userKeys:   make(map[string]map[string]struct{}),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func (c *SearchCache) Get(userID, query string, limit int) ([]domain.SearchResult, bool) {
	key := buildKey(userID, query, limit)

	c.mu.RLock()
	cached, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if time.Now().UTC().After(cached.expiresAt) {
		c.mu.Lock()
		c.removeLocked(key, cached.userID)
		c.mu.Unlock()
		return nil, false
	}
	return append([]domain.SearchResult(nil), cached.results...), true
}

func (c *SearchCache) Set(userID, query string, limit int, results []domain.SearchResult) {
	key := buildKey(userID, query, limit)
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = entry{
		results:   append([]domain.SearchResult(nil), results...),
		userID:    userID,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	keys, ok := c.userKeys[userID]
	if !ok {
		keys = make(map[string]struct{})
		c.userKeys[userID] = keys
	}
	keys[key] = struct{}{}
}

// InvalidateUser drops every cached response for one user.
func (c *SearchCache) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.userKeys[userID] {
		delete(c.entries, key)
	}
	delete(c.userKeys, userID)
}

func (c *SearchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *SearchCache) removeLocked(key, userID string) {
	delete(c.entries, key)
	if keys, ok := c.userKeys[userID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.userKeys, userID)
		}
	}
}

func (c *SearchCache) evictOldestLocked() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.createdAt.Before(pairs[j].value.createdAt)
	})
	oldest := pairs[0]
	c.removeLocked(oldest.key, oldest.value.userID)
}

func buildKey(userID, query string, limit int) string {
	normalized := strings.Join([]string{
		strings.TrimSpace(userID),
		strings.TrimSpace(strings.ToLower(query)),
		strconv.Itoa(limit),
	}, "||")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
