package embedding

import (
	"container/list"
	"sync"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
)

// =============================================================================
// QUERY EMBEDDING CACHE
// =============================================================================

// QueryCache is a bounded, lock-protected LRU for query embeddings. Keys
// include the user id so entries are never shared across tenants.
type QueryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // front = most recent
	entries  map[string]*list.Element // key -> element
}

type cacheEntry struct {
	key    string
	userID string
	vector []float32
}

// NewQueryCache creates a cache holding at most capacity entries.
func NewQueryCache(capacity int) *QueryCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &QueryCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func cacheKey(userID, text string) string {
	return userID + "\x00" + text
}

// Get returns the cached embedding for (userID, text), or nil.
func (c *QueryCache) Get(userID, text string) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[cacheKey(userID, text)]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).vector
}

// Put stores the embedding for (userID, text), evicting the least recently
// used entry when full.
func (c *QueryCache) Put(userID, text string, vector []float32) {
	if vector == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(userID, text)
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).vector = vector
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, userID: userID, vector: vector})
	c.entries[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// FlushUser drops every entry belonging to userID. Called on session end so
// a closed session cannot ghost-recall into the next one.
func (c *QueryCache) FlushUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(*cacheEntry)
		if entry.userID == userID {
			c.order.Remove(el)
			delete(c.entries, entry.key)
			removed++
		}
		el = next
	}

	if removed > 0 {
		logging.SessionDebug("Query cache flushed %d entries for user", removed)
	}
	return removed
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
