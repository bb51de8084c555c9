package download

import (
	"sync"

	"github.com/google/uuid"
)

// entry is the cached state of a video and the job it follows, if any.
type entry struct {
	state State
	job   uuid.UUID
}

type cache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func newCache() *cache {
	return &cache{entries: make(map[string]entry)}
}

func (c *cache) get(videoID string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[videoID]
	return e, ok
}

func (c *cache) put(videoID string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[videoID] = e
}

// putIfAbsent stores e unless videoID is cached and reports whether it did.
func (c *cache) putIfAbsent(videoID string, e entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[videoID]; ok {
		return false
	}
	c.entries[videoID] = e
	return true
}

func (c *cache) remove(videoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, videoID)
}

func (c *cache) findByJob(jobID uuid.UUID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, e := range c.entries {
		if e.job == jobID {
			return id, true
		}
	}
	return "", false
}

func (c *cache) ids() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}
