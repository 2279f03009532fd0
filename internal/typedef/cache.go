package typedef

import (
	"fmt"
	"sync"
)

// Cache loads and caches Type descriptors for the lifetime of one Runtime.
// Mirrors the teacher's mutex-guarded registry pattern: load-or-fetch under
// a single lock, never re-read a type from disk twice per run.
type Cache struct {
	confTypeDir string

	mu    sync.Mutex
	types map[string]*Type
}

// NewCache creates a type cache rooted at confTypeDir (session's
// conf/type/ tree).
func NewCache(confTypeDir string) *Cache {
	return &Cache{
		confTypeDir: confTypeDir,
		types:       make(map[string]*Type),
	}
}

// Get returns the cached Type for name, loading it from disk on first use.
func (c *Cache) Get(name string) (*Type, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.types[name]; ok {
		return t, nil
	}

	t, err := Load(c.confTypeDir, name)
	if err != nil {
		return nil, fmt.Errorf("typedef: load %q: %w", name, err)
	}
	c.types[name] = t
	return t, nil
}
