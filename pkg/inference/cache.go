package inference

import (
	"sync"
	"time"
)

type cacheKey struct {
	provider string
	apiKey   string
	baseURL  string
	timeout  time.Duration
}

// Cache constructs clients lazily and returns the same Client for the same
// credentials for the lifetime of the process.
type Cache struct {
	mu      sync.Mutex
	clients map[cacheKey]Client
	factory func(Config) (Client, error)
}

// NewCache creates a cache backed by New.
func NewCache() *Cache {
	return NewCacheWithFactory(New)
}

// NewCacheWithFactory creates a cache backed by a custom constructor.
func NewCacheWithFactory(factory func(Config) (Client, error)) *Cache {
	return &Cache{
		clients: make(map[cacheKey]Client),
		factory: factory,
	}
}

// Get returns the cached client for cfg, constructing it on first use.
// Construction errors are not cached.
func (c *Cache) Get(cfg Config) (Client, error) {
	key := cacheKey{provider: cfg.provider(), apiKey: cfg.APIKey, baseURL: cfg.BaseURL, timeout: cfg.RequestTimeout}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	client, err := c.factory(cfg)
	if err != nil {
		return nil, err
	}
	c.clients[key] = client
	return client, nil
}

// Len returns the number of constructed clients.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}
