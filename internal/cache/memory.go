package cache

import (
	"context"
	"net/http"
	"sort"
	"sync"
)

// MemoryStorage keeps generations in process memory. Entries are kept serialized,
// so every Match returns an independent response.
type MemoryStorage struct {
	mutex       sync.RWMutex
	generations map[string]*memoryGeneration
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		generations: make(map[string]*memoryGeneration),
	}
}

func (m *MemoryStorage) Open(_ context.Context, name string) (Generation, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	gen, ok := m.generations[name]
	if !ok {
		gen = &memoryGeneration{name: name, entries: make(map[string][]byte)}
		m.generations[name] = gen
	}
	return gen, nil
}

func (m *MemoryStorage) Names(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.generations))
	for name := range m.generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, ok := m.generations[name]
	delete(m.generations, name)
	return ok, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

type memoryGeneration struct {
	name    string
	mutex   sync.RWMutex
	entries map[string][]byte
}

func (g *memoryGeneration) Name() string {
	return g.name
}

func (g *memoryGeneration) Match(_ context.Context, req *http.Request) (*http.Response, error) {
	g.mutex.RLock()
	data, ok := g.entries[Key(req)]
	g.mutex.RUnlock()
	if !ok {
		return nil, nil
	}

	_, resp, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

func (g *memoryGeneration) Put(_ context.Context, req *http.Request, resp *http.Response) error {
	key := Key(req)
	data, err := Serialize(key, resp)
	if err != nil {
		return err
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.entries[key] = data
	return nil
}

func (g *memoryGeneration) Delete(_ context.Context, req *http.Request) (bool, error) {
	key := Key(req)

	g.mutex.Lock()
	defer g.mutex.Unlock()
	_, ok := g.entries[key]
	delete(g.entries, key)
	return ok, nil
}

func (g *memoryGeneration) Keys(ctx context.Context) ([]*http.Request, error) {
	g.mutex.RLock()
	keys := make([]string, 0, len(g.entries))
	for key := range g.entries {
		keys = append(keys, key)
	}
	g.mutex.RUnlock()
	sort.Strings(keys)

	return requestsForKeys(ctx, keys)
}

func requestsForKeys(ctx context.Context, keys []string) ([]*http.Request, error) {
	requests := make([]*http.Request, 0, len(keys))
	for _, key := range keys {
		req, err := requestForKey(ctx, key)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}
