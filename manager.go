package cart

import "sync"

// Manager is a named registry of Cache instances, grounded on the
// teacher's sync.Map-based cache registry (manager.go): one process-wide
// place to look caches up by name instead of threading *Cache[K,V] values
// through every layer that needs one. Unlike the teacher's registry, a
// Cache has no background worker to stop, so there is no Close to forward.
type Manager struct {
	caches sync.Map // name string -> *Cache[K, V] (type-erased)
}

func NewManager() *Manager {
	return &Manager{}
}

// GlobalManager is a process-wide Manager for embedders that don't want to
// thread one through explicitly.
var GlobalManager = NewManager()

// Register adds c under name. Returns ErrCacheExists if name is already
// registered — first registration wins, matching the teacher's
// LoadOrStore race-resolution in GetCache.
func Register[K comparable, V any](m *Manager, name string, c *Cache[K, V]) error {
	if _, loaded := m.caches.LoadOrStore(name, c); loaded {
		return wrapKeyError("Register", name, ErrCacheExists)
	}
	return nil
}

// Get looks up the cache registered under name. Returns ErrCacheNotFound if
// nothing is registered, or ErrTypeMismatch if it was registered with
// different K/V type parameters.
func Get[K comparable, V any](m *Manager, name string) (*Cache[K, V], error) {
	v, ok := m.caches.Load(name)
	if !ok {
		return nil, wrapKeyError("Get", name, ErrCacheNotFound)
	}
	c, ok := v.(*Cache[K, V])
	if !ok {
		return nil, wrapKeyError("Get", name, ErrTypeMismatch)
	}
	return c, nil
}

// Remove drops name from the registry without touching the cache itself.
func (m *Manager) Remove(name string) {
	m.caches.Delete(name)
}

// Stats snapshots every registered cache's Stats under its name.
func (m *Manager) Stats() map[string]Stats {
	out := make(map[string]Stats)
	m.caches.Range(func(key, value any) bool {
		name, ok := key.(string)
		if !ok {
			return true
		}
		if c, ok := value.(interface{ Stats() Stats }); ok {
			out[name] = c.Stats()
		}
		return true
	})
	return out
}

// RegisterGlobal registers c under name in GlobalManager.
func RegisterGlobal[K comparable, V any](name string, c *Cache[K, V]) error {
	return Register(GlobalManager, name, c)
}

// GetGlobal looks up name in GlobalManager.
func GetGlobal[K comparable, V any](name string) (*Cache[K, V], error) {
	return Get[K, V](GlobalManager, name)
}

// GlobalStats snapshots every cache registered in GlobalManager.
func GlobalStats() map[string]Stats {
	return GlobalManager.Stats()
}
