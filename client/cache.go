package client

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tansel/livewatch/proto"
)

// HistoryEntry is one observed change to a field.
type HistoryEntry struct {
	At    time.Time `json:"at"`
	Value any       `json:"value"`
}

// StateCache is the authoritative local mirror of device object state plus a
// per-field append-only change log. The processing tick is the only writer;
// view collaborators read concurrently, hence the RWMutex.
type StateCache struct {
	mu      sync.RWMutex
	objects map[string]any
	schemas map[string]*proto.Schema
	history map[string]map[string][]HistoryEntry

	now func() time.Time
}

func NewStateCache() *StateCache {
	return &StateCache{
		objects: make(map[string]any),
		schemas: make(map[string]*proto.Schema),
		history: make(map[string]map[string][]HistoryEntry),
		now:     time.Now,
	}
}

// Replace installs a full snapshot for path. If the value is a field
// mapping, every top-level field gets one history entry: a full refresh is
// treated as "every field changed now". Returns the changed field names.
func (c *StateCache) Replace(path string, value any) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.objects[path] = value
	fields, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	changed := make([]string, 0, len(fields))
	now := c.now()
	for name, v := range fields {
		c.appendHistory(path, name, v, now)
		changed = append(changed, name)
	}
	sort.Strings(changed)
	return changed
}

// MergeDelta overwrites only the given fields, creating the cached entry as
// an empty mapping if absent. A prior scalar value is replaced by an empty
// mapping before the merge (logged, not fatal). Returns the changed fields.
func (c *StateCache) MergeDelta(path string, changes map[string]any) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.objects[path].(map[string]any)
	if !ok {
		if _, exists := c.objects[path]; exists {
			slog.Warn("Delta merge over non-mapping value, resetting object", "path", path)
		}
		cur = make(map[string]any)
	}
	changed := make([]string, 0, len(changes))
	now := c.now()
	for name, v := range changes {
		cur[name] = v
		c.appendHistory(path, name, v, now)
		changed = append(changed, name)
	}
	c.objects[path] = cur
	sort.Strings(changed)
	return changed
}

func (c *StateCache) appendHistory(path, field string, value any, at time.Time) {
	byField, ok := c.history[path]
	if !ok {
		byField = make(map[string][]HistoryEntry)
		c.history[path] = byField
	}
	byField[field] = append(byField[field], HistoryEntry{At: at, Value: value})
}

// Object returns the cached value for path. Absence is distinct from a
// cached nil value.
func (c *StateCache) Object(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.objects[path]
	return v, ok
}

// Paths lists every cached object path, sorted.
func (c *StateCache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.objects))
	for p := range c.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Evict removes an object and its history. The engine never calls this on
// its own; it exists for view collaborators that drop an expression.
func (c *StateCache) Evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, path)
	delete(c.history, path)
}

func (c *StateCache) SetSchema(name string, schema *proto.Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[name] = schema
}

func (c *StateCache) Schema(name string) (*proto.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[name]
	return s, ok
}

// History returns a copy of the change log for one field of one object.
func (c *StateCache) History(path, field string) []HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.history[path][field]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

// HistoryFields lists the fields that have recorded history for path.
func (c *StateCache) HistoryFields(path string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fields := make([]string, 0, len(c.history[path]))
	for f := range c.history[path] {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
