// Package orderedmap implements a map that remembers the order in which
// keys were first inserted.
//
// The ledger extension uses it to collapse repeated touches of one logical
// key within a batch into a single value while keeping the order of bulk
// writes deterministic.
package orderedmap

// Map is an insertion-ordered map. The zero value is not usable; use New.
// A Map is not safe for concurrent use.
type Map[K comparable, V any] struct {
	index  map[K]int
	keys   []K
	values []V
}

// New returns an empty map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{index: make(map[K]int)}
}

// GetOrAdd returns the value stored under key. If the key has not been seen
// before, factory is invoked once, its result is stored and returned.
// The second return value reports whether the value was newly added.
func (m *Map[K, V]) GetOrAdd(key K, factory func(K) V) (V, bool) {
	if i, ok := m.index[key]; ok {
		return m.values[i], false
	}
	v := factory(key)
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, v)
	return v, true
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	if i, ok := m.index[key]; ok {
		return m.values[i], true
	}
	var zero V
	return zero, false
}

// Set stores value under key. An existing key keeps its original position.
func (m *Map[K, V]) Set(key K, value V) {
	if i, ok := m.index[key]; ok {
		m.values[i] = value
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Len returns the number of keys.
func (m *Map[K, V]) Len() int {
	return len(m.keys)
}

// Keys returns the keys in first-insertion order.
func (m *Map[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns the values in first-insertion order of their keys.
func (m *Map[K, V]) Values() []V {
	out := make([]V, len(m.values))
	copy(out, m.values)
	return out
}

// Range calls fn for every entry in first-insertion order until fn returns false.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for i, k := range m.keys {
		if !fn(k, m.values[i]) {
			return
		}
	}
}
