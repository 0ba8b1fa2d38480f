package translate

import (
	"container/list"
	"sort"
	"strings"
	"sync"

	"github.com/interpres-live/interpres/pkg/types"
)

// memoKey builds the cache key for one translation request. Targets are
// sorted so that request order never fragments the cache.
func memoKey(text, srcLang string, targets []string) string {
	sorted := make([]string, len(targets))
	copy(sorted, targets)
	sort.Strings(sorted)

	var b strings.Builder
	b.Grow(len(text) + len(srcLang) + 8*len(sorted))
	b.WriteString(text)
	b.WriteByte(0)
	b.WriteString(srcLang)
	for _, t := range sorted {
		b.WriteByte(0)
		b.WriteString(t)
	}
	return b.String()
}

// memoEntry is one cached fan-out result.
type memoEntry struct {
	key   string
	value map[string]types.Translation
}

// memo is a fixed-capacity LRU cache of translation fan-outs. Safe for
// concurrent use.
type memo struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

func newMemo(capacity int) *memo {
	if capacity <= 0 {
		capacity = 1000
	}
	return &memo{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached value for key and refreshes its recency.
func (m *memo) Get(key string) (map[string]types.Translation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	m.ll.MoveToFront(el)
	return el.Value.(*memoEntry).value, true
}

// Put stores value under key, evicting the least recently used entry when the
// cache is full.
func (m *memo) Put(key string, value map[string]types.Translation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.ll.MoveToFront(el)
		el.Value.(*memoEntry).value = value
		return
	}
	el := m.ll.PushFront(&memoEntry{key: key, value: value})
	m.items[key] = el

	if m.ll.Len() > m.cap {
		oldest := m.ll.Back()
		m.ll.Remove(oldest)
		delete(m.items, oldest.Value.(*memoEntry).key)
	}
}

// Len returns the number of cached entries.
func (m *memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}
