package memory

import (
	"container/list"
	"sync"

	"github.com/velro/authz-core/internal/domain/cache"
)

// HotKeyStore is the small in-process sub-structure the engine consults
// before L1 main (spec §4.3 step 2), bounded by entry count rather than
// memory since it exists purely to shortcut a handful of high-priority
// keys. Guarded by a plain mutex: the teacher's "reentrant mutex" note
// (spec §5) is satisfied here because no method calls another while
// holding the lock.
type HotKeyStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxLen  int
}

type hotNode struct {
	key   string
	entry *cache.Entry
}

// NewHotKeyStore creates a HotKeyStore bounded at maxLen entries
// (spec recommends ~1000).
func NewHotKeyStore(maxLen int) *HotKeyStore {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &HotKeyStore{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxLen:  maxLen,
	}
}

// Get returns the entry for key, if hot.
func (h *HotKeyStore) Get(key string) (*cache.Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	el, ok := h.entries[key]
	if !ok {
		return nil, false
	}
	h.order.MoveToFront(el)
	return el.Value.(*hotNode).entry, true
}

// Set inserts or replaces entry, evicting LRU if over the bound.
func (h *HotKeyStore) Set(entry *cache.Entry) error {
	key := entry.Key.String()

	h.mu.Lock()
	defer h.mu.Unlock()

	if el, ok := h.entries[key]; ok {
		el.Value = &hotNode{key: key, entry: entry}
		h.order.MoveToFront(el)
		return nil
	}

	el := h.order.PushFront(&hotNode{key: key, entry: entry})
	h.entries[key] = el

	for h.order.Len() > h.maxLen {
		back := h.order.Back()
		node := back.Value.(*hotNode)
		h.order.Remove(back)
		delete(h.entries, node.key)
	}
	return nil
}

// Delete removes key from the hot-key set.
func (h *HotKeyStore) Delete(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	el, ok := h.entries[key]
	if !ok {
		return
	}
	h.order.Remove(el)
	delete(h.entries, key)
}

// Len returns the current number of hot keys held.
func (h *HotKeyStore) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.order.Len()
}

var _ cache.HotKeyStore = (*HotKeyStore)(nil)
