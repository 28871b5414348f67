package cache

import (
	"container/list"
	"sync"
)

// Weigher computes the weight of an entry in a Weighted backing.
type Weigher[K comparable, V any] func(key K, value V) int64

// Weighted is a weight-bounded Backing: it evicts least-recently-used
// entries until the total weight of all entries fits the budget. An entry
// heavier than the entire budget is not retained at all.
type Weighted[K comparable, V any] struct {
	mu        sync.Mutex
	maxWeight int64
	weigh     Weigher[K, V]
	ll        *list.List // front is most recently used
	items     map[K]*list.Element
	weight    int64
}

type weightedEntry[K comparable, V any] struct {
	key    K
	value  V
	weight int64
}

var _ Backing[string, any] = (*Weighted[string, any])(nil)

// NewWeighted creates a Weighted backing with the given total weight budget.
func NewWeighted[K comparable, V any](maxWeight int64, weigh Weigher[K, V]) *Weighted[K, V] {
	return &Weighted[K, V]{
		maxWeight: maxWeight,
		weigh:     weigh,
		ll:        list.New(),
		items:     make(map[K]*list.Element),
	}
}

// Get retrieves the value for key and marks it most recently used.
func (w *Weighted[K, V]) Get(key K) (V, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	el, ok := w.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	w.ll.MoveToFront(el)
	return el.Value.(*weightedEntry[K, V]).value, true
}

// Add stores the value for key, then evicts from the cold end until the
// total weight fits the budget.
func (w *Weighted[K, V]) Add(key K, value V) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.items[key]; ok {
		entry := el.Value.(*weightedEntry[K, V])
		w.weight -= entry.weight
		entry.value = value
		entry.weight = w.weigh(key, value)
		w.weight += entry.weight
		w.ll.MoveToFront(el)
	} else {
		entry := &weightedEntry[K, V]{key: key, value: value, weight: w.weigh(key, value)}
		w.items[key] = w.ll.PushFront(entry)
		w.weight += entry.weight
	}

	for w.weight > w.maxWeight {
		oldest := w.ll.Back()
		if oldest == nil {
			break
		}
		w.removeElement(oldest)
	}
}

// Remove evicts key.
func (w *Weighted[K, V]) Remove(key K) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.items[key]; ok {
		w.removeElement(el)
	}
}

// Weight returns the current total weight of all entries.
func (w *Weighted[K, V]) Weight() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.weight
}

// Len returns the current entry count.
func (w *Weighted[K, V]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ll.Len()
}

func (w *Weighted[K, V]) removeElement(el *list.Element) {
	entry := el.Value.(*weightedEntry[K, V])
	w.ll.Remove(el)
	delete(w.items, entry.key)
	w.weight -= entry.weight
}
