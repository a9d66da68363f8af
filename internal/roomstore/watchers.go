package roomstore

import "sync"

// watcherSet fans membership changes out to per-room callbacks.
type watcherSet struct {
	mu     sync.Mutex
	byRoom map[string]map[int]func(Change)
	next   int
}

func (w *watcherSet) add(roomID string, fn func(Change)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.byRoom == nil {
		w.byRoom = make(map[string]map[int]func(Change))
	}
	id := w.next
	w.next++
	if w.byRoom[roomID] == nil {
		w.byRoom[roomID] = make(map[int]func(Change))
	}
	w.byRoom[roomID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.byRoom[roomID], id)
			if len(w.byRoom[roomID]) == 0 {
				delete(w.byRoom, roomID)
			}
		})
	}
}

func (w *watcherSet) snapshot(roomID string) []func(Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fns := make([]func(Change), 0, len(w.byRoom[roomID]))
	for _, fn := range w.byRoom[roomID] {
		fns = append(fns, fn)
	}
	return fns
}

func (w *watcherSet) count(roomID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byRoom[roomID])
}
