package ratelimit

import (
	"sync"
	"time"
)

// MemoryState хранит оконное состояние клиентов в памяти процесса.
type MemoryState struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// NewMemoryState создаёт пустое хранилище состояния в памяти.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		windows: make(map[string]*Window),
	}
}

// Update выполняет fn над окном клиента под блокировкой хранилища,
// создавая пустое окно при первом обращении. Указатель на окно не покидает
// критическую секцию.
func (m *MemoryState) Update(identity string, fn func(*Window)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[identity]
	if !ok {
		w = &Window{}
		m.windows[identity] = w
	}

	fn(w)
}

// Prune удаляет клиентов без активности после указанного момента.
func (m *MemoryState) Prune(before time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for identity, w := range m.windows {
		if w.LastSeen().Before(before) {
			delete(m.windows, identity)
		}
	}
}
