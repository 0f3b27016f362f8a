package session

import (
	"context"
	"sync"
)

// Ключи долговременного хранилища клиента
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// Storage это долговременное key-value хранилище сессии (аналог localStorage)
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(keys ...string) error
}

// Notifier сообщает об изменениях, сделанных другими экземплярами хранилища (другими вкладками).
// Канал закрывается после отмены ctx.
type Notifier interface {
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// MemoryBackend это общее хранилище для нескольких "вкладок" одного процесса
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]string
	tabs []*MemoryStorage
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: map[string]string{}}
}

// Tab возвращает новое представление хранилища. Запись через одну вкладку
// оповещает все остальные, но не её саму.
func (b *MemoryBackend) Tab() *MemoryStorage {
	b.mu.Lock()
	defer b.mu.Unlock()
	tab := &MemoryStorage{backend: b}
	b.tabs = append(b.tabs, tab)
	return tab
}

func (b *MemoryBackend) broadcast(from *MemoryStorage) {
	b.mu.Lock()
	tabs := append([]*MemoryStorage(nil), b.tabs...)
	b.mu.Unlock()
	for _, tab := range tabs {
		if tab != from {
			tab.notify()
		}
	}
}

// MemoryStorage это одна вкладка поверх MemoryBackend
type MemoryStorage struct {
	backend *MemoryBackend

	mu        sync.Mutex
	listeners []chan struct{}
}

// NewMemoryStorage возвращает изолированную вкладку с собственным хранилищем
func NewMemoryStorage() *MemoryStorage {
	return NewMemoryBackend().Tab()
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	v, ok := m.backend.data[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.backend.mu.Lock()
	m.backend.data[key] = value
	m.backend.mu.Unlock()
	m.backend.broadcast(m)
	return nil
}

func (m *MemoryStorage) Remove(keys ...string) error {
	m.backend.mu.Lock()
	for _, k := range keys {
		delete(m.backend.data, k)
	}
	m.backend.mu.Unlock()
	m.backend.broadcast(m)
	return nil
}

func (m *MemoryStorage) Changes(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l == ch {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (m *MemoryStorage) notify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listeners {
		select {
		case l <- struct{}{}:
		default:
		}
	}
}
