package store

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore хранит состояние в памяти процесса. Используется, когда
// не заданы ни БД, ни файл состояния, и в тестах.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	logger *zap.Logger
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		values: make(map[string]json.RawMessage),
		logger: logger,
	}
}

// Get читает значение по ключу.
func (s *MemoryStore) Get(_ context.Context, key string, dst any) bool {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()

	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("decode state", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set сохраняет значение по ключу. Несериализуемое значение пропускается
// с предупреждением в логе.
func (s *MemoryStore) Set(_ context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("encode state", zap.String("key", key), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.values[key] = raw
	s.mu.Unlock()
}
