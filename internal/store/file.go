package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileStore хранит состояние в одном JSON-файле. Файл перечитывается только
// при старте, дальше все чтения идут из памяти, а записи переписывают файл
// целиком через временный файл и rename.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]json.RawMessage
	logger *zap.Logger
}

// NewFileStore создаёт файловое хранилище. Битый или отсутствующий файл
// не считается ошибкой: хранилище стартует пустым.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		values: make(map[string]json.RawMessage),
		logger: logger,
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read state file: %w", err)
		}
		return s, nil
	}

	if err := json.Unmarshal(raw, &s.values); err != nil {
		logger.Warn("state file is corrupt, starting empty",
			zap.String("path", path), zap.Error(err))
		s.values = make(map[string]json.RawMessage)
	}
	return s, nil
}

// Get читает значение по ключу из памяти.
func (s *FileStore) Get(_ context.Context, key string, dst any) bool {
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

// Set сохраняет значение по ключу и переписывает файл.
func (s *FileStore) Set(_ context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("encode state", zap.String("key", key), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = raw
	if err := s.flush(); err != nil {
		s.logger.Warn("write state file", zap.String("path", s.path), zap.Error(err))
	}
}

func (s *FileStore) flush() error {
	doc, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, s.path)
}
