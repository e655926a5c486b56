// Package jsonfile хранит состояние ресторана в одном JSON-документе.
// Каждый коммит применяется к копии состояния и атомарно записывается на диск
// (временный файл + rename); в память изменения попадают только после успешной записи.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/storage/memory"
)

// Store — файловая реализация PersistenceStore и OutboxRepository.
type Store struct {
	mu     sync.RWMutex
	path   string
	state  *memory.Store
	logger *log.Entry
	now    func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open читает документ по path. Отсутствующий файл означает пустое хранилище;
// файл будет создан при первой записи.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, domain.InvalidArgument("json store path is required")
	}
	s := &Store{
		path:   path,
		logger: log.New().WithField("component", "jsonfile-store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.state = memory.NewStore()
		s.logger.WithField("path", path).Info("json store file not found, starting empty")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read json store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json store %s: %w", path, err)
	}
	dump, err := decode(doc)
	if err != nil {
		return nil, fmt.Errorf("decode json store %s: %w", path, err)
	}
	state, err := memory.FromDump(dump)
	if err != nil {
		return nil, fmt.Errorf("restore json store %s: %w", path, err)
	}
	s.state = state
	s.logger.WithFields(log.Fields{
		"path":   path,
		"orders": len(doc.Orders),
	}).Info("json store loaded")
	return s, nil
}

// Path возвращает путь к файлу.
func (s *Store) Path() string { return s.path }

func (s *Store) current() *memory.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// apply выполняет fn над копией состояния, сохраняет копию и только затем подменяет текущее.
func (s *Store) apply(fn func(next *memory.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.write(next.Dump()); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Store) write(d memory.Dump) error {
	data, err := json.MarshalIndent(encode(d, s.now().UTC()), "", "  ")
	if err != nil {
		return fmt.Errorf("encode json store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create json store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace json store: %w", err)
	}
	return nil
}

// Load возвращает сохранённое состояние.
func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	return s.current().Load(ctx)
}

// Seed записывает справочные данные в пустое хранилище.
func (s *Store) Seed(ctx context.Context, snapshot domain.Snapshot) error {
	return s.apply(func(next *memory.Store) error {
		return next.Seed(ctx, snapshot)
	})
}

// Commit атомарно применяет изменения и сохраняет файл.
func (s *Store) Commit(ctx context.Context, c domain.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.apply(func(next *memory.Store) error {
		return next.Commit(ctx, c)
	})
}

// Ping проверяет, что каталог с файлом доступен.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("json store dir: %w", err)
	}
	return nil
}

// Close ничего не освобождает: файл не держится открытым.
func (s *Store) Close() error { return nil }

// PullPending возвращает pending-сообщения outbox.
func (s *Store) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return s.current().PullPending(ctx, limit)
}

// Stats возвращает состояние backlog outbox.
func (s *Store) Stats(ctx context.Context) (domain.OutboxStats, error) {
	return s.current().Stats(ctx)
}

// MarkSent удаляет опубликованное сообщение из документа.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	return s.apply(func(next *memory.Store) error { return next.MarkSent(ctx, id) })
}

// MarkFailed сохраняет неудачную публикацию.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.apply(func(next *memory.Store) error { return next.MarkFailed(ctx, id) })
}

var (
	_ domain.PersistenceStore = (*Store)(nil)
	_ domain.OutboxRepository = (*Store)(nil)
)
