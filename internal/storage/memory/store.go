package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

// Статусы записей outbox.
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// OutboxEntry — сообщение outbox со служебными полями.
type OutboxEntry struct {
	Message   domain.OutboxMessage
	Status    string
	Attempts  int
	UpdatedAt time.Time
}

// Dump — полное содержимое хранилища в порядке вставки; используется для сериализации.
type Dump struct {
	Snapshot domain.Snapshot
	Outbox   []OutboxEntry
}

// Store — in-memory реализация PersistenceStore и OutboxRepository для разработки и тестов.
type Store struct {
	mu          sync.RWMutex
	ingredients map[string]domain.Ingredient
	menuItems   map[string]domain.MenuItem
	recipes     []domain.RecipeLine
	orders      map[string]domain.Order
	orderSeq    []string
	records     []domain.FinancialRecord
	recordIDs   map[string]struct{}
	outbox      map[string]*OutboxEntry
	outboxSeq   []string
}

// NewStore возвращает пустое хранилище.
func NewStore() *Store {
	return &Store{
		ingredients: make(map[string]domain.Ingredient),
		menuItems:   make(map[string]domain.MenuItem),
		orders:      make(map[string]domain.Order),
		recordIDs:   make(map[string]struct{}),
		outbox:      make(map[string]*OutboxEntry),
	}
}

// FromDump восстанавливает хранилище из дампа.
func FromDump(d Dump) (*Store, error) {
	s := NewStore()
	s.putReference(d.Snapshot)
	for _, order := range d.Snapshot.Orders {
		if _, dup := s.orders[order.ID]; dup {
			return nil, fmt.Errorf("order %q: %w", order.ID, domain.ErrAlreadyExists)
		}
		s.orders[order.ID] = order.Clone()
		s.orderSeq = append(s.orderSeq, order.ID)
	}
	for _, rec := range d.Snapshot.FinancialRecords {
		if _, dup := s.recordIDs[rec.ID]; dup {
			return nil, fmt.Errorf("financial record %q: %w", rec.ID, domain.ErrAlreadyExists)
		}
		s.records = append(s.records, rec)
		s.recordIDs[rec.ID] = struct{}{}
	}
	for _, entry := range d.Outbox {
		if entry.Status == OutboxStatusSent {
			continue
		}
		e := entry
		s.outbox[e.Message.ID] = &e
		s.outboxSeq = append(s.outboxSeq, e.Message.ID)
	}
	return s, nil
}

// Dump возвращает копию всего содержимого.
func (s *Store) Dump() Dump {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := Dump{Snapshot: s.snapshot()}
	d.Outbox = make([]OutboxEntry, 0, len(s.outboxSeq))
	for _, id := range s.outboxSeq {
		d.Outbox = append(d.Outbox, *s.outbox[id])
	}
	return d
}

// Clone возвращает независимую копию хранилища.
func (s *Store) Clone() *Store {
	clone, err := FromDump(s.Dump())
	if err != nil {
		// Дамп согласованного хранилища не содержит дубликатов.
		panic(fmt.Sprintf("clone memory store: %v", err))
	}
	return clone
}

// Load возвращает сохранённое состояние.
func (s *Store) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), nil
}

func (s *Store) snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Ingredients:      make([]domain.Ingredient, 0, len(s.ingredients)),
		MenuItems:        make([]domain.MenuItem, 0, len(s.menuItems)),
		Recipes:          append([]domain.RecipeLine(nil), s.recipes...),
		Orders:           make([]domain.Order, 0, len(s.orderSeq)),
		FinancialRecords: append([]domain.FinancialRecord(nil), s.records...),
	}
	for _, ing := range s.ingredients {
		snap.Ingredients = append(snap.Ingredients, ing)
	}
	sort.Slice(snap.Ingredients, func(i, j int) bool { return snap.Ingredients[i].ID < snap.Ingredients[j].ID })
	for _, item := range s.menuItems {
		snap.MenuItems = append(snap.MenuItems, item)
	}
	sort.Slice(snap.MenuItems, func(i, j int) bool { return snap.MenuItems[i].ID < snap.MenuItems[j].ID })
	for _, id := range s.orderSeq {
		snap.Orders = append(snap.Orders, s.orders[id].Clone())
	}
	return snap
}

// Seed записывает справочные данные в пустое хранилище.
func (s *Store) Seed(_ context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ingredients) > 0 || len(s.menuItems) > 0 {
		return fmt.Errorf("seed: store is not empty: %w", domain.ErrAlreadyExists)
	}
	s.putReference(snapshot)
	return nil
}

func (s *Store) putReference(snapshot domain.Snapshot) {
	for _, ing := range snapshot.Ingredients {
		s.ingredients[ing.ID] = ing
	}
	for _, item := range snapshot.MenuItems {
		s.menuItems[item.ID] = item
	}
	s.recipes = append(s.recipes, snapshot.Recipes...)
}

// Commit атомарно применяет изменения: сначала все проверки, затем запись.
func (s *Store) Commit(ctx context.Context, c domain.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(c); err != nil {
		return err
	}

	if c.Order != nil {
		if c.NewOrder {
			s.orderSeq = append(s.orderSeq, c.Order.ID)
		}
		s.orders[c.Order.ID] = c.Order.Clone()
	}
	for _, ing := range c.Ingredients {
		s.ingredients[ing.ID] = ing
	}
	for _, rec := range c.FinancialRecords {
		s.records = append(s.records, rec)
		s.recordIDs[rec.ID] = struct{}{}
	}
	now := time.Now().UTC()
	for _, msg := range c.Outbox {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		s.outbox[msg.ID] = &OutboxEntry{Message: msg, Status: OutboxStatusPending, UpdatedAt: now}
		s.outboxSeq = append(s.outboxSeq, msg.ID)
	}
	return nil
}

func (s *Store) check(c domain.Commit) error {
	if c.Order != nil {
		current, exists := s.orders[c.Order.ID]
		switch {
		case c.NewOrder && exists:
			return fmt.Errorf("order %q: %w", c.Order.ID, domain.ErrAlreadyExists)
		case !c.NewOrder && !exists:
			return &domain.NotFoundError{Entity: "order", ID: c.Order.ID}
		case !c.NewOrder && current.Version != c.Order.Version-1:
			return fmt.Errorf("order %q: %w", c.Order.ID, domain.ErrOrderVersionConflict)
		}
	}
	for _, rec := range c.FinancialRecords {
		if _, dup := s.recordIDs[rec.ID]; dup {
			return fmt.Errorf("financial record %q: %w", rec.ID, domain.ErrAlreadyExists)
		}
	}
	for _, msg := range c.Outbox {
		if msg.ID == "" {
			return domain.InvalidArgument("outbox message id is required")
		}
		if _, dup := s.outbox[msg.ID]; dup {
			return fmt.Errorf("outbox message %q: %w", msg.ID, domain.ErrAlreadyExists)
		}
	}
	return nil
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

// PullPending возвращает до limit сообщений со статусом `pending` в порядке записи.
func (s *Store) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range s.outboxSeq {
		entry := s.outbox[id]
		if entry.Status != OutboxStatusPending {
			continue
		}
		result = append(result, entry.Message)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (s *Store) Stats(context.Context) (domain.OutboxStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range s.outbox {
		if entry.Status != OutboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || entry.Message.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = entry.Message.CreatedAt
		}
	}
	return stats, nil
}

// MarkSent удаляет событие из outbox после успешной публикации.
// В хранилище остаются только pending и failed записи.
func (s *Store) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outbox[id]; !ok {
		return fmt.Errorf("outbox message %q: %w", id, domain.ErrNotFound)
	}
	delete(s.outbox, id)
	s.outboxSeq = slices.DeleteFunc(s.outboxSeq, func(seqID string) bool { return seqID == id })
	return nil
}

// MarkFailed фиксирует ошибку публикации.
func (s *Store) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox message %q: %w", id, domain.ErrNotFound)
	}
	entry.Status = OutboxStatusFailed
	entry.Attempts++
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

// AllPending возвращает копию всех pending-сообщений (используется в тестах).
func (s *Store) AllPending() []domain.OutboxMessage {
	s.mu.RLock()
	n := len(s.outboxSeq)
	s.mu.RUnlock()

	msgs, _ := s.PullPending(context.Background(), n+1)
	return msgs
}

var (
	_ domain.PersistenceStore = (*Store)(nil)
	_ domain.OutboxRepository = (*Store)(nil)
)
