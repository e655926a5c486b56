package domain

import "context"

// Snapshot — полное состояние хранилища, загружаемое при старте.
type Snapshot struct {
	Ingredients      []Ingredient
	MenuItems        []MenuItem
	Recipes          []RecipeLine
	Orders           []Order
	FinancialRecords []FinancialRecord
}

// Empty сообщает, что в хранилище ещё нет ни склада, ни меню.
func (s Snapshot) Empty() bool {
	return len(s.Ingredients) == 0 && len(s.MenuItems) == 0
}

// Commit — одна атомарная запись из критической секции сервиса заказов.
type Commit struct {
	// Order — созданный (NewOrder=true) или обновлённый заказ; nil, если заказ не менялся.
	Order    *Order
	NewOrder bool
	// Ingredients — строки склада после изменения (полные значения, не дельты).
	Ingredients      []Ingredient
	FinancialRecords []FinancialRecord
	Outbox           []OutboxMessage
}

// PersistenceStore описывает требования к хранилищу данных ресторана.
// Запись через Commit должна быть видна любому последующему Load.
type PersistenceStore interface {
	// Load возвращает всё сохранённое состояние.
	Load(ctx context.Context) (Snapshot, error)
	// Seed записывает справочные данные (склад, меню, рецепты) в пустое хранилище.
	Seed(ctx context.Context, snapshot Snapshot) error
	// Commit атомарно применяет изменения одной транзакции.
	Commit(ctx context.Context, c Commit) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
	Close() error
}
