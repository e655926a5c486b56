package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ingredient — складская единица (сырьё), остаток которой ведёт Stock Ledger.
type Ingredient struct {
	ID       string
	Name     string
	Category string
	// Unit — единица измерения (кг, л, шт).
	Unit string
	// Quantity — текущий остаток, никогда не уходит в минус.
	Quantity decimal.Decimal
	// MinQuantity — порог, на котором ингредиент считается заканчивающимся.
	MinQuantity decimal.Decimal
	// MaxQuantity носит справочный характер и не ограничивает пополнение.
	MaxQuantity decimal.Decimal
	UnitCost    decimal.Decimal
	UpdatedAt   time.Time
}

// Validate проверяет поля ингредиента и возвращает список замечаний.
func (i *Ingredient) Validate() []error {
	var errs []error

	if i.ID == "" {
		errs = append(errs, ErrIDRequired)
	}
	if i.Name == "" {
		errs = append(errs, ErrNameRequired)
	}
	if i.Quantity.IsNegative() {
		errs = append(errs, ErrQuantityNegative)
	}
	if i.MinQuantity.IsNegative() || i.MaxQuantity.IsNegative() {
		errs = append(errs, ErrThresholdNegative)
	}
	if i.UnitCost.IsNegative() {
		errs = append(errs, ErrUnitCostNegative)
	}

	return errs
}

// Requirement — потребность в конкретном ингредиенте.
type Requirement struct {
	IngredientID string
	Quantity     decimal.Decimal
}
