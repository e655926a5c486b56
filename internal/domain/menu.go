package domain

import "github.com/shopspring/decimal"

// MenuItem — продаваемое блюдо.
type MenuItem struct {
	ID       string
	Name     string
	Category string
	Price    decimal.Decimal
	// Cost — справочная себестоимость.
	Cost        decimal.Decimal
	Available   bool
	Description string
}

// Validate проверяет поля блюда.
func (m *MenuItem) Validate() []error {
	var errs []error

	if m.ID == "" {
		errs = append(errs, ErrIDRequired)
	}
	if m.Name == "" {
		errs = append(errs, ErrNameRequired)
	}
	if m.Price.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	if m.Cost.IsNegative() {
		errs = append(errs, ErrCostNegative)
	}

	return errs
}

// RecipeLine — сколько ингредиента уходит на одну порцию блюда.
type RecipeLine struct {
	MenuItemID         string
	IngredientID       string
	QuantityPerServing decimal.Decimal
}

// Validate проверяет ссылки и положительность расхода.
func (r *RecipeLine) Validate() []error {
	var errs []error

	if r.MenuItemID == "" {
		errs = append(errs, ErrMenuItemRefRequired)
	}
	if r.IngredientID == "" {
		errs = append(errs, ErrIngredientRefRequired)
	}
	if !r.QuantityPerServing.IsPositive() {
		errs = append(errs, ErrRecipeQtyInvalid)
	}

	return errs
}
