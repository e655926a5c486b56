package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCart — попытка оформить заказ без единой позиции.
	ErrEmptyCart = errors.New("cart must contain at least one line")
	// ErrUnknownMenuItem — позиция корзины ссылается на несуществующее блюдо.
	ErrUnknownMenuItem = errors.New("unknown menu item")
	// ErrNotFound — запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrItemUnavailable — блюдо существует, но снято с продажи.
	ErrItemUnavailable = errors.New("menu item is unavailable")
	// ErrInsufficientStock — суммарная потребность превышает остаток ингредиента.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition — переход статуса не разрешён машиной состояний.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrInvalidArgument — некорректные входные данные.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrAlreadyExists — сущность с таким идентификатором уже есть.
	ErrAlreadyExists = errors.New("already exists")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Ошибки валидации сущностей.
var (
	ErrIDRequired            = errors.New("id is required")
	ErrNameRequired          = errors.New("name is required")
	ErrQuantityNegative      = errors.New("quantity must be non-negative")
	ErrThresholdNegative     = errors.New("thresholds must be non-negative")
	ErrUnitCostNegative      = errors.New("unit cost must be non-negative")
	ErrPriceNegative         = errors.New("price must be non-negative")
	ErrCostNegative          = errors.New("cost must be non-negative")
	ErrRecipeQtyInvalid      = errors.New("recipe quantity per serving must be greater than zero")
	ErrLinesRequired         = errors.New("order must contain at least one line")
	ErrLineQtyInvalid        = errors.New("line quantity must be greater than zero")
	ErrLinePriceInvalid      = errors.New("line unit price must be non-negative")
	ErrTotalMismatch         = errors.New("order total does not match lines sum")
	ErrStatusInvalid         = errors.New("order status is invalid")
	ErrRecordKindInvalid     = errors.New("financial record kind is invalid")
	ErrRecordAmountNegative  = errors.New("financial record amount must be non-negative")
	ErrMenuItemRefRequired   = errors.New("menu item reference is required")
	ErrIngredientRefRequired = errors.New("ingredient reference is required")
)

// NotFoundError уточняет ErrNotFound типом и идентификатором сущности.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// UnknownMenuItemError возвращается, если блюда из корзины нет в каталоге.
type UnknownMenuItemError struct {
	MenuItemID string
}

func (e *UnknownMenuItemError) Error() string {
	return fmt.Sprintf("unknown menu item %q", e.MenuItemID)
}

// Unwrap позволяет матчить и ErrUnknownMenuItem, и общий ErrNotFound.
func (e *UnknownMenuItemError) Unwrap() []error {
	return []error{ErrUnknownMenuItem, ErrNotFound}
}

// ItemUnavailableError — блюдо найдено, но флаг доступности снят.
type ItemUnavailableError struct {
	MenuItemID string
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("menu item %q is unavailable", e.MenuItemID)
}

func (e *ItemUnavailableError) Unwrap() error { return ErrItemUnavailable }

// InsufficientStockError несёт ингредиент и величину нехватки.
type InsufficientStockError struct {
	IngredientID string
	Required     decimal.Decimal
	Available    decimal.Decimal
}

// Shortfall — сколько единиц не хватает до требуемого количества.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for ingredient %q: required %s, available %s, shortfall %s",
		e.IngredientID, e.Required.String(), e.Available.String(), e.Shortfall().String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidTransitionError описывает запрещённую смену статуса.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %q: transition %s -> %s is not allowed", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// InvalidArgument оборачивает ErrInvalidArgument пояснением.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
