package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа на кухне.
type OrderStatus string

const (
	// OrderStatusReceived — заказ создан, ингредиенты списаны.
	OrderStatusReceived OrderStatus = "received"
	// OrderStatusAccepted — заказ принят кухней.
	OrderStatusAccepted OrderStatus = "accepted"
	// OrderStatusPreparing — блюда готовятся.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusDelivering — заказ в доставке.
	OrderStatusDelivering OrderStatus = "delivering"
	// OrderStatusReadyForPickup — заказ ждёт самовывоза.
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	// OrderStatusCompleted — заказ выдан клиенту.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — заказ отменён до выдачи, остатки и деньги возвращены.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions — единственная таблица разрешённых переходов.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusReceived:       {OrderStatusAccepted, OrderStatusCancelled},
	OrderStatusAccepted:       {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing:      {OrderStatusDelivering, OrderStatusReadyForPickup, OrderStatusCancelled},
	OrderStatusDelivering:     {OrderStatusCompleted},
	OrderStatusReadyForPickup: {OrderStatusCompleted},
}

// OrderStatuses возвращает все статусы в порядке жизненного цикла.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusReceived,
		OrderStatusAccepted,
		OrderStatusPreparing,
		OrderStatusDelivering,
		OrderStatusReadyForPickup,
		OrderStatusCompleted,
		OrderStatusCancelled,
	}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusReceived, OrderStatusAccepted, OrderStatusPreparing, OrderStatusDelivering,
		OrderStatusReadyForPickup, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// CanTransitionTo проверяет переход по таблице orderTransitions.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CartLine — одна строка корзины: блюдо и целое число порций.
type CartLine struct {
	MenuItemID string
	Quantity   int32
}

// Cart — упорядоченный набор строк корзины.
type Cart []CartLine

// OrderLine — позиция заказа с ценой, зафиксированной на момент оформления.
type OrderLine struct {
	MenuItemID string
	Name       string
	Quantity   int32
	UnitPrice  decimal.Decimal
}

// Subtotal возвращает quantity * unit price.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity))
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID         string
	CustomerID string
	Note       string
	Status     OrderStatus
	Lines      []OrderLine
	Total      decimal.Decimal
	// Consumed — точные количества, списанные со склада при оформлении; по ним делается возврат.
	Consumed  []Requirement
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrIDRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	calc := decimal.Zero
	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPrice.IsNegative() {
			errs = append(errs, ErrLinePriceInvalid)
		}
		calc = calc.Add(line.Subtotal())
	}
	if !calc.Equal(o.Total) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию, чтобы наружу не утекали общие срезы.
func (o Order) Clone() Order {
	o.Lines = append([]OrderLine(nil), o.Lines...)
	o.Consumed = append([]Requirement(nil), o.Consumed...)
	return o
}

// OrderFilter ограничивает выборку заказов; пустой фильтр возвращает все.
type OrderFilter struct {
	Status OrderStatus
}

// Match проверяет заказ на соответствие фильтру.
func (f OrderFilter) Match(o Order) bool {
	return f.Status == "" || o.Status == f.Status
}
