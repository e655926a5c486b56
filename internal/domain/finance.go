package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordKind — тип записи финансового журнала.
type RecordKind string

const (
	// RecordKindIncome — выручка по оформленному заказу.
	RecordKindIncome RecordKind = "income"
	// RecordKindRefund — возврат по отменённому заказу.
	RecordKindRefund RecordKind = "refund"
	// RecordKindExpense — расход (закупка ингредиентов).
	RecordKindExpense RecordKind = "expense"
)

// Valid проверяет, что тип записи поддерживается.
func (k RecordKind) Valid() bool {
	switch k {
	case RecordKindIncome, RecordKindRefund, RecordKindExpense:
		return true
	default:
		return false
	}
}

// FinancialRecord — запись журнала. Сумма всегда неотрицательна, знак задаёт Kind.
type FinancialRecord struct {
	ID          string
	Kind        RecordKind
	Amount      decimal.Decimal
	Description string
	OrderID     string
	CreatedAt   time.Time
}

// Validate проверяет тип и сумму записи.
func (r *FinancialRecord) Validate() []error {
	var errs []error

	if r.ID == "" {
		errs = append(errs, ErrIDRequired)
	}
	if !r.Kind.Valid() {
		errs = append(errs, ErrRecordKindInvalid)
	}
	if r.Amount.IsNegative() {
		errs = append(errs, ErrRecordAmountNegative)
	}

	return errs
}

// FinancialSummary — агрегаты для дашборда.
type FinancialSummary struct {
	Income         decimal.Decimal
	Refunds        decimal.Decimal
	Expenses       decimal.Decimal
	Net            decimal.Decimal
	OrdersByStatus map[OrderStatus]int
}

// Summarize сворачивает журнал и список заказов в FinancialSummary.
func Summarize(records []FinancialRecord, orders []Order) FinancialSummary {
	summary := FinancialSummary{
		Income:         decimal.Zero,
		Refunds:        decimal.Zero,
		Expenses:       decimal.Zero,
		OrdersByStatus: make(map[OrderStatus]int),
	}
	for _, rec := range records {
		switch rec.Kind {
		case RecordKindIncome:
			summary.Income = summary.Income.Add(rec.Amount)
		case RecordKindRefund:
			summary.Refunds = summary.Refunds.Add(rec.Amount)
		case RecordKindExpense:
			summary.Expenses = summary.Expenses.Add(rec.Amount)
		}
	}
	summary.Net = summary.Income.Sub(summary.Refunds).Sub(summary.Expenses)
	for _, o := range orders {
		summary.OrdersByStatus[o.Status]++
	}
	return summary
}
