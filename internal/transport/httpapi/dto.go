package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/stock"
)

// Денежные суммы и количества сериализуются строками ("6.5"), чтобы не терять точность.

type placeOrderRequest struct {
	CustomerID string            `json:"customer_id"`
	Note       string            `json:"note"`
	Items      []cartLineRequest `json:"items"`
}

type cartLineRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int32  `json:"quantity"`
}

func (r placeOrderRequest) cart() domain.Cart {
	cart := make(domain.Cart, 0, len(r.Items))
	for _, item := range r.Items {
		cart = append(cart, domain.CartLine{MenuItemID: item.MenuItemID, Quantity: item.Quantity})
	}
	return cart
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

type restockRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	// UnitCost необязателен: ноль означает текущую цену ингредиента.
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type addIngredientRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	MaxQuantity decimal.Decimal `json:"max_quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

func (r addIngredientRequest) ingredient() domain.Ingredient {
	return domain.Ingredient{
		ID:          r.ID,
		Name:        r.Name,
		Category:    r.Category,
		Unit:        r.Unit,
		Quantity:    r.Quantity,
		MinQuantity: r.MinQuantity,
		MaxQuantity: r.MaxQuantity,
		UnitCost:    r.UnitCost,
	}
}

type orderResponse struct {
	ID         string              `json:"id"`
	CustomerID string              `json:"customer_id,omitempty"`
	Note       string              `json:"note,omitempty"`
	Status     domain.OrderStatus  `json:"status"`
	Lines      []orderLineResponse `json:"lines"`
	Total      decimal.Decimal     `json:"total"`
	Version    int64               `json:"version"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type orderLineResponse struct {
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int32           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

func toOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Note:       o.Note,
		Status:     o.Status,
		Lines:      make([]orderLineResponse, 0, len(o.Lines)),
		Total:      o.Total,
		Version:    o.Version,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	for _, line := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			MenuItemID: line.MenuItemID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			Subtotal:   line.Subtotal(),
		})
	}
	return resp
}

type ingredientResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	MaxQuantity decimal.Decimal `json:"max_quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	LowStock    bool            `json:"low_stock"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toIngredientResponse(i domain.Ingredient) ingredientResponse {
	return ingredientResponse{
		ID:          i.ID,
		Name:        i.Name,
		Category:    i.Category,
		Unit:        i.Unit,
		Quantity:    i.Quantity,
		MinQuantity: i.MinQuantity,
		MaxQuantity: i.MaxQuantity,
		UnitCost:    i.UnitCost,
		LowStock:    i.Quantity.LessThanOrEqual(stock.OwnMinimum(i)),
		UpdatedAt:   i.UpdatedAt,
	}
}

type menuItemResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Category    string               `json:"category,omitempty"`
	Price       decimal.Decimal      `json:"price"`
	Available   bool                 `json:"available"`
	Description string               `json:"description,omitempty"`
	Recipe      []recipeLineResponse `json:"recipe"`
}

type recipeLineResponse struct {
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type financialRecordResponse struct {
	ID          string            `json:"id"`
	Kind        domain.RecordKind `json:"kind"`
	Amount      decimal.Decimal   `json:"amount"`
	Description string            `json:"description,omitempty"`
	OrderID     string            `json:"order_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toRecordResponse(r domain.FinancialRecord) financialRecordResponse {
	return financialRecordResponse(r)
}

type summaryResponse struct {
	Income         decimal.Decimal            `json:"income"`
	Refunds        decimal.Decimal            `json:"refunds"`
	Expenses       decimal.Decimal            `json:"expenses"`
	Net            decimal.Decimal            `json:"net"`
	OrdersByStatus map[domain.OrderStatus]int `json:"orders_by_status"`
}

type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}
