package httpapi

import (
	"slices"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/service/ordering"
	"github.com/vladislavdragonenkov/rms/internal/stock"
)

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

// POST /api/orders
func (s *Server) placeOrder(c *fiber.Ctx) error {
	var body placeOrderRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}

	order, err := s.svc.PlaceOrder(c.UserContext(), body.cart(), ordering.PlaceOrderOptions{
		CustomerID: body.CustomerID,
		Note:       body.Note,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toOrderResponse(order))
}

// GET /api/orders?status=
func (s *Server) listOrders(c *fiber.Ctx) error {
	var filter domain.OrderFilter
	if raw := c.Query("status"); raw != "" {
		status := domain.OrderStatus(raw)
		if !status.Valid() {
			return domain.InvalidArgument("unknown order status %q", raw)
		}
		filter.Status = status
	}

	orders := s.svc.ListOrders(filter)
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	return c.JSON(resp)
}

// GET /api/orders/:id
func (s *Server) getOrder(c *fiber.Ctx) error {
	order, err := s.svc.GetOrder(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toOrderResponse(order))
}

// PATCH /api/orders/:id/status
func (s *Server) updateStatus(c *fiber.Ctx) error {
	var body updateStatusRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	if !body.Status.Valid() {
		return domain.InvalidArgument("unknown order status %q", body.Status)
	}

	order, err := s.svc.UpdateStatus(c.UserContext(), c.Params("id"), body.Status)
	if err != nil {
		return err
	}
	return c.JSON(toOrderResponse(order))
}

// GET /api/inventory
func (s *Server) listInventory(c *fiber.Ctx) error {
	items := s.svc.Ingredients()
	resp := make([]ingredientResponse, 0, len(items))
	for _, ing := range items {
		resp = append(resp, toIngredientResponse(ing))
	}
	return c.JSON(resp)
}

// GET /api/inventory/:id
func (s *Server) getIngredient(c *fiber.Ctx) error {
	ing, err := s.svc.Ingredient(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toIngredientResponse(ing))
}

// POST /api/inventory
func (s *Server) addIngredient(c *fiber.Ctx) error {
	var body addIngredientRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}

	ing, err := s.svc.AddIngredient(c.UserContext(), body.ingredient())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toIngredientResponse(ing))
}

// GET /api/inventory/low-stock?threshold=
// Без threshold используется собственный минимум каждого ингредиента.
func (s *Server) lowStock(c *fiber.Ctx) error {
	var policy stock.ThresholdPolicy
	if raw := c.Query("threshold"); raw != "" {
		threshold, err := decimal.NewFromString(raw)
		if err != nil || threshold.IsNegative() {
			return domain.InvalidArgument("threshold must be a non-negative number, got %q", raw)
		}
		policy = func(domain.Ingredient) decimal.Decimal { return threshold }
	}

	items := slices.Collect(s.svc.LowStock(policy))
	resp := make([]ingredientResponse, 0, len(items))
	for _, ing := range items {
		resp = append(resp, toIngredientResponse(ing))
	}
	return c.JSON(resp)
}

// POST /api/inventory/:id/restock
func (s *Server) restock(c *fiber.Ctx) error {
	var body restockRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}

	ing, err := s.svc.Restock(c.UserContext(), c.Params("id"), body.Quantity, body.UnitCost)
	if err != nil {
		return err
	}
	return c.JSON(toIngredientResponse(ing))
}

// GET /api/menu
func (s *Server) listMenu(c *fiber.Ctx) error {
	cat := s.svc.Catalog()
	items := cat.MenuItems()
	recipes := make(map[string][]recipeLineResponse, len(items))
	for _, line := range cat.Recipes() {
		recipes[line.MenuItemID] = append(recipes[line.MenuItemID],
			recipeLineResponse{IngredientID: line.IngredientID, Quantity: line.QuantityPerServing})
	}
	resp := make([]menuItemResponse, 0, len(items))
	for _, item := range items {
		entry := menuItemResponse{
			ID:          item.ID,
			Name:        item.Name,
			Category:    item.Category,
			Price:       item.Price,
			Available:   item.Available,
			Description: item.Description,
			Recipe:      []recipeLineResponse{},
		}
		if lines, ok := recipes[item.ID]; ok {
			entry.Recipe = lines
		}
		resp = append(resp, entry)
	}
	return c.JSON(resp)
}

// GET /api/finance/records
func (s *Server) listRecords(c *fiber.Ctx) error {
	records := s.svc.FinancialRecords()
	resp := make([]financialRecordResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, toRecordResponse(r))
	}
	return c.JSON(resp)
}

// GET /api/finance/summary
func (s *Server) summary(c *fiber.Ctx) error {
	sum := s.svc.Summary()
	return c.JSON(summaryResponse{
		Income:         sum.Income,
		Refunds:        sum.Refunds,
		Expenses:       sum.Expenses,
		Net:            sum.Net,
		OrdersByStatus: sum.OrdersByStatus,
	})
}
