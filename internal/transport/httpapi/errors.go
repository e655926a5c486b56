package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

// handleError переводит доменные ошибки в HTTP-ответы.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, body := errorBody(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Error("unexpected error")
		body.Error = "internal server error"
	}
	return c.Status(status).JSON(body)
}

func errorBody(err error) (int, errorResponse) {
	var (
		fiberErr      *fiber.Error
		stockErr      *domain.InsufficientStockError
		transitionErr *domain.InvalidTransitionError
	)

	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code, errorResponse{Error: fiberErr.Message, Code: "http_error"}
	case errors.As(err, &stockErr):
		return fiber.StatusConflict, errorResponse{
			Error: err.Error(),
			Code:  "insufficient_stock",
			Details: map[string]any{
				"ingredient_id": stockErr.IngredientID,
				"required":      stockErr.Required.String(),
				"available":     stockErr.Available.String(),
				"shortfall":     stockErr.Shortfall().String(),
			},
		}
	case errors.As(err, &transitionErr):
		return fiber.StatusConflict, errorResponse{
			Error: err.Error(),
			Code:  "invalid_transition",
			Details: map[string]any{
				"from":     transitionErr.From,
				"to":       transitionErr.To,
				"terminal": transitionErr.From.IsTerminal(),
			},
		}
	case errors.Is(err, domain.ErrEmptyCart):
		return fiber.StatusBadRequest, errorResponse{Error: err.Error(), Code: "empty_cart"}
	case errors.Is(err, domain.ErrItemUnavailable):
		return fiber.StatusBadRequest, errorResponse{Error: err.Error(), Code: "item_unavailable"}
	case errors.Is(err, domain.ErrInvalidArgument):
		return fiber.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_argument"}
	case errors.Is(err, domain.ErrUnknownMenuItem):
		return fiber.StatusNotFound, errorResponse{Error: err.Error(), Code: "unknown_menu_item"}
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, domain.ErrInvalidTransition):
		return fiber.StatusConflict, errorResponse{Error: err.Error(), Code: "invalid_transition"}
	case domain.IsVersionConflict(err):
		return fiber.StatusConflict, errorResponse{Error: err.Error(), Code: "version_conflict"}
	case errors.Is(err, domain.ErrAlreadyExists):
		return fiber.StatusConflict, errorResponse{Error: err.Error(), Code: "conflict"}
	default:
		return fiber.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "internal"}
	}
}
