package httpapi

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/service/idempotency"
)

const (
	// HeaderIdempotencyKey — ключ, под которым клиент повторяет оформление заказа.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется на ответах, взятых из сохранённого результата.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

// RequestGuard сопоставляет ключ идемпотентности с сохранённым ответом.
type RequestGuard interface {
	Begin(key string, request []byte) (idempotency.Decision, domain.IdempotencyRecord, error)
	Complete(key string, httpStatus int, body []byte) error
	Abandon(key string) error
}

var _ RequestGuard = (*idempotency.Guard)(nil)

// idempotent пропускает запрос к следующему обработчику не более одного раза на ключ.
// Запросы без заголовка обрабатываются как обычно.
func (s *Server) idempotent(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Get(HeaderIdempotencyKey))
	if s.guard == nil || key == "" {
		return c.Next()
	}
	if len(key) > maxIdempotencyKeyLen {
		return domain.InvalidArgument("%s must be at most %d characters", HeaderIdempotencyKey, maxIdempotencyKeyLen)
	}

	decision, record, err := s.guard.Begin(key, c.Body())
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{
			Error: "idempotency key is already used with a different request body",
			Code:  "idempotency_key_reused",
		})
	case err != nil:
		return err
	case decision == idempotency.DecisionInFlight:
		return c.Status(fiber.StatusConflict).JSON(errorResponse{
			Error: "request with the same idempotency key is still being processed",
			Code:  "idempotency_in_flight",
		})
	case decision == idempotency.DecisionReplay:
		c.Set(HeaderIdempotentReplay, "true")
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(record.HTTPStatus).Send(record.ResponseBody)
	}

	if err := c.Next(); err != nil {
		if herr := s.handleError(c, err); herr != nil {
			_ = s.guard.Abandon(key)
			return herr
		}
	}

	resp := c.Response()
	_ = s.guard.Complete(key, resp.StatusCode(), append([]byte(nil), resp.Body()...))
	return nil
}
