package domain

import (
	"errors"
	"time"
)

// IdempotencyStatus — стадия обработки запроса с ключом идемпотентности.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят запросом с тем же содержимым.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ повторно использован с другим содержимым.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with a different request")
)

// IdempotencyRecord — сохранённый результат запроса: HTTP-ответ оформления
// заказа или отметка об обработанной поставке.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус известен.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Expired сообщает, что запись можно удалить к моменту at.
func (r IdempotencyRecord) Expired(at time.Time) bool {
	return !r.TTLAt.After(at)
}

// IdempotencyRepository хранит ключи идемпотентности до истечения TTL.
type IdempotencyRepository interface {
	// CreateProcessing занимает ключ. Для занятого ключа возвращает
	// существующую запись вместе с ErrIdempotencyKeyAlreadyExists
	// или ErrIdempotencyHashMismatch.
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	// Reset возвращает ключ в processing, чтобы повторить неудавшуюся обработку.
	Reset(key string) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// IsIdempotencyConflict сообщает, что ключ уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
