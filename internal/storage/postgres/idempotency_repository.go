package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

const idempotencyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

// IdempotencyRepository хранит ключи идемпотентности в таблице idempotency_keys.
type IdempotencyRepository struct {
	store *Store
}

func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{store: store}
}

func (r *IdempotencyRepository) db() (*sql.DB, error) {
	if r == nil || r.store == nil || r.store.db == nil {
		return nil, errNotInitialized
	}
	return r.store.db, nil
}

// CreateProcessing занимает ключ одним запросом. Просроченная запись
// перезаписывается на месте, не дожидаясь очистки.
func (r *IdempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}
	db, err := r.db()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	now := r.store.now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	record, err := scanIdempotencyRecord(db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys AS k (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash  = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status   = NULL,
		    status        = EXCLUDED.status,
		    ttl_at        = EXCLUDED.ttl_at,
		    created_at    = EXCLUDED.created_at,
		    updated_at    = EXCLUDED.updated_at
		WHERE k.ttl_at <= EXCLUDED.created_at
		RETURNING `+idempotencyColumns,
		key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt.UTC(), now))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	// Ключ жив и занят: решаем по хэшу запроса.
	existing, err := r.Get(key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load conflicting idempotency record: %w", err)
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	db, err := r.db()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	record, err := scanIdempotencyRecord(db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record %q: %w", key, err)
	}
	return record, err
}

func (r *IdempotencyRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, sql.NullInt64{Int64: int64(httpStatus), Valid: true})
}

func (r *IdempotencyRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, sql.NullInt64{Int64: int64(httpStatus), Valid: true})
}

func (r *IdempotencyRepository) Reset(key string) error {
	return r.finish(key, domain.IdempotencyStatusProcessing, nil, sql.NullInt64{})
}

// DeleteExpired удаляет записи с ttl_at <= before, старейшие первыми.
// limit<=0 снимает ограничение. Строки, занятые другой транзакцией, пропускаются.
func (r *IdempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	db, err := r.db()
	if err != nil {
		return 0, err
	}
	if before.IsZero() {
		before = r.store.now().UTC()
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	// LIMIT NULL в Postgres означает «без ограничения».
	res, err := db.ExecContext(ctx, `
		WITH expired AS (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		DELETE FROM idempotency_keys k
		USING expired
		WHERE k.key = expired.key
	`, before.UTC(), batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(deleted), nil
}

func (r *IdempotencyRepository) finish(key string, status domain.IdempotencyStatus, body []byte, httpStatus sql.NullInt64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	db, err := r.db()
	if err != nil {
		return err
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	var updated string
	err = db.QueryRowContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, http_status = $4, updated_at = $5
		WHERE key = $1
		RETURNING key
	`, key, string(status), body, httpStatus, r.store.now().UTC()).Scan(&updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return fmt.Errorf("mark idempotency key as %s: %w", status, err)
	}
	return nil
}

// scanIdempotencyRecord читает строку в порядке idempotencyColumns.
// Отсутствие строки превращается в ErrIdempotencyKeyNotFound.
func scanIdempotencyRecord(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	err := row.Scan(
		&record.Key,
		&record.RequestHash,
		&record.ResponseBody,
		&httpStatus,
		&status,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %q has invalid status %q", record.Key, status)
	}
	if httpStatus.Valid {
		record.HTTPStatus = int(httpStatus.Int64)
	}
	record.TTLAt = record.TTLAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
