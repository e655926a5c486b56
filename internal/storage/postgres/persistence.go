package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

// Load читает склад, меню, заказы и финансовые записи.
func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	if s == nil || s.db == nil {
		return domain.Snapshot{}, errNotInitialized
	}

	var (
		snap domain.Snapshot
		err  error
	)
	if snap.Ingredients, err = s.loadIngredients(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.MenuItems, err = s.loadMenuItems(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Recipes, err = s.loadRecipes(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Orders, err = s.loadOrders(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.FinancialRecords, err = s.loadRecords(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) loadIngredients(ctx context.Context) ([]domain.Ingredient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, unit, quantity, min_quantity, max_quantity, unit_cost, updated_at
		FROM ingredients
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("select ingredients: %w", err)
	}
	defer rows.Close()

	var result []domain.Ingredient
	for rows.Next() {
		var ing domain.Ingredient
		if err := rows.Scan(
			&ing.ID, &ing.Name, &ing.Category, &ing.Unit, &ing.Quantity,
			&ing.MinQuantity, &ing.MaxQuantity, &ing.UnitCost, &ing.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		ing.UpdatedAt = ing.UpdatedAt.UTC()
		result = append(result, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingredients: %w", err)
	}
	return result, nil
}

func (s *Store) loadMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, cost, available, description
		FROM menu_items
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("select menu items: %w", err)
	}
	defer rows.Close()

	var result []domain.MenuItem
	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.Price, &item.Cost, &item.Available, &item.Description); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu items: %w", err)
	}
	return result, nil
}

func (s *Store) loadRecipes(ctx context.Context) ([]domain.RecipeLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT menu_item_id, ingredient_id, quantity_per_serving
		FROM recipe_lines
		ORDER BY menu_item_id, ingredient_id
	`)
	if err != nil {
		return nil, fmt.Errorf("select recipe lines: %w", err)
	}
	defer rows.Close()

	var result []domain.RecipeLine
	for rows.Next() {
		var line domain.RecipeLine
		if err := rows.Scan(&line.MenuItemID, &line.IngredientID, &line.QuantityPerServing); err != nil {
			return nil, fmt.Errorf("scan recipe line: %w", err)
		}
		result = append(result, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe lines: %w", err)
	}
	return result, nil
}

func (s *Store) loadOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, note, status, total, version, created_at, updated_at
		FROM orders
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []domain.Order
		index  = make(map[string]int)
	)
	for rows.Next() {
		var (
			o      domain.Order
			status string
		)
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Note, &status, &o.Total, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = domain.OrderStatus(status)
		o.CreatedAt = o.CreatedAt.UTC()
		o.UpdatedAt = o.UpdatedAt.UTC()
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, menu_item_id, name, quantity, unit_price
		FROM order_lines
		ORDER BY order_id, line_no
	`)
	if err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var (
			orderID string
			line    domain.OrderLine
		)
		if err := lineRows.Scan(&orderID, &line.MenuItemID, &line.Name, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		if i, ok := index[orderID]; ok {
			orders[i].Lines = append(orders[i].Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	consRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, ingredient_id, quantity
		FROM order_consumption
		ORDER BY order_id, line_no
	`)
	if err != nil {
		return nil, fmt.Errorf("select order consumption: %w", err)
	}
	defer consRows.Close()
	for consRows.Next() {
		var (
			orderID string
			req     domain.Requirement
		)
		if err := consRows.Scan(&orderID, &req.IngredientID, &req.Quantity); err != nil {
			return nil, fmt.Errorf("scan order consumption: %w", err)
		}
		if i, ok := index[orderID]; ok {
			orders[i].Consumed = append(orders[i].Consumed, req)
		}
	}
	if err := consRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order consumption: %w", err)
	}

	return orders, nil
}

func (s *Store) loadRecords(ctx context.Context) ([]domain.FinancialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, amount, description, order_id, created_at
		FROM financial_records
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("select financial records: %w", err)
	}
	defer rows.Close()

	var result []domain.FinancialRecord
	for rows.Next() {
		var (
			rec     domain.FinancialRecord
			kind    string
			orderID sql.NullString
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.Amount, &rec.Description, &orderID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan financial record: %w", err)
		}
		rec.Kind = domain.RecordKind(kind)
		rec.OrderID = orderID.String
		rec.CreatedAt = rec.CreatedAt.UTC()
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate financial records: %w", err)
	}
	return result, nil
}

// Seed записывает справочные данные в пустую базу.
func (s *Store) Seed(ctx context.Context, snapshot domain.Snapshot) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM ingredients) + (SELECT COUNT(*) FROM menu_items)
		`).Scan(&existing); err != nil {
			return fmt.Errorf("count reference rows: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("seed: store is not empty: %w", domain.ErrAlreadyExists)
		}

		for _, ing := range snapshot.Ingredients {
			if err := upsertIngredient(ctx, tx, ing); err != nil {
				return err
			}
		}
		for _, item := range snapshot.MenuItems {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO menu_items (id, name, category, price, cost, available, description)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, item.ID, item.Name, item.Category, item.Price, item.Cost, item.Available, item.Description); err != nil {
				return fmt.Errorf("insert menu item %s: %w", item.ID, err)
			}
		}
		for _, line := range snapshot.Recipes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO recipe_lines (menu_item_id, ingredient_id, quantity_per_serving)
				VALUES ($1,$2,$3)
			`, line.MenuItemID, line.IngredientID, line.QuantityPerServing); err != nil {
				return fmt.Errorf("insert recipe line %s/%s: %w", line.MenuItemID, line.IngredientID, err)
			}
		}
		return nil
	})
}

// Commit применяет изменения одной SQL-транзакцией.
func (s *Store) Commit(ctx context.Context, c domain.Commit) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if c.Order != nil {
			var err error
			if c.NewOrder {
				err = insertOrder(ctx, tx, *c.Order)
			} else {
				err = updateOrder(ctx, tx, *c.Order)
			}
			if err != nil {
				return err
			}
		}
		for _, ing := range c.Ingredients {
			if err := upsertIngredient(ctx, tx, ing); err != nil {
				return err
			}
		}
		for _, rec := range c.FinancialRecords {
			if err := insertRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		for _, msg := range c.Outbox {
			if err := insertOutbox(ctx, tx, msg, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, note, status, total, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, o.ID, o.CustomerID, o.Note, string(o.Status), o.Total, o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %q: %w", o.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range o.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, line_no, menu_item_id, name, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, o.ID, i, line.MenuItemID, line.Name, line.Quantity, line.UnitPrice); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	for i, req := range o.Consumed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_consumption (order_id, line_no, ingredient_id, quantity)
			VALUES ($1,$2,$3,$4)
		`, o.ID, i, req.IngredientID, req.Quantity); err != nil {
			return fmt.Errorf("insert order consumption: %w", err)
		}
	}
	return nil
}

// updateOrder сохраняет новую версию заказа; в базе должна лежать версия Version-1.
func updateOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    note = $3,
		    version = $4,
		    updated_at = $5
		WHERE id = $1
		  AND version = $6
	`, o.ID, string(o.Status), o.Note, o.Version, o.UpdatedAt, o.Version-1)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for order update: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return &domain.NotFoundError{Entity: "order", ID: o.ID}
	}
	return fmt.Errorf("order %q: %w", o.ID, domain.ErrOrderVersionConflict)
}

func upsertIngredient(ctx context.Context, tx *sql.Tx, ing domain.Ingredient) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ingredients (id, name, category, unit, quantity, min_quantity, max_quantity, unit_cost, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    category = EXCLUDED.category,
		    unit = EXCLUDED.unit,
		    quantity = EXCLUDED.quantity,
		    min_quantity = EXCLUDED.min_quantity,
		    max_quantity = EXCLUDED.max_quantity,
		    unit_cost = EXCLUDED.unit_cost,
		    updated_at = EXCLUDED.updated_at
	`, ing.ID, ing.Name, ing.Category, ing.Unit, ing.Quantity, ing.MinQuantity, ing.MaxQuantity, ing.UnitCost, ing.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert ingredient %s: %w", ing.ID, err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec domain.FinancialRecord) error {
	var orderID sql.NullString
	if rec.OrderID != "" {
		orderID = sql.NullString{String: rec.OrderID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO financial_records (id, kind, amount, description, order_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.ID, string(rec.Kind), rec.Amount, rec.Description, orderID, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("financial record %q: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert financial record: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, msg domain.OutboxMessage, now time.Time) error {
	if msg.ID == "" {
		return domain.InvalidArgument("outbox message id is required")
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	var payload any
	if len(msg.Payload) > 0 {
		payload = string(msg.Payload)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, payload, createdAt, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("outbox message %q: %w", msg.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.PersistenceStore = (*Store)(nil)
