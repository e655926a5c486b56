package jsonfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/storage/memory"
)

// formatVersion — версия формата файла; при несовпадении Open возвращает ошибку.
const formatVersion = 1

type document struct {
	Version          int              `json:"version"`
	SavedAt          time.Time        `json:"saved_at"`
	Ingredients      []ingredientDoc  `json:"ingredients"`
	MenuItems        []menuItemDoc    `json:"menu_items"`
	Recipes          []recipeLineDoc  `json:"recipes"`
	Orders           []orderDoc       `json:"orders"`
	FinancialRecords []recordDoc      `json:"financial_records"`
	Outbox           []outboxEntryDoc `json:"outbox"`
}

type ingredientDoc struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	MaxQuantity decimal.Decimal `json:"max_quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type menuItemDoc struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Cost        decimal.Decimal `json:"cost"`
	Available   bool            `json:"available"`
	Description string          `json:"description,omitempty"`
}

type recipeLineDoc struct {
	MenuItemID         string          `json:"menu_item_id"`
	IngredientID       string          `json:"ingredient_id"`
	QuantityPerServing decimal.Decimal `json:"quantity_per_serving"`
}

type orderLineDoc struct {
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int32           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type requirementDoc struct {
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type orderDoc struct {
	ID         string           `json:"id"`
	CustomerID string           `json:"customer_id,omitempty"`
	Note       string           `json:"note,omitempty"`
	Status     string           `json:"status"`
	Lines      []orderLineDoc   `json:"lines"`
	Total      decimal.Decimal  `json:"total"`
	Consumed   []requirementDoc `json:"consumed,omitempty"`
	Version    int64            `json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type recordDoc struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	OrderID     string          `json:"order_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type outboxEntryDoc struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func encode(d memory.Dump, savedAt time.Time) document {
	snap := d.Snapshot
	doc := document{
		Version:          formatVersion,
		SavedAt:          savedAt,
		Ingredients:      make([]ingredientDoc, 0, len(snap.Ingredients)),
		MenuItems:        make([]menuItemDoc, 0, len(snap.MenuItems)),
		Recipes:          make([]recipeLineDoc, 0, len(snap.Recipes)),
		Orders:           make([]orderDoc, 0, len(snap.Orders)),
		FinancialRecords: make([]recordDoc, 0, len(snap.FinancialRecords)),
		Outbox:           make([]outboxEntryDoc, 0, len(d.Outbox)),
	}
	for _, ing := range snap.Ingredients {
		doc.Ingredients = append(doc.Ingredients, ingredientDoc(ing))
	}
	for _, item := range snap.MenuItems {
		doc.MenuItems = append(doc.MenuItems, menuItemDoc(item))
	}
	for _, line := range snap.Recipes {
		doc.Recipes = append(doc.Recipes, recipeLineDoc(line))
	}
	for _, o := range snap.Orders {
		od := orderDoc{
			ID:         o.ID,
			CustomerID: o.CustomerID,
			Note:       o.Note,
			Status:     string(o.Status),
			Lines:      make([]orderLineDoc, 0, len(o.Lines)),
			Total:      o.Total,
			Version:    o.Version,
			CreatedAt:  o.CreatedAt,
			UpdatedAt:  o.UpdatedAt,
		}
		for _, l := range o.Lines {
			od.Lines = append(od.Lines, orderLineDoc(l))
		}
		for _, r := range o.Consumed {
			od.Consumed = append(od.Consumed, requirementDoc(r))
		}
		doc.Orders = append(doc.Orders, od)
	}
	for _, rec := range snap.FinancialRecords {
		doc.FinancialRecords = append(doc.FinancialRecords, recordDoc{
			ID:          rec.ID,
			Kind:        string(rec.Kind),
			Amount:      rec.Amount,
			Description: rec.Description,
			OrderID:     rec.OrderID,
			CreatedAt:   rec.CreatedAt,
		})
	}
	for _, e := range d.Outbox {
		doc.Outbox = append(doc.Outbox, outboxEntryDoc{
			ID:            e.Message.ID,
			AggregateType: e.Message.AggregateType,
			AggregateID:   e.Message.AggregateID,
			EventType:     e.Message.EventType,
			Payload:       json.RawMessage(e.Message.Payload),
			CreatedAt:     e.Message.CreatedAt,
			Status:        e.Status,
			Attempts:      e.Attempts,
			UpdatedAt:     e.UpdatedAt,
		})
	}
	return doc
}

func decode(doc document) (memory.Dump, error) {
	if doc.Version != formatVersion {
		return memory.Dump{}, fmt.Errorf("unsupported document version %d", doc.Version)
	}

	var d memory.Dump
	for _, ing := range doc.Ingredients {
		d.Snapshot.Ingredients = append(d.Snapshot.Ingredients, domain.Ingredient(ing))
	}
	for _, item := range doc.MenuItems {
		d.Snapshot.MenuItems = append(d.Snapshot.MenuItems, domain.MenuItem(item))
	}
	for _, line := range doc.Recipes {
		d.Snapshot.Recipes = append(d.Snapshot.Recipes, domain.RecipeLine(line))
	}
	for _, od := range doc.Orders {
		status := domain.OrderStatus(od.Status)
		if !status.Valid() {
			return memory.Dump{}, fmt.Errorf("order %q: unknown status %q", od.ID, od.Status)
		}
		o := domain.Order{
			ID:         od.ID,
			CustomerID: od.CustomerID,
			Note:       od.Note,
			Status:     status,
			Total:      od.Total,
			Version:    od.Version,
			CreatedAt:  od.CreatedAt,
			UpdatedAt:  od.UpdatedAt,
		}
		for _, l := range od.Lines {
			o.Lines = append(o.Lines, domain.OrderLine(l))
		}
		for _, r := range od.Consumed {
			o.Consumed = append(o.Consumed, domain.Requirement(r))
		}
		d.Snapshot.Orders = append(d.Snapshot.Orders, o)
	}
	for _, rd := range doc.FinancialRecords {
		kind := domain.RecordKind(rd.Kind)
		if !kind.Valid() {
			return memory.Dump{}, fmt.Errorf("financial record %q: unknown kind %q", rd.ID, rd.Kind)
		}
		d.Snapshot.FinancialRecords = append(d.Snapshot.FinancialRecords, domain.FinancialRecord{
			ID:          rd.ID,
			Kind:        kind,
			Amount:      rd.Amount,
			Description: rd.Description,
			OrderID:     rd.OrderID,
			CreatedAt:   rd.CreatedAt,
		})
	}
	for _, e := range doc.Outbox {
		payload, err := compactPayload(e.Payload)
		if err != nil {
			return memory.Dump{}, fmt.Errorf("outbox message %q: %w", e.ID, err)
		}
		d.Outbox = append(d.Outbox, memory.OutboxEntry{
			Message: domain.OutboxMessage{
				ID:            e.ID,
				AggregateType: e.AggregateType,
				AggregateID:   e.AggregateID,
				EventType:     e.EventType,
				Payload:       payload,
				CreatedAt:     e.CreatedAt,
			},
			Status:    e.Status,
			Attempts:  e.Attempts,
			UpdatedAt: e.UpdatedAt,
		})
	}
	return d, nil
}

// compactPayload снимает отступы, которые MarshalIndent добавляет во вложенный
// RawMessage, чтобы payload после чтения совпадал с записанным байт в байт.
func compactPayload(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("compact payload: %w", err)
	}
	return buf.Bytes(), nil
}
