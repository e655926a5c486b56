// Package seed загружает стартовые склад и меню в пустое хранилище.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

//go:embed demo.json
var demoDocument []byte

// Document — формат файла с начальными данными.
type Document struct {
	Ingredients []Ingredient `json:"ingredients"`
	Menu        []MenuItem   `json:"menu"`
}

type Ingredient struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	MaxQuantity decimal.Decimal `json:"max_quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type MenuItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Cost        decimal.Decimal `json:"cost"`
	Description string          `json:"description"`
	// Unavailable вместо Available, чтобы отсутствие поля означало "в продаже".
	Unavailable bool         `json:"unavailable"`
	Recipe      []RecipeLine `json:"recipe"`
}

type RecipeLine struct {
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// Demo возвращает встроенное демо-меню кофейни.
func Demo() (domain.Snapshot, error) {
	return Parse(bytes.NewReader(demoDocument))
}

// LoadFile читает документ с диска; пустой path означает Demo.
func LoadFile(path string) (domain.Snapshot, error) {
	if path == "" {
		return Demo()
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	snap, err := Parse(f)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("seed file %s: %w", path, err)
	}
	return snap, nil
}

// Parse декодирует и валидирует документ.
func Parse(r io.Reader) (domain.Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode seed document: %w", err)
	}
	return doc.Snapshot()
}

// Snapshot переводит документ в доменные типы и проверяет каждую запись.
func (d Document) Snapshot() (domain.Snapshot, error) {
	var (
		snap domain.Snapshot
		errs []error
	)
	for _, ing := range d.Ingredients {
		item := domain.Ingredient{
			ID:          ing.ID,
			Name:        ing.Name,
			Category:    ing.Category,
			Unit:        ing.Unit,
			Quantity:    ing.Quantity,
			MinQuantity: ing.MinQuantity,
			MaxQuantity: ing.MaxQuantity,
			UnitCost:    ing.UnitCost,
		}
		for _, err := range item.Validate() {
			errs = append(errs, fmt.Errorf("ingredient %q: %w", ing.ID, err))
		}
		snap.Ingredients = append(snap.Ingredients, item)
	}
	for _, m := range d.Menu {
		item := domain.MenuItem{
			ID:          m.ID,
			Name:        m.Name,
			Category:    m.Category,
			Price:       m.Price,
			Cost:        m.Cost,
			Available:   !m.Unavailable,
			Description: m.Description,
		}
		for _, err := range item.Validate() {
			errs = append(errs, fmt.Errorf("menu item %q: %w", m.ID, err))
		}
		snap.MenuItems = append(snap.MenuItems, item)
		for _, line := range m.Recipe {
			rl := domain.RecipeLine{
				MenuItemID:         m.ID,
				IngredientID:       line.IngredientID,
				QuantityPerServing: line.Quantity,
			}
			for _, err := range rl.Validate() {
				errs = append(errs, fmt.Errorf("recipe %q/%q: %w", m.ID, line.IngredientID, err))
			}
			snap.Recipes = append(snap.Recipes, rl)
		}
	}
	if len(errs) > 0 {
		return domain.Snapshot{}, errors.Join(errs...)
	}
	return snap, nil
}

// Apply записывает snapshot, только если хранилище ещё пустое.
// Возвращает true, если данные были записаны.
func Apply(ctx context.Context, store domain.PersistenceStore, snap domain.Snapshot, logger *log.Entry) (bool, error) {
	if logger == nil {
		logger = log.New().WithField("component", "seed")
	}

	current, err := store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load store before seeding: %w", err)
	}
	if !current.Empty() {
		logger.Debug("store already has data, seed skipped")
		return false, nil
	}
	if err := store.Seed(ctx, snap); err != nil {
		return false, fmt.Errorf("seed store: %w", err)
	}

	logger.WithFields(log.Fields{
		"ingredients": len(snap.Ingredients),
		"menu_items":  len(snap.MenuItems),
		"recipes":     len(snap.Recipes),
	}).Info("store seeded")
	return true, nil
}
