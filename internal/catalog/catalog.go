// Package catalog хранит меню и рецептуры: какие ингредиенты и в каком
// количестве нужны на одну порцию блюда.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

type recipeKey struct {
	menuItemID   string
	ingredientID string
}

// Catalog — справочник блюд и рецептов. Для ядра он только читается,
// изменяют его хуки управления меню.
type Catalog struct {
	mu      sync.RWMutex
	items   map[string]domain.MenuItem
	recipes map[string][]domain.RecipeLine
}

// New строит каталог, проверяя блюда и строки рецептов.
func New(items []domain.MenuItem, recipes []domain.RecipeLine) (*Catalog, error) {
	c := &Catalog{
		items:   make(map[string]domain.MenuItem, len(items)),
		recipes: make(map[string][]domain.RecipeLine),
	}

	for _, item := range items {
		if err := validateItem(item); err != nil {
			return nil, err
		}
		if _, exists := c.items[item.ID]; exists {
			return nil, domain.InvalidArgument("duplicate menu item %q", item.ID)
		}
		c.items[item.ID] = item
	}

	seen := make(map[recipeKey]struct{}, len(recipes))
	for _, line := range recipes {
		if err := validateLine(line); err != nil {
			return nil, err
		}
		if _, ok := c.items[line.MenuItemID]; !ok {
			return nil, domain.InvalidArgument("recipe line references unknown menu item %q", line.MenuItemID)
		}
		key := recipeKey{menuItemID: line.MenuItemID, ingredientID: line.IngredientID}
		if _, dup := seen[key]; dup {
			return nil, domain.InvalidArgument("duplicate recipe line %s/%s", line.MenuItemID, line.IngredientID)
		}
		seen[key] = struct{}{}
		c.recipes[line.MenuItemID] = append(c.recipes[line.MenuItemID], line)
	}

	return c, nil
}

// MenuItem возвращает блюдо по идентификатору.
func (c *Catalog) MenuItem(id string) (domain.MenuItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	return item, ok
}

// MenuItems возвращает все блюда, отсортированные по ID.
func (c *Catalog) MenuItems() []domain.MenuItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.MenuItem, 0, len(c.items))
	for _, item := range c.items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Recipes возвращает все строки рецептов одним снимком, сгруппированные по блюду.
func (c *Catalog) Recipes() []domain.RecipeLine {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.recipes))
	for id := range c.recipes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var result []domain.RecipeLine
	for _, id := range ids {
		result = append(result, c.recipes[id]...)
	}
	return result
}

// Requirements возвращает потребность на одну порцию.
// Блюдо без рецепта не отслеживается по ингредиентам: результат пустой, это не ошибка.
func (c *Catalog) Requirements(menuItemID string) []domain.Requirement {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lines := c.recipes[menuItemID]
	result := make([]domain.Requirement, 0, len(lines))
	for _, line := range lines {
		result = append(result, domain.Requirement{
			IngredientID: line.IngredientID,
			Quantity:     line.QuantityPerServing,
		})
	}
	return result
}

// ScaleRequirements умножает расход на число порций.
func (c *Catalog) ScaleRequirements(menuItemID string, servings int32) ([]domain.Requirement, error) {
	if servings <= 0 {
		return nil, domain.InvalidArgument("servings must be positive, got %d", servings)
	}

	reqs := c.Requirements(menuItemID)
	factor := decimal.NewFromInt32(servings)
	for i := range reqs {
		reqs[i].Quantity = reqs[i].Quantity.Mul(factor)
	}
	return reqs, nil
}

// PutMenuItem добавляет или заменяет блюдо.
// Правки меню живут только в памяти процесса: в PersistenceStore они не
// записываются и после перезапуска меню снова читается из хранилища.
func (c *Catalog) PutMenuItem(item domain.MenuItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
	return nil
}

// SetAvailability включает или снимает блюдо с продажи до перезапуска процесса.
func (c *Catalog) SetAvailability(menuItemID string, available bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[menuItemID]
	if !ok {
		return &domain.NotFoundError{Entity: "menu item", ID: menuItemID}
	}
	item.Available = available
	c.items[menuItemID] = item
	return nil
}

// SetRecipe целиком заменяет рецепт блюда. Как и PutMenuItem, правка не сохраняется в хранилище.
func (c *Catalog) SetRecipe(menuItemID string, lines []domain.RecipeLine) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[menuItemID]; !ok {
		return &domain.NotFoundError{Entity: "menu item", ID: menuItemID}
	}

	seen := make(map[string]struct{}, len(lines))
	recipe := make([]domain.RecipeLine, 0, len(lines))
	for _, line := range lines {
		line.MenuItemID = menuItemID
		if err := validateLine(line); err != nil {
			return err
		}
		if _, dup := seen[line.IngredientID]; dup {
			return domain.InvalidArgument("duplicate recipe line %s/%s", menuItemID, line.IngredientID)
		}
		seen[line.IngredientID] = struct{}{}
		recipe = append(recipe, line)
	}

	if len(recipe) == 0 {
		delete(c.recipes, menuItemID)
		return nil
	}
	c.recipes[menuItemID] = recipe
	return nil
}

func validateItem(item domain.MenuItem) error {
	if errs := item.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: menu item %q: %w", domain.ErrInvalidArgument, item.ID, errors.Join(errs...))
	}
	return nil
}

func validateLine(line domain.RecipeLine) error {
	if errs := line.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: recipe line %s/%s: %w",
			domain.ErrInvalidArgument, line.MenuItemID, line.IngredientID, errors.Join(errs...))
	}
	return nil
}
