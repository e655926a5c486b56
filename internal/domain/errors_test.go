package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrOrderVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrOrderVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypedErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", &NotFoundError{Entity: "order", ID: "o-1"}, ErrNotFound},
		{"unknown menu item", &UnknownMenuItemError{MenuItemID: "x"}, ErrUnknownMenuItem},
		{"unknown menu item is not found", &UnknownMenuItemError{MenuItemID: "x"}, ErrNotFound},
		{"unavailable", &ItemUnavailableError{MenuItemID: "x"}, ErrItemUnavailable},
		{"insufficient", &InsufficientStockError{IngredientID: "tomato"}, ErrInsufficientStock},
		{"transition", &InvalidTransitionError{OrderID: "o-1"}, ErrInvalidTransition},
		{"invalid argument", InvalidArgument("qty %d", -1), ErrInvalidArgument},
		{"wrapped", fmt.Errorf("place order: %w", &InsufficientStockError{}), ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Fatalf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
		})
	}
}

func TestInsufficientStockError_Shortfall(t *testing.T) {
	err := error(&InsufficientStockError{
		IngredientID: "tomato",
		Required:     decimal.NewFromInt(6),
		Available:    decimal.NewFromInt(5),
	})

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatal("expected errors.As to extract InsufficientStockError")
	}
	if !stockErr.Shortfall().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected shortfall 1, got %s", stockErr.Shortfall())
	}
}
