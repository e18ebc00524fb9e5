package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	items Repository
}

func NewService(items Repository) *Service {
	return &Service{items: items}
}

var validKinds = map[string]bool{KindProduct: true, KindService: true}

func validateItem(i *Item) error {
	if strings.TrimSpace(i.Code) == "" {
		return fmt.Errorf("code is required")
	}
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !validKinds[i.Kind] {
		return fmt.Errorf("invalid item kind: %s", i.Kind)
	}
	if i.PriceCents < 0 {
		return fmt.Errorf("price_cents must not be negative")
	}
	if i.VATRateBps < 0 || i.VATRateBps > 10000 {
		return fmt.Errorf("vat_rate_bps must be between 0 and 10000")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, i *Item) error {
	if err := validateItem(i); err != nil {
		return err
	}
	i.Active = true
	return s.items.Create(ctx, i)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.items.GetByID(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*Item, error) {
	return s.items.GetByCode(ctx, code)
}

func (s *Service) Update(ctx context.Context, i *Item) error {
	if err := validateItem(i); err != nil {
		return err
	}
	return s.items.Update(ctx, i)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.items.Deactivate(ctx, id)
}

func (s *Service) List(ctx context.Context, kind string, activeOnly bool, limit, offset int) ([]*Item, int, error) {
	if kind != "" && !validKinds[kind] {
		return nil, 0, fmt.Errorf("invalid item kind: %s", kind)
	}
	return s.items.List(ctx, kind, activeOnly, limit, offset)
}
