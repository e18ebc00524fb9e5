package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

type mockRepo struct {
	items map[uuid.UUID]*Item
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Item)}
}

func (m *mockRepo) Create(_ context.Context, i *Item) error {
	for _, existing := range m.items {
		if existing.Code == i.Code {
			return ErrCodeConflict
		}
	}
	i.ID = uuid.New()
	m.items[i.ID] = i
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Item, error) {
	i, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return i, nil
}

func (m *mockRepo) GetByCode(_ context.Context, code string) (*Item, error) {
	for _, i := range m.items {
		if i.Code == code {
			return i, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockRepo) Update(_ context.Context, i *Item) error {
	m.items[i.ID] = i
	return nil
}

func (m *mockRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	i, ok := m.items[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	i.Active = false
	return nil
}

func (m *mockRepo) List(_ context.Context, kind string, activeOnly bool, limit, offset int) ([]*Item, int, error) {
	var result []*Item
	for _, i := range m.items {
		if kind != "" && i.Kind != kind {
			continue
		}
		if activeOnly && !i.Active {
			continue
		}
		result = append(result, i)
	}
	return result, len(result), nil
}

func validItem() *Item {
	return &Item{
		Code:       "CONS-30",
		Name:       "Consultation, 30 minutes",
		Kind:       KindService,
		PriceCents: 6500,
		VATRateBps: 2100,
	}
}

func TestCreate(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	i := validItem()
	if err := svc.Create(context.Background(), i); err != nil {
		t.Fatal(err)
	}
	if !i.Active {
		t.Error("new item should be active")
	}

	dup := validItem()
	if err := svc.Create(context.Background(), dup); err != ErrCodeConflict {
		t.Errorf("err = %v, want ErrCodeConflict", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(newMockRepo())

	tests := []struct {
		name   string
		mutate func(i *Item)
	}{
		{"missing code", func(i *Item) { i.Code = "" }},
		{"missing name", func(i *Item) { i.Name = "  " }},
		{"bad kind", func(i *Item) { i.Kind = "bundle" }},
		{"negative price", func(i *Item) { i.PriceCents = -1 }},
		{"vat too high", func(i *Item) { i.VATRateBps = 10001 }},
		{"negative vat", func(i *Item) { i.VATRateBps = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := validItem()
			tt.mutate(i)
			if err := svc.Create(context.Background(), i); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestList_Filters(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	svcItem := validItem()
	if err := svc.Create(context.Background(), svcItem); err != nil {
		t.Fatal(err)
	}
	product := &Item{Code: "BAND-01", Name: "Bandage", Kind: KindProduct, PriceCents: 300, VATRateBps: 600}
	if err := svc.Create(context.Background(), product); err != nil {
		t.Fatal(err)
	}
	if err := svc.Deactivate(context.Background(), product.ID); err != nil {
		t.Fatal(err)
	}

	items, _, err := svc.List(context.Background(), KindProduct, true, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("active products = %d, want 0", len(items))
	}

	items, _, err = svc.List(context.Background(), "", false, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("all items = %d, want 2", len(items))
	}

	if _, _, err := svc.List(context.Background(), "bundle", true, 20, 0); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestGetByCode(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	i := validItem()
	if err := svc.Create(context.Background(), i); err != nil {
		t.Fatal(err)
	}
	got, err := svc.GetByCode(context.Background(), "CONS-30")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != i.ID {
		t.Error("GetByCode returned a different item")
	}
}
