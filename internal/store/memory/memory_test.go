package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"billpoint/backend/internal/domain"
	"billpoint/backend/internal/store"
)

func seedProduct(t *testing.T, s *Store, id string, stock int) {
	t.Helper()
	now := time.Now().UTC()
	err := s.CreateProduct(context.Background(), domain.Product{
		ID:        id,
		Name:      "Test Product",
		Price:     decimal.NewFromInt(1000),
		Stock:     stock,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func TestApplyStockDeltaRejectsOverdraw(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "prod-1", 3)

	if err := s.ApplyStockDelta(ctx, "prod-1", -3); err != nil {
		t.Fatalf("delta to zero failed: %v", err)
	}
	err := s.ApplyStockDelta(ctx, "prod-1", -1)
	if !errors.Is(err, store.ErrStockConflict) {
		t.Fatalf("expected ErrStockConflict, got %v", err)
	}

	p, _ := s.GetProduct(ctx, "prod-1")
	if p.Stock != 0 {
		t.Fatalf("stock = %d, want 0", p.Stock)
	}
}

func TestApplyStockDeltaConcurrentDecrements(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "prod-1", 5)

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ApplyStockDelta(ctx, "prod-1", -1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("succeeded decrements = %d, want exactly 5", succeeded)
	}
	p, _ := s.GetProduct(ctx, "prod-1")
	if p.Stock != 0 {
		t.Fatalf("stock = %d, want 0", p.Stock)
	}
}

func TestQueryBillsWindowIsHalfOpen(t *testing.T) {
	s := New()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	insert := func(id string, at time.Time) {
		t.Helper()
		err := s.InsertBill(ctx, domain.Bill{
			ID:        id,
			Items:     []domain.LineItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: decimal.NewFromInt(10), Subtotal: decimal.NewFromInt(10)}},
			Total:     decimal.NewFromInt(10),
			CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	insert("bill-before", base.Add(-time.Second))
	insert("bill-start", base)
	insert("bill-mid", base.Add(12*time.Hour))
	insert("bill-end", base.AddDate(0, 0, 1))

	end := base.AddDate(0, 0, 1)
	bills, err := s.QueryBills(ctx, domain.BillFilter{Start: &base, End: &end})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(bills) != 2 {
		t.Fatalf("bills in [start, end) = %d, want 2", len(bills))
	}
	for _, b := range bills {
		if b.ID == "bill-before" || b.ID == "bill-end" {
			t.Fatalf("bill %s should be outside the half-open window", b.ID)
		}
	}
}

func TestApplyCustomerDeltaClampsAtZero(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.CreateCustomer(ctx, domain.Customer{
		ID:         "cust-1",
		Name:       "Budi",
		Phone:      "+62-800",
		TotalSpent: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	if err := s.ApplyCustomerDelta(ctx, "cust-1", -1, decimal.NewFromInt(-500)); err != nil {
		t.Fatalf("delta failed: %v", err)
	}
	c, _ := s.GetCustomer(ctx, "cust-1")
	if c.TotalPurchases != 0 || !c.TotalSpent.Equal(decimal.Zero) {
		t.Fatalf("aggregates = %d/%s, want clamped to 0/0", c.TotalPurchases, c.TotalSpent)
	}
}

func TestMarkLineStockAdjustedPersists(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.InsertBill(ctx, domain.Bill{
		ID: "bill-1",
		Items: []domain.LineItem{
			{ProductID: "prod-1", Quantity: 1, UnitPrice: decimal.NewFromInt(10), Subtotal: decimal.NewFromInt(10)},
			{ProductID: "prod-2", Quantity: 2, UnitPrice: decimal.NewFromInt(20), Subtotal: decimal.NewFromInt(40)},
		},
		CreatedAt:       time.Now().UTC(),
		SettlementState: domain.SettlementPending,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.MarkLineStockAdjusted(ctx, "bill-1", "prod-2"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	b, err := s.GetBill(ctx, "bill-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Items[0].StockAdjusted || !b.Items[1].StockAdjusted {
		t.Fatalf("marks = %v/%v, want false/true", b.Items[0].StockAdjusted, b.Items[1].StockAdjusted)
	}
}
