// Package service holds the billing engine: stock validation, pricing,
// the settle/reverse/repair ledger operations, and the reporting
// aggregators. It orchestrates the Repository and never bypasses the
// conditional counter updates it exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"billpoint/backend/internal/cache"
	"billpoint/backend/internal/domain"
	"billpoint/backend/internal/store"
	"billpoint/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	dashboards   cache.DashboardCache
	dashboardTTL time.Duration
}

func New(repo store.Repository, dashboards cache.DashboardCache, dashboardTTL time.Duration) *Service {
	if dashboards == nil {
		dashboards = cache.NoopDashboardCache{}
	}
	if dashboardTTL <= 0 {
		dashboardTTL = 30 * time.Second
	}
	return &Service{
		repo:         repo,
		dashboards:   dashboards,
		dashboardTTL: dashboardTTL,
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	return nil
}

// SettleBill runs the full settlement pipeline: validate the request,
// verify the customer, validate stock in input order, price the bill,
// persist it, then apply the stock and aggregate adjustments. The
// persisted bill is the durability point; an adjustment failure after
// it leaves the bill in pending_adjustments and returns a
// SettlementPendingError carrying the bill.
func (s *Service) SettleBill(ctx context.Context, req domain.SettleBillRequest) (domain.Bill, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if err := validateSettleRequest(req); err != nil {
		return domain.Bill{}, err
	}

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Bill{}, fmt.Errorf("customer %s: %w", customerID, store.ErrNotFound)
			}
			return domain.Bill{}, err
		}
	}

	// Stock validation walks items in input order and reports the first
	// violation only. No stock has moved yet at this point.
	lines := make([]domain.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Bill{}, &ValidationError{Msg: fmt.Sprintf("product %s not found", item.ProductID)}
			}
			return domain.Bill{}, err
		}
		if !product.Active {
			return domain.Bill{}, &ValidationError{Msg: fmt.Sprintf("product %s is inactive", product.Name)}
		}
		if product.Stock < item.Quantity {
			return domain.Bill{}, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   item.Quantity,
				Available:   product.Stock,
			}
		}

		unitPrice := item.UnitPrice
		if unitPrice.IsZero() {
			unitPrice = product.Price
		}
		lines = append(lines, domain.LineItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			Subtotal:    unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}

	subtotal, taxAmount, total := priceBill(lines, req.TaxRate, req.Discount)

	createdBy := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		createdBy = actor.Username
	}

	bill := domain.Bill{
		ID:              xid.New("bill"),
		Items:           lines,
		CustomerID:      customerID,
		TaxRate:         req.TaxRate,
		Discount:        req.Discount,
		Subtotal:        subtotal,
		TaxAmount:       taxAmount,
		Total:           total,
		PaymentMethod:   req.PaymentMethod,
		CreatedBy:       createdBy,
		CreatedAt:       time.Now().UTC(),
		SettlementState: domain.SettlementPending,
	}

	if err := s.repo.InsertBill(ctx, bill); err != nil {
		return domain.Bill{}, err
	}

	return s.applyAdjustments(ctx, bill)
}

// applyAdjustments applies every outstanding stock delta and the
// customer aggregate delta for a persisted bill, marking each as it
// lands. Each line is independent: one failed delta does not stop the
// others. Shared with RepairSettlement.
func (s *Service) applyAdjustments(ctx context.Context, bill domain.Bill) (domain.Bill, error) {
	var firstErr error

	for i := range bill.Items {
		item := &bill.Items[i]
		if item.StockAdjusted {
			continue
		}
		if err := s.repo.ApplyStockDelta(ctx, item.ProductID, -item.Quantity); err != nil {
			log.Printf("[service] WARN: stock adjustment failed bill=%s product=%s: %v", bill.ID, item.ProductID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stock adjustment for %s: %w", item.ProductID, err)
			}
			continue
		}
		if err := s.repo.MarkLineStockAdjusted(ctx, bill.ID, item.ProductID); err != nil {
			log.Printf("[service] WARN: failed to mark stock adjustment bill=%s product=%s: %v", bill.ID, item.ProductID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("marking stock adjustment for %s: %w", item.ProductID, err)
			}
			continue
		}
		item.StockAdjusted = true
	}

	if !bill.AggregateAdjusted {
		if bill.CustomerID != "" {
			if err := s.repo.ApplyCustomerDelta(ctx, bill.CustomerID, 1, bill.Total); err != nil {
				log.Printf("[service] WARN: customer aggregate adjustment failed bill=%s customer=%s: %v", bill.ID, bill.CustomerID, err)
				if firstErr == nil {
					firstErr = fmt.Errorf("customer aggregate adjustment: %w", err)
				}
			} else if err := s.repo.MarkAggregateAdjusted(ctx, bill.ID); err != nil {
				log.Printf("[service] WARN: failed to mark aggregate adjustment bill=%s: %v", bill.ID, err)
				if firstErr == nil {
					firstErr = fmt.Errorf("marking aggregate adjustment: %w", err)
				}
			} else {
				bill.AggregateAdjusted = true
			}
		} else {
			// Anonymous bill: nothing to adjust, mark it done.
			if err := s.repo.MarkAggregateAdjusted(ctx, bill.ID); err == nil {
				bill.AggregateAdjusted = true
			}
		}
	}

	if firstErr != nil {
		return bill, &SettlementPendingError{Bill: bill, Cause: firstErr}
	}

	if err := s.repo.SetBillSettlementState(ctx, bill.ID, domain.SettlementComplete); err != nil {
		log.Printf("[service] WARN: failed to mark bill complete bill=%s: %v", bill.ID, err)
		return bill, &SettlementPendingError{Bill: bill, Cause: err}
	}
	bill.SettlementState = domain.SettlementComplete
	return bill, nil
}

// RepairSettlement retries the outstanding adjustments of a bill left
// in pending_adjustments. Applied lines are skipped via their markers,
// so calling it repeatedly is safe.
func (s *Service) RepairSettlement(ctx context.Context, billID string) (domain.Bill, error) {
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return domain.Bill{}, err
	}
	if bill.SettlementState == domain.SettlementComplete {
		return bill, nil
	}
	return s.applyAdjustments(ctx, bill)
}

// ReverseBill undoes a settlement exactly: every line's quantity is
// restored and the customer's aggregates are decremented by the bill's
// stored total, never a recomputed one. The bill record is removed
// last, so a failed restore leaves the bill in place for a retry.
func (s *Service) ReverseBill(ctx context.Context, billID string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return err
	}

	for _, item := range bill.Items {
		if !item.StockAdjusted {
			// The decrement never landed; there is nothing to restore.
			continue
		}
		if err := s.repo.ApplyStockDelta(ctx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("[service] WARN: reversing bill %s: product %s no longer exists", bill.ID, item.ProductID)
				continue
			}
			return fmt.Errorf("restoring stock for %s: %w", item.ProductID, err)
		}
	}

	if bill.CustomerID != "" && bill.AggregateAdjusted {
		if err := s.repo.ApplyCustomerDelta(ctx, bill.CustomerID, -1, bill.Total.Neg()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("[service] WARN: reversing bill %s: customer %s no longer exists", bill.ID, bill.CustomerID)
			} else {
				return fmt.Errorf("reversing customer aggregates: %w", err)
			}
		}
	}

	return s.repo.DeleteBill(ctx, billID)
}

func (s *Service) GetBill(ctx context.Context, billID string) (domain.Bill, error) {
	return s.repo.GetBill(ctx, billID)
}

func (s *Service) ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	return s.repo.QueryBills(ctx, filter)
}

// AuditCustomerAggregate replays a customer's bills from the ledger and
// compares the derived totals against the stored running aggregates.
func (s *Service) AuditCustomerAggregate(ctx context.Context, customerID string) (domain.AggregateAudit, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.AggregateAudit{}, err
	}

	bills, err := s.repo.QueryBills(ctx, domain.BillFilter{CustomerID: customerID})
	if err != nil {
		return domain.AggregateAudit{}, err
	}

	derivedSpent := decimal.Zero
	for _, b := range bills {
		derivedSpent = derivedSpent.Add(b.Total)
	}

	audit := domain.AggregateAudit{
		CustomerID:       customerID,
		StoredPurchases:  customer.TotalPurchases,
		DerivedPurchases: len(bills),
		StoredSpent:      customer.TotalSpent,
		DerivedSpent:     derivedSpent,
	}
	audit.Consistent = audit.StoredPurchases == audit.DerivedPurchases && audit.StoredSpent.Equal(audit.DerivedSpent)
	return audit, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, false)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Product{}, &ValidationError{Msg: "name is required"}
	}
	if req.Price.IsNegative() {
		return domain.Product{}, &ValidationError{Msg: "price must not be negative"}
	}
	if req.InitialStock < 0 {
		return domain.Product{}, &ValidationError{Msg: "initial_stock must not be negative"}
	}
	if req.ReorderLevel < 0 {
		return domain.Product{}, &ValidationError{Msg: "reorder_level must not be negative"}
	}
	if req.ReorderLevel == 0 {
		req.ReorderLevel = 10
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:           xid.New("prod"),
		Code:         xid.Code("PROD"),
		Name:         req.Name,
		Category:     req.Category,
		Description:  req.Description,
		Price:        req.Price,
		Stock:        req.InitialStock,
		ReorderLevel: req.ReorderLevel,
		Image:        req.Image,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// UpdateProduct edits catalog fields only; stock is owned by the
// settlement pipeline and is never writable through this path.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, &ValidationError{Msg: "name must not be empty"}
		}
		product.Name = name
	}
	if req.Category != nil {
		product.Category = strings.TrimSpace(*req.Category)
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, &ValidationError{Msg: "price must not be negative"}
		}
		product.Price = *req.Price
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, &ValidationError{Msg: "reorder_level must not be negative"}
		}
		product.ReorderLevel = *req.ReorderLevel
	}
	if req.Image != nil {
		product.Image = *req.Image
	}
	if req.Active != nil {
		product.Active = *req.Active
	}
	product.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	return s.repo.GetProduct(ctx, id)
}

// DeactivateProduct soft-deletes: the product disappears from the
// active catalog but its ID remains resolvable for historical bills.
func (s *Service) DeactivateProduct(ctx context.Context, id string) error {
	inactive := false
	_, err := s.UpdateProduct(ctx, id, domain.ProductUpdateRequest{Active: &inactive})
	return err
}

func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	categories := make([]string, 0, 16)
	for _, p := range products {
		if p.Category == "" || seen[p.Category] {
			continue
		}
		seen[p.Category] = true
		categories = append(categories, p.Category)
	}
	return categories, nil
}

func (s *Service) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}
	low := make([]domain.Product, 0, 8)
	for _, p := range products {
		if p.Stock <= p.ReorderLevel {
			low = append(low, p)
		}
	}
	return low, nil
}

func (s *Service) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, strings.TrimSpace(search))
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Customer{}, &ValidationError{Msg: "name is required"}
	}
	if req.Phone == "" {
		return domain.Customer{}, &ValidationError{Msg: "phone is required"}
	}

	now := time.Now().UTC()
	customer := domain.Customer{
		ID:         xid.New("cust"),
		Code:       xid.Code("CUST"),
		Name:       req.Name,
		Email:      strings.TrimSpace(req.Email),
		Phone:      req.Phone,
		Address:    req.Address,
		City:       req.City,
		TotalSpent: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

// UpdateCustomer edits contact fields only; the running aggregates are
// owned by the settlement and reversal paths.
func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, &ValidationError{Msg: "name must not be empty"}
		}
		customer.Name = name
	}
	if req.Email != nil {
		customer.Email = strings.TrimSpace(*req.Email)
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if phone == "" {
			return domain.Customer{}, &ValidationError{Msg: "phone must not be empty"}
		}
		customer.Phone = phone
	}
	if req.Address != nil {
		customer.Address = *req.Address
	}
	if req.City != nil {
		customer.City = *req.City
	}
	customer.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateCustomer(ctx, customer); err != nil {
		return domain.Customer{}, err
	}
	return s.repo.GetCustomer(ctx, id)
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteCustomer(ctx, id)
}

// CustomerHistory returns the customer's bills, newest first.
func (s *Service) CustomerHistory(ctx context.Context, customerID string) ([]domain.Bill, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.repo.QueryBills(ctx, domain.BillFilter{CustomerID: customerID})
}
