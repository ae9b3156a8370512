// Package memory is a mutex-guarded in-memory Repository used in dev
// mode and by the test suite. It mirrors the postgres implementation's
// semantics, including the conditional counter updates.
package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"billpoint/backend/internal/domain"
	"billpoint/backend/internal/store"
	"billpoint/backend/internal/xid"
)

type Store struct {
	mu              sync.Mutex
	products        map[string]domain.Product
	customers       map[string]domain.Customer
	bills           map[string]*domain.Bill
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// if unset, hardcoded dev defaults are used with a warning. Production
// runs against PostgreSQL and never touches these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		customers:       make(map[string]domain.Customer),
		bills:           make(map[string]*domain.Bill),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	seed := []domain.Product{
		{Name: "Wireless Mouse", Category: "electronics", Price: decimal.NewFromInt(89999), Stock: 15, ReorderLevel: 10},
		{Name: "Mechanical Keyboard", Category: "electronics", Price: decimal.NewFromInt(249000), Stock: 8, ReorderLevel: 5},
		{Name: "USB-C Cable 1m", Category: "accessories", Price: decimal.NewFromInt(35000), Stock: 60, ReorderLevel: 20},
		{Name: "Laptop Stand", Category: "accessories", Price: decimal.NewFromInt(129000), Stock: 12, ReorderLevel: 10},
		{Name: "Thermal Paper Roll", Category: "supplies", Price: decimal.NewFromInt(12500), Stock: 120, ReorderLevel: 40},
		{Name: "Barcode Scanner", Category: "electronics", Price: decimal.NewFromInt(459000), Stock: 4, ReorderLevel: 3},
	}
	for _, p := range seed {
		p.ID = xid.New("prod")
		p.Code = xid.Code("PROD")
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}
	customers := []domain.Customer{
		{Name: "Budi Santoso", Email: "budi@example.com", Phone: "+62-811-1001", City: "Jakarta"},
		{Name: "Siti Rahma", Email: "siti@example.com", Phone: "+62-811-1002", City: "Bandung"},
	}
	for _, c := range customers {
		c.ID = xid.New("cust")
		c.Code = xid.Code("CUST")
		c.TotalSpent = decimal.Zero
		c.CreatedAt = now
		c.UpdatedAt = now
		s.customers[c.ID] = c
	}
	return s
}

func (s *Store) CreateProduct(_ context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return store.ErrDuplicate
	}
	s.products[p.ID] = p
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !includeInactive && !p.Active {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// UpdateProduct replaces catalog fields only. Stock is preserved from
// the stored row so concurrent deltas cannot be clobbered by an edit.
func (s *Store) UpdateProduct(_ context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.products[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock = cur.Stock
	p.CreatedAt = cur.CreatedAt
	s.products[p.ID] = p
	return nil
}

func (s *Store) ApplyStockDelta(_ context.Context, productID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	next := p.Stock + delta
	if next < 0 {
		return store.ErrStockConflict
	}
	p.Stock = next
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, c domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[c.ID]; ok {
		return store.ErrDuplicate
	}
	s.customers[c.ID] = c
	return nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return domain.Customer{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCustomers(_ context.Context, search string) ([]domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if needle != "" && !customerMatches(c, needle) {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func customerMatches(c domain.Customer, needle string) bool {
	return strings.Contains(strings.ToLower(c.Name), needle) ||
		strings.Contains(strings.ToLower(c.Email), needle) ||
		strings.Contains(strings.ToLower(c.Phone), needle) ||
		strings.Contains(strings.ToLower(c.Code), needle)
}

func (s *Store) UpdateCustomer(_ context.Context, c domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.customers[c.ID]
	if !ok {
		return store.ErrNotFound
	}
	// Aggregates are owned by ApplyCustomerDelta.
	c.TotalPurchases = cur.TotalPurchases
	c.TotalSpent = cur.TotalSpent
	c.CreatedAt = cur.CreatedAt
	s.customers[c.ID] = c
	return nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) CountCustomers(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.customers)), nil
}

func (s *Store) ApplyCustomerDelta(_ context.Context, customerID string, purchases int, spent decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return store.ErrNotFound
	}
	c.TotalPurchases += purchases
	if c.TotalPurchases < 0 {
		c.TotalPurchases = 0
	}
	c.TotalSpent = c.TotalSpent.Add(spent)
	if c.TotalSpent.IsNegative() {
		c.TotalSpent = decimal.Zero
	}
	c.UpdatedAt = time.Now().UTC()
	s.customers[customerID] = c
	return nil
}

func (s *Store) InsertBill(_ context.Context, b domain.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" || len(b.Items) == 0 {
		return store.ErrInvalidBill
	}
	if _, ok := s.bills[b.ID]; ok {
		return store.ErrDuplicate
	}
	s.bills[b.ID] = cloneBill(&b)
	return nil
}

func (s *Store) GetBill(_ context.Context, id string) (domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[id]
	if !ok {
		return domain.Bill{}, store.ErrNotFound
	}
	return *cloneBill(b), nil
}

func (s *Store) DeleteBill(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.bills, id)
	return nil
}

func (s *Store) QueryBills(_ context.Context, f domain.BillFilter) ([]domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Bill, 0, len(s.bills))
	for _, b := range s.bills {
		if f.Start != nil && b.CreatedAt.Before(*f.Start) {
			continue
		}
		if f.End != nil && !b.CreatedAt.Before(*f.End) {
			continue
		}
		if f.CustomerID != "" && b.CustomerID != f.CustomerID {
			continue
		}
		out = append(out, *cloneBill(b))
	}
	slices.SortFunc(out, func(a, b domain.Bill) int {
		// Newest first; ID break keeps the order stable for same-instant bills.
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (s *Store) MarkLineStockAdjusted(_ context.Context, billID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range b.Items {
		if b.Items[i].ProductID == productID {
			b.Items[i].StockAdjusted = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) MarkAggregateAdjusted(_ context.Context, billID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok {
		return store.ErrNotFound
	}
	b.AggregateAdjusted = true
	return nil
}

func (s *Store) SetBillSettlementState(_ context.Context, billID string, state domain.SettlementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok {
		return store.ErrNotFound
	}
	b.SettlementState = state
	return nil
}

func (s *Store) CreateUser(_ context.Context, u domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByUsername[u.Username]; ok {
		return store.ErrDuplicate
	}
	s.usersByUsername[u.Username] = u
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func cloneBill(src *domain.Bill) *domain.Bill {
	cp := *src
	cp.Items = slices.Clone(src.Items)
	return &cp
}
