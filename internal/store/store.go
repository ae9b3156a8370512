// Package store defines the persistence contract for the billing engine
// and the sentinel errors implementations report through.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"billpoint/backend/internal/domain"
)

var (
	// ErrNotFound is returned when a product, customer, bill, or user
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned by stock validation when a
	// product cannot cover a requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStockConflict is returned when a conditional stock delta is
	// rejected because it would drive stock below zero. It signals a
	// concurrent decrement raced ahead of the caller's earlier read.
	ErrStockConflict = errors.New("stock conflict")

	// ErrInvalidBill is returned when a bill fails structural checks at
	// the persistence boundary.
	ErrInvalidBill = errors.New("invalid bill")

	// ErrDuplicate is returned when a unique constraint is violated,
	// e.g. registering a username that already exists.
	ErrDuplicate = errors.New("duplicate")
)

// Repository is the full persistence surface. The postgres
// implementation backs production; the memory implementation backs dev
// mode and tests. Both must satisfy the same semantics, in particular:
// ApplyStockDelta and ApplyCustomerDelta are conditional single-step
// updates that never leave a counter negative.
type Repository interface {
	// Products.
	CreateProduct(ctx context.Context, p domain.Product) error
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, p domain.Product) error

	// ApplyStockDelta adjusts a product's stock by delta (negative for
	// a sale, positive for a reversal) in one conditional step. If the
	// adjustment would drive stock below zero it applies nothing and
	// returns ErrStockConflict.
	ApplyStockDelta(ctx context.Context, productID string, delta int) error

	// Customers.
	CreateCustomer(ctx context.Context, c domain.Customer) error
	GetCustomer(ctx context.Context, id string) (domain.Customer, error)
	ListCustomers(ctx context.Context, search string) ([]domain.Customer, error)
	UpdateCustomer(ctx context.Context, c domain.Customer) error
	DeleteCustomer(ctx context.Context, id string) error
	CountCustomers(ctx context.Context) (int64, error)

	// ApplyCustomerDelta adjusts a customer's running aggregates in one
	// conditional step. purchases is +1 on settlement and -1 on
	// reversal; spent is the bill's stored total, signed the same way.
	// An adjustment that would drive either aggregate negative clamps
	// at zero rather than failing, since reversal must succeed even
	// when aggregates have drifted.
	ApplyCustomerDelta(ctx context.Context, customerID string, purchases int, spent decimal.Decimal) error

	// Bills.
	InsertBill(ctx context.Context, b domain.Bill) error
	GetBill(ctx context.Context, id string) (domain.Bill, error)
	DeleteBill(ctx context.Context, id string) error
	QueryBills(ctx context.Context, f domain.BillFilter) ([]domain.Bill, error)

	// Settlement bookkeeping for the repair path.
	MarkLineStockAdjusted(ctx context.Context, billID, productID string) error
	MarkAggregateAdjusted(ctx context.Context, billID string) error
	SetBillSettlementState(ctx context.Context, billID string, state domain.SettlementState) error

	// User accounts.
	CreateUser(ctx context.Context, u domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
