package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is a closed enumeration. An omitted method defaults to
// cash at settlement; anything else outside this set is rejected before
// a bill reaches the store.
type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentOther PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentOther:
		return true
	default:
		return false
	}
}

// SettlementState tracks whether the stock and customer-aggregate
// adjustments for a persisted bill have all been applied. A bill is
// authoritative from the moment it is persisted; the state tag makes
// the adjustment gap observable and repairable instead of silent.
type SettlementState string

const (
	SettlementPending  SettlementState = "pending_adjustments"
	SettlementComplete SettlementState = "complete"
)

type Product struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Description  string          `json:"description,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	ReorderLevel int             `json:"reorder_level"`
	Image        string          `json:"image,omitempty"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	InitialStock int             `json:"initial_stock"`
	ReorderLevel int             `json:"reorder_level"`
	Image        string          `json:"image"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Category     *string          `json:"category,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	ReorderLevel *int             `json:"reorder_level,omitempty"`
	Image        *string          `json:"image,omitempty"`
	Active       *bool            `json:"active,omitempty"`
}

type Customer struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	Phone          string          `json:"phone"`
	Address        string          `json:"address,omitempty"`
	City           string          `json:"city,omitempty"`
	TotalPurchases int             `json:"total_purchases"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	City    *string `json:"city,omitempty"`
}

// LineItem is immutable once its bill is created. ProductName and
// UnitPrice are snapshots taken at bill time and are unaffected by later
// catalog edits.
type LineItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`

	// StockAdjusted records whether this line's stock decrement has been
	// applied, so a repair pass never double-applies a delta.
	StockAdjusted bool `json:"-"`
}

type Bill struct {
	ID            string          `json:"id"`
	Items         []LineItem      `json:"items"`
	CustomerID    string          `json:"customer_id,omitempty"`
	TaxRate       float64         `json:"tax_rate"`
	Discount      decimal.Decimal `json:"discount"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`

	SettlementState   SettlementState `json:"settlement_state"`
	AggregateAdjusted bool            `json:"-"`
}

type SettleLineItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"price"`
}

type SettleBillRequest struct {
	Items         []SettleLineItem `json:"items"`
	CustomerID    string           `json:"customer_id,omitempty"`
	TaxRate       float64          `json:"tax_rate"`
	Discount      decimal.Decimal  `json:"discount"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
}

// BillFilter selects bills inside the half-open window [Start, End).
// A nil bound leaves that side unbounded.
type BillFilter struct {
	Start      *time.Time
	End        *time.Time
	CustomerID string
}

type SalesSummary struct {
	TotalBills    int64           `json:"total_bills"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	AverageBill   decimal.Decimal `json:"average_bill"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
}

type ProductSales struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
}

type SalesStats struct {
	Summary     SalesSummary   `json:"stats"`
	TopProducts []ProductSales `json:"top_products"`
}

type DaySales struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
	Count   int64           `json:"count"`
}

type PeriodSales struct {
	Revenue decimal.Decimal `json:"revenue"`
	Count   int64           `json:"count"`
}

type DashboardStats struct {
	TodaySales     PeriodSales     `json:"today_sales"`
	MonthlySales   PeriodSales     `json:"monthly_sales"`
	DailySales     []DaySales      `json:"daily_sales"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	LowStockCount  int64           `json:"low_stock_count"`
	TotalProducts  int64           `json:"total_products"`
	TotalCustomers int64           `json:"total_customers"`
}

// AggregateAudit compares a customer's stored running totals against the
// values derived by replaying their bills from the ledger.
type AggregateAudit struct {
	CustomerID       string          `json:"customer_id"`
	StoredPurchases  int             `json:"stored_purchases"`
	DerivedPurchases int             `json:"derived_purchases"`
	StoredSpent      decimal.Decimal `json:"stored_spent"`
	DerivedSpent     decimal.Decimal `json:"derived_spent"`
	Consistent       bool            `json:"consistent"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Email     string
	FullName  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
