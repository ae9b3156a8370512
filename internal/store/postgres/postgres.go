// Package postgres implements the Repository against PostgreSQL using
// the pgx stdlib driver. Currency columns are NUMERIC and scan directly
// into decimal.Decimal.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"billpoint/backend/internal/domain"
	"billpoint/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, category, description, price, stock, reorder_level, image, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, p.ID, p.Code, p.Name, p.Category, p.Description, p.Price, p.Stock, p.ReorderLevel, p.Image, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, category, description, price, stock, reorder_level, image, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.Description, &p.Price, &p.Stock, &p.ReorderLevel, &p.Image, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, store.ErrNotFound
		}
		return domain.Product{}, err
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	query := `
		SELECT id, code, name, category, description, price, stock, reorder_level, image, active, created_at, updated_at
		FROM products
	`
	if !includeInactive {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.Description, &p.Price, &p.Stock, &p.ReorderLevel, &p.Image, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// UpdateProduct deliberately omits the stock column; stock moves only
// through ApplyStockDelta.
func (s *Store) UpdateProduct(ctx context.Context, p domain.Product) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, description = $4, price = $5, reorder_level = $6, image = $7, active = $8, updated_at = now()
		WHERE id = $1
	`, p.ID, p.Name, p.Category, p.Description, p.Price, p.ReorderLevel, p.Image, p.Active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ApplyStockDelta is a single conditional UPDATE: the WHERE clause
// rejects any adjustment that would drive stock below zero, so two
// concurrent decrements can never both succeed on the last unit.
func (s *Store) ApplyStockDelta(ctx context.Context, productID string, delta int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
	`, productID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a missing product from a rejected decrement.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT true FROM products WHERE id = $1`, productID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		return store.ErrStockConflict
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, c domain.Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, code, name, email, phone, address, city, total_purchases, total_spent, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, c.ID, c.Code, c.Name, c.Email, c.Phone, c.Address, c.City, c.TotalPurchases, c.TotalSpent, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, email, phone, address, city, total_purchases, total_spent, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.Address, &c.City, &c.TotalPurchases, &c.TotalSpent, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, store.ErrNotFound
		}
		return domain.Customer{}, err
	}
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	query := `
		SELECT id, code, name, email, phone, address, city, total_purchases, total_spent, created_at, updated_at
		FROM customers
	`
	args := []any{}
	if search != "" {
		query += ` WHERE name ILIKE $1 OR email ILIKE $1 OR phone ILIKE $1 OR code ILIKE $1`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.Address, &c.City, &c.TotalPurchases, &c.TotalSpent, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c domain.Customer) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, email = $3, phone = $4, address = $5, city = $6, updated_at = now()
		WHERE id = $1
	`, c.ID, c.Name, c.Email, c.Phone, c.Address, c.City)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) CountCustomers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM customers`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ApplyCustomerDelta clamps both aggregates at zero. Reversal must
// succeed even when the stored aggregates have drifted below the bill
// being reversed.
func (s *Store) ApplyCustomerDelta(ctx context.Context, customerID string, purchases int, spent decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET total_purchases = GREATEST(total_purchases + $2, 0),
		    total_spent = GREATEST(total_spent + $3, 0),
		    updated_at = now()
		WHERE id = $1
	`, customerID, purchases, spent)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) InsertBill(ctx context.Context, b domain.Bill) error {
	if b.ID == "" || len(b.Items) == 0 {
		return store.ErrInvalidBill
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bills (id, customer_id, tax_rate, discount, subtotal, tax_amount, total, payment_method, created_by, created_at, settlement_state, aggregate_adjusted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, b.ID, nullIfEmpty(b.CustomerID), b.TaxRate, b.Discount, b.Subtotal, b.TaxAmount, b.Total, string(b.PaymentMethod), b.CreatedBy, b.CreatedAt, string(b.SettlementState), b.AggregateAdjusted)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}

	for i, item := range b.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bill_items (bill_id, position, product_id, product_name, quantity, unit_price, subtotal, stock_adjusted)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, b.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal, item.StockAdjusted)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	b, err := s.scanBill(ctx, id)
	if err != nil {
		return domain.Bill{}, err
	}
	items, err := s.scanItems(ctx, []string{id})
	if err != nil {
		return domain.Bill{}, err
	}
	b.Items = items[id]
	return b, nil
}

func (s *Store) scanBill(ctx context.Context, id string) (domain.Bill, error) {
	var b domain.Bill
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, tax_rate, discount, subtotal, tax_amount, total, payment_method, created_by, created_at, settlement_state, aggregate_adjusted
		FROM bills
		WHERE id = $1
	`, id).Scan(&b.ID, &customerID, &b.TaxRate, &b.Discount, &b.Subtotal, &b.TaxAmount, &b.Total, &b.PaymentMethod, &b.CreatedBy, &b.CreatedAt, &b.SettlementState, &b.AggregateAdjusted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Bill{}, store.ErrNotFound
		}
		return domain.Bill{}, err
	}
	if customerID.Valid {
		b.CustomerID = customerID.String
	}
	return b, nil
}

func (s *Store) scanItems(ctx context.Context, billIDs []string) (map[string][]domain.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bill_id, product_id, product_name, quantity, unit_price, subtotal, stock_adjusted
		FROM bill_items
		WHERE bill_id = ANY($1)
		ORDER BY bill_id, position
	`, billIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.LineItem, len(billIDs))
	for rows.Next() {
		var billID string
		var item domain.LineItem
		if err := rows.Scan(&billID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal, &item.StockAdjusted); err != nil {
			return nil, err
		}
		out[billID] = append(out[billID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteBill(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bill_items WHERE bill_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM bills WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) QueryBills(ctx context.Context, f domain.BillFilter) ([]domain.Bill, error) {
	query := `
		SELECT id, customer_id, tax_rate, discount, subtotal, tax_amount, total, payment_method, created_by, created_at, settlement_state, aggregate_adjusted
		FROM bills
		WHERE 1=1
	`
	args := []any{}
	if f.Start != nil {
		args = append(args, *f.Start)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if f.End != nil {
		args = append(args, *f.End)
		query += ` AND created_at < $` + strconv.Itoa(len(args))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		query += ` AND customer_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var b domain.Bill
		var customerID sql.NullString
		if err := rows.Scan(&b.ID, &customerID, &b.TaxRate, &b.Discount, &b.Subtotal, &b.TaxAmount, &b.Total, &b.PaymentMethod, &b.CreatedBy, &b.CreatedAt, &b.SettlementState, &b.AggregateAdjusted); err != nil {
			return nil, err
		}
		if customerID.Valid {
			b.CustomerID = customerID.String
		}
		bills = append(bills, b)
		ids = append(ids, b.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return bills, nil
	}

	items, err := s.scanItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range bills {
		bills[i].Items = items[bills[i].ID]
	}
	return bills, nil
}

func (s *Store) MarkLineStockAdjusted(ctx context.Context, billID, productID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bill_items SET stock_adjusted = true WHERE bill_id = $1 AND product_id = $2
	`, billID, productID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) MarkAggregateAdjusted(ctx context.Context, billID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET aggregate_adjusted = true WHERE id = $1
	`, billID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) SetBillSettlementState(ctx context.Context, billID string, state domain.SettlementState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET settlement_state = $2 WHERE id = $1
	`, billID, string(state))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) CreateUser(ctx context.Context, u domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, full_name, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, u.Username, u.Email, u.FullName, u.Password, u.Role, u.Active, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, email, full_name, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Email, &u.FullName, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
