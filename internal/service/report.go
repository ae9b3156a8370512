package service

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"billpoint/backend/internal/domain"
)

const dashboardCacheKey = "dashboard:stats"

// SalesStats aggregates the bills matched by the filter into a summary
// and a top-10 product ranking by summed line revenue. An empty window
// yields a zero summary, not an error.
func (s *Service) SalesStats(ctx context.Context, filter domain.BillFilter) (domain.SalesStats, error) {
	bills, err := s.repo.QueryBills(ctx, filter)
	if err != nil {
		return domain.SalesStats{}, err
	}

	stats := domain.SalesStats{
		Summary: domain.SalesSummary{
			TotalRevenue:  decimal.Zero,
			AverageBill:   decimal.Zero,
			TotalTax:      decimal.Zero,
			TotalDiscount: decimal.Zero,
		},
		TopProducts: []domain.ProductSales{},
	}

	byProduct := map[string]*domain.ProductSales{}
	seen := make([]string, 0, 16)
	for _, b := range bills {
		stats.Summary.TotalBills++
		stats.Summary.TotalRevenue = stats.Summary.TotalRevenue.Add(b.Total)
		stats.Summary.TotalTax = stats.Summary.TotalTax.Add(b.TaxAmount)
		stats.Summary.TotalDiscount = stats.Summary.TotalDiscount.Add(b.Discount)

		for _, item := range b.Items {
			entry, ok := byProduct[item.ProductID]
			if !ok {
				entry = &domain.ProductSales{
					ProductID:    item.ProductID,
					ProductName:  item.ProductName,
					TotalRevenue: decimal.Zero,
				}
				byProduct[item.ProductID] = entry
				seen = append(seen, item.ProductID)
			}
			entry.TotalQuantity += int64(item.Quantity)
			entry.TotalRevenue = entry.TotalRevenue.Add(item.Subtotal)
		}
	}

	if stats.Summary.TotalBills > 0 {
		stats.Summary.AverageBill = stats.Summary.TotalRevenue.
			DivRound(decimal.NewFromInt(stats.Summary.TotalBills), 4)
	}

	// Rank by summed revenue; the stable sort keeps equal-revenue
	// products in the order they first appeared in the ledger.
	ranked := make([]domain.ProductSales, 0, len(seen))
	for _, id := range seen {
		ranked = append(ranked, *byProduct[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalRevenue.GreaterThan(ranked[j].TotalRevenue)
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	stats.TopProducts = ranked

	return stats, nil
}

// DashboardStats builds the operational snapshot: today's and the
// current month's sales, a trailing 7-day revenue series, inventory
// valuation, and headcounts. The result is cached briefly; a cache
// failure degrades to recomputation, never to an error.
func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	if cached, ok, err := s.dashboards.Get(ctx, dashboardCacheKey); err != nil {
		log.Printf("[service] WARN: dashboard cache read failed: %v", err)
	} else if ok {
		return *cached, nil
	}

	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	weekStart := todayStart.AddDate(0, 0, -6)

	windowStart := monthStart
	if weekStart.Before(windowStart) {
		windowStart = weekStart
	}

	bills, err := s.repo.QueryBills(ctx, domain.BillFilter{Start: &windowStart})
	if err != nil {
		return domain.DashboardStats{}, err
	}

	stats := domain.DashboardStats{
		TodaySales:     domain.PeriodSales{Revenue: decimal.Zero},
		MonthlySales:   domain.PeriodSales{Revenue: decimal.Zero},
		InventoryValue: decimal.Zero,
	}

	daily := map[string]*domain.DaySales{}
	for i := 0; i < 7; i++ {
		day := weekStart.AddDate(0, 0, i)
		key := day.Format("2006-01-02")
		daily[key] = &domain.DaySales{Date: key, Revenue: decimal.Zero}
	}

	for _, b := range bills {
		if !b.CreatedAt.Before(todayStart) {
			stats.TodaySales.Revenue = stats.TodaySales.Revenue.Add(b.Total)
			stats.TodaySales.Count++
		}
		if !b.CreatedAt.Before(monthStart) {
			stats.MonthlySales.Revenue = stats.MonthlySales.Revenue.Add(b.Total)
			stats.MonthlySales.Count++
		}
		if entry, ok := daily[b.CreatedAt.Format("2006-01-02")]; ok {
			entry.Revenue = entry.Revenue.Add(b.Total)
			entry.Count++
		}
	}

	stats.DailySales = make([]domain.DaySales, 0, 7)
	for i := 0; i < 7; i++ {
		key := weekStart.AddDate(0, 0, i).Format("2006-01-02")
		stats.DailySales = append(stats.DailySales, *daily[key])
	}

	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	for _, p := range products {
		stats.TotalProducts++
		stats.InventoryValue = stats.InventoryValue.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Stock))))
		if p.Stock <= p.ReorderLevel {
			stats.LowStockCount++
		}
	}

	customers, err := s.repo.CountCustomers(ctx)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	stats.TotalCustomers = customers

	if err := s.dashboards.Set(ctx, dashboardCacheKey, &stats, s.dashboardTTL); err != nil {
		log.Printf("[service] WARN: dashboard cache write failed: %v", err)
	}

	return stats, nil
}
