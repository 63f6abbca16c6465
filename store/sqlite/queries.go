package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/warp/shop-engine/ledger"
)

// queries runs every statement against either the pool or an open
// transaction. Inside WithTx it is bound to the *sqlx.Tx.
type queries struct {
	q sqlx.ExtContext
}

const (
	itemColumns = `id, name, category, unit, quantity, min_quantity, unit_price, discount,
		expiry, active, created_at, updated_at`
	entryColumns = `id, item_id, item_snapshot, direction, quantity, reason,
		user_id, user_snapshot, created_at`
	saleColumns = `id, item_id, customer_id, item_snapshot, customer_snapshot,
		seller_id, seller_snapshot, price, status, origin, created_at`
	creditColumns  = `id, customer_id, item_id, item_snapshot, price, created_at`
	layawayColumns = `id, customer_id, customer_snapshot, seller_id, seller_snapshot,
		total, paid, status, created_at, updated_at`
	detailColumns = `id, sale_id, item_id, title_snapshot, unit_price,
		discount_applied, final_price`
	paymentColumns = `id, sale_id, amount, user_id, user_snapshot, created_at`
)

// =============================================================================
// CATALOG
// =============================================================================

func (q queries) InsertItem(ctx context.Context, item ledger.CatalogItem) error {
	var expiry *time.Time
	if item.Expiry != nil {
		t := utc(*item.Expiry)
		expiry = &t
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Category, item.Unit, item.Quantity, item.MinQuantity,
		item.UnitPrice, item.Discount, expiry, item.Active,
		utc(item.CreatedAt), utc(item.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.InputError{Field: "item", Reason: fmt.Sprintf("item %s already exists", item.ID)}
		}
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (q queries) GetItem(ctx context.Context, id ledger.ItemID) (ledger.CatalogItem, error) {
	var item ledger.CatalogItem
	err := sqlx.GetContext(ctx, q.q, &item, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return item, ledger.NotFound("item", string(id))
	}
	if err != nil {
		return item, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// LockItem is a plain read: the enclosing transaction began IMMEDIATE and
// already holds the write lock.
func (q queries) LockItem(ctx context.Context, id ledger.ItemID) (ledger.CatalogItem, error) {
	return q.GetItem(ctx, id)
}

func (q queries) UpdateItemDetails(ctx context.Context, item ledger.CatalogItem) error {
	var expiry *time.Time
	if item.Expiry != nil {
		t := utc(*item.Expiry)
		expiry = &t
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE items
		SET name = ?, category = ?, unit = ?, min_quantity = ?, unit_price = ?,
		    discount = ?, expiry = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		item.Name, item.Category, item.Unit, item.MinQuantity, item.UnitPrice,
		item.Discount, expiry, item.Active, utc(item.UpdatedAt), item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return requireRow(res, "item", string(item.ID))
}

// AdjustStock is a guarded compare-and-set: the WHERE clause refuses any
// delta that would take the quantity below zero.
func (q queries) AdjustStock(ctx context.Context, id ledger.ItemID, delta int) (int, error) {
	var qty int
	err := sqlx.GetContext(ctx, q.q, &qty, `
		UPDATE items
		SET quantity = quantity + ?
		WHERE id = ? AND quantity + ? >= 0
		RETURNING quantity`,
		delta, id, delta,
	)
	if err == nil {
		return qty, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to adjust stock: %w", err)
	}

	item, getErr := q.GetItem(ctx, id)
	if getErr != nil {
		return 0, getErr
	}
	return item.Quantity, &ledger.InsufficientStockError{
		ItemID:    id,
		ItemName:  item.Name,
		Available: item.Quantity,
		Requested: -delta,
	}
}

func (q queries) SetItemActive(ctx context.Context, id ledger.ItemID, active bool) error {
	res, err := q.q.ExecContext(ctx, `UPDATE items SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to set item active: %w", err)
	}
	return requireRow(res, "item", string(id))
}

func (q queries) ListItems(ctx context.Context, filter ledger.ItemFilter) ([]ledger.CatalogItem, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeInactive {
		where = append(where, "active = 1")
	}
	if filter.LowStockOnly {
		where = append(where, "quantity <= min_quantity")
	}
	if filter.ExpiringBefore != nil {
		where = append(where, "expiry IS NOT NULL AND expiry < ?")
		args = append(args, utc(*filter.ExpiringBefore))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(category) LIKE ?)")
		like := "%" + strings.ToLower(s) + "%"
		args = append(args, like, like)
	}

	query := `SELECT ` + itemColumns + ` FROM items` + whereClause(where) + ` ORDER BY name, id`
	items := []ledger.CatalogItem{}
	if err := sqlx.SelectContext(ctx, q.q, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (q queries) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone`,
		c.ID, c.Name, c.Phone, utc(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (q queries) GetCustomer(ctx context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	var c ledger.Customer
	err := sqlx.GetContext(ctx, q.q, &c, `SELECT id, name, phone, created_at FROM customers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ledger.NotFound("customer", string(id))
	}
	if err != nil {
		return c, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

func (q queries) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	customers := []ledger.Customer{}
	err := sqlx.SelectContext(ctx, q.q, &customers,
		`SELECT id, name, phone, created_at FROM customers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}

func (q queries) DeleteCustomer(ctx context.Context, id ledger.CustomerID) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return requireRow(res, "customer", string(id))
}

// =============================================================================
// STOCK LEDGER
// =============================================================================

func (q queries) AppendEntry(ctx context.Context, e ledger.LedgerEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO stock_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ItemID, e.ItemSnapshot, e.Direction, e.Quantity, e.Reason,
		e.UserID, e.UserSnapshot, utc(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append stock entry: %w", err)
	}
	return nil
}

func (q queries) EntriesByItem(ctx context.Context, id ledger.ItemID) ([]ledger.LedgerEntry, error) {
	entries := []ledger.LedgerEntry{}
	err := sqlx.SelectContext(ctx, q.q, &entries, `
		SELECT `+entryColumns+` FROM stock_entries
		WHERE item_id = ?
		ORDER BY created_at DESC, rowid DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock entries: %w", err)
	}
	return entries, nil
}

func (q queries) QueryEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, utc(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, utc(*filter.To))
	}
	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, filter.Direction)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		where = append(where, "(LOWER(item_snapshot) LIKE ? OR LOWER(reason) LIKE ?)")
		like := "%" + strings.ToLower(s) + "%"
		args = append(args, like, like)
	}

	query := `SELECT ` + entryColumns + ` FROM stock_entries` + whereClause(where) +
		` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	entries := []ledger.LedgerEntry{}
	if err := sqlx.SelectContext(ctx, q.q, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query stock entries: %w", err)
	}
	return entries, nil
}

// =============================================================================
// SALES
// =============================================================================

func (q queries) InsertSale(ctx context.Context, s ledger.Sale) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ItemID, s.CustomerID, s.ItemSnapshot, s.CustomerSnapshot,
		s.SellerID, s.SellerSnapshot, s.Price, s.Status, s.Origin, utc(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

func (q queries) GetSale(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	var s ledger.Sale
	err := sqlx.GetContext(ctx, q.q, &s, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ledger.NotFound("sale", string(id))
	}
	if err != nil {
		return s, fmt.Errorf("failed to get sale: %w", err)
	}
	return s, nil
}

func (q queries) SetSaleStatus(ctx context.Context, id ledger.SaleID, from, to ledger.SaleStatus) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE sales SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := q.GetSale(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("sale %s is no longer %s: %w", id, from, ledger.ErrConcurrentModification)
}

func (q queries) SalesInRange(ctx context.Context, from, to time.Time, status ledger.SaleStatus) ([]ledger.Sale, error) {
	where := []string{"created_at >= ?", "created_at < ?"}
	args := []any{utc(from), utc(to)}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}

	sales := []ledger.Sale{}
	err := sqlx.SelectContext(ctx, q.q, &sales,
		`SELECT `+saleColumns+` FROM sales`+whereClause(where)+` ORDER BY created_at, rowid`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	return sales, nil
}

// =============================================================================
// CREDIT
// =============================================================================

func (q queries) InsertCreditLine(ctx context.Context, l ledger.CreditLine) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO credit_lines (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.CustomerID, l.ItemID, l.ItemSnapshot, l.Price, utc(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit line: %w", err)
	}
	return nil
}

func (q queries) CreditLines(ctx context.Context, customer ledger.CustomerID) ([]ledger.CreditLine, error) {
	lines := []ledger.CreditLine{}
	err := sqlx.SelectContext(ctx, q.q, &lines, `
		SELECT `+creditColumns+` FROM credit_lines
		WHERE customer_id = ?
		ORDER BY created_at, rowid`, customer)
	if err != nil {
		return nil, fmt.Errorf("failed to load credit lines: %w", err)
	}
	return lines, nil
}

func (q queries) DeleteCreditLines(ctx context.Context, customer ledger.CustomerID, ids []ledger.CreditLineID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM credit_lines WHERE customer_id = ? AND id IN (?)`, customer, ids)
	if err != nil {
		return 0, err
	}
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete credit lines: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// LAYAWAY
// =============================================================================

func (q queries) InsertLayaway(ctx context.Context, l ledger.LayawaySale) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO layaways (`+layawayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CustomerID, l.CustomerSnapshot, l.SellerID, l.SellerSnapshot,
		l.Total, l.Paid, l.Status, utc(l.CreatedAt), utc(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert layaway: %w", err)
	}
	return nil
}

func (q queries) GetLayaway(ctx context.Context, id ledger.LayawayID) (ledger.LayawaySale, error) {
	var l ledger.LayawaySale
	err := sqlx.GetContext(ctx, q.q, &l, `SELECT `+layawayColumns+` FROM layaways WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ledger.NotFound("layaway", string(id))
	}
	if err != nil {
		return l, fmt.Errorf("failed to get layaway: %w", err)
	}
	return l, nil
}

func (q queries) LockLayaway(ctx context.Context, id ledger.LayawayID) (ledger.LayawaySale, error) {
	return q.GetLayaway(ctx, id)
}

func (q queries) UpdateLayaway(ctx context.Context, l ledger.LayawaySale) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE layaways SET paid = ?, status = ?, updated_at = ? WHERE id = ?`,
		l.Paid, l.Status, utc(l.UpdatedAt), l.ID)
	if err != nil {
		return fmt.Errorf("failed to update layaway: %w", err)
	}
	return requireRow(res, "layaway", string(l.ID))
}

func (q queries) ListLayaways(ctx context.Context, filter ledger.LayawayFilter) ([]ledger.LayawaySale, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CustomerID != nil {
		where = append(where, "customer_id = ?")
		args = append(args, *filter.CustomerID)
	}

	layaways := []ledger.LayawaySale{}
	err := sqlx.SelectContext(ctx, q.q, &layaways,
		`SELECT `+layawayColumns+` FROM layaways`+whereClause(where)+` ORDER BY created_at DESC, rowid DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list layaways: %w", err)
	}
	return layaways, nil
}

func (q queries) InsertLayawayDetail(ctx context.Context, d ledger.LayawayDetail) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO layaway_details (`+detailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SaleID, d.ItemID, d.TitleSnapshot, d.UnitPrice, d.DiscountApplied, d.FinalPrice,
	)
	if err != nil {
		return fmt.Errorf("failed to insert layaway detail: %w", err)
	}
	return nil
}

func (q queries) LayawayDetails(ctx context.Context, id ledger.LayawayID) ([]ledger.LayawayDetail, error) {
	details := []ledger.LayawayDetail{}
	err := sqlx.SelectContext(ctx, q.q, &details,
		`SELECT `+detailColumns+` FROM layaway_details WHERE sale_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load layaway details: %w", err)
	}
	return details, nil
}

func (q queries) InsertPayment(ctx context.Context, p ledger.Abono) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO layaway_payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.SaleID, p.Amount, p.UserID, p.UserSnapshot, utc(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (q queries) Payments(ctx context.Context, id ledger.LayawayID) ([]ledger.Abono, error) {
	payments := []ledger.Abono{}
	err := sqlx.SelectContext(ctx, q.q, &payments, `
		SELECT `+paymentColumns+` FROM layaway_payments
		WHERE sale_id = ?
		ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	return payments, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound(kind, id)
	}
	return nil
}

var _ ledger.Store = queries{}
