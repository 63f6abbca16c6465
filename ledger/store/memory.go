// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/shop-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps and slices guarded by one RWMutex.
// Slices keep insertion order so equal timestamps still order stably.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	items     map[ledger.ItemID]ledger.CatalogItem
	customers map[ledger.CustomerID]ledger.Customer
	entries   []ledger.LedgerEntry
	sales     []ledger.Sale
	credit    []ledger.CreditLine
	layaways  []ledger.LayawaySale
	details   []ledger.LayawayDetail
	payments  []ledger.Abono
}

func newState() *state {
	return &state{
		items:     make(map[ledger.ItemID]ledger.CatalogItem),
		customers: make(map[ledger.CustomerID]ledger.Customer),
	}
}

func (s *state) clone() *state {
	c := &state{
		items:     make(map[ledger.ItemID]ledger.CatalogItem, len(s.items)),
		customers: make(map[ledger.CustomerID]ledger.Customer, len(s.customers)),
		entries:   append([]ledger.LedgerEntry(nil), s.entries...),
		sales:     append([]ledger.Sale(nil), s.sales...),
		credit:    append([]ledger.CreditLine(nil), s.credit...),
		layaways:  append([]ledger.LayawaySale(nil), s.layaways...),
		details:   append([]ledger.LayawayDetail(nil), s.details...),
		payments:  append([]ledger.Abono(nil), s.payments...),
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	return c
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are serial.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&view{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

func (m *Memory) read() *view {
	return &view{st: m.st}
}

// =============================================================================
// LOCKED ENTRY POINTS - Each call is its own transaction
// =============================================================================

func (m *Memory) InsertItem(ctx context.Context, item ledger.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertItem(ctx, item)
}

func (m *Memory) GetItem(ctx context.Context, id ledger.ItemID) (ledger.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetItem(ctx, id)
}

func (m *Memory) LockItem(ctx context.Context, id ledger.ItemID) (ledger.CatalogItem, error) {
	return m.GetItem(ctx, id)
}

func (m *Memory) UpdateItemDetails(ctx context.Context, item ledger.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateItemDetails(ctx, item)
}

func (m *Memory) AdjustStock(ctx context.Context, id ledger.ItemID, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AdjustStock(ctx, id, delta)
}

func (m *Memory) SetItemActive(ctx context.Context, id ledger.ItemID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SetItemActive(ctx, id, active)
}

func (m *Memory) ListItems(ctx context.Context, filter ledger.ItemFilter) ([]ledger.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListItems(ctx, filter)
}

func (m *Memory) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveCustomer(ctx, c)
}

func (m *Memory) GetCustomer(ctx context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetCustomer(ctx, id)
}

func (m *Memory) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListCustomers(ctx)
}

func (m *Memory) DeleteCustomer(ctx context.Context, id ledger.CustomerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().DeleteCustomer(ctx, id)
}

func (m *Memory) AppendEntry(ctx context.Context, e ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendEntry(ctx, e)
}

func (m *Memory) EntriesByItem(ctx context.Context, id ledger.ItemID) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().EntriesByItem(ctx, id)
}

func (m *Memory) QueryEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().QueryEntries(ctx, filter)
}

func (m *Memory) InsertSale(ctx context.Context, s ledger.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertSale(ctx, s)
}

func (m *Memory) GetSale(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetSale(ctx, id)
}

func (m *Memory) SetSaleStatus(ctx context.Context, id ledger.SaleID, from, to ledger.SaleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SetSaleStatus(ctx, id, from, to)
}

func (m *Memory) SalesInRange(ctx context.Context, from, to time.Time, status ledger.SaleStatus) ([]ledger.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().SalesInRange(ctx, from, to, status)
}

func (m *Memory) InsertCreditLine(ctx context.Context, l ledger.CreditLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertCreditLine(ctx, l)
}

func (m *Memory) CreditLines(ctx context.Context, customer ledger.CustomerID) ([]ledger.CreditLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CreditLines(ctx, customer)
}

func (m *Memory) DeleteCreditLines(ctx context.Context, customer ledger.CustomerID, ids []ledger.CreditLineID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().DeleteCreditLines(ctx, customer, ids)
}

func (m *Memory) InsertLayaway(ctx context.Context, s ledger.LayawaySale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertLayaway(ctx, s)
}

func (m *Memory) GetLayaway(ctx context.Context, id ledger.LayawayID) (ledger.LayawaySale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetLayaway(ctx, id)
}

func (m *Memory) LockLayaway(ctx context.Context, id ledger.LayawayID) (ledger.LayawaySale, error) {
	return m.GetLayaway(ctx, id)
}

func (m *Memory) UpdateLayaway(ctx context.Context, s ledger.LayawaySale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateLayaway(ctx, s)
}

func (m *Memory) ListLayaways(ctx context.Context, filter ledger.LayawayFilter) ([]ledger.LayawaySale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListLayaways(ctx, filter)
}

func (m *Memory) InsertLayawayDetail(ctx context.Context, d ledger.LayawayDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertLayawayDetail(ctx, d)
}

func (m *Memory) LayawayDetails(ctx context.Context, id ledger.LayawayID) ([]ledger.LayawayDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LayawayDetails(ctx, id)
}

func (m *Memory) InsertPayment(ctx context.Context, p ledger.Abono) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertPayment(ctx, p)
}

func (m *Memory) Payments(ctx context.Context, id ledger.LayawayID) ([]ledger.Abono, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Payments(ctx, id)
}

// =============================================================================
// VIEW - Unlocked access to the state; callers hold the lock
// =============================================================================

type view struct {
	st *state
}

func duplicate(kind, id string) error {
	return &ledger.InputError{Field: kind, Reason: fmt.Sprintf("%s %s already exists", kind, id)}
}

func (v *view) InsertItem(_ context.Context, item ledger.CatalogItem) error {
	if _, ok := v.st.items[item.ID]; ok {
		return duplicate("item", string(item.ID))
	}
	v.st.items[item.ID] = item
	return nil
}

func (v *view) GetItem(_ context.Context, id ledger.ItemID) (ledger.CatalogItem, error) {
	item, ok := v.st.items[id]
	if !ok {
		return ledger.CatalogItem{}, ledger.NotFound("item", string(id))
	}
	return item, nil
}

func (v *view) LockItem(ctx context.Context, id ledger.ItemID) (ledger.CatalogItem, error) {
	return v.GetItem(ctx, id)
}

func (v *view) UpdateItemDetails(_ context.Context, item ledger.CatalogItem) error {
	cur, ok := v.st.items[item.ID]
	if !ok {
		return ledger.NotFound("item", string(item.ID))
	}
	item.Quantity = cur.Quantity
	item.CreatedAt = cur.CreatedAt
	v.st.items[item.ID] = item
	return nil
}

func (v *view) AdjustStock(_ context.Context, id ledger.ItemID, delta int) (int, error) {
	item, ok := v.st.items[id]
	if !ok {
		return 0, ledger.NotFound("item", string(id))
	}
	if item.Quantity+delta < 0 {
		return item.Quantity, &ledger.InsufficientStockError{
			ItemID: id, ItemName: item.Name, Available: item.Quantity, Requested: -delta,
		}
	}
	item.Quantity += delta
	v.st.items[id] = item
	return item.Quantity, nil
}

func (v *view) SetItemActive(_ context.Context, id ledger.ItemID, active bool) error {
	item, ok := v.st.items[id]
	if !ok {
		return ledger.NotFound("item", string(id))
	}
	item.Active = active
	v.st.items[id] = item
	return nil
}

func (v *view) ListItems(_ context.Context, filter ledger.ItemFilter) ([]ledger.CatalogItem, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := []ledger.CatalogItem{}
	for _, item := range v.st.items {
		if !item.Active && !filter.IncludeInactive {
			continue
		}
		if filter.LowStockOnly && !item.IsLow() {
			continue
		}
		if filter.ExpiringBefore != nil && (item.Expiry == nil || !item.Expiry.Before(*filter.ExpiringBefore)) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Name), search) &&
			!strings.Contains(strings.ToLower(item.Category), search) {
			continue
		}
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (v *view) SaveCustomer(_ context.Context, c ledger.Customer) error {
	if cur, ok := v.st.customers[c.ID]; ok {
		c.CreatedAt = cur.CreatedAt
	}
	v.st.customers[c.ID] = c
	return nil
}

func (v *view) GetCustomer(_ context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	c, ok := v.st.customers[id]
	if !ok {
		return ledger.Customer{}, ledger.NotFound("customer", string(id))
	}
	return c, nil
}

func (v *view) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	result := make([]ledger.Customer, 0, len(v.st.customers))
	for _, c := range v.st.customers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (v *view) DeleteCustomer(_ context.Context, id ledger.CustomerID) error {
	if _, ok := v.st.customers[id]; !ok {
		return ledger.NotFound("customer", string(id))
	}
	delete(v.st.customers, id)
	return nil
}

func (v *view) AppendEntry(_ context.Context, e ledger.LedgerEntry) error {
	v.st.entries = append(v.st.entries, e)
	return nil
}

// newestFirst walks entries from the back so that rows sharing a
// timestamp come out in reverse insertion order.
func newestFirst(entries []ledger.LedgerEntry, keep func(ledger.LedgerEntry) bool) []ledger.LedgerEntry {
	result := []ledger.LedgerEntry{}
	for i := len(entries) - 1; i >= 0; i-- {
		if keep(entries[i]) {
			result = append(result, entries[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (v *view) EntriesByItem(_ context.Context, id ledger.ItemID) ([]ledger.LedgerEntry, error) {
	return newestFirst(v.st.entries, func(e ledger.LedgerEntry) bool {
		return e.ItemID == id
	}), nil
}

func (v *view) QueryEntries(_ context.Context, filter ledger.EntryFilter) ([]ledger.LedgerEntry, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := newestFirst(v.st.entries, func(e ledger.LedgerEntry) bool {
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			return false
		}
		if filter.To != nil && !e.CreatedAt.Before(*filter.To) {
			return false
		}
		if filter.Direction != "" && e.Direction != filter.Direction {
			return false
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.ItemSnapshot), search) &&
			!strings.Contains(strings.ToLower(e.Reason), search) {
			return false
		}
		return true
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (v *view) InsertSale(_ context.Context, s ledger.Sale) error {
	for _, cur := range v.st.sales {
		if cur.ID == s.ID {
			return duplicate("sale", string(s.ID))
		}
	}
	v.st.sales = append(v.st.sales, s)
	return nil
}

func (v *view) GetSale(_ context.Context, id ledger.SaleID) (ledger.Sale, error) {
	for _, s := range v.st.sales {
		if s.ID == id {
			return s, nil
		}
	}
	return ledger.Sale{}, ledger.NotFound("sale", string(id))
}

func (v *view) SetSaleStatus(_ context.Context, id ledger.SaleID, from, to ledger.SaleStatus) error {
	for i, s := range v.st.sales {
		if s.ID != id {
			continue
		}
		if s.Status != from {
			return fmt.Errorf("sale %s is %s, expected %s: %w", id, s.Status, from, ledger.ErrConcurrentModification)
		}
		v.st.sales[i].Status = to
		return nil
	}
	return ledger.NotFound("sale", string(id))
}

func (v *view) SalesInRange(_ context.Context, from, to time.Time, status ledger.SaleStatus) ([]ledger.Sale, error) {
	result := []ledger.Sale{}
	for _, s := range v.st.sales {
		if s.CreatedAt.Before(from) || !s.CreatedAt.Before(to) {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		result = append(result, s)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (v *view) InsertCreditLine(_ context.Context, l ledger.CreditLine) error {
	v.st.credit = append(v.st.credit, l)
	return nil
}

func (v *view) CreditLines(_ context.Context, customer ledger.CustomerID) ([]ledger.CreditLine, error) {
	result := []ledger.CreditLine{}
	for _, l := range v.st.credit {
		if l.CustomerID == customer {
			result = append(result, l)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (v *view) DeleteCreditLines(_ context.Context, customer ledger.CustomerID, ids []ledger.CreditLineID) (int, error) {
	drop := make(map[ledger.CreditLineID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := v.st.credit[:0:0]
	removed := 0
	for _, l := range v.st.credit {
		if l.CustomerID == customer && drop[l.ID] {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	v.st.credit = kept
	return removed, nil
}

func (v *view) InsertLayaway(_ context.Context, s ledger.LayawaySale) error {
	for _, cur := range v.st.layaways {
		if cur.ID == s.ID {
			return duplicate("layaway", string(s.ID))
		}
	}
	v.st.layaways = append(v.st.layaways, s)
	return nil
}

func (v *view) GetLayaway(_ context.Context, id ledger.LayawayID) (ledger.LayawaySale, error) {
	for _, s := range v.st.layaways {
		if s.ID == id {
			return s, nil
		}
	}
	return ledger.LayawaySale{}, ledger.NotFound("layaway", string(id))
}

func (v *view) LockLayaway(ctx context.Context, id ledger.LayawayID) (ledger.LayawaySale, error) {
	return v.GetLayaway(ctx, id)
}

func (v *view) UpdateLayaway(_ context.Context, s ledger.LayawaySale) error {
	for i, cur := range v.st.layaways {
		if cur.ID != s.ID {
			continue
		}
		v.st.layaways[i].Paid = s.Paid
		v.st.layaways[i].Status = s.Status
		v.st.layaways[i].UpdatedAt = s.UpdatedAt
		return nil
	}
	return ledger.NotFound("layaway", string(s.ID))
}

func (v *view) ListLayaways(_ context.Context, filter ledger.LayawayFilter) ([]ledger.LayawaySale, error) {
	result := []ledger.LayawaySale{}
	for i := len(v.st.layaways) - 1; i >= 0; i-- {
		s := v.st.layaways[i]
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.CustomerID != nil && (s.CustomerID == nil || *s.CustomerID != *filter.CustomerID) {
			continue
		}
		result = append(result, s)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (v *view) InsertLayawayDetail(_ context.Context, d ledger.LayawayDetail) error {
	v.st.details = append(v.st.details, d)
	return nil
}

func (v *view) LayawayDetails(_ context.Context, id ledger.LayawayID) ([]ledger.LayawayDetail, error) {
	result := []ledger.LayawayDetail{}
	for _, d := range v.st.details {
		if d.SaleID == id {
			result = append(result, d)
		}
	}
	return result, nil
}

func (v *view) InsertPayment(_ context.Context, p ledger.Abono) error {
	v.st.payments = append(v.st.payments, p)
	return nil
}

func (v *view) Payments(_ context.Context, id ledger.LayawayID) ([]ledger.Abono, error) {
	result := []ledger.Abono{}
	for _, p := range v.st.payments {
		if p.SaleID == id {
			result = append(result, p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

var (
	_ ledger.TxStore = (*Memory)(nil)
	_ ledger.Store   = (*view)(nil)
)
