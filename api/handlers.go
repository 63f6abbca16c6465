/*
handlers.go - HTTP API handlers for the inventory and ledger engines

PURPOSE:
  Exposes the four engines via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every business rule to an engine.

ENDPOINTS:
  Catalog:
    GET    /api/items                  List items (?include_inactive&low_stock&q)
    POST   /api/items                  Create item (optional initial stock)
    GET    /api/items/expiring         Items expiring within ?days (default 7)
    GET    /api/items/{id}             Get item
    PATCH  /api/items/{id}             Edit metadata (never quantity)
    DELETE /api/items/{id}             Deactivate
    GET    /api/items/{id}/movements   Kardex, newest first
    POST   /api/items/{id}/movements   Record IN/OUT movement

  Movements:
    GET    /api/movements              Global history (?from&to&direction&q&limit)
    POST   /api/withdrawals            Bulk withdrawal, all or nothing

  Customers and credit:
    GET    /api/customers              List customers
    POST   /api/customers              Register customer
    GET    /api/customers/{id}         Get customer
    DELETE /api/customers/{id}         Remove (refused while the account is open)
    GET    /api/customers/{id}/credit  Open lines and outstanding balance
    POST   /api/customers/{id}/credit  Charge a cart to the account
    POST   /api/customers/{id}/settle  Settle the account

  Sales and layaways: see sale_handlers.go

ARCHITECTURE:
  Handler holds the engines and the store they share. Handlers parse and
  validate the request shape, call one engine operation and serialize
  its result. Each engine operation is its own transaction.

ERROR HANDLING:
  See errors.go. Engine errors map to 404/409/422; bad bodies and query
  strings to 400; everything else to 500 without details.

SEE ALSO:
  - dto.go: Request bodies
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/shop-engine/credit"
	"github.com/warp/shop-engine/layaway"
	"github.com/warp/shop-engine/ledger"
	"github.com/warp/shop-engine/pantry"
	"github.com/warp/shop-engine/sales"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API runs on. Reset backs the demo
// scenarios.
type Store interface {
	ledger.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Pantry  *pantry.Engine
	Sales   *sales.Engine
	Credit  *credit.Engine
	Layaway *layaway.Engine
	Log     logrus.FieldLogger
	Now     func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engines over store. A nil log discards output.
func NewHandler(store Store, log logrus.FieldLogger, opts ...ledger.Option) *Handler {
	if log != nil {
		opts = append([]ledger.Option{ledger.WithLogger(log)}, opts...)
	}
	o := ledger.BuildOptions(opts...)
	return &Handler{
		Store:   store,
		Pantry:  pantry.New(store, opts...),
		Sales:   sales.New(store, opts...),
		Credit:  credit.New(store, opts...),
		Layaway: layaway.New(store, opts...),
		Log:     o.Log.WithField("module", "api"),
		Now:     o.Now,
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListItems returns the catalog.
// GET /api/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeInactive, err := boolParam(q, "include_inactive")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	lowOnly, err := boolParam(q, "low_stock")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	items, err := h.Pantry.ListItems(r.Context(), ledger.ItemFilter{
		IncludeInactive: includeInactive,
		LowStockOnly:    lowOnly,
		Search:          strings.TrimSpace(q.Get("q")),
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to list items", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(items))
}

// CreateItem adds a catalog item.
// POST /api/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.Pantry.CreateItem(r.Context(), req.toNewItem(), actorFrom(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, "Failed to create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// ExpiringItems lists items whose expiry falls within ?days.
// GET /api/items/expiring
func (h *Handler) ExpiringItems(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid query", fmt.Errorf("%w: days %q", errBadRequest, v))
			return
		}
		days = n
	}
	items, err := h.Pantry.Expiring(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list expiring items", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(items))
}

// GetItem returns one item.
// GET /api/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Pantry.Get(r.Context(), ledger.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Item not available", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateItem edits item metadata.
// PATCH /api/items/{id}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.Pantry.UpdateItem(r.Context(), ledger.ItemID(chi.URLParam(r, "id")), req.toUpdate())
	if err != nil {
		h.writeEngineError(w, r, "Failed to update item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeactivateItem soft-deletes an item.
// DELETE /api/items/{id}
func (h *Handler) DeactivateItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Pantry.Deactivate(r.Context(), ledger.ItemID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, r, "Failed to deactivate item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ItemHistory returns one item's kardex.
// GET /api/items/{id}/movements
func (h *Handler) ItemHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Pantry.History(r.Context(), ledger.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get history", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(entries))
}

// RecordMovement records one IN or OUT movement.
// POST /api/items/{id}/movements
func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.Pantry.RecordMovement(r.Context(), ledger.ItemID(chi.URLParam(r, "id")),
		req.Direction, req.Quantity, req.Reason, actorFrom(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, "Movement rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// GlobalHistory returns movements across all items.
// GET /api/movements
func (h *Handler) GlobalHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := timeParam(q, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	to, err := timeParam(q, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid query", fmt.Errorf("%w: limit %q", errBadRequest, v))
			return
		}
	}

	entries, err := h.Pantry.GlobalHistory(r.Context(), ledger.EntryFilter{
		From:      from,
		To:        to,
		Direction: ledger.Direction(strings.ToUpper(q.Get("direction"))),
		Search:    strings.TrimSpace(q.Get("q")),
		Limit:     limit,
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to get movements", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(entries))
}

// BulkWithdrawal takes several items out in one transaction.
// POST /api/withdrawals
func (h *Handler) BulkWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	entries, err := h.Pantry.RecordBulkWithdrawal(r.Context(), req.toWithdrawals(), req.Reason, actorFrom(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, "Withdrawal rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, entries)
}

// =============================================================================
// CUSTOMER AND CREDIT HANDLERS
// =============================================================================

// ListCustomers returns the customer directory.
// GET /api/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Credit.Customers(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list customers", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(customers))
}

// CreateCustomer registers a customer.
// POST /api/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Credit.RegisterCustomer(r.Context(), req.Name, req.Phone)
	if err != nil {
		h.writeEngineError(w, r, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCustomer returns one customer.
// GET /api/customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Credit.Customer(r.Context(), ledger.CustomerID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Customer not available", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteCustomer removes a customer who owes nothing.
// DELETE /api/customers/{id}
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.Credit.RemoveCustomer(r.Context(), ledger.CustomerID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, r, "Failed to delete customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCredit returns the open account of a customer.
// GET /api/customers/{id}/credit
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	c, err := h.Credit.Customer(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, "Customer not available", err)
		return
	}
	lines, err := h.Credit.Lines(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get credit lines", err)
		return
	}
	writeJSON(w, http.StatusOK, CreditResponse{
		Customer:    c,
		Lines:       orEmpty(lines),
		Outstanding: ledger.Sum(linePrices(lines)...),
	})
}

// Charge puts a cart on a customer's account.
// POST /api/customers/{id}/credit
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if !decode(w, r, &req) {
		return
	}
	lines, err := h.Credit.Charge(r.Context(), ledger.CustomerID(chi.URLParam(r, "id")), toCart(req.Lines))
	if err != nil {
		h.writeEngineError(w, r, "Charge rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, lines)
}

// Settle converts the open account into sales.
// POST /api/customers/{id}/settle
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))
	result, err := h.Credit.Settle(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, "Settlement failed", err)
		return
	}
	if result.Settled == 0 {
		writeError(w, http.StatusConflict, "Nothing to settle", fmt.Errorf("customer %s: %w", id, ledger.ErrAlreadySettled))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// HELPERS
// =============================================================================

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func boolParam(q url.Values, key string) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s %q is not a boolean", errBadRequest, key, v)
	}
	return b, nil
}

// timeParam accepts RFC 3339 timestamps or plain dates (UTC midnight).
func timeParam(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q is not a date", errBadRequest, key, v)
}

func linePrices(lines []ledger.CreditLine) []decimal.Decimal {
	out := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		out[i] = l.Price
	}
	return out
}
