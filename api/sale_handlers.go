package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/shop-engine/layaway"
	"github.com/warp/shop-engine/ledger"
)

// =============================================================================
// SALES ENDPOINTS
// =============================================================================

// CreateSale sells a cart, one sale row per unit.
// POST /api/sales
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if !decode(w, r, &req) {
		return
	}
	sold, err := h.Sales.CreateSale(r.Context(), toCart(req.Lines), req.CustomerID, actorFrom(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, "Sale rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, sold)
}

// ListSales returns approved sales in [from, to). Without parameters it
// covers today; with only from it covers that day.
// GET /api/sales
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
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
	if from == nil {
		today := h.Now().Truncate(24 * time.Hour)
		from = &today
	}
	if to == nil {
		end := from.AddDate(0, 0, 1)
		to = &end
	}

	found, err := h.Sales.QueryByDateRange(r.Context(), *from, *to)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list sales", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(found))
}

// SalesStats aggregates one day of approved sales (?date, default today).
// GET /api/sales/stats
func (h *Handler) SalesStats(w http.ResponseWriter, r *http.Request) {
	date, err := timeParam(r.URL.Query(), "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	if date == nil {
		now := h.Now()
		date = &now
	}
	stats, err := h.Sales.StatsByDate(r.Context(), *date)
	if err != nil {
		h.writeEngineError(w, r, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetSale returns one sale row.
// GET /api/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Sales.Get(r.Context(), ledger.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Sale not available", err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// CancelSale voids a sale and restores its unit.
// POST /api/sales/{id}/cancel
func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Sales.CancelSale(r.Context(), ledger.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Cancellation rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// =============================================================================
// LAYAWAY ENDPOINTS
// =============================================================================

// Checkout sells a cart in full or as a layaway.
// POST /api/layaways
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := h.Layaway.Checkout(r.Context(), layaway.CheckoutRequest{
		Lines:          toCart(req.Lines),
		CustomerID:     req.CustomerID,
		Total:          req.Total,
		InitialPayment: req.InitialPayment,
	}, actorFrom(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, "Checkout rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// ListLayaways lists headers, newest first (?status&customer_id).
// GET /api/layaways
func (h *Handler) ListLayaways(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.LayawayFilter{Status: ledger.LayawayStatus(q.Get("status"))}
	if v := q.Get("customer_id"); v != "" {
		id := ledger.CustomerID(v)
		filter.CustomerID = &id
	}
	list, err := h.Layaway.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list layaways", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

// GetLayaway returns a header with its detail rows.
// GET /api/layaways/{id}
func (h *Handler) GetLayaway(w http.ResponseWriter, r *http.Request) {
	view, err := h.Layaway.Detail(r.Context(), ledger.LayawayID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Layaway not available", err)
		return
	}
	view.Details = orEmpty(view.Details)
	writeJSON(w, http.StatusOK, view)
}

// ListPayments returns a layaway's installments, oldest first.
// GET /api/layaways/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Layaway.Payments(r.Context(), ledger.LayawayID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(payments))
}

// AddPayment records one installment.
// POST /api/layaways/{id}/payments
func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.Layaway.AddPayment(r.Context(), ledger.LayawayID(chi.URLParam(r, "id")), req.Amount, actorFrom(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, "Payment rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// CancelLayaway cancels a layaway and restores every unit.
// POST /api/layaways/{id}/cancel
func (h *Handler) CancelLayaway(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Layaway.CancelSale(r.Context(), ledger.LayawayID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Cancellation rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}
