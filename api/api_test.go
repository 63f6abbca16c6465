package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shop-engine/api"
	"github.com/warp/shop-engine/layaway"
	"github.com/warp/shop-engine/ledger"
	"github.com/warp/shop-engine/ledger/store"
	"github.com/warp/shop-engine/store/sqlite"
)

type client struct {
	t      *testing.T
	router *chi.Mux
}

func newClient(t *testing.T, s api.Store) *client {
	h := api.NewHandler(s, nil)
	return &client{t: t, router: api.NewRouter(h, []string{"http://localhost:5173"})}
}

func newSQLiteClient(t *testing.T) *client {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newClient(t, s)
}

// do sends body as JSON. A non-empty actor sets X-Actor-ID.
func (c *client) do(method, path string, body any, actor string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
		req.Header.Set("X-Actor-Name", "Clerk "+actor)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (c *client) createItem(name string, qty int, price string) ledger.CatalogItem {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/items", map[string]any{
		"name": name, "initial_quantity": qty, "unit_price": price,
	}, "u-1")
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ledger.CatalogItem](c.t, rec)
}

func (c *client) createCustomer(name string) ledger.Customer {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/customers", map[string]any{"name": name}, "")
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ledger.Customer](c.t, rec)
}

func TestHealthz(t *testing.T) {
	c := newClient(t, store.NewMemory())
	rec := c.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActorHeaderRequired(t *testing.T) {
	c := newClient(t, store.NewMemory())
	rec := c.do(http.MethodPost, "/api/items", map[string]any{"name": "Rice"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-Actor-ID")
}

func TestValidationErrorsListFields(t *testing.T) {
	c := newClient(t, store.NewMemory())
	rec := c.do(http.MethodPost, "/api/items", map[string]any{"initial_quantity": -2}, "u-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[api.ErrorResponse](t, rec)
	assert.Equal(t, "Validation failed", resp.Error)
	assert.Contains(t, resp.Fields, "CreateItemRequest.Name")
	assert.Contains(t, resp.Fields, "CreateItemRequest.InitialQuantity")

	rec = c.do(http.MethodPost, "/api/items", map[string]any{"name": "Rice", "colour": "white"}, "u-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestMovements_StatusMapping(t *testing.T) {
	// GIVEN: Rice with 10 on hand
	// WHEN: Withdrawing 12, then 4, then from an unknown item
	// THEN: 409 naming both quantities, 201, then 404

	c := newSQLiteClient(t)
	rice := c.createItem("Rice", 10, "1.20")

	rec := c.do(http.MethodPost, "/api/items/"+string(rice.ID)+"/movements",
		map[string]any{"direction": "OUT", "quantity": 12, "reason": "family box"}, "u-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "available 10, requested 12")

	rec = c.do(http.MethodPost, "/api/items/"+string(rice.ID)+"/movements",
		map[string]any{"direction": "OUT", "quantity": 4, "reason": "family box"}, "u-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decodeBody[ledger.LedgerEntry](t, rec)
	assert.Equal(t, "Clerk u-1", entry.UserSnapshot)

	rec = c.do(http.MethodPost, "/api/items/ghost/movements",
		map[string]any{"direction": "IN", "quantity": 1, "reason": "restock"}, "u-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodGet, "/api/items/"+string(rice.ID)+"/movements", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]ledger.LedgerEntry](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, ledger.DirectionOut, history[0].Direction, "newest first")

	rec = c.do(http.MethodGet, "/api/movements?direction=out", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ledger.LedgerEntry](t, rec), 1)

	rec = c.do(http.MethodGet, "/api/movements?from=yesterday", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkWithdrawal_AllOrNothing(t *testing.T) {
	c := newClient(t, store.NewMemory())
	rice := c.createItem("Rice", 10, "1")
	oil := c.createItem("Oil", 1, "3")

	rec := c.do(http.MethodPost, "/api/withdrawals", map[string]any{
		"reason": "care package",
		"lines": []map[string]any{
			{"item_id": rice.ID, "quantity": 2},
			{"item_id": oil.ID, "quantity": 2},
		},
	}, "u-1")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodGet, "/api/items/"+string(rice.ID), nil, "")
	assert.Equal(t, 10, decodeBody[ledger.CatalogItem](t, rec).Quantity)
}

func TestSales_CancelTwice(t *testing.T) {
	c := newSQLiteClient(t)
	bread := c.createItem("Bread", 3, "0.80")

	rec := c.do(http.MethodPost, "/api/sales", map[string]any{
		"lines": []map[string]any{{"item_id": bread.ID, "quantity": 2}},
	}, "u-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sold := decodeBody[[]ledger.Sale](t, rec)
	require.Len(t, sold, 2)
	assert.Equal(t, ledger.WalkInCustomer, sold[0].CustomerSnapshot)

	path := "/api/sales/" + string(sold[0].ID) + "/cancel"
	assert.Equal(t, http.StatusOK, c.do(http.MethodPost, path, nil, "").Code)
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, path, nil, "").Code)

	rec = c.do(http.MethodGet, "/api/items/"+string(bread.ID), nil, "")
	assert.Equal(t, 2, decodeBody[ledger.CatalogItem](t, rec).Quantity)

	rec = c.do(http.MethodGet, "/api/sales/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[struct {
		Count int             `json:"count"`
		Total decimal.Decimal `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, stats.Count)
	assert.True(t, stats.Total.Equal(decimal.RequireFromString("0.8")))

	rec = c.do(http.MethodGet, "/api/sales", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ledger.Sale](t, rec), 1)
}

func TestLayaway_Flow(t *testing.T) {
	// GIVEN: A book at 100 with 10% off and a customer
	// WHEN: Checking out 2 with 50 down, without and then with the customer
	// THEN: 422 CustomerRequired, then PENDING; paying 130 liquidates it

	c := newSQLiteClient(t)
	rec := c.do(http.MethodPost, "/api/items", map[string]any{
		"name": "Pedro Paramo", "initial_quantity": 5, "unit_price": "100", "discount": 10,
	}, "u-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	book := decodeBody[ledger.CatalogItem](t, rec)
	rosa := c.createCustomer("Rosa")

	cart := []map[string]any{{"item_id": book.ID, "quantity": 2}}
	rec = c.do(http.MethodPost, "/api/layaways", map[string]any{
		"lines": cart, "total": 180, "initial_payment": 50,
	}, "u-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = c.do(http.MethodPost, "/api/layaways", map[string]any{
		"lines": cart, "total": 180, "initial_payment": 50, "customer_id": rosa.ID,
	}, "u-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decodeBody[layaway.Receipt](t, rec)
	assert.True(t, receipt.IsLayaway)
	assert.Equal(t, ledger.LayawayPending, receipt.Sale.Status)

	payPath := "/api/layaways/" + string(receipt.Sale.ID) + "/payments"
	rec = c.do(http.MethodPost, payPath, map[string]any{"amount": "200"}, "u-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "overpayment")

	rec = c.do(http.MethodPost, payPath, map[string]any{"amount": "130"}, "u-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[layaway.PaymentResult](t, rec).Liquidated)

	rec = c.do(http.MethodPost, payPath, map[string]any{"amount": "1"}, "u-1")
	assert.Equal(t, http.StatusConflict, rec.Code, "already paid")

	rec = c.do(http.MethodGet, payPath, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ledger.Abono](t, rec), 1)

	rec = c.do(http.MethodGet, "/api/layaways?status=PAID", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ledger.LayawaySale](t, rec), 1)
}

func TestCredit_SettleAndDeleteGate(t *testing.T) {
	c := newClient(t, store.NewMemory())
	bread := c.createItem("Bread", 10, "0.80")
	lucia := c.createCustomer("Lucia")
	base := "/api/customers/" + string(lucia.ID)

	rec := c.do(http.MethodPost, base+"/settle", nil, "u-2")
	assert.Equal(t, http.StatusConflict, rec.Code, "nothing owed")

	rec = c.do(http.MethodPost, base+"/credit", map[string]any{
		"lines": []map[string]any{{"item_id": bread.ID, "quantity": 3}},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, base+"/credit", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	account := decodeBody[api.CreditResponse](t, rec)
	assert.Len(t, account.Lines, 3)
	assert.True(t, account.Outstanding.Equal(decimal.RequireFromString("2.4")))

	assert.Equal(t, http.StatusConflict, c.do(http.MethodDelete, base, nil, "").Code)

	rec = c.do(http.MethodPost, base+"/settle", nil, "u-2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, base, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, base, nil, "").Code)
}

func TestScenarios_LoadEach(t *testing.T) {
	for _, id := range []string{"pantry", "bookstore", "credit"} {
		t.Run(id, func(t *testing.T) {
			c := newSQLiteClient(t)
			rec := c.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": id}, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = c.do(http.MethodGet, "/api/scenarios/current", nil, "")
			assert.Equal(t, id, decodeBody[api.ScenarioDTO](t, rec).ID)

			rec = c.do(http.MethodGet, "/api/items", nil, "")
			assert.NotEmpty(t, decodeBody[[]ledger.CatalogItem](t, rec))

			// loading twice starts from a clean database
			rec = c.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": id}, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		})
	}
}

func TestScenarios_PantryLeavesAlerts(t *testing.T) {
	c := newClient(t, store.NewMemory())
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "pantry"}, "").Code)

	rec := c.do(http.MethodGet, "/api/items?low_stock=true", nil, "")
	low := decodeBody[[]ledger.CatalogItem](t, rec)
	require.Len(t, low, 1)
	assert.Equal(t, "Canned tuna", low[0].Name)

	rec = c.do(http.MethodGet, "/api/items/expiring?days=7", nil, "")
	assert.Len(t, decodeBody[[]ledger.CatalogItem](t, rec), 1)
}

func TestScenarios_UnknownAndReset(t *testing.T) {
	c := newClient(t, store.NewMemory())
	rec := c.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	c.createItem("Rice", 1, "1")
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/scenarios/reset", nil, "").Code)
	rec = c.do(http.MethodGet, "/api/items", nil, "")
	assert.Equal(t, "[]\n", rec.Body.String())
}
