/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Every scenario goes through the engines, so the demo
	data carries the same ledger rows and snapshots real traffic would.

AVAILABLE SCENARIOS:

	pantry:     Community pantry articles, restocks and a care-package withdrawal
	bookstore:  Discounted books, one sale paid in full and one pending layaway
	credit:     Corner-shop customers with open tabs, one already settled

HOW SCENARIOS WORK:
 1. Reset database (drop and recreate every table)
 2. Create catalog items with initial stock
 3. Register customers
 4. Run movements, sales, charges and checkouts through the engines

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "bookstore"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to loaders

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/shop-engine/layaway"
	"github.com/warp/shop-engine/ledger"
	"github.com/warp/shop-engine/pantry"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "pantry",
		Name:        "Community Pantry",
		Description: "Staples with stock alerts, restocks and an all-or-nothing care-package withdrawal",
	},
	{
		ID:          "bookstore",
		Name:        "Bookstore",
		Description: "Discounted books, a checkout paid in full and a layaway with one installment",
	},
	{
		ID:          "credit",
		Name:        "Corner Shop Credit",
		Description: "Customers buying on account, counter sales and one settled tab",
	},
}

// demoActor attributes every row written by a scenario.
var demoActor = ledger.Actor{ID: "demo", Name: "Demo Loader"}

func (h *Handler) loaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"pantry":    h.loadPantryScenario,
		"bookstore": h.loadBookstoreScenario,
		"credit":    h.loadCreditScenario,
	}
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		h.writeEngineError(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase drops all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeEngineError(w, r, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LoadScenarioByID resets the store and runs one loader. Unknown IDs fail
// with ledger.ErrNotFound.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	load, ok := h.loaders()[id]
	if !ok {
		return ledger.NotFound("scenario", id)
	}
	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Log.WithField("scenario", id).Info("scenario loaded")
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *Handler) createItems(ctx context.Context, items []pantry.NewItem) (map[string]ledger.ItemID, error) {
	ids := make(map[string]ledger.ItemID, len(items))
	for _, in := range items {
		item, err := h.Pantry.CreateItem(ctx, in, demoActor)
		if err != nil {
			return nil, err
		}
		ids[in.Name] = item.ID
	}
	return ids, nil
}

// loadPantryScenario stocks a community pantry. Tuna ends below its
// alert level and milk expires within the week.
func (h *Handler) loadPantryScenario(ctx context.Context) error {
	soon := h.Now().AddDate(0, 0, 5)
	ids, err := h.createItems(ctx, []pantry.NewItem{
		{Name: "Rice", Category: "grains", Unit: "kg", InitialQuantity: 40, MinQuantity: 10},
		{Name: "Black beans", Category: "grains", Unit: "kg", InitialQuantity: 25, MinQuantity: 8},
		{Name: "Cooking oil", Category: "staples", Unit: "l", InitialQuantity: 12, MinQuantity: 4},
		{Name: "Canned tuna", Category: "protein", Unit: "can", InitialQuantity: 18, MinQuantity: 6},
		{Name: "Powdered milk", Category: "dairy", Unit: "bag", InitialQuantity: 10, MinQuantity: 3, Expiry: &soon},
	})
	if err != nil {
		return err
	}

	if _, err := h.Pantry.RecordMovement(ctx, ids["Rice"], ledger.DirectionIn, 20, "donation drive", demoActor); err != nil {
		return err
	}
	if _, err := h.Pantry.RecordMovement(ctx, ids["Canned tuna"], ledger.DirectionOut, 4, "soup kitchen", demoActor); err != nil {
		return err
	}

	// three family care packages
	_, err = h.Pantry.RecordBulkWithdrawal(ctx, []pantry.Withdrawal{
		{ItemID: ids["Rice"], Quantity: 6},
		{ItemID: ids["Black beans"], Quantity: 6},
		{ItemID: ids["Cooking oil"], Quantity: 3},
		{ItemID: ids["Canned tuna"], Quantity: 9},
	}, "care packages", demoActor)
	return err
}

// loadBookstoreScenario sells discounted books: one checkout paid in full
// and one layaway with a down payment and one installment.
func (h *Handler) loadBookstoreScenario(ctx context.Context) error {
	ids, err := h.createItems(ctx, []pantry.NewItem{
		{Name: "Pedro Paramo", Category: "novel", Unit: "copy", InitialQuantity: 6, MinQuantity: 2, UnitPrice: money("100"), Discount: money("10")},
		{Name: "Cien anos de soledad", Category: "novel", Unit: "copy", InitialQuantity: 4, MinQuantity: 1, UnitPrice: money("250")},
		{Name: "El laberinto de la soledad", Category: "essay", Unit: "copy", InitialQuantity: 3, MinQuantity: 1, UnitPrice: money("180"), Discount: money("15")},
	})
	if err != nil {
		return err
	}
	reader, err := h.Credit.RegisterCustomer(ctx, "Rosa Elena", "555-0142")
	if err != nil {
		return err
	}

	if _, err := h.Layaway.Checkout(ctx, layaway.CheckoutRequest{
		Lines:          []ledger.CartLine{{ItemID: ids["Pedro Paramo"], Quantity: 2}},
		Total:          money("180"),
		InitialPayment: money("180"),
	}, demoActor); err != nil {
		return err
	}

	// 250 + 153
	pending, err := h.Layaway.Checkout(ctx, layaway.CheckoutRequest{
		Lines: []ledger.CartLine{
			{ItemID: ids["Cien anos de soledad"], Quantity: 1},
			{ItemID: ids["El laberinto de la soledad"], Quantity: 1},
		},
		CustomerID:     &reader.ID,
		Total:          money("403"),
		InitialPayment: money("100"),
	}, demoActor)
	if err != nil {
		return err
	}
	_, err = h.Layaway.AddPayment(ctx, pending.Sale.ID, money("150"), demoActor)
	return err
}

// loadCreditScenario runs a corner shop: counter sales, two open tabs
// and one tab settled at the end of the week.
func (h *Handler) loadCreditScenario(ctx context.Context) error {
	ids, err := h.createItems(ctx, []pantry.NewItem{
		{Name: "Bread roll", Category: "bakery", Unit: "pc", InitialQuantity: 60, MinQuantity: 15, UnitPrice: money("0.80")},
		{Name: "Milk 1l", Category: "dairy", Unit: "carton", InitialQuantity: 24, MinQuantity: 6, UnitPrice: money("1.10")},
		{Name: "Eggs x12", Category: "dairy", Unit: "box", InitialQuantity: 15, MinQuantity: 5, UnitPrice: money("3.20")},
		{Name: "Coffee 250g", Category: "pantry", Unit: "bag", InitialQuantity: 10, MinQuantity: 3, UnitPrice: money("5.50"), Discount: money("10")},
	})
	if err != nil {
		return err
	}

	names := []string{"Lucia Perez", "Tomas Ruiz", "Ana Gomez"}
	customers := make([]ledger.Customer, len(names))
	for i, name := range names {
		if customers[i], err = h.Credit.RegisterCustomer(ctx, name, fmt.Sprintf("555-01%02d", i+10)); err != nil {
			return err
		}
	}

	if _, err := h.Sales.CreateSale(ctx, []ledger.CartLine{
		{ItemID: ids["Bread roll"], Quantity: 6},
		{ItemID: ids["Milk 1l"], Quantity: 2},
	}, nil, demoActor); err != nil {
		return err
	}
	if _, err := h.Sales.CreateSale(ctx, []ledger.CartLine{
		{ItemID: ids["Coffee 250g"], Quantity: 1},
	}, &customers[2].ID, demoActor); err != nil {
		return err
	}

	tabs := map[int][]ledger.CartLine{
		0: {{ItemID: ids["Bread roll"], Quantity: 4}, {ItemID: ids["Milk 1l"], Quantity: 1}},
		1: {{ItemID: ids["Eggs x12"], Quantity: 1}, {ItemID: ids["Coffee 250g"], Quantity: 1}},
		2: {{ItemID: ids["Bread roll"], Quantity: 2}},
	}
	for i := range customers {
		if _, err := h.Credit.Charge(ctx, customers[i].ID, tabs[i]); err != nil {
			return err
		}
	}

	_, err = h.Credit.Settle(ctx, customers[2].ID, demoActor)
	return err
}
