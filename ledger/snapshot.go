/*
snapshot.go - Point-in-time copies of display facts

PURPOSE:
  Every history row (ledger entry, sale, credit line, layaway header and
  detail, installment) stores the human-readable facts it depends on next
  to the foreign key: item name, counterparty name, actor name and the
  prices in force. Catalog items, customers and users may be renamed or
  removed later; the history keeps reading the same.

RULES:
  1. Snapshots are captured inside the transaction that writes the row
  2. No store method updates a snapshot column
  3. A sale without a customer carries the WalkInCustomer sentinel
*/
package ledger

import "strings"

// WalkInCustomer is the counterparty snapshot for anonymous sales.
const WalkInCustomer = "walk-in"

// ActorSnapshot is the display name recorded for an actor.
func ActorSnapshot(a Actor) string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return a.ID
}

// CustomerSnapshot is the display name recorded for an optional customer.
func CustomerSnapshot(c *Customer) string {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return WalkInCustomer
	}
	return c.Name
}

// ItemSnapshot is the display name recorded for a catalog item.
func ItemSnapshot(item CatalogItem) string {
	return item.Name
}

// ValidateActor rejects anonymous actors. Every ledger row is attributed.
func ValidateActor(a Actor) error {
	if strings.TrimSpace(a.ID) == "" {
		return &InputError{Field: "actor", Reason: "actor id is required"}
	}
	return nil
}
