package store_test

import (
	"testing"

	"github.com/warp/shop-engine/ledger"
	"github.com/warp/shop-engine/ledger/store"
	"github.com/warp/shop-engine/ledger/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore {
		return store.NewMemory()
	})
}
