package sqlite

import (
	"context"
	"fmt"

	"github.com/warp/shop-engine/ledger"
)

// ExecRaw runs a statement on the transaction behind a WithTx view.
func ExecRaw(ctx context.Context, s ledger.Store, query string) error {
	q, ok := s.(queries)
	if !ok {
		return fmt.Errorf("not a sqlite transaction view: %T", s)
	}
	_, err := q.q.ExecContext(ctx, query)
	return err
}
