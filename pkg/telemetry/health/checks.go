package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/tollgate/pkg/limits/storage"
)

// probeUserID is looked up by StoreCheck. No limit is expected to exist.
const probeUserID = "__tollgate_health__"

// StoreCheck verifies that the store answers a point lookup.
func StoreCheck(store storage.Store) CheckFunc {
	return func(ctx context.Context) error {
		if store == nil {
			return errors.New("store not configured")
		}
		if _, err := store.GetUserTokenLimit(ctx, probeUserID); err != nil {
			return fmt.Errorf("store lookup failed: %w", err)
		}
		return nil
	}
}

// Func adapts a predicate into a check that fails with msg.
func Func(ok func() bool, msg string) CheckFunc {
	return func(context.Context) error {
		if !ok() {
			return errors.New(msg)
		}
		return nil
	}
}
