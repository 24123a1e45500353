// Package ledger owns the durable side of payment gating: the idempotent
// payment-event ledger, persistent access grants, subscription state, and
// the wallet directory. The uniqueness constraint on (chain, tx_id) is the
// sole mechanism preventing double-crediting; the verifier is safe to run
// redundantly and never deduplicates on its own.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/chainpress/paygate/types"
)

var ErrNotFound = errors.New("not found")

// Recorder persists one row per confirmed transaction.
type Recorder interface {
	// Record stores a verified payment. Recording the same (chain, tx_id)
	// twice is a no-op that reports alreadyRecorded = true together with
	// the original event id.
	Record(ctx context.Context, payment *types.VerifiedPayment, resourceID string) (eventID string, alreadyRecorded bool, err error)
}

// Grants stores persistent, non-expiring unlocks keyed by resource and payer.
type Grants interface {
	HasGrant(ctx context.Context, resourceID string, payerAddresses []string) (bool, error)
	CreateGrant(ctx context.Context, resourceID, payerAddress string) error
}

// Subscriptions reads and extends rolling-period entitlements.
type Subscriptions interface {
	// GetAccess returns the subscription state between subscriber and
	// author, or ErrNotFound when none exists.
	GetAccess(ctx context.Context, subscriber, author string) (*types.SubscriptionState, error)

	// Renew extends the current period by the given duration, from the
	// later of now and the current period end.
	Renew(ctx context.Context, subscriber, author string, period time.Duration) error
}

// WalletDirectory resolves a platform identity to its payer wallet
// addresses across chains.
type WalletDirectory interface {
	WalletAddresses(ctx context.Context, userID string) ([]string, error)
}

// Store bundles the persistence collaborators an access engine needs.
type Store interface {
	Recorder
	Grants
	Subscriptions
}
