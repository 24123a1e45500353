// Package clients implements per-chain payment verifiers behind a single
// contract. Each chain is a variant implementing Verifier; chain-specific
// constants (decimals, confirmation depth, address formats) are data on the
// client, not branching logic, so adding a chain means adding a variant.
package clients

import (
	"context"
	"time"

	"github.com/chainpress/paygate/reference"
	"github.com/chainpress/paygate/types"
)

// Verifier is the per-chain verification contract. Implementations perform
// read-only chain queries and hold no per-request mutable state; they are
// safe for concurrent use.
type Verifier interface {
	Network() types.Network

	// VerifyPayment re-derives the truth of a client-submitted proof from
	// chain state and checks it against policy. Failures are
	// *types.VerificationError values; any other error is an internal fault.
	VerifyPayment(ctx context.Context, proof *types.PaymentProof, params types.PaymentParams) (*types.VerifiedPayment, error)

	Close()
}

// validateReference runs the shared reference/memo check for both chains.
// ref is the embedded or echoed reference string; when it is absent entirely
// the check degrades to a timing heuristic on txTime: two payments of the
// identical amount inside the same window are then indistinguishable. That
// weaker mode is deliberate, not a bug to fix here.
func validateReference(network types.Network, ref string, params types.PaymentParams, txTime, now time.Time) error {
	window := params.ReferenceWindow
	if window <= 0 {
		window = types.DefaultReferenceWindow
	}

	if ref == "" {
		if !txTime.IsZero() && now.Sub(txTime) > window {
			return types.NewVerificationError(network, types.ErrReferenceExpired,
				"no reference supplied and the transaction is older than the %s window", window)
		}
		return nil
	}

	parsed, err := reference.Decode(ref)
	if err != nil {
		return qualify(err, network)
	}
	if err := reference.Validate(parsed, params.ResourceID, now, window); err != nil {
		return qualify(err, network)
	}
	return nil
}

// qualify stamps the originating network onto a verification error.
func qualify(err error, network types.Network) error {
	if ve, ok := types.AsVerificationError(err); ok && ve.Network == "" {
		ve.Network = network
	}
	return err
}
