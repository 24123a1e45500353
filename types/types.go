package types

import (
	"fmt"
	"time"
)

// Network represents supported blockchain networks.
type Network string

const (
	// Solana networks
	NetworkSolana       Network = "solana"
	NetworkSolanaDevnet Network = "solana-devnet" // testnet

	// EVM networks
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
)

// ChainFamily classifies a network into a blockchain family.
type ChainFamily string

const (
	ChainSolana ChainFamily = "solana"
	ChainEVM    ChainFamily = "evm"
)

func (n Network) IsSolana() bool {
	return n == NetworkSolana || n == NetworkSolanaDevnet
}

func (n Network) IsEVM() bool {
	return n == NetworkBase || n == NetworkBaseSepolia
}

func (n Network) IsTestnet() bool {
	return n == NetworkSolanaDevnet || n == NetworkBaseSepolia
}

func (n Network) Family() ChainFamily {
	if n.IsSolana() {
		return ChainSolana
	}
	return ChainEVM
}

func (n Network) String() string {
	return string(n)
}

// StablecoinDecimals is the decimal precision of the accepted stablecoin
// on every supported network (USDC uses 6 on both Solana and Base).
const StablecoinDecimals = 6

// DefaultReferenceWindow is how long a minted payment reference stays valid.
const DefaultReferenceWindow = 300 * time.Second

// DefaultEVMMinConfirmations is the confirmation depth required before an
// EVM transaction is treated as economically final.
const DefaultEVMMinConfirmations = 12

// PaymentProof is the client-asserted payment claim submitted with a
// request. It is untrusted input: structurally validated before any
// network call, then independently re-derived from chain state.
type PaymentProof struct {
	// Network of the chain the payment was made on.
	Network Network `json:"chain" validate:"required"`

	// TxID is the transaction signature (Solana, base58) or
	// transaction hash (EVM, 0x + 64 hex).
	TxID string `json:"transaction_signature" validate:"required"`

	// PayerAddress is the wallet the client claims paid.
	PayerAddress string `json:"payer_address" validate:"required"`

	// Timestamp is when the client claims the payment was made (unix seconds).
	Timestamp int64 `json:"timestamp" validate:"required,gt=0"`

	// Reference is the anti-replay reference string the client was issued.
	// On Solana it normally travels on-chain as a memo instead; on EVM it is
	// echoed here (plain or 0x-prefixed). Optional: when absent entirely the
	// verifier falls back to amount+timing heuristics.
	Reference string `json:"reference,omitempty"`
}

// TokenTransfer is a normalized on-chain fact: one token movement extracted
// from a transaction. A single transaction may contain zero, one, or many
// (splits, fees routed through intermediate programs).
type TokenTransfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"` // smallest units
	Token  string `json:"token"`  // mint address (Solana) or contract address (EVM)
}

// PaymentParams is the policy a payment must satisfy: what was supposed to
// be paid, to whom, for which resource.
type PaymentParams struct {
	// ResourceID the payment unlocks; must match the reference.
	ResourceID string

	// Recipient is the expected payee (author wallet or platform treasury).
	Recipient string

	// Amount is the minimum acceptable amount in smallest units.
	// Overpayment is accepted.
	Amount uint64

	// Token is the expected asset (mint or contract address).
	Token string

	// ReferenceWindow overrides DefaultReferenceWindow when > 0.
	ReferenceWindow time.Duration
}

// VerifiedPayment is the verifier's output, produced only after every
// validation step passed. Immutable once constructed.
type VerifiedPayment struct {
	Network       Network `json:"chain"`
	TxID          string  `json:"tx_id"`
	Payer         string  `json:"payer"`
	Recipient     string  `json:"recipient"`
	Amount        uint64  `json:"amount"` // smallest units
	Token         string  `json:"token"`
	BlockHeight   uint64  `json:"block_height"`
	Confirmations uint64  `json:"confirmations"`
	Reference     string  `json:"reference,omitempty"`
}

// PaymentEvent is the durable ledger row for one confirmed transaction,
// unique on (chain, tx_id) so recording is idempotent under concurrent or
// duplicate verification.
type PaymentEvent struct {
	EventID   string    `json:"event_id"`
	Network   Network   `json:"chain"`
	TxID      string    `json:"tx_id"`
	Payer     string    `json:"payer"`
	Recipient string    `json:"recipient"`
	Amount    uint64    `json:"amount"`
	Token     string    `json:"token"`
	Resource  string    `json:"resource_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessGrant is a durable, non-expiring unlock keyed by resource and payer.
type AccessGrant struct {
	ResourceID   string    `json:"resource_id"`
	PayerAddress string    `json:"payer_address"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubscriptionState is a rolling-period entitlement to an author's gated
// resources, distinct from per-resource grants.
type SubscriptionState struct {
	Subscriber       string    `json:"subscriber"`
	Author           string    `json:"author"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	RenewalPrice     uint64    `json:"renewal_price"` // smallest units
}

// Active reports whether the subscription covers the given instant.
func (s *SubscriptionState) Active(now time.Time) bool {
	return s != nil && now.Before(s.CurrentPeriodEnd)
}

// PaymentOption describes one way to pay for a resource, included in a
// payment-required response.
type PaymentOption struct {
	Network   Network `json:"chain"`
	Recipient string  `json:"recipient"`
	Token     string  `json:"token_identifier"`
	Decimals  int     `json:"decimals"`
	Reference string  `json:"reference_or_memo"`
}

// PaymentRequired is the structured 402 body returned when access is not
// granted. Consumed by autonomous agents as well as humans, so the
// verification error code is machine-stable and distinct from the message.
type PaymentRequired struct {
	Error          string          `json:"error"` // always "payment_required"
	ResourceID     string          `json:"resource_id"`
	Price          string          `json:"price"` // display units
	ValidUntil     int64           `json:"valid_until"`
	PaymentOptions []PaymentOption `json:"payment_options"`
	Preview        string          `json:"preview,omitempty"`

	// Set only when the resource is gated by an expired subscription and the
	// 402 offers a renewal rather than a per-resource purchase.
	SubscriptionRenewal bool `json:"subscription_renewal,omitempty"`

	// Set only when a proof was submitted and rejected.
	PaymentVerificationFailed bool      `json:"payment_verification_failed,omitempty"`
	VerificationError         string    `json:"verification_error,omitempty"`
	VerificationErrorCode     ErrorCode `json:"verification_error_code,omitempty"`
}

// ClientConfig configures one chain client.
type ClientConfig struct {
	Network Network `json:"network"`

	// RPCEndpoints is the ordered fallback list (primary, secondary,
	// public). Endpoint unavailability is retryable, not fatal.
	RPCEndpoints []string `json:"rpcEndpoints"`

	// Token is the stablecoin mint/contract address on this network.
	// Configuration, never hard-coded logic.
	Token string `json:"token"`

	// MinConfirmations applies to EVM networks; 0 means the default.
	MinConfirmations uint64 `json:"minConfirmations,omitempty"`

	// Timeout bounds each RPC call; 0 means the facade default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate checks that a client config is usable.
func (c *ClientConfig) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("clientConfig.network is required")
	}
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("clientConfig.rpcEndpoints must not be empty")
	}
	if c.Token == "" {
		return fmt.Errorf("clientConfig.token is required")
	}
	return nil
}
