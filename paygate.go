// Package paygate verifies stablecoin micropayments on Solana and Base and
// gates paid content behind them. The facade wires the per-chain verifiers,
// the payment ledger, and the access decision engine into one instance.
package paygate

import (
	"context"
	"fmt"
	"time"

	"github.com/chainpress/paygate/access"
	"github.com/chainpress/paygate/clients"
	"github.com/chainpress/paygate/ledger"
	"github.com/chainpress/paygate/logger"
	"github.com/chainpress/paygate/metrics"
	"github.com/chainpress/paygate/types"
	"github.com/chainpress/paygate/verification"
)

// Paygate is the top-level entry point. Construct one with New, add the
// networks you accept payment on, then call Verify or RequestAccess.
type Paygate struct {
	verify *verification.Service
	engine *access.Engine

	store    ledger.Store
	wallets  ledger.WalletDirectory
	networks []access.PaymentNetwork

	log        logger.Logger
	metrics    metrics.Recorder
	timeout    time.Duration
	now        func() time.Time
	refWindow  time.Duration
	subPeriod  time.Duration
	afterGrant func(resourceID string) error
}

// New creates a Paygate instance. Without options it uses an in-memory
// ledger, a no-op logger, and no metrics; production deployments pass
// WithLedger(sqlite), WithLogger, and WithMetrics.
func New(opts ...Option) *Paygate {
	p := &Paygate{
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		timeout:   30 * time.Second,
		now:       time.Now,
		refWindow: types.DefaultReferenceWindow,
		subPeriod: access.DefaultSubscriptionPeriod,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = ledger.NewMemory()
	}

	p.verify = verification.NewService(p.timeout, p.log, p.metrics)
	p.rebuildEngine()
	return p
}

// AddNetwork registers a chain the instance accepts payment on. The config's
// network decides which verifier family is built.
func (p *Paygate) AddNetwork(cfg types.ClientConfig) error {
	var (
		v   clients.Verifier
		err error
	)
	switch {
	case cfg.Network.IsSolana():
		v, err = clients.NewSolanaClient(cfg, p.log)
	case cfg.Network.IsEVM():
		v, err = clients.NewEVMClient(cfg, p.log)
	default:
		return types.NewVerificationError(cfg.Network, types.ErrUnsupportedNetwork,
			"unsupported network: %s", cfg.Network)
	}
	if err != nil {
		return fmt.Errorf("create %s client: %w", cfg.Network, err)
	}

	p.verify.Register(v)
	p.networks = append(p.networks, access.PaymentNetwork{
		Network:  cfg.Network,
		Token:    cfg.Token,
		Decimals: types.StablecoinDecimals,
	})
	p.rebuildEngine()
	return nil
}

func (p *Paygate) rebuildEngine() {
	engineOpts := []access.Option{
		access.WithLogger(p.log),
		access.WithMetrics(p.metrics),
		access.WithClock(p.now),
		access.WithReferenceWindow(p.refWindow),
		access.WithSubscriptionPeriod(p.subPeriod),
	}
	if p.afterGrant != nil {
		engineOpts = append(engineOpts, access.WithAfterGrant(p.afterGrant))
	}
	p.engine = access.NewEngine(p.verify, p.store, p.wallets, p.networks, engineOpts...)
}

// Verify checks a payment proof against the expected payment parameters,
// re-deriving everything from chain state. Rejections are
// *types.VerificationError values.
func (p *Paygate) Verify(ctx context.Context, proof *types.PaymentProof, params types.PaymentParams) (*types.VerifiedPayment, error) {
	return p.verify.Verify(ctx, proof, params)
}

// QuickVerify validates proof structure without any chain query.
func (p *Paygate) QuickVerify(proof *types.PaymentProof) error {
	return p.verify.QuickVerify(proof)
}

// RequestAccess runs the full gating decision for one resource request.
func (p *Paygate) RequestAccess(ctx context.Context, req access.Request) (*access.Decision, error) {
	return p.engine.Decide(ctx, req)
}

// IsNetworkSupported reports whether a verifier is registered for network.
func (p *Paygate) IsNetworkSupported(network types.Network) bool {
	return p.verify.IsNetworkSupported(network)
}

// Networks returns the registered networks.
func (p *Paygate) Networks() []types.Network {
	return p.verify.Networks()
}

// Close shuts down all chain clients.
func (p *Paygate) Close() {
	p.verify.Close()
}
