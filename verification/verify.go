// Package verification routes payment proofs to the per-chain verifier and
// wraps the pipeline with structural validation, metrics, and timeouts.
package verification

import (
	"context"
	"time"

	"github.com/chainpress/paygate/clients"
	"github.com/chainpress/paygate/logger"
	"github.com/chainpress/paygate/metrics"
	"github.com/chainpress/paygate/types"
	"github.com/chainpress/paygate/utils"
)

// Service manages payment verification across the configured networks.
// It performs no retries: a not-found or reverted transaction will not
// become valid by immediately re-querying, and every failure surfaces
// unchanged to the caller.
type Service struct {
	verifiers map[types.Network]clients.Verifier
	timeout   time.Duration
	log       logger.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewService creates a verification service. timeout bounds each
// verification end to end; zero disables the bound.
func NewService(timeout time.Duration, log logger.Logger, rec metrics.Recorder) *Service {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Service{
		verifiers: make(map[types.Network]clients.Verifier),
		timeout:   timeout,
		log:       log,
		metrics:   rec,
		now:       time.Now,
	}
}

// Register adds a per-chain verifier. Registering the same network twice
// replaces the previous verifier.
func (s *Service) Register(v clients.Verifier) {
	s.verifiers[v.Network()] = v
}

// IsNetworkSupported reports whether a verifier is registered for network.
func (s *Service) IsNetworkSupported(network types.Network) bool {
	_, ok := s.verifiers[network]
	return ok
}

// Networks returns the registered networks.
func (s *Service) Networks() []types.Network {
	networks := make([]types.Network, 0, len(s.verifiers))
	for n := range s.verifiers {
		networks = append(networks, n)
	}
	return networks
}

// Verify validates the proof structurally, then re-derives the payment from
// chain state via the network's verifier. Failures are
// *types.VerificationError values; any other error is an internal fault
// (misconfiguration, transport exhaustion).
func (s *Service) Verify(ctx context.Context, proof *types.PaymentProof, params types.PaymentParams) (*types.VerifiedPayment, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	network := ""
	if proof != nil {
		network = proof.Network.String()
	}
	if err := utils.ValidateProof(proof, s.now()); err != nil {
		s.metrics.IncCounter("verify_rejected", map[string]string{"network": network})
		return nil, err
	}

	verifier, ok := s.verifiers[proof.Network]
	if !ok {
		return nil, types.NewVerificationError(proof.Network, types.ErrUnsupportedNetwork,
			"no verifier configured for network %s", proof.Network)
	}

	start := s.now()
	payment, err := verifier.VerifyPayment(ctx, proof, params)
	s.metrics.ObserveLatency("verify", s.now().Sub(start), map[string]string{"network": proof.Network.String()})

	if err != nil {
		if ve, ok := types.AsVerificationError(err); ok {
			s.metrics.IncCounter("verify_failed", map[string]string{"network": proof.Network.String()})
			s.log.Info("payment verification failed", map[string]any{
				"network": proof.Network.String(),
				"tx_id":   proof.TxID,
				"code":    string(ve.Code),
			})
			return nil, ve
		}
		s.metrics.IncCounter("verify_error", map[string]string{"network": proof.Network.String()})
		s.log.Error("payment verification errored", map[string]any{
			"network": proof.Network.String(),
			"tx_id":   proof.TxID,
			"error":   err.Error(),
		})
		return nil, err
	}

	s.metrics.IncCounter("verify_ok", map[string]string{"network": proof.Network.String()})
	s.log.Info("payment verified", map[string]any{
		"network":       proof.Network.String(),
		"tx_id":         payment.TxID,
		"payer":         payment.Payer,
		"amount":        payment.Amount,
		"confirmations": payment.Confirmations,
	})
	return payment, nil
}

// QuickVerify performs structural validation only, without any chain query.
// Useful as a cheap pre-flight before the expensive pipeline.
func (s *Service) QuickVerify(proof *types.PaymentProof) error {
	if err := utils.ValidateProof(proof, s.now()); err != nil {
		return err
	}
	if !s.IsNetworkSupported(proof.Network) {
		return types.NewVerificationError(proof.Network, types.ErrUnsupportedNetwork,
			"no verifier configured for network %s", proof.Network)
	}
	return nil
}

// Close closes all chain verifiers.
func (s *Service) Close() {
	for _, v := range s.verifiers {
		v.Close()
	}
}
