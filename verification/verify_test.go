package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainpress/paygate/types"
)

const (
	testSig    = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	testWallet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type stubVerifier struct {
	network types.Network
	payment *types.VerifiedPayment
	err     error
	calls   int
}

func (s *stubVerifier) Network() types.Network { return s.network }

func (s *stubVerifier) VerifyPayment(context.Context, *types.PaymentProof, types.PaymentParams) (*types.VerifiedPayment, error) {
	s.calls++
	return s.payment, s.err
}

func (s *stubVerifier) Close() {}

func validProof() *types.PaymentProof {
	return &types.PaymentProof{
		Network:      types.NetworkSolana,
		TxID:         testSig,
		PayerAddress: testWallet,
		Timestamp:    time.Now().Unix(),
	}
}

func TestVerifyRoutesToNetworkVerifier(t *testing.T) {
	stub := &stubVerifier{
		network: types.NetworkSolana,
		payment: &types.VerifiedPayment{Network: types.NetworkSolana, TxID: testSig, Amount: 250000},
	}
	svc := NewService(0, nil, nil)
	svc.Register(stub)

	payment, err := svc.Verify(context.Background(), validProof(), types.PaymentParams{Amount: 250000})
	require.NoError(t, err)
	require.Equal(t, uint64(250000), payment.Amount)
	require.Equal(t, 1, stub.calls)
}

func TestVerifyRejectsMalformedProofBeforeChainCall(t *testing.T) {
	stub := &stubVerifier{network: types.NetworkSolana}
	svc := NewService(0, nil, nil)
	svc.Register(stub)

	proof := validProof()
	proof.TxID = "not-base58!!"

	_, err := svc.Verify(context.Background(), proof, types.PaymentParams{})
	ve, ok := types.AsVerificationError(err)
	require.True(t, ok)
	require.Equal(t, types.ErrInvalidProof, ve.Code)
	require.Zero(t, stub.calls)
}

func TestVerifyUnsupportedNetwork(t *testing.T) {
	svc := NewService(0, nil, nil)

	_, err := svc.Verify(context.Background(), validProof(), types.PaymentParams{})
	ve, ok := types.AsVerificationError(err)
	require.True(t, ok)
	require.Equal(t, types.ErrUnsupportedNetwork, ve.Code)
}

func TestVerifyPassesThroughVerificationError(t *testing.T) {
	stub := &stubVerifier{
		network: types.NetworkSolana,
		err:     types.NewVerificationError(types.NetworkSolana, types.ErrWrongRecipient, "wrong payee"),
	}
	svc := NewService(0, nil, nil)
	svc.Register(stub)

	_, err := svc.Verify(context.Background(), validProof(), types.PaymentParams{})
	ve, ok := types.AsVerificationError(err)
	require.True(t, ok)
	require.Equal(t, types.ErrWrongRecipient, ve.Code)
}

func TestVerifyPassesThroughInternalError(t *testing.T) {
	boom := errors.New("rpc transport down")
	stub := &stubVerifier{network: types.NetworkSolana, err: boom}
	svc := NewService(0, nil, nil)
	svc.Register(stub)

	_, err := svc.Verify(context.Background(), validProof(), types.PaymentParams{})
	require.ErrorIs(t, err, boom)
	_, ok := types.AsVerificationError(err)
	require.False(t, ok)
}

func TestQuickVerify(t *testing.T) {
	svc := NewService(0, nil, nil)
	svc.Register(&stubVerifier{network: types.NetworkSolana})

	require.NoError(t, svc.QuickVerify(validProof()))
	require.Error(t, svc.QuickVerify(nil))

	proof := validProof()
	proof.Network = types.NetworkBase // registered for solana only
	require.Error(t, svc.QuickVerify(proof))
}

func TestNetworks(t *testing.T) {
	svc := NewService(0, nil, nil)
	require.False(t, svc.IsNetworkSupported(types.NetworkSolana))

	svc.Register(&stubVerifier{network: types.NetworkSolana})
	svc.Register(&stubVerifier{network: types.NetworkBase})

	require.True(t, svc.IsNetworkSupported(types.NetworkSolana))
	require.True(t, svc.IsNetworkSupported(types.NetworkBase))
	require.Len(t, svc.Networks(), 2)
}
