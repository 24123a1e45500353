package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainpress/paygate/types"
)

const (
	validSolanaSig  = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	validSolanaAddr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	validEVMAddr    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
)

func solanaProof(now time.Time) *types.PaymentProof {
	return &types.PaymentProof{
		Network:      types.NetworkSolana,
		TxID:         validSolanaSig,
		PayerAddress: validSolanaAddr,
		Timestamp:    now.Unix(),
	}
}

func TestValidateProofAccepts(t *testing.T) {
	now := time.Now()
	require.NoError(t, ValidateProof(solanaProof(now), now))
}

func TestValidateProofRejectsNil(t *testing.T) {
	err := ValidateProof(nil, time.Now())
	ve, ok := types.AsVerificationError(err)
	require.True(t, ok)
	require.Equal(t, types.ErrInvalidProof, ve.Code)
}

func TestValidateProofRejectsUnknownChain(t *testing.T) {
	now := time.Now()
	proof := solanaProof(now)
	proof.Network = "dogecoin"

	err := ValidateProof(proof, now)
	ve, ok := types.AsVerificationError(err)
	require.True(t, ok)
	require.Equal(t, types.ErrUnsupportedNetwork, ve.Code)
}

func TestValidateProofRejectsBadTimestamp(t *testing.T) {
	now := time.Now()

	old := solanaProof(now)
	old.Timestamp = now.Add(-2 * time.Hour).Unix()
	err := ValidateProof(old, now)
	ve, ok := types.AsVerificationError(err)
	require.True(t, ok)
	require.Equal(t, types.ErrInvalidProof, ve.Code)

	future := solanaProof(now)
	future.Timestamp = now.Add(time.Hour).Unix()
	err = ValidateProof(future, now)
	ve, ok = types.AsVerificationError(err)
	require.True(t, ok)
	require.Equal(t, types.ErrInvalidProof, ve.Code)
}

func TestValidateTransactionID(t *testing.T) {
	require.NoError(t, ValidateTransactionID(validSolanaSig, types.NetworkSolana))
	require.Error(t, ValidateTransactionID("tooshort", types.NetworkSolana))
	require.Error(t, ValidateTransactionID("", types.NetworkSolana))

	evmHash := "0x4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	require.NoError(t, ValidateTransactionID(evmHash, types.NetworkBase))
	require.Error(t, ValidateTransactionID(evmHash[2:], types.NetworkBase))
	require.Error(t, ValidateTransactionID("0x1234", types.NetworkBase))
	require.Error(t, ValidateTransactionID("0x"+"zz"+evmHash[4:], types.NetworkBase))
}

func TestValidateAddress(t *testing.T) {
	require.NoError(t, ValidateAddress(validSolanaAddr, types.NetworkSolana))
	require.Error(t, ValidateAddress("0OIl", types.NetworkSolana))

	require.NoError(t, ValidateAddress(validEVMAddr, types.NetworkBase))
	require.Error(t, ValidateAddress(validEVMAddr+"00", types.NetworkBase))
	require.Error(t, ValidateAddress("833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", types.NetworkBase))
}
