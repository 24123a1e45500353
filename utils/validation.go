package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chainpress/paygate/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ProofTimestampTolerance bounds how stale or how far ahead a proof's
// client-asserted timestamp may be before we refuse to even query the chain.
const (
	ProofMaxAge         = 1 * time.Hour
	ProofMaxClockAhead  = 10 * time.Minute
	evmHashHexLen       = 64
	evmAddressHexLen    = 40
	solanaSigMinLen     = 80
	solanaSigMaxLen     = 90
	solanaAddressMinLen = 32
	solanaAddressMaxLen = 44
)

var (
	hexRe    = regexp.MustCompile("^[0-9a-fA-F]+$")
	base58Re = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")
)

// ValidateProof structurally validates a client-submitted payment proof
// before any network call: struct tags, address/hash format for the claimed
// network, and a sane timestamp. Returns a typed invalid_proof error.
func ValidateProof(proof *types.PaymentProof, now time.Time) error {
	if proof == nil {
		return types.NewVerificationError("", types.ErrInvalidProof, "payment proof is missing")
	}

	if err := validate.Struct(proof); err != nil {
		return types.NewVerificationError(proof.Network, types.ErrInvalidProof,
			"malformed payment proof: %v", err)
	}

	if !proof.Network.IsSolana() && !proof.Network.IsEVM() {
		return types.NewVerificationError(proof.Network, types.ErrUnsupportedNetwork,
			"unsupported chain %q", proof.Network)
	}

	if err := ValidateTransactionID(proof.TxID, proof.Network); err != nil {
		return types.NewVerificationError(proof.Network, types.ErrInvalidProof, "%v", err)
	}
	if err := ValidateAddress(proof.PayerAddress, proof.Network); err != nil {
		return types.NewVerificationError(proof.Network, types.ErrInvalidProof, "%v", err)
	}

	ts := time.Unix(proof.Timestamp, 0)
	if ts.Before(now.Add(-ProofMaxAge)) {
		return types.NewVerificationError(proof.Network, types.ErrInvalidProof,
			"proof timestamp is too far in the past")
	}
	if ts.After(now.Add(ProofMaxClockAhead)) {
		return types.NewVerificationError(proof.Network, types.ErrInvalidProof,
			"proof timestamp is in the future")
	}

	return nil
}

// ValidateTransactionID checks the transaction reference format for a network.
func ValidateTransactionID(txID string, network types.Network) error {
	if txID == "" {
		return fmt.Errorf("transaction reference cannot be empty")
	}

	switch {
	case network.IsEVM():
		if !strings.HasPrefix(txID, "0x") {
			return fmt.Errorf("EVM transaction hash must start with 0x")
		}
		if len(txID) != 2+evmHashHexLen {
			return fmt.Errorf("EVM transaction hash must be %d characters long", 2+evmHashHexLen)
		}
		if !hexRe.MatchString(txID[2:]) {
			return fmt.Errorf("EVM transaction hash must be valid hex")
		}

	case network.IsSolana():
		if len(txID) < solanaSigMinLen || len(txID) > solanaSigMaxLen {
			return fmt.Errorf("Solana transaction signature has invalid length")
		}
		if !base58Re.MatchString(txID) {
			return fmt.Errorf("Solana transaction signature must be valid base58")
		}

	default:
		return fmt.Errorf("unsupported network %q for transaction reference validation", network)
	}

	return nil
}

// ValidateAddress checks the wallet address format for a network.
func ValidateAddress(address string, network types.Network) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch {
	case network.IsEVM():
		if !strings.HasPrefix(address, "0x") {
			return fmt.Errorf("EVM address must start with 0x")
		}
		if len(address) != 2+evmAddressHexLen {
			return fmt.Errorf("EVM address must be %d characters long", 2+evmAddressHexLen)
		}
		if !hexRe.MatchString(address[2:]) {
			return fmt.Errorf("EVM address must be valid hex")
		}

	case network.IsSolana():
		if len(address) < solanaAddressMinLen || len(address) > solanaAddressMaxLen {
			return fmt.Errorf("Solana address has invalid length")
		}
		if !base58Re.MatchString(address) {
			return fmt.Errorf("Solana address must be valid base58")
		}

	default:
		return fmt.Errorf("unsupported network %q for address validation", network)
	}

	return nil
}
