// Package reference implements the anti-replay token embedded in (or
// alongside) a payment transaction: an on-chain memo on Solana, an
// out-of-band reference string on EVM chains. A reference binds one
// transaction to one resource and a narrow time window.
package reference

import (
	"strconv"
	"strings"
	"time"

	"github.com/chainpress/paygate/types"
)

// Prefix is the fixed platform namespace literal shared by both chains.
const Prefix = "chainpress"

// ForwardSkewTolerance absorbs client clocks slightly ahead of ours:
// references issued up to this far in the future still validate.
const ForwardSkewTolerance = 60 * time.Second

// Parsed is a decoded reference string.
type Parsed struct {
	Prefix     string
	ResourceID string
	IssuedAt   time.Time
}

// Encode produces the wire format {prefix}:{resource_id}:{unix_seconds}.
func Encode(resourceID string, issuedAt time.Time) string {
	return Prefix + ":" + resourceID + ":" + strconv.FormatInt(issuedAt.Unix(), 10)
}

// Decode strictly parses a reference string. Exactly three fields, exact
// prefix, numeric timestamp; anything else fails with invalid_reference
// rather than a best-effort partial parse. A leading "0x" (the EVM
// on-chain reference field convention) is stripped, and "_" is accepted as
// the field delimiter alongside ":".
func Decode(s string) (*Parsed, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")

	sep := ":"
	if !strings.Contains(raw, sep) && strings.Contains(raw, "_") {
		sep = "_"
	}

	fields := strings.Split(raw, sep)
	if len(fields) != 3 {
		return nil, types.NewVerificationError("", types.ErrInvalidReference,
			"reference must have exactly 3 fields, got %d", len(fields))
	}
	if fields[0] != Prefix {
		return nil, types.NewVerificationError("", types.ErrInvalidReference,
			"unknown reference prefix %q", fields[0])
	}
	if fields[1] == "" {
		return nil, types.NewVerificationError("", types.ErrInvalidReference,
			"reference resource id is empty")
	}

	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || ts <= 0 {
		return nil, types.NewVerificationError("", types.ErrInvalidReference,
			"reference timestamp %q is not a valid unix time", fields[2])
	}

	return &Parsed{
		Prefix:     fields[0],
		ResourceID: fields[1],
		IssuedAt:   time.Unix(ts, 0).UTC(),
	}, nil
}

// Validate fails closed against the expected resource and time window.
// A mismatched resource id is always an error, even when amount and
// recipient check out. window <= 0 selects the default.
func Validate(p *Parsed, expectedResourceID string, now time.Time, window time.Duration) error {
	if p == nil {
		return types.NewVerificationError("", types.ErrInvalidReference, "reference is missing")
	}
	if window <= 0 {
		window = types.DefaultReferenceWindow
	}

	if p.ResourceID != expectedResourceID {
		return types.NewVerificationError("", types.ErrInvalidReference,
			"reference is for resource %q, expected %q", p.ResourceID, expectedResourceID)
	}

	age := now.Sub(p.IssuedAt)
	if age > window {
		return types.NewVerificationError("", types.ErrReferenceExpired,
			"reference issued %s ago exceeds the %s validity window", age.Round(time.Second), window)
	}
	if age < -ForwardSkewTolerance {
		return types.NewVerificationError("", types.ErrReferenceExpired,
			"reference timestamp is too far in the future")
	}

	return nil
}
