package clients

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/chainpress/paygate/logger"
	"github.com/chainpress/paygate/types"
)

// SolanaRPC is the narrow slice of the Solana JSON-RPC surface the verifier
// needs. *rpc.Client satisfies it; tests substitute fakes.
type SolanaRPC interface {
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SPL token program instruction tags.
const (
	splTransferTag        = 3
	splTransferCheckedTag = 12
)

// Depth reported for finalized signatures, where the RPC returns a null
// confirmation count because the slot is rooted.
const finalizedConfirmationDepth = 32

var memoProgramIDs = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"),
	solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo"),
}

// SolanaClient verifies SPL token payments. The anti-replay reference
// travels on-chain as a memo instruction; finality is the signature's
// commitment status (confirmed or finalized).
type SolanaClient struct {
	network types.Network
	rpcs    []SolanaRPC
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
}

var _ Verifier = (*SolanaClient)(nil)

// NewSolanaClient builds a Solana verifier over an ordered fallback list of
// RPC endpoints. Endpoints are not dialed until first use.
func NewSolanaClient(cfg types.ClientConfig, log logger.Logger) (*SolanaClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := solana.PublicKeyFromBase58(cfg.Token); err != nil {
		return nil, err
	}

	rpcs := make([]SolanaRPC, 0, len(cfg.RPCEndpoints))
	for _, endpoint := range cfg.RPCEndpoints {
		rpcs = append(rpcs, rpc.New(endpoint))
	}

	if log == nil {
		log = logger.NoopLogger{}
	}

	return &SolanaClient{
		network: cfg.Network,
		rpcs:    rpcs,
		timeout: cfg.Timeout,
		log:     log,
		now:     time.Now,
	}, nil
}

func (c *SolanaClient) Network() types.Network { return c.network }

func (c *SolanaClient) Close() {}

// VerifyPayment implements the verification pipeline for Solana:
// fetch, failure check, transfer parsing, recipient and amount policy,
// memo validation, commitment check. Each step short-circuits so callers
// see the most specific actionable error.
func (c *SolanaClient) VerifyPayment(ctx context.Context, proof *types.PaymentProof, params types.PaymentParams) (*types.VerifiedPayment, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	sig, err := solana.SignatureFromBase58(proof.TxID)
	if err != nil {
		return nil, types.NewVerificationError(c.network, types.ErrInvalidProof,
			"invalid transaction signature: %v", err)
	}

	res, err := c.fetchTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}

	// A failed transaction's apparent transfers are not real; check before
	// any parsing.
	if res.Meta != nil && res.Meta.Err != nil {
		return nil, types.NewVerificationError(c.network, types.ErrTransactionFailed,
			"transaction %s executed but failed on chain", proof.TxID)
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, types.NewVerificationError(c.network, types.ErrTransactionFailed,
			"unable to decode transaction: %v", err)
	}

	transfers := parseTokenTransfers(tx, res.Meta, params.Token)
	if len(transfers) == 0 {
		return nil, types.NewVerificationError(c.network, types.ErrNoMatchingTransfer,
			"transaction contains no transfers of token %s", params.Token)
	}

	transfer := matchRecipient(transfers, params.Recipient)
	if transfer == nil {
		return nil, types.NewVerificationError(c.network, types.ErrWrongRecipient,
			"no transfer pays the expected recipient %s", params.Recipient)
	}

	if transfer.Amount < params.Amount {
		return nil, types.NewVerificationError(c.network, types.ErrInsufficientAmount,
			"transfer amount %d is below the required %d", transfer.Amount, params.Amount)
	}

	ref := extractMemo(tx, res.Meta)
	if ref == "" {
		ref = proof.Reference
	}

	txTime := time.Unix(proof.Timestamp, 0)
	if res.BlockTime != nil {
		txTime = res.BlockTime.Time()
	}
	if err := validateReference(c.network, ref, params, txTime, c.now()); err != nil {
		return nil, err
	}

	confirmations, err := c.checkFinality(ctx, sig)
	if err != nil {
		return nil, err
	}

	return &types.VerifiedPayment{
		Network:       c.network,
		TxID:          proof.TxID,
		Payer:         transfer.From,
		Recipient:     transfer.To,
		Amount:        transfer.Amount,
		Token:         transfer.Token,
		BlockHeight:   res.Slot,
		Confirmations: confirmations,
		Reference:     ref,
	}, nil
}

// fetchTransaction walks the fallback endpoint list. A not-found answer is
// definitive; transport errors fall through to the next endpoint.
func (c *SolanaClient) fetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var lastErr error
	for i, cl := range c.rpcs {
		res, err := cl.GetTransaction(ctx, sig, opts)
		if err == nil && res != nil {
			return res, nil
		}
		if err == nil || errors.Is(err, rpc.ErrNotFound) {
			return nil, types.NewVerificationError(c.network, types.ErrTransactionNotFound,
				"transaction %s not found on chain", sig)
		}
		lastErr = err
		c.log.Warn("solana rpc endpoint failed, trying next", map[string]any{
			"endpoint_index": i,
			"error":          err.Error(),
		})
	}
	return nil, lastErr
}

// checkFinality accepts confirmed or finalized commitment and rejects a
// processed-only or missing status. The achieved confirmation count is
// reported either way.
func (c *SolanaClient) checkFinality(ctx context.Context, sig solana.Signature) (uint64, error) {
	var (
		statuses *rpc.GetSignatureStatusesResult
		lastErr  error
	)
	for i, cl := range c.rpcs {
		res, err := cl.GetSignatureStatuses(ctx, true, sig)
		if err == nil {
			statuses = res
			break
		}
		lastErr = err
		c.log.Warn("solana rpc endpoint failed, trying next", map[string]any{
			"endpoint_index": i,
			"error":          err.Error(),
		})
	}
	if statuses == nil {
		if lastErr != nil {
			return 0, lastErr
		}
		return 0, types.NewVerificationError(c.network, types.ErrStatusUnknown,
			"signature status unavailable")
	}

	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return 0, types.NewVerificationError(c.network, types.ErrStatusUnknown,
			"no status known for signature %s", sig)
	}

	st := statuses.Value[0]
	confirmations := uint64(finalizedConfirmationDepth)
	if st.Confirmations != nil {
		confirmations = *st.Confirmations
	}

	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized, rpc.ConfirmationStatusConfirmed:
		return confirmations, nil
	default:
		ve := types.NewVerificationError(c.network, types.ErrNotConfirmed,
			"signature is %q, needs confirmed or finalized", st.ConfirmationStatus)
		ve.Confirmations = confirmations
		return confirmations, ve
	}
}

// parseTokenTransfers extracts SPL token transfers from top-level and inner
// instructions. Payments routed through an intermediate program (smart
// wallet, splitter) surface as inner instructions, so both lists are
// inspected. Unknown instruction shapes are skipped, never errors.
func parseTokenTransfers(tx *solana.Transaction, meta *rpc.TransactionMeta, tokenFilter string) []types.TokenTransfer {
	keys := append([]solana.PublicKey{}, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	balances := map[uint16]rpc.TokenBalance{}
	if meta != nil {
		for _, tb := range meta.PreTokenBalances {
			balances[tb.AccountIndex] = tb
		}
		for _, tb := range meta.PostTokenBalances {
			balances[tb.AccountIndex] = tb
		}
	}

	var transfers []types.TokenTransfer
	collect := func(inst solana.CompiledInstruction) {
		if t, ok := decodeTokenTransfer(keys, balances, inst); ok {
			if tokenFilter == "" || t.Token == tokenFilter {
				transfers = append(transfers, *t)
			}
		}
	}

	for _, inst := range tx.Message.Instructions {
		collect(inst)
	}
	if meta != nil {
		for _, inner := range meta.InnerInstructions {
			for _, inst := range inner.Instructions {
				collect(compiledInstruction(inst))
			}
		}
	}

	return transfers
}

// compiledInstruction adapts the RPC-layer instruction struct to the core
// solana.CompiledInstruction shape shared by the decoding helpers.
func compiledInstruction(inst rpc.CompiledInstruction) solana.CompiledInstruction {
	return solana.CompiledInstruction{
		ProgramIDIndex: inst.ProgramIDIndex,
		Accounts:       inst.Accounts,
		Data:           inst.Data,
	}
}

// decodeTokenTransfer turns one compiled instruction into a normalized
// transfer when it is an SPL Transfer or TransferChecked. Token accounts
// are resolved to their owner wallets via the transaction's token balance
// records where possible.
func decodeTokenTransfer(keys []solana.PublicKey, balances map[uint16]rpc.TokenBalance, inst solana.CompiledInstruction) (*types.TokenTransfer, bool) {
	if int(inst.ProgramIDIndex) >= len(keys) {
		return nil, false
	}
	program := keys[inst.ProgramIDIndex]
	if !program.Equals(solana.TokenProgramID) && !program.Equals(solana.Token2022ProgramID) {
		return nil, false
	}

	data := []byte(inst.Data)
	if len(data) < 9 {
		return nil, false
	}
	amount := binary.LittleEndian.Uint64(data[1:9])

	var srcIdx, dstIdx uint16
	var mint string
	switch data[0] {
	case splTransferTag:
		if len(inst.Accounts) < 2 {
			return nil, false
		}
		srcIdx, dstIdx = inst.Accounts[0], inst.Accounts[1]
		if tb, ok := balances[srcIdx]; ok {
			mint = tb.Mint.String()
		} else if tb, ok := balances[dstIdx]; ok {
			mint = tb.Mint.String()
		}
	case splTransferCheckedTag:
		if len(inst.Accounts) < 3 {
			return nil, false
		}
		srcIdx, dstIdx = inst.Accounts[0], inst.Accounts[2]
		if int(inst.Accounts[1]) < len(keys) {
			mint = keys[inst.Accounts[1]].String()
		}
	default:
		return nil, false
	}

	if int(srcIdx) >= len(keys) || int(dstIdx) >= len(keys) {
		return nil, false
	}

	return &types.TokenTransfer{
		From:   resolveOwner(keys, balances, srcIdx),
		To:     resolveOwner(keys, balances, dstIdx),
		Amount: amount,
		Token:  mint,
	}, true
}

// resolveOwner maps a token-account index to the owning wallet; when the
// balance record is missing it falls back to the token account itself.
func resolveOwner(keys []solana.PublicKey, balances map[uint16]rpc.TokenBalance, idx uint16) string {
	if tb, ok := balances[idx]; ok && tb.Owner != nil {
		return tb.Owner.String()
	}
	return keys[idx].String()
}

// extractMemo returns the first memo-program payload found in the
// transaction, or "".
func extractMemo(tx *solana.Transaction, meta *rpc.TransactionMeta) string {
	keys := append([]solana.PublicKey{}, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	check := func(inst solana.CompiledInstruction) string {
		if int(inst.ProgramIDIndex) >= len(keys) {
			return ""
		}
		program := keys[inst.ProgramIDIndex]
		for _, memoID := range memoProgramIDs {
			if program.Equals(memoID) {
				return string(inst.Data)
			}
		}
		return ""
	}

	for _, inst := range tx.Message.Instructions {
		if memo := check(inst); memo != "" {
			return memo
		}
	}
	if meta != nil {
		for _, inner := range meta.InnerInstructions {
			for _, inst := range inner.Instructions {
				if memo := check(compiledInstruction(inst)); memo != "" {
					return memo
				}
			}
		}
	}
	return ""
}

// matchRecipient selects the transfer paying the expected payee.
func matchRecipient(transfers []types.TokenTransfer, recipient string) *types.TokenTransfer {
	for i := range transfers {
		if transfers[i].To == recipient {
			return &transfers[i]
		}
	}
	return nil
}
