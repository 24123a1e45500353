package clients

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/chainpress/paygate/logger"
	"github.com/chainpress/paygate/reference"
	"github.com/chainpress/paygate/types"
)

const testSolanaSig = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

var (
	testNow = time.Unix(1756100000, 0).UTC()

	payerWallet     = solana.NewWallet().PublicKey()
	recipientWallet = solana.NewWallet().PublicKey()
	payerTokenAcct  = solana.NewWallet().PublicKey()
	recipTokenAcct  = solana.NewWallet().PublicKey()
	usdcMint        = solana.NewWallet().PublicKey()
)

type fakeSolanaRPC struct {
	tx       *rpc.GetTransactionResult
	txErr    error
	statuses *rpc.GetSignatureStatusesResult
	stErr    error
}

func (f *fakeSolanaRPC) GetTransaction(context.Context, solana.Signature, *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return f.tx, f.txErr
}

func (f *fakeSolanaRPC) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return f.statuses, f.stErr
}

func newTestSolanaClient(rpcs ...SolanaRPC) *SolanaClient {
	return &SolanaClient{
		network: types.NetworkSolana,
		rpcs:    rpcs,
		log:     logger.NoopLogger{},
		now:     func() time.Time { return testNow },
	}
}

func transferCheckedData(amount uint64) []byte {
	data := make([]byte, 10)
	data[0] = splTransferCheckedTag
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = types.StablecoinDecimals
	return data
}

func transferData(amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = splTransferTag
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return data
}

// envelopeFor wraps a transaction the way the RPC returns it with base64
// encoding, so GetTransaction() exercises the real decode path.
func envelopeFor(t *testing.T, tx *solana.Transaction) *rpc.TransactionResultEnvelope {
	t.Helper()
	bin, err := tx.MarshalBinary()
	require.NoError(t, err)

	env := new(rpc.TransactionResultEnvelope)
	payload := fmt.Sprintf(`["%s","base64"]`, base64.StdEncoding.EncodeToString(bin))
	require.NoError(t, json.Unmarshal([]byte(payload), env))
	return env
}

// paymentTx builds a transaction whose account table is
// [payer wallet, payer token acct, mint, recipient token acct, token
// program, memo program] with the given instructions.
func paymentTx(t *testing.T, instructions ...solana.CompiledInstruction) *rpc.GetTransactionResult {
	t.Helper()
	tx := &solana.Transaction{
		Signatures: []solana.Signature{{}},
		Message: solana.Message{
			Header: solana.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys: []solana.PublicKey{
				payerWallet,
				payerTokenAcct,
				usdcMint,
				recipTokenAcct,
				solana.TokenProgramID,
				memoProgramIDs[0],
			},
			Instructions: instructions,
		},
	}

	blockTime := solana.UnixTimeSeconds(testNow.Add(-30 * time.Second).Unix())
	return &rpc.GetTransactionResult{
		Slot:        250000000,
		BlockTime:   &blockTime,
		Transaction: envelopeFor(t, tx),
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				{AccountIndex: 1, Mint: usdcMint, Owner: &payerWallet},
				{AccountIndex: 3, Mint: usdcMint, Owner: &recipientWallet},
			},
			PostTokenBalances: []rpc.TokenBalance{
				{AccountIndex: 1, Mint: usdcMint, Owner: &payerWallet},
				{AccountIndex: 3, Mint: usdcMint, Owner: &recipientWallet},
			},
		},
	}
}

func confirmedStatuses(confirmations uint64, status rpc.ConfirmationStatusType) *rpc.GetSignatureStatusesResult {
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{
			{Confirmations: &confirmations, ConfirmationStatus: status},
		},
	}
}

func solanaProof(ref string) *types.PaymentProof {
	return &types.PaymentProof{
		Network:      types.NetworkSolana,
		TxID:         testSolanaSig,
		PayerAddress: payerWallet.String(),
		Timestamp:    testNow.Add(-30 * time.Second).Unix(),
		Reference:    ref,
	}
}

func solanaParams() types.PaymentParams {
	return types.PaymentParams{
		ResourceID: "article-1",
		Recipient:  recipientWallet.String(),
		Amount:     250000,
		Token:      usdcMint.String(),
	}
}

func transferCheckedInstruction(amount uint64) solana.CompiledInstruction {
	return solana.CompiledInstruction{
		ProgramIDIndex: 4,
		Accounts:       []uint16{1, 2, 3},
		Data:           transferCheckedData(amount),
	}
}

func memoInstruction(ref string) solana.CompiledInstruction {
	return solana.CompiledInstruction{
		ProgramIDIndex: 5,
		Data:           []byte(ref),
	}
}

func requireCode(t *testing.T, err error, code types.ErrorCode) *types.VerificationError {
	t.Helper()
	ve, ok := types.AsVerificationError(err)
	require.True(t, ok, "want verification error, got %v", err)
	require.Equal(t, code, ve.Code)
	return ve
}

func TestSolanaVerifyPaymentWithMemo(t *testing.T) {
	ref := reference.Encode("article-1", testNow.Add(-60*time.Second))
	fake := &fakeSolanaRPC{
		tx:       paymentTx(t, transferCheckedInstruction(250000), memoInstruction(ref)),
		statuses: confirmedStatuses(10, rpc.ConfirmationStatusConfirmed),
	}

	payment, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	require.NoError(t, err)
	require.Equal(t, payerWallet.String(), payment.Payer)
	require.Equal(t, recipientWallet.String(), payment.Recipient)
	require.Equal(t, uint64(250000), payment.Amount)
	require.Equal(t, usdcMint.String(), payment.Token)
	require.Equal(t, uint64(10), payment.Confirmations)
	require.Equal(t, ref, payment.Reference)
}

func TestSolanaVerifyPaymentPlainTransfer(t *testing.T) {
	// Legacy Transfer carries no mint account; it is resolved through the
	// token balance records instead.
	inst := solana.CompiledInstruction{
		ProgramIDIndex: 4,
		Accounts:       []uint16{1, 3},
		Data:           transferData(300000),
	}
	fake := &fakeSolanaRPC{
		tx:       paymentTx(t, inst),
		statuses: confirmedStatuses(0, rpc.ConfirmationStatusFinalized),
	}

	ref := reference.Encode("article-1", testNow.Add(-10*time.Second))
	payment, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(ref), solanaParams())
	require.NoError(t, err)
	require.Equal(t, uint64(300000), payment.Amount) // overpayment accepted
}

func TestSolanaTransactionNotFound(t *testing.T) {
	fake := &fakeSolanaRPC{txErr: rpc.ErrNotFound}

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	requireCode(t, err, types.ErrTransactionNotFound)
}

func TestSolanaTransactionFailed(t *testing.T) {
	res := paymentTx(t, transferCheckedInstruction(250000))
	res.Meta.Err = map[string]any{"InstructionError": []any{}}
	fake := &fakeSolanaRPC{tx: res}

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	requireCode(t, err, types.ErrTransactionFailed)
}

func TestSolanaNoMatchingTransfer(t *testing.T) {
	fake := &fakeSolanaRPC{tx: paymentTx(t)}

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	requireCode(t, err, types.ErrNoMatchingTransfer)
}

func TestSolanaWrongRecipient(t *testing.T) {
	fake := &fakeSolanaRPC{tx: paymentTx(t, transferCheckedInstruction(250000))}

	params := solanaParams()
	params.Recipient = solana.NewWallet().PublicKey().String()

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), params)
	requireCode(t, err, types.ErrWrongRecipient)
}

func TestSolanaInsufficientAmount(t *testing.T) {
	// A perfectly valid reference does not rescue an underpayment; the
	// amount check runs first.
	ref := reference.Encode("article-1", testNow.Add(-10*time.Second))
	fake := &fakeSolanaRPC{tx: paymentTx(t, transferCheckedInstruction(100000), memoInstruction(ref))}

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	requireCode(t, err, types.ErrInsufficientAmount)
}

func TestSolanaExpiredMemo(t *testing.T) {
	ref := reference.Encode("article-1", testNow.Add(-700*time.Second))
	fake := &fakeSolanaRPC{tx: paymentTx(t, transferCheckedInstruction(250000), memoInstruction(ref))}

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	requireCode(t, err, types.ErrReferenceExpired)
}

func TestSolanaMemoForOtherResource(t *testing.T) {
	ref := reference.Encode("article-999", testNow.Add(-10*time.Second))
	fake := &fakeSolanaRPC{tx: paymentTx(t, transferCheckedInstruction(250000), memoInstruction(ref))}

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	requireCode(t, err, types.ErrInvalidReference)
}

func TestSolanaNoReferenceOldBlockTimeRejected(t *testing.T) {
	// No memo and no out-of-band reference: the timing check anchors on the
	// on-chain block time, so an old payment fails regardless of the
	// claimed proof timestamp.
	res := paymentTx(t, transferCheckedInstruction(250000))
	old := solana.UnixTimeSeconds(testNow.Add(-700 * time.Second).Unix())
	res.BlockTime = &old
	fake := &fakeSolanaRPC{tx: res}

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	requireCode(t, err, types.ErrReferenceExpired)
}

func TestSolanaNoReferenceRecentBlockTimeAccepted(t *testing.T) {
	fake := &fakeSolanaRPC{
		tx:       paymentTx(t, transferCheckedInstruction(250000)),
		statuses: confirmedStatuses(8, rpc.ConfirmationStatusConfirmed),
	}

	payment, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	require.NoError(t, err)
	require.Equal(t, uint64(250000), payment.Amount)
	require.Empty(t, payment.Reference)
}

func TestSolanaNotConfirmed(t *testing.T) {
	fake := &fakeSolanaRPC{
		tx:       paymentTx(t, transferCheckedInstruction(250000)),
		statuses: confirmedStatuses(1, rpc.ConfirmationStatusProcessed),
	}

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	ve := requireCode(t, err, types.ErrNotConfirmed)
	require.Equal(t, uint64(1), ve.Confirmations)
}

func TestSolanaStatusUnknown(t *testing.T) {
	fake := &fakeSolanaRPC{
		tx:       paymentTx(t, transferCheckedInstruction(250000)),
		statuses: &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}},
	}

	_, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	requireCode(t, err, types.ErrStatusUnknown)
}

func TestSolanaEndpointFallback(t *testing.T) {
	dead := &fakeSolanaRPC{txErr: errors.New("connection refused"), stErr: errors.New("connection refused")}
	live := &fakeSolanaRPC{
		tx:       paymentTx(t, transferCheckedInstruction(250000)),
		statuses: confirmedStatuses(5, rpc.ConfirmationStatusConfirmed),
	}

	payment, err := newTestSolanaClient(dead, live).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	require.NoError(t, err)
	require.Equal(t, uint64(5), payment.Confirmations)
}

func TestSolanaInnerInstructionTransfer(t *testing.T) {
	// Payment routed through an intermediate program surfaces only in the
	// inner instruction list.
	res := paymentTx(t)
	inner := transferCheckedInstruction(250000)
	res.Meta.InnerInstructions = []rpc.InnerInstruction{
		{Index: 0, Instructions: []rpc.CompiledInstruction{{
			ProgramIDIndex: inner.ProgramIDIndex,
			Accounts:       inner.Accounts,
			Data:           inner.Data,
		}}},
	}
	fake := &fakeSolanaRPC{
		tx:       res,
		statuses: confirmedStatuses(3, rpc.ConfirmationStatusConfirmed),
	}

	payment, err := newTestSolanaClient(fake).VerifyPayment(context.Background(), solanaProof(""), solanaParams())
	require.NoError(t, err)
	require.Equal(t, uint64(250000), payment.Amount)
}
