package clients

import (
	"context"
	"errors"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainpress/paygate/logger"
	"github.com/chainpress/paygate/types"
)

// EVMRPC is the slice of the EVM JSON-RPC surface the verifier needs.
// *ethclient.Client satisfies it; tests substitute fakes.
type EVMRPC interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)").
var erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EVMClient verifies ERC-20 payments on Base (or another EVM chain).
// The anti-replay reference is supplied out-of-band with the proof, plain
// or 0x-prefixed; finality is confirmation depth against the chain head.
type EVMClient struct {
	network types.Network
	token   common.Address
	minConf uint64
	rpcs    []EVMRPC
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
}

var _ Verifier = (*EVMClient)(nil)

// NewEVMClient builds an EVM verifier over an ordered fallback list of RPC
// endpoints. HTTP endpoints are dialed lazily by go-ethereum, so a dead
// endpoint only surfaces at call time and falls through to the next one.
func NewEVMClient(cfg types.ClientConfig, log logger.Logger) (*EVMClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(cfg.Token) {
		return nil, errors.New("token contract address is not a valid hex address")
	}

	if log == nil {
		log = logger.NoopLogger{}
	}

	rpcs := make([]EVMRPC, 0, len(cfg.RPCEndpoints))
	for _, endpoint := range cfg.RPCEndpoints {
		cl, err := ethclient.Dial(endpoint)
		if err != nil {
			log.Warn("skipping unreachable evm rpc endpoint", map[string]any{
				"endpoint": endpoint,
				"error":    err.Error(),
			})
			continue
		}
		rpcs = append(rpcs, cl)
	}
	if len(rpcs) == 0 {
		return nil, errors.New("no usable EVM RPC endpoints")
	}

	minConf := cfg.MinConfirmations
	if minConf == 0 {
		minConf = types.DefaultEVMMinConfirmations
	}

	return &EVMClient{
		network: cfg.Network,
		token:   common.HexToAddress(cfg.Token),
		minConf: minConf,
		rpcs:    rpcs,
		timeout: cfg.Timeout,
		log:     log,
		now:     time.Now,
	}, nil
}

func (c *EVMClient) Network() types.Network { return c.network }

func (c *EVMClient) Close() {
	for _, cl := range c.rpcs {
		cl.Close()
	}
}

// VerifyPayment implements the verification pipeline for EVM chains:
// receipt fetch, revert check, Transfer log parsing, recipient and amount
// policy, reference validation, confirmation depth.
func (c *EVMClient) VerifyPayment(ctx context.Context, proof *types.PaymentProof, params types.PaymentParams) (*types.VerifiedPayment, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	receipt, err := c.fetchReceipt(ctx, common.HexToHash(proof.TxID))
	if err != nil {
		return nil, err
	}

	// A reverted transaction still has a receipt, and its logs must not be
	// trusted as transfers.
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return nil, types.NewVerificationError(c.network, types.ErrTransactionFailed,
			"transaction %s reverted", proof.TxID)
	}

	transfers := parseTransferLogs(receipt.Logs, c.token)
	if len(transfers) == 0 {
		return nil, types.NewVerificationError(c.network, types.ErrNoMatchingTransfer,
			"transaction contains no transfers of token %s", c.token.Hex())
	}

	transfer := matchRecipient(transfers, common.HexToAddress(params.Recipient).Hex())
	if transfer == nil {
		return nil, types.NewVerificationError(c.network, types.ErrWrongRecipient,
			"no transfer pays the expected recipient %s", params.Recipient)
	}

	if transfer.Amount < params.Amount {
		return nil, types.NewVerificationError(c.network, types.ErrInsufficientAmount,
			"transfer amount %d is below the required %d", transfer.Amount, params.Amount)
	}

	if err := validateReference(c.network, proof.Reference, params, c.blockTime(ctx, receipt.BlockNumber, proof), c.now()); err != nil {
		return nil, err
	}

	confirmations, err := c.checkConfirmations(ctx, receipt.BlockNumber.Uint64())
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
		BlockHeight:   receipt.BlockNumber.Uint64(),
		Confirmations: confirmations,
		Reference:     proof.Reference,
	}, nil
}

// blockTime reads the transaction's block header timestamp, the chain-side
// anchor for the no-reference timing check. The client-asserted proof
// timestamp is used only when no endpoint can serve the header.
func (c *EVMClient) blockTime(ctx context.Context, blockNumber *big.Int, proof *types.PaymentProof) time.Time {
	for i, cl := range c.rpcs {
		header, err := cl.HeaderByNumber(ctx, blockNumber)
		if err == nil && header != nil {
			return time.Unix(int64(header.Time), 0)
		}
		if err != nil {
			c.log.Warn("evm rpc endpoint failed, trying next", map[string]any{
				"endpoint_index": i,
				"error":          err.Error(),
			})
		}
	}
	return time.Unix(proof.Timestamp, 0)
}

// fetchReceipt walks the fallback endpoint list. ethereum.NotFound is a
// definitive node answer; anything else is a transport problem and the next
// endpoint is tried.
func (c *EVMClient) fetchReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	var lastErr error
	for i, cl := range c.rpcs {
		receipt, err := cl.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if errors.Is(err, ethereum.NotFound) {
			return nil, types.NewVerificationError(c.network, types.ErrTransactionNotFound,
				"transaction %s not found on chain", hash.Hex())
		}
		lastErr = err
		c.log.Warn("evm rpc endpoint failed, trying next", map[string]any{
			"endpoint_index": i,
			"error":          err.Error(),
		})
	}
	return nil, lastErr
}

// checkConfirmations requires the configured depth relative to the current
// head, reporting the achieved count either way.
func (c *EVMClient) checkConfirmations(ctx context.Context, txBlock uint64) (uint64, error) {
	var (
		head    uint64
		ok      bool
		lastErr error
	)
	for i, cl := range c.rpcs {
		h, err := cl.BlockNumber(ctx)
		if err == nil {
			head, ok = h, true
			break
		}
		lastErr = err
		c.log.Warn("evm rpc endpoint failed, trying next", map[string]any{
			"endpoint_index": i,
			"error":          err.Error(),
		})
	}
	if !ok {
		return 0, lastErr
	}

	var confirmations uint64
	if head >= txBlock {
		confirmations = head - txBlock + 1
	}

	if confirmations < c.minConf {
		ve := types.NewVerificationError(c.network, types.ErrInsufficientConfirmations,
			"%d of %d required confirmations", confirmations, c.minConf)
		ve.Confirmations = confirmations
		return confirmations, ve
	}
	return confirmations, nil
}

// parseTransferLogs extracts ERC-20 Transfer events emitted by the expected
// token contract. Logs from other contracts or with other signatures are
// skipped, covering payments routed through splitters or smart wallets
// whose relevant transfer is not the outermost call.
func parseTransferLogs(logs []*ethtypes.Log, token common.Address) []types.TokenTransfer {
	var transfers []types.TokenTransfer
	for _, lg := range logs {
		if lg == nil || lg.Address != token {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != erc20TransferTopic {
			continue
		}

		value := new(big.Int).SetBytes(lg.Data)
		if !value.IsUint64() {
			continue
		}

		transfers = append(transfers, types.TokenTransfer{
			From:   common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			To:     common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			Amount: value.Uint64(),
			Token:  token.Hex(),
		})
	}
	return transfers
}
