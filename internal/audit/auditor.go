// Package audit anchors transaction decisions on-chain through the AuditLog contract.
package audit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/secureflow/secureflow/internal/policy"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidPrivateKey = errors.New("audit: invalid private key")
	ErrInvalidContract   = errors.New("audit: invalid contract address")
	ErrRPCConnection     = errors.New("audit: RPC connection failed")
	ErrTransactionFailed = errors.New("audit: transaction reverted")
	ErrTimeout           = errors.New("audit: operation timed out")
)

// AuditError wraps audit failures with context
type AuditError struct {
	Op     string // Operation that failed
	TxHash string // On-chain transaction hash if available
	Err    error  // Underlying error
}

func (e *AuditError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("audit: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("audit: %s failed: %v", e.Op, e.Err)
}

func (e *AuditError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Interfaces - for testability and flexibility
// -----------------------------------------------------------------------------

// Recorder anchors a decision for a transaction and returns the receipt.
type Recorder interface {
	RecordAudit(ctx context.Context, transactionID string, decision policy.Decision, riskScore *float64) (*Receipt, error)
}

// EthClient abstracts go-ethereum client for testing
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	Close()
}

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

// AuditLog minimal ABI for logAudit
const auditLogABI = `[
	{"constant":false,"inputs":[{"name":"transactionHash","type":"bytes32"},{"name":"decision","type":"uint8"},{"name":"riskScore","type":"uint256"}],"name":"logAudit","outputs":[],"type":"function"}
]`

const (
	// RiskScoreScale converts a [0,1] score to the contract's integer field.
	// A score of 0.8542 is stored as 8542.
	RiskScoreScale = 10000

	// DefaultGasLimit for logAudit calls
	DefaultGasLimit = uint64(150000)

	// DefaultConfirmationTimeout for waiting on audit transactions
	DefaultConfirmationTimeout = 30 * time.Second

	// ConfirmationPollInterval between receipt checks
	ConfirmationPollInterval = 2 * time.Second
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Config for creating a new auditor
type Config struct {
	RPCURL          string
	PrivateKey      string // Hex string, 0x prefix optional
	ChainID         int64
	ContractAddress string
}

// Option configures the auditor
type Option func(*Auditor)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(a *Auditor) {
		a.client = client
	}
}

// WithPollInterval overrides the receipt poll interval (useful for testing)
func WithPollInterval(d time.Duration) Option {
	return func(a *Auditor) {
		a.pollInterval = d
	}
}

// Receipt contains details of a confirmed audit record
type Receipt struct {
	TxHash          string
	TransactionHash string // keccak256 of the platform transaction ID
	BlockNumber     uint64
	GasUsed         uint64
	Nonce           uint64
	RecordedAt      time.Time
}

// Auditor writes decision records to the AuditLog contract
type Auditor struct {
	client       EthClient
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	contract     common.Address
	abi          abi.ABI
	pollInterval time.Duration
}

// Compile-time interface check
var _ Recorder = (*Auditor)(nil)

// New creates a new Auditor instance
func New(cfg Config, opts ...Option) (*Auditor, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(auditLogABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse AuditLog ABI: %w", err)
	}

	a := &Auditor{
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(*publicKeyECDSA),
		chainID:      big.NewInt(cfg.ChainID),
		contract:     common.HexToAddress(cfg.ContractAddress),
		abi:          parsedABI,
		pollInterval: ConfirmationPollInterval,
	}

	// Apply options
	for _, opt := range opts {
		opt(a)
	}

	// Connect to RPC if no client provided
	if a.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		a.client = client
	}

	return a, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	// Allow both with and without 0x prefix
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if cfg.ContractAddress == "" {
		return fmt.Errorf("%w: contract address required", ErrInvalidContract)
	}
	return nil
}

// Address returns the auditor's signing address
func (a *Auditor) Address() string {
	return a.address.Hex()
}

// TransactionHash returns the bytes32 the contract stores for a platform
// transaction ID: keccak256 of the raw ID string.
func TransactionHash(transactionID string) common.Hash {
	return common.BytesToHash(crypto.Keccak256([]byte(transactionID)))
}

// ScaledScore converts an optional risk score to the contract's uint256
// field. A missing score is stored as zero.
func ScaledScore(riskScore *float64) *big.Int {
	if riskScore == nil {
		return big.NewInt(0)
	}
	return big.NewInt(int64(math.Floor(*riskScore * RiskScoreScale)))
}

// RecordAudit anchors a decision on-chain and waits for the transaction to
// confirm. The receipt is only returned after the record is mined.
func (a *Auditor) RecordAudit(ctx context.Context, transactionID string, decision policy.Decision, riskScore *float64) (*Receipt, error) {
	txHash := TransactionHash(transactionID)

	// Build logAudit calldata
	data, err := a.abi.Pack("logAudit", txHash, decision.Code(), ScaledScore(riskScore))
	if err != nil {
		return nil, &AuditError{Op: "pack", Err: err}
	}

	// Get nonce
	nonce, err := a.client.PendingNonceAt(ctx, a.address)
	if err != nil {
		return nil, &AuditError{Op: "nonce", Err: err}
	}

	// Get gas price
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &AuditError{Op: "gas_price", Err: err}
	}

	// Estimate gas
	gasLimit, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  a.address,
		To:    &a.contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	// Create transaction
	tx := types.NewTransaction(nonce, a.contract, big.NewInt(0), gasLimit, gasPrice, data)

	// Sign transaction
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), a.privateKey)
	if err != nil {
		return nil, &AuditError{Op: "sign", Err: err}
	}

	// Send transaction
	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, &AuditError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}

	receipt, err := a.waitForConfirmation(ctx, signedTx.Hash())
	if err != nil {
		return nil, err
	}

	receipt.TransactionHash = txHash.Hex()
	receipt.Nonce = nonce
	return receipt, nil
}

// Healthy reports whether the RPC endpoint answers with the configured chain.
func (a *Auditor) Healthy(ctx context.Context) bool {
	id, err := a.client.NetworkID(ctx)
	if err != nil {
		return false
	}
	return id.Cmp(a.chainID) == 0
}

// Close closes the client connection
func (a *Auditor) Close() error {
	if a.client != nil {
		a.client.Close()
	}
	return nil
}

// waitForConfirmation polls for a receipt until the transaction is mined or
// ctx expires.
func (a *Auditor) waitForConfirmation(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &AuditError{Op: "confirm", TxHash: hash.Hex(), Err: ErrTimeout}
			}
			return nil, ctx.Err()

		case <-ticker.C:
			receipt, err := a.client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Transaction not yet mined, continue waiting
				continue
			}

			if receipt.Status == 0 {
				return nil, &AuditError{
					Op:     "confirm",
					TxHash: hash.Hex(),
					Err:    ErrTransactionFailed,
				}
			}

			return &Receipt{
				TxHash:      hash.Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				RecordedAt:  time.Now().UTC(),
			}, nil
		}
	}
}
