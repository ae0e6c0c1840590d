package audit

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureflow/secureflow/internal/policy"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
const testContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

type mockEthClient struct {
	nonce      uint64
	nonceErr   error
	gasErr     error
	sendErr    error
	receipt    *types.Receipt
	receiptErr error
	networkID  *big.Int

	sentTx *types.Transaction
}

func (m *mockEthClient) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return m.nonce, m.nonceErr
}

func (m *mockEthClient) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	if m.gasErr != nil {
		return nil, m.gasErr
	}
	return big.NewInt(1_000_000_000), nil
}

func (m *mockEthClient) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (m *mockEthClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sentTx = tx
	return nil
}

func (m *mockEthClient) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	return m.receipt, nil
}

func (m *mockEthClient) NetworkID(_ context.Context) (*big.Int, error) {
	if m.networkID == nil {
		return nil, errors.New("no network")
	}
	return m.networkID, nil
}

func (m *mockEthClient) Close() {}

func newTestAuditor(t *testing.T, client EthClient) *Auditor {
	t.Helper()
	a, err := New(Config{
		RPCURL:          "https://sepolia.base.org",
		PrivateKey:      testKey,
		ChainID:         84532,
		ContractAddress: testContract,
	}, WithClient(client), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	return a
}

func TestTransactionHash(t *testing.T) {
	h1 := TransactionHash("tx_abc123")
	h2 := TransactionHash("tx_abc123")
	h3 := TransactionHash("tx_abc124")

	assert.Equal(t, h1, h2, "same ID must hash identically")
	assert.NotEqual(t, h1, h3, "different IDs must hash differently")
	assert.NotEqual(t, common.Hash{}, h1)
}

func TestScaledScore(t *testing.T) {
	score := func(v float64) *float64 { return &v }

	tests := []struct {
		name  string
		score *float64
		want  int64
	}{
		{"nil score", nil, 0},
		{"zero", score(0), 0},
		{"half", score(0.5), 5000},
		{"quarter", score(0.25), 2500},
		{"max", score(1.0), 10000},
		{"smallest step", score(0.0001), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScaledScore(tt.score)
			assert.Equal(t, 0, big.NewInt(tt.want).Cmp(got), "expected %d, got %s", tt.want, got.String())
		})
	}
}

func TestAuditError(t *testing.T) {
	withHash := &AuditError{Op: "send", TxHash: "0xabc123", Err: errors.New("network error")}
	assert.Contains(t, withHash.Error(), "0xabc123")
	assert.True(t, errors.Is(withHash, withHash.Err))

	withoutHash := &AuditError{Op: "nonce", Err: errors.New("rpc down")}
	assert.Contains(t, withoutHash.Error(), "nonce failed")
}

func TestValidateConfig(t *testing.T) {
	valid := Config{
		RPCURL:          "https://sepolia.base.org",
		PrivateKey:      testKey,
		ChainID:         84532,
		ContractAddress: testContract,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"valid with 0x prefix", func(c *Config) { c.PrivateKey = "0x" + testKey }, false},
		{"missing rpc url", func(c *Config) { c.RPCURL = "" }, true},
		{"missing private key", func(c *Config) { c.PrivateKey = "" }, true},
		{"short private key", func(c *Config) { c.PrivateKey = "tooshort" }, true},
		{"missing chain id", func(c *Config) { c.ChainID = 0 }, true},
		{"missing contract", func(c *Config) { c.ContractAddress = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := validateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecordAudit_Success(t *testing.T) {
	client := &mockEthClient{
		nonce: 7,
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(123456),
			GasUsed:     81_000,
		},
	}
	a := newTestAuditor(t, client)

	score := 0.25
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	receipt, err := a.RecordAudit(ctx, "tx_abc123", policy.DecisionApproved, &score)
	require.NoError(t, err)

	assert.Equal(t, uint64(123456), receipt.BlockNumber)
	assert.Equal(t, uint64(81_000), receipt.GasUsed)
	assert.Equal(t, uint64(7), receipt.Nonce)
	assert.Equal(t, TransactionHash("tx_abc123").Hex(), receipt.TransactionHash)
	assert.False(t, receipt.RecordedAt.IsZero())

	// The signed transaction targets the audit contract with logAudit calldata:
	// 4-byte selector plus three 32-byte arguments.
	require.NotNil(t, client.sentTx)
	assert.Equal(t, common.HexToAddress(testContract), *client.sentTx.To())
	assert.Len(t, client.sentTx.Data(), 4+3*32)
}

func TestRecordAudit_NonceError(t *testing.T) {
	client := &mockEthClient{nonceErr: errors.New("rpc down")}
	a := newTestAuditor(t, client)

	_, err := a.RecordAudit(context.Background(), "tx_abc123", policy.DecisionFlagged, nil)
	require.Error(t, err)

	var auditErr *AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, "nonce", auditErr.Op)
}

func TestRecordAudit_SendError(t *testing.T) {
	client := &mockEthClient{sendErr: errors.New("underpriced")}
	a := newTestAuditor(t, client)

	_, err := a.RecordAudit(context.Background(), "tx_abc123", policy.DecisionRejected, nil)
	require.Error(t, err)

	var auditErr *AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, "send", auditErr.Op)
	assert.NotEmpty(t, auditErr.TxHash)
}

func TestRecordAudit_Reverted(t *testing.T) {
	client := &mockEthClient{
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusFailed,
			BlockNumber: big.NewInt(123456),
		},
	}
	a := newTestAuditor(t, client)

	_, err := a.RecordAudit(context.Background(), "tx_abc123", policy.DecisionRejected, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestRecordAudit_ConfirmationTimeout(t *testing.T) {
	client := &mockEthClient{receiptErr: errors.New("not found")}
	a := newTestAuditor(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.RecordAudit(ctx, "tx_abc123", policy.DecisionFlagged, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHealthy(t *testing.T) {
	matching := &mockEthClient{networkID: big.NewInt(84532)}
	a := newTestAuditor(t, matching)
	assert.True(t, a.Healthy(context.Background()))

	wrongChain := &mockEthClient{networkID: big.NewInt(1)}
	a = newTestAuditor(t, wrongChain)
	assert.False(t, a.Healthy(context.Background()))

	unreachable := &mockEthClient{}
	a = newTestAuditor(t, unreachable)
	assert.False(t, a.Healthy(context.Background()))
}
