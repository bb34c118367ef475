package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const receiverHex = "0x8814a93b36f6f02ab5579c7da8e543a95436aa25"

var (
	testChainID = big.NewInt(10143)
	oneMON      = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type fakeChain struct {
	nonces   map[common.Address]uint64
	nonceErr error
	txs      map[common.Hash]*types.Transaction
	pending  map[common.Hash]bool
	receipts map[common.Hash]*types.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		nonces:   map[common.Address]uint64{},
		txs:      map[common.Hash]*types.Transaction{},
		pending:  map[common.Hash]bool{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (c *fakeChain) ChainID(context.Context) (*big.Int, error) { return testChainID, nil }

func (c *fakeChain) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	if c.nonceErr != nil {
		return 0, c.nonceErr
	}
	return c.nonces[account], nil
}

func (c *fakeChain) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, c.pending[hash], nil
}

func (c *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// mine signs a transfer from key and records it with the given receipt status.
func (c *fakeChain) mine(t *testing.T, key *ecdsa.PrivateKey, to common.Address, value *big.Int, status uint64) common.Hash {
	t.Helper()
	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   testChainID,
		Nonce:     uint64(len(c.txs)),
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21000,
		To:        &to,
		Value:     value,
	}), types.LatestSignerForChainID(testChainID), key)
	require.NoError(t, err)
	c.txs[tx.Hash()] = tx
	c.receipts[tx.Hash()] = &types.Receipt{Status: status, BlockNumber: big.NewInt(42), TxHash: tx.Hash()}
	return tx.Hash()
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestGateCheck(t *testing.T) {
	chain := newFakeChain()
	active := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	chain.nonces[active] = 3
	gate := NewGate(chain, DefaultMinTransactions, nil)

	got := gate.Check(context.Background(), active.Hex())
	assert.True(t, got.Eligible)
	assert.Equal(t, uint64(3), got.TxCount)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", got.Address)

	fresh := gate.Check(context.Background(), "0x00000000000000000000000000000000000000b2")
	assert.False(t, fresh.Eligible)
	assert.Zero(t, fresh.TxCount)
}

func TestGateReadsFailuresAsZero(t *testing.T) {
	chain := newFakeChain()
	chain.nonceErr = errors.New("rpc down")
	gate := NewGate(chain, 1, nil)

	assert.Zero(t, gate.TransactionCount(context.Background(), "0x00000000000000000000000000000000000000a1"))
	assert.Zero(t, gate.TransactionCount(context.Background(), "not-an-address"))
	assert.False(t, gate.Check(context.Background(), "not-an-address").Eligible)
}

func TestVerifyAcceptsPremiumPayment(t *testing.T) {
	chain := newFakeChain()
	key, from := newKey(t)
	hash := chain.mine(t, key, common.HexToAddress(receiverHex), oneMON, types.ReceiptStatusSuccessful)
	v := NewVerifier(chain, receiverHex, oneMON, nil)

	p, err := v.Verify(context.Background(), from, hash.Hex())
	require.NoError(t, err)
	assert.Equal(t, hash.Hex(), p.TxHash)
	assert.Equal(t, oneMON.String(), p.ValueWei)
	assert.Equal(t, uint64(42), p.BlockNumber)
	assert.Equal(t, common.HexToAddress(from), common.HexToAddress(p.From))
}

func TestVerifyRejections(t *testing.T) {
	chain := newFakeChain()
	key, from := newKey(t)
	_, other := newKey(t)
	receiver := common.HexToAddress(receiverHex)

	reverted := chain.mine(t, key, receiver, oneMON, types.ReceiptStatusFailed)
	cheap := chain.mine(t, key, receiver, big.NewInt(1), types.ReceiptStatusSuccessful)
	elsewhere := chain.mine(t, key, common.HexToAddress("0x00000000000000000000000000000000000000c3"), oneMON, types.ReceiptStatusSuccessful)
	good := chain.mine(t, key, receiver, oneMON, types.ReceiptStatusSuccessful)
	inMempool := chain.mine(t, key, receiver, oneMON, types.ReceiptStatusSuccessful)
	chain.pending[inMempool] = true

	v := NewVerifier(chain, receiverHex, oneMON, nil)
	cases := []struct {
		name    string
		address string
		hash    string
		want    error
	}{
		{"bad address", "0x123", good.Hex(), ErrInvalidAddress},
		{"bad hash", from, "0xdeadbeef", ErrInvalidTxHash},
		{"unknown hash", from, common.HexToHash("0x01").Hex(), ErrPaymentPending},
		{"pending", from, inMempool.Hex(), ErrPaymentPending},
		{"reverted", from, reverted.Hex(), ErrPaymentFailed},
		{"wrong recipient", from, elsewhere.Hex(), ErrWrongRecipient},
		{"too little", from, cheap.Hex(), ErrInsufficientValue},
		{"someone else's payment", other, good.Hex(), ErrSenderMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.address, tc.hash)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerifierTerms(t *testing.T) {
	v := NewVerifier(newFakeChain(), "0x8814A93B36F6F02AB5579C7DA8E543A95436AA25", oneMON, nil)
	assert.Equal(t, receiverHex, v.Receiver())

	price := v.Price()
	assert.Equal(t, 0, price.Cmp(oneMON))
	price.SetInt64(1)
	assert.Equal(t, 0, v.Price().Cmp(oneMON), "Price() must return a copy")
}
