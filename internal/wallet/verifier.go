package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/logging"
)

var (
	ErrInvalidAddress    = errors.New("invalid wallet address")
	ErrInvalidTxHash     = errors.New("invalid transaction hash")
	ErrPaymentPending    = errors.New("payment transaction not yet confirmed")
	ErrPaymentFailed     = errors.New("payment transaction reverted")
	ErrWrongRecipient    = errors.New("payment sent to the wrong address")
	ErrInsufficientValue = errors.New("payment value below premium price")
	ErrSenderMismatch    = errors.New("payment sent from a different address")
)

// Payment is a confirmed premium purchase.
type Payment struct {
	From        string `json:"from"`
	TxHash      string `json:"tx_hash"`
	ValueWei    string `json:"value_wei"`
	BlockNumber uint64 `json:"block_number"`
}

// Verifier checks that a transaction paid the premium price to the receiver.
type Verifier struct {
	chain    ChainReader
	receiver common.Address
	price    *big.Int
	log      *zap.Logger
}

func NewVerifier(chain ChainReader, receiver string, priceWei *big.Int, log *zap.Logger) *Verifier {
	return &Verifier{
		chain:    chain,
		receiver: common.HexToAddress(receiver),
		price:    new(big.Int).Set(priceWei),
		log:      logging.OrNop(log).Named("wallet"),
	}
}

// Receiver is the address premium payments must be sent to.
func (v *Verifier) Receiver() string { return strings.ToLower(v.receiver.Hex()) }

// Price is the premium price in wei.
func (v *Verifier) Price() *big.Int { return new(big.Int).Set(v.price) }

// Verify confirms txHash is a successful payment of at least the premium
// price from claimedAddress to the receiver.
func (v *Verifier) Verify(ctx context.Context, claimedAddress, txHash string) (Payment, error) {
	claimedAddress = strings.TrimSpace(claimedAddress)
	if !common.IsHexAddress(claimedAddress) {
		return Payment{}, ErrInvalidAddress
	}
	raw, err := hexutil.Decode(strings.TrimSpace(txHash))
	if err != nil || len(raw) != common.HashLength {
		return Payment{}, ErrInvalidTxHash
	}
	hash := common.BytesToHash(raw)

	tx, pending, err := v.chain.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return Payment{}, ErrPaymentPending
	}
	if err != nil {
		return Payment{}, fmt.Errorf("fetch transaction: %w", err)
	}
	if pending {
		return Payment{}, ErrPaymentPending
	}

	receipt, err := v.chain.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return Payment{}, ErrPaymentPending
	}
	if err != nil {
		return Payment{}, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Payment{}, ErrPaymentFailed
	}

	if tx.To() == nil || *tx.To() != v.receiver {
		return Payment{}, ErrWrongRecipient
	}
	if tx.Value().Cmp(v.price) < 0 {
		return Payment{}, ErrInsufficientValue
	}

	chainID, err := v.chain.ChainID(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("fetch chain id: %w", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return Payment{}, fmt.Errorf("recover sender: %w", err)
	}
	if from != common.HexToAddress(claimedAddress) {
		return Payment{}, ErrSenderMismatch
	}

	p := Payment{
		From:     strings.ToLower(from.Hex()),
		TxHash:   hash.Hex(),
		ValueWei: tx.Value().String(),
	}
	if receipt.BlockNumber != nil {
		p.BlockNumber = receipt.BlockNumber.Uint64()
	}
	v.log.Info("premium payment verified", zap.String("from", p.From), zap.String("tx_hash", p.TxHash))
	return p, nil
}
