package wallet

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/logging"
)

// DefaultMinTransactions is the sent-transaction count that unlocks the chat.
const DefaultMinTransactions = 3

// Eligibility is the outcome of the activity check for one address.
type Eligibility struct {
	Address         string `json:"address"`
	TxCount         uint64 `json:"tx_count"`
	MinTransactions uint64 `json:"min_transactions"`
	Eligible        bool   `json:"eligible"`
}

// Gate admits addresses that have sent at least MinTransactions transactions.
type Gate struct {
	chain ChainReader
	min   uint64
	log   *zap.Logger
}

func NewGate(chain ChainReader, minTransactions int, log *zap.Logger) *Gate {
	if minTransactions < 0 {
		minTransactions = DefaultMinTransactions
	}
	return &Gate{
		chain: chain,
		min:   uint64(minTransactions),
		log:   logging.OrNop(log).Named("wallet"),
	}
}

// TransactionCount returns the latest nonce of address. Lookup failures read
// as zero.
func (g *Gate) TransactionCount(ctx context.Context, address string) uint64 {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		g.log.Warn("transaction count for invalid address", zap.String("address", address))
		return 0
	}
	n, err := g.chain.NonceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		g.log.Error("fetch transaction count", zap.String("address", address), zap.Error(err))
		return 0
	}
	return n
}

func (g *Gate) Check(ctx context.Context, address string) Eligibility {
	count := g.TransactionCount(ctx, address)
	return Eligibility{
		Address:         strings.ToLower(strings.TrimSpace(address)),
		TxCount:         count,
		MinTransactions: g.min,
		Eligible:        count >= g.min,
	}
}
