package rpc

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

// wireBlock and wireTx mirror the eth_getBlockByNumber response shape. Only
// the fields the pipeline reads are decoded; everything else in the answer
// is dropped on the floor.
type wireBlock struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	Transactions []*wireTx      `json:"transactions"`
}

type wireTx struct {
	Hash     common.Hash     `json:"hash"`
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Value    *hexutil.Big    `json:"value"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Input    hexutil.Bytes   `json:"input"`
}

func (b *wireBlock) toBlock() *types.Block {
	out := &types.Block{
		Number:       uint64(b.Number),
		Hash:         b.Hash.Hex(),
		Transactions: make([]*types.RawTx, 0, len(b.Transactions)),
	}
	for _, tx := range b.Transactions {
		out.Transactions = append(out.Transactions, tx.toRawTx(out.Number, out.Hash))
	}
	return out
}

func (tx *wireTx) toRawTx(blockNumber uint64, blockHash string) *types.RawTx {
	raw := &types.RawTx{
		Hash:        tx.Hash.Hex(),
		From:        strings.ToLower(tx.From.Hex()),
		Gas:         uint64(tx.Gas),
		Value:       new(big.Int),
		GasPrice:    new(big.Int),
		Input:       tx.Input,
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
	}
	// Address.Hex renders the EIP-55 checksum casing; the pipeline compares
	// addresses lowercased.
	if tx.To != nil {
		raw.To = strings.ToLower(tx.To.Hex())
	}
	if tx.Value != nil {
		raw.Value = (*big.Int)(tx.Value)
	}
	if tx.GasPrice != nil {
		raw.GasPrice = (*big.Int)(tx.GasPrice)
	}
	return raw
}
