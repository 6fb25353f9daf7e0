package types

import "math/big"

// Block is a chain block reduced to what the transfer pipeline needs: its
// position and its full transaction objects.
type Block struct {
	Number       uint64
	Hash         string
	Transactions []*RawTx
}

// RawTx mirrors one transaction object as returned by
// eth_getBlockByNumber(n, true). Addresses and hashes are lowercased hex
// with 0x prefix; To is empty for contract creations.
type RawTx struct {
	Hash        string
	From        string
	To          string
	Value       *big.Int
	Gas         uint64
	GasPrice    *big.Int
	Input       []byte
	BlockNumber uint64
	BlockHash   string
}
