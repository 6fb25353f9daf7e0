// Package decode classifies raw transactions into native coin transfers and
// ERC-20 token transfers. Token calldata is decoded tolerantly: nodes and
// relays occasionally serve truncated input, and a short amount word is
// recovered instead of dropped.
package decode

import (
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

// transferSelector is the 4-byte id of transfer(address,uint256).
const transferSelector = "a9059cbb"

const (
	selectorHexLen  = 8
	wordHexLen      = 64
	recipientEndHex = selectorHexLen + wordHexLen
)

// Decoder classifies transactions against one chain's token catalog.
type Decoder struct {
	nativeSymbol string
	tokens       map[string]config.Token
}

// New builds a decoder for the chain's native symbol and known tokens.
func New(chain *config.ChainConfig) *Decoder {
	return &Decoder{
		nativeSymbol: chain.NativeSymbol,
		tokens:       chain.KnownTokens(),
	}
}

// TokenAt reports whether addr is a monitored token contract. The address
// must already be lowercased, as the gateway delivers it.
func (d *Decoder) TokenAt(addr string) (config.Token, bool) {
	tok, ok := d.tokens[addr]
	return tok, ok
}

// Decode classifies one transaction. It returns nil without error for
// transactions that are simply not transfers: contract creations, zero-value
// calls, and token-contract calls other than transfer. An error means the
// transaction claimed to be a token transfer but its calldata could not be
// decoded.
func (d *Decoder) Decode(tx *types.RawTx) (*types.Transfer, error) {
	if tx.To == "" {
		return nil, nil
	}
	if tok, ok := d.tokens[tx.To]; ok {
		return d.decodeTokenTransfer(tx, tok)
	}
	if tx.Value == nil || tx.Value.Sign() <= 0 {
		return nil, nil
	}
	return &types.Transfer{
		TxHash:      tx.Hash,
		BlockNumber: tx.BlockNumber,
		BlockHash:   tx.BlockHash,
		From:        strings.ToLower(tx.From),
		To:          strings.ToLower(tx.To),
		AssetSymbol: d.nativeSymbol,
		AmountRaw:   tx.Value,
		Amount:      types.FormatUnits(tx.Value, types.EtherDecimals),
		IsNative:    true,
		Decimals:    types.EtherDecimals,
		GasLimit:    tx.Gas,
		GasPrice:    tx.GasPrice,
		Fee:         fee(tx),
		FoundAt:     time.Now().UTC(),
	}, nil
}

// decodeTokenTransfer extracts recipient and amount from transfer calldata.
// The recipient sits in the low 20 bytes of the first argument word. The
// amount word may arrive short; its missing low-order digits are treated as
// zeros. A calldata with no amount digits at all is rejected.
func (d *Decoder) decodeTokenTransfer(tx *types.RawTx, tok config.Token) (*types.Transfer, error) {
	data := hex.EncodeToString(tx.Input)
	if len(data) < selectorHexLen || data[:selectorHexLen] != transferSelector {
		return nil, nil
	}
	if len(data) < recipientEndHex {
		return nil, errors.Errorf("transfer calldata too short: %d hex chars", len(data))
	}
	recipientWord := data[selectorHexLen:recipientEndHex]
	recipient := "0x" + strings.ToLower(recipientWord[wordHexLen-40:])
	if !common.IsHexAddress(recipient) {
		return nil, errors.Errorf("malformed transfer recipient %q", recipient)
	}

	amountHex := data[recipientEndHex:]
	if len(amountHex) == 0 {
		return nil, errors.New("transfer calldata missing amount word")
	}
	if len(amountHex) > wordHexLen {
		amountHex = amountHex[:wordHexLen]
	}
	if pad := wordHexLen - len(amountHex); pad > 0 {
		amountHex += strings.Repeat("0", pad)
	}
	amountBytes, err := hex.DecodeString(amountHex)
	if err != nil {
		return nil, errors.Wrap(err, "malformed transfer amount word")
	}
	amount := new(uint256.Int).SetBytes(amountBytes).ToBig()

	return &types.Transfer{
		TxHash:        tx.Hash,
		BlockNumber:   tx.BlockNumber,
		BlockHash:     tx.BlockHash,
		From:          strings.ToLower(tx.From),
		To:            recipient,
		AssetSymbol:   tok.Symbol,
		AmountRaw:     amount,
		Amount:        types.FormatUnits(amount, tok.Decimals),
		TokenContract: tok.Address,
		Decimals:      tok.Decimals,
		GasLimit:      tx.Gas,
		GasPrice:      tx.GasPrice,
		Fee:           fee(tx),
		FoundAt:       time.Now().UTC(),
	}, nil
}

// fee is the upper-bound cost of the transaction: gas limit times gas
// price. The receipt's actual usage is never fetched, one block call per
// height is the whole RPC budget.
func fee(tx *types.RawTx) *big.Int {
	if tx.GasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas), tx.GasPrice)
}
